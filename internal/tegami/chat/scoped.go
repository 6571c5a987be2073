package chat

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/bdobrica/Tegami/internal/tegami/host"
	"github.com/bdobrica/Tegami/internal/tegami/kv"
)

// Scoped is a handle on one scope's record. It stays bound to that scope
// even after the store's active scope changes.
type Scoped struct {
	store *Store
	scope kv.Scope
	snap  *host.Snapshot
}

func (h *Scoped) Scope() kv.Scope { return h.scope }

// Snapshot returns the host snapshot the handle was bound with.
func (h *Scoped) Snapshot() *host.Snapshot { return h.snap }

// Record returns a deep copy of the whole record.
func (h *Scoped) Record(ctx context.Context) (*Record, error) {
	var out *Record
	err := h.store.view(ctx, h, func(r *Record) { out = r.Clone() })
	return out, err
}

func (h *Scoped) Contacts(ctx context.Context) ([]Contact, error) {
	var out []Contact
	err := h.store.view(ctx, h, func(r *Record) { out = slices.Clone(r.Contacts) })
	return out, err
}

// Threads returns the thread list, pinned first then most recent first.
func (h *Scoped) Threads(ctx context.Context) ([]Thread, error) {
	var out []Thread
	err := h.store.view(ctx, h, func(r *Record) { out = sortedThreads(r.Threads) })
	return out, err
}

func (h *Scoped) Thread(ctx context.Context, threadID string) (Thread, error) {
	var (
		out Thread
		ok  bool
	)
	err := h.store.view(ctx, h, func(r *Record) {
		var i int
		if i, ok = r.thread(threadID); ok {
			out = r.Threads[i]
			out.MemberContactIDs = slices.Clone(out.MemberContactIDs)
		}
	})
	if err != nil {
		return Thread{}, err
	}
	if !ok {
		return Thread{}, fmt.Errorf("chat: thread %q: %w", threadID, ErrNotFound)
	}
	return out, nil
}

// Messages returns a thread's messages in append order.
func (h *Scoped) Messages(ctx context.Context, threadID string) ([]Message, error) {
	var (
		out []Message
		ok  bool
	)
	err := h.store.view(ctx, h, func(r *Record) {
		if _, ok = r.thread(threadID); ok {
			out = slices.Clone(r.MessagesByThread[threadID])
		}
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("chat: thread %q: %w", threadID, ErrNotFound)
	}
	return out, nil
}

func (h *Scoped) Moments(ctx context.Context) ([]Moment, error) {
	var out []Moment
	err := h.store.view(ctx, h, func(r *Record) { out = r.Clone().Moments })
	return out, err
}

// ContactSpec describes a contact to add.
type ContactSpec struct {
	Name       string `json:"name"`
	Avatar     string `json:"avatar,omitempty"`
	Relation   string `json:"relation,omitempty"`
	Occupation string `json:"occupation,omitempty"`
}

// AddContact adds a contact. Names are trimmed and must be unique.
func (h *Scoped) AddContact(ctx context.Context, spec ContactSpec) (Contact, error) {
	var out Contact
	err := h.store.mutate(ctx, h, func(r *Record) error {
		c, err := addContact(r, spec)
		out = c
		return err
	})
	return out, err
}

func addContact(r *Record, spec ContactSpec) (Contact, error) {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return Contact{}, ErrEmptyName
	}
	if _, dup := r.contactByName(name); dup {
		return Contact{}, fmt.Errorf("chat: contact %q: %w", name, ErrDuplicateContact)
	}
	avatar := spec.Avatar
	if avatar == "" {
		avatar = "👤"
	}
	c := Contact{
		ID:          uuid.NewString(),
		DisplayName: name,
		Avatar:      avatar,
		IndexLetter: indexLetterFor(name),
		Relation:    spec.Relation,
		Occupation:  spec.Occupation,
	}
	r.Contacts = append(r.Contacts, c)
	return c, nil
}

// DeleteContact removes a contact, its one-to-one threads with their
// messages, and its group memberships.
func (h *Scoped) DeleteContact(ctx context.Context, contactID string) error {
	return h.store.mutate(ctx, h, func(r *Record) error {
		i, ok := r.contact(contactID)
		if !ok {
			return fmt.Errorf("chat: contact %q: %w", contactID, ErrNotFound)
		}
		r.Contacts = slices.Delete(r.Contacts, i, i+1)
		r.Threads = slices.DeleteFunc(r.Threads, func(t Thread) bool {
			if t.Kind == ThreadSingle && t.ContactID == contactID {
				delete(r.MessagesByThread, t.ID)
				return true
			}
			return false
		})
		for i := range r.Threads {
			r.Threads[i].MemberContactIDs = slices.DeleteFunc(r.Threads[i].MemberContactIDs,
				func(id string) bool { return id == contactID })
		}
		return nil
	})
}

// ThreadSpec describes a thread to create. Single threads must name an
// existing contact; the display name defaults to the contact's.
type ThreadSpec struct {
	Name             string     `json:"name"`
	Kind             ThreadKind `json:"kind"`
	Avatar           string     `json:"avatar,omitempty"`
	ContactID        string     `json:"contactId,omitempty"`
	MemberContactIDs []string   `json:"memberContactIds,omitempty"`
}

func (h *Scoped) CreateThread(ctx context.Context, spec ThreadSpec) (Thread, error) {
	var out Thread
	err := h.store.mutate(ctx, h, func(r *Record) error {
		t, err := createThread(r, spec)
		out = t
		return err
	})
	return out, err
}

func createThread(r *Record, spec ThreadSpec) (Thread, error) {
	if spec.Kind == "" {
		spec.Kind = ThreadSingle
	}
	t := Thread{
		ID:               uuid.NewString(),
		DisplayName:      strings.TrimSpace(spec.Name),
		Kind:             spec.Kind,
		Avatar:           spec.Avatar,
		MemberContactIDs: slices.Clone(spec.MemberContactIDs),
	}
	switch spec.Kind {
	case ThreadSingle:
		ci, ok := r.contact(spec.ContactID)
		if !ok {
			return Thread{}, fmt.Errorf("chat: contact %q: %w", spec.ContactID, ErrNotFound)
		}
		c := r.Contacts[ci]
		t.ContactID = c.ID
		t.Occupation = c.Occupation
		if t.DisplayName == "" {
			t.DisplayName = c.DisplayName
		}
		if t.Avatar == "" {
			t.Avatar = c.Avatar
		}
	case ThreadGroup:
		for _, id := range t.MemberContactIDs {
			if _, ok := r.contact(id); !ok {
				return Thread{}, fmt.Errorf("chat: member %q: %w", id, ErrNotFound)
			}
		}
		if t.Avatar == "" {
			t.Avatar = "👥"
		}
	default:
		return Thread{}, fmt.Errorf("chat: thread kind %q: %w", spec.Kind, ErrInvalidKind)
	}
	if t.DisplayName == "" {
		return Thread{}, ErrEmptyName
	}
	r.Threads = append(r.Threads, t)
	r.MessagesByThread[t.ID] = []Message{}
	return t, nil
}

// EnsureThread returns the thread whose display name, or whose contact's
// name, equals name. When none exists a contact and a one-to-one thread
// are created for it.
func (h *Scoped) EnsureThread(ctx context.Context, name string) (Thread, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Thread{}, ErrEmptyName
	}
	var out Thread
	err := h.store.mutate(ctx, h, func(r *Record) error {
		for _, t := range r.Threads {
			if t.DisplayName == name {
				out = t
				return nil
			}
		}
		ci, ok := r.contactByName(name)
		if !ok {
			if _, err := addContact(r, ContactSpec{Name: name}); err != nil {
				return err
			}
			ci = len(r.Contacts) - 1
		}
		contactID := r.Contacts[ci].ID
		for _, t := range r.Threads {
			if t.Kind == ThreadSingle && t.ContactID == contactID {
				out = t
				return nil
			}
		}
		t, err := createThread(r, ThreadSpec{Kind: ThreadSingle, ContactID: contactID})
		out = t
		return err
	})
	return out, err
}

// AppendMessage appends msg to a thread and refreshes the thread's preview.
// An empty kind means text.
func (h *Scoped) AppendMessage(ctx context.Context, threadID string, msg Message) (Message, error) {
	if msg.Kind == "" {
		msg.Kind = KindText
	}
	if !msg.Kind.Valid() {
		return Message{}, fmt.Errorf("chat: message kind %q: %w", msg.Kind, ErrInvalidKind)
	}
	if strings.TrimSpace(msg.Content) == "" {
		return Message{}, ErrEmptyContent
	}
	if msg.Sender == "" {
		msg.Sender = SenderUser
	}
	err := h.store.mutate(ctx, h, func(r *Record) error {
		i, ok := r.thread(threadID)
		if !ok {
			return fmt.Errorf("chat: thread %q: %w", threadID, ErrNotFound)
		}
		r.appendMessage(i, msg)
		return nil
	})
	if err != nil {
		return Message{}, err
	}
	return msg, nil
}

// MarkRead zeroes a thread's unread counter.
func (h *Scoped) MarkRead(ctx context.Context, threadID string) error {
	return h.store.mutate(ctx, h, func(r *Record) error {
		i, ok := r.thread(threadID)
		if !ok {
			return fmt.Errorf("chat: thread %q: %w", threadID, ErrNotFound)
		}
		r.Threads[i].UnreadCount = 0
		return nil
	})
}

// AddMoment posts a moment. The author defaults to the user, and the
// moment goes to the top of the feed.
func (h *Scoped) AddMoment(ctx context.Context, m Moment) (Moment, error) {
	if strings.TrimSpace(m.Text) == "" && len(m.Images) == 0 {
		return Moment{}, ErrEmptyContent
	}
	err := h.store.mutate(ctx, h, func(r *Record) error {
		if m.Author == "" {
			m.Author = r.UserProfile.Name
			m.Avatar = r.UserProfile.Avatar
		}
		m.ID = uuid.NewString()
		m.LikeCount = len(m.LikerNames)
		m.CommentCount = len(m.Comments)
		r.Moments = slices.Insert(r.Moments, 0, m)
		return nil
	})
	if err != nil {
		return Moment{}, err
	}
	return m, nil
}

// ToggleLike flips the user's like on a moment.
func (h *Scoped) ToggleLike(ctx context.Context, momentID string) (Moment, error) {
	var out Moment
	err := h.store.mutate(ctx, h, func(r *Record) error {
		i, ok := r.moment(momentID)
		if !ok {
			return fmt.Errorf("chat: moment %q: %w", momentID, ErrNotFound)
		}
		m := &r.Moments[i]
		me := r.UserProfile.Name
		if m.LikedByUser {
			m.LikedByUser = false
			m.LikerNames = slices.DeleteFunc(m.LikerNames, func(n string) bool { return n == me })
		} else {
			m.LikedByUser = true
			m.LikerNames = append(m.LikerNames, me)
		}
		m.LikeCount = len(m.LikerNames)
		out = *m
		return nil
	})
	return out, err
}

// AddComment appends a comment by author, or by the user when author is
// empty.
func (h *Scoped) AddComment(ctx context.Context, momentID, author, text string) (Moment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Moment{}, ErrEmptyContent
	}
	var out Moment
	err := h.store.mutate(ctx, h, func(r *Record) error {
		i, ok := r.moment(momentID)
		if !ok {
			return fmt.Errorf("chat: moment %q: %w", momentID, ErrNotFound)
		}
		if author == "" {
			author = r.UserProfile.Name
		}
		m := &r.Moments[i]
		m.Comments = append(m.Comments, Comment{Author: author, Text: text})
		m.CommentCount = len(m.Comments)
		out = *m
		return nil
	})
	return out, err
}

// UpdateUserProfile replaces the user profile. The name must not be empty.
func (h *Scoped) UpdateUserProfile(ctx context.Context, p UserProfile) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return ErrEmptyName
	}
	return h.store.mutate(ctx, h, func(r *Record) error {
		if p.WechatID == "" {
			p.WechatID = r.UserProfile.WechatID
		}
		r.UserProfile = p
		return nil
	})
}

func (h *Scoped) AddSticker(ctx context.Context, name, data string) (Sticker, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Sticker{}, ErrEmptyName
	}
	if data == "" {
		return Sticker{}, ErrEmptyContent
	}
	s := Sticker{ID: uuid.NewString(), Name: name, Data: data}
	err := h.store.mutate(ctx, h, func(r *Record) error {
		r.Stickers = append(r.Stickers, s)
		return nil
	})
	if err != nil {
		return Sticker{}, err
	}
	return s, nil
}

func (h *Scoped) RemoveSticker(ctx context.Context, stickerID string) error {
	return h.store.mutate(ctx, h, func(r *Record) error {
		n := len(r.Stickers)
		r.Stickers = slices.DeleteFunc(r.Stickers, func(s Sticker) bool { return s.ID == stickerID })
		if len(r.Stickers) == n {
			return fmt.Errorf("chat: sticker %q: %w", stickerID, ErrNotFound)
		}
		return nil
	})
}

// Clear replaces the record with an empty one. Only the user's name
// survives.
func (h *Scoped) Clear(ctx context.Context) error {
	return h.store.mutate(ctx, h, func(r *Record) error {
		fresh := newRecord()
		fresh.UserProfile = UserProfile{Name: h.snap.UserName()}
		*r = *fresh
		return nil
	})
}

// Save persists the cached record as is.
func (h *Scoped) Save(ctx context.Context) error {
	return h.store.mutate(ctx, h, func(*Record) error { return nil })
}

// Reload drops the cached record and reads it back from the kv layer.
func (h *Scoped) Reload(ctx context.Context) error {
	s := h.store
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, h.scope)
	_, err := s.record(ctx, h.scope, h.snap)
	return err
}
