// Package chat owns Tegami's conversation records: one per (character,
// session) scope, holding contacts, threads, messages, moments and stickers.
// Records are loaded lazily from the kv layer, synthesized on first sight
// of a scope, and persisted whole after every mutation.
package chat

import (
	"slices"
	"sort"
	"strings"
	"unicode"
)

// SenderUser marks messages written by the user.
const SenderUser = "user"

// MessageKind is the payload type of a message.
type MessageKind string

const (
	KindText      MessageKind = "text"
	KindImage     MessageKind = "image"
	KindVoice     MessageKind = "voice"
	KindTransfer  MessageKind = "transfer"
	KindRedPacket MessageKind = "redpacket"
)

// Valid reports whether k is a known kind.
func (k MessageKind) Valid() bool {
	switch k {
	case KindText, KindImage, KindVoice, KindTransfer, KindRedPacket:
		return true
	}
	return false
}

// ThreadKind distinguishes one-to-one threads from group threads.
type ThreadKind string

const (
	ThreadSingle ThreadKind = "single"
	ThreadGroup  ThreadKind = "group"
)

// Record is everything stored for one scope.
type Record struct {
	Genre            Genre                `json:"genre,omitempty"`
	UserProfile      UserProfile          `json:"userProfile"`
	Contacts         []Contact            `json:"contacts"`
	Threads          []Thread             `json:"threads"`
	MessagesByThread map[string][]Message `json:"messagesByThread"`
	Moments          []Moment             `json:"moments"`
	Stickers         []Sticker            `json:"stickers"`
}

type UserProfile struct {
	Name      string `json:"name"`
	Avatar    string `json:"avatar,omitempty"`
	Signature string `json:"signature,omitempty"`
	WechatID  string `json:"wechatId,omitempty"`
}

type Contact struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar,omitempty"`
	IndexLetter string `json:"indexLetter"`
	Relation    string `json:"relation,omitempty"`
	Occupation  string `json:"occupation,omitempty"`
}

// Thread is a conversation list entry. LastMessagePreview, LastMessageTime
// and LastMessageAt are derived from the newest message and only written
// by the append path.
type Thread struct {
	ID                 string     `json:"id"`
	DisplayName        string     `json:"displayName"`
	Kind               ThreadKind `json:"kind"`
	Avatar             string     `json:"avatar,omitempty"`
	ContactID          string     `json:"contactId,omitempty"`
	MemberContactIDs   []string   `json:"memberContactIds,omitempty"`
	Occupation         string     `json:"occupation,omitempty"`
	Pinned             bool       `json:"pinned,omitempty"`
	LastMessagePreview string     `json:"lastMessagePreview,omitempty"`
	LastMessageTime    string     `json:"lastMessageTime,omitempty"`
	LastMessageAt      int64      `json:"lastMessageAt,omitempty"`
	UnreadCount        int        `json:"unreadCount"`
}

// Message is immutable once appended. Time is the narrative clock reading
// ("HH:MM") or a relative marker such as "刚刚".
type Message struct {
	Sender      string      `json:"sender"`
	Content     string      `json:"content"`
	Time        string      `json:"time"`
	Kind        MessageKind `json:"kind"`
	Avatar      string      `json:"avatar,omitempty"`
	EpochMillis int64       `json:"epochMillis,omitempty"`
	Provenance  string      `json:"provenance,omitempty"`
}

type Comment struct {
	Author string `json:"author"`
	Text   string `json:"text"`
}

type Moment struct {
	ID           string    `json:"id"`
	Author       string    `json:"author"`
	Avatar       string    `json:"avatar,omitempty"`
	Text         string    `json:"text"`
	Images       []string  `json:"images,omitempty"`
	Time         string    `json:"time,omitempty"`
	LikeCount    int       `json:"likeCount"`
	CommentCount int       `json:"commentCount"`
	LikedByUser  bool      `json:"likedByUser"`
	LikerNames   []string  `json:"likerNames,omitempty"`
	Comments     []Comment `json:"comments,omitempty"`
}

// Sticker data is an opaque embeddable image payload.
type Sticker struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Data string `json:"data"`
}

func newRecord() *Record {
	return &Record{
		Contacts:         []Contact{},
		Threads:          []Thread{},
		MessagesByThread: map[string][]Message{},
		Moments:          []Moment{},
		Stickers:         []Sticker{},
	}
}

// normalize fills nil collections left by older or hand-edited payloads.
func (r *Record) normalize() {
	if r.Contacts == nil {
		r.Contacts = []Contact{}
	}
	if r.Threads == nil {
		r.Threads = []Thread{}
	}
	if r.MessagesByThread == nil {
		r.MessagesByThread = map[string][]Message{}
	}
	if r.Moments == nil {
		r.Moments = []Moment{}
	}
	if r.Stickers == nil {
		r.Stickers = []Sticker{}
	}
}

// Clone returns a deep copy safe to hand outside the store.
func (r *Record) Clone() *Record {
	out := *r
	out.Contacts = slices.Clone(r.Contacts)
	out.Threads = make([]Thread, len(r.Threads))
	for i, t := range r.Threads {
		t.MemberContactIDs = slices.Clone(t.MemberContactIDs)
		out.Threads[i] = t
	}
	out.MessagesByThread = make(map[string][]Message, len(r.MessagesByThread))
	for id, msgs := range r.MessagesByThread {
		out.MessagesByThread[id] = slices.Clone(msgs)
	}
	out.Moments = make([]Moment, len(r.Moments))
	for i, m := range r.Moments {
		m.Images = slices.Clone(m.Images)
		m.LikerNames = slices.Clone(m.LikerNames)
		m.Comments = slices.Clone(m.Comments)
		out.Moments[i] = m
	}
	out.Stickers = slices.Clone(r.Stickers)
	return &out
}

func (r *Record) contact(id string) (int, bool) {
	for i := range r.Contacts {
		if r.Contacts[i].ID == id {
			return i, true
		}
	}
	return -1, false
}

func (r *Record) contactByName(name string) (int, bool) {
	for i := range r.Contacts {
		if r.Contacts[i].DisplayName == name {
			return i, true
		}
	}
	return -1, false
}

func (r *Record) thread(id string) (int, bool) {
	for i := range r.Threads {
		if r.Threads[i].ID == id {
			return i, true
		}
	}
	return -1, false
}

func (r *Record) moment(id string) (int, bool) {
	for i := range r.Moments {
		if r.Moments[i].ID == id {
			return i, true
		}
	}
	return -1, false
}

// appendMessage stores msg and refreshes the owning thread's projection.
func (r *Record) appendMessage(threadIdx int, msg Message) {
	t := &r.Threads[threadIdx]
	r.MessagesByThread[t.ID] = append(r.MessagesByThread[t.ID], msg)
	t.LastMessagePreview = preview(msg)
	t.LastMessageTime = msg.Time
	if msg.EpochMillis != 0 {
		t.LastMessageAt = msg.EpochMillis
	}
	if msg.Sender != SenderUser {
		t.UnreadCount++
	}
}

// sortedThreads orders pinned threads first, then newest activity first.
func sortedThreads(threads []Thread) []Thread {
	out := slices.Clone(threads)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Pinned != out[j].Pinned {
			return out[i].Pinned
		}
		return out[i].LastMessageAt > out[j].LastMessageAt
	})
	return out
}

const previewLimit = 30

func preview(m Message) string {
	switch m.Kind {
	case KindImage:
		return "[图片]"
	case KindVoice:
		return "[语音]"
	case KindTransfer:
		return "[转账]"
	case KindRedPacket:
		return "[红包]"
	}
	runes := []rune(strings.TrimSpace(m.Content))
	if len(runes) > previewLimit {
		return string(runes[:previewLimit]) + "…"
	}
	return string(runes)
}

// indexLetterFor returns the contact-list section for name: the upper-cased
// first Latin letter, or "#" for anything else.
func indexLetterFor(name string) string {
	for _, r := range strings.TrimSpace(name) {
		if r < unicode.MaxASCII && unicode.IsLetter(r) {
			return strings.ToUpper(string(r))
		}
		break
	}
	return "#"
}
