package chat

import (
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/bdobrica/Tegami/internal/tegami/host"
	"github.com/bdobrica/Tegami/internal/tegami/narrative"
)

// Rand is the random source used for flavor text. Classification and the
// shape of the synthesized roster never depend on it.
type Rand interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// Synthesizer drafts the initial record for a scope never seen before.
type Synthesizer struct {
	cat   *catalogue
	newID func() string

	mu  sync.Mutex // guards rnd; *rand.Rand is not safe for concurrent use
	rnd Rand
}

// NewSynthesizer returns a Synthesizer drawing flavor text from rnd. A nil
// rnd uses the shared math/rand/v2 source.
func NewSynthesizer(rnd Rand) *Synthesizer {
	if rnd == nil {
		rnd = globalRand{}
	}
	return &Synthesizer{cat: defaultCatalogue, rnd: rnd, newID: uuid.NewString}
}

// Classify returns the genre of a character card.
func (s *Synthesizer) Classify(snap *host.Snapshot) Genre {
	return s.cat.classify(snap.CardText())
}

// Synthesize builds a fresh record for snap, stamping seeded messages with
// now. A snapshot without a character yields a generic modern record.
func (s *Synthesizer) Synthesize(snap *host.Snapshot, now narrative.Time) *Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	genre := s.Classify(snap)
	spec := s.cat.Genres[genre]
	card := snap.CardText()

	rec := newRecord()
	rec.Genre = genre
	rec.UserProfile = UserProfile{
		Name:     snap.UserName(),
		Avatar:   "🙂",
		WechatID: "wxid_" + strings.ReplaceAll(s.newID(), "-", "")[:10],
	}

	charName := snap.CharacterName()
	main := Contact{
		ID:          s.newID(),
		DisplayName: charName,
		Avatar:      spec.MainAvatar,
		IndexLetter: indexLetterFor(charName),
		Occupation:  spec.Occupation,
	}
	rec.Contacts = append(rec.Contacts, main)

	type family struct {
		contact Contact
		spec    kinshipSpec
	}
	var relatives []family
	for _, k := range s.cat.Kinship {
		kw, ok := firstKeyword(card, k.Keywords)
		if !ok {
			continue
		}
		c := Contact{
			ID:          s.newID(),
			DisplayName: kw,
			Avatar:      k.Avatar,
			IndexLetter: k.Index,
			Relation:    k.Relation,
		}
		rec.Contacts = append(rec.Contacts, c)
		relatives = append(relatives, family{contact: c, spec: k})
	}

	roster := make([]Contact, 0, len(spec.Roster))
	for _, r := range spec.Roster {
		c := Contact{
			ID:          s.newID(),
			DisplayName: r.Name,
			Avatar:      r.Avatar,
			IndexLetter: r.Index,
			Relation:    r.Role,
		}
		roster = append(roster, c)
		rec.Contacts = append(rec.Contacts, c)
	}

	seed := func(t Thread, sender Contact, text string) {
		rec.Threads = append(rec.Threads, t)
		rec.appendMessage(len(rec.Threads)-1, Message{
			Sender:      sender.DisplayName,
			Content:     text,
			Time:        now.Clock,
			Kind:        KindText,
			Avatar:      sender.Avatar,
			EpochMillis: now.EpochMillis,
			Provenance:  string(now.Provenance),
		})
	}

	seed(Thread{
		ID:          s.newID(),
		DisplayName: main.DisplayName,
		Kind:        ThreadSingle,
		Avatar:      main.Avatar,
		ContactID:   main.ID,
		Occupation:  main.Occupation,
		Pinned:      true,
	}, main, s.pick(spec.Openers.Main))

	for _, f := range relatives {
		if !f.spec.Close {
			continue
		}
		seed(Thread{
			ID:          s.newID(),
			DisplayName: f.contact.DisplayName,
			Kind:        ThreadSingle,
			Avatar:      f.contact.Avatar,
			ContactID:   f.contact.ID,
		}, f.contact, s.pick(f.spec.Openers))
	}

	if len(spec.Openers.Group) > 0 {
		members := []string{main.ID}
		for _, c := range roster {
			members = append(members, c.ID)
		}
		for _, g := range spec.Groups {
			seed(Thread{
				ID:               s.newID(),
				DisplayName:      g.Name,
				Kind:             ThreadGroup,
				Avatar:           g.Avatar,
				MemberContactIDs: members,
			}, roster[0], s.pick(spec.Openers.Group))
		}
	}

	authors := append([]Contact{main}, roster...)
	for i, text := range s.pickDistinct(spec.Moments, 1+s.rnd.IntN(3)) {
		author := authors[i%len(authors)]
		var likers []string
		for _, c := range roster[:s.rnd.IntN(len(roster)+1)] {
			likers = append(likers, c.DisplayName)
		}
		rec.Moments = append(rec.Moments, Moment{
			ID:         s.newID(),
			Author:     author.DisplayName,
			Avatar:     author.Avatar,
			Text:       text,
			Time:       now.Clock,
			LikeCount:  len(likers),
			LikerNames: likers,
		})
	}
	return rec
}

func firstKeyword(text string, keywords []string) (string, bool) {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(text, kw) {
			return kw, true
		}
	}
	return "", false
}

// pick draws one entry with probability proportional to its weight.
// Must be called with mu held.
func (s *Synthesizer) pick(pool []weighted) string {
	total := 0
	for _, w := range pool {
		total += max(w.Weight, 1)
	}
	if total == 0 {
		return ""
	}
	n := s.rnd.IntN(total)
	for _, w := range pool {
		n -= max(w.Weight, 1)
		if n < 0 {
			return w.Text
		}
	}
	return pool[len(pool)-1].Text
}

// pickDistinct draws up to n entries without replacement. Must be called
// with mu held.
func (s *Synthesizer) pickDistinct(pool []weighted, n int) []string {
	rest := append([]weighted(nil), pool...)
	var out []string
	for len(out) < n && len(rest) > 0 {
		text := s.pick(rest)
		out = append(out, text)
		for i := range rest {
			if rest[i].Text == text {
				rest = append(rest[:i], rest[i+1:]...)
				break
			}
		}
	}
	return out
}
