package chat

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/bdobrica/Tegami/internal/tegami/host"
	"github.com/bdobrica/Tegami/internal/tegami/narrative"
)

func fixedTime(t *testing.T) narrative.Time {
	t.Helper()
	loc := time.FixedZone("CST", 8*3600)
	now := time.Date(2026, 10, 18, 15, 4, 5, 0, loc)
	return narrative.NewResolver(loc, func() time.Time { return now }).Resolve(&host.Snapshot{CharacterID: "c"})
}

func testSynth() *Synthesizer {
	return NewSynthesizer(rand.New(rand.NewPCG(1, 2)))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		card host.Character
		want Genre
	}{
		{"school", host.Character{Description: "她是我的同学", Scenario: "教室里"}, School},
		{"work", host.Character{Description: "公司里的同事"}, Work},
		{"historical", host.Character{Scenario: "江湖之中，侠客横行"}, Historical},
		{"fantasy", host.Character{Personality: "热爱魔法的精灵"}, Fantasy},
		{"modern fallback", host.Character{Description: "普通人"}, Modern},
		{"school beats work", host.Character{Description: "老师下班后去公司"}, School},
	}
	s := testSynth()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Classify(&host.Snapshot{CharacterID: "c", Character: tt.card})
			if got != tt.want {
				t.Errorf("Classify = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClassify_NoCharacter(t *testing.T) {
	if got := testSynth().Classify(nil); got != Modern {
		t.Errorf("Classify(nil) = %q, want %q", got, Modern)
	}
}

func TestSynthesize_SchoolCharacter(t *testing.T) {
	snap := &host.Snapshot{
		CharacterID: "c1",
		Name1:       "小明",
		Name2:       "樱",
		Character:   host.Character{Description: "同学", Scenario: "教室"},
	}
	now := fixedTime(t)
	rec := testSynth().Synthesize(snap, now)

	if rec.Genre != School {
		t.Fatalf("Genre = %q, want %q", rec.Genre, School)
	}
	if rec.UserProfile.Name != "小明" {
		t.Errorf("user name = %q", rec.UserProfile.Name)
	}

	main := rec.Threads[0]
	if !main.Pinned || main.DisplayName != "樱" {
		t.Fatalf("main thread = %+v, want pinned thread for 樱", main)
	}
	if main.Occupation != "学生" {
		t.Errorf("main occupation = %q, want 学生", main.Occupation)
	}

	// main character plus a 3-5 strong roster, no relatives
	if n := len(rec.Contacts); n < 4 || n > 6 {
		t.Errorf("contacts = %d, want 4..6", n)
	}
	groups := 0
	for _, th := range rec.Threads {
		msgs := rec.MessagesByThread[th.ID]
		if len(msgs) != 1 {
			t.Errorf("thread %s seeded with %d messages, want 1", th.DisplayName, len(msgs))
			continue
		}
		if msgs[0].Time != now.Clock || msgs[0].EpochMillis != now.EpochMillis {
			t.Errorf("seed message stamped %s/%d, want %s/%d", msgs[0].Time, msgs[0].EpochMillis, now.Clock, now.EpochMillis)
		}
		if th.UnreadCount != 1 {
			t.Errorf("thread %s unread = %d, want 1", th.DisplayName, th.UnreadCount)
		}
		if th.Kind == ThreadGroup {
			groups++
		}
	}
	if groups > 2 {
		t.Errorf("group threads = %d, want at most 2", groups)
	}
	if n := len(rec.Moments); n < 1 || n > 3 {
		t.Errorf("moments = %d, want 1..3", n)
	}
	for _, m := range rec.Moments {
		if m.LikeCount != len(m.LikerNames) {
			t.Errorf("moment %s: likeCount %d != %d likers", m.ID, m.LikeCount, len(m.LikerNames))
		}
	}
}

func TestSynthesize_Kinship(t *testing.T) {
	snap := &host.Snapshot{
		CharacterID: "c1",
		Name2:       "阿杰",
		Character:   host.Character{Description: "他有一个妹妹，妈妈在家做饭"},
	}
	rec := testSynth().Synthesize(snap, fixedTime(t))

	relations := map[string]Contact{}
	for _, c := range rec.Contacts {
		if c.Relation != "" {
			relations[c.DisplayName] = c
		}
	}
	if _, ok := relations["妹妹"]; !ok {
		t.Errorf("expected a 妹妹 contact, got %v", relations)
	}
	mother, ok := relations["妈妈"]
	if !ok {
		t.Fatalf("expected a 妈妈 contact, got %v", relations)
	}

	var motherThread, sisterThread bool
	for _, th := range rec.Threads {
		switch th.DisplayName {
		case "妈妈":
			motherThread = th.ContactID == mother.ID
		case "妹妹":
			sisterThread = true
		}
	}
	if !motherThread {
		t.Error("parents get their own thread")
	}
	if sisterThread {
		t.Error("siblings are contacts only")
	}
}

func TestSynthesize_NoCharacter(t *testing.T) {
	rec := testSynth().Synthesize(nil, fixedTime(t))
	if rec.Genre != Modern {
		t.Errorf("Genre = %q, want %q", rec.Genre, Modern)
	}
	if rec.UserProfile.Name != "我" || rec.Threads[0].DisplayName != "TA" {
		t.Errorf("defaults not applied: user=%q main=%q", rec.UserProfile.Name, rec.Threads[0].DisplayName)
	}
}

func TestParseCatalogue_RejectsShortRoster(t *testing.T) {
	doc := []byte(`
priority: []
fallback: modern
genres:
  modern:
    occupation: x
    roster:
      - {name: a, index: A}
    openers:
      main: [{text: hi}]
    moments: [{text: m}]
`)
	if _, err := parseCatalogue(doc); err == nil {
		t.Fatal("expected roster size error")
	}
}
