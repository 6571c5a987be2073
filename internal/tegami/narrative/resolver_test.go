package narrative_test

import (
	"testing"
	"time"

	"github.com/bdobrica/Tegami/internal/tegami/host"
	"github.com/bdobrica/Tegami/internal/tegami/narrative"
)

var shanghai = time.FixedZone("CST", 8*3600)

func fixedResolver() *narrative.Resolver {
	now := time.Date(2026, 10, 18, 15, 4, 5, 0, shanghai)
	return narrative.NewResolver(shanghai, func() time.Time { return now })
}

func TestResolve_NoCharacterIsRealTime(t *testing.T) {
	r := narrative.NewResolver(shanghai, nil)
	before := time.Now()
	got := r.Resolve(&host.Snapshot{})
	after := time.Now()

	if got.Provenance != narrative.Real {
		t.Fatalf("provenance = %q, want real", got.Provenance)
	}
	if got.EpochMillis < before.Add(-time.Second).UnixMilli() || got.EpochMillis > after.Add(time.Second).UnixMilli() {
		t.Errorf("epoch %d not within 1s of wall clock", got.EpochMillis)
	}
	if r.Resolve(nil).Provenance != narrative.Real {
		t.Error("nil snapshot must resolve to real time")
	}
}

func TestResolve_Deterministic(t *testing.T) {
	r := fixedResolver()
	snap := &host.Snapshot{
		CharacterID: "c1",
		Transcript:  []host.Entry{{Text: "2031年3月5日·上午·星期三·08:05"}},
	}
	if a, b := r.Resolve(snap), r.Resolve(snap); a != b {
		t.Fatalf("Resolve not deterministic: %+v vs %+v", a, b)
	}
}

func TestResolve_MarkerBeatsLore(t *testing.T) {
	r := fixedResolver()
	snap := &host.Snapshot{
		CharacterID: "c1",
		Transcript: []host.Entry{
			{Text: "你好", IsUser: true},
			{Text: "<status>2044年10月28日·晚上·星期一·21:30</status>\n她笑了笑。"},
			{Text: "好的", IsUser: true},
		},
		CharacterBook: []host.BookEntry{{Content: "时代：1999年"}},
	}
	got := r.Resolve(snap)
	if got.Provenance != narrative.Parsed {
		t.Fatalf("provenance = %q, want parsed", got.Provenance)
	}
	if got.Date != "2044年10月28日" || got.Clock != "21:30" || got.Weekday != "星期一" {
		t.Errorf("got %s", got)
	}
	want := time.Date(2044, 10, 28, 21, 30, 0, 0, shanghai).UnixMilli()
	if got.EpochMillis != want {
		t.Errorf("epoch = %d, want %d", got.EpochMillis, want)
	}
}

func TestResolve_SkipsUserEntriesAndMalformedMarkers(t *testing.T) {
	r := fixedResolver()
	snap := &host.Snapshot{
		CharacterID: "c1",
		Transcript: []host.Entry{
			{Text: "2030年5月1日·下午·星期三·14:00"},
			{Text: "2030年2月31日·下午·星期三·14:00"},
			{Text: "2099年1月1日·早上·星期四·07:00", IsUser: true},
		},
	}
	got := r.Resolve(snap)
	if got.Provenance != narrative.Parsed || got.Date != "2030年5月1日" || got.Clock != "14:00" {
		t.Errorf("got %s (%s)", got, got.Provenance)
	}
}

func TestResolve_InferredFromLore(t *testing.T) {
	r := fixedResolver()
	snap := &host.Snapshot{
		CharacterID:   "c1",
		CharacterBook: []host.BookEntry{{Content: "世界观\n时代：1999年"}},
	}
	got := r.Resolve(snap)
	if got.Provenance != narrative.Inferred {
		t.Fatalf("provenance = %q, want inferred", got.Provenance)
	}
	// Month and day come from the real calendar.
	if got.Date != "1999年10月18日" || got.Clock != "09:00" {
		t.Errorf("got %s", got)
	}
	if got.Weekday != "星期一" {
		t.Errorf("weekday = %q, want computed 星期一", got.Weekday)
	}
}

func TestResolve_LedgerBeforeLoreAndMerge(t *testing.T) {
	r := fixedResolver()
	snap := &host.Snapshot{
		CharacterID: "c1",
		MemoryLedger: &host.Ledger{Entries: []host.LedgerEntry{
			{Date: "1888年"},
			{Date: "1890年6月1日"},
		}},
		CharacterBook: []host.BookEntry{{Content: "时间起点：1700年4月2日"}},
	}
	got := r.Resolve(snap)
	// Year from the ledger's earliest entry, month/day from lore.
	if got.Date != "1888年4月2日" || got.Provenance != narrative.Inferred {
		t.Errorf("got %s (%s)", got, got.Provenance)
	}
}

func TestResolve_InferredClampsDay(t *testing.T) {
	now := time.Date(2024, 2, 29, 10, 0, 0, 0, shanghai)
	r := narrative.NewResolver(shanghai, func() time.Time { return now })
	got := r.Resolve(&host.Snapshot{
		CharacterID:   "c1",
		CharacterBook: []host.BookEntry{{Content: "年份: 2023年"}},
	})
	if got.Date != "2023年2月28日" {
		t.Errorf("date = %q, want 2023年2月28日", got.Date)
	}
}

func TestResolve_DefaultWithCharacter(t *testing.T) {
	got := fixedResolver().Resolve(&host.Snapshot{CharacterID: "c1"})
	if got.Provenance != narrative.Default {
		t.Fatalf("provenance = %q, want default", got.Provenance)
	}
	if got.Date != "2026年10月18日" || got.Clock != "09:00" || got.Weekday != "星期日" {
		t.Errorf("got %s", got)
	}
}

func TestTime_AddWrapsHourAndDay(t *testing.T) {
	r := fixedResolver()
	base := r.Resolve(&host.Snapshot{
		CharacterID: "c1",
		Transcript:  []host.Entry{{Text: "2044年10月28日·深夜·星期一·23:59"}},
	})

	next := base.Add(time.Minute)
	if next.Clock != "00:00" || next.Date != "2044年10月29日" {
		t.Errorf("next = %s", next)
	}
	// The fiction's weekday advances with its own calendar.
	if next.Weekday != "星期二" {
		t.Errorf("weekday = %q, want 星期二", next.Weekday)
	}
	if next.EpochMillis <= base.EpochMillis {
		t.Error("Add must move forward")
	}
	if next.Provenance != narrative.Parsed {
		t.Errorf("provenance lost: %q", next.Provenance)
	}
}
