// Package narrative resolves the in-fiction clock from a host snapshot.
//
// Resolution is a priority chain: a status marker parsed from the transcript
// wins, then a year inferred from the memory ledger or lore, then a default
// reading of the real calendar. Every path yields a usable Time.
package narrative

import (
	"fmt"
	"time"
)

// Provenance records which tier of the chain produced a Time.
type Provenance string

const (
	Parsed   Provenance = "parsed"
	Inferred Provenance = "inferred"
	Default  Provenance = "default"
	Real     Provenance = "real"
)

// weekdayNames is indexed by time.Weekday.
var weekdayNames = [7]string{"星期日", "星期一", "星期二", "星期三", "星期四", "星期五", "星期六"}

// Time is one reading of the narrative clock. EpochMillis is canonical;
// Clock and Date render it in the resolver's location.
type Time struct {
	Clock       string     `json:"time"`
	Date        string     `json:"date"`
	Weekday     string     `json:"weekday"`
	EpochMillis int64      `json:"epochMillis"`
	Provenance  Provenance `json:"provenance"`

	loc *time.Location
}

func render(t time.Time, p Provenance) Time {
	return Time{
		Clock:       fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute()),
		Date:        fmt.Sprintf("%d年%d月%d日", t.Year(), int(t.Month()), t.Day()),
		Weekday:     weekdayNames[t.Weekday()],
		EpochMillis: t.UnixMilli(),
		Provenance:  p,
		loc:         t.Location(),
	}
}

func (t Time) location() *time.Location {
	if t.loc == nil {
		return time.Local
	}
	return t.loc
}

// Std returns the reading as a time.Time in the resolver's location.
func (t Time) Std() time.Time {
	return time.UnixMilli(t.EpochMillis).In(t.location())
}

// Add advances the reading by d. The weekday moves with the calendar, so a
// fiction whose weekday disagrees with the real calendar stays consistent
// with itself.
func (t Time) Add(d time.Duration) Time {
	before := t.Std()
	after := before.Add(d)
	out := render(after, t.Provenance)
	if idx, ok := weekdayIndex(t.Weekday); ok {
		shift := (idx + civilDaysBetween(before, after)) % 7
		if shift < 0 {
			shift += 7
		}
		out.Weekday = weekdayNames[shift]
	}
	return out
}

// String renders "2044年10月28日 星期一 21:30".
func (t Time) String() string {
	return t.Date + " " + t.Weekday + " " + t.Clock
}

func civilDaysBetween(a, b time.Time) int {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

func weekdayIndex(name string) (int, bool) {
	for i, n := range weekdayNames {
		if n == name {
			return i, true
		}
	}
	return 0, false
}
