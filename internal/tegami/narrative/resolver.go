package narrative

import (
	"time"

	"github.com/bdobrica/Tegami/internal/tegami/host"
)

// defaultHour is used whenever the chain has a date but no clock reading.
const defaultHour = 9

// Resolver turns a host snapshot into a narrative Time. It holds no state
// beyond its clock and location; Resolve has no side effects.
type Resolver struct {
	now func() time.Time
	loc *time.Location
}

// NewResolver returns a Resolver rendering times in loc. A nil now uses
// time.Now; a nil loc uses time.Local.
func NewResolver(loc *time.Location, now func() time.Time) *Resolver {
	if loc == nil {
		loc = time.Local
	}
	if now == nil {
		now = time.Now
	}
	return &Resolver{now: now, loc: loc}
}

// Location returns the zone times are rendered in.
func (r *Resolver) Location() *time.Location { return r.loc }

// Resolve walks the priority chain: parsed marker, inferred date, default.
func (r *Resolver) Resolve(snap *host.Snapshot) Time {
	if !snap.HasCharacter() {
		return render(r.now().In(r.loc), Real)
	}
	if t, ok := r.fromTranscript(snap); ok {
		return t
	}
	today := r.now().In(r.loc)
	if d, ok := inferDate(snap); ok {
		month, day := d.month, d.day
		if month == 0 {
			month, day = int(today.Month()), today.Day()
		}
		if day == 0 {
			day = today.Day()
		}
		return render(r.at(d.year, month, day, defaultHour, 0), Inferred)
	}
	return render(r.at(today.Year(), int(today.Month()), today.Day(), defaultHour, 0), Default)
}

// fromTranscript scans newest to oldest for a character-side status marker.
// The marker's weekday wins over the calendar: a story that says 星期一 on
// a date that falls on another day keeps 星期一.
func (r *Resolver) fromTranscript(snap *host.Snapshot) (Time, bool) {
	for i := len(snap.Transcript) - 1; i >= 0; i-- {
		entry := snap.Transcript[i]
		if entry.IsUser {
			continue
		}
		m, ok := ParseMarker(entry.Text)
		if !ok {
			continue
		}
		t := render(time.Date(m.Year, time.Month(m.Month), m.Day, m.Hour, m.Minute, 0, 0, r.loc), Parsed)
		t.Weekday = m.Weekday
		return t, true
	}
	return Time{}, false
}

// at builds a wall-clock time, clamping day to the month's length so an
// inferred 29 February in a common year lands on the 28th.
func (r *Resolver) at(year, month, day, hour, minute int) time.Time {
	last := time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, r.loc).Day()
	day = min(max(day, 1), last)
	return time.Date(year, time.Month(month), day, hour, minute, 0, 0, r.loc)
}
