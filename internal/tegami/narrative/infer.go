package narrative

import (
	"regexp"
	"strconv"

	"github.com/bdobrica/Tegami/internal/tegami/host"
)

// partialDate is what a source could tell us; zero fields are unknown.
type partialDate struct {
	year, month, day int
}

func (p partialDate) before(o partialDate) bool {
	if p.year != o.year {
		return p.year < o.year
	}
	if p.month != o.month {
		return p.month < o.month
	}
	return p.day < o.day
}

var (
	ledgerDatePattern = regexp.MustCompile(`(\d{4})\s*(?:年|[-/.])\s*(?:(\d{1,2})\s*(?:月|[-/.])\s*(?:(\d{1,2})\s*日?)?)?`)
	loreYearPattern   = regexp.MustCompile(`(?:时代|年份|时间起点)[:：]\s*(\d{4})年(?:(\d{1,2})月)?(?:(\d{1,2})日)?`)
)

func atoiOrZero(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func dateFromGroups(year, month, day string) partialDate {
	p := partialDate{year: atoiOrZero(year), month: atoiOrZero(month), day: atoiOrZero(day)}
	if p.month < 1 || p.month > 12 {
		p.month, p.day = 0, 0
	}
	if p.day < 0 || p.day > 31 {
		p.day = 0
	}
	return p
}

// ledgerDate returns the earliest date recorded in the memory ledger.
func ledgerDate(l *host.Ledger) (partialDate, bool) {
	if l == nil {
		return partialDate{}, false
	}
	var earliest partialDate
	found := false
	for _, e := range l.Entries {
		g := ledgerDatePattern.FindStringSubmatch(e.Date)
		if g == nil {
			continue
		}
		d := dateFromGroups(g[1], g[2], g[3])
		if d.year == 0 {
			continue
		}
		if !found || d.before(earliest) {
			earliest, found = d, true
		}
	}
	return earliest, found
}

// loreDate returns the first era/year declaration found in the lore entries.
func loreDate(entries []host.BookEntry) (partialDate, bool) {
	for _, e := range entries {
		if g := loreYearPattern.FindStringSubmatch(e.Content); g != nil {
			return dateFromGroups(g[1], g[2], g[3]), true
		}
	}
	return partialDate{}, false
}

// inferDate merges the ledger and lore sources in that order: the year
// comes from the first source that has one, month and day from the first
// source that has a month.
func inferDate(snap *host.Snapshot) (partialDate, bool) {
	var sources []partialDate
	if d, ok := ledgerDate(snap.MemoryLedger); ok {
		sources = append(sources, d)
	}
	if d, ok := loreDate(snap.CharacterBook); ok {
		sources = append(sources, d)
	}
	var merged partialDate
	for _, s := range sources {
		if merged.year == 0 && s.year != 0 {
			merged.year = s.year
		}
		if merged.month == 0 && s.month != 0 {
			merged.month, merged.day = s.month, s.day
		}
	}
	return merged, merged.year != 0
}
