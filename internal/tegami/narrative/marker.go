package narrative

import (
	"regexp"
	"strconv"
	"time"
)

// Marker is a status line such as "2044年10月28日·晚上·星期一·21:30".
type Marker struct {
	Year, Month, Day int
	Period           string
	Weekday          string
	Hour, Minute     int
}

var markerPattern = regexp.MustCompile(
	`(\d{4})年(\d{1,2})月(\d{1,2})日\s*[·・]\s*([^·・\s]+)\s*[·・]\s*([^·・\s]+)\s*[·・]\s*(\d{1,2})[:：](\d{2})`)

// weekdayAliases maps accepted weekday spellings to time.Weekday.
var weekdayAliases = map[string]time.Weekday{
	"星期日": time.Sunday, "星期天": time.Sunday, "周日": time.Sunday, "周天": time.Sunday,
	"星期一": time.Monday, "周一": time.Monday,
	"星期二": time.Tuesday, "周二": time.Tuesday,
	"星期三": time.Wednesday, "周三": time.Wednesday,
	"星期四": time.Thursday, "周四": time.Thursday,
	"星期五": time.Friday, "周五": time.Friday,
	"星期六": time.Saturday, "周六": time.Saturday,
}

// ParseMarker returns the last well-formed status marker in text. Markers
// with impossible dates, clock values or weekday names are ignored.
func ParseMarker(text string) (Marker, bool) {
	matches := markerPattern.FindAllStringSubmatch(text, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		if m, ok := markerFromMatch(matches[i]); ok {
			return m, true
		}
	}
	return Marker{}, false
}

func markerFromMatch(g []string) (Marker, bool) {
	year, _ := strconv.Atoi(g[1])
	month, _ := strconv.Atoi(g[2])
	day, _ := strconv.Atoi(g[3])
	hour, _ := strconv.Atoi(g[6])
	minute, _ := strconv.Atoi(g[7])

	if !validDate(year, month, day) || hour > 23 || minute > 59 {
		return Marker{}, false
	}
	wd, ok := weekdayAliases[g[5]]
	if !ok {
		return Marker{}, false
	}
	return Marker{
		Year: year, Month: month, Day: day,
		Period:  g[4],
		Weekday: weekdayNames[wd],
		Hour:    hour, Minute: minute,
	}, true
}

func validDate(year, month, day int) bool {
	if year < 1 || month < 1 || month > 12 || day < 1 {
		return false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return t.Day() == day && int(t.Month()) == month
}
