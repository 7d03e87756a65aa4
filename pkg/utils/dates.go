package utils

import (
	"strconv"
	"strings"
	"time"
)

// DateParser is one strategy for reading a public date. It returns false when
// the input does not match.
type DateParser func(s string) (time.Time, bool)

var isoLayouts = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"20060102T150405Z07:00",
	"20060102T150405",
	"20060102",
}

// commonLayouts are tried in order after ISO 8601:
// YYYY-MM-DD HH:MM:SS, YYYY-MM-DD, DD-MM-YYYY, MM/DD/YYYY, YYYY/MM/DD,
// DD Mon YYYY, DD Month YYYY.
var commonLayouts = []string{
	"2006-1-2 15:04:05",
	"2006-1-2",
	"2-1-2006",
	"1/2/2006",
	"2006/1/2",
	"2 Jan 2006",
	"2 January 2006",
}

// DateParsers is the ordered strategy list used by ParsePublicDate; the first
// match wins.
var DateParsers = []DateParser{
	parseISO,
	parseLayouts(commonLayouts),
	parseBareYear,
}

// ParsePublicDate reads the loose publicdate values found in archive records.
// Absent, sentinel, empty and unparseable inputs all yield nil. Results are
// in UTC; inputs without an offset are taken as UTC.
func ParsePublicDate(v interface{}) *time.Time {
	if !IsTruthy(v) || IsSentinel(v) {
		return nil
	}
	s := strings.TrimSpace(Stringify(v))
	if s == "" {
		return nil
	}
	for _, parse := range DateParsers {
		if t, ok := parse(s); ok {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func parseISO(s string) (time.Time, bool) {
	if strings.Contains(s, "T") && strings.HasSuffix(s, "Z") {
		s = strings.TrimSuffix(s, "Z") + "+00:00"
	}
	return parseLayouts(isoLayouts)(s)
}

func parseLayouts(layouts []string) DateParser {
	return func(s string) (time.Time, bool) {
		for _, layout := range layouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
		return time.Time{}, false
	}
}

func parseBareYear(s string) (time.Time, bool) {
	if len(s) != 4 {
		return time.Time{}, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return time.Time{}, false
		}
	}
	year, err := strconv.Atoi(s)
	if err != nil || year < 1 {
		return time.Time{}, false
	}
	return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC), true
}
