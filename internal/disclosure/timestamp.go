package disclosure

import (
	"strings"
	"time"

	"bsewatch/internal/market"
)

// timeParser is one strategy for reading the feed's date columns.
type timeParser func(s string) (time.Time, bool)

// layout parses s in the exchange zone; offsets in s are honored.
func layout(l string) timeParser {
	return func(s string) (time.Time, bool) {
		t, err := time.ParseInLocation(l, s, market.IST)
		return t, err == nil
	}
}

// isoTruncated drops everything from the first '.' and retries as ISO-8601.
func isoTruncated(s string) (time.Time, bool) {
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	for _, l := range isoLayouts {
		if t, err := time.ParseInLocation(l, s, market.IST); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

var isoLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// timeParsers are tried in order; the first match wins. Time fields accept a
// trailing fraction even when the layout omits it.
var timeParsers = []timeParser{
	layout("2 Jan 2006 3:04:05 PM"),
	layout("2006-01-02 3:04 PM"),
	layout("2006-01-02T15:04:05"),
	isoTruncated,
}

// ParseTimestamp reads a feed timestamp. Naive values are exchange-local;
// the result is always expressed in the exchange zone.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, p := range timeParsers {
		if t, ok := p(s); ok {
			return t.In(market.IST), true
		}
	}
	return time.Time{}, false
}
