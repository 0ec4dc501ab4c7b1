// Package market models the regional trading session used to gate jobs.
package market

import "time"

const (
	DefaultOpenMinute  = 9*60 + 15
	DefaultCloseMinute = 15*60 + 30
	DefaultUTCOffset   = 5*3600 + 30*60
)

// IST is the exchange's fixed UTC+05:30 zone. It never observes DST, so a
// fixed zone avoids depending on the host tzdata.
var IST = time.FixedZone("IST", DefaultUTCOffset)

// Window is a daily trading session expressed as minutes after local midnight.
type Window struct {
	Location    *time.Location
	OpenMinute  int
	CloseMinute int
}

// Default returns the 09:15-15:30 IST session.
func Default() Window {
	return Window{Location: IST, OpenMinute: DefaultOpenMinute, CloseMinute: DefaultCloseMinute}
}

func (w Window) loc() *time.Location {
	if w.Location == nil {
		return IST
	}
	return w.Location
}

// Now converts t into the market's zone.
func (w Window) Now(t time.Time) time.Time { return t.In(w.loc()) }

func (w Window) at(now time.Time, minute int) time.Time {
	local := now.In(w.loc())
	y, m, d := local.Date()
	return time.Date(y, m, d, minute/60, minute%60, 0, 0, w.loc())
}

// OpenAt returns today's session open in market time.
func (w Window) OpenAt(now time.Time) time.Time { return w.at(now, w.OpenMinute) }

// CloseAt returns today's session close in market time.
func (w Window) CloseAt(now time.Time) time.Time { return w.at(now, w.CloseMinute) }

// IsOpen reports open <= now < close on a weekday.
func (w Window) IsOpen(now time.Time) bool {
	local := now.In(w.loc())
	if !IsWeekday(local) {
		return false
	}
	return !local.Before(w.OpenAt(now)) && local.Before(w.CloseAt(now))
}

// IsPastClose reports whether now is strictly after today's close.
func (w Window) IsPastClose(now time.Time) bool {
	return now.In(w.loc()).After(w.CloseAt(now))
}

func IsWeekday(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}
