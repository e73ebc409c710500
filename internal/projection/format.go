// Package projection derives the channel-list view of the engine state:
// message time labels, preview text, channel titles and unread badges.
package projection

import (
	"strings"
	"time"
)

// Today is the day key of messages sent on the current calendar day.
const Today = "TODAY"

const (
	timeOfDayLayout = "15:04"
	sameYearLayout  = "Jan 2"
	otherYearLayout = "Jan 2, 2006"
)

// Formatter renders message timestamps relative to a clock.
type Formatter struct {
	Now      func() time.Time
	Location *time.Location
}

// NewFormatter returns a formatter on the wall clock in loc (local time when
// nil).
func NewFormatter(loc *time.Location) Formatter {
	if loc == nil {
		loc = time.Local
	}
	return Formatter{Now: time.Now, Location: loc}
}

func (f Formatter) now() time.Time {
	if f.Now == nil {
		return time.Now().In(f.location())
	}
	return f.Now().In(f.location())
}

func (f Formatter) location() *time.Location {
	if f.Location == nil {
		return time.Local
	}
	return f.Location
}

// MessageTime returns the label shown next to a message: a time of day for
// messages from today, a date otherwise.
func (f Formatter) MessageTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	now := f.now()
	local := t.In(f.location())
	switch {
	case sameDay(local, now):
		return local.Format(timeOfDayLayout)
	case local.Year() == now.Year():
		return local.Format(sameYearLayout)
	default:
		return local.Format(otherYearLayout)
	}
}

// DayKey groups messages by calendar day. Labels carrying a time of day
// collapse to Today.
func (f Formatter) DayKey(t time.Time) string {
	label := f.MessageTime(t)
	if strings.Contains(label, ":") {
		return Today
	}
	return label
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
