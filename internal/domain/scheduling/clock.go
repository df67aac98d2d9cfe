package scheduling

import "time"

// Clock places slots on the timeline of the clinic's time zone.
type Clock struct {
	Location *time.Location
	Now      func() time.Time
}

// NewClock returns a Clock on the system time in loc.
func NewClock(loc *time.Location) Clock {
	return Clock{Location: loc, Now: time.Now}
}

func (c Clock) loc() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

func (c Clock) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

// Today is the current calendar date in the clinic's time zone.
func (c Clock) Today() Date {
	return DateOf(c.now().In(c.loc()))
}

// SlotStart is the instant a slot starting at t on d begins.
func (c Clock) SlotStart(d Date, t ClockTime) time.Time {
	return d.At(t, c.loc())
}

// IsPast reports whether a slot starting at t on d has already started.
func (c Clock) IsPast(d Date, t ClockTime) bool {
	return !c.SlotStart(d, t).After(c.now())
}
