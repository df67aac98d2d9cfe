package scheduling

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// MinutesPerDay bounds ClockTime; "24:00" is accepted as an end time.
const MinutesPerDay = 24 * 60

// ClockTime is a wall-clock time of day in minutes since midnight,
// written as 24-hour "HH:MM".
type ClockTime int

// ParseClockTime parses "HH:MM". "24:00" parses to MinutesPerDay.
func ParseClockTime(s string) (ClockTime, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, fmt.Errorf("%w: time %q must be HH:MM", ErrValidation, s)
	}
	h, err1 := strconv.Atoi(s[:2])
	m, err2 := strconv.Atoi(s[3:])
	if err1 != nil || err2 != nil || h < 0 || m < 0 || m > 59 {
		return 0, fmt.Errorf("%w: time %q must be HH:MM", ErrValidation, s)
	}
	if h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("%w: time %q is out of range", ErrValidation, s)
	}
	return ClockTime(h*60 + m), nil
}

// MustClockTime is ParseClockTime for literals.
func MustClockTime(s string) ClockTime {
	c, err := ParseClockTime(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

func (c ClockTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *ClockTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("%w: time must be a \"HH:MM\" string", ErrValidation)
	}
	v, err := ParseClockTime(s)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Date is a calendar day, held as midnight UTC.
type Date struct {
	time.Time
}

const dateLayout = "2006-01-02"

// NewDate returns the date with the given year, month and day.
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar day of t in t's own location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

// ParseDate parses "YYYY-MM-DD".
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD", ErrValidation, s)
	}
	return Date{t}, nil
}

func (d Date) String() string {
	return d.Format(dateLayout)
}

func (d Date) AddDays(n int) Date {
	return Date{d.Time.AddDate(0, 0, n)}
}

// At returns the instant of clock time c on d in loc.
func (d Date) At(c ClockTime, loc *time.Location) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), 0, int(c), 0, 0, loc)
}

// Before and After compare calendar days.
func (d Date) Before(o Date) bool { return d.Time.Before(o.Time) }
func (d Date) After(o Date) bool  { return d.Time.After(o.Time) }
func (d Date) Equal(o Date) bool  { return d.Time.Equal(o.Time) }

// DaysUntil returns the number of days from d to o (negative if o is earlier).
func (d Date) DaysUntil(o Date) int {
	return int(o.Time.Sub(d.Time).Hours() / 24)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("%w: date must be a \"YYYY-MM-DD\" string", ErrValidation)
	}
	v, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// TimeSlot is one bookable [StartTime, EndTime) interval of a day.
type TimeSlot struct {
	StartTime           ClockTime `json:"startTime"`
	EndTime             ClockTime `json:"endTime"`
	IsAvailable         bool      `json:"isAvailable"`
	MaxAppointments     int       `json:"maxAppointments"`
	CurrentAppointments int       `json:"currentAppointments"`
}

// Remaining returns the capacity left in the slot.
func (s TimeSlot) Remaining() int {
	if s.CurrentAppointments >= s.MaxAppointments {
		return 0
	}
	return s.MaxAppointments - s.CurrentAppointments
}

// DaySchedule is one doctor's slot configuration for one calendar date.
type DaySchedule struct {
	ID        uuid.UUID  `json:"id"`
	DoctorID  uuid.UUID  `json:"doctorId"`
	Date      Date       `json:"date"`
	TimeSlots []TimeSlot `json:"timeSlots"`
	IsActive  bool       `json:"isActive"`
	Notes     *string    `json:"notes,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Slot returns the slot starting at start.
func (d *DaySchedule) Slot(start ClockTime) (*TimeSlot, bool) {
	for i := range d.TimeSlots {
		if d.TimeSlots[i].StartTime == start {
			return &d.TimeSlots[i], true
		}
	}
	return nil, false
}

// HasBookings reports whether any slot holds at least one booking.
func (d *DaySchedule) HasBookings() bool {
	for _, s := range d.TimeSlots {
		if s.CurrentAppointments > 0 {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (d *DaySchedule) Clone() *DaySchedule {
	out := *d
	out.TimeSlots = append([]TimeSlot(nil), d.TimeSlots...)
	if d.Notes != nil {
		n := *d.Notes
		out.Notes = &n
	}
	return &out
}

// AvailableSlot is a TimeSlot currently offerable for booking.
type AvailableSlot struct {
	DoctorID            uuid.UUID `json:"doctorId"`
	ScheduleID          uuid.UUID `json:"scheduleId"`
	Date                Date      `json:"date"`
	StartTime           ClockTime `json:"startTime"`
	EndTime             ClockTime `json:"endTime"`
	MaxAppointments     int       `json:"maxAppointments"`
	CurrentAppointments int       `json:"currentAppointments"`
	RemainingCapacity   int       `json:"remainingCapacity"`
}

// Offerable projects the schedule to its open slots, ignoring the clock.
// An inactive day yields nothing.
func (d *DaySchedule) Offerable() []AvailableSlot {
	if !d.IsActive {
		return []AvailableSlot{}
	}
	out := make([]AvailableSlot, 0, len(d.TimeSlots))
	for _, s := range d.TimeSlots {
		if !s.IsAvailable || s.CurrentAppointments >= s.MaxAppointments {
			continue
		}
		out = append(out, AvailableSlot{
			DoctorID:            d.DoctorID,
			ScheduleID:          d.ID,
			Date:                d.Date,
			StartTime:           s.StartTime,
			EndTime:             s.EndTime,
			MaxAppointments:     s.MaxAppointments,
			CurrentAppointments: s.CurrentAppointments,
			RemainingCapacity:   s.Remaining(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime < out[j].StartTime })
	return out
}

// NormalizeTimeSlots validates slots and returns a copy ordered by start
// time. Slots must lie within the day, have start < end, positive capacity,
// bookings within capacity, unique start times and no overlaps.
func NormalizeTimeSlots(slots []TimeSlot) ([]TimeSlot, error) {
	out := append([]TimeSlot(nil), slots...)
	for _, s := range out {
		if s.StartTime < 0 || s.StartTime >= MinutesPerDay {
			return nil, fmt.Errorf("%w: startTime %s is out of range", ErrValidation, s.StartTime)
		}
		if s.EndTime <= 0 || s.EndTime > MinutesPerDay {
			return nil, fmt.Errorf("%w: endTime %s is out of range", ErrValidation, s.EndTime)
		}
		if s.StartTime >= s.EndTime {
			return nil, fmt.Errorf("%w: slot %s-%s must start before it ends", ErrValidation, s.StartTime, s.EndTime)
		}
		if s.MaxAppointments < 1 {
			return nil, fmt.Errorf("%w: slot %s maxAppointments must be positive", ErrValidation, s.StartTime)
		}
		if s.CurrentAppointments < 0 || s.CurrentAppointments > s.MaxAppointments {
			return nil, fmt.Errorf("%w: slot %s currentAppointments must be within 0..maxAppointments", ErrValidation, s.StartTime)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].StartTime < out[j].StartTime })
	for i := 1; i < len(out); i++ {
		prev, cur := out[i-1], out[i]
		if cur.StartTime == prev.StartTime {
			return nil, fmt.Errorf("%w: duplicate slot start %s", ErrValidation, cur.StartTime)
		}
		if cur.StartTime < prev.EndTime {
			return nil, fmt.Errorf("%w: slot %s-%s overlaps %s-%s", ErrValidation,
				cur.StartTime, cur.EndTime, prev.StartTime, prev.EndTime)
		}
	}
	return out, nil
}
