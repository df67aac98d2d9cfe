package scheduling

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestParseClockTime(t *testing.T) {
	tests := []struct {
		in      string
		want    ClockTime
		wantErr bool
	}{
		{"00:00", 0, false},
		{"09:30", 570, false},
		{"23:59", 1439, false},
		{"24:00", 1440, false},
		{"24:01", 0, true},
		{"25:00", 0, true},
		{"9:30", 0, true},
		{"09:60", 0, true},
		{"0930", 0, true},
		{"ab:cd", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseClockTime(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Errorf("expected ErrValidation, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
			if got.String() != tt.in {
				t.Errorf("expected String() %s, got %s", tt.in, got.String())
			}
		})
	}
}

func TestTimeSlotJSON(t *testing.T) {
	var sl TimeSlot
	body := `{"startTime":"09:00","endTime":"09:30","isAvailable":true,"maxAppointments":2,"currentAppointments":1}`
	if err := json.Unmarshal([]byte(body), &sl); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if sl.StartTime != 540 || sl.EndTime != 570 || !sl.IsAvailable || sl.MaxAppointments != 2 {
		t.Errorf("unexpected slot %+v", sl)
	}
	out, _ := json.Marshal(sl)
	if string(out) != body {
		t.Errorf("expected %s, got %s", body, out)
	}

	if err := json.Unmarshal([]byte(`{"startTime":540}`), &sl); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for numeric time, got %v", err)
	}
}

func TestDate(t *testing.T) {
	d, err := ParseDate("2024-06-01")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.String() != "2024-06-01" {
		t.Errorf("expected 2024-06-01, got %s", d)
	}
	if got := d.AddDays(30).String(); got != "2024-07-01" {
		t.Errorf("expected 2024-07-01, got %s", got)
	}
	if d.DaysUntil(d.AddDays(6)) != 6 {
		t.Errorf("expected 6 days")
	}
	if !d.Before(d.AddDays(1)) || d.After(d.AddDays(1)) || !d.Equal(NewDate(2024, time.June, 1)) {
		t.Error("date comparison is wrong")
	}

	loc := time.FixedZone("UTC+3", 3*3600)
	at := d.At(MustClockTime("09:15"), loc)
	if at.Hour() != 9 || at.Minute() != 15 || at.Location() != loc {
		t.Errorf("unexpected At result %v", at)
	}
	if DateOf(time.Date(2024, 6, 1, 23, 30, 0, 0, loc)).String() != "2024-06-01" {
		t.Error("DateOf must use the time's own location")
	}

	if _, err := ParseDate("06/01/2024"); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}

	var decoded struct {
		Date Date `json:"date"`
	}
	if err := json.Unmarshal([]byte(`{"date":"2024-02-29"}`), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Date.String() != "2024-02-29" {
		t.Errorf("expected 2024-02-29, got %s", decoded.Date)
	}
}

func slot(start, end string, max int) TimeSlot {
	return TimeSlot{
		StartTime:       MustClockTime(start),
		EndTime:         MustClockTime(end),
		IsAvailable:     true,
		MaxAppointments: max,
	}
}

func TestNormalizeTimeSlots_SortsByStart(t *testing.T) {
	got, err := NormalizeTimeSlots([]TimeSlot{
		slot("11:00", "12:00", 1),
		slot("09:00", "10:00", 1),
		slot("10:00", "11:00", 1),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, want := range []string{"09:00", "10:00", "11:00"} {
		if got[i].StartTime.String() != want {
			t.Errorf("slot %d: expected %s, got %s", i, want, got[i].StartTime)
		}
	}
}

func TestNormalizeTimeSlots_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		slots []TimeSlot
	}{
		{"start after end", []TimeSlot{slot("10:00", "09:00", 1)}},
		{"empty interval", []TimeSlot{slot("10:00", "10:00", 1)}},
		{"zero capacity", []TimeSlot{slot("09:00", "10:00", 0)}},
		{"negative capacity", []TimeSlot{slot("09:00", "10:00", -1)}},
		{"duplicate start", []TimeSlot{slot("09:00", "10:00", 1), slot("09:00", "09:30", 1)}},
		{"overlap", []TimeSlot{slot("09:00", "10:00", 1), slot("09:30", "10:30", 1)}},
		{"contained", []TimeSlot{slot("09:00", "12:00", 1), slot("10:00", "11:00", 1)}},
		{"start at midnight end", []TimeSlot{{StartTime: 1440, EndTime: 1440, MaxAppointments: 1}}},
		{"bookings over capacity", []TimeSlot{{StartTime: 540, EndTime: 600, MaxAppointments: 1, CurrentAppointments: 2}}},
		{"negative bookings", []TimeSlot{{StartTime: 540, EndTime: 600, MaxAppointments: 1, CurrentAppointments: -1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NormalizeTimeSlots(tt.slots); !errors.Is(err, ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestNormalizeTimeSlots_AdjacentAllowed(t *testing.T) {
	_, err := NormalizeTimeSlots([]TimeSlot{slot("09:00", "10:00", 1), slot("10:00", "11:00", 1), slot("23:00", "24:00", 1)})
	if err != nil {
		t.Errorf("adjacent half-open slots must not overlap: %v", err)
	}
}

func TestOfferable(t *testing.T) {
	full := slot("10:00", "11:00", 2)
	full.CurrentAppointments = 2
	closed := slot("11:00", "12:00", 4)
	closed.IsAvailable = false
	partly := slot("09:00", "10:00", 3)
	partly.CurrentAppointments = 1

	sched := &DaySchedule{
		ID:        uuid.New(),
		DoctorID:  uuid.New(),
		Date:      NewDate(2024, time.June, 1),
		IsActive:  true,
		TimeSlots: []TimeSlot{slot("12:00", "13:00", 1), full, closed, partly},
	}

	got := sched.Offerable()
	if len(got) != 2 {
		t.Fatalf("expected 2 offerable slots, got %d: %+v", len(got), got)
	}
	if got[0].StartTime.String() != "09:00" || got[1].StartTime.String() != "12:00" {
		t.Errorf("expected ascending 09:00, 12:00, got %s, %s", got[0].StartTime, got[1].StartTime)
	}
	if got[0].RemainingCapacity != 2 {
		t.Errorf("expected remaining 2, got %d", got[0].RemainingCapacity)
	}

	sched.IsActive = false
	if got := sched.Offerable(); len(got) != 0 {
		t.Errorf("inactive day must offer nothing, got %d", len(got))
	}
}

func TestClock_IsPast(t *testing.T) {
	loc := time.FixedZone("clinic", 2*3600)
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, loc)
	c := Clock{Location: loc, Now: func() time.Time { return now }}

	d := NewDate(2024, time.June, 1)
	if !c.IsPast(d, MustClockTime("08:59")) {
		t.Error("08:59 should be past")
	}
	if !c.IsPast(d, MustClockTime("09:00")) {
		t.Error("a slot starting now should be past")
	}
	if c.IsPast(d, MustClockTime("09:01")) {
		t.Error("09:01 should not be past")
	}
	if c.Today().String() != "2024-06-01" {
		t.Errorf("expected today 2024-06-01, got %s", c.Today())
	}

	late := Clock{Location: loc, Now: func() time.Time { return time.Date(2024, 6, 1, 23, 0, 0, 0, time.UTC) }}
	if late.Today().String() != "2024-06-02" {
		t.Errorf("today must follow the clinic time zone, got %s", late.Today())
	}
}
