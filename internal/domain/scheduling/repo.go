package scheduling

import (
	"context"

	"github.com/google/uuid"
)

// DateRange bounds a listing; a zero From or To leaves that side open.
type DateRange struct {
	From Date
	To   Date
}

// Contains reports whether d falls within the range.
func (r DateRange) Contains(d Date) bool {
	if !r.From.IsZero() && d.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && d.After(r.To) {
		return false
	}
	return true
}

// Repository persists DaySchedules keyed uniquely by (doctor, date).
//
// Update and Delete load the schedule under a write lock and hand it to the
// callback, so checks against booking counts cannot race with ReserveSlot.
// ReserveSlot and ReleaseSlot are single atomic operations; they join the
// transaction carried by ctx when there is one.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*DaySchedule, error)
	GetByDoctorDate(ctx context.Context, doctorID uuid.UUID, date Date) (*DaySchedule, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, r DateRange) ([]*DaySchedule, error)
	Create(ctx context.Context, s *DaySchedule) error
	Update(ctx context.Context, id uuid.UUID, apply func(*DaySchedule) error) (*DaySchedule, error)
	Delete(ctx context.Context, id uuid.UUID, check func(*DaySchedule) error) (*DaySchedule, error)

	// ReserveSlot increments the slot's booking count if the day is active,
	// the slot is available and below capacity.
	ReserveSlot(ctx context.Context, doctorID uuid.UUID, date Date, start ClockTime) (*TimeSlot, error)
	// ReleaseSlot decrements the slot's booking count. clamped is true when
	// the count was already zero and was left there.
	ReleaseSlot(ctx context.Context, doctorID uuid.UUID, date Date, start ClockTime) (slot *TimeSlot, clamped bool, err error)
}
