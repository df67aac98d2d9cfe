package appointment

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/medsched/medsched/internal/domain/scheduling"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no-show"
)

var transitions = map[Status][]Status{
	StatusScheduled: {StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow},
	StatusConfirmed: {StatusCompleted, StatusCancelled, StatusNoShow},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// CanTransition reports whether an appointment may move from s to next.
// Completed, cancelled and no-show are terminal.
func (s Status) CanTransition(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// HoldsSlot reports whether an appointment in this status still occupies
// capacity in its slot.
func (s Status) HoldsSlot() bool {
	return s != StatusCancelled
}

var (
	ErrNotFound          = errors.New("appointment not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrForbidden         = errors.New("not permitted for this appointment")
)

// Appointment is one patient's booking of one slot.
type Appointment struct {
	ID                 uuid.UUID            `json:"id"`
	DoctorID           uuid.UUID            `json:"doctorId"`
	PatientID          uuid.UUID            `json:"patientId"`
	Date               scheduling.Date      `json:"date"`
	StartTime          scheduling.ClockTime `json:"startTime"`
	EndTime            scheduling.ClockTime `json:"endTime"`
	Status             Status               `json:"status"`
	Reason             *string              `json:"reason,omitempty"`
	Notes              *string              `json:"notes,omitempty"`
	ConsultationFee    decimal.Decimal      `json:"consultationFee"`
	CancellationReason *string              `json:"cancellationReason,omitempty"`
	CreatedAt          time.Time            `json:"createdAt"`
	UpdatedAt          time.Time            `json:"updatedAt"`
}

// ListFilter is the closed set of filters for listing appointments.
// Nil fields do not filter.
type ListFilter struct {
	DoctorID  *uuid.UUID
	PatientID *uuid.UUID
	Status    *Status
	From      *scheduling.Date
	To        *scheduling.Date
	Limit     int
	Offset    int
}

const maxListLimit = 100

// Validate checks the filter before it reaches a store.
func (f ListFilter) Validate() error {
	if f.Status != nil && !f.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", scheduling.ErrValidation, *f.Status)
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return fmt.Errorf("%w: to %s is before from %s", scheduling.ErrValidation, f.To, f.From)
	}
	if f.Limit < 1 || f.Limit > maxListLimit {
		return fmt.Errorf("%w: limit must be within 1..%d", scheduling.ErrValidation, maxListLimit)
	}
	if f.Offset < 0 {
		return fmt.Errorf("%w: offset must not be negative", scheduling.ErrValidation)
	}
	return nil
}

func (f ListFilter) matches(a *Appointment) bool {
	switch {
	case f.DoctorID != nil && a.DoctorID != *f.DoctorID:
		return false
	case f.PatientID != nil && a.PatientID != *f.PatientID:
		return false
	case f.Status != nil && a.Status != *f.Status:
		return false
	case f.From != nil && a.Date.Before(*f.From):
		return false
	case f.To != nil && a.Date.After(*f.To):
		return false
	}
	return true
}
