package scheduling

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medsched/medsched/internal/platform/db"
)

// Service is the owner-scoped Schedule Store.
type Service struct {
	repo   Repository
	cache  *AvailabilityCache
	clock  Clock
	logger zerolog.Logger
}

func NewService(repo Repository, cache *AvailabilityCache, clock Clock, logger zerolog.Logger) *Service {
	return &Service{repo: repo, cache: cache, clock: clock, logger: logger}
}

// ExistsResult answers whether a doctor already has a schedule on a date.
type ExistsResult struct {
	Exists   bool         `json:"exists"`
	Schedule *DaySchedule `json:"schedule"`
	Date     Date         `json:"date"`
	DoctorID uuid.UUID    `json:"doctorId"`
}

// CreateInput is the body of a create request. IsActive defaults to true.
type CreateInput struct {
	Date      Date       `json:"date"`
	TimeSlots []TimeSlot `json:"timeSlots"`
	IsActive  *bool      `json:"isActive"`
	Notes     *string    `json:"notes"`
}

// UpdateInput carries the fields to change; nil fields are left alone.
type UpdateInput struct {
	TimeSlots *[]TimeSlot `json:"timeSlots"`
	IsActive  *bool       `json:"isActive"`
	Notes     *string     `json:"notes"`
}

func (s *Service) Exists(ctx context.Context, doctorID uuid.UUID, date Date) (*ExistsResult, error) {
	res := &ExistsResult{Date: date, DoctorID: doctorID}
	sched, err := s.repo.GetByDoctorDate(ctx, doctorID, date)
	if errors.Is(err, ErrScheduleNotFound) {
		return res, nil
	}
	if err != nil {
		return nil, err
	}
	res.Exists = true
	res.Schedule = sched
	return res, nil
}

// Create stores a new day. Booking counts in the input are ignored; a new
// day starts with none.
func (s *Service) Create(ctx context.Context, doctorID uuid.UUID, in CreateInput) (*DaySchedule, error) {
	if doctorID == uuid.Nil {
		return nil, fmt.Errorf("%w: doctorId is required", ErrValidation)
	}
	if in.Date.IsZero() {
		return nil, fmt.Errorf("%w: date is required", ErrValidation)
	}
	slots := make([]TimeSlot, len(in.TimeSlots))
	for i, sl := range in.TimeSlots {
		sl.CurrentAppointments = 0
		slots[i] = sl
	}
	slots, err := NormalizeTimeSlots(slots)
	if err != nil {
		return nil, err
	}

	sched := &DaySchedule{
		DoctorID:  doctorID,
		Date:      in.Date,
		TimeSlots: slots,
		IsActive:  true,
		Notes:     in.Notes,
	}
	if in.IsActive != nil {
		sched.IsActive = *in.IsActive
	}
	if err := s.repo.Create(ctx, sched); err != nil {
		return nil, err
	}
	s.invalidate(ctx, sched)
	return sched, nil
}

// mergeSlots applies an edited slot list to the stored one, carrying over
// each slot's booking count by start time. Removing a booked slot or
// lowering capacity below its bookings is a capacity conflict.
func mergeSlots(cur *DaySchedule, edited []TimeSlot) ([]TimeSlot, error) {
	next := make([]TimeSlot, len(edited))
	seen := make(map[ClockTime]bool, len(edited))
	for i, sl := range edited {
		sl.CurrentAppointments = 0
		if old, ok := cur.Slot(sl.StartTime); ok {
			sl.CurrentAppointments = old.CurrentAppointments
			if sl.MaxAppointments >= 1 && sl.MaxAppointments < old.CurrentAppointments {
				return nil, fmt.Errorf("%w: slot %s has %d bookings, maxAppointments %d",
					ErrCapacityConflict, sl.StartTime, old.CurrentAppointments, sl.MaxAppointments)
			}
		}
		seen[sl.StartTime] = true
		next[i] = sl
	}
	for _, old := range cur.TimeSlots {
		if !seen[old.StartTime] && old.CurrentAppointments > 0 {
			return nil, fmt.Errorf("%w: slot %s has %d bookings and cannot be removed",
				ErrCapacityConflict, old.StartTime, old.CurrentAppointments)
		}
	}
	return NormalizeTimeSlots(next)
}

// Update changes an existing day. Only the owning doctor may update it.
func (s *Service) Update(ctx context.Context, doctorID, id uuid.UUID, in UpdateInput) (*DaySchedule, error) {
	updated, err := s.repo.Update(ctx, id, func(cur *DaySchedule) error {
		if cur.DoctorID != doctorID {
			return ErrNotOwner
		}
		if in.TimeSlots != nil {
			slots, err := mergeSlots(cur, *in.TimeSlots)
			if err != nil {
				return err
			}
			cur.TimeSlots = slots
		}
		if in.IsActive != nil {
			cur.IsActive = *in.IsActive
		}
		if in.Notes != nil {
			cur.Notes = in.Notes
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, updated)
	return updated, nil
}

// Delete removes a day. Only the owning doctor may delete it, and not
// while a slot on a date from today onward holds bookings.
func (s *Service) Delete(ctx context.Context, doctorID, id uuid.UUID) error {
	today := s.clock.Today()
	deleted, err := s.repo.Delete(ctx, id, func(cur *DaySchedule) error {
		if cur.DoctorID != doctorID {
			return ErrNotOwner
		}
		if !cur.Date.Before(today) && cur.HasBookings() {
			return ErrHasActiveBookings
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info().Str("schedule_id", id.String()).Str("date", deleted.Date.String()).Msg("schedule deleted")
	s.invalidate(ctx, deleted)
	return nil
}

// ListByDoctor returns every schedule of the doctor, any date and status,
// ordered by date.
func (s *Service) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*DaySchedule, error) {
	return s.repo.ListByDoctor(ctx, doctorID, DateRange{})
}

// ListByDoctorBetween returns the doctor's schedules dated within [from, to].
func (s *Service) ListByDoctorBetween(ctx context.Context, doctorID uuid.UUID, from, to Date) ([]*DaySchedule, error) {
	return s.repo.ListByDoctor(ctx, doctorID, DateRange{From: from, To: to})
}

func (s *Service) invalidate(ctx context.Context, sched *DaySchedule) {
	doctorID, date := sched.DoctorID, sched.Date
	db.AfterCommit(ctx, func(ctx context.Context) {
		s.cache.Invalidate(ctx, doctorID, date)
	})
}
