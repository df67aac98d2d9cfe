package appointment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/medsched/medsched/internal/domain/scheduling"
	"github.com/medsched/medsched/internal/platform/auth"
	"github.com/medsched/medsched/internal/platform/db"
)

// Actor is the caller an operation runs on behalf of.
type Actor struct {
	ID    uuid.UUID
	Roles []string
}

func (a Actor) has(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// staff may act on any appointment.
func (a Actor) staff() bool {
	return a.has(auth.RoleAdmin) || a.has(auth.RoleReceptionist)
}

func (a Actor) canSee(appt *Appointment) bool {
	return a.staff() || appt.DoctorID == a.ID || appt.PatientID == a.ID
}

// BookRequest asks for one appointment in the slot starting at StartTime.
type BookRequest struct {
	DoctorID  uuid.UUID
	PatientID uuid.UUID
	Date      scheduling.Date
	StartTime scheduling.ClockTime
	Reason    *string
	Notes     *string
}

// Service is the appointment ledger. Booking and cancelling move slot
// capacity through the scheduling Guard in the same unit of work as the
// ledger write.
type Service struct {
	repo       Repository
	guard      *scheduling.Guard
	tx         db.TxRunner
	fees       FeeDirectory
	defaultFee decimal.Decimal
	clock      scheduling.Clock
	logger     zerolog.Logger
}

func NewService(repo Repository, guard *scheduling.Guard, tx db.TxRunner, fees FeeDirectory, defaultFee decimal.Decimal, clock scheduling.Clock, logger zerolog.Logger) *Service {
	return &Service{
		repo:       repo,
		guard:      guard,
		tx:         tx,
		fees:       fees,
		defaultFee: defaultFee,
		clock:      clock,
		logger:     logger,
	}
}

func (s *Service) fee(ctx context.Context, doctorID uuid.UUID) (decimal.Decimal, error) {
	if s.fees == nil {
		return s.defaultFee, nil
	}
	fee, ok, err := s.fees.ConsultationFee(ctx, doctorID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("look up consultation fee: %w", err)
	}
	if !ok {
		return s.defaultFee, nil
	}
	return fee, nil
}

// Book reserves capacity and records the appointment. Either both happen
// or neither does.
func (s *Service) Book(ctx context.Context, actor Actor, req BookRequest) (*Appointment, error) {
	if req.PatientID == uuid.Nil && actor.has(auth.RolePatient) {
		req.PatientID = actor.ID
	}
	if req.DoctorID == uuid.Nil {
		return nil, fmt.Errorf("%w: doctorId is required", scheduling.ErrValidation)
	}
	if req.PatientID == uuid.Nil {
		return nil, fmt.Errorf("%w: patientId is required", scheduling.ErrValidation)
	}
	if req.Date.IsZero() {
		return nil, fmt.Errorf("%w: date is required", scheduling.ErrValidation)
	}
	if !actor.staff() && req.PatientID != actor.ID {
		return nil, fmt.Errorf("%w: patients may only book for themselves", ErrForbidden)
	}
	if s.clock.IsPast(req.Date, req.StartTime) {
		return nil, fmt.Errorf("%w: slot %s %s has already started", scheduling.ErrSlotUnavailable, req.Date, req.StartTime)
	}

	fee, err := s.fee(ctx, req.DoctorID)
	if err != nil {
		return nil, err
	}

	appt := &Appointment{
		DoctorID:        req.DoctorID,
		PatientID:       req.PatientID,
		Date:            req.Date,
		StartTime:       req.StartTime,
		Status:          StatusScheduled,
		Reason:          req.Reason,
		Notes:           req.Notes,
		ConsultationFee: fee,
	}
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		token, err := s.guard.Reserve(ctx, req.DoctorID, req.Date, req.StartTime)
		if err != nil {
			return err
		}
		appt.ID = token.ID
		appt.EndTime = token.EndTime
		return s.repo.Create(ctx, appt)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("appointment_id", appt.ID.String()).
		Str("doctor_id", appt.DoctorID.String()).
		Str("date", appt.Date.String()).
		Str("start", appt.StartTime.String()).
		Msg("appointment booked")
	return appt, nil
}

func (s *Service) Get(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.canSee(appt) {
		// Hide existence from callers who may not see it.
		return nil, ErrNotFound
	}
	return appt, nil
}

// ChangeStatus moves an appointment along its lifecycle. Cancelling gives
// the slot capacity back inside the same unit of work.
func (s *Service) ChangeStatus(ctx context.Context, actor Actor, id uuid.UUID, to Status, reason *string) (*Appointment, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", scheduling.ErrValidation, to)
	}

	var out *Appointment
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var from Status
		updated, err := s.repo.Update(ctx, id, func(a *Appointment) error {
			if !actor.canSee(a) {
				return ErrNotFound
			}
			if err := authorizeTransition(actor, a, to); err != nil {
				return err
			}
			if !a.Status.CanTransition(to) {
				return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, to)
			}
			from = a.Status
			a.Status = to
			if to == StatusCancelled {
				a.CancellationReason = reason
			}
			return nil
		})
		if err != nil {
			return err
		}
		if from.HoldsSlot() && !to.HoldsSlot() {
			if err := s.guard.Release(ctx, updated.DoctorID, updated.Date, updated.StartTime); err != nil {
				return fmt.Errorf("release slot: %w", err)
			}
		}
		out = updated
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("appointment_id", out.ID.String()).
		Str("status", string(out.Status)).
		Msg("appointment status changed")
	return out, nil
}

// authorizeTransition limits patients to cancelling their own bookings and
// doctors to their own appointments.
func authorizeTransition(actor Actor, a *Appointment, to Status) error {
	switch {
	case actor.staff():
		return nil
	case actor.has(auth.RoleDoctor) && a.DoctorID == actor.ID:
		return nil
	case actor.has(auth.RolePatient) && a.PatientID == actor.ID:
		if to != StatusCancelled {
			return fmt.Errorf("%w: patients may only cancel", ErrForbidden)
		}
		return nil
	}
	return ErrForbidden
}

// List returns one page of appointments the actor may see. Non-staff
// callers are scoped to their own appointments whatever the filter says.
func (s *Service) List(ctx context.Context, actor Actor, f ListFilter) ([]*Appointment, int, error) {
	if !actor.staff() {
		switch {
		case actor.has(auth.RoleDoctor):
			f.DoctorID = &actor.ID
		case actor.has(auth.RolePatient):
			f.PatientID = &actor.ID
		default:
			return nil, 0, ErrForbidden
		}
	}
	if err := f.Validate(); err != nil {
		return nil, 0, err
	}
	return s.repo.List(ctx, f)
}

// ListByDoctorBetween feeds analytics; it applies no visibility rules.
func (s *Service) ListByDoctorBetween(ctx context.Context, doctorID uuid.UUID, from, to scheduling.Date) ([]*Appointment, error) {
	return s.repo.ListByDoctorBetween(ctx, doctorID, from, to)
}
