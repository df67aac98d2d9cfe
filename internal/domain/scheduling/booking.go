package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medsched/medsched/internal/platform/db"
)

// ReservationToken records one unit of slot capacity taken for an
// appointment. Its ID becomes the appointment's ID.
type ReservationToken struct {
	ID         uuid.UUID `json:"id"`
	DoctorID   uuid.UUID `json:"doctorId"`
	Date       Date      `json:"date"`
	StartTime  ClockTime `json:"startTime"`
	EndTime    ClockTime `json:"endTime"`
	ReservedAt time.Time `json:"reservedAt"`
}

// Guard keeps every slot's booking count within 0..maxAppointments.
// Run Reserve inside the same db.TxRunner unit of work as the appointment
// write so both commit or neither does.
type Guard struct {
	repo   Repository
	cache  *AvailabilityCache
	logger zerolog.Logger
}

func NewGuard(repo Repository, cache *AvailabilityCache, logger zerolog.Logger) *Guard {
	return &Guard{repo: repo, cache: cache, logger: logger}
}

// Reserve takes one unit of capacity from the slot starting at start.
// It fails with ErrSlotNotFound, ErrSlotUnavailable or ErrSlotFull.
func (g *Guard) Reserve(ctx context.Context, doctorID uuid.UUID, date Date, start ClockTime) (*ReservationToken, error) {
	slot, err := g.repo.ReserveSlot(ctx, doctorID, date, start)
	if err != nil {
		return nil, err
	}
	g.invalidate(ctx, doctorID, date)

	g.logger.Debug().
		Str("doctor_id", doctorID.String()).
		Str("date", date.String()).
		Str("start", start.String()).
		Int("current", slot.CurrentAppointments).
		Int("max", slot.MaxAppointments).
		Msg("slot reserved")

	return &ReservationToken{
		ID:         uuid.New(),
		DoctorID:   doctorID,
		Date:       date,
		StartTime:  slot.StartTime,
		EndTime:    slot.EndTime,
		ReservedAt: time.Now().UTC(),
	}, nil
}

// Release gives one unit of capacity back. A release with no bookings left
// means reserve and release got out of step; it is logged and the count
// stays at zero. A slot that no longer exists (its past day was deleted)
// has nothing to give back, so that is logged and reported as success.
func (g *Guard) Release(ctx context.Context, doctorID uuid.UUID, date Date, start ClockTime) error {
	slot, clamped, err := g.repo.ReleaseSlot(ctx, doctorID, date, start)
	if errors.Is(err, ErrSlotNotFound) {
		g.logger.Warn().
			Str("doctor_id", doctorID.String()).
			Str("date", date.String()).
			Str("start", start.String()).
			Msg("released slot no longer exists, nothing to give back")
		return nil
	}
	if err != nil {
		return err
	}
	if clamped {
		g.logger.Error().
			Str("doctor_id", doctorID.String()).
			Str("date", date.String()).
			Str("start", start.String()).
			Int("max", slot.MaxAppointments).
			Msg("booking count invariant violated: release with no bookings, clamped to 0")
	}
	g.invalidate(ctx, doctorID, date)
	return nil
}

func (g *Guard) invalidate(ctx context.Context, doctorID uuid.UUID, date Date) {
	db.AfterCommit(ctx, func(ctx context.Context) {
		g.cache.Invalidate(ctx, doctorID, date)
	})
}
