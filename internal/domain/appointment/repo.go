package appointment

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/medsched/medsched/internal/domain/scheduling"
)

// Repository is the appointment ledger. Writes join the transaction in ctx.
type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// Update locks the appointment and persists what apply leaves in it.
	Update(ctx context.Context, id uuid.UUID, apply func(*Appointment) error) (*Appointment, error)
	// List returns one page ordered by date and start time, plus the total.
	List(ctx context.Context, f ListFilter) ([]*Appointment, int, error)
	ListByDoctorBetween(ctx context.Context, doctorID uuid.UUID, from, to scheduling.Date) ([]*Appointment, error)
}

// FeeDirectory looks up a doctor's consultation fee.
type FeeDirectory interface {
	ConsultationFee(ctx context.Context, doctorID uuid.UUID) (fee decimal.Decimal, ok bool, err error)
}
