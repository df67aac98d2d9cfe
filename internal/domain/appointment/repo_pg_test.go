package appointment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/medsched/medsched/internal/domain/scheduling"
	"github.com/medsched/medsched/internal/platform/auth"
	"github.com/medsched/medsched/internal/platform/cache"
	"github.com/medsched/medsched/internal/platform/db"
	"github.com/medsched/medsched/internal/platform/db/dbtest"
)

type pgFixture struct {
	pool      *pgxpool.Pool
	schedules scheduling.Repository
	ledger    Repository
	svc       *Service
	doctor    uuid.UUID
	patient   uuid.UUID
}

func newPGFixture(t *testing.T, capacity int, wrap func(Repository) Repository) *pgFixture {
	t.Helper()
	pool := dbtest.Pool(t)
	f := &pgFixture{
		pool:      pool,
		schedules: scheduling.NewRepoPG(pool),
		ledger:    NewRepoPG(pool),
		doctor:    uuid.New(),
		patient:   uuid.New(),
	}
	ledger := f.ledger
	if wrap != nil {
		ledger = wrap(ledger)
	}
	ac := scheduling.NewAvailabilityCache(cache.NewMemoryStore(), time.Minute, time.Hour, zerolog.Nop())
	guard := scheduling.NewGuard(f.schedules, ac, zerolog.Nop())
	clock := scheduling.Clock{Location: time.UTC, Now: func() time.Time { return testNow }}
	f.svc = NewService(ledger, guard, db.NewPoolTx(pool), NewFeeDirectoryPG(pool), decimal.NewFromInt(30), clock, zerolog.Nop())

	err := f.schedules.Create(context.Background(), &scheduling.DaySchedule{
		DoctorID: f.doctor,
		Date:     bookingDate,
		IsActive: true,
		TimeSlots: []scheduling.TimeSlot{{
			StartTime:       nine,
			EndTime:         scheduling.MustClockTime("09:30"),
			IsAvailable:     true,
			MaxAppointments: capacity,
		}},
	})
	if err != nil {
		t.Fatalf("seed schedule: %v", err)
	}
	return f
}

func (f *pgFixture) booked(t *testing.T) int {
	t.Helper()
	sched, err := f.schedules.GetByDoctorDate(context.Background(), f.doctor, bookingDate)
	if err != nil {
		t.Fatalf("get schedule: %v", err)
	}
	sl, _ := sched.Slot(nine)
	return sl.CurrentAppointments
}

func (f *pgFixture) patientActor() Actor {
	return Actor{ID: f.patient, Roles: []string{auth.RolePatient}}
}

func TestRepoPG_BookAndCancel(t *testing.T) {
	f := newPGFixture(t, 2, nil)
	ctx := context.Background()
	reason := "checkup"

	appt, err := f.svc.Book(ctx, f.patientActor(), BookRequest{DoctorID: f.doctor, Date: bookingDate, StartTime: nine, Reason: &reason})
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	stored, err := f.ledger.GetByID(ctx, appt.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != StatusScheduled || stored.EndTime.String() != "09:30" || stored.Reason == nil || *stored.Reason != reason {
		t.Errorf("unexpected stored appointment %+v", stored)
	}
	if !stored.ConsultationFee.Equal(decimal.NewFromInt(30)) {
		t.Errorf("expected default fee 30, got %s", stored.ConsultationFee)
	}
	if got := f.booked(t); got != 1 {
		t.Errorf("expected 1 booking, got %d", got)
	}

	if _, err := f.svc.ChangeStatus(ctx, f.patientActor(), appt.ID, StatusCancelled, nil); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := f.booked(t); got != 0 {
		t.Errorf("expected capacity released, got %d", got)
	}
}

// The reservation is made inside the same Postgres transaction as the
// ledger insert, so a failed insert leaves the slot untouched.
func TestRepoPG_BookRolledBack(t *testing.T) {
	f := newPGFixture(t, 1, func(r Repository) Repository { return failingCreate{r} })

	_, err := f.svc.Book(context.Background(), f.patientActor(), BookRequest{DoctorID: f.doctor, Date: bookingDate, StartTime: nine})
	if err == nil {
		t.Fatal("expected the ledger failure")
	}
	if got := f.booked(t); got != 0 {
		t.Errorf("expected the reservation rolled back, got %d bookings", got)
	}
}

func TestRepoPG_BookFullSlot(t *testing.T) {
	f := newPGFixture(t, 1, nil)
	ctx := context.Background()
	if _, err := f.svc.Book(ctx, f.patientActor(), BookRequest{DoctorID: f.doctor, Date: bookingDate, StartTime: nine}); err != nil {
		t.Fatalf("book: %v", err)
	}
	other := Actor{ID: uuid.New(), Roles: []string{auth.RolePatient}}
	if _, err := f.svc.Book(ctx, other, BookRequest{DoctorID: f.doctor, Date: bookingDate, StartTime: nine}); !errors.Is(err, scheduling.ErrSlotFull) {
		t.Errorf("expected ErrSlotFull, got %v", err)
	}
	if got := f.booked(t); got != 1 {
		t.Errorf("expected 1 booking, got %d", got)
	}
}

func TestRepoPG_ListFilters(t *testing.T) {
	f := newPGFixture(t, 4, nil)
	ctx := context.Background()
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		appt, err := f.svc.Book(ctx, f.patientActor(), BookRequest{DoctorID: f.doctor, Date: bookingDate, StartTime: nine})
		if err != nil {
			t.Fatalf("book %d: %v", i, err)
		}
		ids = append(ids, appt.ID)
	}
	if _, err := f.svc.ChangeStatus(ctx, f.patientActor(), ids[0], StatusCancelled, nil); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	page, total, err := f.ledger.List(ctx, ListFilter{DoctorID: &f.doctor, Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 3 || len(page) != 2 {
		t.Errorf("expected a page of 2 out of 3, got %d of %d", len(page), total)
	}

	cancelled := StatusCancelled
	items, total, err := f.ledger.List(ctx, ListFilter{DoctorID: &f.doctor, Status: &cancelled, Limit: 10})
	if err != nil {
		t.Fatalf("list cancelled: %v", err)
	}
	if total != 1 || len(items) != 1 || items[0].ID != ids[0] {
		t.Errorf("expected only the cancelled appointment, got %d items (total %d)", len(items), total)
	}

	later := bookingDate.AddDays(1)
	items, total, err = f.ledger.List(ctx, ListFilter{PatientID: &f.patient, From: &later, Limit: 10})
	if err != nil {
		t.Fatalf("list from: %v", err)
	}
	if total != 0 || len(items) != 0 {
		t.Errorf("expected nothing after %s, got %d", later, total)
	}

	between, err := f.ledger.ListByDoctorBetween(ctx, f.doctor, bookingDate, bookingDate)
	if err != nil {
		t.Fatalf("between: %v", err)
	}
	if len(between) != 3 {
		t.Errorf("expected 3 appointments on the day, got %d", len(between))
	}
}

func TestRepoPG_FeeDirectory(t *testing.T) {
	pool := dbtest.Pool(t)
	ctx := context.Background()
	fees := NewFeeDirectoryPG(pool)
	doctor := uuid.New()

	if _, ok, err := fees.ConsultationFee(ctx, doctor); err != nil || ok {
		t.Fatalf("expected no profile, got ok=%v err=%v", ok, err)
	}
	if _, err := pool.Exec(ctx, `INSERT INTO doctor_profile (doctor_id, consultation_fee) VALUES ($1, $2)`, doctor, "45.50"); err != nil {
		t.Fatalf("insert profile: %v", err)
	}
	fee, ok, err := fees.ConsultationFee(ctx, doctor)
	if err != nil || !ok {
		t.Fatalf("expected a profile, got ok=%v err=%v", ok, err)
	}
	if !fee.Equal(decimal.RequireFromString("45.50")) {
		t.Errorf("expected 45.50, got %s", fee)
	}
}
