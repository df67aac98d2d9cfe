package scheduling

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medsched/medsched/internal/platform/cache"
)

var testNow = time.Date(2024, 5, 30, 8, 0, 0, 0, time.UTC)

func testClock() Clock {
	return Clock{Location: time.UTC, Now: func() time.Time { return testNow }}
}

type serviceFixture struct {
	store   *MemoryStore
	backend *cache.MemoryStore
	cache   *AvailabilityCache
	svc     *Service
	guard   *Guard
}

func newServiceFixture() *serviceFixture {
	store := NewMemoryStore()
	backend := cache.NewMemoryStore()
	ac := NewAvailabilityCache(backend, time.Minute, time.Hour, zerolog.Nop())
	return &serviceFixture{
		store:   store,
		backend: backend,
		cache:   ac,
		svc:     NewService(store, ac, testClock(), zerolog.Nop()),
		guard:   NewGuard(store, ac, zerolog.Nop()),
	}
}

func TestService_CreateThenExists(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture()
	doctor := uuid.New()
	date := NewDate(2024, time.June, 1)
	notes := "morning clinic"

	created, err := f.svc.Create(ctx, doctor, CreateInput{
		Date:      date,
		TimeSlots: []TimeSlot{slot("10:00", "11:00", 2), slot("09:00", "10:00", 1)},
		Notes:     &notes,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !created.IsActive {
		t.Error("expected isActive to default to true")
	}
	if created.TimeSlots[0].StartTime.String() != "09:00" {
		t.Error("expected slots ordered by start time")
	}

	res, err := f.svc.Exists(ctx, doctor, date)
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if !res.Exists || res.Schedule == nil {
		t.Fatalf("expected schedule to exist, got %+v", res)
	}
	if !reflect.DeepEqual(res.Schedule, created) {
		t.Errorf("expected %+v, got %+v", created, res.Schedule)
	}
	if res.DoctorID != doctor || !res.Date.Equal(date) {
		t.Errorf("unexpected echo of doctor/date: %+v", res)
	}

	other, err := f.svc.Exists(ctx, doctor, date.AddDays(1))
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if other.Exists || other.Schedule != nil {
		t.Errorf("expected no schedule, got %+v", other)
	}
}

func TestService_CreateIgnoresClientBookingCounts(t *testing.T) {
	f := newServiceFixture()
	sl := slot("09:00", "10:00", 2)
	sl.CurrentAppointments = 2
	created, err := f.svc.Create(context.Background(), uuid.New(), CreateInput{
		Date:      NewDate(2024, time.June, 1),
		TimeSlots: []TimeSlot{sl},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.TimeSlots[0].CurrentAppointments != 0 {
		t.Errorf("expected new day to start with no bookings, got %d", created.TimeSlots[0].CurrentAppointments)
	}
}

func TestService_DuplicateThenUpdate(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture()
	doctor := uuid.New()
	date := NewDate(2024, time.June, 1)
	in := CreateInput{Date: date, TimeSlots: []TimeSlot{slot("09:00", "10:00", 2)}}

	first, err := f.svc.Create(ctx, doctor, in)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := f.svc.Create(ctx, doctor, in); !errors.Is(err, ErrDuplicateSchedule) {
		t.Fatalf("expected ErrDuplicateSchedule, got %v", err)
	}

	notes := "moved to room 4"
	updated, err := f.svc.Update(ctx, doctor, first.ID, UpdateInput{Notes: &notes})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Notes == nil || *updated.Notes != notes {
		t.Errorf("expected notes to be updated, got %v", updated.Notes)
	}
	if len(updated.TimeSlots) != 1 {
		t.Errorf("expected slots untouched, got %d", len(updated.TimeSlots))
	}

	if _, err := f.svc.Create(ctx, uuid.New(), in); err != nil {
		t.Errorf("another doctor may use the same date: %v", err)
	}
}

func TestService_CreateValidation(t *testing.T) {
	f := newServiceFixture()
	_, err := f.svc.Create(context.Background(), uuid.New(), CreateInput{
		Date:      NewDate(2024, time.June, 1),
		TimeSlots: []TimeSlot{slot("09:00", "10:00", 1), slot("09:30", "10:30", 1)},
	})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}

	_, err = f.svc.Create(context.Background(), uuid.New(), CreateInput{})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for missing date, got %v", err)
	}
}

func TestService_UpdateKeepsBookingsAndGuardsCapacity(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture()
	doctor := uuid.New()
	date := NewDate(2024, time.June, 1)
	created, err := f.svc.Create(ctx, doctor, CreateInput{
		Date:      date,
		TimeSlots: []TimeSlot{slot("09:00", "10:00", 3), slot("10:00", "11:00", 1)},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := f.guard.Reserve(ctx, doctor, date, MustClockTime("09:00")); err != nil {
			t.Fatalf("reserve: %v", err)
		}
	}

	// Client sends a stale count of 0; the stored count must survive.
	edited := []TimeSlot{slot("09:00", "10:00", 2), slot("10:00", "11:00", 1)}
	updated, err := f.svc.Update(ctx, doctor, created.ID, UpdateInput{TimeSlots: &edited})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	nine, _ := updated.Slot(MustClockTime("09:00"))
	if nine.CurrentAppointments != 2 || nine.MaxAppointments != 2 {
		t.Errorf("expected 2/2, got %d/%d", nine.CurrentAppointments, nine.MaxAppointments)
	}

	tooSmall := []TimeSlot{slot("09:00", "10:00", 1), slot("10:00", "11:00", 1)}
	if _, err := f.svc.Update(ctx, doctor, created.ID, UpdateInput{TimeSlots: &tooSmall}); !errors.Is(err, ErrCapacityConflict) {
		t.Errorf("expected ErrCapacityConflict, got %v", err)
	}

	removed := []TimeSlot{slot("10:00", "11:00", 1)}
	if _, err := f.svc.Update(ctx, doctor, created.ID, UpdateInput{TimeSlots: &removed}); !errors.Is(err, ErrCapacityConflict) {
		t.Errorf("expected ErrCapacityConflict when removing a booked slot, got %v", err)
	}

	freeRemoved := []TimeSlot{slot("09:00", "10:00", 2)}
	if _, err := f.svc.Update(ctx, doctor, created.ID, UpdateInput{TimeSlots: &freeRemoved}); err != nil {
		t.Errorf("removing an unbooked slot should succeed: %v", err)
	}
}

func TestService_OwnerOnly(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture()
	owner := uuid.New()
	created, err := f.svc.Create(ctx, owner, CreateInput{Date: NewDate(2024, time.June, 1)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	inactive := false
	if _, err := f.svc.Update(ctx, uuid.New(), created.ID, UpdateInput{IsActive: &inactive}); !errors.Is(err, ErrNotOwner) {
		t.Errorf("expected ErrNotOwner on update, got %v", err)
	}
	if err := f.svc.Delete(ctx, uuid.New(), created.ID); !errors.Is(err, ErrNotOwner) {
		t.Errorf("expected ErrNotOwner on delete, got %v", err)
	}
	if _, err := f.svc.Update(ctx, owner, uuid.New(), UpdateInput{IsActive: &inactive}); !errors.Is(err, ErrScheduleNotFound) {
		t.Errorf("expected ErrScheduleNotFound, got %v", err)
	}
}

func TestService_DeleteWithBookings(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture()
	doctor := uuid.New()

	today := DateOf(testNow)
	past := today.AddDays(-3)
	for _, d := range []Date{today, past} {
		if _, err := f.svc.Create(ctx, doctor, CreateInput{Date: d, TimeSlots: []TimeSlot{slot("18:00", "19:00", 2)}}); err != nil {
			t.Fatalf("create %s: %v", d, err)
		}
		if _, err := f.guard.Reserve(ctx, doctor, d, MustClockTime("18:00")); err != nil {
			t.Fatalf("reserve %s: %v", d, err)
		}
	}

	todaySched, _ := f.store.GetByDoctorDate(ctx, doctor, today)
	if err := f.svc.Delete(ctx, doctor, todaySched.ID); !errors.Is(err, ErrHasActiveBookings) {
		t.Errorf("expected ErrHasActiveBookings for today, got %v", err)
	}

	pastSched, _ := f.store.GetByDoctorDate(ctx, doctor, past)
	if err := f.svc.Delete(ctx, doctor, pastSched.ID); err != nil {
		t.Errorf("past days with history may be deleted: %v", err)
	}
	if err := f.guard.Release(ctx, doctor, past, MustClockTime("18:00")); err != nil {
		t.Errorf("cancelling on a deleted past day must not fail: %v", err)
	}

	if err := f.guard.Release(ctx, doctor, today, MustClockTime("18:00")); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := f.svc.Delete(ctx, doctor, todaySched.ID); err != nil {
		t.Errorf("delete after release: %v", err)
	}
	if res, _ := f.svc.Exists(ctx, doctor, today); res.Exists {
		t.Error("expected schedule to be gone")
	}
}

func TestService_ListByDoctor(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture()
	doctor := uuid.New()
	base := NewDate(2024, time.June, 1)
	for _, off := range []int{5, 0, 2} {
		if _, err := f.svc.Create(ctx, doctor, CreateInput{Date: base.AddDays(off)}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	inactive := false
	if _, err := f.svc.Create(ctx, doctor, CreateInput{Date: base.AddDays(-1), IsActive: &inactive}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.Create(ctx, uuid.New(), CreateInput{Date: base}); err != nil {
		t.Fatalf("create: %v", err)
	}

	items, err := f.svc.ListByDoctor(ctx, doctor)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 4 {
		t.Fatalf("expected 4 schedules, got %d", len(items))
	}
	for i := 1; i < len(items); i++ {
		if !items[i-1].Date.Before(items[i].Date) {
			t.Errorf("expected ascending dates, got %s then %s", items[i-1].Date, items[i].Date)
		}
	}

	window, err := f.svc.ListByDoctorBetween(ctx, doctor, base, base.AddDays(2))
	if err != nil {
		t.Fatalf("list between: %v", err)
	}
	if len(window) != 2 {
		t.Errorf("expected 2 schedules in window, got %d", len(window))
	}
}

func TestService_MutationsInvalidateAvailability(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture()
	doctor := uuid.New()
	date := NewDate(2024, time.June, 1)

	var msgs []Invalidation
	if err := f.cache.Watch(ctx, func(m Invalidation) { msgs = append(msgs, m) }); err != nil {
		t.Fatalf("watch: %v", err)
	}

	version, _ := f.cache.Version(ctx, doctor, date)
	f.cache.Put(ctx, doctor, date, version, []AvailableSlot{{DoctorID: doctor, Date: date}})
	created, err := f.svc.Create(ctx, doctor, CreateInput{Date: date, TimeSlots: []TimeSlot{slot("09:00", "10:00", 1)}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, ok := f.cache.Get(ctx, doctor, date); ok {
		t.Error("expected fresh entry dropped after create")
	}
	if _, ok := f.cache.Stale(ctx, doctor, date); ok {
		t.Error("expected stale entry dropped after create")
	}

	inactive := false
	if _, err := f.svc.Update(ctx, doctor, created.ID, UpdateInput{IsActive: &inactive}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 invalidation messages, got %d", len(msgs))
	}
	if msgs[1].DoctorID != doctor || !msgs[1].Date.Equal(date) {
		t.Errorf("unexpected invalidation %+v", msgs[1])
	}
}
