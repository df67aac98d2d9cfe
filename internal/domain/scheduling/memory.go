package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medsched/medsched/internal/platform/db"
)

// MemoryStore is an in-process Repository. Every method holds the store
// mutex for its whole duration, which makes slot reservation atomic.
// Writes made inside db.MemoryTx are undone if the unit of work fails.
type MemoryStore struct {
	mu    sync.RWMutex
	byID  map[uuid.UUID]*DaySchedule
	byKey map[string]uuid.UUID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:  make(map[uuid.UUID]*DaySchedule),
		byKey: make(map[string]uuid.UUID),
	}
}

func dayKey(doctorID uuid.UUID, date Date) string {
	return doctorID.String() + "|" + date.String()
}

func (m *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*DaySchedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byID[id]
	if !ok {
		return nil, ErrScheduleNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) GetByDoctorDate(_ context.Context, doctorID uuid.UUID, date Date) (*DaySchedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byKey[dayKey(doctorID, date)]
	if !ok {
		return nil, ErrScheduleNotFound
	}
	return m.byID[id].Clone(), nil
}

func (m *MemoryStore) ListByDoctor(_ context.Context, doctorID uuid.UUID, r DateRange) ([]*DaySchedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*DaySchedule{}
	for _, s := range m.byID {
		if s.DoctorID == doctorID && r.Contains(s.Date) {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (m *MemoryStore) Create(ctx context.Context, s *DaySchedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := dayKey(s.DoctorID, s.Date)
	if _, exists := m.byKey[key]; exists {
		return ErrDuplicateSchedule
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	now := time.Now().UTC()
	s.CreatedAt, s.UpdatedAt = now, now

	m.byID[s.ID] = s.Clone()
	m.byKey[key] = s.ID
	db.RecordUndo(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.byID, s.ID)
		delete(m.byKey, key)
	})
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, id uuid.UUID, apply func(*DaySchedule) error) (*DaySchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.byID[id]
	if !ok {
		return nil, ErrScheduleNotFound
	}
	next := cur.Clone()
	if err := apply(next); err != nil {
		return nil, err
	}
	next.ID, next.DoctorID, next.Date, next.CreatedAt = cur.ID, cur.DoctorID, cur.Date, cur.CreatedAt
	next.UpdatedAt = time.Now().UTC()
	m.byID[id] = next

	db.RecordUndo(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.byID[id] = cur
	})
	return next.Clone(), nil
}

func (m *MemoryStore) Delete(ctx context.Context, id uuid.UUID, check func(*DaySchedule) error) (*DaySchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.byID[id]
	if !ok {
		return nil, ErrScheduleNotFound
	}
	if check != nil {
		if err := check(cur.Clone()); err != nil {
			return nil, err
		}
	}
	key := dayKey(cur.DoctorID, cur.Date)
	delete(m.byID, id)
	delete(m.byKey, key)

	db.RecordUndo(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.byID[id] = cur
		m.byKey[key] = id
	})
	return cur.Clone(), nil
}

// slotLocked must be called with m.mu held.
func (m *MemoryStore) slotLocked(doctorID uuid.UUID, date Date, start ClockTime) (*DaySchedule, *TimeSlot, error) {
	id, ok := m.byKey[dayKey(doctorID, date)]
	if !ok {
		return nil, nil, ErrSlotNotFound
	}
	sched := m.byID[id]
	slot, ok := sched.Slot(start)
	if !ok {
		return nil, nil, ErrSlotNotFound
	}
	return sched, slot, nil
}

func (m *MemoryStore) ReserveSlot(ctx context.Context, doctorID uuid.UUID, date Date, start ClockTime) (*TimeSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sched, slot, err := m.slotLocked(doctorID, date, start)
	if err != nil {
		return nil, err
	}
	if !sched.IsActive || !slot.IsAvailable {
		return nil, ErrSlotUnavailable
	}
	if slot.CurrentAppointments >= slot.MaxAppointments {
		return nil, ErrSlotFull
	}
	slot.CurrentAppointments++
	out := *slot

	db.RecordUndo(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, s, err := m.slotLocked(doctorID, date, start); err == nil && s.CurrentAppointments > 0 {
			s.CurrentAppointments--
		}
	})
	return &out, nil
}

func (m *MemoryStore) ReleaseSlot(ctx context.Context, doctorID uuid.UUID, date Date, start ClockTime) (*TimeSlot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, slot, err := m.slotLocked(doctorID, date, start)
	if err != nil {
		return nil, false, err
	}
	if slot.CurrentAppointments <= 0 {
		slot.CurrentAppointments = 0
		out := *slot
		return &out, true, nil
	}
	slot.CurrentAppointments--
	out := *slot

	db.RecordUndo(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, s, err := m.slotLocked(doctorID, date, start); err == nil && s.CurrentAppointments < s.MaxAppointments {
			s.CurrentAppointments++
		}
	})
	return &out, false, nil
}
