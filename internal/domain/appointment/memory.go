package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/medsched/medsched/internal/domain/scheduling"
	"github.com/medsched/medsched/internal/platform/db"
)

// MemoryStore is an in-process Repository. Writes inside db.MemoryTx are
// undone when the unit of work fails.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*Appointment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[uuid.UUID]*Appointment)}
}

func clone(a *Appointment) *Appointment {
	out := *a
	return &out
}

func (m *MemoryStore) Create(ctx context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	m.items[a.ID] = clone(a)

	id := a.ID
	db.RecordUndo(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.items, id)
	})
	return nil
}

func (m *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(a), nil
}

func (m *MemoryStore) Update(ctx context.Context, id uuid.UUID, apply func(*Appointment) error) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := clone(cur)
	if err := apply(next); err != nil {
		return nil, err
	}
	next.UpdatedAt = time.Now().UTC()
	m.items[id] = next

	db.RecordUndo(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.items[id] = cur
	})
	return clone(next), nil
}

func sortByTime(items []*Appointment) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].Date.Equal(items[j].Date) {
			return items[i].Date.Before(items[j].Date)
		}
		if items[i].StartTime != items[j].StartTime {
			return items[i].StartTime < items[j].StartTime
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
}

func (m *MemoryStore) List(_ context.Context, f ListFilter) ([]*Appointment, int, error) {
	m.mu.RLock()
	var all []*Appointment
	for _, a := range m.items {
		if f.matches(a) {
			all = append(all, clone(a))
		}
	}
	m.mu.RUnlock()

	sortByTime(all)
	total := len(all)
	if f.Offset >= total {
		return []*Appointment{}, total, nil
	}
	end := f.Offset + f.Limit
	if end > total {
		end = total
	}
	return all[f.Offset:end], total, nil
}

func (m *MemoryStore) ListByDoctorBetween(_ context.Context, doctorID uuid.UUID, from, to scheduling.Date) ([]*Appointment, error) {
	f := ListFilter{DoctorID: &doctorID, From: &from, To: &to}
	m.mu.RLock()
	out := []*Appointment{}
	for _, a := range m.items {
		if f.matches(a) {
			out = append(out, clone(a))
		}
	}
	m.mu.RUnlock()
	sortByTime(out)
	return out, nil
}

// StaticFees is a FeeDirectory backed by a fixed map.
type StaticFees map[uuid.UUID]decimal.Decimal

func (s StaticFees) ConsultationFee(_ context.Context, doctorID uuid.UUID) (decimal.Decimal, bool, error) {
	fee, ok := s[doctorID]
	return fee, ok, nil
}
