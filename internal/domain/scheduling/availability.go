package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Availability is a resolver answer. Stale is set when the store could not
// be read and the last cached projection was served instead.
type Availability struct {
	Slots []AvailableSlot
	Stale bool
}

// Resolver answers what can be booked. It never writes to the store.
type Resolver struct {
	repo        Repository
	cache       *AvailabilityCache
	clock       Clock
	concurrency int
	maxDays     int
	logger      zerolog.Logger
}

// ResolverConfig bounds fan-out width and range length.
type ResolverConfig struct {
	Concurrency  int
	MaxRangeDays int
}

func NewResolver(repo Repository, cache *AvailabilityCache, clock Clock, cfg ResolverConfig, logger zerolog.Logger) *Resolver {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 8
	}
	if cfg.MaxRangeDays < 1 {
		cfg.MaxRangeDays = 92
	}
	return &Resolver{
		repo:        repo,
		cache:       cache,
		clock:       clock,
		concurrency: cfg.Concurrency,
		maxDays:     cfg.MaxRangeDays,
		logger:      logger,
	}
}

// dropPast removes slots that have already started.
func (r *Resolver) dropPast(slots []AvailableSlot) []AvailableSlot {
	out := make([]AvailableSlot, 0, len(slots))
	for _, s := range slots {
		if !r.clock.IsPast(s.Date, s.StartTime) {
			out = append(out, s)
		}
	}
	return out
}

// AvailableSlots returns the doctor's open slots on date, ascending by start
// time. No schedule, or an inactive one, yields an empty list.
func (r *Resolver) AvailableSlots(ctx context.Context, doctorID uuid.UUID, date Date) (*Availability, error) {
	if date.Before(r.clock.Today()) {
		return &Availability{Slots: []AvailableSlot{}}, nil
	}
	if cached, ok := r.cache.Get(ctx, doctorID, date); ok {
		return &Availability{Slots: r.dropPast(cached)}, nil
	}

	version, cacheable := r.cache.Version(ctx, doctorID, date)
	sched, err := r.repo.GetByDoctorDate(ctx, doctorID, date)
	switch {
	case errors.Is(err, ErrScheduleNotFound):
		if cacheable {
			r.cache.Put(ctx, doctorID, date, version, []AvailableSlot{})
		}
		return &Availability{Slots: []AvailableSlot{}}, nil
	case err != nil:
		return r.fallback(ctx, doctorID, date, err)
	}

	offerable := sched.Offerable()
	if cacheable {
		r.cache.Put(ctx, doctorID, date, version, offerable)
	}
	return &Availability{Slots: r.dropPast(offerable)}, nil
}

func (r *Resolver) fallback(ctx context.Context, doctorID uuid.UUID, date Date, cause error) (*Availability, error) {
	if ctx.Err() != nil {
		return nil, cause
	}
	stale, ok := r.cache.Stale(ctx, doctorID, date)
	if !ok {
		return nil, cause
	}
	r.logger.Warn().Err(cause).
		Str("doctor_id", doctorID.String()).
		Str("date", date.String()).
		Msg("schedule store unavailable, serving stale availability")
	return &Availability{Slots: r.dropPast(stale), Stale: true}, nil
}

// AvailableSlotsForRange returns open slots for every date in
// [start, end], ordered by date then start time.
func (r *Resolver) AvailableSlotsForRange(ctx context.Context, doctorID uuid.UUID, start, end Date) (*Availability, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end date %s is before start date %s", ErrValidation, end, start)
	}
	if days := start.DaysUntil(end) + 1; days > r.maxDays {
		return nil, fmt.Errorf("%w: range spans %d days, at most %d allowed", ErrValidation, days, r.maxDays)
	}

	today := r.clock.Today()
	if start.Before(today) {
		start = today
	}
	res := &Availability{Slots: []AvailableSlot{}}
	if end.Before(start) {
		return res, nil
	}

	scheds, err := r.repo.ListByDoctor(ctx, doctorID, DateRange{From: start, To: end})
	if err != nil {
		return r.rangeFallback(ctx, doctorID, start, end, err)
	}
	for _, sched := range scheds {
		res.Slots = append(res.Slots, r.dropPast(sched.Offerable())...)
	}
	return res, nil
}

// rangeFallback serves stale copies only when every day has one.
func (r *Resolver) rangeFallback(ctx context.Context, doctorID uuid.UUID, start, end Date, cause error) (*Availability, error) {
	if ctx.Err() != nil {
		return nil, cause
	}
	res := &Availability{Slots: []AvailableSlot{}, Stale: true}
	for d := start; !d.After(end); d = d.AddDays(1) {
		stale, ok := r.cache.Stale(ctx, doctorID, d)
		if !ok {
			return nil, cause
		}
		res.Slots = append(res.Slots, r.dropPast(stale)...)
	}
	r.logger.Warn().Err(cause).
		Str("doctor_id", doctorID.String()).
		Str("start", start.String()).
		Str("end", end.String()).
		Msg("schedule store unavailable, serving stale availability range")
	return res, nil
}

// AvailableSlotsForDoctors fans out across doctors for one date. A doctor
// whose lookup fails is logged and left out rather than failing the call.
// Results are ordered by start time, then doctor in request order.
func (r *Resolver) AvailableSlotsForDoctors(ctx context.Context, doctorIDs []uuid.UUID, date Date) (*Availability, error) {
	doctorIDs = uniqueIDs(doctorIDs)
	var (
		mu      sync.Mutex
		results = make([][]AvailableSlot, len(doctorIDs))
		stale   bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, id := range doctorIDs {
		i, id := i, id
		g.Go(func() error {
			av, err := r.AvailableSlots(gctx, id, date)
			if err != nil {
				r.logger.Warn().Err(err).
					Str("doctor_id", id.String()).
					Str("date", date.String()).
					Msg("omitting doctor from availability fan-out")
				return nil
			}
			mu.Lock()
			results[i] = av.Slots
			stale = stale || av.Stale
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := []AvailableSlot{}
	rank := make(map[uuid.UUID]int, len(doctorIDs))
	for i, slots := range results {
		rank[doctorIDs[i]] = i
		out = append(out, slots...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime < out[j].StartTime
		}
		return rank[out[i].DoctorID] < rank[out[j].DoctorID]
	})
	return &Availability{Slots: out, Stale: stale}, nil
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
