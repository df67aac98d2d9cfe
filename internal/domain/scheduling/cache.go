package scheduling

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medsched/medsched/internal/platform/cache"
)

// InvalidationChannel carries {doctorId, date} whenever a day's
// availability changes.
const InvalidationChannel = "availability.invalidate"

// Invalidation is the message published on InvalidationChannel.
type Invalidation struct {
	DoctorID uuid.UUID `json:"doctorId"`
	Date     Date      `json:"date"`
}

// AvailabilityCache is a read-through cache of each day's offerable slots
// (capacity-filtered, not time-filtered). A longer-lived stale copy backs
// reads when the store is unreachable. Cache errors are logged and treated
// as misses.
type AvailabilityCache struct {
	backend  cache.Backend
	ttl      time.Duration
	staleTTL time.Duration
	logger   zerolog.Logger
}

func NewAvailabilityCache(backend cache.Backend, ttl, staleTTL time.Duration, logger zerolog.Logger) *AvailabilityCache {
	return &AvailabilityCache{backend: backend, ttl: ttl, staleTTL: staleTTL, logger: logger}
}

func freshKey(doctorID uuid.UUID, date Date) string {
	return "availability:" + doctorID.String() + ":" + date.String()
}

func staleKey(doctorID uuid.UUID, date Date) string {
	return "availability:stale:" + doctorID.String() + ":" + date.String()
}

func versionKey(doctorID uuid.UUID, date Date) string {
	return "availability:gen:" + doctorID.String() + ":" + date.String()
}

func (c *AvailabilityCache) read(ctx context.Context, key string) ([]AvailableSlot, bool) {
	if c == nil {
		return nil, false
	}
	raw, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("availability cache read failed")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var slots []AvailableSlot
	if err := json.Unmarshal(raw, &slots); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("discarding undecodable availability entry")
		return nil, false
	}
	return slots, true
}

// Get returns the cached projection for the day.
func (c *AvailabilityCache) Get(ctx context.Context, doctorID uuid.UUID, date Date) ([]AvailableSlot, bool) {
	return c.read(ctx, freshKey(doctorID, date))
}

// Stale returns the last good projection, which may be out of date.
func (c *AvailabilityCache) Stale(ctx context.Context, doctorID uuid.UUID, date Date) ([]AvailableSlot, bool) {
	return c.read(ctx, staleKey(doctorID, date))
}

// Version reads the day's invalidation counter. Take it before loading
// the schedule and hand it to Put. ok is false when the counter could not
// be read, in which case the caller should not write back.
func (c *AvailabilityCache) Version(ctx context.Context, doctorID uuid.UUID, date Date) (version int64, ok bool) {
	if c == nil {
		return 0, false
	}
	v, err := c.backend.Version(ctx, versionKey(doctorID, date))
	if err != nil {
		c.logger.Warn().Err(err).Msg("availability cache version read failed")
		return 0, false
	}
	return v, true
}

// Put stores the projection under both the fresh and stale keys unless the
// day was invalidated after version was read.
func (c *AvailabilityCache) Put(ctx context.Context, doctorID uuid.UUID, date Date, version int64, slots []AvailableSlot) {
	if c == nil {
		return
	}
	raw, err := json.Marshal(slots)
	if err != nil {
		c.logger.Warn().Err(err).Msg("encode availability entry")
		return
	}
	ok, err := c.backend.SetIfVersion(ctx, versionKey(doctorID, date), version,
		cache.Item{Key: freshKey(doctorID, date), Value: raw, TTL: c.ttl},
		cache.Item{Key: staleKey(doctorID, date), Value: raw, TTL: c.staleTTL},
	)
	if err != nil {
		c.logger.Warn().Err(err).Msg("availability cache write failed")
		return
	}
	if !ok {
		c.logger.Debug().Str("doctor_id", doctorID.String()).Str("date", date.String()).
			Msg("availability changed during refill, not caching")
	}
}

// Invalidate bumps the day's counter, drops its entries and announces the
// change. The counter outlives the stale copy so that no refill started
// before the bump can write back.
func (c *AvailabilityCache) Invalidate(ctx context.Context, doctorID uuid.UUID, date Date) {
	if c == nil {
		return
	}
	log := c.logger.With().Str("doctor_id", doctorID.String()).Str("date", date.String()).Logger()
	if _, err := c.backend.Bump(ctx, versionKey(doctorID, date), c.staleTTL); err != nil {
		log.Warn().Err(err).Msg("availability cache version bump failed")
	}
	if err := c.backend.Delete(ctx, freshKey(doctorID, date), staleKey(doctorID, date)); err != nil {
		log.Warn().Err(err).Msg("availability cache invalidation failed")
	}
	msg, _ := json.Marshal(Invalidation{DoctorID: doctorID, Date: date})
	if err := c.backend.Publish(ctx, InvalidationChannel, msg); err != nil {
		log.Warn().Err(err).Msg("publish availability invalidation")
	}
}

// Watch calls fn for every invalidation published on the backend, from this
// process or, with a shared backend, from any other, until ctx ends.
func (c *AvailabilityCache) Watch(ctx context.Context, fn func(Invalidation)) error {
	if c == nil {
		return nil
	}
	return c.backend.Subscribe(ctx, InvalidationChannel, func(payload []byte) {
		var msg Invalidation
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.logger.Warn().Err(err).Msg("discarding undecodable invalidation")
			return
		}
		fn(msg)
	})
}
