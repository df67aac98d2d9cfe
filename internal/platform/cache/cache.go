// Package cache provides the key/value stores behind the availability
// read-through cache and the channel used to announce invalidations.
package cache

import (
	"context"
	"time"
)

// Store is a byte-oriented cache with per-entry expiry.
type Store interface {
	// Get returns ok=false on a miss or an expired entry.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Item is one entry written by SetIfVersion.
type Item struct {
	Key   string
	Value []byte
	TTL   time.Duration
}

// Versioned guards read-through refills. A reader takes Version before
// loading from the source of truth and writes back with SetIfVersion; a
// writer calls Bump before dropping entries. A refill that raced with a
// Bump is discarded instead of resurrecting the old value.
type Versioned interface {
	// Version returns the counter under key, zero when it was never bumped.
	Version(ctx context.Context, key string) (int64, error)
	// Bump increments the counter under key and keeps it for at least ttl.
	Bump(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// SetIfVersion writes items only while the counter still equals
	// version. ok is false when the write was skipped.
	SetIfVersion(ctx context.Context, key string, version int64, items ...Item) (ok bool, err error)
}

// Publisher announces messages to other processes sharing the cache.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Subscriber delivers messages published on a channel until ctx ends.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string, fn func(payload []byte)) error
}

// Backend is a versioned Store that can also publish and subscribe.
type Backend interface {
	Store
	Versioned
	Publisher
	Subscriber
	Close() error
}
