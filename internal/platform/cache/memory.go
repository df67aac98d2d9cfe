package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

type memoryVersion struct {
	n         int64
	expiresAt time.Time
}

type subscription struct {
	id int
	fn func([]byte)
}

// MemoryStore is a thread-safe in-process Backend with lazy expiration.
// Published messages are delivered synchronously to local subscribers.
type MemoryStore struct {
	mu          sync.RWMutex
	entries     map[string]*memoryEntry
	versions    map[string]*memoryVersion
	subscribers map[string][]subscription
	nextSubID   int
	now         func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:     make(map[string]*memoryEntry),
		versions:    make(map[string]*memoryVersion),
		subscribers: make(map[string][]subscription),
		now:         time.Now,
	}
}

// Get performs lazy expiration: an expired entry is deleted and reported as a miss.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !s.now().Before(entry.expiresAt) {
		s.mu.Lock()
		if cur, still := s.entries[key]; still && cur == entry {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return nil, false, nil
	}
	out := make([]byte, len(entry.data))
	copy(out, entry.data)
	return out, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(key, value, ttl)
	return nil
}

func (s *MemoryStore) setLocked(key string, value []byte, ttl time.Duration) {
	data := make([]byte, len(value))
	copy(data, value)
	s.entries[key] = &memoryEntry{data: data, expiresAt: s.now().Add(ttl)}
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.entries, k)
	}
	return nil
}

func (s *MemoryStore) versionLocked(key string) int64 {
	v, ok := s.versions[key]
	if !ok || !s.now().Before(v.expiresAt) {
		return 0
	}
	return v.n
}

func (s *MemoryStore) Version(_ context.Context, key string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.versionLocked(key), nil
}

func (s *MemoryStore) Bump(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.versionLocked(key) + 1
	s.versions[key] = &memoryVersion{n: n, expiresAt: s.now().Add(ttl)}
	return n, nil
}

// SetIfVersion compares and writes under one lock, so a concurrent Bump
// lands either before the comparison or after the write.
func (s *MemoryStore) SetIfVersion(_ context.Context, key string, version int64, items ...Item) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.versionLocked(key) != version {
		return false, nil
	}
	for _, it := range items {
		s.setLocked(it.Key, it.Value, it.TTL)
	}
	return true, nil
}

// Subscribe registers fn for messages published on channel until ctx is
// cancelled.
func (s *MemoryStore) Subscribe(ctx context.Context, channel string, fn func(payload []byte)) error {
	s.mu.Lock()
	s.nextSubID++
	id := s.nextSubID
	s.subscribers[channel] = append(s.subscribers[channel], subscription{id: id, fn: fn})
	s.mu.Unlock()

	if ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			s.unsubscribe(channel, id)
		}()
	}
	return nil
}

func (s *MemoryStore) unsubscribe(channel string, id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := s.subscribers[channel]
	for i, sub := range subs {
		if sub.id == id {
			s.subscribers[channel] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

func (s *MemoryStore) Publish(_ context.Context, channel string, payload []byte) error {
	s.mu.RLock()
	subs := make([]subscription, len(s.subscribers[channel]))
	copy(subs, s.subscribers[channel])
	s.mu.RUnlock()
	for _, sub := range subs {
		sub.fn(payload)
	}
	return nil
}

// StartCleanup periodically removes expired entries until ctx is cancelled.
func (s *MemoryStore) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.mu.Lock()
				now := s.now()
				for k, v := range s.entries {
					if !now.Before(v.expiresAt) {
						delete(s.entries, k)
					}
				}
				for k, v := range s.versions {
					if !now.Before(v.expiresAt) {
						delete(s.versions, k)
					}
				}
				s.mu.Unlock()
			}
		}
	}()
}

func (s *MemoryStore) Close() error { return nil }
