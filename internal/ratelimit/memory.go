package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps counters in process memory. Suitable for single-instance
// deployments and tests; multi-instance deployments need the SQLite store on
// shared storage or an external store.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*windowCounter
}

type windowCounter struct {
	count       int64
	windowStart time.Time
}

// NewMemoryStore creates an empty in-memory counter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: make(map[string]*windowCounter)}
}

// Incr implements CounterStore.
func (s *MemoryStore) Incr(_ context.Context, key string, window time.Duration, now time.Time) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok || now.Sub(c.windowStart) >= window {
		c = &windowCounter{windowStart: now}
		s.counters[key] = c
	}
	c.count++
	return c.count, c.windowStart, nil
}

// Close implements CounterStore.
func (s *MemoryStore) Close() error { return nil }
