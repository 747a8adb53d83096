package ratelimit

import (
	"context"
	"sync"
	"time"
)

var _ CounterStore = (*MemoryCounterStore)(nil)

// MemoryCounterStore implements CounterStore in process memory. Suitable
// for a single instance or tests; production deployments swap in a shared
// store so limits hold across replicas.
type MemoryCounterStore struct {
	mu       sync.Mutex
	counters map[string]counterEntry
	now      func() time.Time
	lastSweep time.Time
}

type counterEntry struct {
	count     int64
	expiresAt time.Time
}

const sweepInterval = time.Minute

func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{
		counters: make(map[string]counterEntry),
		now:      time.Now,
	}
}

// SetClock overrides the time source. Only intended for test use.
func (s *MemoryCounterStore) SetClock(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = fn
}

func (s *MemoryCounterStore) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastSweep) > sweepInterval {
		for k, e := range s.counters {
			if now.After(e.expiresAt) {
				delete(s.counters, k)
			}
		}
		s.lastSweep = now
	}

	e, ok := s.counters[key]
	if !ok || now.After(e.expiresAt) {
		e = counterEntry{count: 0, expiresAt: now.Add(2 * ttl)}
	}
	e.count++
	s.counters[key] = e
	return e.count, nil
}
