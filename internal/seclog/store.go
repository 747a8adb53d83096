package seclog

import (
	"context"
	"sync"
	"time"
)

// EventStore persists the append-only audit trail and serves the
// monitoring scan.
type EventStore interface {
	Append(ctx context.Context, e *Event) error
	// Recent returns events with OccurredAt >= since, oldest first.
	Recent(ctx context.Context, since time.Time) ([]Event, error)
}

var _ EventStore = (*MemoryEventStore)(nil)

// MemoryEventStore keeps a bounded in-memory trail. Used by tests and
// standalone runs; oldest entries fall off once the cap is reached.
type MemoryEventStore struct {
	mu     sync.Mutex
	events []Event
	cap    int
}

const defaultMemoryCap = 10000

func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{cap: defaultMemoryCap}
}

func (s *MemoryEventStore) Append(_ context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *e)
	if len(s.events) > s.cap {
		s.events = s.events[len(s.events)-s.cap:]
	}
	return nil
}

func (s *MemoryEventStore) Recent(_ context.Context, since time.Time) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if !e.OccurredAt.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}
