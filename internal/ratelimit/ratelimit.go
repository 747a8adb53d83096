package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// Preset defines the fixed-window budget for a route class.
type Preset struct {
	Name        string
	Window      time.Duration
	MaxRequests int64
}

// Route-class presets. Credential endpoints get a tight budget because
// each attempt is a password guess; reset issuance is tighter still since
// each request sends a message to the account owner.
var (
	PresetAuth  = Preset{Name: "auth", Window: time.Minute, MaxRequests: 5}
	PresetAPI   = Preset{Name: "api", Window: time.Minute, MaxRequests: 120}
	PresetReset = Preset{Name: "reset", Window: 5 * time.Minute, MaxRequests: 3}
)

// CounterStore is the shared atomic counter collaborator. Incr must be a
// single increment-and-get: a read-then-write pair under concurrency would
// admit more requests than the configured limit.
type CounterStore interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Decision is the outcome of a limiter check.
type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// Limiter bounds request rate per (client, route class) using fixed
// windows. The window boundary allows a short burst of up to twice the
// budget when requests straddle the rollover; that is a known
// characteristic of fixed windows, not a defect.
type Limiter struct {
	store CounterStore
	now   func() time.Time
}

// Option configures Limiter behavior.
type Option func(*Limiter)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(l *Limiter) {
		if fn != nil {
			l.now = fn
		}
	}
}

// New constructs a Limiter over the given counter store.
func New(store CounterStore, opts ...Option) *Limiter {
	l := &Limiter{store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check records one request for the client under the preset and decides
// whether it may proceed. Store failures fail closed: the request is
// rejected rather than waved through unmetered.
func (l *Limiter) Check(ctx context.Context, clientKey string, p Preset) (Decision, error) {
	now := l.now()
	windowStart := now.Truncate(p.Window)
	key := p.Name + ":" + clientKey + ":" + strconv.FormatInt(windowStart.Unix(), 10)

	count, err := l.store.Incr(ctx, key, p.Window)
	if err != nil {
		return Decision{Allowed: false, RetryAfter: p.Window}, fmt.Errorf("ratelimit: incr: %w", err)
	}

	if count > p.MaxRequests {
		return Decision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: windowStart.Add(p.Window).Sub(now),
		}, nil
	}
	return Decision{Allowed: true, Remaining: p.MaxRequests - count}, nil
}
