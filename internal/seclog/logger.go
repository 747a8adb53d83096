package seclog

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"campusgate.org/internal/ids"
	"campusgate.org/internal/obs"
)

const appendTimeout = 2 * time.Second

// Logger records security events. Recording is best-effort: a failing
// store degrades to a warning on the process log and never fails the
// request that produced the event.
type Logger struct {
	store EventStore
	log   *zerolog.Logger
	now   func() time.Time
}

// Option configures Logger behavior.
type Option func(*Logger)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(l *Logger) {
		if fn != nil {
			l.now = fn
		}
	}
}

// WithZerolog overrides the process logger.
func WithZerolog(zl *zerolog.Logger) Option {
	return func(l *Logger) {
		if zl != nil {
			l.log = zl
		}
	}
}

// NewLogger constructs a Logger over the given event store.
func NewLogger(store EventStore, opts ...Option) *Logger {
	l := &Logger{
		store: store,
		log:   obs.Logger(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record appends the event to the audit trail and mirrors it on the
// process log.
func (l *Logger) Record(ctx context.Context, e Event) {
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = l.now().UTC()
	}

	l.log.Info().
		Str("event", string(e.Type)).
		Str("status", string(e.Status)).
		Str("account_id", e.AccountID).
		Str("role", e.Role).
		Str("ip", e.IP).
		Str("detail", e.Detail).
		Msg("security_event")

	appendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), appendTimeout)
	defer cancel()
	if err := l.store.Append(appendCtx, &e); err != nil {
		l.log.Warn().Err(err).Str("event", string(e.Type)).Msg("security_event_append_failed")
	}
}
