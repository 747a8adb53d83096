package csrf

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

// Wire names for the two delivery channels. The cookie is intentionally
// readable by page scripts (not HTTP-only) so the client can echo it back
// through the header; an attacker site can force the cookie to be sent but
// cannot read it to populate the header.
const (
	CookieName = "csrf_token"
	HeaderName = "X-CSRF-Token"
	ParamName  = "csrf_token"
)

var (
	ErrMissingToken = errors.New("csrf: token missing")
	ErrMismatch     = errors.New("csrf: token mismatch")
)

const (
	defaultTTL           = time.Hour
	defaultLookupTimeout = 2 * time.Second
	tokenBytes           = 32
)

// Store is the TTL key-value collaborator holding the active token per
// session. Backed by process memory in tests; swappable for a shared
// distributed store in production.
type Store interface {
	// Set stores value under key, overwriting any previous value, for ttl.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Get returns the unexpired value for key, or ok=false.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
}

// Protection issues per-session anti-forgery tokens and validates the
// double-submit pair on mutating requests.
type Protection struct {
	store         Store
	ttl           time.Duration
	lookupTimeout time.Duration
}

// Option configures Protection behavior.
type Option func(*Protection)

// WithTTL overrides the token lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(p *Protection) {
		if ttl > 0 {
			p.ttl = ttl
		}
	}
}

// WithLookupTimeout bounds the store lookup; on timeout validation fails
// closed.
func WithLookupTimeout(d time.Duration) Option {
	return func(p *Protection) {
		if d > 0 {
			p.lookupTimeout = d
		}
	}
}

// New constructs a Protection over the given store.
func New(store Store, opts ...Option) *Protection {
	p := &Protection{
		store:         store,
		ttl:           defaultTTL,
		lookupTimeout: defaultLookupTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// TTL returns the configured token lifetime.
func (p *Protection) TTL() time.Duration { return p.ttl }

// Issue creates a fresh high-entropy token for the session, replacing any
// prior one. A single token is active per session: older tabs lose their
// token on regeneration, which is intended behavior, not a bug.
func (p *Protection) Issue(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", errors.New("csrf: session id is required")
	}
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	tok := base64.RawURLEncoding.EncodeToString(buf)

	setCtx, cancel := context.WithTimeout(ctx, p.lookupTimeout)
	defer cancel()
	if err := p.store.Set(setCtx, sessionID, tok, p.ttl); err != nil {
		return "", fmt.Errorf("csrf: store token: %w", err)
	}
	return tok, nil
}

// Validate checks the double-submit pair: both channels present, agreeing
// with each other and with the stored token for the session, unexpired.
// Comparisons are constant-time. Store failures reject rather than pass.
func (p *Protection) Validate(ctx context.Context, sessionID, cookieValue, suppliedValue string) error {
	if cookieValue == "" || suppliedValue == "" {
		return ErrMissingToken
	}
	if subtle.ConstantTimeCompare([]byte(cookieValue), []byte(suppliedValue)) != 1 {
		return ErrMismatch
	}

	getCtx, cancel := context.WithTimeout(ctx, p.lookupTimeout)
	defer cancel()
	stored, ok, err := p.store.Get(getCtx, sessionID)
	if err != nil {
		return fmt.Errorf("csrf: store lookup: %w", err)
	}
	if !ok {
		return ErrMismatch
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(suppliedValue)) != 1 {
		return ErrMismatch
	}
	return nil
}
