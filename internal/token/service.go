package token

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"campusgate.org/internal/accounts"
)

const (
	defaultIssuer        = "campusgate"
	defaultAudience      = "campusgate-web"
	defaultAccessTTL     = 15 * time.Minute
	defaultRefreshTTL    = 24 * time.Hour * 14
	defaultLookupTimeout = 2 * time.Second
	defaultCacheTTL      = 10 * time.Second
)

// Service issues and verifies signed access and refresh tokens and owns
// revocation semantics. Verification is stateless except for one lookup of
// the account's current token version against the identity store.
type Service struct {
	store accounts.Store

	accessSecret  []byte
	refreshSecret []byte
	issuer        string
	audience      string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	lookupTimeout time.Duration

	versions *versionCache
	now      func() time.Time
}

// Pair bundles freshly issued credentials. AccessTokenID is the access
// token's jti, which callers use as the session key for per-session state
// such as the anti-forgery token.
type Pair struct {
	AccessToken      string
	RefreshToken     string
	AccessTokenID    string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithTTLs overrides token lifetimes.
func WithTTLs(access, refresh time.Duration) Option {
	return func(s *Service) {
		if access > 0 {
			s.accessTTL = access
		}
		if refresh > 0 {
			s.refreshTTL = refresh
		}
	}
}

// WithIssuer overrides the issuer claim.
func WithIssuer(issuer string) Option {
	return func(s *Service) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			s.issuer = issuer
		}
	}
}

// WithAudience overrides the audience claim.
func WithAudience(audience string) Option {
	return func(s *Service) {
		if audience = strings.TrimSpace(audience); audience != "" {
			s.audience = audience
		}
	}
}

// WithLookupTimeout bounds the identity-store lookup during verification.
// On timeout the token is rejected: the check fails closed.
func WithLookupTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.lookupTimeout = d
		}
	}
}

// WithVersionCacheTTL bounds how stale a cached token version may be. A
// just-revoked token stays valid for at most this window. Zero disables
// the cache.
func WithVersionCacheTTL(d time.Duration) Option {
	return func(s *Service) {
		s.versions = newVersionCache(d, s.now)
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs a Service. Access and refresh tokens are signed
// with separate secrets.
func NewService(store accounts.Store, accessSecret, refreshSecret string, opts ...Option) (*Service, error) {
	if strings.TrimSpace(accessSecret) == "" || strings.TrimSpace(refreshSecret) == "" {
		return nil, errors.New("token: both signing secrets are required")
	}
	if accessSecret == refreshSecret {
		return nil, errors.New("token: access and refresh secrets must differ")
	}
	s := &Service{
		store:         store,
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		issuer:        defaultIssuer,
		audience:      defaultAudience,
		accessTTL:     defaultAccessTTL,
		refreshTTL:    defaultRefreshTTL,
		lookupTimeout: defaultLookupTimeout,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.versions == nil {
		s.versions = newVersionCache(defaultCacheTTL, s.now)
	}
	return s, nil
}

// AccessTTL returns the configured access-token lifetime.
func (s *Service) AccessTTL() time.Duration { return s.accessTTL }

// IssueAccessToken signs a short-lived access token for the principal.
func (s *Service) IssueAccessToken(p Principal) (string, time.Time, error) {
	return s.issue(p, TypeAccess, s.accessTTL, s.accessSecret, uuid.NewString())
}

// IssueRefreshToken signs a long-lived refresh token and records its jti so
// rotation can enforce one-time use.
func (s *Service) IssueRefreshToken(ctx context.Context, p Principal) (string, time.Time, error) {
	jti := uuid.NewString()
	raw, expiresAt, err := s.issue(p, TypeRefresh, s.refreshTTL, s.refreshSecret, jti)
	if err != nil {
		return "", time.Time{}, err
	}
	err = s.store.CreateRefreshRecord(ctx, &accounts.RefreshRecord{
		ID:        jti,
		AccountID: p.AccountID,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("token: record refresh token: %w", err)
	}
	return raw, expiresAt, nil
}

// IssuePair issues a fresh access/refresh token pair.
func (s *Service) IssuePair(ctx context.Context, p Principal) (Pair, error) {
	jti := uuid.NewString()
	access, accessExp, err := s.issue(p, TypeAccess, s.accessTTL, s.accessSecret, jti)
	if err != nil {
		return Pair{}, err
	}
	refresh, refreshExp, err := s.IssueRefreshToken(ctx, p)
	if err != nil {
		return Pair{}, err
	}
	return Pair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessTokenID:    jti,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (s *Service) issue(p Principal, typ Type, ttl time.Duration, secret []byte, jti string) (string, time.Time, error) {
	if p.AccountID == "" {
		return "", time.Time{}, errors.New("token: account id is required")
	}
	if !p.Role.Valid() {
		return "", time.Time{}, fmt.Errorf("token: invalid role %q", p.Role)
	}
	now := s.now().UTC()
	expiresAt := now.Add(ttl)
	version := p.TokenVersion
	claims := Claims{
		Role:         string(p.Role),
		TokenVersion: &version,
		TokenType:    string(typ),
		BranchID:     p.BranchID,
		DisplayName:  p.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			Subject:   p.AccountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        jti,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("token: sign: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify parses and validates a token of the expected type. HS256 is the
// single allowed algorithm; a token declaring anything else, "none"
// included, is rejected before any signature work. After the local checks
// it compares the embedded token version with the account's current value.
func (s *Service) Verify(ctx context.Context, raw string, expectedType Type) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrMalformedToken
	}
	secret := s.accessSecret
	if expectedType == TypeRefresh {
		secret = s.refreshSecret
	}

	claims := &Claims{}
	_, err := jwt.NewParser(
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return s.now() }),
	).ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrWrongAlgorithm
		}
		return secret, nil
	})
	if err != nil {
		return nil, mapParseError(err)
	}

	if claims.TokenType != string(expectedType) {
		return nil, ErrWrongTokenType
	}
	if claims.TokenVersion == nil {
		return nil, ErrMalformedToken
	}
	if _, err := accounts.ParseRole(claims.Role); err != nil {
		return nil, ErrMalformedToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrMalformedToken
	}

	current, err := s.currentVersion(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			return nil, ErrRevokedToken
		}
		// Store unavailable or timed out: fail closed.
		return nil, fmt.Errorf("token: version lookup: %w", err)
	}
	if current != *claims.TokenVersion {
		return nil, ErrRevokedToken
	}
	return claims, nil
}

// Rotate verifies a refresh token, consumes its stored record exactly
// once, and issues a new pair. Replaying an already-rotated refresh token
// returns ErrRefreshTokenReused together with the claimed principal, so
// the caller can log the signal and revoke the account's sessions.
func (s *Service) Rotate(ctx context.Context, rawRefresh string) (Pair, Principal, error) {
	claims, err := s.Verify(ctx, rawRefresh, TypeRefresh)
	if err != nil {
		return Pair{}, Principal{}, err
	}

	if _, err := s.store.ConsumeRefreshRecord(ctx, claims.ID); err != nil {
		switch {
		case errors.Is(err, accounts.ErrRefreshConsumed):
			// Return the claimed identity with the error so the caller can
			// revoke the whole session family of the replayed token.
			p, perr := claims.Principal()
			if perr != nil {
				p = Principal{AccountID: claims.Subject}
			}
			return Pair{}, p, ErrRefreshTokenReused
		case errors.Is(err, accounts.ErrNotFound):
			return Pair{}, Principal{}, ErrRevokedToken
		default:
			return Pair{}, Principal{}, fmt.Errorf("token: consume refresh record: %w", err)
		}
	}

	// Reload the account so the new pair reflects current role and version.
	acct, err := s.store.Find(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			return Pair{}, Principal{}, ErrRevokedToken
		}
		return Pair{}, Principal{}, fmt.Errorf("token: load account: %w", err)
	}
	if !acct.Active() {
		return Pair{}, Principal{}, ErrRevokedToken
	}
	principal := Principal{
		AccountID:    acct.ID,
		Role:         acct.Role,
		TokenVersion: acct.TokenVersion,
		BranchID:     acct.BranchID,
		DisplayName:  acct.DisplayName,
	}
	pair, err := s.IssuePair(ctx, principal)
	if err != nil {
		return Pair{}, Principal{}, err
	}
	return pair, principal, nil
}

// RevokeAll atomically bumps the account's token version. Every
// outstanding token for the account fails verification on next use, with
// no per-token bookkeeping.
func (s *Service) RevokeAll(ctx context.Context, accountID string) error {
	if _, err := s.store.IncrementTokenVersion(ctx, accountID); err != nil {
		return fmt.Errorf("token: revoke all: %w", err)
	}
	s.versions.invalidate(accountID)
	return nil
}

func (s *Service) currentVersion(ctx context.Context, accountID string) (int64, error) {
	if v, ok := s.versions.get(accountID); ok {
		return v, nil
	}
	lookupCtx, cancel := context.WithTimeout(ctx, s.lookupTimeout)
	defer cancel()
	v, err := s.store.TokenVersion(lookupCtx, accountID)
	if err != nil {
		return 0, err
	}
	s.versions.put(accountID, v)
	return v, nil
}

func mapParseError(err error) error {
	switch {
	case errors.Is(err, ErrWrongAlgorithm):
		return ErrWrongAlgorithm
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpiredToken
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrInvalidSignature
	default:
		return ErrMalformedToken
	}
}
