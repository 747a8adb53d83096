package token

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"campusgate.org/internal/accounts"
)

const (
	testAccessSecret  = "access-secret-for-tests"
	testRefreshSecret = "refresh-secret-for-tests"
)

func newTestService(t *testing.T, opts ...Option) (*Service, *accounts.MemoryStore) {
	t.Helper()
	store := accounts.NewMemoryStore()
	store.Put(&accounts.Account{
		ID:           "acct-1",
		Role:         accounts.RoleTeacher,
		BranchID:     "branch-7",
		DisplayName:  "J. Rivera",
		Email:        "rivera@school.example",
		TokenVersion: 1,
		Status:       "active",
	})
	base := []Option{WithVersionCacheTTL(0)}
	svc, err := NewService(store, testAccessSecret, testRefreshSecret, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, store
}

func testPrincipal() Principal {
	return Principal{
		AccountID:    "acct-1",
		Role:         accounts.RoleTeacher,
		TokenVersion: 1,
		BranchID:     "branch-7",
		DisplayName:  "J. Rivera",
	}
}

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)

	raw, expiresAt, err := svc.IssueAccessToken(testPrincipal())
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	if !expiresAt.After(time.Now()) {
		t.Fatalf("expected future expiry, got %v", expiresAt)
	}

	claims, err := svc.Verify(context.Background(), raw, TypeAccess)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	p, err := claims.Principal()
	if err != nil {
		t.Fatalf("Principal: %v", err)
	}
	if p.AccountID != "acct-1" || p.Role != accounts.RoleTeacher || p.TokenVersion != 1 || p.BranchID != "branch-7" {
		t.Fatalf("principal does not round-trip: %+v", p)
	}
}

func TestVerifyRejectsForeignAlgorithms(t *testing.T) {
	svc, _ := newTestService(t)
	version := int64(1)
	claims := Claims{
		Role:         "teacher",
		TokenVersion: &version,
		TokenType:    "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "campusgate",
			Audience:  jwt.ClaimStrings{"campusgate-web"},
			Subject:   "acct-1",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			ID:        "jti-alg",
		},
	}

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testAccessSecret))
	if err != nil {
		t.Fatalf("sign HS512: %v", err)
	}
	if _, err := svc.Verify(context.Background(), hs512, TypeAccess); !errors.Is(err, ErrWrongAlgorithm) {
		t.Fatalf("expected ErrWrongAlgorithm for HS512, got %v", err)
	}

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := svc.Verify(context.Background(), none, TypeAccess); !errors.Is(err, ErrWrongAlgorithm) {
		t.Fatalf(`expected ErrWrongAlgorithm for alg "none", got %v`, err)
	}
}

func TestVerifyRejectsWrongSignature(t *testing.T) {
	svc, _ := newTestService(t)

	other, err := NewService(accounts.NewMemoryStore(), "attacker-access-secret", "attacker-refresh-secret")
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	forged, _, err := other.IssueAccessToken(testPrincipal())
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	if _, err := svc.Verify(context.Background(), forged, TypeAccess); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	current := time.Now()
	svc, _ := newTestService(t, WithClock(func() time.Time { return current }), WithTTLs(time.Minute, time.Hour))

	raw, _, err := svc.IssueAccessToken(testPrincipal())
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}

	current = current.Add(2 * time.Minute)
	if _, err := svc.Verify(context.Background(), raw, TypeAccess); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestVerifyRejectsMissingTokenVersion(t *testing.T) {
	svc, _ := newTestService(t)

	// Legacy-shaped token: valid signature, no token_version claim.
	legacy := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":        "acct-1",
		"role":       "teacher",
		"token_type": "access",
		"iss":        "campusgate",
		"aud":        "campusgate-web",
		"iat":        time.Now().Unix(),
		"exp":        time.Now().Add(time.Hour).Unix(),
		"jti":        "jti-legacy",
	})
	raw, err := legacy.SignedString([]byte(testAccessSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := svc.Verify(context.Background(), raw, TypeAccess); !errors.Is(err, ErrMalformedToken) {
		t.Fatalf("expected ErrMalformedToken for missing token_version, got %v", err)
	}
}

func TestVerifyRejectsWrongType(t *testing.T) {
	svc, _ := newTestService(t)

	// A token claiming type "refresh" but signed with the access secret
	// must fail the type check even though the signature verifies.
	version := int64(1)
	claims := Claims{
		Role:         "teacher",
		TokenVersion: &version,
		TokenType:    "refresh",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "campusgate",
			Audience:  jwt.ClaimStrings{"campusgate-web"},
			Subject:   "acct-1",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			ID:        "jti-type",
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testAccessSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := svc.Verify(context.Background(), raw, TypeAccess); !errors.Is(err, ErrWrongTokenType) {
		t.Fatalf("expected ErrWrongTokenType, got %v", err)
	}
}

func TestVerifyRejectsMalformed(t *testing.T) {
	svc, _ := newTestService(t)
	for _, raw := range []string{"", "   ", "not-a-token", "a.b", strings.Repeat("x", 64)} {
		if _, err := svc.Verify(context.Background(), raw, TypeAccess); !errors.Is(err, ErrMalformedToken) {
			t.Fatalf("expected ErrMalformedToken for %q, got %v", raw, err)
		}
	}
}

func TestRevocationInvalidatesOutstandingTokens(t *testing.T) {
	svc, _ := newTestService(t)

	raw, _, err := svc.IssueAccessToken(testPrincipal())
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	if _, err := svc.Verify(context.Background(), raw, TypeAccess); err != nil {
		t.Fatalf("Verify before revocation: %v", err)
	}

	if err := svc.RevokeAll(context.Background(), "acct-1"); err != nil {
		t.Fatalf("RevokeAll: %v", err)
	}
	if _, err := svc.Verify(context.Background(), raw, TypeAccess); !errors.Is(err, ErrRevokedToken) {
		t.Fatalf("expected ErrRevokedToken after revocation, got %v", err)
	}
}

func TestVersionCacheStalenessWindow(t *testing.T) {
	current := time.Now()
	store := accounts.NewMemoryStore()
	store.Put(&accounts.Account{
		ID: "acct-1", Role: accounts.RoleTeacher, TokenVersion: 1, Status: "active",
		Email: "rivera@school.example",
	})
	svc, err := NewService(store, testAccessSecret, testRefreshSecret,
		WithClock(func() time.Time { return current }),
		WithVersionCacheTTL(10*time.Second))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	raw, _, err := svc.IssueAccessToken(testPrincipal())
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	if _, err := svc.Verify(context.Background(), raw, TypeAccess); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	// Bump the version behind the cache's back: the stale entry keeps the
	// token valid until the window elapses.
	if _, err := store.IncrementTokenVersion(context.Background(), "acct-1"); err != nil {
		t.Fatalf("IncrementTokenVersion: %v", err)
	}
	if _, err := svc.Verify(context.Background(), raw, TypeAccess); err != nil {
		t.Fatalf("expected stale-cache verify to pass within window, got %v", err)
	}

	current = current.Add(11 * time.Second)
	if _, err := svc.Verify(context.Background(), raw, TypeAccess); !errors.Is(err, ErrRevokedToken) {
		t.Fatalf("expected ErrRevokedToken after cache expiry, got %v", err)
	}
}

func TestRotateIssuesNewPairAndDetectsReuse(t *testing.T) {
	svc, _ := newTestService(t)

	refresh, _, err := svc.IssueRefreshToken(context.Background(), testPrincipal())
	if err != nil {
		t.Fatalf("IssueRefreshToken: %v", err)
	}

	pair, principal, err := svc.Rotate(context.Background(), refresh)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected a full new pair")
	}
	if principal.AccountID != "acct-1" {
		t.Fatalf("unexpected principal %+v", principal)
	}
	if _, err := svc.Verify(context.Background(), pair.AccessToken, TypeAccess); err != nil {
		t.Fatalf("new access token should verify: %v", err)
	}

	// Replay of the rotated token is an attack signal.
	if _, _, err := svc.Rotate(context.Background(), refresh); !errors.Is(err, ErrRefreshTokenReused) {
		t.Fatalf("expected ErrRefreshTokenReused, got %v", err)
	}

	// The pair's refresh token still rotates normally.
	if _, _, err := svc.Rotate(context.Background(), pair.RefreshToken); err != nil {
		t.Fatalf("rotating the new refresh token: %v", err)
	}
}

func TestRotateRejectsAccessToken(t *testing.T) {
	svc, _ := newTestService(t)
	access, _, err := svc.IssueAccessToken(testPrincipal())
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	// Signed with the access secret, so against the refresh secret the
	// signature check fails first.
	if _, _, err := svc.Rotate(context.Background(), access); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

type failingStore struct {
	accounts.Store
}

func (f *failingStore) TokenVersion(context.Context, string) (int64, error) {
	return 0, errors.New("store unavailable")
}

func TestVerifyFailsClosedOnStoreError(t *testing.T) {
	svc, _ := newTestService(t)
	raw, _, err := svc.IssueAccessToken(testPrincipal())
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}

	broken, err := NewService(&failingStore{}, testAccessSecret, testRefreshSecret, WithVersionCacheTTL(0))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if _, err := broken.Verify(context.Background(), raw, TypeAccess); err == nil {
		t.Fatal("expected verification to fail closed when the store is down")
	}
}

func TestNewServiceRequiresDistinctSecrets(t *testing.T) {
	store := accounts.NewMemoryStore()
	if _, err := NewService(store, "same-secret", "same-secret"); err == nil {
		t.Fatal("expected distinct secrets to be enforced")
	}
	if _, err := NewService(store, "", "refresh"); err == nil {
		t.Fatal("expected missing secret to be rejected")
	}
}
