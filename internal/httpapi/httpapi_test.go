package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"campusgate.org/internal/accounts"
	"campusgate.org/internal/csrf"
	"campusgate.org/internal/password"
	"campusgate.org/internal/ratelimit"
	"campusgate.org/internal/seclog"
	"campusgate.org/internal/token"
)

const (
	testEmail    = "teacher@example.edu"
	testPassword = "CorrectHorse1"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type testEnv struct {
	api     *API
	handler http.Handler
	store   *accounts.MemoryStore
	events  *seclog.MemoryEventStore
	clock   *fakeClock
	pw      *password.Service
}

// lightParams keeps argon2id cheap enough for tests.
var lightParams = password.Params{
	Memory:      1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	clock := newFakeClock()
	store := accounts.NewMemoryStore()
	store.SetClock(clock.Now)
	events := seclog.NewMemoryEventStore()

	pw := password.NewService(password.WithParams(lightParams))
	hash, err := pw.Hash(context.Background(), testPassword)
	if err != nil {
		t.Fatalf("seed hash: %v", err)
	}
	store.Put(&accounts.Account{
		ID:           "acct-1",
		Role:         accounts.RoleTeacher,
		BranchID:     "branch-7",
		DisplayName:  "T. Teacher",
		Email:        testEmail,
		PasswordHash: hash,
		TokenVersion: 1,
		Status:       "active",
	})

	tokens, err := token.NewService(store, "access-secret", "refresh-secret",
		token.WithClock(clock.Now), token.WithVersionCacheTTL(0))
	if err != nil {
		t.Fatalf("token service: %v", err)
	}

	counters := ratelimit.NewMemoryCounterStore()
	counters.SetClock(clock.Now)

	csrfStore := csrf.NewMemoryStore()
	csrfStore.SetClock(clock.Now)

	nop := zerolog.Nop()
	api := New(Config{
		Store:     store,
		Tokens:    tokens,
		Passwords: pw,
		CSRF:      csrf.New(csrfStore),
		Limiter:   ratelimit.New(counters, ratelimit.WithClock(clock.Now)),
		Seclog:    seclog.NewLogger(events, seclog.WithZerolog(&nop), seclog.WithClock(clock.Now)),
		Monitor:   seclog.NewMonitor(events),
		Version:   "test",
		Clock:     clock.Now,
	})
	return &testEnv{
		api:     api,
		handler: api.Handler(),
		store:   store,
		events:  events,
		clock:   clock,
		pw:      pw,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, mutate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) login(t *testing.T) (tokenPairResponse, []*http.Cookie) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/v1/auth/login", loginRequest{
		Email:    testEmail,
		Password: testPassword,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status %d body %s", rec.Code, rec.Body.String())
	}
	var pair tokenPairResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &pair); err != nil {
		t.Fatalf("login: decode response: %v", err)
	}
	return pair, rec.Result().Cookies()
}

func withAuth(pair tokenPairResponse) func(*http.Request) {
	return func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	}
}

func mustBcrypt(t *testing.T, plaintext string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

func cookieByName(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}
