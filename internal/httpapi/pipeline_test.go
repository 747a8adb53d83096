package httpapi

import (
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"campusgate.org/internal/accounts"
	"campusgate.org/internal/ratelimit"
)

func probeStage(name string, order *[]string) Stage {
	return Stage{
		Name: name,
		Wrap: func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				*order = append(*order, name)
				next.ServeHTTP(w, r)
			})
		},
	}
}

func TestPipelineRunsStagesInDeclarationOrder(t *testing.T) {
	var order []string
	p := NewPipeline(
		probeStage("first", &order),
		probeStage("second", &order),
		probeStage("third", &order),
	)
	h := p.Then(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	want := []string{"first", "second", "third", "handler"}
	if !reflect.DeepEqual(order, want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	if names := p.Names(); !reflect.DeepEqual(names, []string{"first", "second", "third"}) {
		t.Fatalf("Names() = %v", names)
	}
}

func TestRejectingStageShortCircuits(t *testing.T) {
	env := newTestEnv(t)

	var reached bool
	h := NewPipeline(env.api.AuthenticateStage()).Then(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		reached = true
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/me", nil))

	if reached {
		t.Fatal("handler must not run after a rejecting stage")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthenticateStageStripsAndSetsIdentityHeaders(t *testing.T) {
	env := newTestEnv(t)
	pair, _ := env.login(t)

	var got http.Header
	h := NewPipeline(env.api.AuthenticateStage()).Then(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	// Spoofed identity headers must never survive the stage.
	req.Header.Set(headerUserID, "acct-evil")
	req.Header.Set(headerUserRole, "admin")
	req.Header.Set(headerBranchID, "branch-evil")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got.Get(headerUserID) != "acct-1" {
		t.Fatalf("%s = %q, want acct-1", headerUserID, got.Get(headerUserID))
	}
	if got.Get(headerUserRole) != "teacher" {
		t.Fatalf("%s = %q, want teacher", headerUserRole, got.Get(headerUserRole))
	}
	if got.Get(headerBranchID) != "branch-7" {
		t.Fatalf("%s = %q, want branch-7", headerBranchID, got.Get(headerBranchID))
	}
}

func TestRoleStagesDenyByDefault(t *testing.T) {
	env := newTestEnv(t)
	pair, _ := env.login(t)

	// Without a session in context the role stage denies outright.
	noSession := NewPipeline(env.api.RequireCapabilityStage(accounts.CapViewSecurityAlerts)).
		Then(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			t.Fatal("must not reach handler")
		}))
	rec := httptest.NewRecorder()
	noSession.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no session: expected 401, got %d", rec.Code)
	}

	// A teacher session lacks the alerts capability: 403.
	gated := NewPipeline(env.api.AuthenticateStage(), env.api.RequireCapabilityStage(accounts.CapViewSecurityAlerts)).
		Then(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			t.Fatal("must not reach handler")
		}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rec = httptest.NewRecorder()
	gated.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("teacher on admin route: expected 403, got %d", rec.Code)
	}
}

func TestRequireRoleStageAllowsListedRoles(t *testing.T) {
	env := newTestEnv(t)
	pair, _ := env.login(t)

	var reached bool
	h := NewPipeline(env.api.AuthenticateStage(), env.api.RequireRoleStage(accounts.RoleTeacher, accounts.RolePrincipal)).
		Then(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { reached = true }))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	h.ServeHTTP(httptest.NewRecorder(), req)
	if !reached {
		t.Fatal("listed role should pass")
	}
}

func TestRateLimitStageRunsBeforeAuthentication(t *testing.T) {
	env := newTestEnv(t)

	h := NewPipeline(env.api.RateLimitStage(ratelimit.PresetReset), env.api.AuthenticateStage()).
		Then(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	// Exhaust the reset budget without ever presenting credentials.
	var last int
	for i := 0; i < 4; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected the limiter to trip before authentication, got %d", last)
	}
}

func TestCSRFStageSkipsSafeMethods(t *testing.T) {
	env := newTestEnv(t)
	pair, _ := env.login(t)

	var reached bool
	h := NewPipeline(env.api.AuthenticateStage(), env.api.CSRFStage()).
		Then(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { reached = true }))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	h.ServeHTTP(httptest.NewRecorder(), req)
	if !reached {
		t.Fatal("GET must pass the csrf stage without tokens")
	}
}
