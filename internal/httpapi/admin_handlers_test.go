package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"campusgate.org/internal/accounts"
)

func (e *testEnv) loginAs(t *testing.T, id string, role accounts.Role, email string) tokenPairResponse {
	t.Helper()
	hash, err := e.pw.Hash(context.Background(), testPassword)
	if err != nil {
		t.Fatal(err)
	}
	e.store.Put(&accounts.Account{
		ID:           id,
		Role:         role,
		Email:        email,
		PasswordHash: hash,
		TokenVersion: 1,
		Status:       "active",
	})
	rec := e.do(t, http.MethodPost, "/v1/auth/login", loginRequest{Email: email, Password: testPassword}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login as %s: %d %s", role, rec.Code, rec.Body.String())
	}
	var pair tokenPairResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &pair); err != nil {
		t.Fatal(err)
	}
	return pair
}

func TestSecurityAlertsRequiresCapability(t *testing.T) {
	env := newTestEnv(t)
	teacher, _ := env.login(t)

	rec := env.do(t, http.MethodGet, "/v1/admin/security/alerts", nil, withAuth(teacher))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("teacher: expected 403, got %d", rec.Code)
	}
}

func TestSecurityAlertsSurfacesFailedLogins(t *testing.T) {
	env := newTestEnv(t)
	admin := env.loginAs(t, "acct-admin", accounts.RoleAdmin, "admin@example.edu")

	// Five failed logins from one address trip the threshold. Recorded
	// directly so the auth-preset budget is not part of this test.
	for i := 0; i < 5; i++ {
		env.api.recordLoginFailure(&http.Request{RemoteAddr: "203.0.113.9:1000", Header: http.Header{}}, "", "bad_credentials")
	}

	rec := env.do(t, http.MethodGet, "/v1/admin/security/alerts", nil, withAuth(admin))
	if rec.Code != http.StatusOK {
		t.Fatalf("alerts: %d %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Alerts []alertResponse `json:"alerts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, a := range resp.Alerts {
		if a.Rule == "repeated_failed_logins" && a.Key == "203.0.113.9" && a.Severity == "HIGH" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a repeated_failed_logins alert, got %+v", resp.Alerts)
	}
}

func TestSecurityAlertsRejectsBadSince(t *testing.T) {
	env := newTestEnv(t)
	admin := env.loginAs(t, "acct-admin", accounts.RoleAdmin, "admin@example.edu")

	rec := env.do(t, http.MethodGet, "/v1/admin/security/alerts?since=yesterday", nil, withAuth(admin))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad since, got %d", rec.Code)
	}
}
