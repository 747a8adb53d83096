package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"campusgate.org/internal/accounts"
	"campusgate.org/internal/csrf"
	"campusgate.org/internal/obs"
	"campusgate.org/internal/password"
	"campusgate.org/internal/ratelimit"
	"campusgate.org/internal/seclog"
	"campusgate.org/internal/token"
)

// ReadyProbe is a readiness check, typically a DB ping.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Messenger delivers password-reset tokens out of band. The security core
// never returns a reset token in an HTTP response.
type Messenger interface {
	SendPasswordReset(ctx context.Context, email, tokenID, tok string) error
}

// API is the HTTP layer over the security core.
type API struct {
	mux *http.ServeMux

	store     accounts.Store
	tokens    *token.Service
	passwords *password.Service
	csrf      *csrf.Protection
	limiter   *ratelimit.Limiter
	seclog    *seclog.Logger
	monitor   *seclog.Monitor
	messenger Messenger

	readyProbe   ReadyProbe
	version      string
	cookieSecure bool
	now          func() time.Time
}

// Config collects the API's collaborators.
type Config struct {
	Store     accounts.Store
	Tokens    *token.Service
	Passwords *password.Service
	CSRF      *csrf.Protection
	Limiter   *ratelimit.Limiter
	Seclog    *seclog.Logger
	Monitor   *seclog.Monitor
	Messenger Messenger

	ReadyProbe ReadyProbe
	Version    string
	// CookieSecure marks issued cookies Secure; disable only for local
	// plain-HTTP development.
	CookieSecure bool
	Clock        func() time.Time
}

func New(cfg Config) *API {
	a := &API{
		mux:          http.NewServeMux(),
		store:        cfg.Store,
		tokens:       cfg.Tokens,
		passwords:    cfg.Passwords,
		csrf:         cfg.CSRF,
		limiter:      cfg.Limiter,
		seclog:       cfg.Seclog,
		monitor:      cfg.Monitor,
		messenger:    cfg.Messenger,
		readyProbe:   cfg.ReadyProbe,
		version:      cfg.Version,
		cookieSecure: cfg.CookieSecure,
		now:          cfg.Clock,
	}
	if a.now == nil {
		a.now = time.Now
	}

	authLimited := a.RateLimitStage(ratelimit.PresetAuth)
	apiLimited := a.RateLimitStage(ratelimit.PresetAPI)
	resetLimited := a.RateLimitStage(ratelimit.PresetReset)
	authed := a.AuthenticateStage()
	protected := a.CSRFStage()

	a.mux.Handle("/v1/auth/login",
		NewPipeline(authLimited).Then(http.HandlerFunc(a.handleLogin)))
	a.mux.Handle("/v1/auth/refresh",
		NewPipeline(authLimited).Then(http.HandlerFunc(a.handleRefresh)))
	a.mux.Handle("/v1/auth/logout",
		NewPipeline(apiLimited, authed, protected).Then(http.HandlerFunc(a.handleLogout)))
	a.mux.Handle("/v1/auth/csrf",
		NewPipeline(apiLimited, authed).Then(http.HandlerFunc(a.handleCSRFToken)))

	a.mux.Handle("/v1/auth/password/reset",
		NewPipeline(resetLimited).Then(http.HandlerFunc(a.handlePasswordResetRequest)))
	a.mux.Handle("/v1/auth/password/reset/complete",
		NewPipeline(resetLimited).Then(http.HandlerFunc(a.handlePasswordResetComplete)))
	a.mux.Handle("/v1/auth/password/change",
		NewPipeline(apiLimited, authed, protected).Then(http.HandlerFunc(a.handlePasswordChange)))

	a.mux.Handle("/v1/me",
		NewPipeline(apiLimited, authed).Then(http.HandlerFunc(a.handleMe)))
	a.mux.Handle("/v1/admin/security/alerts",
		NewPipeline(apiLimited, authed, a.RequireCapabilityStage(accounts.CapViewSecurityAlerts)).
			Then(http.HandlerFunc(a.handleSecurityAlerts)))

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = StripIdentityHeaders(h)
	h = MaxBodyBytes(h, 1<<20)
	h = IPThrottle(h, 100, 50)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "campusgate-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}
