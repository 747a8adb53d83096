package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"campusgate.org/internal/accounts"
	"campusgate.org/internal/csrf"
	"campusgate.org/internal/obs"
	"campusgate.org/internal/ratelimit"
	"campusgate.org/internal/seclog"
	"campusgate.org/internal/token"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "

	accessCookie  = "access_token"
	refreshCookie = "refresh_token"

	headerUserID   = "X-User-Id"
	headerUserRole = "X-User-Role"
	headerBranchID = "X-Branch-Id"
)

// Session is the authenticated request identity: the verified principal
// plus the access token's id, which keys the session's anti-forgery token.
type Session struct {
	Principal token.Principal
	TokenID   string
}

// SessionFromContext returns the authenticated session, or ok=false on
// routes that never passed the authenticate stage.
func SessionFromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(ctxKeySession).(Session)
	return s, ok
}

// Stage is one named gate of the authorization pipeline. A stage either
// passes the request to next or writes the rejection itself; there is no
// third outcome.
type Stage struct {
	Name string
	Wrap func(next http.Handler) http.Handler
}

// Pipeline applies its stages in declaration order around a handler. The
// canonical order is rate limit, authenticate, role, csrf, handler; a
// stage that rejects short-circuits everything after it.
type Pipeline struct {
	stages []Stage
}

func NewPipeline(stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages}
}

// Then wraps the handler with the pipeline's stages.
func (p *Pipeline) Then(h http.Handler) http.Handler {
	for i := len(p.stages) - 1; i >= 0; i-- {
		h = p.stages[i].Wrap(h)
	}
	return h
}

// Names returns the stage names in execution order.
func (p *Pipeline) Names() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name
	}
	return names
}

// RateLimitStage bounds request rate per (client IP, preset) and answers
// 429 with Retry-After when the window budget is spent.
func (a *API) RateLimitStage(preset ratelimit.Preset) Stage {
	return Stage{
		Name: "ratelimit:" + preset.Name,
		Wrap: func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				decision, err := a.limiter.Check(r.Context(), clientIP(r), preset)
				if err != nil {
					// Counter store down: fail closed.
					writeError(w, r, http.StatusServiceUnavailable, "try again later")
					return
				}
				if !decision.Allowed {
					obs.RateLimited(preset.Name)
					a.seclog.Record(r.Context(), seclog.Event{
						Type:   seclog.EventRateLimited,
						Status: seclog.StatusFailure,
						IP:     clientIP(r),
						Detail: preset.Name,
					})
					w.Header().Set("Retry-After", strconv.Itoa(int(decision.RetryAfter.Seconds())+1))
					writeError(w, r, http.StatusTooManyRequests, "rate limit exceeded")
					return
				}
				next.ServeHTTP(w, r)
			})
		},
	}
}

// AuthenticateStage verifies the access token, rejects with 401 on any
// failure, and threads the session through context and trusted identity
// headers. Inbound copies of those headers are discarded first.
func (a *API) AuthenticateStage() Stage {
	return Stage{
		Name: "authenticate",
		Wrap: func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				r.Header.Del(headerUserID)
				r.Header.Del(headerUserRole)
				r.Header.Del(headerBranchID)

				raw, err := extractAccessToken(r)
				if err != nil {
					obs.AuthRejected("missing")
					a.recordTokenRejection(r, seclog.DetailMalformed)
					writeError(w, r, http.StatusUnauthorized, "authentication required")
					return
				}

				claims, err := a.tokens.Verify(r.Context(), raw, token.TypeAccess)
				if err != nil {
					detail := rejectionDetail(err)
					obs.AuthRejected(detail)
					a.recordTokenRejection(r, detail)
					writeError(w, r, http.StatusUnauthorized, "invalid or expired token")
					return
				}
				principal, err := claims.Principal()
				if err != nil {
					obs.AuthRejected(seclog.DetailMalformed)
					a.recordTokenRejection(r, seclog.DetailMalformed)
					writeError(w, r, http.StatusUnauthorized, "invalid or expired token")
					return
				}

				r.Header.Set(headerUserID, principal.AccountID)
				r.Header.Set(headerUserRole, string(principal.Role))
				if principal.BranchID != "" {
					r.Header.Set(headerBranchID, principal.BranchID)
				}
				ctx := context.WithValue(r.Context(), ctxKeySession, Session{
					Principal: principal,
					TokenID:   claims.ID,
				})
				next.ServeHTTP(w, r.WithContext(ctx))
			})
		},
	}
}

// RequireRoleStage allows only sessions whose role is in the given set.
// Without an authenticated session the request is denied outright.
func (a *API) RequireRoleStage(roles ...accounts.Role) Stage {
	allowed := make(map[accounts.Role]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return Stage{
		Name: "role",
		Wrap: func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				sess, ok := SessionFromContext(r.Context())
				if !ok {
					writeError(w, r, http.StatusUnauthorized, "authentication required")
					return
				}
				if _, ok := allowed[sess.Principal.Role]; !ok {
					a.seclog.Record(r.Context(), seclog.Event{
						Type:      seclog.EventRoleDenied,
						Status:    seclog.StatusFailure,
						AccountID: sess.Principal.AccountID,
						Role:      string(sess.Principal.Role),
						IP:        clientIP(r),
						Detail:    r.URL.Path,
					})
					writeError(w, r, http.StatusForbidden, "insufficient role")
					return
				}
				next.ServeHTTP(w, r)
			})
		},
	}
}

// RequireCapabilityStage allows only sessions whose role holds the
// capability.
func (a *API) RequireCapabilityStage(cap accounts.Capability) Stage {
	return Stage{
		Name: "role",
		Wrap: func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				sess, ok := SessionFromContext(r.Context())
				if !ok {
					writeError(w, r, http.StatusUnauthorized, "authentication required")
					return
				}
				if !sess.Principal.Role.Can(cap) {
					a.seclog.Record(r.Context(), seclog.Event{
						Type:      seclog.EventRoleDenied,
						Status:    seclog.StatusFailure,
						AccountID: sess.Principal.AccountID,
						Role:      string(sess.Principal.Role),
						IP:        clientIP(r),
						Detail:    string(cap),
					})
					writeError(w, r, http.StatusForbidden, "insufficient role")
					return
				}
				next.ServeHTTP(w, r)
			})
		},
	}
}

// CSRFStage enforces the double-submit check on mutating requests. Safe
// methods pass through untouched.
func (a *API) CSRFStage() Stage {
	return Stage{
		Name: "csrf",
		Wrap: func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				switch r.Method {
				case http.MethodGet, http.MethodHead, http.MethodOptions:
					next.ServeHTTP(w, r)
					return
				}
				sess, ok := SessionFromContext(r.Context())
				if !ok {
					writeError(w, r, http.StatusUnauthorized, "authentication required")
					return
				}
				var cookieValue string
				if c, err := r.Cookie(csrf.CookieName); err == nil {
					cookieValue = c.Value
				}
				supplied := r.Header.Get(csrf.HeaderName)
				if supplied == "" {
					supplied = r.PostFormValue(csrf.ParamName)
				}
				if err := a.csrf.Validate(r.Context(), sess.TokenID, cookieValue, supplied); err != nil {
					obs.CSRFRejected()
					a.seclog.Record(r.Context(), seclog.Event{
						Type:      seclog.EventCSRFRejected,
						Status:    seclog.StatusFailure,
						AccountID: sess.Principal.AccountID,
						Role:      string(sess.Principal.Role),
						IP:        clientIP(r),
						UserAgent: r.UserAgent(),
					})
					writeError(w, r, http.StatusForbidden, "csrf validation failed")
					return
				}
				next.ServeHTTP(w, r)
			})
		},
	}
}

func (a *API) recordTokenRejection(r *http.Request, detail string) {
	a.seclog.Record(r.Context(), seclog.Event{
		Type:      seclog.EventTokenRejected,
		Status:    seclog.StatusFailure,
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
		Detail:    detail,
	})
}

func rejectionDetail(err error) string {
	switch {
	case errors.Is(err, token.ErrWrongAlgorithm):
		return seclog.DetailWrongAlgorithm
	case errors.Is(err, token.ErrInvalidSignature):
		return seclog.DetailInvalidSignature
	case errors.Is(err, token.ErrExpiredToken):
		return seclog.DetailExpired
	case errors.Is(err, token.ErrRevokedToken):
		return seclog.DetailRevoked
	case errors.Is(err, token.ErrWrongTokenType):
		return seclog.DetailWrongType
	default:
		return seclog.DetailMalformed
	}
}

func extractAccessToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get(authHeader))
	if header != "" {
		if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
			return "", errors.New("invalid authorization scheme")
		}
		tok := strings.TrimSpace(header[len(bearer):])
		if tok == "" {
			return "", errors.New("missing bearer token")
		}
		return tok, nil
	}
	if c, err := r.Cookie(accessCookie); err == nil && c.Value != "" {
		return c.Value, nil
	}
	return "", errors.New("missing bearer token")
}
