package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"campusgate.org/internal/accounts"
	"campusgate.org/internal/csrf"
	"campusgate.org/internal/obs"
	"campusgate.org/internal/seclog"
	"campusgate.org/internal/token"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenPairResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	CSRFToken        string    `json:"csrf_token"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	acct, err := a.store.FindByEmail(r.Context(), email)
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			a.recordLoginFailure(r, "", "unknown_account")
			writeError(w, r, http.StatusUnauthorized, "invalid credentials")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if !acct.Active() {
		a.recordLoginFailure(r, acct.ID, "inactive_account")
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if !a.passwords.Verify(req.Password, acct.PasswordHash) {
		obs.AuthRejected("bad_credentials")
		a.recordLoginFailure(r, acct.ID, "bad_credentials")
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}

	// Accounts still on the legacy hash format migrate here, the only
	// place the plaintext is available.
	if a.passwords.NeedsRehash(acct.PasswordHash) {
		if rehashed, err := a.passwords.Hash(r.Context(), req.Password); err == nil {
			if err := a.store.UpdatePassword(r.Context(), acct.ID, rehashed); err != nil {
				obs.Logger().Warn().Err(err).Str("account_id", acct.ID).Msg("rehash_update_failed")
			}
		}
	}

	pair, err := a.tokens.IssuePair(r.Context(), token.Principal{
		AccountID:    acct.ID,
		Role:         acct.Role,
		TokenVersion: acct.TokenVersion,
		BranchID:     acct.BranchID,
		DisplayName:  acct.DisplayName,
	})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	csrfToken, err := a.csrf.Issue(r.Context(), pair.AccessTokenID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	a.seclog.Record(r.Context(), seclog.Event{
		Type:      seclog.EventLoginSuccess,
		Status:    seclog.StatusSuccess,
		AccountID: acct.ID,
		Role:      string(acct.Role),
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	})
	a.seclog.Record(r.Context(), seclog.Event{
		Type:      seclog.EventTokenIssued,
		Status:    seclog.StatusSuccess,
		AccountID: acct.ID,
		Role:      string(acct.Role),
		IP:        clientIP(r),
	})

	a.setSessionCookies(w, pair, csrfToken)
	writeJSON(w, http.StatusOK, tokenPairResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		CSRFToken:        csrfToken,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	raw := ""
	if r.Header.Get("Content-Type") != "" || r.ContentLength > 0 {
		var req refreshRequest
		if err := decodeJSON(w, r, &req); err == nil {
			raw = strings.TrimSpace(req.RefreshToken)
		}
	}
	if raw == "" {
		if c, err := r.Cookie(refreshCookie); err == nil {
			raw = c.Value
		}
	}
	if raw == "" {
		writeError(w, r, http.StatusBadRequest, "refresh token is required")
		return
	}

	pair, principal, err := a.tokens.Rotate(r.Context(), raw)
	if err != nil {
		if errors.Is(err, token.ErrRefreshTokenReused) {
			// Replay of a rotated token: the family is considered stolen.
			obs.AuthRejected("refresh_reused")
			a.seclog.Record(r.Context(), seclog.Event{
				Type:      seclog.EventRefreshReused,
				Status:    seclog.StatusFailure,
				AccountID: principal.AccountID,
				Role:      string(principal.Role),
				IP:        clientIP(r),
				UserAgent: r.UserAgent(),
			})
			if principal.AccountID != "" {
				if revokeErr := a.tokens.RevokeAll(r.Context(), principal.AccountID); revokeErr != nil {
					obs.Logger().Error().Err(revokeErr).Str("account_id", principal.AccountID).Msg("revoke_after_reuse_failed")
				}
			}
			writeError(w, r, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		detail := rejectionDetail(err)
		obs.AuthRejected(detail)
		a.recordTokenRejection(r, detail)
		writeError(w, r, http.StatusUnauthorized, "invalid or expired token")
		return
	}

	csrfToken, err := a.csrf.Issue(r.Context(), pair.AccessTokenID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	a.seclog.Record(r.Context(), seclog.Event{
		Type:      seclog.EventTokenRotated,
		Status:    seclog.StatusSuccess,
		AccountID: principal.AccountID,
		Role:      string(principal.Role),
		IP:        clientIP(r),
	})

	a.setSessionCookies(w, pair, csrfToken)
	writeJSON(w, http.StatusOK, tokenPairResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		CSRFToken:        csrfToken,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	sess, ok := SessionFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	if err := a.tokens.RevokeAll(r.Context(), sess.Principal.AccountID); err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	a.seclog.Record(r.Context(), seclog.Event{
		Type:      seclog.EventRevocation,
		Status:    seclog.StatusSuccess,
		AccountID: sess.Principal.AccountID,
		Role:      string(sess.Principal.Role),
		IP:        clientIP(r),
	})
	a.clearSessionCookies(w)
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	sess, ok := SessionFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	csrfToken, err := a.csrf.Issue(r.Context(), sess.TokenID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	a.setCSRFCookie(w, csrfToken)
	writeJSON(w, http.StatusOK, map[string]any{"csrf_token": csrfToken})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	sess, ok := SessionFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account_id":   sess.Principal.AccountID,
		"role":         string(sess.Principal.Role),
		"branch_id":    sess.Principal.BranchID,
		"display_name": sess.Principal.DisplayName,
	})
}

func (a *API) recordLoginFailure(r *http.Request, accountID, detail string) {
	a.seclog.Record(r.Context(), seclog.Event{
		Type:      seclog.EventLoginFailure,
		Status:    seclog.StatusFailure,
		AccountID: accountID,
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
		Detail:    detail,
	})
}

func (a *API) setSessionCookies(w http.ResponseWriter, pair token.Pair, csrfToken string) {
	now := a.now().UTC()
	http.SetCookie(w, &http.Cookie{
		Name:     accessCookie,
		Value:    pair.AccessToken,
		Path:     "/",
		MaxAge:   int(pair.AccessExpiresAt.Sub(now).Seconds()),
		HttpOnly: true,
		Secure:   a.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	// The refresh token is scoped to the one endpoint that consumes it.
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Value:    pair.RefreshToken,
		Path:     "/v1/auth",
		MaxAge:   int(pair.RefreshExpiresAt.Sub(now).Seconds()),
		HttpOnly: true,
		Secure:   a.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
	a.setCSRFCookie(w, csrfToken)
}

// setCSRFCookie writes the script-readable half of the double-submit pair.
func (a *API) setCSRFCookie(w http.ResponseWriter, csrfToken string) {
	http.SetCookie(w, &http.Cookie{
		Name:     csrf.CookieName,
		Value:    csrfToken,
		Path:     "/",
		MaxAge:   int(a.csrf.TTL().Seconds()),
		HttpOnly: false,
		Secure:   a.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *API) clearSessionCookies(w http.ResponseWriter) {
	for _, c := range []http.Cookie{
		{Name: accessCookie, Path: "/"},
		{Name: refreshCookie, Path: "/v1/auth"},
		{Name: csrf.CookieName, Path: "/"},
	} {
		c.MaxAge = -1
		c.HttpOnly = c.Name != csrf.CookieName
		c.Secure = a.cookieSecure
		http.SetCookie(w, &c)
	}
}
