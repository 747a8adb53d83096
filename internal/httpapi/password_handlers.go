package httpapi

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"campusgate.org/internal/accounts"
	"campusgate.org/internal/ids"
	"campusgate.org/internal/obs"
	"campusgate.org/internal/password"
	"campusgate.org/internal/seclog"
	"campusgate.org/internal/token"
)

const resetTokenTTL = 30 * time.Minute

type passwordResetRequest struct {
	Email string `json:"email"`
}

// handlePasswordResetRequest issues a single-use reset token and hands it
// to the messenger. The response is identical whether or not the address
// belongs to an account, so the endpoint cannot be used to probe for
// registered emails.
func (a *API) handlePasswordResetRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req passwordResetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		writeError(w, r, http.StatusBadRequest, "email is required")
		return
	}

	acct, err := a.store.FindByEmail(r.Context(), email)
	if err == nil && acct.Active() {
		raw, tokenHash, genErr := newResetToken()
		if genErr == nil {
			rec := &accounts.ResetToken{
				ID:        ids.New(),
				AccountID: acct.ID,
				TokenHash: tokenHash,
				ExpiresAt: a.now().UTC().Add(resetTokenTTL),
			}
			if err := a.store.CreateResetToken(r.Context(), rec); err != nil {
				obs.Logger().Error().Err(err).Str("account_id", acct.ID).Msg("reset_token_create_failed")
			} else {
				if a.messenger != nil {
					if err := a.messenger.SendPasswordReset(r.Context(), acct.Email, rec.ID, raw); err != nil {
						obs.Logger().Error().Err(err).Str("account_id", acct.ID).Msg("reset_token_delivery_failed")
					}
				}
				a.seclog.Record(r.Context(), seclog.Event{
					Type:      seclog.EventPasswordReset,
					Status:    seclog.StatusSuccess,
					AccountID: acct.ID,
					Role:      string(acct.Role),
					IP:        clientIP(r),
					Detail:    "requested",
				})
			}
		}
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "reset_requested",
	})
}

type passwordResetCompleteRequest struct {
	TokenID     string `json:"token_id"`
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// handlePasswordResetComplete consumes the reset token and installs the
// new hash. Consumption, hash update, and the revocation bump commit
// together, so a completed reset invalidates every outstanding session.
func (a *API) handlePasswordResetComplete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req passwordResetCompleteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.TokenID == "" || req.Token == "" {
		writeError(w, r, http.StatusBadRequest, "token_id and token are required")
		return
	}
	if err := password.ValidateStrength(req.NewPassword); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	newHash, err := a.passwords.Hash(r.Context(), req.NewPassword)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	accountID, err := a.store.CompletePasswordReset(r.Context(), req.TokenID, hashResetToken(req.Token), newHash)
	if err != nil {
		if errors.Is(err, accounts.ErrResetTokenInvalid) {
			a.seclog.Record(r.Context(), seclog.Event{
				Type:   seclog.EventPasswordReset,
				Status: seclog.StatusFailure,
				IP:     clientIP(r),
				Detail: "invalid_token",
			})
			writeError(w, r, http.StatusBadRequest, "reset token is invalid or expired")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	a.seclog.Record(r.Context(), seclog.Event{
		Type:      seclog.EventPasswordChanged,
		Status:    seclog.StatusSuccess,
		AccountID: accountID,
		IP:        clientIP(r),
		Detail:    "reset",
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "password_updated"})
}

type passwordChangeRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// handlePasswordChange verifies the current password before installing the
// new one, then revokes every other session and hands back fresh tokens.
func (a *API) handlePasswordChange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	sess, ok := SessionFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req passwordChangeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := password.ValidateStrength(req.NewPassword); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	acct, err := a.store.Find(r.Context(), sess.Principal.AccountID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if !a.passwords.Verify(req.CurrentPassword, acct.PasswordHash) {
		obs.AuthRejected("bad_credentials")
		a.recordLoginFailure(r, acct.ID, "bad_current_password")
		writeError(w, r, http.StatusForbidden, "current password is incorrect")
		return
	}

	newHash, err := a.passwords.Hash(r.Context(), req.NewPassword)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if err := a.store.UpdatePassword(r.Context(), acct.ID, newHash); err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if err := a.tokens.RevokeAll(r.Context(), acct.ID); err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	// Reload so the fresh pair carries the bumped token version.
	acct, err = a.store.Find(r.Context(), acct.ID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
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
		Type:      seclog.EventPasswordChanged,
		Status:    seclog.StatusSuccess,
		AccountID: acct.ID,
		Role:      string(acct.Role),
		IP:        clientIP(r),
		Detail:    "change",
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

// newResetToken returns the raw token for delivery and the hash that gets
// stored. Only the hash ever touches persistence.
func newResetToken() (raw, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	raw = base64.RawURLEncoding.EncodeToString(buf)
	return raw, hashResetToken(raw), nil
}

func hashResetToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
