package accounts

import "time"

// Account represents a login-capable identity: staff, student, or guardian.
// TokenVersion is the per-account revocation counter; bumping it invalidates
// every outstanding token for the account at once.
type Account struct {
	ID           string
	Role         Role
	BranchID     string
	DisplayName  string
	Email        string
	PasswordHash string
	TokenVersion int64
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Active reports whether the account may authenticate.
func (a *Account) Active() bool {
	return a != nil && a.Status == "active"
}

// ResetToken is a single-use, time-bounded password reset grant. Only the
// hash of the secret is stored; the plaintext goes out of band to the user.
type ResetToken struct {
	ID         string
	AccountID  string
	TokenHash  string
	ExpiresAt  time.Time
	ConsumedAt *time.Time
	CreatedAt  time.Time
}

// RefreshRecord tracks one issued refresh token by its jti. Consuming the
// record is a one-time operation; a second consume attempt signals that a
// rotated token is being replayed.
type RefreshRecord struct {
	ID         string
	AccountID  string
	ExpiresAt  time.Time
	ConsumedAt *time.Time
	CreatedAt  time.Time
}
