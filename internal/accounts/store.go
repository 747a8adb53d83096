package accounts

import (
	"context"
	"errors"
)

var (
	ErrNotFound          = errors.New("accounts: not found")
	ErrResetTokenInvalid = errors.New("accounts: reset token invalid or consumed")
	ErrRefreshConsumed   = errors.New("accounts: refresh record already consumed")
)

// Store describes the identity persistence the security core depends on.
// The business side of the school platform owns the full account schema;
// this interface is the narrow slice the core needs.
type Store interface {
	Find(ctx context.Context, id string) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)

	// TokenVersion returns the current revocation counter for the account.
	TokenVersion(ctx context.Context, id string) (int64, error)
	// IncrementTokenVersion atomically bumps the revocation counter and
	// returns the new value.
	IncrementTokenVersion(ctx context.Context, id string) (int64, error)

	UpdatePassword(ctx context.Context, id, passwordHash string) error

	CreateResetToken(ctx context.Context, tok *ResetToken) error
	// CompletePasswordReset consumes the reset token and installs the new
	// password hash in one transaction: consume + update + revocation bump
	// all commit or none do. A consumed, expired, or unknown token returns
	// ErrResetTokenInvalid.
	CompletePasswordReset(ctx context.Context, tokenID, tokenHash, passwordHash string) (accountID string, err error)

	CreateRefreshRecord(ctx context.Context, rec *RefreshRecord) error
	// ConsumeRefreshRecord marks the record consumed exactly once and
	// returns it. A second consume returns ErrRefreshConsumed, which the
	// token layer treats as replay of a rotated refresh token.
	ConsumeRefreshRecord(ctx context.Context, id string) (*RefreshRecord, error)
}
