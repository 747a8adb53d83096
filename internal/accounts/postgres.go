package accounts

import (
	"context"
	"database/sql"
	"strings"

	"campusgate.org/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL. The *sql.DB is expected to be
// opened with the pgx stdlib driver.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Find(ctx context.Context, id string) (*Account, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, role, branch_id, display_name, email, password_hash, token_version, status, created_at, updated_at
		 from accounts where id=$1`, id)
	return scanAccount(row)
}

func (s *PGStore) FindByEmail(ctx context.Context, email string) (*Account, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, role, branch_id, display_name, email, password_hash, token_version, status, created_at, updated_at
		 from accounts where email=$1`, strings.ToLower(strings.TrimSpace(email)))
	return scanAccount(row)
}

func (s *PGStore) TokenVersion(ctx context.Context, id string) (int64, error) {
	row := s.db.QueryRowContext(ctx, `select token_version from accounts where id=$1`, id)
	var version int64
	if err := row.Scan(&version); err != nil {
		if err == sql.ErrNoRows {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return version, nil
}

func (s *PGStore) IncrementTokenVersion(ctx context.Context, id string) (int64, error) {
	row := s.db.QueryRowContext(ctx,
		`update accounts set token_version = token_version + 1, updated_at = now()
		 where id=$1 returning token_version`, id)
	var version int64
	if err := row.Scan(&version); err != nil {
		if err == sql.ErrNoRows {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return version, nil
}

func (s *PGStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`update accounts set password_hash=$2, updated_at=now() where id=$1`, id, passwordHash)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) CreateResetToken(ctx context.Context, tok *ResetToken) error {
	if tok.ID == "" {
		tok.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into password_reset_tokens(id, account_id, token_hash, expires_at) values($1,$2,$3,$4)`,
		tok.ID, tok.AccountID, tok.TokenHash, tok.ExpiresAt,
	)
	return err
}

func (s *PGStore) CompletePasswordReset(ctx context.Context, tokenID, tokenHash, passwordHash string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	// Consume iff unconsumed, unexpired, and the secret hash matches.
	row := tx.QueryRowContext(ctx,
		`update password_reset_tokens set consumed_at = now()
		 where id=$1 and token_hash=$2 and consumed_at is null and expires_at > now()
		 returning account_id`, tokenID, tokenHash)
	var accountID string
	if err := row.Scan(&accountID); err != nil {
		if err == sql.ErrNoRows {
			return "", ErrResetTokenInvalid
		}
		return "", err
	}
	if _, err := tx.ExecContext(ctx,
		`update accounts set password_hash=$2, token_version = token_version + 1, updated_at = now()
		 where id=$1`, accountID, passwordHash); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return accountID, nil
}

func (s *PGStore) CreateRefreshRecord(ctx context.Context, rec *RefreshRecord) error {
	_, err := s.db.ExecContext(ctx,
		`insert into refresh_tokens(id, account_id, expires_at) values($1,$2,$3)`,
		rec.ID, rec.AccountID, rec.ExpiresAt,
	)
	return err
}

func (s *PGStore) ConsumeRefreshRecord(ctx context.Context, id string) (*RefreshRecord, error) {
	// Single atomic consume; the returning clause distinguishes "never
	// existed" from "already consumed".
	row := s.db.QueryRowContext(ctx,
		`update refresh_tokens set consumed_at = now()
		 where id=$1 and consumed_at is null
		 returning id, account_id, expires_at, consumed_at, created_at`, id)
	var rec RefreshRecord
	err := row.Scan(&rec.ID, &rec.AccountID, &rec.ExpiresAt, &rec.ConsumedAt, &rec.CreatedAt)
	if err == nil {
		return &rec, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	existing := s.db.QueryRowContext(ctx, `select 1 from refresh_tokens where id=$1`, id)
	var one int
	if scanErr := existing.Scan(&one); scanErr == nil {
		return nil, ErrRefreshConsumed
	}
	return nil, ErrNotFound
}

func scanAccount(row *sql.Row) (*Account, error) {
	var (
		a    Account
		role string
	)
	err := row.Scan(&a.ID, &role, &a.BranchID, &a.DisplayName, &a.Email, &a.PasswordHash,
		&a.TokenVersion, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	parsed, err := ParseRole(role)
	if err != nil {
		return nil, err
	}
	a.Role = parsed
	return &a, nil
}
