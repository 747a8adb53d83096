package accounts

import (
	"context"
	"crypto/subtle"
	"strings"
	"sync"
	"time"

	"campusgate.org/internal/ids"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore implements Store in process memory. Used by tests and
// standalone runs without a database.
type MemoryStore struct {
	mu          sync.Mutex
	accounts    map[string]*Account
	byEmail     map[string]string
	resetTokens map[string]*ResetToken
	refresh     map[string]*RefreshRecord
	now         func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:    make(map[string]*Account),
		byEmail:     make(map[string]string),
		resetTokens: make(map[string]*ResetToken),
		refresh:     make(map[string]*RefreshRecord),
		now:         time.Now,
	}
}

// SetClock overrides the time source. Only intended for test use.
func (s *MemoryStore) SetClock(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = fn
}

// Put inserts or replaces an account.
func (s *MemoryStore) Put(a *Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = ids.New()
	}
	cp := *a
	s.accounts[a.ID] = &cp
	s.byEmail[strings.ToLower(a.Email)] = a.ID
}

func (s *MemoryStore) Find(_ context.Context, id string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) FindByEmail(_ context.Context, email string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.accounts[id]
	return &cp, nil
}

func (s *MemoryStore) TokenVersion(_ context.Context, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return 0, ErrNotFound
	}
	return a.TokenVersion, nil
}

func (s *MemoryStore) IncrementTokenVersion(_ context.Context, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return 0, ErrNotFound
	}
	a.TokenVersion++
	a.UpdatedAt = s.now()
	return a.TokenVersion, nil
}

func (s *MemoryStore) UpdatePassword(_ context.Context, id, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return ErrNotFound
	}
	a.PasswordHash = passwordHash
	a.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) CreateResetToken(_ context.Context, tok *ResetToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.ID == "" {
		tok.ID = ids.New()
	}
	if tok.CreatedAt.IsZero() {
		tok.CreatedAt = s.now()
	}
	cp := *tok
	s.resetTokens[tok.ID] = &cp
	return nil
}

func (s *MemoryStore) CompletePasswordReset(_ context.Context, tokenID, tokenHash, passwordHash string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.resetTokens[tokenID]
	if !ok || tok.ConsumedAt != nil || s.now().After(tok.ExpiresAt) {
		return "", ErrResetTokenInvalid
	}
	if subtle.ConstantTimeCompare([]byte(tok.TokenHash), []byte(tokenHash)) != 1 {
		return "", ErrResetTokenInvalid
	}
	a, ok := s.accounts[tok.AccountID]
	if !ok {
		return "", ErrResetTokenInvalid
	}
	now := s.now()
	tok.ConsumedAt = &now
	a.PasswordHash = passwordHash
	a.TokenVersion++
	a.UpdatedAt = now
	return a.ID, nil
}

func (s *MemoryStore) CreateRefreshRecord(_ context.Context, rec *RefreshRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	cp := *rec
	s.refresh[rec.ID] = &cp
	return nil
}

func (s *MemoryStore) ConsumeRefreshRecord(_ context.Context, id string) (*RefreshRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.refresh[id]
	if !ok {
		return nil, ErrNotFound
	}
	if rec.ConsumedAt != nil {
		return nil, ErrRefreshConsumed
	}
	now := s.now()
	rec.ConsumedAt = &now
	cp := *rec
	return &cp, nil
}
