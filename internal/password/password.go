package password

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// ErrWeakPassword indicates the candidate password failed the strength rules.
var ErrWeakPassword = errors.New("password: too weak")

var errMalformedHash = errors.New("password: malformed hash")

// Params holds argon2id cost parameters. They are embedded into every
// produced hash, so stored hashes remain verifiable after a cost change.
type Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams follows the RFC 9106 second recommended option.
var DefaultParams = Params{
	Memory:      64 * 1024,
	Iterations:  3,
	Parallelism: 2,
	SaltLength:  16,
	KeyLength:   32,
}

const defaultMaxConcurrent = 4

// Service hashes and verifies credentials. Hashing is deliberately
// expensive, so concurrent hashes are bounded by a semaphore to keep one
// slow hash from stalling unrelated request workers.
type Service struct {
	params Params
	sem    chan struct{}
}

// Option configures Service behavior.
type Option func(*Service)

// WithParams overrides the argon2id cost parameters.
func WithParams(p Params) Option {
	return func(s *Service) {
		s.params = p
	}
}

// WithMaxConcurrent bounds the number of hashes computed in parallel.
func WithMaxConcurrent(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.sem = make(chan struct{}, n)
		}
	}
}

// NewService constructs a Service with optional configuration.
func NewService(opts ...Option) *Service {
	s := &Service{
		params: DefaultParams,
		sem:    make(chan struct{}, defaultMaxConcurrent),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Hash derives an argon2id hash in self-describing PHC format:
// $argon2id$v=19$m=65536,t=3,p=2$<salt>$<hash>.
// It blocks while all hashing slots are busy; ctx cancellation while
// queued aborts without computing.
func (s *Service) Hash(ctx context.Context, plaintext string) (string, error) {
	if plaintext == "" {
		return "", errors.New("password: empty password")
	}
	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	salt := make([]byte, s.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(plaintext), salt, s.params.Iterations, s.params.Memory, s.params.Parallelism, s.params.KeyLength)

	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Key := base64.RawStdEncoding.EncodeToString(key)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, s.params.Memory, s.params.Iterations, s.params.Parallelism,
		b64Salt, b64Key), nil
}

// Verify reports whether plaintext matches the stored hash. The algorithm
// is selected from the hash prefix: argon2id for current hashes, bcrypt
// for the legacy format still present on unmigrated accounts. Malformed
// hashes verify false rather than erroring.
func (s *Service) Verify(plaintext, stored string) bool {
	switch {
	case strings.HasPrefix(stored, "$argon2id$"):
		ok, err := verifyArgon2id(plaintext, stored)
		return err == nil && ok
	case isBcryptHash(stored):
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(plaintext)) == nil
	default:
		return false
	}
}

// NeedsRehash reports whether a stored hash should be recomputed under the
// current algorithm and parameters. Legacy bcrypt hashes always qualify;
// argon2id hashes qualify when their embedded cost differs from the
// configured one. Callers rehash on the next successful login.
func (s *Service) NeedsRehash(stored string) bool {
	if isBcryptHash(stored) {
		return true
	}
	p, _, _, err := decodeArgon2id(stored)
	if err != nil {
		return false
	}
	return p.Memory != s.params.Memory ||
		p.Iterations != s.params.Iterations ||
		p.Parallelism != s.params.Parallelism
}

const minLength = 10

// ValidateStrength applies the composition rules for new passwords. It is
// used before accepting a reset or change, never at login time.
func ValidateStrength(plaintext string) error {
	if len(plaintext) < minLength {
		return fmt.Errorf("%w: must be at least %d characters", ErrWeakPassword, minLength)
	}
	var hasLetter, hasDigit bool
	for _, r := range plaintext {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return fmt.Errorf("%w: must contain letters and digits", ErrWeakPassword)
	}
	return nil
}

func isBcryptHash(stored string) bool {
	return strings.HasPrefix(stored, "$2a$") ||
		strings.HasPrefix(stored, "$2b$") ||
		strings.HasPrefix(stored, "$2y$")
}

func verifyArgon2id(plaintext, stored string) (bool, error) {
	p, salt, key, err := decodeArgon2id(stored)
	if err != nil {
		return false, err
	}
	other := argon2.IDKey([]byte(plaintext), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)
	return subtle.ConstantTimeCompare(key, other) == 1, nil
}

func decodeArgon2id(stored string) (Params, []byte, []byte, error) {
	parts := strings.Split(stored, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return Params{}, nil, nil, errMalformedHash
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return Params{}, nil, nil, errMalformedHash
	}
	if version != argon2.Version {
		return Params{}, nil, nil, errMalformedHash
	}
	var p Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Iterations, &p.Parallelism); err != nil {
		return Params{}, nil, nil, errMalformedHash
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return Params{}, nil, nil, errMalformedHash
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return Params{}, nil, nil, errMalformedHash
	}
	p.SaltLength = uint32(len(salt))
	p.KeyLength = uint32(len(key))
	return p, salt, key, nil
}
