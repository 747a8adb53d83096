package token

import (
	"github.com/golang-jwt/jwt/v5"

	"campusgate.org/internal/accounts"
)

// Type discriminates access tokens from refresh tokens. Each type is signed
// with its own secret and a token only verifies against the type the caller
// expects.
type Type string

const (
	TypeAccess  Type = "access"
	TypeRefresh Type = "refresh"
)

// Principal is the request-scoped identity reconstructed from a verified
// token. It is never persisted standalone.
type Principal struct {
	AccountID    string
	Role         accounts.Role
	TokenVersion int64
	BranchID     string
	DisplayName  string
}

// Claims is the signed claim set carried by both token types. TokenVersion
// is a pointer so that an absent claim is distinguishable from version
// zero: tokens without it predate revocation support and are always
// rejected.
type Claims struct {
	Role         string `json:"role"`
	TokenVersion *int64 `json:"token_version,omitempty"`
	TokenType    string `json:"token_type"`
	BranchID     string `json:"branch_id,omitempty"`
	DisplayName  string `json:"display_name,omitempty"`
	jwt.RegisteredClaims
}

// Principal converts verified claims back into a request principal.
func (c *Claims) Principal() (Principal, error) {
	role, err := accounts.ParseRole(c.Role)
	if err != nil {
		return Principal{}, ErrMalformedToken
	}
	if c.TokenVersion == nil {
		return Principal{}, ErrMalformedToken
	}
	return Principal{
		AccountID:    c.Subject,
		Role:         role,
		TokenVersion: *c.TokenVersion,
		BranchID:     c.BranchID,
		DisplayName:  c.DisplayName,
	}, nil
}
