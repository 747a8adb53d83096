package token

import "errors"

// Verification failures are typed so callers can log attack signals
// (wrong algorithm, bad signature, refresh reuse) at a different severity
// than routine session aging, while the client-facing response stays
// generic.
var (
	ErrMalformedToken     = errors.New("token: malformed")
	ErrWrongAlgorithm     = errors.New("token: wrong signing algorithm")
	ErrInvalidSignature   = errors.New("token: invalid signature")
	ErrExpiredToken       = errors.New("token: expired")
	ErrRevokedToken       = errors.New("token: revoked")
	ErrWrongTokenType     = errors.New("token: wrong token type")
	ErrRefreshTokenReused = errors.New("token: refresh token reused")
)
