package seclog

import "time"

// EventType names a security-relevant occurrence. Every gate in the
// authorization pipeline records one event per outcome, success and
// failure alike.
type EventType string

const (
	EventLoginSuccess    EventType = "login.success"
	EventLoginFailure    EventType = "login.failure"
	EventTokenIssued     EventType = "token.issued"
	EventTokenRejected   EventType = "token.rejected"
	EventTokenRotated    EventType = "token.rotated"
	EventRefreshReused   EventType = "token.refresh_reused"
	EventRevocation      EventType = "token.revoked_all"
	EventCSRFRejected    EventType = "csrf.rejected"
	EventRateLimited     EventType = "ratelimit.rejected"
	EventRoleDenied      EventType = "role.denied"
	EventPasswordReset   EventType = "password.reset"
	EventPasswordChanged EventType = "password.changed"
)

// Status of the recorded action.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Rejection reasons carried in Event.Detail for token rejections. Forgery
// signals get a higher severity during the monitoring scan than routine
// expiry.
const (
	DetailWrongAlgorithm   = "wrong_algorithm"
	DetailInvalidSignature = "invalid_signature"
	DetailExpired          = "expired"
	DetailRevoked          = "revoked"
	DetailMalformed        = "malformed"
	DetailWrongType        = "wrong_type"
)

// Event is one append-only security log record. The core never mutates or
// deletes recorded events.
type Event struct {
	ID         string
	OccurredAt time.Time
	AccountID  string
	Role       string
	Type       EventType
	Status     Status
	IP         string
	UserAgent  string
	Detail     string
}
