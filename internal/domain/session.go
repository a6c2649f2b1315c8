package domain

import "time"

// Session is the decrypted content of a session token.
// Only LastActivityAt changes after issue, and only through the session manager.
type Session struct {
	ID             string        `json:"id"`
	UserID         string        `json:"user_id"`
	Permissions    PermissionSet `json:"permissions"`
	CreatedAt      time.Time     `json:"created_at"`
	LastActivityAt time.Time     `json:"last_activity_at"`
	IntegrityTag   string        `json:"integrity_tag"`
	KeyVersion     uint32        `json:"key_version,omitempty"`
}

// Age returns how long ago the session was created.
func (s *Session) Age(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}

// SessionStatus is the outcome of session validation.
type SessionStatus string

const (
	SessionValid     SessionStatus = "VALID"
	SessionExpired   SessionStatus = "SESSION_EXPIRED"
	SessionTampered  SessionStatus = "SESSION_TAMPERED"
	SessionAnomalous SessionStatus = "ANOMALY_DETECTED"
	SessionTimeout   SessionStatus = "VALIDATION_TIMEOUT"

	// SessionUnscored means the anomaly scorer failed; the session is rejected.
	SessionUnscored SessionStatus = "ANOMALY_CHECK_FAILED"
)

// SessionValidation is the result of validating a session token.
type SessionValidation struct {
	Status       SessionStatus
	Session      *Session
	AnomalyScore float64
}

// Valid reports whether the session passed every check.
func (v SessionValidation) Valid() bool {
	return v.Status == SessionValid
}
