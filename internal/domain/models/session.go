package models

import "time"

// SessionState is the lifecycle state of a refresh session, computed from the
// stored timestamps. Revoked and Expired are terminal.
type SessionState int

const (
	SessionActive SessionState = iota
	SessionRevoked
	SessionExpired
)

func (s SessionState) String() string {
	switch s {
	case SessionActive:
		return "active"
	case SessionRevoked:
		return "revoked"
	case SessionExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// RefreshSession is one issued refresh-token lineage. TokenHash holds the
// hash of the currently valid refresh token, never the raw token. Sessions
// are soft-revoked and retained for audit.
type RefreshSession struct {
	ID                  string
	UserID              string
	TokenHash           string
	ExpiresAt           time.Time
	RevokedAt           *time.Time
	ReplacedBySessionID *string
	IPAddress           *string
	UserAgent           *string
	LastUsedAt          *time.Time
	CreatedAt           time.Time
}

// State reports the session state at the given instant.
func (s *RefreshSession) State(now time.Time) SessionState {
	if s.RevokedAt != nil {
		return SessionRevoked
	}
	if !s.ExpiresAt.After(now) {
		return SessionExpired
	}
	return SessionActive
}

// SessionInfo is the caller-visible view of an active session.
type SessionInfo struct {
	ID         string
	CreatedAt  time.Time
	LastUsedAt *time.Time
	ExpiresAt  time.Time
	IPAddress  *string
	UserAgent  *string
	Current    bool
}

// PasswordResetToken is a single-use, short-lived recovery credential.
type PasswordResetToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}
