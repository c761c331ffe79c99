package models

import "time"

// HomeRole is a member's role inside a home.
type HomeRole string

const (
	RoleAdmin  HomeRole = "ADMIN"
	RoleMember HomeRole = "MEMBER"
)

// User is an account holder. A user belongs to at most one active home at a
// time (HomeID nil = no home); IsAdmin mirrors the global admin flag, not the
// home role.
type User struct {
	ID                       string
	Name                     string
	Email                    string
	Phone                    *string
	PassHash                 []byte
	HomeID                   *string
	IsAdmin                  bool
	PixKey                   *string
	LastSeenAt               time.Time
	LastInactivityReminderAt *time.Time
	CreatedAt                time.Time
}

// Home is a shared household.
type Home struct {
	ID         string
	Name       string
	InviteCode string
	CreatedAt  time.Time
}

// HomeMember links a user to a home. CreatedAt defines the canonical member
// ordering used by the expense split engine.
type HomeMember struct {
	HomeID    string
	UserID    string
	Name      string
	Role      HomeRole
	CreatedAt time.Time
}

// Principal is the authenticated caller, produced once at the token boundary
// and passed explicitly instead of re-deriving claims ad hoc.
type Principal struct {
	ID        string
	Email     string
	HomeID    *string
	IsAdmin   bool
	TokenType string
	SessionID string
}
