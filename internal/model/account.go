package model

import (
	"strings"
	"time"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleManager  Role = "manager"
	RoleAdmin    Role = "admin"
)

func ParseRole(raw string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleCustomer:
		return RoleCustomer, true
	case RoleManager:
		return RoleManager, true
	case RoleAdmin:
		return RoleAdmin, true
	default:
		return "", false
	}
}

type Account struct {
	ID             string     `json:"id"`
	Email          string     `json:"email"`
	PasswordHash   string     `json:"-"`
	Role           Role       `json:"role"`
	IsActive       bool       `json:"is_active"`
	FailedAttempts int        `json:"failed_attempts"`
	LockedUntil    *time.Time `json:"locked_until,omitempty"`
	LastLoginAt    *time.Time `json:"last_login_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// IsLocked reports whether the lockout window is still open at now.
func (a Account) IsLocked(now time.Time) bool {
	return a.LockedUntil != nil && now.Before(*a.LockedUntil)
}

// LockExpired reports whether a lockout was set and has since elapsed.
func (a Account) LockExpired(now time.Time) bool {
	return a.LockedUntil != nil && !now.Before(*a.LockedUntil)
}

func (a Account) Profile() AccountProfile {
	return AccountProfile{
		ID:          a.ID,
		Email:       a.Email,
		Role:        a.Role,
		LastLoginAt: a.LastLoginAt,
	}
}

// AccountUpdate is a partial update; nil fields are left untouched.
type AccountUpdate struct {
	PasswordHash *string
	Role         *Role
	IsActive     *bool
	LastLoginAt  *time.Time
}

func (u AccountUpdate) Empty() bool {
	return u.PasswordHash == nil && u.Role == nil && u.IsActive == nil && u.LastLoginAt == nil
}

type AccountProfile struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Role        Role       `json:"role"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// Identity is what the session middleware attaches to an authenticated request.
type Identity struct {
	AccountID string `json:"account_id"`
	Email     string `json:"email"`
	Role      Role   `json:"role"`
	SessionID string `json:"session_id"`
}
