package model

import "time"

type TokenKind string

const (
	TokenAccess  TokenKind = "access"
	TokenRefresh TokenKind = "refresh"
)

// Claims are the application claims carried by both token kinds.
type Claims struct {
	AccountID string
	Email     string
	Role      Role
	SessionID string
	Kind      TokenKind
	IssuedAt  time.Time
	ExpiresAt time.Time
}

func (c Claims) Identity() Identity {
	return Identity{
		AccountID: c.AccountID,
		Email:     c.Email,
		Role:      c.Role,
		SessionID: c.SessionID,
	}
}

type TokenPair struct {
	AccessToken      string         `json:"access_token"`
	RefreshToken     string         `json:"refresh_token"`
	TokenType        string         `json:"token_type"`
	ExpiresIn        int64          `json:"expires_in"`
	RefreshExpiresAt time.Time      `json:"refresh_expires_at"`
	SessionID        string         `json:"-"`
	RememberMe       bool           `json:"-"`
	Account          AccountProfile `json:"account"`
}
