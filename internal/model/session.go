package model

import "time"

// Session is the server-side record a token pair is bound to.
type Session struct {
	ID         string    `json:"id"`
	AccountID  string    `json:"account_id"`
	CreatedAt  time.Time `json:"created_at"`
	ClientIP   string    `json:"client_ip"`
	UserAgent  string    `json:"user_agent"`
	RememberMe bool      `json:"remember_me"`
	TTL        Duration  `json:"ttl"`
}

// Duration marshals as a Go duration string.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// ClientInfo is the per-request caller description assembled by the request
// context middleware.
type ClientInfo struct {
	IP        string
	UserAgent string
}

// RateLimitResult is the outcome of a fixed-window counter check.
type RateLimitResult struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}
