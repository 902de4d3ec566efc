package service

import (
	"context"
	"strings"
	"time"

	"storefront/internal/kv"
	"storefront/internal/model"
)

const rateLimitPrefix = "ratelimit:"

type RatePolicy struct {
	Max    int
	Window time.Duration
}

// RateLimiter is a fixed-window counter on the shared store. The window
// starts at the first hit, so a caller can land up to 2*Max attempts around
// a window edge.
type RateLimiter struct {
	store   kv.Store
	timeout time.Duration
	now     func() time.Time
}

func NewRateLimiter(store kv.Store, timeout time.Duration, now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{store: store, timeout: timeout, now: now}
}

func (l *RateLimiter) Check(ctx context.Context, key string, policy RatePolicy) (model.RateLimitResult, error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	count, ttl, err := l.store.IncrWindow(ctx, rateLimitPrefix+key, policy.Window)
	if err != nil {
		return model.RateLimitResult{}, model.Unavailable("rate limit", err)
	}
	if ttl < 0 {
		ttl = policy.Window
	}

	return model.RateLimitResult{
		Allowed:   count <= int64(policy.Max),
		Limit:     policy.Max,
		Remaining: max(0, policy.Max-int(count)),
		ResetAt:   l.now().Add(ttl),
	}, nil
}

// Enforce is Check that turns a rejection into a *model.RateLimitError.
func (l *RateLimiter) Enforce(ctx context.Context, key string, policy RatePolicy) (model.RateLimitResult, error) {
	result, err := l.Check(ctx, key, policy)
	if err != nil {
		return result, err
	}
	if !result.Allowed {
		return result, &model.RateLimitError{ResetAt: result.ResetAt}
	}
	return result, nil
}

// LoginKey scopes login throttling to one client IP and one account.
func LoginKey(clientIP string, email string) string {
	return "login:" + clientIP + ":" + normalizeEmail(email)
}

// PasswordChangeKey scopes current-password checks to one account, whatever
// session or address they come from.
func PasswordChangeKey(accountID string) string {
	return "password_change:" + accountID
}

// ResetKey scopes password reset throttling to one client IP.
func ResetKey(clientIP string) string {
	return "reset:" + clientIP
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
