package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/kv"
	"storefront/internal/model"
)

var loginPolicy = RatePolicy{Max: 5, Window: 900 * time.Second}

func TestRateLimiterSixthAttemptRejected(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	limiter := NewRateLimiter(kv.NewMemory(kv.WithClock(clock.Now)), time.Second, clock.Now)
	ctx := context.Background()
	key := LoginKey("203.0.113.7", "Shopper@Example.com")
	windowEnd := clock.Now().Add(900 * time.Second)

	for i := range 5 {
		res, err := limiter.Check(ctx, key, loginPolicy)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "attempt %d", i+1)
		assert.Equal(t, 4-i, res.Remaining)
		assert.Equal(t, windowEnd, res.ResetAt)
		clock.Advance(time.Second)
	}

	_, err := limiter.Enforce(ctx, key, loginPolicy)
	require.ErrorIs(t, err, model.ErrRateLimited)

	var rateErr *model.RateLimitError
	require.True(t, errors.As(err, &rateErr))
	assert.Equal(t, windowEnd, rateErr.ResetAt)

	clock.Advance(895 * time.Second)
	res, err := limiter.Check(ctx, key, loginPolicy)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "a new window starts once the old one expires")
}

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	limiter := NewRateLimiter(kv.NewMemory(kv.WithClock(clock.Now)), time.Second, clock.Now)
	ctx := context.Background()

	for range 6 {
		_, _ = limiter.Check(ctx, LoginKey("203.0.113.7", "victim@example.com"), loginPolicy)
	}

	blocked, err := limiter.Check(ctx, LoginKey("203.0.113.7", "victim@example.com"), loginPolicy)
	require.NoError(t, err)
	assert.False(t, blocked.Allowed)

	otherAccount, err := limiter.Check(ctx, LoginKey("203.0.113.7", "someone@example.com"), loginPolicy)
	require.NoError(t, err)
	assert.True(t, otherAccount.Allowed)

	otherIP, err := limiter.Check(ctx, LoginKey("198.51.100.2", "victim@example.com"), loginPolicy)
	require.NoError(t, err)
	assert.True(t, otherIP.Allowed)

	assert.Equal(t, LoginKey("203.0.113.7", "VICTIM@example.com "), LoginKey("203.0.113.7", "victim@example.com"))
	assert.NotEqual(t, ResetKey("203.0.113.7"), LoginKey("203.0.113.7", ""))
}

// The limiter counts fixed windows anchored at the first hit. Up to
// 2*Max-1 attempts can land within a couple of seconds straddling a window
// edge. This test pins that behaviour so a switch to sliding windows is a
// deliberate change.
func TestRateLimiterFixedWindowBoundaryBurst(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	limiter := NewRateLimiter(kv.NewMemory(kv.WithClock(clock.Now)), time.Second, clock.Now)
	ctx := context.Background()
	key := ResetKey("203.0.113.7")

	res, err := limiter.Check(ctx, key, loginPolicy)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	clock.Advance(899 * time.Second)
	allowed := 0
	for range 4 {
		res, err := limiter.Check(ctx, key, loginPolicy)
		require.NoError(t, err)
		if res.Allowed {
			allowed++
		}
	}

	clock.Advance(time.Second)
	for range 5 {
		res, err := limiter.Check(ctx, key, loginPolicy)
		require.NoError(t, err)
		if res.Allowed {
			allowed++
		}
	}

	assert.Equal(t, 2*loginPolicy.Max-1, allowed, "fixed window admits a burst across the edge")
}

type failingCounter struct{ kv.Store }

func (failingCounter) IncrWindow(context.Context, string, time.Duration) (int64, time.Duration, error) {
	return 0, 0, context.DeadlineExceeded
}

func TestRateLimiterFailsClosed(t *testing.T) {
	t.Parallel()

	limiter := NewRateLimiter(failingCounter{}, time.Second, nil)

	_, err := limiter.Enforce(context.Background(), ResetKey("203.0.113.7"), loginPolicy)
	require.ErrorIs(t, err, model.ErrServiceUnavailable)
	assert.NotErrorIs(t, err, model.ErrRateLimited)
}
