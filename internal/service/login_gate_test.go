package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/model"
)

func TestLoginGateLockout(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	acct := f.seedAccount(t, "locked@example.com")

	for i := range 5 {
		_, err := f.gate.Authenticate(ctx, acct.Email, "wrong-password")
		require.ErrorIs(t, err, model.ErrInvalidCredentials, "attempt %d", i+1)
	}

	stored := f.account(t, acct.ID)
	require.Equal(t, 5, stored.FailedAttempts)
	require.NotNil(t, stored.LockedUntil)
	lockedUntil := *stored.LockedUntil
	assert.Equal(t, f.clock.Now().Add(15*time.Minute), lockedUntil)
	assert.True(t, f.audit.Has("account.locked"))

	t.Run("correct password is rejected while locked", func(t *testing.T) {
		_, err := f.gate.Authenticate(ctx, acct.Email, testPassword)
		require.ErrorIs(t, err, model.ErrAccountLocked)
	})

	t.Run("attempts during lockout neither count nor extend it", func(t *testing.T) {
		f.clock.Advance(10 * time.Minute)
		_, err := f.gate.Authenticate(ctx, acct.Email, "wrong-password")
		require.ErrorIs(t, err, model.ErrAccountLocked)

		stored := f.account(t, acct.ID)
		assert.Equal(t, 5, stored.FailedAttempts)
		assert.Equal(t, lockedUntil, *stored.LockedUntil)
	})

	t.Run("lock lifts after the lockout duration", func(t *testing.T) {
		f.clock.Advance(5 * time.Minute)
		account, err := f.gate.Authenticate(ctx, acct.Email, testPassword)
		require.NoError(t, err)
		assert.Equal(t, acct.ID, account.ID)

		stored := f.account(t, acct.ID)
		assert.Zero(t, stored.FailedAttempts)
		assert.Nil(t, stored.LockedUntil)
		assert.NotNil(t, stored.LastLoginAt)
	})
}

func TestLoginGateExpiredLockStartsFresh(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	acct := f.seedAccount(t, "fresh@example.com")

	for range 5 {
		_, _ = f.gate.Authenticate(ctx, acct.Email, "wrong-password")
	}
	f.clock.Advance(16 * time.Minute)

	_, err := f.gate.Authenticate(ctx, acct.Email, "wrong-password")
	require.ErrorIs(t, err, model.ErrInvalidCredentials)

	stored := f.account(t, acct.ID)
	assert.Equal(t, 1, stored.FailedAttempts)
	assert.Nil(t, stored.LockedUntil)
}

func TestLoginGateSuccessResetsCounter(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	acct := f.seedAccount(t, "reset@example.com")

	for attempts := range 5 {
		for range attempts {
			_, err := f.gate.Authenticate(ctx, acct.Email, "wrong-password")
			require.ErrorIs(t, err, model.ErrInvalidCredentials)
		}
		require.Equal(t, attempts, f.account(t, acct.ID).FailedAttempts)

		_, err := f.gate.Authenticate(ctx, acct.Email, testPassword)
		require.NoError(t, err)
		require.Zero(t, f.account(t, acct.ID).FailedAttempts)
	}
}

func TestLoginGateDoesNotRevealAccounts(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.seedAccount(t, "known@example.com")

	_, unknownErr := f.gate.Authenticate(ctx, "nobody@example.com", testPassword)
	_, wrongErr := f.gate.Authenticate(ctx, "known@example.com", "wrong-password")

	assert.Equal(t, model.ErrInvalidCredentials, unknownErr)
	assert.Equal(t, model.ErrInvalidCredentials, wrongErr)
}

func TestLoginGateInactiveAccount(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	acct := f.seedAccount(t, "inactive@example.com")
	inactive := false
	require.NoError(t, f.accounts.Update(ctx, acct.ID, model.AccountUpdate{IsActive: &inactive}))

	_, err := f.gate.Authenticate(ctx, acct.Email, "wrong-password")
	assert.ErrorIs(t, err, model.ErrInvalidCredentials)

	_, err = f.gate.Authenticate(ctx, acct.Email, testPassword)
	assert.ErrorIs(t, err, model.ErrAccountInactive)
}

func TestLoginGateConcurrentFailuresLockOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	acct := f.seedAccount(t, "race@example.com")

	const attempts = 40

	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make(chan error, attempts)
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.gate.Authenticate(context.Background(), acct.Email, "wrong-password")
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	for err := range errs {
		ok := errors.Is(err, model.ErrInvalidCredentials) || errors.Is(err, model.ErrAccountLocked)
		assert.True(t, ok, "unexpected error %v", err)
	}

	stored := f.account(t, acct.ID)
	assert.Equal(t, 1, f.accounts.LockTransitions())
	assert.NotNil(t, stored.LockedUntil)
	assert.GreaterOrEqual(t, stored.FailedAttempts, 5)
	assert.LessOrEqual(t, stored.FailedAttempts, attempts)
}

func TestLoginGateUnlock(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	acct := f.seedAccount(t, "unlock@example.com")

	for range 5 {
		_, _ = f.gate.Authenticate(ctx, acct.Email, "wrong-password")
	}
	require.NoError(t, f.gate.Unlock(ctx, acct.ID, "admin-1"))

	_, err := f.gate.Authenticate(ctx, acct.Email, testPassword)
	require.NoError(t, err)

	assert.ErrorIs(t, f.gate.Unlock(ctx, "missing", "admin-1"), model.ErrAccountNotFound)
}
