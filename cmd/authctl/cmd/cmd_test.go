package cmd

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"storefront/internal/app"
	"storefront/internal/kv"
	"storefront/internal/model"
	"storefront/internal/repository"
	"storefront/internal/service"
)

const password = "correct-horse-battery"

type memoryCore struct {
	core     *app.Core
	accounts *repository.MemoryAccountRepository
	ledger   *repository.RevocationLedger
}

// useMemoryCore points the commands at in-process stores for the duration
// of the test.
func useMemoryCore(t *testing.T) *memoryCore {
	t.Helper()

	store := kv.NewMemory()
	accounts := repository.NewMemoryAccountRepository()
	sessions := repository.NewSessionRegistry(store, time.Second)
	ledger := repository.NewRevocationLedger(store, time.Second)

	tokens, err := service.NewTokenService(service.TokenConfig{
		AccessSecret:  "access-secret-0123456789-0123456789",
		RefreshSecret: "refresh-secret-0123456789-0123456789",
		Issuer:        "storefront",
		Audience:      "storefront-web",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
	}, time.Now)
	require.NoError(t, err)

	hasher, err := service.NewPasswordHasher(bcrypt.MinCost)
	require.NoError(t, err)

	auth := service.NewAuthService(service.AuthDeps{
		Accounts: accounts,
		Sessions: sessions,
		Ledger:   ledger,
		Resets:   repository.NewResetTokenStore(store, time.Second),
		Tokens:   tokens,
		Gate:     service.NewLoginGate(accounts, hasher, service.LockoutPolicy{MaxFailedAttempts: 2, LockoutDuration: time.Hour}, nil, time.Now),
		Limiter:  service.NewRateLimiter(store, time.Second, time.Now),
		Hasher:   hasher,
	}, service.AuthConfig{
		SessionTTL: 24 * time.Hour,
		LoginLimit: service.RatePolicy{Max: 100, Window: time.Minute},
		ResetLimit: service.RatePolicy{Max: 100, Window: time.Minute},
		ResetTTL:   30 * time.Minute,
	})

	m := &memoryCore{
		core: &app.Core{
			Store:    store,
			Sessions: sessions,
			Ledger:   ledger,
			Tokens:   tokens,
			Auth:     auth,
			Admin:    service.NewAdminService(auth, nil),
		},
		accounts: accounts,
		ledger:   ledger,
	}

	previous := openCore
	openCore = func(*cobra.Command) (*app.Core, func(), error) {
		return m.core, func() {}, nil
	}
	t.Cleanup(func() { openCore = previous })
	return m
}

func (m *memoryCore) login(t *testing.T, email string, pass string) (model.TokenPair, error) {
	t.Helper()
	return m.core.Auth.Login(context.Background(), model.LoginRequest{Email: email, Password: pass}, model.ClientInfo{IP: "203.0.113.7"})
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestUnlockCommand(t *testing.T) {
	m := useMemoryCore(t)
	ctx := context.Background()
	account, err := m.core.Auth.CreateAccount(ctx, "locked@example.com", password, model.RoleCustomer)
	require.NoError(t, err)

	for range 2 {
		_, err := m.login(t, account.Email, "wrong-password")
		require.ErrorIs(t, err, model.ErrInvalidCredentials)
	}
	_, err = m.login(t, account.Email, password)
	require.ErrorIs(t, err, model.ErrAccountLocked)

	out, err := execute(t, "unlock", account.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "account "+account.ID+" unlocked")

	stored, err := m.accounts.FindByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.FailedAttempts)
	assert.Nil(t, stored.LockedUntil)

	_, err = m.login(t, account.Email, password)
	assert.NoError(t, err)

	_, err = execute(t, "unlock", "no-such-account")
	assert.ErrorIs(t, err, model.ErrAccountNotFound)
}

func TestRevokeSessionsCommand(t *testing.T) {
	m := useMemoryCore(t)
	ctx := context.Background()
	account, err := m.core.Auth.CreateAccount(ctx, "busy@example.com", password, model.RoleCustomer)
	require.NoError(t, err)

	first, err := m.login(t, account.Email, password)
	require.NoError(t, err)
	second, err := m.login(t, account.Email, password)
	require.NoError(t, err)

	out, err := execute(t, "sessions", account.ID)
	require.NoError(t, err)
	assert.Contains(t, out, first.SessionID)
	assert.Contains(t, out, second.SessionID)

	out, err = execute(t, "revoke-sessions", account.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "revoked 2 session(s) for account "+account.ID)

	for _, pair := range []model.TokenPair{first, second} {
		revoked, err := m.ledger.IsBlacklisted(ctx, pair.SessionID)
		require.NoError(t, err)
		assert.True(t, revoked)

		_, err = m.core.Auth.Refresh(ctx, pair.RefreshToken, model.ClientInfo{IP: "203.0.113.7"})
		assert.ErrorIs(t, err, model.ErrSessionRevoked)
	}

	out, err = execute(t, "revoke-sessions", account.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "revoked 0 session(s)")
}
