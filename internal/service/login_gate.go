package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"storefront/internal/model"
)

// AccountStore is the credential store the auth core depends on.
// IncrementFailedAttempts must be an atomic increment-and-fetch and
// LockUntil must only succeed when no lock is currently in force.
type AccountStore interface {
	FindByID(ctx context.Context, id string) (model.Account, error)
	FindByEmail(ctx context.Context, email string) (model.Account, error)
	Create(ctx context.Context, account model.Account) error
	Update(ctx context.Context, id string, update model.AccountUpdate) error
	IncrementFailedAttempts(ctx context.Context, id string) (int, error)
	LockUntil(ctx context.Context, id string, until time.Time, now time.Time) (bool, error)
	ClearExpiredLock(ctx context.Context, id string, now time.Time) (bool, error)
	ResetFailedAttempts(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

// Auditor receives security events. Record must not block.
type Auditor interface {
	Record(name string, accountID string, metadata map[string]any)
}

type nopAuditor struct{}

func (nopAuditor) Record(string, string, map[string]any) {}

type LockoutPolicy struct {
	MaxFailedAttempts int
	LockoutDuration   time.Duration
}

// LoginGate verifies passwords and drives the per-account lockout state
// machine. Unknown emails and wrong passwords are indistinguishable to the
// caller.
type LoginGate struct {
	accounts AccountStore
	hasher   *PasswordHasher
	policy   LockoutPolicy
	audit    Auditor
	now      func() time.Time
}

func NewLoginGate(accounts AccountStore, hasher *PasswordHasher, policy LockoutPolicy, audit Auditor, now func() time.Time) *LoginGate {
	if audit == nil {
		audit = nopAuditor{}
	}
	if now == nil {
		now = time.Now
	}
	return &LoginGate{
		accounts: accounts,
		hasher:   hasher,
		policy:   policy,
		audit:    audit,
		now:      now,
	}
}

// Authenticate returns the account when password matches. Failures are
// model.ErrInvalidCredentials, model.ErrAccountLocked,
// model.ErrAccountInactive or a wrapped model.ErrServiceUnavailable.
func (g *LoginGate) Authenticate(ctx context.Context, email string, password string) (model.Account, error) {
	account, err := g.accounts.FindByEmail(ctx, email)
	if errors.Is(err, model.ErrAccountNotFound) {
		g.hasher.CompareDummy(password)
		return model.Account{}, model.ErrInvalidCredentials
	}
	if err != nil {
		return model.Account{}, model.Unavailable("find account", err)
	}

	now := g.now()
	if account.IsLocked(now) {
		g.audit.Record("login.rejected_locked", account.ID, nil)
		return model.Account{}, model.ErrAccountLocked
	}

	if account.LockExpired(now) {
		if _, err := g.accounts.ClearExpiredLock(ctx, account.ID, now); err != nil {
			return model.Account{}, model.Unavailable("clear expired lock", err)
		}
		account.FailedAttempts = 0
		account.LockedUntil = nil
	}

	if !g.hasher.Compare(account.PasswordHash, password) {
		return model.Account{}, g.recordFailure(ctx, account, now)
	}

	if !account.IsActive {
		g.audit.Record("login.rejected_inactive", account.ID, nil)
		return model.Account{}, model.ErrAccountInactive
	}

	if err := g.accounts.ResetFailedAttempts(ctx, account.ID); err != nil {
		return model.Account{}, model.Unavailable("reset failed attempts", err)
	}
	loginAt := now.UTC()
	if err := g.accounts.Update(ctx, account.ID, model.AccountUpdate{LastLoginAt: &loginAt}); err != nil {
		slog.Warn("failed to record last login", "account_id", account.ID, "error", err)
	}

	account.FailedAttempts = 0
	account.LockedUntil = nil
	account.LastLoginAt = &loginAt
	return account, nil
}

func (g *LoginGate) recordFailure(ctx context.Context, account model.Account, now time.Time) error {
	attempts, err := g.accounts.IncrementFailedAttempts(ctx, account.ID)
	if err != nil {
		return model.Unavailable("increment failed attempts", err)
	}

	g.audit.Record("login.failed", account.ID, map[string]any{"attempts": attempts})

	if attempts < g.policy.MaxFailedAttempts {
		return model.ErrInvalidCredentials
	}

	until := now.Add(g.policy.LockoutDuration).UTC()
	locked, err := g.accounts.LockUntil(ctx, account.ID, until, now)
	if err != nil {
		return model.Unavailable("lock account", err)
	}
	if locked {
		slog.Warn("account locked", "account_id", account.ID, "attempts", attempts, "until", until)
		g.audit.Record("account.locked", account.ID, map[string]any{
			"attempts":     attempts,
			"locked_until": until.Format(time.RFC3339),
		})
	}

	return model.ErrInvalidCredentials
}

// Unlock clears lockout state regardless of expiry.
func (g *LoginGate) Unlock(ctx context.Context, accountID string, actorID string) error {
	if err := g.accounts.ResetFailedAttempts(ctx, accountID); err != nil {
		if errors.Is(err, model.ErrAccountNotFound) {
			return err
		}
		return model.Unavailable("unlock account", err)
	}
	g.audit.Record("account.unlocked", accountID, map[string]any{"actor_id": actorID})
	return nil
}
