package repository

import (
	"context"
	"strings"
	"sync"
	"time"

	"storefront/internal/model"
)

// MemoryAccountRepository mirrors AccountRepository's semantics in memory,
// including the atomic counter and conditional lock writes.
type MemoryAccountRepository struct {
	mu       sync.Mutex
	accounts map[string]model.Account
	locks    int
}

func NewMemoryAccountRepository() *MemoryAccountRepository {
	return &MemoryAccountRepository{accounts: map[string]model.Account{}}
}

func (r *MemoryAccountRepository) FindByID(_ context.Context, id string) (model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return model.Account{}, model.ErrAccountNotFound
	}
	return copyAccount(a), nil
}

func (r *MemoryAccountRepository) FindByEmail(_ context.Context, email string) (model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToLower(strings.TrimSpace(email))
	for _, a := range r.accounts {
		if strings.ToLower(a.Email) == key {
			return copyAccount(a), nil
		}
	}
	return model.Account{}, model.ErrAccountNotFound
}

func (r *MemoryAccountRepository) Create(_ context.Context, a model.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.accounts {
		if strings.EqualFold(existing.Email, a.Email) {
			return model.ErrEmailTaken
		}
	}
	r.accounts[a.ID] = copyAccount(a)
	return nil
}

func (r *MemoryAccountRepository) Update(_ context.Context, id string, u model.AccountUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return model.ErrAccountNotFound
	}
	if u.PasswordHash != nil {
		a.PasswordHash = *u.PasswordHash
	}
	if u.Role != nil {
		a.Role = *u.Role
	}
	if u.IsActive != nil {
		a.IsActive = *u.IsActive
	}
	if u.LastLoginAt != nil {
		at := *u.LastLoginAt
		a.LastLoginAt = &at
	}
	a.UpdatedAt = time.Now().UTC()
	r.accounts[id] = a
	return nil
}

func (r *MemoryAccountRepository) IncrementFailedAttempts(_ context.Context, id string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return 0, model.ErrAccountNotFound
	}
	a.FailedAttempts++
	r.accounts[id] = a
	return a.FailedAttempts, nil
}

func (r *MemoryAccountRepository) LockUntil(_ context.Context, id string, until time.Time, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return false, model.ErrAccountNotFound
	}
	if a.LockedUntil != nil && a.LockedUntil.After(now) {
		return false, nil
	}
	a.LockedUntil = &until
	r.accounts[id] = a
	r.locks++
	return true, nil
}

func (r *MemoryAccountRepository) ClearExpiredLock(_ context.Context, id string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return false, model.ErrAccountNotFound
	}
	if a.LockedUntil == nil || a.LockedUntil.After(now) {
		return false, nil
	}
	a.FailedAttempts = 0
	a.LockedUntil = nil
	r.accounts[id] = a
	return true, nil
}

func (r *MemoryAccountRepository) ResetFailedAttempts(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return model.ErrAccountNotFound
	}
	a.FailedAttempts = 0
	a.LockedUntil = nil
	r.accounts[id] = a
	return nil
}

func (r *MemoryAccountRepository) Count(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.accounts), nil
}

// LockTransitions reports how many times LockUntil actually locked an account.
func (r *MemoryAccountRepository) LockTransitions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.locks
}

func copyAccount(a model.Account) model.Account {
	if a.LockedUntil != nil {
		v := *a.LockedUntil
		a.LockedUntil = &v
	}
	if a.LastLoginAt != nil {
		v := *a.LastLoginAt
		a.LastLoginAt = &v
	}
	return a
}
