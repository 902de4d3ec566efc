package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"storefront/internal/kv"
	"storefront/internal/model"
)

const resetKeyPrefix = "password_reset:"

// ResetTokenStore holds one-time password reset tokens keyed by their
// SHA-256 digest, so the raw token never reaches the store.
type ResetTokenStore struct {
	store   kv.Store
	timeout time.Duration
}

func NewResetTokenStore(store kv.Store, timeout time.Duration) *ResetTokenStore {
	return &ResetTokenStore{store: store, timeout: timeout}
}

func resetKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return resetKeyPrefix + hex.EncodeToString(sum[:])
}

func (s *ResetTokenStore) Save(ctx context.Context, token string, accountID string, ttl time.Duration) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	ok, err := s.store.SetNX(ctx, resetKey(token), []byte(accountID), ttl)
	if err != nil {
		return model.Unavailable("save reset token", err)
	}
	if !ok {
		return model.ErrSessionExists
	}
	return nil
}

// Consume returns the account id bound to token and invalidates it.
func (s *ResetTokenStore) Consume(ctx context.Context, token string) (string, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	data, err := s.store.GetDel(ctx, resetKey(token))
	if errors.Is(err, kv.ErrNotFound) {
		return "", model.ErrResetTokenInvalid
	}
	if err != nil {
		return "", model.Unavailable("consume reset token", err)
	}
	return string(data), nil
}

// Discard drops token if it was ever stored.
func (s *ResetTokenStore) Discard(ctx context.Context, token string) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.store.Del(ctx, resetKey(token)); err != nil {
		return model.Unavailable("discard reset token", err)
	}
	return nil
}
