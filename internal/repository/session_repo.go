package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"storefront/internal/kv"
	"storefront/internal/model"
)

const (
	sessionKeyPrefix      = "session:"
	accountSessionsPrefix = "account_sessions:"
)

// SessionRegistry keeps live sessions in the shared KV store. Each session
// key expires on its own; the per-account index is pruned lazily.
type SessionRegistry struct {
	store   kv.Store
	timeout time.Duration
}

func NewSessionRegistry(store kv.Store, timeout time.Duration) *SessionRegistry {
	return &SessionRegistry{store: store, timeout: timeout}
}

func sessionKey(id string) string      { return sessionKeyPrefix + id }
func accountIndexKey(id string) string { return accountSessionsPrefix + id }

// Create stores a new session. An existing id is never overwritten.
func (r *SessionRegistry) Create(ctx context.Context, s model.Session) error {
	ttl := time.Duration(s.TTL)
	if ttl <= 0 {
		return fmt.Errorf("create session: %w", model.ErrInvalidInput)
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	ok, err := r.store.SetNX(ctx, sessionKey(s.ID), data, ttl)
	if err != nil {
		return model.Unavailable("create session", err)
	}
	if !ok {
		return model.ErrSessionExists
	}

	if err := r.store.SAdd(ctx, accountIndexKey(s.AccountID), s.ID, ttl); err != nil {
		return model.Unavailable("index session", err)
	}
	return nil
}

func (r *SessionRegistry) Get(ctx context.Context, id string) (model.Session, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	data, err := r.store.Get(ctx, sessionKey(id))
	if errors.Is(err, kv.ErrNotFound) {
		return model.Session{}, model.ErrSessionNotFound
	}
	if err != nil {
		return model.Session{}, model.Unavailable("get session", err)
	}

	var s model.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return model.Session{}, fmt.Errorf("decode session %s: %w", id, err)
	}
	return s, nil
}

// Delete removes a session. Deleting a missing session is not an error.
func (r *SessionRegistry) Delete(ctx context.Context, id string) error {
	s, err := r.Get(ctx, id)
	if errors.Is(err, model.ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.store.Del(ctx, sessionKey(id)); err != nil {
		return model.Unavailable("delete session", err)
	}
	if err := r.store.SRem(ctx, accountIndexKey(s.AccountID), id); err != nil {
		return model.Unavailable("unindex session", err)
	}
	return nil
}

// Extend pushes the session's expiry out to ttl from now. The account
// index is stretched with it so the session stays revocable.
func (r *SessionRegistry) Extend(ctx context.Context, id string, ttl time.Duration) error {
	s, err := r.Get(ctx, id)
	if err != nil {
		return err
	}

	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	ok, err := r.store.Expire(ctx, sessionKey(id), ttl)
	if err != nil {
		return model.Unavailable("extend session", err)
	}
	if !ok {
		return model.ErrSessionNotFound
	}
	if err := r.store.SAdd(ctx, accountIndexKey(s.AccountID), id, ttl); err != nil {
		return model.Unavailable("index session", err)
	}
	return nil
}

// ListForAccount returns the account's live sessions and drops index
// entries whose session has already expired.
func (r *SessionRegistry) ListForAccount(ctx context.Context, accountID string) ([]model.Session, error) {
	listCtx, cancel := withTimeout(ctx, r.timeout)
	ids, err := r.store.SMembers(listCtx, accountIndexKey(accountID))
	cancel()
	if err != nil {
		return nil, model.Unavailable("list sessions", err)
	}

	sessions := make([]model.Session, 0, len(ids))
	stale := make([]string, 0)
	for _, id := range ids {
		s, err := r.Get(ctx, id)
		if errors.Is(err, model.ErrSessionNotFound) {
			stale = append(stale, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}

	if len(stale) > 0 {
		pruneCtx, cancel := withTimeout(ctx, r.timeout)
		defer cancel()
		if err := r.store.SRem(pruneCtx, accountIndexKey(accountID), stale...); err != nil {
			return nil, model.Unavailable("prune sessions", err)
		}
	}

	return sessions, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
