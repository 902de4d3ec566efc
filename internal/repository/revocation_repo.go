package repository

import (
	"context"
	"time"

	"storefront/internal/kv"
	"storefront/internal/model"
)

const revokedKeyPrefix = "revoked:"

// RevocationLedger records session ids that must be rejected even though
// their tokens still verify. Entries live as long as the longest token
// issued for the session.
type RevocationLedger struct {
	store   kv.Store
	timeout time.Duration
}

func NewRevocationLedger(store kv.Store, timeout time.Duration) *RevocationLedger {
	return &RevocationLedger{store: store, timeout: timeout}
}

// Blacklist marks the session revoked. It reports whether this call was the
// one that revoked it, which lets refresh rotation claim a session once.
func (l *RevocationLedger) Blacklist(ctx context.Context, sessionID string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = time.Second
	}

	ctx, cancel := withTimeout(ctx, l.timeout)
	defer cancel()

	ok, err := l.store.SetNX(ctx, revokedKeyPrefix+sessionID, []byte("1"), ttl)
	if err != nil {
		return false, model.Unavailable("blacklist session", err)
	}
	return ok, nil
}

func (l *RevocationLedger) IsBlacklisted(ctx context.Context, sessionID string) (bool, error) {
	ctx, cancel := withTimeout(ctx, l.timeout)
	defer cancel()

	ok, err := l.store.Exists(ctx, revokedKeyPrefix+sessionID)
	if err != nil {
		return false, model.Unavailable("check revocation", err)
	}
	return ok, nil
}
