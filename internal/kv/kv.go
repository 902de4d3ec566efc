// Package kv is the shared key-value store used for sessions, revocations,
// rate-limit counters and one-time tokens.
//
// All synchronisation is delegated to the store: callers rely on SetNX,
// IncrWindow and GetDel being atomic and never hold application locks.
package kv

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound            = errors.New("kv: key not found")
	ErrFailedToParseURL    = errors.New("kv: failed to parse redis connection string")
	ErrRedisNotReady       = errors.New("kv: redis did not become ready within the given time period")
	ErrHealthcheckFailed   = errors.New("kv: healthcheck failed")
	ErrNonPositiveDuration = errors.New("kv: ttl must be positive")
)

type Store interface {
	// SetNX stores value only if key does not exist. It reports whether the
	// value was written.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
	// GetDel returns the value and removes the key in one step.
	GetDel(ctx context.Context, key string) ([]byte, error)
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	// Expire resets the TTL of an existing key. It reports false when the key
	// is missing.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// IncrWindow increments a counter and starts its TTL only on the first
	// increment. It returns the new count and the time left in the window.
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	// SAdd adds member to the set at key and pushes the set's TTL out to at
	// least ttl.
	SAdd(ctx context.Context, key string, member string, ttl time.Duration) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// Healthcheck adapts a store to a readiness probe.
func Healthcheck(store Store) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := store.Ping(ctx); err != nil {
			return errors.Join(ErrHealthcheckFailed, err)
		}
		return nil
	}
}
