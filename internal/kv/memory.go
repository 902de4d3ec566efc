package kv

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	members   map[string]struct{}
	expiresAt time.Time
}

// Memory is an in-process Store for tests and single-instance development.
// Expired keys are dropped lazily on access and by a periodic sweep.
type Memory struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]*memoryEntry
	closed  bool
}

type MemoryOption func(*Memory)

// WithClock replaces the wall clock used for TTL bookkeeping.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		now:     time.Now,
		entries: make(map[string]*memoryEntry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, ErrNonPositiveDuration
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.liveLocked(key); ok {
		return false, nil
	}
	m.entries[key] = &memoryEntry{value: clone(value), expiresAt: m.now().Add(ttl)}
	m.gcLocked()
	return true, nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.liveLocked(key)
	if !ok || entry.members != nil {
		return nil, ErrNotFound
	}
	return clone(entry.value), nil
}

func (m *Memory) GetDel(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.liveLocked(key)
	if !ok || entry.members != nil {
		return nil, ErrNotFound
	}
	delete(m.entries, key)
	return entry.value, nil
}

func (m *Memory) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		delete(m.entries, key)
	}
	return nil
}

func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.liveLocked(key)
	return ok, nil
}

func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, ErrNonPositiveDuration
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.liveLocked(key)
	if !ok {
		return false, nil
	}
	entry.expiresAt = m.now().Add(ttl)
	return true, nil
}

func (m *Memory) IncrWindow(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if window <= 0 {
		return 0, 0, ErrNonPositiveDuration
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	entry, ok := m.liveLocked(key)
	if !ok {
		entry = &memoryEntry{value: []byte("0"), expiresAt: now.Add(window)}
		m.entries[key] = entry
	}

	count := parseCount(entry.value) + 1
	entry.value = []byte(formatCount(count))
	m.gcLocked()

	return count, entry.expiresAt.Sub(now), nil
}

func (m *Memory) SAdd(_ context.Context, key string, member string, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrNonPositiveDuration
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	deadline := m.now().Add(ttl)
	entry, ok := m.liveLocked(key)
	if !ok {
		entry = &memoryEntry{members: map[string]struct{}{}, expiresAt: deadline}
		m.entries[key] = entry
	}
	if entry.members == nil {
		entry.members = map[string]struct{}{}
	}
	entry.members[member] = struct{}{}
	if entry.expiresAt.Before(deadline) {
		entry.expiresAt = deadline
	}
	return nil
}

func (m *Memory) SRem(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.liveLocked(key)
	if !ok || entry.members == nil {
		return nil
	}
	for _, member := range members {
		delete(entry.members, member)
	}
	if len(entry.members) == 0 {
		delete(m.entries, key)
	}
	return nil
}

func (m *Memory) SMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.liveLocked(key)
	if !ok || entry.members == nil {
		return []string{}, nil
	}
	out := make([]string, 0, len(entry.members))
	for member := range entry.members {
		out = append(out, member)
	}
	return out, nil
}

func (m *Memory) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrHealthcheckFailed
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *Memory) liveLocked(key string) (*memoryEntry, bool) {
	entry, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if !m.now().Before(entry.expiresAt) {
		delete(m.entries, key)
		return nil, false
	}
	return entry, true
}

func (m *Memory) gcLocked() {
	if len(m.entries) < 1000 {
		return
	}

	now := m.now()
	for key, entry := range m.entries {
		if !now.Before(entry.expiresAt) {
			delete(m.entries, key)
		}
	}
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func parseCount(b []byte) int64 {
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func formatCount(n int64) string {
	return strconv.FormatInt(n, 10)
}
