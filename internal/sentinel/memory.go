package sentinel

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value   bool
	expires time.Time
}

// Memory is an in-process Cache for single-instance deployments and tests.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// MemoryOption customizes a Memory cache.
type MemoryOption func(*Memory)

// WithNow overrides the clock used for expiry.
func WithNow(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// NewMemory returns an empty Memory cache.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{entries: make(map[string]memoryEntry), now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetBool reports the stored value, or false when absent or expired.
func (m *Memory) GetBool(_ context.Context, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return false
	}
	if !m.now().Before(e.expires) {
		delete(m.entries, key)
		return false
	}
	return e.value
}

// Set stores value under key for ttl.
func (m *Memory) Set(_ context.Context, key string, value bool, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{value: value, expires: m.now().Add(ttl)}
	return nil
}
