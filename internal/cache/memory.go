package cache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	val     []byte
	expires time.Time
}

// Memory is an in-process TTL cache.
type Memory struct {
	mu         sync.Mutex
	ttl        time.Duration
	entries    map[string]entry
	generation uint64
	clock      func() time.Time
}

// NewMemory creates an in-process cache.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:     ttl,
		entries: make(map[string]entry),
		clock:   time.Now,
	}
}

// Get implements Cache.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !m.clock().Before(e.expires) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return e.val, true, nil
}

// Set implements Cache. Expired entries are purged on write.
func (m *Memory) Set(_ context.Context, key string, val []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	for k, e := range m.entries {
		if !now.Before(e.expires) {
			delete(m.entries, k)
		}
	}
	m.entries[key] = entry{val: val, expires: now.Add(m.ttl)}
	return nil
}

// Generation implements Cache.
func (m *Memory) Generation(_ context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation, nil
}

// Invalidate implements Cache.
func (m *Memory) Invalidate(_ context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generation++
	clear(m.entries)
	return m.generation, nil
}

// Len returns the number of stored entries, expired or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Close implements Cache.
func (m *Memory) Close() error { return nil }
