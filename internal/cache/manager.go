// Package cache provides a small TTL cache shared by the HTTP sources.
package cache

import (
	"sync"
	"time"
)

// Entry is a cached value with its expiry.
type Entry[V any] struct {
	Value     V
	ExpiresAt time.Time
}

func (e *Entry[V]) expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Manager is a keyed cache whose entries expire after their TTL.
type Manager[V any] struct {
	mu      sync.RWMutex
	entries map[string]*Entry[V]
	now     func() time.Time
}

// NewManager creates an empty cache.
func NewManager[V any]() *Manager[V] {
	return &Manager[V]{
		entries: make(map[string]*Entry[V]),
		now:     time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (m *Manager[V]) WithClock(now func() time.Time) *Manager[V] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
	return m
}

// Get returns the value for key if present and not expired.
func (m *Manager[V]) Get(key string) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var zero V
	entry, exists := m.entries[key]
	if !exists || entry.expired(m.now()) {
		return zero, false
	}
	return entry.Value, true
}

// Set stores value under key for ttl. A non-positive ttl stores nothing.
func (m *Manager[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = &Entry[V]{
		Value:     value,
		ExpiresAt: m.now().Add(ttl),
	}
}

// GetOrLoad returns the cached value for key, or calls load and caches its
// result for ttl. Load errors are returned and not cached.
func (m *Manager[V]) GetOrLoad(key string, ttl time.Duration, load func() (V, error)) (V, error) {
	if v, ok := m.Get(key); ok {
		return v, nil
	}
	v, err := load()
	if err != nil {
		return v, err
	}
	m.Set(key, v, ttl)
	return v, nil
}

// Delete removes key.
func (m *Manager[V]) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
}

// Clear removes all entries.
func (m *Manager[V]) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[string]*Entry[V])
}

// CleanExpired removes expired entries.
func (m *Manager[V]) CleanExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, entry := range m.entries {
		if entry.expired(now) {
			delete(m.entries, key)
		}
	}
}

// StartCleanup runs CleanExpired every interval until the returned channel
// is closed.
func (m *Manager[V]) StartCleanup(interval time.Duration) chan struct{} {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.CleanExpired()
			case <-stop:
				return
			}
		}
	}()
	return stop
}

// Size returns the number of entries, expired ones included.
func (m *Manager[V]) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
