package cache

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Store backed by sync.Map. Reads and writes take no
// locks; a write racing a read or another write of the same key is resolved
// by whichever store lands last.
type Memory[V any] struct {
	ttl     time.Duration
	entries sync.Map // string -> *memoryEntry[V]
	now     func() time.Time
}

type memoryEntry[V any] struct {
	value    V
	storedAt time.Time
}

// MemoryOption configures a Memory store.
type MemoryOption func(*memoryOptions)

type memoryOptions struct {
	now func() time.Time
}

// WithClock sets the time source used to age entries.
func WithClock(now func() time.Time) MemoryOption {
	return func(o *memoryOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// NewMemory creates an in-memory store. A non-positive ttl never expires.
func NewMemory[V any](ttl time.Duration, opts ...MemoryOption) *Memory[V] {
	o := memoryOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Memory[V]{ttl: ttl, now: o.now}
}

// Get returns the entry for key if present and younger than the TTL.
func (m *Memory[V]) Get(_ context.Context, key string) (V, time.Duration, bool) {
	var zero V
	raw, ok := m.entries.Load(key)
	if !ok {
		return zero, 0, false
	}
	entry := raw.(*memoryEntry[V])
	age := m.now().Sub(entry.storedAt)
	if m.ttl > 0 && age > m.ttl {
		// Only drop the entry we inspected; a concurrent refresh must survive.
		m.entries.CompareAndDelete(key, raw)
		return zero, age, false
	}
	return entry.value, age, true
}

// Set stores value under key.
func (m *Memory[V]) Set(_ context.Context, key string, value V) error {
	m.entries.Store(key, &memoryEntry[V]{value: value, storedAt: m.now()})
	return nil
}

// Delete removes key.
func (m *Memory[V]) Delete(_ context.Context, key string) error {
	m.entries.Delete(key)
	return nil
}
