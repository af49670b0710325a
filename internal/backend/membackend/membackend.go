// Package membackend provides an in-memory quota-enforcing backend,
// used in tests and for embedding the cache without a filesystem.
package membackend

import (
	"context"
	"sync"

	"github.com/projectmirror/stash/internal/backend"
)

// Compile-time check that Backend implements backend.Backend.
var _ backend.Backend = (*Backend)(nil)

// Backend is a thread-safe in-memory key/value store with a byte quota.
type Backend struct {
	mu    sync.RWMutex
	data  map[string][]byte
	used  int64
	quota int64 // 0 means unlimited

	// failSets, when positive, makes the next N Set calls return
	// ErrQuotaExceeded regardless of actual usage (for protocol tests).
	failSets int

	// unavailable makes every operation return ErrUnavailable.
	unavailable bool

	setCalls int
}

// New creates a new in-memory backend. quotaBytes bounds the total stored
// value bytes; zero or negative means unlimited.
func New(quotaBytes int64) *Backend {
	if quotaBytes < 0 {
		quotaBytes = 0
	}
	return &Backend{
		data:  make(map[string][]byte),
		quota: quotaBytes,
	}
}

// FailNextSets makes the next n Set calls fail with ErrQuotaExceeded.
func (b *Backend) FailNextSets(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failSets = n
}

// SetUnavailable toggles ErrUnavailable on all operations.
func (b *Backend) SetUnavailable(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unavailable = v
}

// SetCalls returns how many times Set has been invoked.
func (b *Backend) SetCalls() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.setCalls
}

// UsedBytes returns the total stored value bytes.
func (b *Backend) UsedBytes() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.used
}

// Get returns the value stored under key.
func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.unavailable {
		return nil, backend.ErrUnavailable
	}
	data, ok := b.data[key]
	if !ok {
		return nil, backend.ErrNotFound
	}
	// Copy to prevent caller mutations from affecting the store.
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Set stores value under key, enforcing the byte quota.
func (b *Backend) Set(ctx context.Context, key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unavailable {
		return backend.ErrUnavailable
	}
	b.setCalls++
	if b.failSets > 0 {
		b.failSets--
		return backend.ErrQuotaExceeded
	}

	projected := b.used + int64(len(value)) - int64(len(b.data[key]))
	if b.quota > 0 && projected > b.quota {
		return backend.ErrQuotaExceeded
	}

	copied := make([]byte, len(value))
	copy(copied, value)
	b.used = projected
	b.data[key] = copied
	return nil
}

// Delete removes key. Absent keys are a no-op.
func (b *Backend) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unavailable {
		return backend.ErrUnavailable
	}
	if old, ok := b.data[key]; ok {
		b.used -= int64(len(old))
		delete(b.data, key)
	}
	return nil
}

// Keys returns every stored key.
func (b *Backend) Keys(ctx context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.unavailable {
		return nil, backend.ErrUnavailable
	}
	keys := make([]string, 0, len(b.data))
	for k := range b.data {
		keys = append(keys, k)
	}
	return keys, nil
}

// Clear removes everything.
func (b *Backend) Clear(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unavailable {
		return backend.ErrUnavailable
	}
	b.data = make(map[string][]byte)
	b.used = 0
	return nil
}

// Close is a no-op for the memory backend.
func (b *Backend) Close() error {
	return nil
}
