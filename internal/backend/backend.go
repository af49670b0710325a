// Package backend defines the persistent key/value contract the cache sits on.
package backend

import (
	"context"
	"errors"
)

// Sentinel errors backends report to the cache.
var (
	// ErrNotFound is returned by Get when a key does not exist.
	ErrNotFound = errors.New("backend: key not found")

	// ErrQuotaExceeded is returned by Set when the write would push the
	// backend past its byte quota. The cache reacts with cleanup and retry;
	// backends must never retry internally.
	ErrQuotaExceeded = errors.New("backend: quota exceeded")

	// ErrUnavailable is returned when the backend cannot be reached at all
	// (e.g. disabled by the host environment). The cache trips its circuit
	// breaker on the first occurrence.
	ErrUnavailable = errors.New("backend: unavailable")
)

// Backend is a size-limited persistent key/value store.
// Implementations handle storage details internally and report quota
// pressure through ErrQuotaExceeded rather than blocking or retrying.
type Backend interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, overwriting any previous value.
	// Returns ErrQuotaExceeded when the write does not fit.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys returns every key currently present in the store.
	Keys(ctx context.Context) ([]string, error)

	// Clear removes every key in the store.
	Clear(ctx context.Context) error

	// Close releases any resources held by the backend.
	Close() error
}
