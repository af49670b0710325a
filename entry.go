package stash

import "time"

// Entry is one cached unit: a caller-assigned id, the caller-serialized
// payload, and the metadata the cache keeps about it. Serialization of the
// caller's domain object into Payload is the caller's responsibility; the
// cache treats payloads as opaque bytes.
type Entry struct {
	// ID is the caller-assigned identifier, stable across puts.
	ID string

	// Payload is the opaque byte sequence stored for ID.
	Payload []byte

	// SizeBytes is the size estimate recorded at last write.
	SizeBytes int64

	// LastAccessedAt is when the entry was last read or listed.
	LastAccessedAt time.Time

	// UpdatedAt is when the payload was last written.
	UpdatedAt time.Time
}

// Usage describes the cache's current quota position.
type Usage struct {
	// UsedBytes is the summed size estimate of all indexed entries.
	// It is an approximation; the backend's own quota signal is the
	// ground truth it is reconciled against.
	UsedBytes int64

	// TotalBudgetBytes is the configured byte budget.
	TotalBudgetBytes int64

	// Entries is the number of indexed entries.
	Entries int

	// Disabled reports whether the circuit breaker has tripped.
	Disabled bool
}
