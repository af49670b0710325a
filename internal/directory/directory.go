// Package directory maintains the cache's persisted metadata index: one
// compact record per entry believed to exist in the backend, serialized as a
// single JSON blob under a reserved key.
//
// The directory is an approximation by design. Records can outlive their
// payloads (and vice versa) across crashes or out-of-band deletes; callers
// heal that drift through Reconcile and by dropping records whose payload
// turns out to be missing. A directory that fails to deserialize is replaced
// by an empty one, never surfaced as an error.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/projectmirror/stash/internal/backend"
)

// formatVersion guards future layout migration of the serialized blob.
const formatVersion = 1

// DefaultMaxEntries bounds the directory independently of payload eviction.
const DefaultMaxEntries = 512

// Record mirrors one entry's metadata without its payload.
type Record struct {
	ID             string    `json:"id"`
	SizeBytes      int64     `json:"sizeBytes"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Directory is the full index: records keyed by entry id.
type Directory struct {
	Version int               `json:"version"`
	Records map[string]Record `json:"records"`
}

// NewDirectory returns an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		Version: formatVersion,
		Records: make(map[string]Record),
	}
}

// UsedBytes sums the size estimates of all records.
func (d *Directory) UsedBytes() int64 {
	var total int64
	for _, r := range d.Records {
		total += r.SizeBytes
	}
	return total
}

// Snapshot returns the records as a slice, ordered oldest-accessed first.
// Ties are broken by size (largest first) and then id so the order is stable.
func (d *Directory) Snapshot() []Record {
	records := make([]Record, 0, len(d.Records))
	for _, r := range d.Records {
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.LastAccessedAt.Equal(b.LastAccessedAt) {
			return a.LastAccessedAt.Before(b.LastAccessedAt)
		}
		if a.SizeBytes != b.SizeBytes {
			return a.SizeBytes > b.SizeBytes
		}
		return a.ID < b.ID
	})
	return records
}

// Manager loads and saves the directory through a storage backend.
// It does no locking of its own; the owning cache serializes all mutations.
type Manager struct {
	backend    backend.Backend
	key        string
	maxEntries int
}

// NewManager creates a manager persisting the directory under key.
// maxEntries bounds the record count; non-positive means DefaultMaxEntries.
func NewManager(b backend.Backend, key string, maxEntries int) *Manager {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Manager{
		backend:    b,
		key:        key,
		maxEntries: maxEntries,
	}
}

// Key returns the reserved backend key the directory lives under.
func (m *Manager) Key() string {
	return m.key
}

// Load reads the directory from the backend.
//
// A missing key yields an empty directory. A blob that fails to deserialize
// also yields an empty directory with corrupted=true; corruption is a signal
// for structural recovery, not an error. Only backend I/O failures (other
// than not-found) are returned as errors.
func (m *Manager) Load(ctx context.Context) (dir *Directory, corrupted bool, err error) {
	raw, err := m.backend.Get(ctx, m.key)
	if err != nil {
		if err == backend.ErrNotFound {
			return NewDirectory(), false, nil
		}
		return nil, false, fmt.Errorf("loading directory: %w", err)
	}

	var loaded Directory
	if err := json.Unmarshal(raw, &loaded); err != nil {
		return NewDirectory(), true, nil
	}
	if loaded.Records == nil {
		loaded.Records = make(map[string]Record)
	}
	if loaded.Version != formatVersion {
		// Unknown layout is handled the same way as a corrupt one.
		return NewDirectory(), true, nil
	}
	return &loaded, false, nil
}

// Save serializes and writes the directory. A quota failure here is the
// caller's cue to run the same cleanup path as an entry write failure.
func (m *Manager) Save(ctx context.Context, dir *Directory) error {
	raw, err := json.Marshal(dir)
	if err != nil {
		return fmt.Errorf("encoding directory: %w", err)
	}
	if err := m.backend.Set(ctx, m.key, raw); err != nil {
		return fmt.Errorf("saving directory: %w", err)
	}
	return nil
}

// Touch updates LastAccessedAt for id if present; absent ids are a no-op.
func (m *Manager) Touch(dir *Directory, id string, now time.Time) {
	if r, ok := dir.Records[id]; ok {
		r.LastAccessedAt = now
		dir.Records[id] = r
	}
}

// Upsert adds or replaces one record and re-bounds the directory.
func (m *Manager) Upsert(dir *Directory, rec Record) {
	dir.Records[rec.ID] = rec
	m.bound(dir)
}

// Drop removes one record; absent ids are a no-op.
func (m *Manager) Drop(dir *Directory, id string) {
	delete(dir.Records, id)
}

// Reconcile removes records whose id is not in present, healing drift after
// out-of-band deletions. Returns the ids pruned.
func (m *Manager) Reconcile(dir *Directory, present map[string]bool) []string {
	var pruned []string
	for id := range dir.Records {
		if !present[id] {
			delete(dir.Records, id)
			pruned = append(pruned, id)
		}
	}
	return pruned
}

// bound drops oldest-accessed overflow beyond maxEntries. This bound is
// independent of payload eviction: it protects the directory blob itself.
func (m *Manager) bound(dir *Directory) {
	excess := len(dir.Records) - m.maxEntries
	if excess <= 0 {
		return
	}
	for _, rec := range dir.Snapshot()[:excess] {
		delete(dir.Records, rec.ID)
	}
}
