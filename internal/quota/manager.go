// Package quota tracks used-versus-budget and runs the escalating cleanup
// tiers that keep the backend under its byte quota.
package quota

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/projectmirror/stash/internal/backend"
	"github.com/projectmirror/stash/internal/directory"
	"github.com/projectmirror/stash/internal/evict"
	"github.com/projectmirror/stash/internal/stats"
)

// Manager runs cleanup against one backend/directory pair. It does no
// locking of its own; the owning cache serializes all calls.
type Manager struct {
	budget       Budget
	backend      backend.Backend
	dirman       *directory.Manager
	entryPrefix  string
	nsPrefix     string
	protectedIDs map[string]bool
	protectedKey map[string]bool
	logger       *zap.Logger
	stats        stats.Collector
}

// Config wires a Manager.
type Config struct {
	Budget      Budget
	Backend     backend.Backend
	Directory   *directory.Manager
	EntryPrefix string

	// NamespacePrefix is the cache's key namespace ("<namespace>/"). The
	// stray purge and the last-resort wipe never touch keys outside it,
	// so caches sharing one backend cannot destroy each other's data.
	// Empty means the cache owns the whole key space.
	NamespacePrefix string

	// ProtectedIDs are entry ids cleanup must never evict.
	ProtectedIDs map[string]bool

	// ProtectedKeys are raw backend keys (host data such as auth tokens)
	// that stray purges and the last-resort wipe must preserve. The
	// directory key is always protected implicitly.
	ProtectedKeys map[string]bool

	Logger *zap.Logger
	Stats  stats.Collector
}

// NewManager creates a cleanup manager.
func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	collector := cfg.Stats
	if collector == nil {
		collector = stats.NewNoop()
	}

	protectedKey := make(map[string]bool, len(cfg.ProtectedKeys)+1)
	for k := range cfg.ProtectedKeys {
		protectedKey[k] = true
	}
	protectedKey[cfg.Directory.Key()] = true
	for id := range cfg.ProtectedIDs {
		protectedKey[cfg.EntryPrefix+id] = true
	}

	return &Manager{
		budget:       cfg.Budget,
		backend:      cfg.Backend,
		dirman:       cfg.Directory,
		entryPrefix:  cfg.EntryPrefix,
		nsPrefix:     cfg.NamespacePrefix,
		protectedIDs: cfg.ProtectedIDs,
		protectedKey: protectedKey,
		logger:       logger,
		stats:        collector,
	}
}

// Budget returns the configured quota budget.
func (m *Manager) Budget() Budget {
	return m.budget
}

// NeedsPreventiveCleanup reports whether a projected usage estimate calls
// for Tier 1 cleanup before writing.
func (m *Manager) NeedsPreventiveCleanup(projectedUsed int64) bool {
	return projectedUsed > m.budget.WriteThresholdBytes()
}

// RunTier1 evicts least-recently-used entries until the directory's usage
// estimate is at or below target. The directory is mutated in place and
// saved once at the end. Returns the number of entries evicted.
func (m *Manager) RunTier1(ctx context.Context, dir *directory.Directory, target int64) (int, error) {
	if target < 0 {
		target = 0
	}
	used := dir.UsedBytes()
	victims := evict.SelectVictims(dir.Snapshot(), used, target, m.protectedIDs)
	if len(victims) == 0 {
		return 0, nil
	}

	for _, id := range victims {
		if err := m.backend.Delete(ctx, m.entryPrefix+id); err != nil {
			return 0, fmt.Errorf("deleting victim %q: %w", id, err)
		}
		m.dirman.Drop(dir, id)
	}

	if err := m.dirman.Save(ctx, dir); err != nil {
		return 0, err
	}

	m.stats.IncCounter(stats.MetricCleanupTier1, 1)
	m.stats.IncCounter(stats.MetricEvictions, int64(len(victims)))
	m.logger.Info("tier 1 cleanup evicted entries",
		zap.Int("victims", len(victims)),
		zap.Int64("usedBefore", used),
		zap.Int64("usedAfter", dir.UsedBytes()),
		zap.Int64("target", target),
	)
	return len(victims), nil
}

// RunTier2 first deletes every key in the cache's namespace that is neither
// protected nor a current entry or directory key (stray data accumulated
// outside the cache's bookkeeping), then re-runs Tier 1 with the lowered
// emergency target. Keys outside the namespace belong to someone else and
// are never candidates.
func (m *Manager) RunTier2(ctx context.Context, dir *directory.Directory) (int, error) {
	keys, err := m.backend.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing keys for stray purge: %w", err)
	}

	var strays int
	for _, key := range keys {
		if m.protectedKey[key] || !strings.HasPrefix(key, m.nsPrefix) {
			continue
		}
		if id, ok := strings.CutPrefix(key, m.entryPrefix); ok {
			if _, known := dir.Records[id]; known {
				continue
			}
		}
		if err := m.backend.Delete(ctx, key); err != nil {
			return 0, fmt.Errorf("deleting stray key %q: %w", key, err)
		}
		strays++
	}

	m.stats.IncCounter(stats.MetricCleanupTier2, 1)
	m.logger.Warn("tier 2 cleanup purged stray keys",
		zap.Int("strays", strays),
		zap.Int64("target", m.budget.Tier2TargetBytes()),
	)

	evicted, err := m.RunTier1(ctx, dir, m.budget.Tier2TargetBytes())
	if err != nil {
		return 0, err
	}
	return strays + evicted, nil
}

// RunTier3 is structural recovery: it bypasses the (possibly corrupt)
// directory, deletes every entry-prefixed backend key in recoverable order,
// and rebuilds an empty directory. The returned directory replaces whatever
// the caller held.
func (m *Manager) RunTier3(ctx context.Context) (*directory.Directory, error) {
	keys, err := m.backend.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing keys for structural recovery: %w", err)
	}

	var entryKeys []string
	for _, key := range keys {
		if m.protectedKey[key] {
			continue
		}
		if strings.HasPrefix(key, m.entryPrefix) {
			entryKeys = append(entryKeys, key)
		}
	}
	// No recency metadata survives a corrupt directory; fall back to a
	// deterministic lexicographic order.
	sort.Strings(entryKeys)

	for _, key := range entryKeys {
		if err := m.backend.Delete(ctx, key); err != nil {
			return nil, fmt.Errorf("deleting entry key %q: %w", key, err)
		}
	}

	rebuilt := directory.NewDirectory()
	if err := m.dirman.Save(ctx, rebuilt); err != nil {
		return nil, err
	}

	m.stats.IncCounter(stats.MetricCleanupTier3, 1)
	m.stats.IncCounter(stats.MetricDirectoryResets, 1)
	m.logger.Warn("tier 3 structural recovery rebuilt directory",
		zap.Int("entriesDeleted", len(entryKeys)),
	)
	return rebuilt, nil
}

// Wipe is the last resort: remove every key in the cache's namespace
// except the protected set, accepting total cache loss over a permanently
// wedged store. A backend-wide clear is never an option here; keys outside
// the namespace are not the cache's to destroy.
func (m *Manager) Wipe(ctx context.Context) (*directory.Directory, error) {
	keys, err := m.backend.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing keys for wipe: %w", err)
	}

	var wiped int
	for _, key := range keys {
		if m.protectedKey[key] || !strings.HasPrefix(key, m.nsPrefix) {
			continue
		}
		if err := m.backend.Delete(ctx, key); err != nil {
			return nil, fmt.Errorf("wiping key %q: %w", key, err)
		}
		wiped++
	}

	rebuilt := directory.NewDirectory()
	if err := m.dirman.Save(ctx, rebuilt); err != nil {
		return nil, err
	}

	m.stats.IncCounter(stats.MetricCleanupWipes, 1)
	m.logger.Error("last-resort wipe cleared cache storage",
		zap.Int("wiped", wiped),
	)
	return rebuilt, nil
}
