// Package stash provides a quota-aware persistent cache with LRU eviction
// and tiered degradation, for keeping a bounded mirror of remotely sourced
// records (for example project records fetched from an API) in a
// size-limited key/value store.
//
// Example usage:
//
//	cache, err := stash.New(
//	    stash.WithBackend(be),
//	    stash.WithBudget(quota.DefaultBudget()),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer cache.Close()
//
//	if err := cache.Put(ctx, "proj-42", payload); err != nil {
//	    // Treat as "not cached" and fall back to the remote source.
//	}
//
// The backend enforces a hard byte quota the cache cannot predict exactly.
// Writes that hit the quota drive an escalating cleanup pipeline (LRU
// eviction, stray-key purge, structural index rebuild, last-resort wipe);
// every failure mode degrades to a cache miss rather than an error that
// could break the host.
package stash

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/projectmirror/stash/internal/backend"
	"github.com/projectmirror/stash/internal/directory"
	"github.com/projectmirror/stash/internal/quota"
	"github.com/projectmirror/stash/internal/sizeof"
	"github.com/projectmirror/stash/internal/stats"
)

// Sentinel errors for well-defined error conditions.
var (
	// ErrNotFound indicates the entry is not in the cache.
	ErrNotFound = errors.New("stash: entry not found")

	// ErrEntryTooLarge indicates a single entry exceeds the per-entry cap.
	// No cleanup is attempted; eviction cannot make an oversized entry fit.
	ErrEntryTooLarge = errors.New("stash: entry too large")

	// ErrWriteFailed indicates the bounded cleanup/retry loop could not
	// create headroom. The caller must treat the entry as not cached.
	ErrWriteFailed = errors.New("stash: write failed after cleanup retries")

	// ErrDisabled indicates the circuit breaker tripped after the backend
	// reported itself unavailable. All operations fail fast from then on.
	ErrDisabled = errors.New("stash: cache disabled")

	// ErrClosed indicates the cache has been closed.
	ErrClosed = errors.New("stash: cache closed")

	// ErrNoBackend indicates no backend was provided.
	ErrNoBackend = errors.New("stash: no backend provided")
)

// Cache is the public facade over the backend, index directory, eviction
// policy and quota manager.
//
// A Cache is safe for concurrent use by multiple goroutines: the directory
// is the one structure every operation mutates, so all directory mutations
// are serialized behind a single mutex. Entry payload reads need no
// cross-id locking.
type Cache struct {
	backend backend.Backend
	dirman  *directory.Manager
	quota   *quota.Manager
	budget  quota.Budget

	entryPrefix  string
	listFetchers int
	clock        func() time.Time
	stats        stats.Collector
	logger       *zap.Logger

	mu       sync.Mutex // serializes directory mutations
	disabled atomic.Bool
	closed   atomic.Bool
}

// New creates a new Cache with the given options.
func New(opts ...Option) (*Cache, error) {
	cfg := defaultOptions()
	for _, opt := range opts {
		opt.apply(&cfg)
	}

	if cfg.backend == nil {
		return nil, ErrNoBackend
	}
	if err := cfg.budget.Validate(); err != nil {
		return nil, err
	}

	entryPrefix := cfg.namespace + "/entry/"
	dirman := directory.NewManager(cfg.backend, cfg.namespace+"/index", cfg.maxDirEntries)

	c := &Cache{
		backend:      cfg.backend,
		dirman:       dirman,
		budget:       cfg.budget,
		entryPrefix:  entryPrefix,
		listFetchers: cfg.listFetchers,
		clock:        cfg.clock,
		stats:        cfg.stats,
		logger:       cfg.logger,
	}
	c.quota = quota.NewManager(quota.Config{
		Budget:          cfg.budget,
		Backend:         cfg.backend,
		Directory:       dirman,
		EntryPrefix:     entryPrefix,
		NamespacePrefix: cfg.namespace + "/",
		ProtectedIDs:    cfg.protectedIDs,
		ProtectedKeys:   cfg.protectedKeys,
		Logger:          cfg.logger,
		Stats:           cfg.stats,
	})

	c.logger.Debug("cache initialized",
		zap.String("namespace", cfg.namespace),
		zap.Int64("budgetBytes", cfg.budget.TotalBudgetBytes),
		zap.Int64("maxEntryBytes", cfg.budget.MaxEntryBytes),
	)
	return c, nil
}

// Put stores payload under id, evicting older entries as needed to stay
// within budget. On ErrWriteFailed (or any other error) the entry must be
// treated as not cached; no partial state is left behind.
func (c *Cache) Put(ctx context.Context, id string, payload []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if c.disabled.Load() {
		return ErrDisabled
	}
	c.stats.IncCounter(stats.MetricPuts, 1)

	size := sizeof.Estimate(id, payload)
	if size > c.budget.MaxEntryBytes {
		c.stats.IncCounter(stats.MetricPutFailures, 1)
		return fmt.Errorf("%w: %q is %d bytes (max %d)", ErrEntryTooLarge, id, size, c.budget.MaxEntryBytes)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	dir, err := c.loadLocked(ctx)
	if err != nil {
		return c.fail(err)
	}

	now := c.clock()
	rec := directory.Record{ID: id, SizeBytes: size, LastAccessedAt: now, UpdatedAt: now}
	key := c.entryKey(id)

	// Preventive cleanup: keep the post-write projection under the write
	// threshold before touching the backend at all.
	projected := dir.UsedBytes() - dir.Records[id].SizeBytes + size
	lastTarget := projected + 1
	if c.quota.NeedsPreventiveCleanup(projected) {
		target := c.budget.WriteThresholdBytes() - size
		if _, err := c.quota.RunTier1(ctx, dir, target); err != nil && !errors.Is(err, backend.ErrQuotaExceeded) {
			return c.fail(err)
		}
		lastTarget = target
	}

	// Bounded corrective loop: depth is ordinary state, never recursion.
	for depth := 0; depth <= c.budget.MaxRetryDepth; depth++ {
		err := c.writeEntry(ctx, dir, key, rec, payload)
		if err == nil {
			c.stats.SetGauge(stats.MetricUsedBytes, dir.UsedBytes())
			c.stats.SetGauge(stats.MetricDirectorySize, int64(len(dir.Records)))
			return nil
		}
		if errors.Is(err, backend.ErrUnavailable) {
			return c.fail(err)
		}
		if !errors.Is(err, backend.ErrQuotaExceeded) {
			return fmt.Errorf("stash: writing entry %q: %w", id, err)
		}
		if depth == c.budget.MaxRetryDepth {
			break
		}

		c.stats.IncCounter(stats.MetricWriteRetries, 1)

		// Each retry targets strictly less estimated usage than the last,
		// so the loop terminates even when eviction under-delivers.
		target := c.retryTarget(dir, depth, size, lastTarget)
		lastTarget = target

		var cerr error
		if depth == 0 && dir.UsedBytes() <= c.budget.EmergencyThresholdBytes() {
			_, cerr = c.quota.RunTier1(ctx, dir, target)
		} else {
			// Second consecutive quota failure, or usage past the
			// emergency threshold: purge strays, then cut deeper.
			if _, cerr = c.quota.RunTier2(ctx, dir); cerr == nil {
				_, cerr = c.quota.RunTier1(ctx, dir, target)
			}
		}
		if cerr != nil {
			if errors.Is(cerr, backend.ErrUnavailable) {
				return c.fail(cerr)
			}
			// A quota failure while persisting the shrunken directory is
			// survivable; the next iteration cuts deeper still.
			if !errors.Is(cerr, backend.ErrQuotaExceeded) {
				return c.fail(cerr)
			}
		}
	}

	// Retries exhausted with the backend still refusing. The refusal is
	// ground truth even when the index's estimate claims there is room,
	// so run the one-time structural recovery (outside the retry
	// counter), then the last-resort wipe.
	if rebuilt, terr := c.quota.RunTier3(ctx); terr == nil {
		dir = rebuilt
		if err := c.writeEntry(ctx, dir, key, rec, payload); err == nil {
			return nil
		}
	}
	if rebuilt, werr := c.quota.Wipe(ctx); werr == nil {
		dir = rebuilt
		if err := c.writeEntry(ctx, dir, key, rec, payload); err == nil {
			return nil
		}
	}

	// Leave a clean miss rather than a stale mix of old payload and new
	// index record.
	c.discardLocked(ctx, dir, id)
	c.stats.IncCounter(stats.MetricPutFailures, 1)
	c.logger.Warn("write abandoned after cleanup retries",
		zap.String("id", id),
		zap.Int64("sizeBytes", size),
		zap.Int("maxRetryDepth", c.budget.MaxRetryDepth),
	)
	return fmt.Errorf("%w: %q", ErrWriteFailed, id)
}

// Get returns the payload stored under id, refreshing its recency.
// A directory record without a retrievable payload is dropped (self-heal)
// and reported as ErrNotFound.
func (c *Cache) Get(ctx context.Context, id string) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if c.disabled.Load() {
		return nil, ErrDisabled
	}
	c.stats.IncCounter(stats.MetricGets, 1)

	payload, err := c.backend.Get(ctx, c.entryKey(id))
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			c.stats.IncCounter(stats.MetricMisses, 1)
			c.healMiss(ctx, id)
			return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
		}
		return nil, c.fail(err)
	}

	c.stats.IncCounter(stats.MetricHits, 1)

	c.mu.Lock()
	defer c.mu.Unlock()
	dir, lerr := c.loadLocked(ctx)
	if lerr == nil {
		c.dirman.Touch(dir, id, c.clock())
		// Recency persistence is best effort; a failed save costs LRU
		// accuracy, not correctness.
		if serr := c.dirman.Save(ctx, dir); serr != nil {
			c.logger.Debug("failed to persist access time", zap.String("id", id), zap.Error(serr))
		}
	}
	return payload, nil
}

// List returns every entry whose payload is retrievable, oldest write last.
// Records whose payload has gone missing out-of-band are pruned and the
// pruned directory is persisted: this is the main drift-repair point.
func (c *Cache) List(ctx context.Context) ([]Entry, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if c.disabled.Load() {
		return nil, ErrDisabled
	}
	c.stats.IncCounter(stats.MetricLists, 1)

	c.mu.Lock()
	defer c.mu.Unlock()

	dir, err := c.loadLocked(ctx)
	if err != nil {
		return nil, c.fail(err)
	}

	records := dir.Snapshot()
	payloads := make([][]byte, len(records))
	missing := make([]bool, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.listFetchers)
	for i, rec := range records {
		g.Go(func() error {
			data, err := c.backend.Get(gctx, c.entryKey(rec.ID))
			if err != nil {
				if errors.Is(err, backend.ErrNotFound) {
					missing[i] = true
					return nil
				}
				return err
			}
			payloads[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, c.fail(err)
	}

	now := c.clock()
	entries := make([]Entry, 0, len(records))
	var pruned int64
	for i, rec := range records {
		if missing[i] {
			c.dirman.Drop(dir, rec.ID)
			pruned++
			continue
		}
		c.dirman.Touch(dir, rec.ID, now)
		entries = append(entries, Entry{
			ID:             rec.ID,
			Payload:        payloads[i],
			SizeBytes:      rec.SizeBytes,
			LastAccessedAt: now,
			UpdatedAt:      rec.UpdatedAt,
		})
	}

	if serr := c.dirman.Save(ctx, dir); serr != nil {
		c.logger.Debug("failed to persist directory after list", zap.Error(serr))
	}
	if pruned > 0 {
		c.stats.IncCounter(stats.MetricStaleRecords, pruned)
		c.logger.Info("pruned stale index records", zap.Int64("pruned", pruned))
	}
	c.stats.SetGauge(stats.MetricUsedBytes, dir.UsedBytes())
	c.stats.SetGauge(stats.MetricDirectorySize, int64(len(dir.Records)))

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID < b.ID
	})
	return entries, nil
}

// Remove deletes id's payload and index record. Removing an id that does
// not exist is not an error.
func (c *Cache) Remove(ctx context.Context, id string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if c.disabled.Load() {
		return ErrDisabled
	}
	c.stats.IncCounter(stats.MetricRemoves, 1)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.backend.Delete(ctx, c.entryKey(id)); err != nil {
		return c.fail(err)
	}
	dir, err := c.loadLocked(ctx)
	if err != nil {
		return c.fail(err)
	}
	if _, ok := dir.Records[id]; !ok {
		return nil
	}
	c.dirman.Drop(dir, id)
	if err := c.dirman.Save(ctx, dir); err != nil {
		return c.fail(err)
	}
	c.stats.SetGauge(stats.MetricUsedBytes, dir.UsedBytes())
	return nil
}

// Vacuum runs LRU cleanup on demand until the usage estimate is at or below
// targetBytes. A negative target means the configured write threshold.
// Returns the number of entries evicted.
func (c *Cache) Vacuum(ctx context.Context, targetBytes int64) (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	if c.disabled.Load() {
		return 0, ErrDisabled
	}
	if targetBytes < 0 {
		targetBytes = c.budget.WriteThresholdBytes()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	dir, err := c.loadLocked(ctx)
	if err != nil {
		return 0, c.fail(err)
	}
	evicted, err := c.quota.RunTier1(ctx, dir, targetBytes)
	if err != nil {
		return 0, c.fail(err)
	}
	c.stats.SetGauge(stats.MetricUsedBytes, dir.UsedBytes())
	return evicted, nil
}

// Usage reports the current quota position.
func (c *Cache) Usage(ctx context.Context) (Usage, error) {
	if c.closed.Load() {
		return Usage{}, ErrClosed
	}
	if c.disabled.Load() {
		return Usage{Disabled: true, TotalBudgetBytes: c.budget.TotalBudgetBytes}, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	dir, err := c.loadLocked(ctx)
	if err != nil {
		return Usage{}, c.fail(err)
	}
	return Usage{
		UsedBytes:        dir.UsedBytes(),
		TotalBudgetBytes: c.budget.TotalBudgetBytes,
		Entries:          len(dir.Records),
	}, nil
}

// Close releases the backend. After Close, the cache should not be used.
func (c *Cache) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	if err := c.backend.Close(); err != nil {
		return fmt.Errorf("closing backend: %w", err)
	}
	return nil
}

// Budget returns the quota configuration in effect.
func (c *Cache) Budget() quota.Budget {
	return c.budget
}

func (c *Cache) entryKey(id string) string {
	return c.entryPrefix + id
}

// loadLocked reads the directory, running structural recovery when the blob
// fails to deserialize. Corruption is never an error to the caller.
// Callers must hold c.mu.
func (c *Cache) loadLocked(ctx context.Context) (*directory.Directory, error) {
	dir, corrupted, err := c.dirman.Load(ctx)
	if err != nil {
		return nil, err
	}
	if corrupted {
		c.logger.Warn("directory failed to deserialize, rebuilding")
		rebuilt, rerr := c.quota.RunTier3(ctx)
		if rerr != nil {
			return nil, rerr
		}
		return rebuilt, nil
	}
	return dir, nil
}

// writeEntry performs one write attempt: payload, then index record. A
// quota failure saving the directory escalates exactly like an entry write
// failure, since the index blob is itself size-bounded.
func (c *Cache) writeEntry(ctx context.Context, dir *directory.Directory, key string, rec directory.Record, payload []byte) error {
	if err := c.backend.Set(ctx, key, payload); err != nil {
		return err
	}
	c.dirman.Upsert(dir, rec)
	return c.dirman.Save(ctx, dir)
}

// retryTarget picks the cleanup target for the next attempt, strictly below
// both the previous target and the current usage estimate.
func (c *Cache) retryTarget(dir *directory.Directory, depth int, size, lastTarget int64) int64 {
	candidate := c.budget.WriteThresholdBytes() - size
	if depth > 0 {
		candidate = c.budget.Tier2TargetBytes() - size
	}
	if used := dir.UsedBytes(); candidate >= used {
		candidate = used - 1
	}
	if candidate >= lastTarget {
		candidate = lastTarget - 1
	}
	if candidate < 0 {
		candidate = 0
	}
	return candidate
}

// healMiss drops a directory record whose payload is gone.
func (c *Cache) healMiss(ctx context.Context, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	dir, err := c.loadLocked(ctx)
	if err != nil {
		return
	}
	if _, ok := dir.Records[id]; !ok {
		return
	}
	c.dirman.Drop(dir, id)
	if serr := c.dirman.Save(ctx, dir); serr != nil {
		c.logger.Debug("failed to persist stale record drop", zap.String("id", id), zap.Error(serr))
		return
	}
	c.stats.IncCounter(stats.MetricStaleRecords, 1)
	c.logger.Debug("dropped stale index record", zap.String("id", id))
}

// discardLocked erases any trace of id after a terminal write failure.
func (c *Cache) discardLocked(ctx context.Context, dir *directory.Directory, id string) {
	if err := c.backend.Delete(ctx, c.entryKey(id)); err != nil {
		c.logger.Debug("failed to discard entry after write failure", zap.String("id", id), zap.Error(err))
	}
	if _, ok := dir.Records[id]; ok {
		c.dirman.Drop(dir, id)
		if err := c.dirman.Save(ctx, dir); err != nil {
			c.logger.Debug("failed to persist discard", zap.String("id", id), zap.Error(err))
		}
	}
}

// fail wraps backend failures, tripping the circuit breaker on the first
// unavailability so later calls fail fast instead of re-running cleanup.
func (c *Cache) fail(err error) error {
	if errors.Is(err, backend.ErrUnavailable) {
		if c.disabled.CompareAndSwap(false, true) {
			c.logger.Warn("backend unavailable, disabling cache", zap.Error(err))
		}
		return ErrDisabled
	}
	return err
}
