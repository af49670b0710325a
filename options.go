package stash

import (
	"time"

	"go.uber.org/zap"

	"github.com/projectmirror/stash/internal/backend"
	"github.com/projectmirror/stash/internal/quota"
	"github.com/projectmirror/stash/internal/stats"
)

// Option configures a Cache.
type Option interface {
	apply(*options)
}

// options holds the cache configuration.
type options struct {
	backend       backend.Backend
	budget        quota.Budget
	namespace     string
	maxDirEntries int
	listFetchers  int
	protectedIDs  map[string]bool
	protectedKeys map[string]bool
	clock         func() time.Time
	stats         stats.Collector
	logger        *zap.Logger
}

// defaultOptions returns the default configuration.
func defaultOptions() options {
	return options{
		budget:        quota.DefaultBudget(),
		namespace:     "stash",
		listFetchers:  8,
		protectedIDs:  make(map[string]bool),
		protectedKeys: make(map[string]bool),
		clock:         time.Now,
		stats:         stats.NewNoop(),
		logger:        zap.NewNop(),
	}
}

// optionFunc wraps a function to implement Option.
type optionFunc func(*options)

// Compile-time check that optionFunc implements Option.
var _ Option = optionFunc(nil)

func (f optionFunc) apply(o *options) { f(o) }

// WithBackend sets the storage backend. Required.
func WithBackend(b backend.Backend) Option {
	return optionFunc(func(o *options) {
		o.backend = b
	})
}

// WithBudget sets the quota budget.
// If not set, quota.DefaultBudget() is used.
func WithBudget(b quota.Budget) Option {
	return optionFunc(func(o *options) {
		o.budget = b
	})
}

// WithNamespace sets the backend key namespace. Entry keys live under
// "<namespace>/entry/" and the directory under "<namespace>/index", so
// multiple isolated caches can share one backend. Isolation holds through
// cleanup: the stray purge and the last-resort wipe only ever delete keys
// inside the cache's own namespace.
func WithNamespace(ns string) Option {
	return optionFunc(func(o *options) {
		o.namespace = ns
	})
}

// WithMaxDirectoryEntries bounds the metadata directory independently of
// payload eviction. Default is directory.DefaultMaxEntries.
func WithMaxDirectoryEntries(n int) Option {
	return optionFunc(func(o *options) {
		o.maxDirEntries = n
	})
}

// WithListFetchConcurrency bounds how many payloads List fetches in
// parallel. Default is 8.
func WithListFetchConcurrency(n int) Option {
	return optionFunc(func(o *options) {
		if n > 0 {
			o.listFetchers = n
		}
	})
}

// WithProtectedIDs marks entry ids that cleanup must never evict.
func WithProtectedIDs(ids ...string) Option {
	return optionFunc(func(o *options) {
		for _, id := range ids {
			o.protectedIDs[id] = true
		}
	})
}

// WithProtectedKeys marks raw backend keys (host data such as auth tokens,
// outside the cache's namespace) that stray purges and the last-resort wipe
// must preserve.
func WithProtectedKeys(keys ...string) Option {
	return optionFunc(func(o *options) {
		for _, k := range keys {
			o.protectedKeys[k] = true
		}
	})
}

// WithClock sets the timestamp source. It must be monotonic for ordering
// purposes; wall clock and logical clocks both qualify.
// If not set, time.Now is used.
func WithClock(clock func() time.Time) Option {
	return optionFunc(func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	})
}

// WithStats sets the stats collector.
// If not set, a no-op collector is used.
func WithStats(c stats.Collector) Option {
	return optionFunc(func(o *options) {
		o.stats = c
	})
}

// WithLogger sets the logger.
// If not set, a no-op logger is used.
func WithLogger(l *zap.Logger) Option {
	return optionFunc(func(o *options) {
		o.logger = l
	})
}
