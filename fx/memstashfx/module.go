// Package memstashfx provides an fx module for an in-memory stash cache.
// Useful for testing.
package memstashfx

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/projectmirror/stash"
	"github.com/projectmirror/stash/internal/backend/membackend"
	"github.com/projectmirror/stash/internal/stats"
	"github.com/projectmirror/stash/internal/stats/logger"
)

// Module provides an in-memory stash cache for testing.
// Requires a *zap.Logger to be provided.
var Module = fx.Module("memstash",
	fx.Provide(
		newStatsCollector,
		newBackend,
		newCache,
	),
)

func newStatsCollector(log *zap.Logger) stats.Collector {
	return logger.New(log.Named("stash.stats"))
}

func newBackend() *membackend.Backend {
	return membackend.New(0)
}

// Params holds dependencies for creating the cache.
type Params struct {
	fx.In

	Logger    *zap.Logger
	Collector stats.Collector
	Backend   *membackend.Backend
	Lifecycle fx.Lifecycle
}

// Result holds the provided cache and backend.
type Result struct {
	fx.Out

	Cache   *stash.Cache
	Backend *membackend.Backend // Exposed for test setup
}

func newCache(p Params) (Result, error) {
	cache, err := stash.New(
		stash.WithBackend(p.Backend),
		stash.WithStats(p.Collector),
		stash.WithLogger(p.Logger.Named("stash")),
	)
	if err != nil {
		return Result{}, err
	}

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return cache.Close()
		},
	})

	return Result{
		Cache:   cache,
		Backend: p.Backend,
	}, nil
}
