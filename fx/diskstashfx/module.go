// Package diskstashfx provides an fx module for a disk-backed stash cache.
package diskstashfx

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/projectmirror/stash"
	"github.com/projectmirror/stash/internal/backend/diskbackend"
	"github.com/projectmirror/stash/internal/codec/zstdcodec"
	"github.com/projectmirror/stash/internal/quota"
	"github.com/projectmirror/stash/internal/stats"
	"github.com/projectmirror/stash/internal/stats/logger"
)

// Config holds configuration for the disk-backed cache.
type Config struct {
	// CacheDir is the directory holding the cache contents.
	CacheDir string

	// TotalBudgetBytes is the byte budget. Zero uses the default.
	TotalBudgetBytes int64

	// Namespace isolates this cache's keys. Empty uses the default.
	Namespace string

	// ProtectedIDs are entry ids never evicted by cleanup.
	ProtectedIDs []string
}

// Module provides a disk-backed *stash.Cache.
// Requires a *zap.Logger to be provided.
var Module = fx.Module("diskstash",
	fx.Provide(
		newStatsCollector,
		newCache,
	),
)

func newStatsCollector(log *zap.Logger) stats.Collector {
	return logger.New(log.Named("stash.stats"))
}

// Params holds dependencies for creating the cache.
type Params struct {
	fx.In

	Config    Config
	Logger    *zap.Logger
	Collector stats.Collector
	Lifecycle fx.Lifecycle
}

// Result holds the provided cache.
type Result struct {
	fx.Out

	Cache *stash.Cache
}

func newCache(p Params) (Result, error) {
	budget := quota.DefaultBudget()
	if p.Config.TotalBudgetBytes > 0 {
		budget.TotalBudgetBytes = p.Config.TotalBudgetBytes
	}

	be, err := diskbackend.New(p.Config.CacheDir, zstdcodec.New(), 0)
	if err != nil {
		return Result{}, err
	}

	opts := []stash.Option{
		stash.WithBackend(be),
		stash.WithBudget(budget),
		stash.WithStats(p.Collector),
		stash.WithLogger(p.Logger.Named("stash")),
	}
	if p.Config.Namespace != "" {
		opts = append(opts, stash.WithNamespace(p.Config.Namespace))
	}
	if len(p.Config.ProtectedIDs) > 0 {
		opts = append(opts, stash.WithProtectedIDs(p.Config.ProtectedIDs...))
	}

	cache, err := stash.New(opts...)
	if err != nil {
		return Result{}, err
	}

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return cache.Close()
		},
	})

	return Result{Cache: cache}, nil
}
