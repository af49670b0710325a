// Package logger provides a stats collector that writes metrics to a zap
// logger. Counters carry their running total so a grep over the log shows
// the cache's state without summing deltas.
package logger

import (
	"sync"

	"go.uber.org/zap"

	"github.com/projectmirror/stash/internal/stats"
)

// Collector implements stats.Collector by logging every update.
type Collector struct {
	logger *zap.Logger

	mu     sync.Mutex
	totals map[string]int64
}

var _ stats.Collector = (*Collector)(nil)

// New creates a logging collector. If logger is nil, a no-op logger is
// used and the collector only accumulates totals.
func New(logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		logger: logger,
		totals: make(map[string]int64),
	}
}

// IncCounter logs a counter increment with its running total.
func (c *Collector) IncCounter(name string, delta int64) {
	c.mu.Lock()
	c.totals[name] += delta
	total := c.totals[name]
	c.mu.Unlock()

	c.logger.Debug("counter",
		zap.String("metric", name),
		zap.Int64("delta", delta),
		zap.Int64("total", total),
	)
}

// SetGauge logs a gauge value.
func (c *Collector) SetGauge(name string, value int64) {
	c.logger.Debug("gauge",
		zap.String("metric", name),
		zap.Int64("value", value),
	)
}

// ObserveHistogram logs a histogram observation.
func (c *Collector) ObserveHistogram(name string, value float64) {
	c.logger.Debug("histogram",
		zap.String("metric", name),
		zap.Float64("value", value),
	)
}

// Total returns the accumulated value of a counter. Intended for tests.
func (c *Collector) Total(name string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totals[name]
}
