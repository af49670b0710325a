// Package stats provides a unified interface for collecting metrics.
package stats

// Metric names used throughout the library.
const (
	// Facade metrics.
	MetricGets        = "stash_gets_total"
	MetricHits        = "stash_hits_total"
	MetricMisses      = "stash_misses_total"
	MetricPuts        = "stash_puts_total"
	MetricPutFailures = "stash_put_failures_total"
	MetricRemoves     = "stash_removes_total"
	MetricLists       = "stash_lists_total"

	// Quota metrics.
	MetricEvictions       = "stash_evictions_total"
	MetricCleanupTier1    = "stash_cleanup_tier1_total"
	MetricCleanupTier2    = "stash_cleanup_tier2_total"
	MetricCleanupTier3    = "stash_cleanup_tier3_total"
	MetricCleanupWipes    = "stash_cleanup_wipes_total"
	MetricWriteRetries    = "stash_write_retries_total"
	MetricUsedBytes       = "stash_used_bytes"
	MetricDirectorySize   = "stash_directory_entries"
	MetricDirectoryResets = "stash_directory_resets_total"
	MetricStaleRecords    = "stash_stale_records_pruned_total"

	// Hot layer metrics.
	MetricHotHits   = "stash_hot_hits_total"
	MetricHotMisses = "stash_hot_misses_total"
	MetricHotSize   = "stash_hot_size"
)

// Collector defines the interface for collecting metrics.
type Collector interface {
	// IncCounter increments a counter metric by delta.
	IncCounter(name string, delta int64)

	// SetGauge sets a gauge metric to value.
	SetGauge(name string, value int64)

	// ObserveHistogram records a value in a histogram metric.
	ObserveHistogram(name string, value float64)
}
