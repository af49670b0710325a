// Package prometheus provides a Prometheus-backed stats collector. The
// cache's metric set is known up front, so every metric is declared and
// registered at construction with a proper help string; unknown names are
// registered lazily as a fallback.
package prometheus

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/projectmirror/stash/internal/stats"
)

var counterHelp = map[string]string{
	stats.MetricGets:            "Total fetch operations.",
	stats.MetricHits:            "Fetches served from the cache.",
	stats.MetricMisses:          "Fetches that found no cached payload.",
	stats.MetricPuts:            "Total store operations.",
	stats.MetricPutFailures:     "Stores abandoned after cleanup retries or rejected as oversized.",
	stats.MetricRemoves:         "Total remove operations.",
	stats.MetricLists:           "Total list operations.",
	stats.MetricEvictions:       "Entries evicted to reclaim budget.",
	stats.MetricCleanupTier1:    "LRU eviction passes.",
	stats.MetricCleanupTier2:    "Stray-key purge passes.",
	stats.MetricCleanupTier3:    "Structural index rebuilds.",
	stats.MetricCleanupWipes:    "Last-resort cache wipes.",
	stats.MetricWriteRetries:    "Write attempts retried after a quota failure.",
	stats.MetricDirectoryResets: "Index directories reset after corruption.",
	stats.MetricStaleRecords:    "Index records pruned because their payload was gone.",
	stats.MetricHotHits:         "Fetches served from the in-process hot layer.",
	stats.MetricHotMisses:       "Hot-layer misses passed to the persistent cache.",
}

var gaugeHelp = map[string]string{
	stats.MetricUsedBytes:     "Estimated bytes used by indexed entries.",
	stats.MetricDirectorySize: "Number of indexed entries.",
	stats.MetricHotSize:       "Entries held in the in-process hot layer.",
}

// Collector implements stats.Collector using Prometheus metrics.
type Collector struct {
	registry prometheus.Registerer

	mu         sync.Mutex
	counters   map[string]prometheus.Counter
	gauges     map[string]prometheus.Gauge
	histograms map[string]prometheus.Histogram
}

var _ stats.Collector = (*Collector)(nil)

// New creates a Prometheus collector with the cache metric set
// pre-registered. If registry is nil, prometheus.DefaultRegisterer is
// used.
func New(registry prometheus.Registerer) *Collector {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	c := &Collector{
		registry:   registry,
		counters:   make(map[string]prometheus.Counter, len(counterHelp)),
		gauges:     make(map[string]prometheus.Gauge, len(gaugeHelp)),
		histograms: make(map[string]prometheus.Histogram),
	}
	for name, help := range counterHelp {
		c.counters[name] = c.registerCounter(name, help)
	}
	for name, help := range gaugeHelp {
		c.gauges[name] = c.registerGauge(name, help)
	}
	return c
}

// IncCounter increments a counter metric.
func (c *Collector) IncCounter(name string, delta int64) {
	c.mu.Lock()
	counter, ok := c.counters[name]
	if !ok {
		counter = c.registerCounter(name, name)
		c.counters[name] = counter
	}
	c.mu.Unlock()

	counter.Add(float64(delta))
}

// SetGauge sets a gauge metric.
func (c *Collector) SetGauge(name string, value int64) {
	c.mu.Lock()
	gauge, ok := c.gauges[name]
	if !ok {
		gauge = c.registerGauge(name, name)
		c.gauges[name] = gauge
	}
	c.mu.Unlock()

	gauge.Set(float64(value))
}

// ObserveHistogram records a value in a histogram.
func (c *Collector) ObserveHistogram(name string, value float64) {
	c.mu.Lock()
	histogram, ok := c.histograms[name]
	if !ok {
		histogram = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    name,
			Help:    name,
			Buckets: prometheus.DefBuckets,
		})
		if existing, ok := register(c.registry, histogram); ok {
			if h, ok := existing.(prometheus.Histogram); ok {
				histogram = h
			}
		}
		c.histograms[name] = histogram
	}
	c.mu.Unlock()

	histogram.Observe(value)
}

func (c *Collector) registerCounter(name, help string) prometheus.Counter {
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	if existing, ok := register(c.registry, counter); ok {
		if cc, ok := existing.(prometheus.Counter); ok {
			return cc
		}
	}
	return counter
}

func (c *Collector) registerGauge(name, help string) prometheus.Gauge {
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	if existing, ok := register(c.registry, gauge); ok {
		if g, ok := existing.(prometheus.Gauge); ok {
			return g
		}
	}
	return gauge
}

// register attempts registration and surfaces the already-registered
// collector when two caches share a registry.
func register(r prometheus.Registerer, m prometheus.Collector) (prometheus.Collector, bool) {
	if err := r.Register(m); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector, true
		}
	}
	return nil, false
}
