// Package hotcache wraps a stash.Cache with an in-process LRU payload
// cache, so repeated reads of hot entries skip the persistent backend.
// Concurrent misses for the same id are coalesced into a single backend
// read.
package hotcache

import (
	"context"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/projectmirror/stash"
	"github.com/projectmirror/stash/internal/stats"
)

// Stats contains hot-layer statistics.
type Stats struct {
	Hits   int64
	Misses int64
	Size   int // Current number of resident payloads
}

// HitRate returns the hot-layer hit rate as a percentage.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// Cache is a read-through hot layer in front of a persistent stash.Cache.
// Writes go through to the persistent cache first; the hot layer only ever
// holds payloads the persistent cache accepted.
type Cache struct {
	underlying *stash.Cache
	payloads   *lru.Cache[string, []byte]
	group      singleflight.Group
	collector  stats.Collector

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a hot layer holding up to capacity payloads.
// The collector is optional; if nil, a no-op collector is used.
func New(underlying *stash.Cache, capacity int, collector stats.Collector) (*Cache, error) {
	if collector == nil {
		collector = stats.NewNoop()
	}
	payloads, err := lru.New[string, []byte](capacity)
	if err != nil {
		return nil, fmt.Errorf("hotcache: %w", err)
	}
	return &Cache{
		underlying: underlying,
		payloads:   payloads,
		collector:  collector,
	}, nil
}

// Get returns the payload for id, reading through to the persistent cache
// on a hot-layer miss. Concurrent misses for one id share a single read.
func (c *Cache) Get(ctx context.Context, id string) ([]byte, error) {
	if payload, ok := c.payloads.Get(id); ok {
		c.hits.Add(1)
		c.collector.IncCounter(stats.MetricHotHits, 1)
		return payload, nil
	}
	c.misses.Add(1)
	c.collector.IncCounter(stats.MetricHotMisses, 1)

	v, err, _ := c.group.Do(id, func() (any, error) {
		payload, err := c.underlying.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		c.payloads.Add(id, payload)
		c.collector.SetGauge(stats.MetricHotSize, int64(c.payloads.Len()))
		return payload, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Put writes through to the persistent cache and, on success, refreshes
// the hot copy.
func (c *Cache) Put(ctx context.Context, id string, payload []byte) error {
	if err := c.underlying.Put(ctx, id, payload); err != nil {
		// A failed put means "not cached"; a hot copy must not resurrect it.
		c.payloads.Remove(id)
		return err
	}
	c.payloads.Add(id, payload)
	c.collector.SetGauge(stats.MetricHotSize, int64(c.payloads.Len()))
	return nil
}

// Remove deletes id from both layers.
func (c *Cache) Remove(ctx context.Context, id string) error {
	c.payloads.Remove(id)
	return c.underlying.Remove(ctx, id)
}

// List delegates to the persistent cache and warms the hot layer with the
// returned payloads.
func (c *Cache) List(ctx context.Context) ([]stash.Entry, error) {
	entries, err := c.underlying.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		c.payloads.Add(e.ID, e.Payload)
	}
	c.collector.SetGauge(stats.MetricHotSize, int64(c.payloads.Len()))
	return entries, nil
}

// Stats returns hot-layer statistics.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Size:   c.payloads.Len(),
	}
}

// Close closes the underlying persistent cache.
func (c *Cache) Close() error {
	c.payloads.Purge()
	return c.underlying.Close()
}
