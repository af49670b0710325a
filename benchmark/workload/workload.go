// Package workload provides tools for replaying record access patterns
// against a cache and measuring hit rates and eviction churn.
package workload

import (
	"context"
	"errors"
	"fmt"

	"github.com/projectmirror/stash"
)

// Pattern generates a deterministic sequence of record ids.
type Pattern interface {
	// Name identifies the pattern in results.
	Name() string

	// Sequence returns the ids accessed, in order.
	Sequence(ops int) []string
}

// Uniform accesses ids from a fixed population with equal probability.
type Uniform struct {
	Population int
	Seed       uint64
}

func (u Uniform) Name() string { return fmt.Sprintf("uniform-%d", u.Population) }

func (u Uniform) Sequence(ops int) []string {
	r := rng(u.Seed)
	out := make([]string, ops)
	for i := range out {
		out[i] = recordID(int(r.next() % uint64(u.Population)))
	}
	return out
}

// Skewed concentrates a fraction of accesses on a small hot set, the
// usual shape of project record traffic.
type Skewed struct {
	Population int
	HotSet     int     // number of hot ids
	HotShare   float64 // fraction of accesses that hit the hot set
	Seed       uint64
}

func (s Skewed) Name() string {
	return fmt.Sprintf("skewed-%d-hot%d", s.Population, s.HotSet)
}

func (s Skewed) Sequence(ops int) []string {
	r := rng(s.Seed)
	out := make([]string, ops)
	hotCut := uint64(s.HotShare * float64(1<<32))
	for i := range out {
		if r.next()%(1<<32) < hotCut {
			out[i] = recordID(int(r.next() % uint64(s.HotSet)))
		} else {
			out[i] = recordID(s.HotSet + int(r.next()%uint64(s.Population-s.HotSet)))
		}
	}
	return out
}

func recordID(n int) string { return fmt.Sprintf("record-%04d", n) }

// rng is a splitmix64 generator, seeded for reproducible runs.
type splitmix struct{ state uint64 }

func rng(seed uint64) *splitmix { return &splitmix{state: seed} }

func (s *splitmix) next() uint64 {
	s.state += 0x9e3779b97f4a7c15
	z := s.state
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// Runner replays access patterns against a cache. Every access is a
// fetch; a miss is followed by a store of a fixed-size payload, as a
// read-through client would do.
type Runner struct {
	cache        *stash.Cache
	payloadBytes int
	windowSize   int
}

// NewRunner creates a Runner storing payloads of the given size on miss.
func NewRunner(cache *stash.Cache, payloadBytes int) *Runner {
	return &Runner{
		cache:        cache,
		payloadBytes: payloadBytes,
		windowSize:   100,
	}
}

// Result contains the raw outcome of one pattern replay.
type Result struct {
	PatternName string
	Ops         int
	Hits        int
	Misses      int
	// EvictionMisses counts misses on ids that had been stored earlier
	// in the run, i.e. records lost to eviction.
	EvictionMisses int
	PutFailures    int
	// IDAccesses maps each id to how often it was accessed.
	IDAccesses map[string]int
	// WindowHitRates holds the hit rate of each consecutive window of
	// accesses, for distribution analysis.
	WindowHitRates []float64
}

// Run replays ops accesses of the given pattern.
func (r *Runner) Run(ctx context.Context, p Pattern, ops int) (*Result, error) {
	res := &Result{
		PatternName: p.Name(),
		Ops:         ops,
		IDAccesses:  make(map[string]int),
	}

	payload := make([]byte, r.payloadBytes)
	written := make(map[string]bool)

	windowHits := 0
	windowOps := 0

	for _, id := range p.Sequence(ops) {
		res.IDAccesses[id]++

		_, err := r.cache.Get(ctx, id)
		switch {
		case err == nil:
			res.Hits++
			windowHits++
		case errors.Is(err, stash.ErrNotFound):
			res.Misses++
			if written[id] {
				res.EvictionMisses++
			}
			if perr := r.cache.Put(ctx, id, payload); perr != nil {
				res.PutFailures++
			} else {
				written[id] = true
			}
		default:
			return nil, fmt.Errorf("fetch during replay: %w", err)
		}

		windowOps++
		if windowOps == r.windowSize {
			res.WindowHitRates = append(res.WindowHitRates, float64(windowHits)/float64(windowOps))
			windowHits, windowOps = 0, 0
		}
	}
	if windowOps > 0 {
		res.WindowHitRates = append(res.WindowHitRates, float64(windowHits)/float64(windowOps))
	}

	return res, nil
}

// RunAll replays each pattern against a fresh sequence and returns
// results keyed by pattern name.
func (r *Runner) RunAll(ctx context.Context, ops int, patterns ...Pattern) (map[string]*Result, error) {
	results := make(map[string]*Result, len(patterns))
	for _, p := range patterns {
		res, err := r.Run(ctx, p, ops)
		if err != nil {
			return nil, err
		}
		results[p.Name()] = res
	}
	return results, nil
}
