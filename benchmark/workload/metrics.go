package workload

import (
	"sort"
)

// Metrics contains computed metrics from a pattern replay.
type Metrics struct {
	// Core metrics.
	Ops       int
	HitRate   float64 // fraction of accesses served from cache
	ChurnRate float64 // fraction of misses caused by eviction
	UniqueIDs int

	// Distribution of per-window hit rates.
	MedianWindowHitRate float64
	P10WindowHitRate    float64
	P90WindowHitRate    float64

	// Locality metrics.
	AccessConcentration float64 // Gini coefficient of per-id access counts
	TopIDPct            float64 // percentage of accesses to the top 10% of ids
}

// ComputeMetrics computes detailed metrics from a replay result.
func ComputeMetrics(res *Result) *Metrics {
	m := &Metrics{
		Ops:       res.Ops,
		UniqueIDs: len(res.IDAccesses),
	}

	if res.Ops > 0 {
		m.HitRate = float64(res.Hits) / float64(res.Ops)
	}
	if res.Misses > 0 {
		m.ChurnRate = float64(res.EvictionMisses) / float64(res.Misses)
	}

	if len(res.WindowHitRates) > 0 {
		sorted := make([]float64, len(res.WindowHitRates))
		copy(sorted, res.WindowHitRates)
		sort.Float64s(sorted)

		m.MedianWindowHitRate = percentile(sorted, 50)
		m.P10WindowHitRate = percentile(sorted, 10)
		m.P90WindowHitRate = percentile(sorted, 90)
	}

	if len(res.IDAccesses) > 0 {
		m.AccessConcentration = gini(res.IDAccesses)
		m.TopIDPct = topIDPct(res.IDAccesses, res.Ops, 0.1)
	}

	return m
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p / 100)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func gini(accesses map[string]int) float64 {
	if len(accesses) == 0 {
		return 0
	}

	values := make([]int, 0, len(accesses))
	for _, v := range accesses {
		values = append(values, v)
	}
	sort.Ints(values)

	n := float64(len(values))
	var sum, cumulative float64
	for i, v := range values {
		sum += float64(v)
		cumulative += float64(i+1) * float64(v)
	}
	if sum == 0 {
		return 0
	}
	return (2*cumulative)/(n*sum) - (n+1)/n
}

func topIDPct(accesses map[string]int, total int, topFraction float64) float64 {
	if total == 0 || len(accesses) == 0 {
		return 0
	}

	counts := make([]int, 0, len(accesses))
	for _, c := range accesses {
		counts = append(counts, c)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(counts)))

	topCount := int(float64(len(counts)) * topFraction)
	if topCount < 1 {
		topCount = 1
	}

	var topHits int
	for i := 0; i < topCount && i < len(counts); i++ {
		topHits += counts[i]
	}
	return float64(topHits) / float64(total) * 100
}
