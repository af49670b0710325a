// Package analysis provides statistical comparison of workload replay
// results, for judging whether a budget or policy change actually moved
// the hit rate.
package analysis

import (
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Summary contains descriptive statistics over a sample, typically the
// per-window hit rates of a replay.
type Summary struct {
	N      int
	Mean   float64
	Median float64
	StdDev float64
	Min    float64
	Max    float64
}

// Summarize computes descriptive statistics for a sample.
func Summarize(sample []float64) Summary {
	if len(sample) == 0 {
		return Summary{}
	}

	sorted := make([]float64, len(sample))
	copy(sorted, sample)
	sort.Float64s(sorted)

	return Summary{
		N:      len(sample),
		Mean:   stat.Mean(sorted, nil),
		Median: stat.Quantile(0.5, stat.Empirical, sorted, nil),
		StdDev: stat.StdDev(sorted, nil),
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
	}
}

// Effect contains Cohen's d and a conventional label for its magnitude.
type Effect struct {
	CohensD        float64
	Interpretation string // "negligible", "small", "medium", "large"
}

// CompareEffect computes Cohen's d between two samples using the pooled
// standard deviation.
func CompareEffect(sample1, sample2 []float64) Effect {
	if len(sample1) < 2 || len(sample2) < 2 {
		return Effect{Interpretation: "undefined"}
	}

	mean1 := stat.Mean(sample1, nil)
	mean2 := stat.Mean(sample2, nil)
	var1 := stat.Variance(sample1, nil)
	var2 := stat.Variance(sample2, nil)

	n1 := float64(len(sample1))
	n2 := float64(len(sample2))
	pooled := math.Sqrt(((n1-1)*var1 + (n2-1)*var2) / (n1 + n2 - 2))

	var d float64
	if pooled > 0 {
		d = (mean1 - mean2) / pooled
	}

	return Effect{
		CohensD:        d,
		Interpretation: interpret(math.Abs(d)),
	}
}

func interpret(d float64) string {
	switch {
	case d < 0.2:
		return "negligible"
	case d < 0.5:
		return "small"
	case d < 0.8:
		return "medium"
	default:
		return "large"
	}
}

// Interval is a bootstrap confidence interval for the difference of
// sample means. Zero outside [Lower, Upper] suggests a real difference.
type Interval struct {
	MeanDiff   float64
	Lower      float64
	Upper      float64
	Confidence float64
}

// BootstrapMeanDiff computes a percentile bootstrap confidence interval
// for mean(sample1) - mean(sample2). The seed makes runs reproducible.
func BootstrapMeanDiff(sample1, sample2 []float64, iterations int, confidence float64, seed int64) Interval {
	if len(sample1) == 0 || len(sample2) == 0 || iterations <= 0 {
		return Interval{Confidence: confidence}
	}

	r := rand.New(rand.NewSource(seed))

	diffs := make([]float64, iterations)
	for i := range diffs {
		diffs[i] = stat.Mean(resample(r, sample1), nil) - stat.Mean(resample(r, sample2), nil)
	}
	sort.Float64s(diffs)

	alpha := 1 - confidence
	lower := int(alpha / 2 * float64(iterations))
	upper := int((1 - alpha/2) * float64(iterations))
	if upper >= iterations {
		upper = iterations - 1
	}

	return Interval{
		MeanDiff:   stat.Mean(sample1, nil) - stat.Mean(sample2, nil),
		Lower:      diffs[lower],
		Upper:      diffs[upper],
		Confidence: confidence,
	}
}

func resample(r *rand.Rand, sample []float64) []float64 {
	out := make([]float64, len(sample))
	for i := range out {
		out[i] = sample[r.Intn(len(sample))]
	}
	return out
}
