// Package stats holds the small set of robust statistics the surface needs.
// NaN marks a missing value throughout and is skipped by every reducer.
package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Finite returns the non-NaN, non-Inf values of xs in their original order.
func Finite(xs []float64) []float64 {
	out := make([]float64, 0, len(xs))
	for _, x := range xs {
		if !math.IsNaN(x) && !math.IsInf(x, 0) {
			out = append(out, x)
		}
	}
	return out
}

// Quantile returns the q-th quantile using linear interpolation between
// closest ranks (h = (n-1)q). Returns NaN for an empty sample.
func Quantile(xs []float64, q float64) float64 {
	v := Finite(xs)
	if len(v) == 0 {
		return math.NaN()
	}
	sort.Float64s(v)
	h := float64(len(v)-1) * q
	lo := math.Floor(h)
	hi := math.Ceil(h)
	if lo == hi {
		return v[int(lo)]
	}
	return v[int(lo)] + (h-lo)*(v[int(hi)]-v[int(lo)])
}

// Median is Quantile(xs, 0.5).
func Median(xs []float64) float64 {
	return Quantile(xs, 0.5)
}

// Mean returns the arithmetic mean of the finite values.
func Mean(xs []float64) float64 {
	v := Finite(xs)
	if len(v) == 0 {
		return math.NaN()
	}
	return stat.Mean(v, nil)
}

// StdDev returns the sample standard deviation (n-1 denominator).
func StdDev(xs []float64) float64 {
	v := Finite(xs)
	if len(v) < 2 {
		return math.NaN()
	}
	return stat.StdDev(v, nil)
}

// Slope fits y = a + b*x by least squares and returns b.
func Slope(x, y []float64) float64 {
	if len(x) != len(y) || len(x) < 2 {
		return math.NaN()
	}
	_, b := stat.LinearRegression(x, y, nil, false)
	return b
}

// PercentileOfScore ranks v within sample, counting ties at half weight.
// The result is in [0, 1]; NaN for an empty sample.
func PercentileOfScore(sample []float64, v float64) float64 {
	if len(sample) == 0 {
		return math.NaN()
	}
	var below, equal float64
	for _, s := range sample {
		switch {
		case s < v:
			below++
		case s == v:
			equal++
		}
	}
	return (below + 0.5*equal) / float64(len(sample))
}

// Clamp01 limits x to [0, 1].
func Clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}

// Rolling applies fn over a trailing window of size w ending at each index.
// Windows holding fewer than minPeriods finite values yield NaN.
func Rolling(xs []float64, w, minPeriods int, fn func([]float64) float64) []float64 {
	out := make([]float64, len(xs))
	for i := range xs {
		lo := i - w + 1
		if lo < 0 {
			lo = 0
		}
		win := Finite(xs[lo : i+1])
		if len(win) < minPeriods {
			out[i] = math.NaN()
			continue
		}
		out[i] = fn(win)
	}
	return out
}
