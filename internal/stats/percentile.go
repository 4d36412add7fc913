// Package stats holds order statistics shared by the normalizer and the
// segmenter.
package stats

import (
	"math"
	"sort"
)

// Percentile returns the p-quantile, p in [0,1], of values sorted in
// ascending order. It interpolates linearly between the two closest ranks,
// which is numpy's default percentile method.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	switch {
	case n == 0:
		return 0
	case p <= 0:
		return sorted[0]
	case p >= 1:
		return sorted[n-1]
	}

	h := float64(n-1) * p
	lo := int(math.Floor(h))
	if lo >= n-1 {
		return sorted[n-1]
	}
	return sorted[lo] + (h-float64(lo))*(sorted[lo+1]-sorted[lo])
}

// PercentileOf sorts a copy of values and returns their p-quantile
func PercentileOf(values []float64, p float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return Percentile(sorted, p)
}
