package service

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}

// pstdev is the population standard deviation (divides by n).
func pstdev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	_, std := stat.PopMeanStdDev(values, nil)
	return std
}

// zscore returns |value-mean|/std, or 0 when std is 0.
func zscore(value, mean, std float64) float64 {
	if std == 0 {
		return 0
	}
	return math.Abs((value - mean) / std)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// percentile interpolates linearly between the closest ranks of ascending
// sorted values, p in [0, 100]. stat.LinInterp places quantile q at rank
// q*n-1, so q is shifted to land on rank p/100*(n-1). The result is clamped
// to the bracketing values so equal neighbours return exactly their value.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	rank := p / 100 * float64(n-1)
	q := (rank + 1) / float64(n)
	v := stat.Quantile(math.Min(q, 1), stat.LinInterp, sorted, nil)
	return clamp(v, sorted[int(math.Floor(rank))], sorted[int(math.Ceil(rank))])
}
