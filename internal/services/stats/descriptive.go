// Package stats holds the numeric building blocks shared by every analytics
// component. Functions are pure; numerically undefined results are reported
// as errors rather than NaN or Inf.
package stats

import (
	"errors"
	"math"

	mstats "github.com/montanaflynn/stats"
)

const epsilon = 1e-12

var (
	ErrInsufficientData = errors.New("stats: insufficient data")
	ErrUndefined        = errors.New("stats: undefined for zero variance")
	ErrLengthMismatch   = errors.New("stats: series length mismatch")
)

func Mean(xs []float64) (float64, error) {
	if len(xs) == 0 {
		return 0, ErrInsufficientData
	}
	return mstats.Mean(xs)
}

// StdDev is the sample standard deviation (n-1 denominator).
func StdDev(xs []float64) (float64, error) {
	if len(xs) < 2 {
		return 0, ErrInsufficientData
	}
	return mstats.StandardDeviationSample(xs)
}

// PopulationStdDev uses the n denominator.
func PopulationStdDev(xs []float64) (float64, error) {
	if len(xs) == 0 {
		return 0, ErrInsufficientData
	}
	return mstats.StandardDeviationPopulation(xs)
}

// ZScore standardizes x against sample. ErrUndefined when the sample has no spread.
func ZScore(x float64, sample []float64) (float64, error) {
	m, err := Mean(sample)
	if err != nil {
		return 0, err
	}
	sd, err := StdDev(sample)
	if err != nil {
		return 0, err
	}
	if sd < epsilon {
		return 0, ErrUndefined
	}
	return (x - m) / sd, nil
}

// RollingMean returns the mean of every full window, oldest first.
func RollingMean(xs []float64, window int) []float64 {
	return rolling(xs, window, func(w []float64) float64 {
		m, _ := mstats.Mean(w)
		return m
	})
}

// RollingStdDev returns the sample standard deviation of every full window.
func RollingStdDev(xs []float64, window int) []float64 {
	if window < 2 {
		return nil
	}
	return rolling(xs, window, func(w []float64) float64 {
		sd, _ := mstats.StandardDeviationSample(w)
		return sd
	})
}

func rolling(xs []float64, window int, fn func([]float64) float64) []float64 {
	if window <= 0 || window > len(xs) {
		return nil
	}
	out := make([]float64, 0, len(xs)-window+1)
	for i := window; i <= len(xs); i++ {
		out = append(out, fn(xs[i-window:i]))
	}
	return out
}

// Percentile returns the p-th percentile (0 < p <= 100).
func Percentile(xs []float64, p float64) (float64, error) {
	if len(xs) == 0 {
		return 0, ErrInsufficientData
	}
	return mstats.Percentile(xs, p)
}

// LogReturns converts a price series to log returns. Non-positive prices are skipped.
func LogReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, 0, len(prices)-1)
	prev := prices[0]
	for _, p := range prices[1:] {
		if prev > 0 && p > 0 {
			out = append(out, math.Log(p/prev))
		}
		prev = p
	}
	return out
}

// Clamp bounds x to [lo, hi].
func Clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}
