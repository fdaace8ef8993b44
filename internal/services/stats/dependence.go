package stats

import (
	"math"

	mstats "github.com/montanaflynn/stats"
)

// Pearson returns the linear correlation of two equal-length series.
func Pearson(xs, ys []float64) (float64, error) {
	if len(xs) != len(ys) {
		return 0, ErrLengthMismatch
	}
	if len(xs) < 2 {
		return 0, ErrInsufficientData
	}
	sx, _ := mstats.StandardDeviationPopulation(xs)
	sy, _ := mstats.StandardDeviationPopulation(ys)
	if sx < epsilon || sy < epsilon {
		return 0, ErrUndefined
	}
	r, err := mstats.Pearson(xs, ys)
	if err != nil {
		return 0, err
	}
	return Clamp(r, -1, 1), nil
}

// Autocorrelation returns the sample autocorrelation at the given lag.
func Autocorrelation(xs []float64, lag int) (float64, error) {
	n := len(xs)
	if lag < 1 || n < lag+2 {
		return 0, ErrInsufficientData
	}
	m, _ := Mean(xs)
	var num, den float64
	for i, x := range xs {
		d := x - m
		den += d * d
		if i >= lag {
			num += d * (xs[i-lag] - m)
		}
	}
	if den < epsilon {
		return 0, ErrUndefined
	}
	return num / den, nil
}

// CrossCorrelation correlates x_t with y_{t+lag}. A strong positive value at
// lag k means x leads y by k periods.
func CrossCorrelation(xs, ys []float64, lag int) (float64, error) {
	if len(xs) != len(ys) {
		return 0, ErrLengthMismatch
	}
	if lag < 0 || len(xs)-lag < 3 {
		return 0, ErrInsufficientData
	}
	return Pearson(xs[:len(xs)-lag], ys[lag:])
}

// MutualInformation estimates I(X;Y) in nats with an equal-width histogram.
func MutualInformation(xs, ys []float64, bins int) (float64, error) {
	if len(xs) != len(ys) {
		return 0, ErrLengthMismatch
	}
	n := len(xs)
	if n < 2 || bins < 2 {
		return 0, ErrInsufficientData
	}
	bx, by := binIndex(xs, bins), binIndex(ys, bins)

	joint := make([]float64, bins*bins)
	px := make([]float64, bins)
	py := make([]float64, bins)
	for i := 0; i < n; i++ {
		joint[bx[i]*bins+by[i]]++
		px[bx[i]]++
		py[by[i]]++
	}

	total := float64(n)
	var mi float64
	for i := 0; i < bins; i++ {
		for j := 0; j < bins; j++ {
			c := joint[i*bins+j]
			if c == 0 {
				continue
			}
			pxy := c / total
			mi += pxy * math.Log(pxy/((px[i]/total)*(py[j]/total)))
		}
	}
	return math.Max(0, mi), nil
}

func binIndex(xs []float64, bins int) []int {
	lo, hi := xs[0], xs[0]
	for _, x := range xs {
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}
	idx := make([]int, len(xs))
	width := (hi - lo) / float64(bins)
	if width < epsilon {
		return idx
	}
	for i, x := range xs {
		b := int((x - lo) / width)
		if b >= bins {
			b = bins - 1
		}
		idx[i] = b
	}
	return idx
}

// LeastSquaresThroughOrigin fits y = k*x and returns k.
func LeastSquaresThroughOrigin(xs, ys []float64) (float64, error) {
	if len(xs) != len(ys) {
		return 0, ErrLengthMismatch
	}
	if len(xs) == 0 {
		return 0, ErrInsufficientData
	}
	var sxy, sxx float64
	for i := range xs {
		sxy += xs[i] * ys[i]
		sxx += xs[i] * xs[i]
	}
	if sxx < epsilon {
		return 0, ErrUndefined
	}
	return sxy / sxx, nil
}
