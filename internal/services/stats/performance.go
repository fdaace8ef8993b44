package stats

import "math"

// Sharpe returns mean/stdev scaled by sqrt(periodsPerYear).
func Sharpe(returns []float64, periodsPerYear float64) (float64, error) {
	if len(returns) < 2 {
		return 0, ErrInsufficientData
	}
	m, _ := Mean(returns)
	sd, _ := StdDev(returns)
	if sd < epsilon {
		return 0, ErrUndefined
	}
	return m / sd * math.Sqrt(periodsPerYear), nil
}

// Sortino uses the downside deviation (target 0) in place of stdev.
func Sortino(returns []float64, periodsPerYear float64) (float64, error) {
	if len(returns) < 2 {
		return 0, ErrInsufficientData
	}
	var sq float64
	for _, r := range returns {
		if r < 0 {
			sq += r * r
		}
	}
	dd := math.Sqrt(sq / float64(len(returns)))
	if dd < epsilon {
		return 0, ErrUndefined
	}
	m, _ := Mean(returns)
	return m / dd * math.Sqrt(periodsPerYear), nil
}

// MaxDrawdown is the largest peak-to-trough loss of the compounded equity
// curve, as a positive fraction.
func MaxDrawdown(returns []float64) float64 {
	equity, peak, mdd := 1.0, 1.0, 0.0
	for _, r := range returns {
		equity *= 1 + r
		if equity > peak {
			peak = equity
		}
		if dd := (peak - equity) / peak; dd > mdd {
			mdd = dd
		}
	}
	return mdd
}

// Calmar is the annualized mean return over the maximum drawdown.
func Calmar(returns []float64, periodsPerYear float64) (float64, error) {
	if len(returns) < 2 {
		return 0, ErrInsufficientData
	}
	mdd := MaxDrawdown(returns)
	if mdd < epsilon {
		return 0, ErrUndefined
	}
	m, _ := Mean(returns)
	return m * periodsPerYear / mdd, nil
}

// WinRate is the fraction of strictly positive returns.
func WinRate(returns []float64) (float64, error) {
	if len(returns) == 0 {
		return 0, ErrInsufficientData
	}
	wins := 0
	for _, r := range returns {
		if r > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(returns)), nil
}

// ProfitFactor is gross profit over gross loss.
func ProfitFactor(returns []float64) (float64, error) {
	if len(returns) == 0 {
		return 0, ErrInsufficientData
	}
	var gain, loss float64
	for _, r := range returns {
		if r > 0 {
			gain += r
		} else {
			loss -= r
		}
	}
	if loss < epsilon {
		return 0, ErrUndefined
	}
	return gain / loss, nil
}
