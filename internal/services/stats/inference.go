package stats

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// TestResult is the outcome of a hypothesis test.
type TestResult struct {
	Statistic float64 `json:"statistic"`
	PValue    float64 `json:"p_value"`
	DF        float64 `json:"df,omitempty"`
	N         int     `json:"n"`
}

// Significant reports p < alpha.
func (r TestResult) Significant(alpha float64) bool {
	return r.PValue < alpha
}

// StudentTTwoSided returns the two-sided p-value of t with df degrees of freedom.
func StudentTTwoSided(t, df float64) float64 {
	if df <= 0 || math.IsNaN(t) {
		return 1
	}
	if math.IsInf(t, 0) {
		return 0
	}
	d := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	return math.Min(1, 2*d.CDF(-math.Abs(t)))
}

// NormalTwoSided returns the two-sided p-value of a standard normal statistic.
func NormalTwoSided(z float64) float64 {
	if math.IsNaN(z) {
		return 1
	}
	return math.Min(1, 2*distuv.UnitNormal.CDF(-math.Abs(z)))
}

// OneSampleTTest tests whether the mean of xs differs from mu.
func OneSampleTTest(xs []float64, mu float64) (TestResult, error) {
	n := len(xs)
	if n < 2 {
		return TestResult{}, ErrInsufficientData
	}
	m, _ := Mean(xs)
	sd, _ := StdDev(xs)
	if sd < epsilon {
		return TestResult{}, ErrUndefined
	}
	t := (m - mu) / (sd / math.Sqrt(float64(n)))
	df := float64(n - 1)
	return TestResult{Statistic: t, PValue: StudentTTwoSided(t, df), DF: df, N: n}, nil
}

// WelchTTest tests whether two samples have different means without assuming equal variances.
func WelchTTest(a, b []float64) (TestResult, error) {
	na, nb := len(a), len(b)
	if na < 2 || nb < 2 {
		return TestResult{}, ErrInsufficientData
	}
	ma, _ := Mean(a)
	mb, _ := Mean(b)
	sa, _ := StdDev(a)
	sb, _ := StdDev(b)
	va, vb := sa*sa/float64(na), sb*sb/float64(nb)
	se := math.Sqrt(va + vb)
	if se < epsilon {
		return TestResult{}, ErrUndefined
	}
	t := (ma - mb) / se
	df := (va + vb) * (va + vb) / (va*va/float64(na-1) + vb*vb/float64(nb-1))
	return TestResult{Statistic: t, PValue: StudentTTwoSided(t, df), DF: df, N: na + nb}, nil
}

// OutlierTTest tests whether a new observation x belongs to the population of
// sample, using the prediction-interval statistic t = (x-mean)/(s*sqrt(1+1/n)).
func OutlierTTest(x float64, sample []float64) (TestResult, error) {
	n := len(sample)
	if n < 2 {
		return TestResult{}, ErrInsufficientData
	}
	m, _ := Mean(sample)
	sd, _ := StdDev(sample)
	if sd < epsilon {
		return TestResult{}, ErrUndefined
	}
	t := (x - m) / (sd * math.Sqrt(1+1/float64(n)))
	df := float64(n - 1)
	return TestResult{Statistic: t, PValue: StudentTTwoSided(t, df), DF: df, N: n}, nil
}

// PearsonTest returns the correlation and its significance (t with n-2 df).
func PearsonTest(xs, ys []float64) (float64, TestResult, error) {
	r, err := Pearson(xs, ys)
	if err != nil {
		return 0, TestResult{}, err
	}
	n := len(xs)
	if n < 3 {
		return r, TestResult{}, ErrInsufficientData
	}
	df := float64(n - 2)
	if 1-math.Abs(r) < epsilon {
		return r, TestResult{Statistic: math.Copysign(math.Inf(1), r), PValue: 0, DF: df, N: n}, nil
	}
	t := r * math.Sqrt(df/(1-r*r))
	return r, TestResult{Statistic: t, PValue: StudentTTwoSided(t, df), DF: df, N: n}, nil
}

// FisherZ maps a correlation coefficient to the Fisher z scale.
func FisherZ(r float64) float64 {
	return math.Atanh(Clamp(r, -0.9999, 0.9999))
}

// FisherZTest tests whether two correlations, estimated from n1 and n2
// observations, differ.
func FisherZTest(r1 float64, n1 int, r2 float64, n2 int) (TestResult, error) {
	if n1 <= 3 || n2 <= 3 {
		return TestResult{}, ErrInsufficientData
	}
	se := math.Sqrt(1/float64(n1-3) + 1/float64(n2-3))
	z := (FisherZ(r1) - FisherZ(r2)) / se
	return TestResult{Statistic: z, PValue: NormalTwoSided(z), N: n1 + n2}, nil
}

// Bonferroni returns the per-test significance level for m simultaneous tests.
func Bonferroni(alpha float64, m int) float64 {
	if m < 1 {
		m = 1
	}
	return alpha / float64(m)
}
