package models

import "time"

// CorrelationMatrix holds pairwise Pearson coefficients for one horizon.
// Undefined coefficients are stored as 0 and flagged false in Defined; a
// matrix without Defined treats every entry as defined.
type CorrelationMatrix struct {
	Horizon     int         `json:"horizon"`
	Instruments []string    `json:"instruments"`
	Values      [][]float64 `json:"values"`
	Defined     [][]bool    `json:"defined,omitempty"`
	Samples     int         `json:"samples"`
}

// Get returns the coefficient for (a, b). It reports false when either
// instrument is missing or the coefficient could not be estimated.
func (m CorrelationMatrix) Get(a, b string) (float64, bool) {
	i, j := m.index(a), m.index(b)
	if i < 0 || j < 0 {
		return 0, false
	}
	if m.Defined != nil && !m.Defined[i][j] {
		return 0, false
	}
	return m.Values[i][j], true
}

func (m CorrelationMatrix) index(inst string) int {
	for i, s := range m.Instruments {
		if s == inst {
			return i
		}
	}
	return -1
}

// LeadLag records that Leader's returns anticipate Follower's by Lag periods.
type LeadLag struct {
	Leader      string  `json:"leader"`
	Follower    string  `json:"follower"`
	Lag         int     `json:"lag"`
	Correlation float64 `json:"correlation"`
	PValue      float64 `json:"p_value"`
}

// CorrelationSnapshot is an immutable, versioned set of matrices.
type CorrelationSnapshot struct {
	Version    int64                     `json:"version"`
	ComputedAt time.Time                 `json:"computed_at"`
	Matrices   map[int]CorrelationMatrix `json:"matrices"`
	LeadLag    []LeadLag                 `json:"lead_lag,omitempty"`
}

// Matrix returns the matrix for a horizon.
func (s *CorrelationSnapshot) Matrix(horizon int) (CorrelationMatrix, bool) {
	if s == nil {
		return CorrelationMatrix{}, false
	}
	m, ok := s.Matrices[horizon]
	return m, ok
}
