package models

import "time"

type RegimeDimension string

const (
	DimensionVolatility RegimeDimension = "volatility"
	DimensionTrend      RegimeDimension = "trend"
	DimensionLiquidity  RegimeDimension = "liquidity"
)

const (
	VolatilityLow    = "low"
	VolatilityNormal = "normal"
	VolatilityHigh   = "high"

	TrendUp   = "up"
	TrendDown = "down"
	TrendNone = "none"

	LiquidityNormal = "normal"
	LiquidityThin   = "thin"
)

// RegimeState is the committed regime of one instrument.
type RegimeState struct {
	Instrument string    `json:"instrument"`
	Volatility string    `json:"volatility"`
	Trend      string    `json:"trend"`
	Liquidity  string    `json:"liquidity"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Label returns the committed label for a dimension.
func (r RegimeState) Label(d RegimeDimension) string {
	switch d {
	case DimensionVolatility:
		return r.Volatility
	case DimensionTrend:
		return r.Trend
	case DimensionLiquidity:
		return r.Liquidity
	}
	return ""
}

// WithLabel returns a copy with the dimension set to label.
func (r RegimeState) WithLabel(d RegimeDimension, label string) RegimeState {
	switch d {
	case DimensionVolatility:
		r.Volatility = label
	case DimensionTrend:
		r.Trend = label
	case DimensionLiquidity:
		r.Liquidity = label
	}
	return r
}

// RegimeChange is emitted when a dimension's candidate outlasts the dwell time.
type RegimeChange struct {
	Instrument     string          `json:"instrument"`
	Dimension      RegimeDimension `json:"dimension"`
	From           string          `json:"from"`
	To             string          `json:"to"`
	CandidateSince time.Time       `json:"candidate_since"`
	CommittedAt    time.Time       `json:"committed_at"`
	State          RegimeState     `json:"state"`
}
