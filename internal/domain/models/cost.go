package models

import "time"

// CostVerdict is the transaction-cost analysis of a consensus decision.
type CostVerdict struct {
	Decision      ConsensusDecision `json:"decision"`
	OrderSize     float64           `json:"order_size"`
	AverageVolume float64           `json:"average_volume"`
	ImpactK       float64           `json:"impact_k"`
	SlippagePct   float64           `json:"slippage_pct"`
	FeePct        float64           `json:"fee_pct"`
	TotalPct      float64           `json:"total_pct"`
	Accepted      bool              `json:"accepted"`
	Reason        string            `json:"reason,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
}

// FillSample is one realized fill used to calibrate the impact coefficient.
type FillSample struct {
	Instrument  string    `json:"instrument"`
	SizeRatio   float64   `json:"size_ratio"`
	SlippagePct float64   `json:"slippage_pct"`
	Timestamp   time.Time `json:"timestamp"`
}
