package models

import "time"

// CapacitySample is one executed order's size ratio and realized slippage.
type CapacitySample struct {
	SizeRatio   float64   `json:"size_ratio"`
	SlippagePct float64   `json:"slippage_pct"`
	Timestamp   time.Time `json:"timestamp"`
}

// CapacityState is the per-strategy capacity estimate.
type CapacityState struct {
	StrategyID     string           `json:"strategy_id"`
	Samples        []CapacitySample `json:"samples"`
	ImpactCoef     float64          `json:"impact_coef"`
	CeilingRatio   float64          `json:"ceiling_ratio"`
	AverageVolume  float64          `json:"average_volume"`
	CeilingSize    float64          `json:"ceiling_size"`
	UtilizationPct float64          `json:"utilization_pct"`
	UpdatedAt      time.Time        `json:"updated_at"`
	Applied        []string         `json:"applied,omitempty"`
}

// CapacityWarning is published when utilization crosses the warn threshold.
type CapacityWarning struct {
	StrategyID     string    `json:"strategy_id"`
	UtilizationPct float64   `json:"utilization_pct"`
	CeilingSize    float64   `json:"ceiling_size"`
	Timestamp      time.Time `json:"timestamp"`
}
