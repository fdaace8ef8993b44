package models

import "time"

// Allocation is the target portfolio weight of one instrument.
type Allocation struct {
	Instrument   string    `json:"instrument"`
	Weight       float64   `json:"weight"`
	Direction    Direction `json:"direction"`
	Score        float64   `json:"score"`
	MeanVariance float64   `json:"mean_variance"`
	Kelly        float64   `json:"kelly"`
	RiskParity   float64   `json:"risk_parity"`
	DecayFactor  float64   `json:"decay_factor"`
	DecisionID   string    `json:"decision_id"`
}

// AllocationSnapshot is the full target portfolio produced by a rebalance.
type AllocationSnapshot struct {
	Version       int64        `json:"version"`
	Timestamp     time.Time    `json:"timestamp"`
	Allocations   []Allocation `json:"allocations"`
	GrossExposure float64      `json:"gross_exposure"`
	NetExposure   float64      `json:"net_exposure"`
}
