package models

import "time"

type DecayStatus string

const (
	DecayActive   DecayStatus = "active"
	DecayDegraded DecayStatus = "degraded"
	DecayRetired  DecayStatus = "retired"
)

// DailyReturn is the realized return of a source on one UTC calendar day.
type DailyReturn struct {
	Day    time.Time `json:"day"`
	Return float64   `json:"return"`
}

// DecayState tracks a source's rolling performance and lifecycle status.
type DecayState struct {
	Source        string        `json:"source"`
	Status        DecayStatus   `json:"status"`
	BelowSince    time.Time     `json:"below_since,omitempty"`
	DegradedSince time.Time     `json:"degraded_since,omitempty"`
	RetiredAt     time.Time     `json:"retired_at,omitempty"`
	LastSharpe    float64       `json:"last_sharpe"`
	LastEvaluated time.Time     `json:"last_evaluated,omitempty"`
	DailyReturns  []DailyReturn `json:"daily_returns,omitempty"`
	Applied       []string      `json:"applied,omitempty"`
}

// EffectiveStatus treats the zero value as active.
func (s DecayState) EffectiveStatus() DecayStatus {
	if s.Status == "" {
		return DecayActive
	}
	return s.Status
}

// DecayEvaluation is the daily Sharpe measurement of one source.
type DecayEvaluation struct {
	Source  string    `json:"source"`
	Day     time.Time `json:"day"`
	Sharpe  float64   `json:"sharpe"`
	Samples int       `json:"samples"`
}

// DecayTransition describes a status change caused by an evaluation.
type DecayTransition struct {
	Source string      `json:"source"`
	From   DecayStatus `json:"from"`
	To     DecayStatus `json:"to"`
	Day    time.Time   `json:"day"`
	Sharpe float64     `json:"sharpe"`
}
