package models

import "time"

// SourceScore is one source's contribution as recorded in the audit trail.
type SourceScore struct {
	Source     string     `json:"source"`
	Kind       SourceKind `json:"kind"`
	Direction  Direction  `json:"direction"`
	Confidence float64    `json:"confidence"`
	Weight     float64    `json:"weight"`
}

// ConsensusDecision is emitted when a window reaches consensus.
type ConsensusDecision struct {
	ID           string        `json:"id"`
	Instrument   string        `json:"instrument"`
	Direction    Direction     `json:"direction"`
	Score        float64       `json:"score"`
	Contributors []SourceScore `json:"contributors"`
	WindowOpened time.Time     `json:"window_opened"`
	WindowClosed time.Time     `json:"window_closed"`
}

// Failure reasons.
const (
	ReasonInsufficientSources = "insufficient_sources"
	ReasonBelowThreshold      = "below_threshold"
	ReasonNoDirection         = "no_direction"
	ReasonStateUnavailable    = "state_unavailable"
)

// ConsensusFailure records a window that closed without consensus.
type ConsensusFailure struct {
	Instrument      string        `json:"instrument"`
	Reason          string        `json:"reason"`
	Direction       Direction     `json:"direction,omitempty"`
	Score           float64       `json:"score"`
	DistinctSources int           `json:"distinct_sources"`
	Scores          []SourceScore `json:"scores"`
	WindowOpened    time.Time     `json:"window_opened"`
	WindowClosed    time.Time     `json:"window_closed"`
}
