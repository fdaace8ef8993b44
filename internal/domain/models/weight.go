package models

import "time"

// SignalWeight is the adaptive weight of one signal source.
// Applied holds recently folded outcome ids so that replays are idempotent.
type SignalWeight struct {
	Source       string    `json:"source"`
	Weight       float64   `json:"weight"`
	Accuracy     float64   `json:"accuracy"`
	Observations int       `json:"observations"`
	Hits         int       `json:"hits"`
	Applied      []string  `json:"applied,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HasApplied reports whether the outcome id was already folded in.
func (w SignalWeight) HasApplied(id string) bool {
	for _, a := range w.Applied {
		if a == id {
			return true
		}
	}
	return false
}
