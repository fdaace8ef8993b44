package models

import (
	"fmt"
	"math"
	"time"
)

// DefaultStrategy is used when an outcome does not name its strategy.
const DefaultStrategy = "consensus"

// ExecutionOutcome is the realized result of an executed decision, reported
// by the execution collaborator on trade.outcome.
type ExecutionOutcome struct {
	ID                  string        `json:"id"`
	DecisionID          string        `json:"decision_id"`
	Instrument          string        `json:"instrument"`
	StrategyID          string        `json:"strategy_id"`
	Direction           Direction     `json:"direction"`
	Contributors        []SourceScore `json:"contributors"`
	OrderSize           float64       `json:"order_size"`
	AverageVolume       float64       `json:"average_volume"`
	RealizedSlippagePct float64       `json:"realized_slippage_pct"`
	RealizedReturn      float64       `json:"realized_return"`
	Timestamp           time.Time     `json:"timestamp"`
}

func (o ExecutionOutcome) Validate() error {
	switch {
	case o.ID == "":
		return fmt.Errorf("%w: outcome without id", ErrMalformed)
	case o.Instrument == "":
		return fmt.Errorf("%w: outcome %s without instrument", ErrMalformed, o.ID)
	case o.Timestamp.IsZero():
		return fmt.Errorf("%w: outcome %s without timestamp", ErrMalformed, o.ID)
	case math.IsNaN(o.RealizedReturn) || math.IsNaN(o.RealizedSlippagePct):
		return fmt.Errorf("%w: outcome %s has NaN values", ErrMalformed, o.ID)
	case o.OrderSize < 0 || o.AverageVolume < 0:
		return fmt.Errorf("%w: outcome %s negative size or volume", ErrMalformed, o.ID)
	}
	return nil
}

// Strategy returns the strategy id, defaulting to DefaultStrategy.
func (o ExecutionOutcome) Strategy() string {
	if o.StrategyID == "" {
		return DefaultStrategy
	}
	return o.StrategyID
}

// SizeRatio is order size over average volume, 0 when volume is unknown.
func (o ExecutionOutcome) SizeRatio() float64 {
	if o.AverageVolume <= 0 {
		return 0
	}
	return o.OrderSize / o.AverageVolume
}
