package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Broker topics.
const (
	TopicTick                = "market.tick"
	TopicSignalGenerated     = "signal.generated"
	TopicSignalAnomaly       = "signal.anomaly"
	TopicSignalCorrelation   = "signal.correlation"
	TopicSignalAggregated    = "signal.aggregated"
	TopicConsensusFailed     = "signal.consensus_failed"
	TopicCostAnalysis        = "trade.cost_analysis"
	TopicCostRejected        = "trade.cost_rejected"
	TopicTradeOutcome        = "trade.outcome"
	TopicDecayEvaluated      = "signal.decay_evaluated"
	TopicSignalRetired       = "signal.retired"
	TopicCapacityWarning     = "signal.capacity_warning"
	TopicRegimeChange        = "market.regime_change"
	TopicCorrelationSnapshot = "market.correlation_snapshot"
	TopicRebalance           = "portfolio.rebalance"
	TopicAlerts              = "ops.alerts"
)

// Envelope is the wire format of every broker message and event-log row.
type Envelope struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Key       string          `json:"key"`
	Timestamp time.Time       `json:"ts"`
	Payload   json.RawMessage `json:"payload"`
}

// NewEnvelope marshals payload into a fresh envelope.
func NewEnvelope(topic, key string, ts time.Time, payload interface{}) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", topic, err)
	}
	return Envelope{
		ID:        uuid.NewString(),
		Type:      topic,
		Key:       key,
		Timestamp: ts.UTC(),
		Payload:   raw,
	}, nil
}

// ParseEnvelope decodes a broker message. Any decoding problem is ErrMalformed.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: envelope: %v", ErrMalformed, err)
	}
	if env.Type == "" || len(env.Payload) == 0 {
		return Envelope{}, fmt.Errorf("%w: envelope missing type or payload", ErrMalformed)
	}
	return env, nil
}

// DecodePayload unmarshals the envelope payload into T.
func DecodePayload[T any](env Envelope) (T, error) {
	var v T
	if err := json.Unmarshal(env.Payload, &v); err != nil {
		return v, fmt.Errorf("%w: %s payload: %v", ErrMalformed, env.Type, err)
	}
	return v, nil
}
