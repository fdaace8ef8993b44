package usecase

import (
	"context"
	"fmt"
	"time"

	"SignalCore/internal/domain/models"
	drepo "SignalCore/internal/domain/repository"
)

// Emitter wraps payloads in envelopes and publishes them to the broker.
type Emitter struct {
	pub     drepo.Publisher
	metrics drepo.Metrics
}

func NewEmitter(pub drepo.Publisher, metrics drepo.Metrics) *Emitter {
	return &Emitter{pub: pub, metrics: metrics}
}

// Emit publishes payload on topic, keyed for partition ordering.
func (e *Emitter) Emit(ctx context.Context, topic, key string, ts time.Time, payload interface{}) (models.Envelope, error) {
	env, err := models.NewEnvelope(topic, key, ts, payload)
	if err != nil {
		return models.Envelope{}, err
	}
	start := time.Now()
	if err := e.pub.Publish(ctx, env); err != nil {
		e.metrics.RecordError("publish_" + topic)
		return env, fmt.Errorf("publish %s: %w", topic, err)
	}
	e.metrics.RecordMessageSent(topic, key)
	e.metrics.RecordLatency("publish", time.Since(start).Seconds())
	return env, nil
}
