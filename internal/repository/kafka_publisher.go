package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"SignalCore/internal/domain/models"
	domrepo "SignalCore/internal/domain/repository"
	"SignalCore/pkg/breaker"
	pkgkafka "SignalCore/pkg/kafka"
)

// KafkaPublisher publishes envelopes through a circuit breaker. The envelope
// id travels as the trace_id header so consumers can correlate logs.
type KafkaPublisher struct {
	producer *pkgkafka.Producer
	breaker  *breaker.Breaker
}

var _ domrepo.Publisher = (*KafkaPublisher)(nil)

func NewKafkaPublisher(producer *pkgkafka.Producer, br *breaker.Breaker) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, breaker: br}
}

func (p *KafkaPublisher) Publish(ctx context.Context, env models.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return p.breaker.Do(ctx, func(ctx context.Context) error {
		return p.producer.Publish(ctx, env.Type, []byte(env.Key), b,
			pkgkafka.Header{Key: "trace_id", Value: []byte(env.ID)})
	})
}

// PublishMessage sends an arbitrary payload; the log collector ships alert
// batches through it.
func (p *KafkaPublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.breaker.Do(ctx, func(ctx context.Context) error {
		return p.producer.Publish(ctx, topic, nil, payload)
	})
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
