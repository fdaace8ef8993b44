package repository

import (
	"context"
	"time"

	"SignalCore/internal/domain/models"
)

// Publisher sends envelopes to the broker, keyed for partition ordering.
type Publisher interface {
	Publish(ctx context.Context, env models.Envelope) error
	Close() error
}

// EventLog is the append-only, time-indexed source of truth.
type EventLog interface {
	Init(ctx context.Context) error
	Append(ctx context.Context, env models.Envelope) error
	// Replay calls fn for every event with timestamp >= since, in append order.
	Replay(ctx context.Context, since time.Time, fn func(models.Envelope) error) error
	Close() error
}

type Metrics interface {
	RecordMessageSent(topic, key string)
	RecordError(kind string)
	RecordLastPrice(instrument string, price float64)
	RecordLatency(op string, seconds float64)
}
