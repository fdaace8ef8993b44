package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"SignalCore/internal/domain/models"
	domrepo "SignalCore/internal/domain/repository"
	pkgkafka "SignalCore/pkg/kafka"
	applogger "SignalCore/pkg/logger"
)

// Bus is an in-process Publisher that hands every envelope synchronously to
// the handlers registered for its topic. It keeps a copy of everything
// published. Handler errors are logged and recorded, never returned to the
// publisher, matching broker semantics.
type Bus struct {
	mu        sync.RWMutex
	handlers  map[string][]pkgkafka.MessageHandler
	published []models.Envelope
	failures  []error
	l         *applogger.Logger
}

var _ domrepo.Publisher = (*Bus)(nil)

func NewBus(l *applogger.Logger) *Bus {
	if l == nil {
		l = applogger.NewNop()
	}
	return &Bus{handlers: make(map[string][]pkgkafka.MessageHandler), l: l}
}

func (b *Bus) RegisterHandler(h pkgkafka.MessageHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[h.Topic()] = append(b.handlers[h.Topic()], h)
}

func (b *Bus) Publish(ctx context.Context, env models.Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	b.mu.Lock()
	b.published = append(b.published, env)
	hs := append([]pkgkafka.MessageHandler(nil), b.handlers[env.Type]...)
	b.mu.Unlock()

	for _, h := range hs {
		if err := h.Handle(ctx, raw); err != nil {
			b.l.Warn("bus handler failed",
				applogger.String("topic", env.Type),
				applogger.String("id", env.ID),
				applogger.Bool("permanent", pkgkafka.IsPermanent(err)),
				applogger.Error(err))
			b.mu.Lock()
			b.failures = append(b.failures, err)
			b.mu.Unlock()
		}
	}
	return nil
}

// PublishMessage satisfies the log collector publisher.
func (b *Bus) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	env, err := models.NewEnvelope(topic, "", time.Now(), payload)
	if err != nil {
		return err
	}
	return b.Publish(ctx, env)
}

// Published returns the envelopes sent on topic, or all when topic is empty.
func (b *Bus) Published(topic string) []models.Envelope {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []models.Envelope
	for _, env := range b.published {
		if topic == "" || env.Type == topic {
			out = append(out, env)
		}
	}
	return out
}

// Failures returns handler errors observed so far.
func (b *Bus) Failures() []error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]error(nil), b.failures...)
}

func (b *Bus) Close() error { return nil }
