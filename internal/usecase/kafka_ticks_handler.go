package usecase

import (
	"context"
	"errors"
	"time"

	"SignalCore/internal/domain/models"
	domrepo "SignalCore/internal/domain/repository"
	mid "SignalCore/internal/middleware"
	pkgkafka "SignalCore/pkg/kafka"
)

// KafkaTicksHandler consumes market.tick envelopes and feeds the intake pipeline.
type KafkaTicksHandler struct {
	topic   string
	intake  mid.Proc
	metrics domrepo.Metrics
}

func NewKafkaTicksHandler(intake mid.Proc, metrics domrepo.Metrics) *KafkaTicksHandler {
	return &KafkaTicksHandler{topic: models.TopicTick, intake: intake, metrics: metrics}
}

func (h *KafkaTicksHandler) Topic() string { return h.topic }

func (h *KafkaTicksHandler) Handle(ctx context.Context, b []byte) error {
	env, err := models.ParseEnvelope(b)
	if err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return pkgkafka.Permanent(err)
	}
	t, err := models.DecodePayload[models.Tick](env)
	if err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return pkgkafka.Permanent(err)
	}
	// E2E latency from event time to now (approx)
	h.metrics.RecordLatency("ingest_e2e_seconds", time.Since(t.Timestamp).Seconds())

	err = h.intake.Process(ctx, t)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mid.ErrThrottled):
		return nil
	case errors.Is(err, models.ErrMalformed):
		return pkgkafka.Permanent(err)
	}
	return err
}

var _ pkgkafka.MessageHandler = (*KafkaTicksHandler)(nil)
