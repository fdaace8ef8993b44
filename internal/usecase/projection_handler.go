package usecase

import (
	"context"
	"errors"

	"SignalCore/internal/domain/models"
	"SignalCore/internal/service/metrics"
	"SignalCore/internal/services/costmodel"
	pkgkafka "SignalCore/pkg/kafka"
	"SignalCore/pkg/logger"
)

// ProjectionTopics carry state that is logged and folded into the projection.
var ProjectionTopics = []string{
	models.TopicTradeOutcome,
	models.TopicDecayEvaluated,
	models.TopicRegimeChange,
	models.TopicCorrelationSnapshot,
	models.TopicRebalance,
}

// ProjectionHandler records one state topic and reacts to the fold's effects.
type ProjectionHandler struct {
	topic     string
	projector *Projector
	estimator *costmodel.Estimator
	emit      *Emitter
	logger    *logger.Logger
}

func NewProjectionHandler(topic string, projector *Projector, estimator *costmodel.Estimator, emit *Emitter, lg *logger.Logger) *ProjectionHandler {
	return &ProjectionHandler{topic: topic, projector: projector, estimator: estimator, emit: emit, logger: lg}
}

func (h *ProjectionHandler) Topic() string { return h.topic }

func (h *ProjectionHandler) Handle(ctx context.Context, b []byte) error {
	env, err := models.ParseEnvelope(b)
	if err != nil {
		return pkgkafka.Permanent(err)
	}
	eff, err := h.projector.Record(ctx, env)
	if err != nil {
		if errors.Is(err, models.ErrMalformed) {
			return pkgkafka.Permanent(err)
		}
		return err
	}

	if env.Type == models.TopicTradeOutcome {
		if o, err := models.DecodePayload[models.ExecutionOutcome](env); err == nil {
			if f, ok := costmodel.FillFromOutcome(o); ok {
				h.estimator.AddFill(f)
			}
		}
	}
	if eff.Capacity != nil {
		metrics.CapacityUtilization.WithLabelValues(eff.Capacity.StrategyID).Set(eff.Capacity.UtilizationPct)
	}
	if w := eff.CapacityWarning; w != nil {
		h.logger.Warn("Strategy nearing capacity",
			logger.String("strategy", w.StrategyID),
			logger.Float64("utilization_pct", w.UtilizationPct),
			logger.Float64("ceiling_size", w.CeilingSize))
		if _, err := h.emit.Emit(ctx, models.TopicCapacityWarning, w.StrategyID, w.Timestamp, w); err != nil {
			return err
		}
	}
	if tr := eff.Transition; tr != nil {
		metrics.DecayTransitions.WithLabelValues(string(tr.To)).Inc()
		h.logger.Warn("Signal source status changed",
			logger.String("source", tr.Source),
			logger.String("from", string(tr.From)),
			logger.String("to", string(tr.To)),
			logger.Float64("sharpe", tr.Sharpe))
		if tr.To == models.DecayRetired {
			if _, err := h.emit.Emit(ctx, models.TopicSignalRetired, tr.Source, tr.Day, tr); err != nil {
				return err
			}
		}
	}
	return nil
}

var _ pkgkafka.MessageHandler = (*ProjectionHandler)(nil)
