package usecase

import (
	"context"
	"errors"
	"time"

	"SignalCore/internal/domain/models"
	domrepo "SignalCore/internal/domain/repository"
	"SignalCore/internal/service/metrics"
	"SignalCore/internal/services/costmodel"
	"SignalCore/internal/services/portfolio"
	pkgkafka "SignalCore/pkg/kafka"
	"SignalCore/pkg/logger"
)

// SignalHandler feeds signals from one topic into the aggregator.
type SignalHandler struct {
	topic      string
	aggregator *SignalAggregator
	metrics    domrepo.Metrics
}

func NewSignalHandler(topic string, aggregator *SignalAggregator, m domrepo.Metrics) *SignalHandler {
	return &SignalHandler{topic: topic, aggregator: aggregator, metrics: m}
}

// SignalTopics are the topics every generator publishes on.
var SignalTopics = []string{models.TopicSignalGenerated, models.TopicSignalAnomaly, models.TopicSignalCorrelation}

func (h *SignalHandler) Topic() string { return h.topic }

func (h *SignalHandler) Handle(_ context.Context, b []byte) error {
	env, err := models.ParseEnvelope(b)
	if err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return pkgkafka.Permanent(err)
	}
	s, err := models.DecodePayload[models.Signal](env)
	if err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return pkgkafka.Permanent(err)
	}
	if err := h.aggregator.Add(s); err != nil {
		h.metrics.RecordError("signal_invalid")
		return pkgkafka.Permanent(err)
	}
	return nil
}

// ConsensusPublisher publishes closed windows to the broker.
type ConsensusPublisher struct {
	emit   *Emitter
	logger *logger.Logger
}

func NewConsensusPublisher(emit *Emitter, lg *logger.Logger) *ConsensusPublisher {
	return &ConsensusPublisher{emit: emit, logger: lg}
}

func (p *ConsensusPublisher) OnDecision(ctx context.Context, d models.ConsensusDecision) {
	metrics.ConsensusOutcomes.WithLabelValues("decision").Inc()
	p.logger.Info("Consensus reached",
		logger.String("instrument", d.Instrument),
		logger.String("direction", string(d.Direction)),
		logger.Float64("score", d.Score),
		logger.Int("contributors", len(d.Contributors)))
	if _, err := p.emit.Emit(ctx, models.TopicSignalAggregated, d.Instrument, d.WindowClosed, d); err != nil {
		p.logger.Error("Failed to publish consensus decision", logger.String("instrument", d.Instrument), logger.Error(err))
	}
}

func (p *ConsensusPublisher) OnFailure(ctx context.Context, f models.ConsensusFailure) {
	metrics.ConsensusOutcomes.WithLabelValues(f.Reason).Inc()
	p.logger.Info("Consensus failed",
		logger.String("instrument", f.Instrument),
		logger.String("reason", f.Reason),
		logger.Float64("score", f.Score),
		logger.Int("sources", f.DistinctSources))
	if _, err := p.emit.Emit(ctx, models.TopicConsensusFailed, f.Instrument, f.WindowClosed, f); err != nil {
		p.logger.Error("Failed to publish consensus failure", logger.String("instrument", f.Instrument), logger.Error(err))
	}
}

var _ ConsensusSink = (*ConsensusPublisher)(nil)

// DecisionHandler prices consensus decisions and emits cost verdicts.
type DecisionHandler struct {
	estimator *costmodel.Estimator
	emit      *Emitter
	metrics   domrepo.Metrics
	logger    *logger.Logger
}

func NewDecisionHandler(estimator *costmodel.Estimator, emit *Emitter, m domrepo.Metrics, lg *logger.Logger) *DecisionHandler {
	return &DecisionHandler{estimator: estimator, emit: emit, metrics: m, logger: lg}
}

func (h *DecisionHandler) Topic() string { return models.TopicSignalAggregated }

func (h *DecisionHandler) Handle(ctx context.Context, b []byte) error {
	env, err := models.ParseEnvelope(b)
	if err != nil {
		return pkgkafka.Permanent(err)
	}
	d, err := models.DecodePayload[models.ConsensusDecision](env)
	if err != nil {
		return pkgkafka.Permanent(err)
	}

	v, err := h.estimator.Estimate(d, time.Now().UTC())
	if err != nil && !errors.Is(err, costmodel.ErrNoMarketData) {
		return err
	}

	topic := models.TopicCostAnalysis
	label := "accepted"
	if !v.Accepted {
		topic, label = models.TopicCostRejected, "rejected"
		h.logger.Info("Decision rejected on cost",
			logger.String("instrument", d.Instrument),
			logger.String("reason", v.Reason),
			logger.Float64("total_pct", v.TotalPct))
	}
	if _, err := h.emit.Emit(ctx, topic, d.Instrument, v.Timestamp, v); err != nil {
		return err
	}
	metrics.CostVerdicts.WithLabelValues(label).Inc()
	return nil
}

// VerdictHandler queues accepted verdicts for the next rebalance.
type VerdictHandler struct {
	optimizer *portfolio.Optimizer
}

func NewVerdictHandler(optimizer *portfolio.Optimizer) *VerdictHandler {
	return &VerdictHandler{optimizer: optimizer}
}

func (h *VerdictHandler) Topic() string { return models.TopicCostAnalysis }

func (h *VerdictHandler) Handle(_ context.Context, b []byte) error {
	env, err := models.ParseEnvelope(b)
	if err != nil {
		return pkgkafka.Permanent(err)
	}
	v, err := models.DecodePayload[models.CostVerdict](env)
	if err != nil {
		return pkgkafka.Permanent(err)
	}
	h.optimizer.Submit(v)
	return nil
}

var (
	_ pkgkafka.MessageHandler = (*SignalHandler)(nil)
	_ pkgkafka.MessageHandler = (*DecisionHandler)(nil)
	_ pkgkafka.MessageHandler = (*VerdictHandler)(nil)
)
