package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"SignalCore/internal/domain/models"
	drepo "SignalCore/internal/domain/repository"
	"SignalCore/internal/service/metrics"
	"SignalCore/internal/services/analytics"
	"SignalCore/internal/services/marketstate"
	"SignalCore/pkg/logger"
)

// tickOutput is what one tick produced and has not been published yet.
type tickOutput struct {
	ts      time.Time
	signals []models.Signal
	changes []models.RegimeChange
}

// TickProcessor updates market state and runs the per-tick analyzers.
type TickProcessor struct {
	market  *marketstate.Cache
	anomaly *analytics.AnomalyDetector
	regime  *analytics.RegimeDetector
	emit    *Emitter
	metrics drepo.Metrics
	logger  *logger.Logger

	mu      sync.Mutex
	pending map[string]*tickOutput
}

func NewTickProcessor(
	market *marketstate.Cache,
	anomaly *analytics.AnomalyDetector,
	regime *analytics.RegimeDetector,
	emit *Emitter,
	m drepo.Metrics,
	lg *logger.Logger,
) *TickProcessor {
	return &TickProcessor{
		market:  market,
		anomaly: anomaly,
		regime:  regime,
		emit:    emit,
		metrics: m,
		logger:  lg,
		pending: make(map[string]*tickOutput),
	}
}

// Process applies one tick. Late ticks are dropped. A redelivered tick leaves
// market state untouched and only publishes what its first delivery could not.
func (p *TickProcessor) Process(ctx context.Context, t models.Tick) error {
	start := time.Now()
	err := p.market.Update(t)
	switch {
	case errors.Is(err, marketstate.ErrDuplicate):
		out := p.take(t.Instrument)
		if out == nil {
			p.metrics.RecordError("tick_duplicate")
			p.logger.Debug("Dropping duplicate tick", logger.String("instrument", t.Instrument), logger.Time("ts", t.Timestamp))
			return nil
		}
		return p.publish(ctx, t.Instrument, out)
	case errors.Is(err, marketstate.ErrOutOfOrder):
		p.metrics.RecordError("tick_out_of_order")
		p.logger.Debug("Dropping late tick", logger.String("instrument", t.Instrument), logger.Time("ts", t.Timestamp))
		return nil
	case err != nil:
		return fmt.Errorf("process tick: %w", err)
	}
	p.metrics.RecordLastPrice(t.Instrument, t.Price)

	if stale := p.take(t.Instrument); stale != nil {
		p.logger.Warn("Discarding unpublished output of an earlier tick",
			logger.String("instrument", t.Instrument),
			logger.Time("ts", stale.ts),
			logger.Int("signals", len(stale.signals)),
			logger.Int("changes", len(stale.changes)))
	}

	out := &tickOutput{
		ts:      t.Timestamp,
		signals: p.anomaly.Evaluate(t.Instrument, t.Timestamp),
		changes: p.regime.Observe(t.Instrument, t.Timestamp),
	}
	if err := p.publish(ctx, t.Instrument, out); err != nil {
		return err
	}
	p.metrics.RecordLatency("tick_process", time.Since(start).Seconds())
	return nil
}

// publish emits out in order. On failure the remainder is kept for the redelivery.
func (p *TickProcessor) publish(ctx context.Context, instrument string, out *tickOutput) error {
	for len(out.signals) > 0 {
		s := out.signals[0]
		if _, err := p.emit.Emit(ctx, models.TopicSignalAnomaly, s.Instrument, s.Timestamp, s); err != nil {
			p.retain(instrument, out)
			return err
		}
		out.signals = out.signals[1:]
		metrics.SignalsEmitted.WithLabelValues(string(s.Kind)).Inc()
		p.logger.Info("Anomaly detected",
			logger.String("instrument", s.Instrument),
			logger.String("source", s.Source),
			logger.String("direction", string(s.Direction)),
			logger.Float64("confidence", s.Confidence))
	}

	for len(out.changes) > 0 {
		ch := out.changes[0]
		if _, err := p.emit.Emit(ctx, models.TopicRegimeChange, ch.Instrument, ch.CommittedAt, ch); err != nil {
			p.retain(instrument, out)
			return err
		}
		out.changes = out.changes[1:]
		metrics.RegimeChanges.WithLabelValues(string(ch.Dimension), ch.To).Inc()
		p.logger.Info("Regime change committed",
			logger.String("instrument", ch.Instrument),
			logger.String("dimension", string(ch.Dimension)),
			logger.String("from", ch.From),
			logger.String("to", ch.To))
	}
	return nil
}

func (p *TickProcessor) retain(instrument string, out *tickOutput) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending[instrument] = out
}

func (p *TickProcessor) take(instrument string) *tickOutput {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.pending[instrument]
	delete(p.pending, instrument)
	return out
}
