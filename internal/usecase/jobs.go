package usecase

import (
	"context"
	"fmt"
	"time"

	"SignalCore/internal/domain/models"
	drepo "SignalCore/internal/domain/repository"
	domsvc "SignalCore/internal/domain/service"
	"SignalCore/internal/service/metrics"
	"SignalCore/internal/services/analytics"
	"SignalCore/internal/services/costmodel"
	"SignalCore/internal/services/monitor"
	"SignalCore/internal/services/portfolio"
	"SignalCore/pkg/logger"
)

// Jobs are the scheduled computations: correlation recompute, cost model
// recalibration, decay evaluation and rebalancing.
type Jobs struct {
	corr      *analytics.CorrelationEngine
	regime    *analytics.RegimeDetector
	estimator *costmodel.Estimator
	optimizer *portfolio.Optimizer
	projector *Projector
	decay     *monitor.DecayMonitor
	log       drepo.EventLog
	emit      *Emitter
	logger    *logger.Logger
	now       domsvc.Clock
	calWindow time.Duration
}

func NewJobs(
	corr *analytics.CorrelationEngine,
	regime *analytics.RegimeDetector,
	estimator *costmodel.Estimator,
	optimizer *portfolio.Optimizer,
	projector *Projector,
	decay *monitor.DecayMonitor,
	log drepo.EventLog,
	emit *Emitter,
	lg *logger.Logger,
	calWindow time.Duration,
) *Jobs {
	return &Jobs{
		corr:      corr,
		regime:    regime,
		estimator: estimator,
		optimizer: optimizer,
		projector: projector,
		decay:     decay,
		log:       log,
		emit:      emit,
		logger:    lg,
		now:       time.Now,
		calWindow: calWindow,
	}
}

// SetClock pins the job clock.
func (j *Jobs) SetClock(c domsvc.Clock) { j.now = c }

func (j *Jobs) observe(job string, start time.Time) {
	metrics.JobLatency.WithLabelValues(job).Observe(time.Since(start).Seconds())
}

// Correlation samples the latest prices, recomputes every horizon and
// publishes the snapshot plus any correlation-change signals.
func (j *Jobs) Correlation(ctx context.Context) error {
	defer j.observe("correlation", time.Now())
	ts := j.now().UTC()
	j.corr.Sample(ts)
	snap, signals := j.corr.Recompute(ts)

	if _, err := j.emit.Emit(ctx, models.TopicCorrelationSnapshot, "correlation", ts, snap); err != nil {
		return err
	}
	for _, s := range signals {
		if _, err := j.emit.Emit(ctx, models.TopicSignalCorrelation, s.Instrument, s.Timestamp, s); err != nil {
			return err
		}
		metrics.SignalsEmitted.WithLabelValues(string(s.Kind)).Inc()
	}
	if len(signals) > 0 {
		j.logger.Info("Correlation shift detected",
			logger.Int64("version", snap.Version),
			logger.Int("signals", len(signals)))
	}
	return nil
}

// Recalibrate refits the market impact coefficients.
func (j *Jobs) Recalibrate(_ context.Context) error {
	defer j.observe("recalibration", time.Now())
	ks := j.estimator.Recalibrate(j.now().UTC())
	for inst, k := range ks {
		j.logger.Info("Impact coefficient calibrated", logger.String("instrument", inst), logger.Float64("k", k))
	}
	return nil
}

// EvaluateDecay publishes one Sharpe evaluation per non-retired source.
// Sources without enough daily history are skipped.
func (j *Jobs) EvaluateDecay(ctx context.Context) error {
	defer j.observe("decay", time.Now())
	day := monitor.Day(j.now())
	sources, err := j.projector.Sources(ctx)
	if err != nil {
		return fmt.Errorf("list sources: %w", err)
	}
	for _, src := range sources {
		st, err := j.projector.DecayState(ctx, src)
		if err != nil {
			return fmt.Errorf("load decay %s: %w", src, err)
		}
		if st.EffectiveStatus() == models.DecayRetired {
			continue
		}
		ev, ok := j.decay.Evaluate(st, day)
		if !ok {
			j.logger.Debug("Skipping decay evaluation", logger.String("source", src), logger.Int("days", len(st.DailyReturns)))
			continue
		}
		ev.Source = src
		if _, err := j.emit.Emit(ctx, models.TopicDecayEvaluated, src, day, ev); err != nil {
			return err
		}
	}
	return nil
}

// Rebalance computes target allocations and publishes them.
func (j *Jobs) Rebalance(ctx context.Context) error {
	defer j.observe("rebalance", time.Now())
	ts := j.now().UTC()
	snap, err := j.optimizer.Rebalance(ctx, ts, j.corr.Latest())
	if err != nil {
		return err
	}
	if _, err := j.emit.Emit(ctx, models.TopicRebalance, "portfolio", ts, snap); err != nil {
		return err
	}
	j.logger.Info("Portfolio rebalanced",
		logger.Int64("version", snap.Version),
		logger.Int("allocations", len(snap.Allocations)),
		logger.Float64("gross", snap.GrossExposure))
	return nil
}

// Warmup restores in-memory analyzers from the projection and reloads recent
// fills from the event log so a restarted process resumes where it stopped.
func (j *Jobs) Warmup(ctx context.Context) error {
	if snap, ok, err := j.projector.Correlation(ctx); err != nil {
		return fmt.Errorf("warmup correlation: %w", err)
	} else if ok {
		j.corr.Restore(snap)
	}
	if snap, ok, err := j.projector.Allocations(ctx); err != nil {
		return fmt.Errorf("warmup allocations: %w", err)
	} else if ok {
		j.optimizer.Restore(snap)
	}
	regimes, err := j.projector.Regimes(ctx)
	if err != nil {
		return fmt.Errorf("warmup regimes: %w", err)
	}
	for _, r := range regimes {
		j.regime.Seed(r)
	}

	fills := 0
	since := j.now().Add(-j.calWindow)
	err = j.log.Replay(ctx, since, func(env models.Envelope) error {
		if env.Type != models.TopicTradeOutcome {
			return nil
		}
		o, err := models.DecodePayload[models.ExecutionOutcome](env)
		if err != nil {
			return nil
		}
		if f, ok := costmodel.FillFromOutcome(o); ok {
			j.estimator.AddFill(f)
			fills++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("warmup fills: %w", err)
	}
	j.estimator.Recalibrate(j.now().UTC())
	j.logger.Info("Warmup complete", logger.Int("regimes", len(regimes)), logger.Int("fills", fills))
	return nil
}
