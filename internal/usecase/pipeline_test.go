package usecase

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalCore/internal/domain/models"
	mid "SignalCore/internal/middleware"
	"SignalCore/internal/repository"
	"SignalCore/internal/service/ratelimit"
	"SignalCore/internal/services/analytics"
	"SignalCore/internal/services/costmodel"
	"SignalCore/internal/services/marketstate"
	"SignalCore/internal/services/monitor"
	"SignalCore/internal/services/portfolio"
	"SignalCore/pkg/cache"
	"SignalCore/pkg/config"
	"SignalCore/pkg/logger"
	pkgmetrics "SignalCore/pkg/metrics"
)

type harness struct {
	cfg        *config.Config
	bus        *repository.Bus
	log        *repository.MemoryEventLog
	store      *cache.MemoryStore
	market     *marketstate.Cache
	aggregator *SignalAggregator
	projector  *Projector
	optimizer  *portfolio.Optimizer
	jobs       *Jobs
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.Defaults()
	cfg.Signal.Consensus.Window = time.Minute
	lg := logger.NewNop()
	nop := pkgmetrics.Nop{}

	h := &harness{
		cfg:    cfg,
		bus:    repository.NewBus(lg),
		log:    repository.NewMemoryEventLog(),
		store:  cache.NewMemoryStore(),
		market: marketstate.NewCache(cfg.Signal.MarketState),
	}
	emit := NewEmitter(h.bus, nop)
	decay := monitor.NewDecayMonitor(cfg.Signal.Decay)
	h.projector = NewProjector(h.store, h.log, cfg.Signal.Consensus, decay,
		monitor.NewCapacityMonitor(cfg.Signal.Capacity, cfg.Signal.Cost), 8, lg)
	h.aggregator = NewSignalAggregator(cfg.Signal.Consensus, h.projector, h.projector, NewConsensusPublisher(emit, lg))

	estimator := costmodel.NewEstimator(cfg.Signal.Cost, cfg.Signal.Portfolio.MaxPositionWeight, h.market)
	h.optimizer = portfolio.NewOptimizer(cfg.Signal.Portfolio, h.market, h.projector)
	regime := analytics.NewRegimeDetector(cfg.Signal.Regime, h.market)
	corr := analytics.NewCorrelationEngine(cfg.Signal.Correlation, h.market)
	h.jobs = NewJobs(corr, regime, estimator, h.optimizer, h.projector, decay, h.log, emit, lg, cfg.Signal.Cost.CalibrationWindow)

	proc := NewTickProcessor(h.market, analytics.NewAnomalyDetector(cfg.Signal.Anomaly, h.market), regime, emit, nop, lg)
	pipeline := mid.NewRealtimePipeline(proc, nop, mid.WithLimiter(ratelimit.New(cfg.Signal.Intake.RatePerInstrument, cfg.Signal.Intake.Burst)))
	h.bus.RegisterHandler(NewKafkaTicksHandler(pipeline, nop))
	for _, topic := range SignalTopics {
		h.bus.RegisterHandler(NewSignalHandler(topic, h.aggregator, nop))
	}
	h.bus.RegisterHandler(NewDecisionHandler(estimator, emit, nop, lg))
	h.bus.RegisterHandler(NewVerdictHandler(h.optimizer))
	for _, topic := range ProjectionTopics {
		h.bus.RegisterHandler(NewProjectionHandler(topic, h.projector, estimator, emit, lg))
	}
	return h
}

func (h *harness) publish(t *testing.T, topic, key string, ts time.Time, payload interface{}) {
	t.Helper()
	env, err := models.NewEnvelope(topic, key, ts, payload)
	require.NoError(t, err)
	require.NoError(t, h.bus.Publish(context.Background(), env))
}

func decode[T any](t *testing.T, env models.Envelope) T {
	t.Helper()
	v, err := models.DecodePayload[T](env)
	require.NoError(t, err)
	return v
}

func TestPipelineShockToAllocation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	start := time.Now().UTC().Add(-time.Hour)

	price := 100.0
	for i := 0; i < 50; i++ {
		switch {
		case i == 40:
			price *= math.Exp(-0.006)
		case i%2 == 0:
			price *= math.Exp(0.001)
		default:
			price *= math.Exp(-0.001)
		}
		ts := start.Add(time.Duration(i) * time.Second)
		h.publish(t, models.TopicTick, "AAPL", ts, models.Tick{Instrument: "AAPL", Price: price, Volume: 100000, Timestamp: ts})
		if i == 40 {
			for _, src := range []struct {
				name string
				conf float64
			}{{"ext.momentum", 0.9}, {"ext.flow", 0.85}} {
				h.publish(t, models.TopicSignalGenerated, "AAPL", ts, models.Signal{
					ID: src.name + "-1", Source: src.name, Kind: models.KindExternal, Instrument: "AAPL",
					Direction: models.DirectionLong, Confidence: src.conf, Timestamp: ts,
				})
			}
		}
	}
	require.Len(t, h.bus.Published(models.TopicSignalAnomaly), 1)
	anomaly := decode[models.Signal](t, h.bus.Published(models.TopicSignalAnomaly)[0])
	assert.Equal(t, models.DirectionLong, anomaly.Direction, "a down-shock in a mean-reverting series is faded")

	h.aggregator.Flush()
	assert.Empty(t, h.bus.Failures())

	decisions := h.bus.Published(models.TopicSignalAggregated)
	require.Len(t, decisions, 1)
	d := decode[models.ConsensusDecision](t, decisions[0])
	assert.Equal(t, models.DirectionLong, d.Direction)
	assert.GreaterOrEqual(t, d.Score, 70.0)
	assert.Len(t, d.Contributors, 3)

	verdicts := h.bus.Published(models.TopicCostAnalysis)
	require.Len(t, verdicts, 1)
	v := decode[models.CostVerdict](t, verdicts[0])
	assert.True(t, v.Accepted)
	assert.LessOrEqual(t, v.TotalPct, h.cfg.Signal.Cost.MaxCostPct)
	assert.Equal(t, 1, h.optimizer.Pending())

	require.NoError(t, h.jobs.Rebalance(ctx))
	rebalances := h.bus.Published(models.TopicRebalance)
	require.Len(t, rebalances, 1)
	snap := decode[models.AllocationSnapshot](t, rebalances[0])
	require.Len(t, snap.Allocations, 1)
	a := snap.Allocations[0]
	assert.Equal(t, "AAPL", a.Instrument)
	assert.Greater(t, a.Weight, 0.0)
	assert.LessOrEqual(t, a.Weight, h.cfg.Signal.Portfolio.MaxPositionWeight+1e-12)

	stored, ok, err := h.projector.Allocations(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, snap.Version, stored.Version)
	assert.Equal(t, 1, h.log.Len(), "only state topics reach the event log")
}

func TestPipelineConsensusFailureOnThinSupport(t *testing.T) {
	h := newHarness(t)
	ts := time.Now().UTC()
	h.publish(t, models.TopicSignalGenerated, "MSFT", ts, models.Signal{
		ID: "x-1", Source: "ext.only", Kind: models.KindExternal, Instrument: "MSFT",
		Direction: models.DirectionShort, Confidence: 0.99, Timestamp: ts,
	})
	h.aggregator.Flush()

	fails := h.bus.Published(models.TopicConsensusFailed)
	require.Len(t, fails, 1)
	f := decode[models.ConsensusFailure](t, fails[0])
	assert.Equal(t, models.ReasonInsufficientSources, f.Reason)
	assert.Empty(t, h.bus.Published(models.TopicSignalAggregated))
}

func TestPipelineMalformedTickIsPermanent(t *testing.T) {
	h := newHarness(t)
	h.publish(t, models.TopicTick, "BAD", time.Now(), models.Tick{Instrument: "BAD", Price: -1, Timestamp: time.Now()})
	require.Len(t, h.bus.Failures(), 1)
}

func TestJobsOutcomeFeedsCapacityAndWarmup(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	now := time.Now().UTC()

	for i := 0; i < 6; i++ {
		o := models.ExecutionOutcome{
			ID: fmt.Sprintf("fill-%d", i), Instrument: "AAPL", StrategyID: "mr",
			Direction:           models.DirectionLong,
			Contributors:        []models.SourceScore{{Source: "ext.flow", Direction: models.DirectionLong}},
			OrderSize:           400,
			AverageVolume:       10000,
			RealizedSlippagePct: 0.4,
			RealizedReturn:      0.01,
			Timestamp:           now.Add(-time.Duration(6-i) * time.Hour),
		}
		h.publish(t, models.TopicTradeOutcome, o.Instrument, o.Timestamp, o)
	}
	require.Empty(t, h.bus.Failures())

	st, ok, err := h.projector.Capacity(ctx, "mr")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, st.Samples, 6)
	assert.InDelta(t, 2.0, st.ImpactCoef, 1e-9)

	// a fresh process rebuilds calibration from the log
	fresh := newHarness(t)
	cfg := fresh.cfg.Signal
	estimator := costmodel.NewEstimator(cfg.Cost, cfg.Portfolio.MaxPositionWeight, fresh.market)
	jobs := NewJobs(
		analytics.NewCorrelationEngine(cfg.Correlation, fresh.market),
		analytics.NewRegimeDetector(cfg.Regime, fresh.market),
		estimator, fresh.optimizer, h.projector, monitor.NewDecayMonitor(cfg.Decay),
		h.log, NewEmitter(fresh.bus, pkgmetrics.Nop{}), logger.NewNop(), cfg.Cost.CalibrationWindow)
	require.NoError(t, jobs.Warmup(ctx))
	assert.InDelta(t, 2.0, estimator.K("AAPL"), 1e-9)
}

func TestJobsCorrelationAndDecay(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.jobs.SetClock(func() time.Time { return day0.AddDate(0, 0, 20) })

	require.NoError(t, h.jobs.Correlation(ctx))
	snaps := h.bus.Published(models.TopicCorrelationSnapshot)
	require.Len(t, snaps, 1)
	assert.Equal(t, int64(1), decode[models.CorrelationSnapshot](t, snaps[0]).Version)

	for i := 0; i < 12; i++ {
		ret := -0.01
		if i%4 == 0 {
			ret = 0.002
		}
		_, err := h.projector.Record(ctx, outcomeEnv(t, i, ret))
		require.NoError(t, err)
	}
	require.NoError(t, h.jobs.EvaluateDecay(ctx))
	evals := h.bus.Published(models.TopicDecayEvaluated)
	require.Len(t, evals, 2)
	for _, env := range evals {
		ev := decode[models.DecayEvaluation](t, env)
		assert.Equal(t, env.Key, ev.Source)
		assert.Equal(t, 12, ev.Samples)
	}

	st, err := h.projector.DecayState(ctx, "ext.a")
	require.NoError(t, err)
	assert.Equal(t, monitor.Day(day0.AddDate(0, 0, 20)), st.LastEvaluated)
}
