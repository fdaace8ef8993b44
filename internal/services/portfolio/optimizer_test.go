package portfolio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalCore/internal/domain/models"
	"SignalCore/internal/services/marketstate"
	"SignalCore/pkg/config"
)

var now = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

type decayMap map[string]models.DecayStatus

func (m decayMap) Status(_ context.Context, source string) (models.DecayStatus, error) {
	if s, ok := m[source]; ok {
		return s, nil
	}
	return models.DecayActive, nil
}

type failingDecay struct{}

func (failingDecay) Status(context.Context, string) (models.DecayStatus, error) {
	return "", errors.New("store unavailable")
}

func market(t *testing.T, instruments ...string) *marketstate.Cache {
	t.Helper()
	cache := marketstate.NewCache(config.MarketState{Capacity: 256})
	rng := rand.New(rand.NewSource(3))
	for _, inst := range instruments {
		price := 100.0
		for i := 0; i < 120; i++ {
			price *= math.Exp(rng.NormFloat64() * 0.01)
			require.NoError(t, cache.Update(models.Tick{Instrument: inst, Price: price, Volume: 1e6, Timestamp: now.Add(time.Duration(i-120) * time.Minute)}))
		}
	}
	return cache
}

func verdict(inst string, dir models.Direction, score float64, closed time.Time, sources ...string) models.CostVerdict {
	d := models.ConsensusDecision{ID: "dec-" + inst, Instrument: inst, Direction: dir, Score: score, WindowClosed: closed}
	for _, s := range sources {
		d.Contributors = append(d.Contributors, models.SourceScore{Source: s, Direction: dir, Confidence: 0.8, Weight: 0.5})
	}
	return models.CostVerdict{Decision: d, Accepted: true}
}

func TestRebalanceSingleDecisionCappedAtMaxWeight(t *testing.T) {
	cfg := config.Defaults().Signal.Portfolio
	opt := NewOptimizer(cfg, market(t, "BTC"), decayMap{})
	require.True(t, opt.Submit(verdict("BTC", models.DirectionLong, 85, now, "a", "b", "c")))

	snap, err := opt.Rebalance(context.Background(), now, nil)
	require.NoError(t, err)
	require.Len(t, snap.Allocations, 1)
	a := snap.Allocations[0]
	assert.Equal(t, "BTC", a.Instrument)
	assert.Greater(t, a.Weight, 0.0)
	assert.LessOrEqual(t, a.Weight, cfg.MaxPositionWeight)
	assert.Equal(t, models.DirectionLong, a.Direction)
	assert.Equal(t, 1.0, a.DecayFactor)
	assert.EqualValues(t, 1, snap.Version)
	assert.Same(t, opt.Latest(), opt.Latest())
	assert.EqualValues(t, 1, opt.Latest().Version)
}

func TestRebalanceGrossExposureBounded(t *testing.T) {
	cfg := config.Defaults().Signal.Portfolio
	var insts []string
	for i := 0; i < 8; i++ {
		insts = append(insts, fmt.Sprintf("I%d", i))
	}
	opt := NewOptimizer(cfg, market(t, insts...), decayMap{})
	for i, inst := range insts {
		dir := models.DirectionLong
		if i%2 == 1 {
			dir = models.DirectionShort
		}
		opt.Submit(verdict(inst, dir, 95, now))
	}

	snap, err := opt.Rebalance(context.Background(), now, nil)
	require.NoError(t, err)
	require.Len(t, snap.Allocations, 8)
	assert.LessOrEqual(t, snap.GrossExposure, cfg.MaxGross+1e-9)
	for i, a := range snap.Allocations {
		assert.LessOrEqual(t, math.Abs(a.Weight), cfg.MaxPositionWeight+1e-12)
		if i%2 == 1 {
			assert.Equal(t, models.DirectionShort, a.Direction, a.Instrument)
		}
	}
}

func TestRebalanceAppliesDecayAndTTL(t *testing.T) {
	cfg := config.Defaults().Signal.Portfolio
	opt := NewOptimizer(cfg, market(t, "BTC", "ETH", "SOL"), decayMap{"dead": models.DecayRetired, "old": models.DecayDegraded})

	opt.Submit(verdict("BTC", models.DirectionLong, 90, now, "dead"))
	opt.Submit(verdict("ETH", models.DirectionLong, 90, now, "old", "fresh"))
	opt.Submit(verdict("SOL", models.DirectionLong, 90, now.Add(-25*time.Hour)))
	assert.Equal(t, 3, opt.Pending())

	snap, err := opt.Rebalance(context.Background(), now, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, opt.Pending(), "expired decision is dropped")

	byInst := map[string]models.Allocation{}
	for _, a := range snap.Allocations {
		byInst[a.Instrument] = a
	}
	assert.NotContains(t, byInst, "SOL")
	assert.Equal(t, 0.0, byInst["BTC"].Weight)
	assert.Equal(t, 0.75, byInst["ETH"].DecayFactor)
}

func TestRebalanceUsesCorrelation(t *testing.T) {
	cfg := config.Defaults().Signal.Portfolio
	opt := NewOptimizer(cfg, market(t, "A", "B"), decayMap{})
	opt.Submit(verdict("A", models.DirectionLong, 80, now))
	opt.Submit(verdict("B", models.DirectionLong, 80, now))

	corr := &models.CorrelationSnapshot{Matrices: map[int]models.CorrelationMatrix{
		cfg.CovarianceHorizon: {
			Horizon:     cfg.CovarianceHorizon,
			Instruments: []string{"A", "B"},
			Values:      [][]float64{{1, 0.6}, {0.6, 1}},
		},
	}}
	snap, err := opt.Rebalance(context.Background(), now, corr)
	require.NoError(t, err)
	require.Len(t, snap.Allocations, 2)
	var mvGross, rpGross float64
	for _, a := range snap.Allocations {
		assert.Greater(t, a.MeanVariance, 0.0)
		mvGross += math.Abs(a.MeanVariance)
		rpGross += math.Abs(a.RiskParity)
	}
	assert.InDelta(t, 1, mvGross, 1e-9)
	assert.InDelta(t, 1, rpGross, 1e-9)
	assert.EqualValues(t, 1, snap.Version)
}

func TestSubmitIgnoresRejectedAndStale(t *testing.T) {
	opt := NewOptimizer(config.Defaults().Signal.Portfolio, market(t), decayMap{})
	v := verdict("BTC", models.DirectionLong, 90, now)
	v.Accepted = false
	assert.False(t, opt.Submit(v))

	assert.True(t, opt.Submit(verdict("BTC", models.DirectionLong, 90, now)))
	assert.False(t, opt.Submit(verdict("BTC", models.DirectionShort, 90, now.Add(-time.Minute))))
	assert.Equal(t, 1, opt.Pending())
}

func TestRebalancePropagatesDecayErrors(t *testing.T) {
	opt := NewOptimizer(config.Defaults().Signal.Portfolio, market(t, "BTC"), failingDecay{})
	opt.Submit(verdict("BTC", models.DirectionLong, 90, now, "a"))
	_, err := opt.Rebalance(context.Background(), now, nil)
	require.Error(t, err)
	assert.Nil(t, opt.Latest())
}

func TestDecayFactor(t *testing.T) {
	assert.Equal(t, 1.0, DecayFactor(models.DecayActive))
	assert.Equal(t, 1.0, DecayFactor(""))
	assert.Equal(t, 0.5, DecayFactor(models.DecayDegraded))
	assert.Equal(t, 0.0, DecayFactor(models.DecayRetired))
}
