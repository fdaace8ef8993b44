package costmodel

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalCore/internal/domain/models"
	"SignalCore/internal/services/marketstate"
	"SignalCore/pkg/config"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newEstimator(t *testing.T, volume float64) *Estimator {
	t.Helper()
	cfg := config.Defaults()
	cache := marketstate.NewCache(cfg.Signal.MarketState)
	for i := 0; i < 10; i++ {
		require.NoError(t, cache.Update(models.Tick{
			Instrument: "BTC", Price: 100, Volume: volume, Timestamp: t0.Add(time.Duration(i) * time.Second),
		}))
	}
	return NewEstimator(cfg.Signal.Cost, cfg.Signal.Portfolio.MaxPositionWeight, cache)
}

func decision(score float64) models.ConsensusDecision {
	return models.ConsensusDecision{ID: "d1", Instrument: "BTC", Direction: models.DirectionLong, Score: score}
}

func TestEstimateAcceptsSmallOrder(t *testing.T) {
	est := newEstimator(t, 1e6)

	v, err := est.Estimate(decision(80), t0)
	require.NoError(t, err)
	// 1e6 × 0.2 × 0.8 / 100 = 1600 units against 1e6 average volume
	assert.InDelta(t, 1600, v.OrderSize, 1e-9)
	assert.InDelta(t, 0.04, v.SlippagePct, 1e-9)
	assert.InDelta(t, 0.14, v.TotalPct, 1e-9)
	assert.True(t, v.Accepted)
	assert.Empty(t, v.Reason)
	assert.Equal(t, 1.0, v.ImpactK)
}

func TestEstimateRejectsLargeRelativeSize(t *testing.T) {
	est := newEstimator(t, 1000)

	v, err := est.Estimate(decision(80), t0)
	require.NoError(t, err)
	assert.False(t, v.Accepted)
	assert.Equal(t, ReasonCostTooHigh, v.Reason)
	assert.Greater(t, v.TotalPct, 0.3)

	// a trivially small order on the same instrument passes
	_, total := est.Quote("BTC", 0.001, 1000)
	assert.Less(t, total, 0.3)
}

func TestEstimateWithoutMarketData(t *testing.T) {
	est := newEstimator(t, 1e6)
	d := decision(90)
	d.Instrument = "DOGE"
	v, err := est.Estimate(d, t0)
	require.ErrorIs(t, err, ErrNoMarketData)
	assert.False(t, v.Accepted)
	assert.Equal(t, ReasonNoMarketData, v.Reason)
}

func TestRecalibrateFitsK(t *testing.T) {
	est := newEstimator(t, 1e6)

	for i, ratio := range []float64{0.01, 0.04, 0.09, 0.16, 0.25} {
		est.AddFill(models.FillSample{
			Instrument:  "BTC",
			SizeRatio:   ratio,
			SlippagePct: 2 * math.Sqrt(ratio),
			Timestamp:   t0.Add(time.Duration(i) * time.Hour),
		})
	}
	// stale fills are outside the calibration window
	est.AddFill(models.FillSample{Instrument: "BTC", SizeRatio: 1, SlippagePct: 50, Timestamp: t0.Add(-8 * 24 * time.Hour)})
	// too few fills keep the default
	est.AddFill(models.FillSample{Instrument: "ETH", SizeRatio: 0.1, SlippagePct: 3, Timestamp: t0})

	ks := est.Recalibrate(t0.Add(6 * time.Hour))
	assert.InDelta(t, 2.0, ks["BTC"], 1e-9)
	assert.Equal(t, 1.0, ks["ETH"])
	assert.InDelta(t, 2.0, est.K("BTC"), 1e-9)
	assert.Equal(t, 1.0, est.K("ETH"))

	// a week later the fills have aged out and k reverts
	ks = est.Recalibrate(t0.Add(9 * 24 * time.Hour))
	assert.Equal(t, 1.0, ks["BTC"])
}

func TestFillFromOutcome(t *testing.T) {
	f, ok := FillFromOutcome(models.ExecutionOutcome{Instrument: "BTC", OrderSize: 10, AverageVolume: 1000, RealizedSlippagePct: 0.2, Timestamp: t0})
	require.True(t, ok)
	assert.InDelta(t, 0.01, f.SizeRatio, 1e-12)

	_, ok = FillFromOutcome(models.ExecutionOutcome{Instrument: "BTC", OrderSize: 10})
	assert.False(t, ok)
}
