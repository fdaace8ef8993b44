package analytics

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalCore/internal/domain/models"
	"SignalCore/internal/services/marketstate"
	"SignalCore/internal/services/stats"
	"SignalCore/pkg/config"
)

var base = time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)

func defaultAnomalyConfig() config.Anomaly {
	return config.Defaults().Signal.Anomaly
}

// feed appends ticks built from log returns and returns the last timestamp.
func feed(t *testing.T, c *marketstate.Cache, inst string, start time.Time, step time.Duration, price float64, rets []float64) (time.Time, float64) {
	t.Helper()
	ts := start
	require.NoError(t, c.Update(models.Tick{Instrument: inst, Price: price, Volume: 1000, Timestamp: ts}))
	for _, r := range rets {
		ts = ts.Add(step)
		price *= math.Exp(r)
		require.NoError(t, c.Update(models.Tick{Instrument: inst, Price: price, Volume: 1000, Timestamp: ts}))
	}
	return ts, price
}

func alternating(n int, a float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = a
		} else {
			out[i] = -a
		}
	}
	return out
}

func TestReturnAnomalyOnInjectedOutlier(t *testing.T) {
	cache := marketstate.NewCache(config.MarketState{Capacity: 256})
	det := NewAnomalyDetector(defaultAnomalyConfig(), cache)

	rets := alternating(40, 0.001)
	ts, price := feed(t, cache, "BTC", base, time.Second, 100, rets)

	sd, err := stats.StdDev(rets[len(rets)-30:])
	require.NoError(t, err)
	price *= math.Exp(3 * sd)
	ts = ts.Add(time.Second)
	require.NoError(t, cache.Update(models.Tick{Instrument: "BTC", Price: price, Volume: 1000, Timestamp: ts}))

	sigs := det.Evaluate("BTC", ts)
	require.Len(t, sigs, 1)
	s := sigs[0]
	assert.Equal(t, SourceReturnAnomaly, s.Source)
	assert.Equal(t, models.DirectionShort, s.Direction, "mean reversion fades an up-shock")
	assert.Greater(t, math.Abs(s.Metadata["z"]), 2.0)
	assert.Less(t, s.Metadata["p_value"], 0.05)
	assert.Less(t, s.Metadata["autocorr"], -0.3)
	assert.Greater(t, s.Confidence, 0.7)
	assert.NoError(t, s.Validate())
}

func TestReturnAnomalyQuietSeriesEmitsNothing(t *testing.T) {
	cache := marketstate.NewCache(config.MarketState{Capacity: 256})
	det := NewAnomalyDetector(defaultAnomalyConfig(), cache)

	ts := base
	price := 100.0
	require.NoError(t, cache.Update(models.Tick{Instrument: "ETH", Price: price, Volume: 1, Timestamp: ts}))
	for _, r := range alternating(120, 0.002) {
		ts = ts.Add(time.Second)
		price *= math.Exp(r)
		require.NoError(t, cache.Update(models.Tick{Instrument: "ETH", Price: price, Volume: 1, Timestamp: ts}))
		assert.Empty(t, det.Evaluate("ETH", ts))
	}
}

func TestReturnAnomalyMomentumFlipsDirection(t *testing.T) {
	cache := marketstate.NewCache(config.MarketState{Capacity: 256})
	det := NewAnomalyDetector(defaultAnomalyConfig(), cache)

	var rets []float64
	for i := 0; i < 30; i++ {
		if (i/5)%2 == 0 {
			rets = append(rets, 0.001)
		} else {
			rets = append(rets, -0.001)
		}
	}
	ts, price := feed(t, cache, "SOL", base, time.Second, 50, rets)
	sd, _ := stats.StdDev(rets)
	price *= math.Exp(3 * sd)
	ts = ts.Add(time.Second)
	require.NoError(t, cache.Update(models.Tick{Instrument: "SOL", Price: price, Volume: 1, Timestamp: ts}))

	sigs := det.Evaluate("SOL", ts)
	require.Len(t, sigs, 1)
	assert.Equal(t, models.DirectionLong, sigs[0].Direction)
	assert.Equal(t, 1.0, sigs[0].Metadata["momentum"])
	assert.Greater(t, sigs[0].Metadata["autocorr"], 0.3)
}

func TestReturnAnomalySkipsWithoutEnoughData(t *testing.T) {
	cache := marketstate.NewCache(config.MarketState{Capacity: 256})
	det := NewAnomalyDetector(defaultAnomalyConfig(), cache)

	ts, _ := feed(t, cache, "XRP", base, time.Second, 1, []float64{0.01, -0.01, 0.5})
	assert.Empty(t, det.Evaluate("XRP", ts))
	assert.Empty(t, det.Evaluate("UNKNOWN", ts))
}

func TestCorrelationAnomalyOnBreak(t *testing.T) {
	cache := marketstate.NewCache(config.MarketState{Capacity: 1024})
	cfg := defaultAnomalyConfig()
	cfg.ReferenceInstruments = []string{"B"}
	det := NewAnomalyDetector(cfg, cache)

	rng := rand.New(rand.NewSource(42))
	pa, pb := 100.0, 200.0
	ts := base
	require.NoError(t, cache.Update(models.Tick{Instrument: "A", Price: pa, Volume: 1, Timestamp: ts}))
	require.NoError(t, cache.Update(models.Tick{Instrument: "B", Price: pb, Volume: 1, Timestamp: ts}))

	var found []models.Signal
	for h := 1; h <= 260; h++ {
		ts = ts.Add(time.Hour)
		r := rng.NormFloat64() * 0.01
		rb := r
		if h > 200 {
			rb = -r
		}
		pa *= math.Exp(r)
		pb *= math.Exp(rb)
		require.NoError(t, cache.Update(models.Tick{Instrument: "A", Price: pa, Volume: 1, Timestamp: ts}))
		require.NoError(t, cache.Update(models.Tick{Instrument: "B", Price: pb, Volume: 1, Timestamp: ts}))

		for _, s := range det.Evaluate("A", ts) {
			if s.Source == SourceCorrelationAnomaly {
				if h <= 200 {
					t.Fatalf("unexpected correlation anomaly before the break at hour %d", h)
				}
				found = append(found, s)
			}
		}
	}

	require.NotEmpty(t, found)
	first := found[0]
	assert.Greater(t, first.Metadata["baseline"], 0.99)
	assert.Less(t, first.Metadata["correlation"], first.Metadata["baseline"]-cfg.CorrelationShift)
	assert.NotEqual(t, models.DirectionFlat, first.Direction)
	assert.Equal(t, models.DirectionOf(-first.Metadata["rel_perf"]), first.Direction)
}
