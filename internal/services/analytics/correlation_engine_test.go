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
	"SignalCore/pkg/config"
)

func TestCorrelationEngineSignalsOnBreak(t *testing.T) {
	cfg := config.Defaults().Signal.Correlation
	eng := NewCorrelationEngine(cfg, marketstate.NewCache(config.MarketState{Capacity: 16}))
	assert.Nil(t, eng.Latest())

	rng := rand.New(rand.NewSource(7))
	ts := base
	for i := 0; i < 30; i++ {
		ts = ts.Add(time.Hour)
		r := rng.NormFloat64() * 0.01
		require.NoError(t, eng.Record("A", ts, r))
		require.NoError(t, eng.Record("B", ts, r))
		require.NoError(t, eng.Record("C", ts, rng.NormFloat64()*0.01))
	}
	snap, sigs := eng.Recompute(ts)
	assert.Empty(t, sigs)
	assert.EqualValues(t, 1, snap.Version)
	m, ok := snap.Matrix(30)
	require.True(t, ok)
	rab, _ := m.Get("A", "B")
	assert.InDelta(t, 1, rab, 1e-9)
	raa, _ := m.Get("A", "A")
	assert.Equal(t, 1.0, raa)
	m90, _ := snap.Matrix(90)
	assert.Empty(t, m90.Instruments)

	// B decouples and mirrors A, with A drifting up
	for i := 0; i < 30; i++ {
		ts = ts.Add(time.Hour)
		r := rng.NormFloat64()*0.01 + 0.01
		require.NoError(t, eng.Record("A", ts, r))
		require.NoError(t, eng.Record("B", ts, -r))
		require.NoError(t, eng.Record("C", ts, rng.NormFloat64()*0.01))
	}
	snap, sigs = eng.Recompute(ts)
	assert.EqualValues(t, 2, snap.Version)
	assert.EqualValues(t, 2, eng.Latest().Version)

	var pair []models.Signal
	for _, s := range sigs {
		assert.Equal(t, "correlation.30", s.Source)
		assert.Equal(t, models.KindCorrelation, s.Kind)
		if s.Metadata["previous"] > 0.9 {
			pair = append(pair, s)
		}
	}
	require.Len(t, pair, 2)
	dirs := map[string]models.Direction{}
	for _, s := range pair {
		dirs[s.Instrument] = s.Direction
		assert.Less(t, s.Metadata["correlation"], -0.9)
		assert.Greater(t, s.Confidence, 0.9)
	}
	assert.Equal(t, models.DirectionShort, dirs["A"])
	assert.Equal(t, models.DirectionLong, dirs["B"])
}

func TestCorrelationEngineUndefinedPriorIsNotZero(t *testing.T) {
	cfg := config.Defaults().Signal.Correlation
	eng := NewCorrelationEngine(cfg, marketstate.NewCache(config.MarketState{Capacity: 16}))

	rng := rand.New(rand.NewSource(3))
	ts := base
	for i := 0; i < 30; i++ {
		ts = ts.Add(time.Hour)
		require.NoError(t, eng.Record("A", ts, rng.NormFloat64()*0.01))
		require.NoError(t, eng.Record("B", ts, 0))
	}
	snap, sigs := eng.Recompute(ts)
	assert.Empty(t, sigs)
	m, ok := snap.Matrix(30)
	require.True(t, ok)
	assert.Equal(t, []string{"A", "B"}, m.Instruments)
	_, ok = m.Get("A", "B")
	assert.False(t, ok, "a halted instrument has no correlation")
	raa, ok := m.Get("A", "A")
	assert.True(t, ok)
	assert.Equal(t, 1.0, raa)

	// B resumes and tracks A closely
	for i := 0; i < 30; i++ {
		ts = ts.Add(time.Hour)
		r := rng.NormFloat64() * 0.01
		require.NoError(t, eng.Record("A", ts, r))
		require.NoError(t, eng.Record("B", ts, r+rng.NormFloat64()*0.001))
	}
	snap, sigs = eng.Recompute(ts)
	m, _ = snap.Matrix(30)
	rab, ok := m.Get("A", "B")
	require.True(t, ok)
	assert.Greater(t, rab, 0.9)
	assert.Empty(t, sigs, "no change is reported against an undefined prior")
}

func TestCorrelationEngineLeadLag(t *testing.T) {
	cfg := config.Defaults().Signal.Correlation
	eng := NewCorrelationEngine(cfg, marketstate.NewCache(config.MarketState{Capacity: 16}))

	rng := rand.New(rand.NewSource(11))
	ts := base
	prev := 0.0
	for i := 0; i < 200; i++ {
		ts = ts.Add(time.Hour)
		r := rng.NormFloat64() * 0.01
		require.NoError(t, eng.Record("LEAD", ts, r))
		require.NoError(t, eng.Record("FOLLOW", ts, prev+rng.NormFloat64()*0.001))
		prev = r
	}
	snap, _ := eng.Recompute(ts)
	require.Len(t, snap.LeadLag, 1)
	ll := snap.LeadLag[0]
	assert.Equal(t, "LEAD", ll.Leader)
	assert.Equal(t, "FOLLOW", ll.Follower)
	assert.Equal(t, 1, ll.Lag)
	assert.Greater(t, ll.Correlation, 0.9)
}

func TestCorrelationEngineSamplesFromMarket(t *testing.T) {
	cache := marketstate.NewCache(config.MarketState{Capacity: 16})
	eng := NewCorrelationEngine(config.Defaults().Signal.Correlation, cache)

	ts := base
	require.NoError(t, cache.Update(models.Tick{Instrument: "A", Price: 100, Volume: 1, Timestamp: ts}))
	assert.Equal(t, 0, eng.Sample(ts))

	ts = ts.Add(time.Minute)
	require.NoError(t, cache.Update(models.Tick{Instrument: "A", Price: 110, Volume: 1, Timestamp: ts}))
	assert.Equal(t, 1, eng.Sample(ts))
	assert.Equal(t, 0, eng.Sample(ts), "same timestamp is sampled once")

	eng.mu.Lock()
	got := eng.series["A"].Values(0)
	eng.mu.Unlock()
	require.Len(t, got, 1)
	assert.InDelta(t, math.Log(1.1), got[0], 1e-12)

	eng.Restore(models.CorrelationSnapshot{Version: 9})
	snap, _ := eng.Recompute(ts)
	assert.EqualValues(t, 10, snap.Version)
}
