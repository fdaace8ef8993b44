package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalCore/internal/domain/models"
	"SignalCore/pkg/config"
)

type staticWeights map[string]float64

func (w staticWeights) Weight(_ context.Context, source string) (float64, error) {
	if v, ok := w[source]; ok {
		return v, nil
	}
	return 0.5, nil
}

type staticDecay map[string]models.DecayStatus

func (d staticDecay) Status(_ context.Context, source string) (models.DecayStatus, error) {
	if s, ok := d[source]; ok {
		return s, nil
	}
	return models.DecayActive, nil
}

type brokenState struct{}

func (brokenState) Weight(context.Context, string) (float64, error) { return 0, errors.New("redis down") }

type recordingSink struct {
	mu        sync.Mutex
	decisions []models.ConsensusDecision
	failures  []models.ConsensusFailure
}

func (s *recordingSink) OnDecision(_ context.Context, d models.ConsensusDecision) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, d)
}

func (s *recordingSink) OnFailure(_ context.Context, f models.ConsensusFailure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, f)
}

func (s *recordingSink) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.decisions), len(s.failures)
}

func consensusConfig(window time.Duration) config.Consensus {
	cfg := config.Defaults().Signal.Consensus
	cfg.Window = window
	return cfg
}

func sig(source, inst string, dir models.Direction, conf float64) models.Signal {
	return models.Signal{
		ID: source + "-" + inst, Source: source, Kind: models.KindExternal,
		Instrument: inst, Direction: dir, Confidence: conf, Timestamp: time.Now(),
	}
}

func TestAggregatorEqualWeightScore(t *testing.T) {
	sink := &recordingSink{}
	agg := NewSignalAggregator(consensusConfig(time.Hour), staticWeights{}, staticDecay{}, sink)

	require.NoError(t, agg.Add(sig("a", "BTC", models.DirectionLong, 0.9)))
	require.NoError(t, agg.Add(sig("b", "BTC", models.DirectionLong, 0.8)))
	require.NoError(t, agg.Add(sig("c", "BTC", models.DirectionLong, 0.7)))
	agg.Flush()

	require.Len(t, sink.decisions, 1)
	d := sink.decisions[0]
	assert.InDelta(t, 80, d.Score, 1e-9)
	assert.Equal(t, models.DirectionLong, d.Direction)
	assert.Len(t, d.Contributors, 3)
	assert.NotEmpty(t, d.ID)
	assert.Equal(t, 0, agg.Open())
}

func TestAggregatorInsufficientSources(t *testing.T) {
	sink := &recordingSink{}
	agg := NewSignalAggregator(consensusConfig(time.Hour), staticWeights{}, staticDecay{"c": models.DecayRetired}, sink)

	require.NoError(t, agg.Add(sig("a", "ETH", models.DirectionShort, 0.9)))
	require.NoError(t, agg.Add(sig("a", "ETH", models.DirectionShort, 0.95)))
	require.NoError(t, agg.Add(sig("b", "ETH", models.DirectionShort, 0.9)))
	require.NoError(t, agg.Add(sig("c", "ETH", models.DirectionShort, 0.9)))
	require.NoError(t, agg.Add(sig("d", "ETH", models.DirectionFlat, 0.9)))
	agg.Flush()

	require.Empty(t, sink.decisions)
	require.Len(t, sink.failures, 1)
	f := sink.failures[0]
	assert.Equal(t, models.ReasonInsufficientSources, f.Reason)
	assert.Equal(t, 2, f.DistinctSources, "retired sources and abstentions do not count")
	assert.Len(t, f.Scores, 3)
}

func TestAggregatorSplitVoteLacksContributors(t *testing.T) {
	sink := &recordingSink{}
	agg := NewSignalAggregator(consensusConfig(time.Hour), staticWeights{}, staticDecay{}, sink)

	require.NoError(t, agg.Add(sig("a", "BTC", models.DirectionLong, 0.9)))
	require.NoError(t, agg.Add(sig("b", "BTC", models.DirectionLong, 0.9)))
	require.NoError(t, agg.Add(sig("c", "BTC", models.DirectionShort, 0.1)))
	agg.Flush()

	assert.Empty(t, sink.decisions, "two agreeing sources cannot carry a decision")
	require.Len(t, sink.failures, 1)
	f := sink.failures[0]
	assert.Equal(t, models.ReasonInsufficientSources, f.Reason)
	assert.Equal(t, models.DirectionLong, f.Direction)
	assert.InDelta(t, 90, f.Score, 1e-9)
	assert.Equal(t, 3, f.DistinctSources)
	assert.Len(t, f.Scores, 3)
}

func TestAggregatorBelowThresholdAndDirectionByWeight(t *testing.T) {
	sink := &recordingSink{}
	weights := staticWeights{"a": 0.9, "b": 0.1, "c": 0.1, "d": 0.2}
	agg := NewSignalAggregator(consensusConfig(time.Hour), weights, staticDecay{}, sink)

	require.NoError(t, agg.Add(sig("a", "SOL", models.DirectionShort, 0.6)))
	require.NoError(t, agg.Add(sig("b", "SOL", models.DirectionLong, 0.9)))
	require.NoError(t, agg.Add(sig("c", "SOL", models.DirectionLong, 0.9)))
	require.NoError(t, agg.Add(sig("d", "SOL", models.DirectionLong, 0.9)))
	agg.Flush()

	require.Len(t, sink.failures, 1)
	f := sink.failures[0]
	assert.Equal(t, models.ReasonBelowThreshold, f.Reason)
	assert.Equal(t, models.DirectionShort, f.Direction)
	assert.InDelta(t, 60, f.Score, 1e-9)
}

func TestAggregatorStateUnavailable(t *testing.T) {
	sink := &recordingSink{}
	agg := NewSignalAggregator(consensusConfig(time.Hour), brokenState{}, staticDecay{}, sink)
	require.NoError(t, agg.Add(sig("a", "BTC", models.DirectionLong, 0.9)))
	agg.Flush()
	require.Len(t, sink.failures, 1)
	assert.Equal(t, models.ReasonStateUnavailable, sink.failures[0].Reason)
}

func TestAggregatorRejectsInvalidSignal(t *testing.T) {
	agg := NewSignalAggregator(consensusConfig(time.Hour), staticWeights{}, staticDecay{}, &recordingSink{})
	err := agg.Add(models.Signal{Source: "a", Instrument: "BTC", Direction: "up", Confidence: 2})
	require.ErrorIs(t, err, models.ErrMalformed)
	assert.Equal(t, 0, agg.Open())
}

func TestAggregatorWindowClosesOnTimer(t *testing.T) {
	sink := &recordingSink{}
	agg := NewSignalAggregator(consensusConfig(30*time.Millisecond), staticWeights{}, staticDecay{}, sink)

	for _, s := range []string{"a", "b", "c"} {
		require.NoError(t, agg.Add(sig(s, "BTC", models.DirectionLong, 0.9)))
	}
	require.Eventually(t, func() bool {
		d, _ := sink.counts()
		return d == 1
	}, time.Second, 5*time.Millisecond)

	// a signal after close opens a fresh window
	require.NoError(t, agg.Add(sig("a", "BTC", models.DirectionLong, 0.9)))
	assert.Equal(t, 1, agg.Open())
	agg.Flush()
	d, f := sink.counts()
	assert.Equal(t, 1, d)
	assert.Equal(t, 1, f)
}

func TestAggregatorConcurrentProducersCloseOnce(t *testing.T) {
	sink := &recordingSink{}
	agg := NewSignalAggregator(consensusConfig(20*time.Millisecond), staticWeights{}, staticDecay{}, sink)

	const producers = 16
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				inst := fmt.Sprintf("I%d", i%4)
				_ = agg.Add(sig(fmt.Sprintf("src%d", p), inst, models.DirectionLong, 0.9))
				if i%10 == 0 {
					time.Sleep(3 * time.Millisecond)
				}
			}
		}(p)
	}

	// concurrent flushes race with the timers
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			time.Sleep(7 * time.Millisecond)
			agg.Flush()
		}
	}()
	wg.Wait()
	<-done
	agg.Flush()

	decisions, failures := sink.counts()
	assert.Greater(t, decisions+failures, 0)
	assert.Equal(t, 0, agg.Open())

	sink.mu.Lock()
	defer sink.mu.Unlock()
	seen := map[string]bool{}
	for _, d := range sink.decisions {
		key := d.Instrument + d.WindowOpened.String()
		assert.False(t, seen[key], "window closed twice")
		seen[key] = true
		assert.InDelta(t, 90, d.Score, 1e-9)
	}
}
