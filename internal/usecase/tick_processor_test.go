package usecase

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalCore/internal/domain/models"
	"SignalCore/internal/services/analytics"
	"SignalCore/internal/services/marketstate"
	"SignalCore/pkg/config"
	"SignalCore/pkg/logger"
	pkgmetrics "SignalCore/pkg/metrics"
)

// flakyPublisher fails the next `failures` publishes, then records.
type flakyPublisher struct {
	mu        sync.Mutex
	failures  int
	published []models.Envelope
}

func (f *flakyPublisher) Publish(_ context.Context, env models.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("broker down")
	}
	f.published = append(f.published, env)
	return nil
}

func (f *flakyPublisher) Close() error { return nil }

func (f *flakyPublisher) failNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = n
}

func (f *flakyPublisher) count(topic string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, env := range f.published {
		if env.Type == topic {
			n++
		}
	}
	return n
}

func TestTickProcessorRedeliveryAfterPublishFailure(t *testing.T) {
	ctx := context.Background()
	cfg := config.Defaults().Signal
	market := marketstate.NewCache(cfg.MarketState)
	pub := &flakyPublisher{}
	proc := NewTickProcessor(market,
		analytics.NewAnomalyDetector(cfg.Anomaly, market),
		analytics.NewRegimeDetector(cfg.Regime, market),
		NewEmitter(pub, pkgmetrics.Nop{}), pkgmetrics.Nop{}, logger.NewNop())

	start := time.Now().UTC().Add(-time.Hour)
	price := 100.0
	tick := func(i int) models.Tick {
		ts := start.Add(time.Duration(i) * time.Second)
		return models.Tick{Instrument: "AAPL", Price: price, Volume: 100000, Timestamp: ts}
	}
	for i := 0; i < 40; i++ {
		if i%2 == 0 {
			price *= math.Exp(0.001)
		} else {
			price *= math.Exp(-0.001)
		}
		require.NoError(t, proc.Process(ctx, tick(i)))
	}
	require.Zero(t, pub.count(models.TopicSignalAnomaly))

	price *= math.Exp(-0.006)
	shock := tick(40)
	pub.failNext(1)
	err := proc.Process(ctx, shock)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.Zero(t, pub.count(models.TopicSignalAnomaly))

	require.NoError(t, proc.Process(ctx, shock), "redelivery publishes the retained anomaly")
	assert.Equal(t, 1, pub.count(models.TopicSignalAnomaly))

	prices := market.Prices("AAPL", 0)
	assert.Len(t, prices, 41, "the redelivered tick is not appended twice")
	assert.NotEqual(t, prices[len(prices)-1], prices[len(prices)-2])

	require.NoError(t, proc.Process(ctx, shock))
	assert.Equal(t, 1, pub.count(models.TopicSignalAnomaly), "nothing is re-emitted once published")
	assert.Len(t, market.Prices("AAPL", 0), 41)
}

func TestTickProcessorDropsStaleOutputOnNewerTick(t *testing.T) {
	ctx := context.Background()
	cfg := config.Defaults().Signal
	market := marketstate.NewCache(cfg.MarketState)
	pub := &flakyPublisher{}
	proc := NewTickProcessor(market,
		analytics.NewAnomalyDetector(cfg.Anomaly, market),
		analytics.NewRegimeDetector(cfg.Regime, market),
		NewEmitter(pub, pkgmetrics.Nop{}), pkgmetrics.Nop{}, logger.NewNop())

	proc.retain("AAPL", &tickOutput{ts: time.Unix(0, 0), signals: []models.Signal{{Instrument: "AAPL"}}})
	require.NoError(t, proc.Process(ctx, models.Tick{Instrument: "AAPL", Price: 100, Volume: 1, Timestamp: time.Now().UTC()}))
	assert.Nil(t, proc.take("AAPL"))
	assert.Zero(t, pub.count(models.TopicSignalAnomaly))
}
