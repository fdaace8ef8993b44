package marketstate

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalCore/internal/domain/models"
	"SignalCore/pkg/config"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func TestRollingWindowCapacityAndOrder(t *testing.T) {
	w := NewRollingWindow(3, 0)
	for i := 0; i < 5; i++ {
		require.NoError(t, w.Push(Point{Time: t0.Add(time.Duration(i) * time.Second), Value: float64(i)}))
	}
	assert.Equal(t, 3, w.Len())
	assert.Equal(t, []float64{2, 3, 4}, w.Values(0))
	assert.Equal(t, []float64{3, 4}, w.Values(2))

	err := w.Push(Point{Time: t0, Value: 9})
	assert.ErrorIs(t, err, ErrOutOfOrder)
	err = w.Push(Point{Time: t0.Add(4 * time.Second), Value: 4})
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Equal(t, []float64{2, 3, 4}, w.Values(0))

	last, ok := w.Last()
	require.True(t, ok)
	assert.Equal(t, 4.0, last.Value)
}

func TestRollingWindowMaxAge(t *testing.T) {
	w := NewRollingWindow(100, time.Minute)
	for i := 0; i < 10; i++ {
		require.NoError(t, w.Push(Point{Time: t0.Add(time.Duration(i) * 20 * time.Second), Value: float64(i)}))
	}
	// newest at 180s; cutoff 120s keeps 120,140,160,180
	assert.Equal(t, []float64{6, 7, 8, 9}, w.Values(0))
}

func TestCacheUpdateAndReads(t *testing.T) {
	c := NewCache(config.MarketState{Capacity: 64})

	err := c.Update(models.Tick{Instrument: "BTC", Price: -1, Timestamp: t0})
	assert.ErrorIs(t, err, models.ErrMalformed)

	prices := []float64{100, 101, 99, 102}
	for i, p := range prices {
		require.NoError(t, c.Update(models.Tick{Instrument: "BTC", Price: p, Volume: float64(10 * (i + 1)), Timestamp: t0.Add(time.Duration(i) * time.Second)}))
	}

	err = c.Update(models.Tick{Instrument: "BTC", Price: 100, Timestamp: t0})
	assert.ErrorIs(t, err, ErrOutOfOrder)
	err = c.Update(models.Tick{Instrument: "BTC", Price: 102, Volume: 40, Timestamp: t0.Add(3 * time.Second)})
	assert.ErrorIs(t, err, ErrDuplicate)

	rets := c.Returns("BTC", 10)
	require.Len(t, rets, 3)
	assert.InDelta(t, math.Log(101.0/100), rets[0], 1e-12)

	last, ok := c.LastPrice("BTC")
	require.True(t, ok)
	assert.Equal(t, 102.0, last)

	avg, ok := c.AverageVolume("BTC", 2)
	require.True(t, ok)
	assert.Equal(t, 35.0, avg)

	snap, ok := c.Snapshot("BTC")
	require.True(t, ok)
	assert.Len(t, snap.Prices, 4)
	assert.Equal(t, t0.Add(3*time.Second), snap.UpdatedAt)

	snap.Prices[0].Value = -5
	assert.Equal(t, []float64{100, 101, 99, 102}, c.Prices("BTC", 0), "snapshot is a copy")

	_, ok = c.LastPrice("ETH")
	assert.False(t, ok)
	assert.Nil(t, c.Returns("ETH", 5))
	assert.Equal(t, []string{"BTC"}, c.Instruments())
}

func TestCacheConcurrentInstruments(t *testing.T) {
	c := NewCache(config.MarketState{Capacity: 128})
	insts := []string{"A", "B", "C", "D"}
	var wg sync.WaitGroup
	for _, inst := range insts {
		wg.Add(1)
		go func(inst string) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = c.Update(models.Tick{Instrument: inst, Price: 100 + float64(i), Volume: 1, Timestamp: t0.Add(time.Duration(i) * time.Second)})
				_ = c.Returns(inst, 20)
			}
		}(inst)
	}
	wg.Wait()
	assert.Equal(t, insts, c.Instruments())
	for _, inst := range insts {
		assert.Len(t, c.Prices(inst, 0), 100)
	}
}
