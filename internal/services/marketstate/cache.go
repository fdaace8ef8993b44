// Package marketstate keeps bounded per-instrument price and volume history.
package marketstate

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"SignalCore/internal/domain/models"
	domsvc "SignalCore/internal/domain/service"
	"SignalCore/pkg/config"
)

// Snapshot is an immutable copy of one instrument's state.
type Snapshot struct {
	Instrument string
	Prices     []Point
	Volumes    []float64
	UpdatedAt  time.Time
}

type instrumentState struct {
	mu      sync.RWMutex
	prices  *RollingWindow
	volumes *RollingWindow
}

// Cache is the shared market state. Writers lock per instrument; readers get copies.
type Cache struct {
	cfg         config.MarketState
	mu          sync.RWMutex
	instruments map[string]*instrumentState
}

var _ domsvc.MarketView = (*Cache)(nil)

func NewCache(cfg config.MarketState) *Cache {
	return &Cache{cfg: cfg, instruments: make(map[string]*instrumentState)}
}

func (c *Cache) state(instrument string, create bool) *instrumentState {
	c.mu.RLock()
	st, ok := c.instruments[instrument]
	c.mu.RUnlock()
	if ok || !create {
		return st
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.instruments[instrument]; ok {
		return st
	}
	st = &instrumentState{
		prices:  NewRollingWindow(c.cfg.Capacity, c.cfg.MaxAge),
		volumes: NewRollingWindow(c.cfg.Capacity, c.cfg.MaxAge),
	}
	c.instruments[instrument] = st
	return st
}

// Update appends a validated tick. Out-of-order and repeated timestamps are rejected.
func (c *Cache) Update(t models.Tick) error {
	if err := t.Validate(); err != nil {
		return err
	}
	st := c.state(t.Instrument, true)
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := st.prices.Push(Point{Time: t.Timestamp, Value: t.Price}); err != nil {
		return fmt.Errorf("update %s: %w", t.Instrument, err)
	}
	_ = st.volumes.Push(Point{Time: t.Timestamp, Value: t.Volume})
	return nil
}

// Prices returns the last n prices, oldest first.
func (c *Cache) Prices(instrument string, n int) []float64 {
	st := c.state(instrument, false)
	if st == nil {
		return nil
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.prices.Values(n)
}

// Returns returns up to n log returns, oldest first.
func (c *Cache) Returns(instrument string, n int) []float64 {
	if n <= 0 {
		return nil
	}
	prices := c.Prices(instrument, n+1)
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		out = append(out, math.Log(prices[i]/prices[i-1]))
	}
	return out
}

// Volumes returns the last n volumes, oldest first.
func (c *Cache) Volumes(instrument string, n int) []float64 {
	st := c.state(instrument, false)
	if st == nil {
		return nil
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.volumes.Values(n)
}

func (c *Cache) LastPrice(instrument string) (float64, bool) {
	st := c.state(instrument, false)
	if st == nil {
		return 0, false
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	p, ok := st.prices.Last()
	return p.Value, ok
}

// AverageVolume is the mean of the last n volumes.
func (c *Cache) AverageVolume(instrument string, n int) (float64, bool) {
	vols := c.Volumes(instrument, n)
	if len(vols) == 0 {
		return 0, false
	}
	var sum float64
	for _, v := range vols {
		sum += v
	}
	return sum / float64(len(vols)), true
}

func (c *Cache) Snapshot(instrument string) (Snapshot, bool) {
	st := c.state(instrument, false)
	if st == nil {
		return Snapshot{}, false
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	last, ok := st.prices.Last()
	if !ok {
		return Snapshot{}, false
	}
	return Snapshot{
		Instrument: instrument,
		Prices:     st.prices.Points(0),
		Volumes:    st.volumes.Values(0),
		UpdatedAt:  last.Time,
	}, true
}

// Instruments lists every instrument seen so far, sorted.
func (c *Cache) Instruments() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.instruments))
	for k := range c.instruments {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
