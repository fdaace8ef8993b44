package analytics

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"SignalCore/internal/domain/models"
	domsvc "SignalCore/internal/domain/service"
	"SignalCore/internal/services/marketstate"
	"SignalCore/internal/services/stats"
	"SignalCore/pkg/config"
)

// SourceCorrelationPrefix prefixes correlation-change sources, e.g. "correlation.30".
const SourceCorrelationPrefix = "correlation."

// CorrelationEngine samples per-instrument returns on a schedule and
// periodically publishes a versioned snapshot of correlation matrices.
type CorrelationEngine struct {
	cfg    config.Correlation
	market domsvc.MarketView

	mu         sync.Mutex
	series     map[string]*marketstate.RollingWindow
	lastPrice  map[string]float64
	lastSample time.Time

	snap atomic.Pointer[models.CorrelationSnapshot]
}

func NewCorrelationEngine(cfg config.Correlation, market domsvc.MarketView) *CorrelationEngine {
	return &CorrelationEngine{
		cfg:       cfg,
		market:    market,
		series:    make(map[string]*marketstate.RollingWindow),
		lastPrice: make(map[string]float64),
	}
}

// Sample records one period: the log return of every instrument's last price
// since the previous sample.
func (e *CorrelationEngine) Sample(ts time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.lastSample.IsZero() && !ts.After(e.lastSample) {
		return 0
	}
	e.lastSample = ts

	n := 0
	for _, inst := range e.market.Instruments() {
		p, ok := e.market.LastPrice(inst)
		if !ok || p <= 0 {
			continue
		}
		prev, seen := e.lastPrice[inst]
		e.lastPrice[inst] = p
		if !seen {
			continue
		}
		if e.record(inst, ts, math.Log(p/prev)) == nil {
			n++
		}
	}
	return n
}

// Record adds one return observation directly. Callers must not mix it with
// Sample for the same instrument.
func (e *CorrelationEngine) Record(instrument string, ts time.Time, ret float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.record(instrument, ts, ret)
}

func (e *CorrelationEngine) record(instrument string, ts time.Time, ret float64) error {
	w, ok := e.series[instrument]
	if !ok {
		w = marketstate.NewRollingWindow(e.cfg.History, 0)
		e.series[instrument] = w
	}
	if err := w.Push(marketstate.Point{Time: ts, Value: ret}); err != nil {
		return fmt.Errorf("record %s: %w", instrument, err)
	}
	return nil
}

// Latest returns the current snapshot, or nil before the first recompute.
func (e *CorrelationEngine) Latest() *models.CorrelationSnapshot {
	return e.snap.Load()
}

// Restore installs a snapshot, e.g. one rebuilt from the projection.
func (e *CorrelationEngine) Restore(s models.CorrelationSnapshot) {
	e.snap.Store(&s)
}

// Recompute builds matrices for every horizon, swaps the snapshot and returns
// it along with change signals for pairs whose correlation moved significantly.
func (e *CorrelationEngine) Recompute(ts time.Time) (models.CorrelationSnapshot, []models.Signal) {
	e.mu.Lock()
	series := make(map[string][]marketstate.Point, len(e.series))
	for inst, w := range e.series {
		series[inst] = w.Points(0)
	}
	e.mu.Unlock()

	prev := e.snap.Load()
	next := models.CorrelationSnapshot{
		ComputedAt: ts,
		Matrices:   make(map[int]models.CorrelationMatrix, len(e.cfg.Horizons)),
	}
	if prev != nil {
		next.Version = prev.Version + 1
	} else {
		next.Version = 1
	}

	var signals []models.Signal
	maxHorizon := 0
	for _, h := range e.cfg.Horizons {
		m := correlationMatrix(series, h)
		next.Matrices[h] = m
		if h > maxHorizon {
			maxHorizon = h
		}
		if pm, ok := prev.Matrix(h); ok {
			signals = append(signals, e.changeSignals(series, pm, m, ts)...)
		}
	}
	next.LeadLag = e.leadLag(series, maxHorizon)

	e.snap.Store(&next)
	return next, signals
}

func correlationMatrix(series map[string][]marketstate.Point, horizon int) models.CorrelationMatrix {
	var insts []string
	for inst, pts := range series {
		if len(pts) >= horizon {
			insts = append(insts, inst)
		}
	}
	sort.Strings(insts)

	vals := make([][]float64, len(insts))
	defined := make([][]bool, len(insts))
	for i := range vals {
		vals[i] = make([]float64, len(insts))
		vals[i][i] = 1
		defined[i] = make([]bool, len(insts))
		defined[i][i] = true
	}
	for i := 0; i < len(insts); i++ {
		for j := i + 1; j < len(insts); j++ {
			a, b := aligned(series[insts[i]], series[insts[j]], horizon)
			if len(a) < horizon {
				continue
			}
			// a flat series has no correlation; it stays undefined rather than 0
			if r, err := stats.Pearson(a, b); err == nil {
				vals[i][j], vals[j][i] = r, r
				defined[i][j], defined[j][i] = true, true
			}
		}
	}
	return models.CorrelationMatrix{Horizon: horizon, Instruments: insts, Values: vals, Defined: defined, Samples: horizon}
}

// aligned returns the last n returns observed at timestamps common to both series.
func aligned(a, b []marketstate.Point, n int) ([]float64, []float64) {
	var xs, ys []float64
	i, j := len(a)-1, len(b)-1
	for i >= 0 && j >= 0 && (n <= 0 || len(xs) < n) {
		switch {
		case a[i].Time.Equal(b[j].Time):
			xs = append(xs, a[i].Value)
			ys = append(ys, b[j].Value)
			i--
			j--
		case a[i].Time.After(b[j].Time):
			i--
		default:
			j--
		}
	}
	reverse(xs)
	reverse(ys)
	return xs, ys
}

func reverse(xs []float64) {
	for i, j := 0, len(xs)-1; i < j; i, j = i+1, j-1 {
		xs[i], xs[j] = xs[j], xs[i]
	}
}

func (e *CorrelationEngine) changeSignals(series map[string][]marketstate.Point, prev, cur models.CorrelationMatrix, ts time.Time) []models.Signal {
	n := len(cur.Instruments)
	pairs := n * (n - 1) / 2
	if pairs == 0 {
		return nil
	}
	alpha := stats.Bonferroni(e.cfg.PValue, pairs)
	source := fmt.Sprintf("%s%d", SourceCorrelationPrefix, cur.Horizon)

	var out []models.Signal
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			a, b := cur.Instruments[i], cur.Instruments[j]
			before, ok := prev.Get(a, b)
			if !ok {
				continue
			}
			now, ok := cur.Get(a, b)
			if !ok {
				continue
			}
			delta := now - before
			if math.Abs(delta) <= e.cfg.ChangeThreshold {
				continue
			}
			res, err := stats.FisherZTest(now, cur.Horizon, before, prev.Samples)
			if err != nil || !res.Significant(alpha) {
				continue
			}
			xs, ys := aligned(series[a], series[b], cur.Horizon)
			rel := sum(xs) - sum(ys)
			if rel == 0 {
				continue
			}
			// the outperformer is expected to give back its relative gain
			outperformer, underperformer := a, b
			if rel < 0 {
				outperformer, underperformer = b, a
			}
			conf := math.Min(1, math.Abs(delta)) * (1 - res.PValue)
			meta := map[string]float64{
				"correlation": now,
				"previous":    before,
				"p_value":     res.PValue,
				"horizon":     float64(cur.Horizon),
				"rel_perf":    math.Abs(rel),
			}
			out = append(out,
				correlationSignal(source, outperformer, models.DirectionShort, conf, ts, meta),
				correlationSignal(source, underperformer, models.DirectionLong, conf, ts, meta),
			)
		}
	}
	return out
}

func correlationSignal(source, instrument string, dir models.Direction, conf float64, ts time.Time, meta map[string]float64) models.Signal {
	m := make(map[string]float64, len(meta))
	for k, v := range meta {
		m[k] = v
	}
	return models.Signal{
		ID:         uuid.NewString(),
		Source:     source,
		Kind:       models.KindCorrelation,
		Instrument: instrument,
		Direction:  dir,
		Confidence: stats.Clamp(conf, 0, 1),
		Timestamp:  ts,
		Metadata:   m,
	}
}

// leadLag scans lags 1..MaxLag in both directions for every pair and keeps
// the strongest significant one.
func (e *CorrelationEngine) leadLag(series map[string][]marketstate.Point, window int) []models.LeadLag {
	var insts []string
	for inst := range series {
		insts = append(insts, inst)
	}
	sort.Strings(insts)

	alpha := stats.Bonferroni(e.cfg.PValue, 2*e.cfg.MaxLag)
	var out []models.LeadLag
	for i := 0; i < len(insts); i++ {
		for j := i + 1; j < len(insts); j++ {
			xs, ys := aligned(series[insts[i]], series[insts[j]], window)
			if len(xs) < e.cfg.MaxLag+10 {
				continue
			}
			var best *models.LeadLag
			for lag := 1; lag <= e.cfg.MaxLag; lag++ {
				for _, c := range []struct {
					leader, follower string
					x, y             []float64
				}{
					{insts[i], insts[j], xs, ys},
					{insts[j], insts[i], ys, xs},
				} {
					r, res, err := stats.PearsonTest(c.x[:len(c.x)-lag], c.y[lag:])
					if err != nil || !res.Significant(alpha) {
						continue
					}
					if best == nil || math.Abs(r) > math.Abs(best.Correlation) {
						best = &models.LeadLag{Leader: c.leader, Follower: c.follower, Lag: lag, Correlation: r, PValue: res.PValue}
					}
				}
			}
			if best != nil {
				out = append(out, *best)
			}
		}
	}
	return out
}
