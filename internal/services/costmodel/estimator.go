// Package costmodel prices the market impact of acting on a consensus decision.
package costmodel

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"SignalCore/internal/domain/models"
	domsvc "SignalCore/internal/domain/service"
	"SignalCore/internal/services/stats"
	"SignalCore/pkg/config"
)

// Rejection reasons.
const (
	ReasonCostTooHigh  = "cost_exceeds_limit"
	ReasonNoMarketData = "no_market_data"
)

var ErrNoMarketData = errors.New("costmodel: no price or volume history")

// Estimator applies cost% = k·sqrt(size/avgVolume) + fee with a per-instrument k
// fitted on a schedule from realized fills.
type Estimator struct {
	cfg       config.Cost
	maxWeight float64
	market    domsvc.MarketView

	mu    sync.RWMutex
	k     map[string]float64
	fills map[string][]models.FillSample
}

// NewEstimator sizes orders as capital × maxWeight × score/100.
func NewEstimator(cfg config.Cost, maxWeight float64, market domsvc.MarketView) *Estimator {
	return &Estimator{
		cfg:       cfg,
		maxWeight: maxWeight,
		market:    market,
		k:         make(map[string]float64),
		fills:     make(map[string][]models.FillSample),
	}
}

// K returns the impact coefficient in use for instrument.
func (e *Estimator) K(instrument string) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if k, ok := e.k[instrument]; ok {
		return k
	}
	return e.cfg.DefaultImpactK
}

// OrderSize converts a decision into units of the instrument.
func (e *Estimator) OrderSize(d models.ConsensusDecision, price float64) float64 {
	if price <= 0 {
		return 0
	}
	return e.cfg.Capital * e.maxWeight * d.Score / 100 / price
}

// Quote returns the slippage and total cost percentages for an order.
func (e *Estimator) Quote(instrument string, size, avgVolume float64) (slippagePct, totalPct float64) {
	slippagePct = e.K(instrument) * math.Sqrt(size/avgVolume)
	return slippagePct, slippagePct + e.cfg.FixedFeePct
}

// Estimate prices d against current market state. Missing data yields a rejected
// verdict together with ErrNoMarketData.
func (e *Estimator) Estimate(d models.ConsensusDecision, ts time.Time) (models.CostVerdict, error) {
	v := models.CostVerdict{Decision: d, FeePct: e.cfg.FixedFeePct, Timestamp: ts}

	price, ok := e.market.LastPrice(d.Instrument)
	avgVol, okVol := e.market.AverageVolume(d.Instrument, e.cfg.VolumeWindow)
	if !ok || !okVol || avgVol <= 0 {
		v.Reason = ReasonNoMarketData
		return v, fmt.Errorf("estimate %s: %w", d.Instrument, ErrNoMarketData)
	}

	v.OrderSize = e.OrderSize(d, price)
	v.AverageVolume = avgVol
	v.ImpactK = e.K(d.Instrument)
	v.SlippagePct, v.TotalPct = e.Quote(d.Instrument, v.OrderSize, avgVol)
	v.Accepted = v.TotalPct <= e.cfg.MaxCostPct
	if !v.Accepted {
		v.Reason = ReasonCostTooHigh
	}
	return v, nil
}

// AddFill stores a realized fill for the next recalibration.
func (e *Estimator) AddFill(f models.FillSample) {
	if f.SizeRatio <= 0 || math.IsNaN(f.SlippagePct) {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	fills := append(e.fills[f.Instrument], f)
	sort.SliceStable(fills, func(i, j int) bool { return fills[i].Timestamp.Before(fills[j].Timestamp) })
	cutoff := f.Timestamp.Add(-2 * e.cfg.CalibrationWindow)
	i := 0
	for i < len(fills) && fills[i].Timestamp.Before(cutoff) {
		i++
	}
	e.fills[f.Instrument] = fills[i:]
}

// Recalibrate refits k per instrument on fills in the trailing window ending at
// now. Instruments with too few fills fall back to the default k. It returns
// the coefficients now in effect for every instrument with fill history.
func (e *Estimator) Recalibrate(now time.Time) map[string]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := now.Add(-e.cfg.CalibrationWindow)
	out := make(map[string]float64, len(e.fills))
	for inst, fills := range e.fills {
		var xs, ys []float64
		for _, f := range fills {
			if f.Timestamp.Before(cutoff) || f.Timestamp.After(now) {
				continue
			}
			xs = append(xs, math.Sqrt(f.SizeRatio))
			ys = append(ys, f.SlippagePct)
		}

		k := e.cfg.DefaultImpactK
		if len(xs) >= e.cfg.MinCalibrationSamples {
			if fit, err := stats.LeastSquaresThroughOrigin(xs, ys); err == nil && fit > 0 {
				k = fit
			}
		}
		if k == e.cfg.DefaultImpactK {
			delete(e.k, inst)
		} else {
			e.k[inst] = k
		}
		out[inst] = k
	}
	return out
}

// FillFromOutcome converts an execution outcome into a calibration sample.
func FillFromOutcome(o models.ExecutionOutcome) (models.FillSample, bool) {
	ratio := o.SizeRatio()
	if ratio <= 0 {
		return models.FillSample{}, false
	}
	return models.FillSample{
		Instrument:  o.Instrument,
		SizeRatio:   ratio,
		SlippagePct: o.RealizedSlippagePct,
		Timestamp:   o.Timestamp,
	}, true
}
