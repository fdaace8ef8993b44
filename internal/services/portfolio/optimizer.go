// Package portfolio turns accepted, cost-validated decisions into target weights.
package portfolio

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/mat"

	"SignalCore/internal/domain/models"
	domsvc "SignalCore/internal/domain/service"
	"SignalCore/internal/services/stats"
	"SignalCore/pkg/config"
)

// DecayFactor scales a decision by the lifecycle status of one contributor.
func DecayFactor(s models.DecayStatus) float64 {
	switch s {
	case models.DecayDegraded:
		return 0.5
	case models.DecayRetired:
		return 0
	}
	return 1
}

type candidate struct {
	verdict models.CostVerdict
	sigma   float64
	mu      float64
	decay   float64
}

// Optimizer blends mean-variance, fractional Kelly and risk-parity weights.
type Optimizer struct {
	cfg    config.Portfolio
	market domsvc.MarketView
	decay  domsvc.DecaySource

	mu        sync.Mutex
	decisions map[string]models.CostVerdict

	latest atomic.Pointer[models.AllocationSnapshot]
}

func NewOptimizer(cfg config.Portfolio, market domsvc.MarketView, decay domsvc.DecaySource) *Optimizer {
	return &Optimizer{cfg: cfg, market: market, decay: decay, decisions: make(map[string]models.CostVerdict)}
}

// Submit queues an accepted verdict for the next rebalance. A newer decision
// on the same instrument replaces the older one.
func (o *Optimizer) Submit(v models.CostVerdict) bool {
	if !v.Accepted || v.Decision.Instrument == "" {
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if cur, ok := o.decisions[v.Decision.Instrument]; ok && cur.Decision.WindowClosed.After(v.Decision.WindowClosed) {
		return false
	}
	o.decisions[v.Decision.Instrument] = v
	return true
}

// Pending returns the number of live decisions.
func (o *Optimizer) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.decisions)
}

// Latest returns the last allocation snapshot, or nil.
func (o *Optimizer) Latest() *models.AllocationSnapshot {
	return o.latest.Load()
}

// Restore installs a snapshot rebuilt from the projection.
func (o *Optimizer) Restore(s models.AllocationSnapshot) {
	o.latest.Store(&s)
}

func (o *Optimizer) live(ts time.Time) []models.CostVerdict {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]models.CostVerdict, 0, len(o.decisions))
	for inst, v := range o.decisions {
		if ts.Sub(v.Decision.WindowClosed) > o.cfg.DecisionTTL {
			delete(o.decisions, inst)
			continue
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Decision.Instrument < out[j].Decision.Instrument })
	return out
}

// Rebalance computes and publishes a new snapshot from live decisions.
// corr may be nil, in which case instruments are treated as uncorrelated.
func (o *Optimizer) Rebalance(ctx context.Context, ts time.Time, corr *models.CorrelationSnapshot) (models.AllocationSnapshot, error) {
	var cands []candidate
	for _, v := range o.live(ts) {
		c, ok, err := o.candidate(ctx, v)
		if err != nil {
			return models.AllocationSnapshot{}, fmt.Errorf("rebalance: %w", err)
		}
		if ok {
			cands = append(cands, c)
		}
	}

	snap := models.AllocationSnapshot{Timestamp: ts, Allocations: []models.Allocation{}}
	if prev := o.latest.Load(); prev != nil {
		snap.Version = prev.Version + 1
	} else {
		snap.Version = 1
	}

	if len(cands) > 0 {
		rho := correlations(cands, corr, o.cfg.CovarianceHorizon)
		mv := o.meanVariance(cands, rho)
		kelly := o.kelly(cands)
		rp := riskParity(cands, rho)

		total := o.cfg.MeanVarianceBlend + o.cfg.KellyBlend + o.cfg.RiskParityBlend
		weights := make([]float64, len(cands))
		for i, c := range cands {
			w := (o.cfg.MeanVarianceBlend*mv[i] + o.cfg.KellyBlend*kelly[i] + o.cfg.RiskParityBlend*rp[i]) / total
			w *= c.decay
			weights[i] = stats.Clamp(w, -o.cfg.MaxPositionWeight, o.cfg.MaxPositionWeight)
		}

		var gross float64
		for _, w := range weights {
			gross += math.Abs(w)
		}
		scale := 1.0
		if gross > o.cfg.MaxGross {
			scale = o.cfg.MaxGross / gross
		}

		for i, c := range cands {
			w := weights[i] * scale
			snap.Allocations = append(snap.Allocations, models.Allocation{
				Instrument:   c.verdict.Decision.Instrument,
				Weight:       w,
				Direction:    models.DirectionOf(w),
				Score:        c.verdict.Decision.Score,
				MeanVariance: mv[i],
				Kelly:        kelly[i],
				RiskParity:   rp[i],
				DecayFactor:  c.decay,
				DecisionID:   c.verdict.Decision.ID,
			})
			snap.GrossExposure += math.Abs(w)
			snap.NetExposure += w
		}
	}

	o.latest.Store(&snap)
	return snap, nil
}

func (o *Optimizer) candidate(ctx context.Context, v models.CostVerdict) (candidate, bool, error) {
	d := v.Decision
	rets := o.market.Returns(d.Instrument, o.cfg.VolWindow)
	sigma, err := stats.StdDev(rets)
	if err != nil || sigma <= 0 {
		return candidate{}, false, nil
	}
	p := stats.Clamp(d.Score/100, 0, 1)
	c := candidate{
		verdict: v,
		sigma:   sigma,
		mu:      (2*p - 1) * sigma * d.Direction.Sign(),
		decay:   1,
	}

	if len(d.Contributors) > 0 {
		var sum float64
		for _, s := range d.Contributors {
			st, err := o.decay.Status(ctx, s.Source)
			if err != nil {
				return candidate{}, false, fmt.Errorf("decay status %s: %w", s.Source, err)
			}
			sum += DecayFactor(st)
		}
		c.decay = sum / float64(len(d.Contributors))
	}
	return c, c.mu != 0, nil
}

func correlations(cands []candidate, corr *models.CorrelationSnapshot, horizon int) [][]float64 {
	m, ok := corr.Matrix(horizon)
	rho := make([][]float64, len(cands))
	for i := range cands {
		rho[i] = make([]float64, len(cands))
		for j := range cands {
			switch {
			case i == j:
				rho[i][j] = 1
			case ok:
				rho[i][j], _ = m.Get(cands[i].verdict.Decision.Instrument, cands[j].verdict.Decision.Instrument)
			}
		}
	}
	return rho
}

// meanVariance solves Σw = μ and normalizes to unit gross exposure. An
// ill-conditioned covariance falls back to the diagonal solution.
func (o *Optimizer) meanVariance(cands []candidate, rho [][]float64) []float64 {
	n := len(cands)
	cov := mat.NewDense(n, n, nil)
	mu := mat.NewVecDense(n, nil)
	for i, ci := range cands {
		mu.SetVec(i, ci.mu)
		for j, cj := range cands {
			cov.Set(i, j, rho[i][j]*ci.sigma*cj.sigma)
		}
	}

	out := make([]float64, n)
	var w mat.VecDense
	if err := w.SolveVec(cov, mu); err == nil {
		for i := range out {
			out[i] = w.AtVec(i)
		}
	} else {
		for i, c := range cands {
			out[i] = c.mu / (c.sigma * c.sigma)
		}
	}
	return normalizeGross(out)
}

// kelly is the fractional Kelly bet μ/σ², capped at full capital.
func (o *Optimizer) kelly(cands []candidate) []float64 {
	out := make([]float64, len(cands))
	for i, c := range cands {
		out[i] = stats.Clamp(o.cfg.KellyFraction*c.mu/(c.sigma*c.sigma), -1, 1)
	}
	return out
}

// riskParity weights by inverse volatility, penalized by positive correlation
// with the rest of the book, signed by the decision direction.
func riskParity(cands []candidate, rho [][]float64) []float64 {
	out := make([]float64, len(cands))
	for i, c := range cands {
		crowd := 0.0
		for j := range cands {
			if j != i && rho[i][j] > 0 {
				crowd += rho[i][j]
			}
		}
		out[i] = math.Copysign(1/c.sigma/(1+crowd), c.mu)
	}
	return normalizeGross(out)
}

func normalizeGross(ws []float64) []float64 {
	var gross float64
	for _, w := range ws {
		gross += math.Abs(w)
	}
	if gross == 0 {
		return ws
	}
	for i := range ws {
		ws[i] /= gross
	}
	return ws
}
