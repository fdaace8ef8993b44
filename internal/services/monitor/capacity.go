package monitor

import (
	"math"

	"SignalCore/internal/domain/models"
	"SignalCore/internal/services/stats"
	"SignalCore/pkg/config"
)

// CapacityMonitor estimates how much size a strategy can trade before its
// expected cost reaches the cost limit.
type CapacityMonitor struct {
	cfg  config.Capacity
	cost config.Cost
}

func NewCapacityMonitor(cfg config.Capacity, cost config.Cost) *CapacityMonitor {
	return &CapacityMonitor{cfg: cfg, cost: cost}
}

// Apply folds one outcome into the strategy state and returns a warning when
// utilization reaches the threshold.
func (m *CapacityMonitor) Apply(s models.CapacityState, o models.ExecutionOutcome) (models.CapacityState, *models.CapacityWarning) {
	s.StrategyID = o.Strategy()
	ratio := o.SizeRatio()
	if ratio <= 0 {
		return s, nil
	}

	samples := append(append([]models.CapacitySample(nil), s.Samples...), models.CapacitySample{
		SizeRatio:   ratio,
		SlippagePct: o.RealizedSlippagePct,
		Timestamp:   o.Timestamp,
	})
	if len(samples) > m.cfg.Samples {
		samples = samples[len(samples)-m.cfg.Samples:]
	}
	s.Samples = samples
	s.AverageVolume = o.AverageVolume
	s.UpdatedAt = o.Timestamp

	s.ImpactCoef = m.fit(samples)
	headroom := m.cost.MaxCostPct - m.cost.FixedFeePct
	s.CeilingRatio = math.Pow(headroom/s.ImpactCoef, 2)
	s.CeilingSize = s.AverageVolume * s.CeilingRatio

	recent := samples
	if len(recent) > m.cfg.RecentSamples {
		recent = recent[len(recent)-m.cfg.RecentSamples:]
	}
	var mean float64
	for _, r := range recent {
		mean += r.SizeRatio
	}
	mean /= float64(len(recent))
	s.UtilizationPct = mean / s.CeilingRatio * 100

	if s.UtilizationPct < m.cfg.WarnUtilizationPct {
		return s, nil
	}
	return s, &models.CapacityWarning{
		StrategyID:     s.StrategyID,
		UtilizationPct: s.UtilizationPct,
		CeilingSize:    s.CeilingSize,
		Timestamp:      o.Timestamp,
	}
}

func (m *CapacityMonitor) fit(samples []models.CapacitySample) float64 {
	if len(samples) < m.cfg.MinFitSamples {
		return m.cost.DefaultImpactK
	}
	xs := make([]float64, len(samples))
	ys := make([]float64, len(samples))
	for i, s := range samples {
		xs[i] = math.Sqrt(s.SizeRatio)
		ys[i] = s.SlippagePct
	}
	k, err := stats.LeastSquaresThroughOrigin(xs, ys)
	if err != nil || k <= 0 {
		return m.cost.DefaultImpactK
	}
	return k
}
