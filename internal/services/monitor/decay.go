// Package monitor tracks per-source edge decay and per-strategy capacity.
package monitor

import (
	"time"

	"SignalCore/internal/domain/models"
	"SignalCore/internal/services/stats"
	"SignalCore/pkg/config"
)

const day = 24 * time.Hour

// Day truncates ts to its UTC calendar day.
func Day(ts time.Time) time.Time {
	return ts.UTC().Truncate(day)
}

func daysBetween(from, to time.Time) int {
	return int(Day(to).Sub(Day(from)) / day)
}

// DecayMonitor evaluates the rolling Sharpe of each source and drives the
// active → degraded → retired state machine. It is stateless: callers load
// and store DecayState through the projection.
type DecayMonitor struct {
	cfg config.Decay
}

func NewDecayMonitor(cfg config.Decay) *DecayMonitor {
	return &DecayMonitor{cfg: cfg}
}

// RecordReturn adds a realized return to the source's bucket for that day and
// drops days outside the evaluation window.
func (m *DecayMonitor) RecordReturn(s models.DecayState, ts time.Time, ret float64) models.DecayState {
	d := Day(ts)
	daily := append([]models.DailyReturn(nil), s.DailyReturns...)

	i := len(daily)
	for i > 0 && daily[i-1].Day.After(d) {
		i--
	}
	if i > 0 && daily[i-1].Day.Equal(d) {
		daily[i-1].Return += ret
	} else {
		daily = append(daily, models.DailyReturn{})
		copy(daily[i+1:], daily[i:])
		daily[i] = models.DailyReturn{Day: d, Return: ret}
	}

	latest := daily[len(daily)-1].Day
	cutoff := latest.Add(-time.Duration(m.cfg.WindowDays) * day)
	j := 0
	for j < len(daily) && !daily[j].Day.After(cutoff) {
		j++
	}
	s.DailyReturns = daily[j:]
	return s
}

// Evaluate computes the annualized Sharpe over the trailing window ending on
// the given day. It reports false when there are too few daily samples.
func (m *DecayMonitor) Evaluate(s models.DecayState, at time.Time) (models.DecayEvaluation, bool) {
	end := Day(at)
	start := end.Add(-time.Duration(m.cfg.WindowDays) * day)
	var rets []float64
	for _, r := range s.DailyReturns {
		if r.Day.After(start) && !r.Day.After(end) {
			rets = append(rets, r.Return)
		}
	}
	if len(rets) < m.cfg.MinSamples {
		return models.DecayEvaluation{}, false
	}
	sharpe, err := stats.Sharpe(rets, m.cfg.AnnualizationDays)
	if err != nil {
		return models.DecayEvaluation{}, false
	}
	return models.DecayEvaluation{Source: s.Source, Day: end, Sharpe: sharpe, Samples: len(rets)}, true
}

// Step applies one evaluation. Below-threshold days are counted in calendar
// days from the first one; a source degrades on the DegradeAfterDays-th day
// and retires RetireAfterDays after degrading. Recovery returns it to active.
func (m *DecayMonitor) Step(s models.DecayState, ev models.DecayEvaluation) (models.DecayState, *models.DecayTransition) {
	from := s.EffectiveStatus()
	s.Source = ev.Source
	s.Status = from
	s.LastSharpe = ev.Sharpe
	s.LastEvaluated = ev.Day
	below := ev.Sharpe < m.cfg.SharpeThreshold

	switch from {
	case models.DecayActive:
		if !below {
			s.BelowSince = time.Time{}
			return s, nil
		}
		if s.BelowSince.IsZero() {
			s.BelowSince = ev.Day
		}
		if daysBetween(s.BelowSince, ev.Day) >= m.cfg.DegradeAfterDays-1 {
			s.Status = models.DecayDegraded
			s.DegradedSince = ev.Day
		}
	case models.DecayDegraded:
		if !below {
			s.Status = models.DecayActive
			s.BelowSince = time.Time{}
			s.DegradedSince = time.Time{}
		} else if daysBetween(s.DegradedSince, ev.Day) >= m.cfg.RetireAfterDays {
			s.Status = models.DecayRetired
			s.RetiredAt = ev.Day
		}
	case models.DecayRetired:
		return s, nil
	}

	if s.Status == from {
		return s, nil
	}
	return s, &models.DecayTransition{Source: ev.Source, From: from, To: s.Status, Day: ev.Day, Sharpe: ev.Sharpe}
}
