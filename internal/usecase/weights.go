package usecase

import (
	"SignalCore/internal/domain/models"
	"SignalCore/internal/services/stats"
	"SignalCore/pkg/config"
)

// contributorHit reports whether a contributor called the realized move: its
// direction agreed with the trade and the trade made money, or it disagreed
// and the trade lost.
func contributorHit(c models.SourceScore, o models.ExecutionOutcome) bool {
	return c.Direction.Sign()*o.Direction.Sign()*o.RealizedReturn > 0
}

// contributorReturn is the trade return attributed to a contributor.
func contributorReturn(c models.SourceScore, o models.ExecutionOutcome) float64 {
	return c.Direction.Sign() * o.Direction.Sign() * o.RealizedReturn
}

func newWeight(cfg config.Consensus, source string) models.SignalWeight {
	return models.SignalWeight{Source: source, Weight: cfg.PriorWeight}
}

// foldWeight applies one outcome to a source weight. Sources below the
// observation minimum keep their current weight, which is the prior unless a
// decay halving lowered it; established sources move toward the observed
// accuracy by the EMA step.
func foldWeight(cfg config.Consensus, w models.SignalWeight, hit bool, id string, o models.ExecutionOutcome) models.SignalWeight {
	w.Observations++
	acc := 0.0
	if hit {
		w.Hits++
		acc = 1
	}
	w.Accuracy = float64(w.Hits) / float64(w.Observations)
	if w.Observations >= cfg.MinObservations {
		w.Weight = stats.Clamp(w.Weight+cfg.WeightAlpha*(acc-w.Weight), 0, 1)
	}
	w.Applied = remember(w.Applied, id, cfg.OutcomeMemory)
	w.UpdatedAt = o.Timestamp
	return w
}

// halveWeight is applied once when a source enters degraded, whatever its
// observation count. The halved value is not reset to the prior.
func halveWeight(cfg config.Consensus, w models.SignalWeight, id string) models.SignalWeight {
	w.Weight = stats.Clamp(w.Weight/2, 0, 1)
	w.Applied = remember(w.Applied, id, cfg.OutcomeMemory)
	return w
}

func remember(ids []string, id string, limit int) []string {
	out := append(append([]string(nil), ids...), id)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func contains(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
