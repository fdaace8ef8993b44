package analytics

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"SignalCore/internal/domain/models"
	domsvc "SignalCore/internal/domain/service"
	"SignalCore/internal/services/marketstate"
	"SignalCore/internal/services/stats"
	"SignalCore/pkg/config"
)

const (
	SourceReturnAnomaly      = "anomaly.return"
	SourceCorrelationAnomaly = "anomaly.correlation"

	// correlation baselines are recorded at most this often per pair
	correlationSampleEvery = time.Hour
)

// AnomalyDetector flags statistically significant return shocks and
// correlation breaks against a reference basket.
type AnomalyDetector struct {
	cfg    config.Anomaly
	market domsvc.MarketView

	mu      sync.Mutex
	history map[string]*marketstate.RollingWindow
}

func NewAnomalyDetector(cfg config.Anomaly, market domsvc.MarketView) *AnomalyDetector {
	return &AnomalyDetector{
		cfg:     cfg,
		market:  market,
		history: make(map[string]*marketstate.RollingWindow),
	}
}

// Evaluate runs every check for instrument as of ts. Checks lacking data are skipped.
func (d *AnomalyDetector) Evaluate(instrument string, ts time.Time) []models.Signal {
	var out []models.Signal
	if s, ok := d.returnAnomaly(instrument, ts); ok {
		out = append(out, s)
	}
	if s, ok := d.correlationAnomaly(instrument, ts); ok {
		out = append(out, s)
	}
	return out
}

func (d *AnomalyDetector) returnAnomaly(instrument string, ts time.Time) (models.Signal, bool) {
	rets := d.market.Returns(instrument, d.cfg.Window+1)
	if len(rets) < d.cfg.Window+1 {
		return models.Signal{}, false
	}
	latest, sample := rets[len(rets)-1], rets[:len(rets)-1]

	z, err := stats.ZScore(latest, sample)
	if err != nil || math.Abs(z) <= d.cfg.SigmaThreshold {
		return models.Signal{}, false
	}
	res, err := stats.OutlierTTest(latest, sample)
	if err != nil || !res.Significant(d.cfg.PValue) {
		return models.Signal{}, false
	}

	dir := models.DirectionOf(-z)
	conf := math.Min(1, math.Abs(z)/(2*d.cfg.SigmaThreshold)) * (1 - res.PValue)
	meta := map[string]float64{"z": z, "p_value": res.PValue, "return": latest, "momentum": 0}

	if ac, err := stats.Autocorrelation(sample, 1); err == nil {
		meta["autocorr"] = ac
		switch {
		case ac > d.cfg.AutocorrThreshold:
			dir = models.DirectionOf(z)
			meta["momentum"] = 1
		case ac < -d.cfg.AutocorrThreshold:
			conf = math.Min(1, conf*(1+0.25*math.Abs(ac)))
		}
	}

	return models.Signal{
		ID:         uuid.NewString(),
		Source:     SourceReturnAnomaly,
		Kind:       models.KindAnomaly,
		Instrument: instrument,
		Direction:  dir,
		Confidence: stats.Clamp(conf, 0, 1),
		Timestamp:  ts,
		Metadata:   meta,
	}, true
}

type correlationBreak struct {
	ref      string
	current  float64
	baseline float64
	pValue   float64
	relPerf  float64
}

func (d *AnomalyDetector) correlationAnomaly(instrument string, ts time.Time) (models.Signal, bool) {
	refs := make([]string, 0, len(d.cfg.ReferenceInstruments))
	for _, r := range d.cfg.ReferenceInstruments {
		if r != instrument {
			refs = append(refs, r)
		}
	}
	if len(refs) == 0 {
		return models.Signal{}, false
	}
	alpha := stats.Bonferroni(d.cfg.PValue, len(refs))
	n := d.cfg.CorrelationWindow

	var best *correlationBreak
	for _, ref := range refs {
		a := d.market.Returns(instrument, n)
		b := d.market.Returns(ref, n)
		if len(a) < n || len(b) < n {
			continue
		}
		r, err := stats.Pearson(a, b)
		if err != nil {
			continue
		}
		baseline, ok := d.recordAndBaseline(instrument+"|"+ref, ts, r)
		if !ok || math.Abs(r-baseline) <= d.cfg.CorrelationShift {
			continue
		}
		res, err := stats.FisherZTest(r, n, baseline, n)
		if err != nil || !res.Significant(alpha) {
			continue
		}
		if best == nil || res.PValue < best.pValue {
			best = &correlationBreak{ref: ref, current: r, baseline: baseline, pValue: res.PValue, relPerf: sum(a) - sum(b)}
		}
	}
	if best == nil {
		return models.Signal{}, false
	}

	// expect the pair to re-converge: fade the relative outperformance
	dir := models.DirectionOf(-best.relPerf)
	if dir == models.DirectionFlat {
		return models.Signal{}, false
	}
	conf := math.Min(1, math.Abs(best.current-best.baseline)) * (1 - best.pValue)
	return models.Signal{
		ID:         uuid.NewString(),
		Source:     SourceCorrelationAnomaly,
		Kind:       models.KindAnomaly,
		Instrument: instrument,
		Direction:  dir,
		Confidence: stats.Clamp(conf, 0, 1),
		Timestamp:  ts,
		Metadata: map[string]float64{
			"correlation": best.current,
			"baseline":    best.baseline,
			"p_value":     best.pValue,
			"rel_perf":    best.relPerf,
		},
	}, true
}

// recordAndBaseline stores r for the pair (rate limited) and returns the most
// recent value recorded at least one lookback before ts.
func (d *AnomalyDetector) recordAndBaseline(pair string, ts time.Time, r float64) (float64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	w, ok := d.history[pair]
	if !ok {
		capacity := int(2*d.cfg.CorrelationLookback/correlationSampleEvery) + 2
		w = marketstate.NewRollingWindow(capacity, 2*d.cfg.CorrelationLookback)
		d.history[pair] = w
	}

	cutoff := ts.Add(-d.cfg.CorrelationLookback)
	baseline, found := 0.0, false
	for _, p := range w.Points(0) {
		if p.Time.After(cutoff) {
			break
		}
		baseline, found = p.Value, true
	}

	if last, ok := w.Last(); !ok || ts.Sub(last.Time) >= correlationSampleEvery {
		_ = w.Push(marketstate.Point{Time: ts, Value: r})
	}
	return baseline, found
}

func sum(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s
}
