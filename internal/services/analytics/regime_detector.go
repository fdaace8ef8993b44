package analytics

import (
	"sync"
	"time"

	"SignalCore/internal/domain/models"
	domsvc "SignalCore/internal/domain/service"
	"SignalCore/internal/services/features"
	"SignalCore/internal/services/marketstate"
	"SignalCore/internal/services/stats"
	"SignalCore/pkg/config"
)

// bands closer than this are treated as equal, so flat prices stay normal
const volTolerance = 1e-12

var regimeDimensions = []models.RegimeDimension{
	models.DimensionVolatility,
	models.DimensionTrend,
	models.DimensionLiquidity,
}

// dwellTracker holds a candidate label until it has persisted long enough.
type dwellTracker struct {
	candidate string
	since     time.Time
}

// observe returns true once label has differed from committed continuously for dwell.
func (t *dwellTracker) observe(label, committed string, ts time.Time, dwell time.Duration) bool {
	if label == committed {
		t.candidate = ""
		return false
	}
	if label != t.candidate {
		t.candidate, t.since = label, ts
		return false
	}
	return ts.Sub(t.since) >= dwell
}

type regimeTracker struct {
	samples   int
	lastTS    time.Time
	volHist   *marketstate.RollingWindow
	dmi       *features.DirectionalIndex
	committed models.RegimeState
	dwell     map[models.RegimeDimension]*dwellTracker
}

// RegimeDetector classifies volatility, trend and liquidity per instrument and
// reports a change only after the new label has held for the dwell time.
type RegimeDetector struct {
	cfg    config.Regime
	market domsvc.MarketView

	mu       sync.Mutex
	trackers map[string]*regimeTracker
}

func NewRegimeDetector(cfg config.Regime, market domsvc.MarketView) *RegimeDetector {
	return &RegimeDetector{cfg: cfg, market: market, trackers: make(map[string]*regimeTracker)}
}

func initialRegime(instrument string) models.RegimeState {
	return models.RegimeState{
		Instrument: instrument,
		Volatility: models.VolatilityNormal,
		Trend:      models.TrendNone,
		Liquidity:  models.LiquidityNormal,
	}
}

func (d *RegimeDetector) tracker(instrument string) *regimeTracker {
	tr, ok := d.trackers[instrument]
	if ok {
		return tr
	}
	tr = &regimeTracker{
		volHist:   marketstate.NewRollingWindow(d.cfg.VolHistory, 0),
		dmi:       features.NewDirectionalIndex(d.cfg.ADXPeriod),
		committed: initialRegime(instrument),
		dwell:     make(map[models.RegimeDimension]*dwellTracker, len(regimeDimensions)),
	}
	for _, dim := range regimeDimensions {
		tr.dwell[dim] = &dwellTracker{}
	}
	d.trackers[instrument] = tr
	return tr
}

// Seed restores a committed state, e.g. from the projection after a restart.
func (d *RegimeDetector) Seed(state models.RegimeState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tracker(state.Instrument).committed = state
}

// State returns the committed regime of instrument.
func (d *RegimeDetector) State(instrument string) (models.RegimeState, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	tr, ok := d.trackers[instrument]
	if !ok {
		return models.RegimeState{}, false
	}
	return tr.committed, true
}

// Observe classifies instrument after the market cache has absorbed the tick at ts.
// It returns the committed transitions, usually none.
func (d *RegimeDetector) Observe(instrument string, ts time.Time) []models.RegimeChange {
	price, ok := d.market.LastPrice(instrument)
	if !ok {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	tr := d.tracker(instrument)
	if !tr.lastTS.IsZero() && !ts.After(tr.lastTS) {
		return nil
	}
	tr.lastTS = ts
	tr.samples++
	tr.dmi.Update(price)

	labels := map[models.RegimeDimension]string{
		models.DimensionVolatility: d.volatility(instrument, tr, ts),
		models.DimensionTrend:      d.trend(tr),
		models.DimensionLiquidity:  d.liquidity(instrument),
	}
	if tr.samples < d.cfg.MinSamples {
		return nil
	}

	var changes []models.RegimeChange
	for _, dim := range regimeDimensions {
		label := labels[dim]
		dw := tr.dwell[dim]
		from := tr.committed.Label(dim)
		if !dw.observe(label, from, ts, d.cfg.Dwell) {
			continue
		}
		tr.committed = tr.committed.WithLabel(dim, label)
		tr.committed.UpdatedAt = ts
		changes = append(changes, models.RegimeChange{
			Instrument:     instrument,
			Dimension:      dim,
			From:           from,
			To:             label,
			CandidateSince: dw.since,
			CommittedAt:    ts,
			State:          tr.committed,
		})
		dw.candidate = ""
	}
	return changes
}

func (d *RegimeDetector) volatility(instrument string, tr *regimeTracker, ts time.Time) string {
	rets := d.market.Returns(instrument, d.cfg.VolWindow)
	if len(rets) < d.cfg.VolWindow {
		return models.VolatilityNormal
	}
	vol, err := stats.StdDev(rets)
	if err != nil {
		return models.VolatilityNormal
	}
	hist := tr.volHist.Values(0)
	_ = tr.volHist.Push(marketstate.Point{Time: ts, Value: vol})
	if len(hist) < d.cfg.VolWindow {
		return models.VolatilityNormal
	}

	lo, err1 := stats.Percentile(hist, d.cfg.LowPercentile)
	hi, err2 := stats.Percentile(hist, d.cfg.HighPercentile)
	if err1 != nil || err2 != nil {
		return models.VolatilityNormal
	}
	switch {
	case vol < lo-volTolerance:
		return models.VolatilityLow
	case vol > hi+volTolerance:
		return models.VolatilityHigh
	}
	return models.VolatilityNormal
}

func (d *RegimeDetector) trend(tr *regimeTracker) string {
	adx, plus, minus, ok := tr.dmi.Value()
	if !ok || adx < d.cfg.TrendThreshold {
		return models.TrendNone
	}
	switch {
	case plus > minus:
		return models.TrendUp
	case minus > plus:
		return models.TrendDown
	}
	return models.TrendNone
}

func (d *RegimeDetector) liquidity(instrument string) string {
	vols := d.market.Volumes(instrument, d.cfg.LiquidityTrailing)
	ratio, ok := features.VolumeRatio(vols, d.cfg.LiquidityRecent, d.cfg.LiquidityTrailing)
	if ok && ratio < d.cfg.ThinRatio {
		return models.LiquidityThin
	}
	return models.LiquidityNormal
}
