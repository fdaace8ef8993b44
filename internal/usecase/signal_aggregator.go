package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"SignalCore/internal/domain/models"
	domsvc "SignalCore/internal/domain/service"
	"SignalCore/pkg/config"
	"SignalCore/pkg/logger"
)

// ConsensusSink receives the result of every closed window.
type ConsensusSink interface {
	OnDecision(ctx context.Context, d models.ConsensusDecision)
	OnFailure(ctx context.Context, f models.ConsensusFailure)
}

// window collects signals for one instrument until its timer fires. Any
// number of goroutines may add; exactly one performs the close.
type window struct {
	instrument string
	opened     time.Time

	mu      sync.Mutex
	closed  bool
	signals map[string]models.Signal
	timer   *time.Timer
	once    sync.Once
}

// add keeps the latest signal per source. It returns false once closed.
func (w *window) add(s models.Signal) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	if cur, ok := w.signals[s.Source]; !ok || !s.Timestamp.Before(cur.Timestamp) {
		w.signals[s.Source] = s
	}
	return true
}

func (w *window) seal() []models.Signal {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	out := make([]models.Signal, 0, len(w.signals))
	for _, s := range w.signals {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

// SignalAggregator fuses signals from independent sources into consensus
// decisions over fixed per-instrument windows.
type SignalAggregator struct {
	cfg     config.Consensus
	weights domsvc.WeightSource
	decay   domsvc.DecaySource
	sink    ConsensusSink
	logger  *logger.Logger

	mu       sync.Mutex
	idle     *sync.Cond
	windows  map[string]*window
	inflight int
}

type AggregatorOption func(*SignalAggregator)

func WithAggregatorLogger(l *logger.Logger) AggregatorOption {
	return func(a *SignalAggregator) { a.logger = l }
}

func NewSignalAggregator(cfg config.Consensus, weights domsvc.WeightSource, decay domsvc.DecaySource, sink ConsensusSink, opts ...AggregatorOption) *SignalAggregator {
	a := &SignalAggregator{
		cfg:     cfg,
		weights: weights,
		decay:   decay,
		sink:    sink,
		logger:  logger.NewNop(),
		windows: make(map[string]*window),
	}
	a.idle = sync.NewCond(&a.mu)
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Add places a signal into its instrument's open window, opening one if needed.
func (a *SignalAggregator) Add(s models.Signal) error {
	if err := s.Validate(); err != nil {
		return err
	}
	for {
		a.mu.Lock()
		w, ok := a.windows[s.Instrument]
		if !ok {
			w = &window{instrument: s.Instrument, opened: time.Now(), signals: make(map[string]models.Signal)}
			a.windows[s.Instrument] = w
			w.timer = time.AfterFunc(a.cfg.Window, func() { a.close(w) })
		}
		a.mu.Unlock()

		if w.add(s) {
			return nil
		}
		// lost the race with the closer; it removes the window before we retry
		a.detach(w)
	}
}

// Open reports the number of open windows.
func (a *SignalAggregator) Open() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.windows)
}

// Flush closes every open window immediately and waits for evaluation.
func (a *SignalAggregator) Flush() {
	a.mu.Lock()
	open := make([]*window, 0, len(a.windows))
	for _, w := range a.windows {
		open = append(open, w)
	}
	a.mu.Unlock()

	for _, w := range open {
		if w.timer != nil {
			w.timer.Stop()
		}
		a.close(w)
	}

	a.mu.Lock()
	for a.inflight > 0 {
		a.idle.Wait()
	}
	a.mu.Unlock()
}

func (a *SignalAggregator) detach(w *window) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.detachLocked(w)
}

func (a *SignalAggregator) detachLocked(w *window) {
	if a.windows[w.instrument] == w {
		delete(a.windows, w.instrument)
	}
}

// close seals w and evaluates it. Concurrent callers block until the single
// evaluation finishes.
func (a *SignalAggregator) close(w *window) {
	w.once.Do(func() {
		signals := w.seal()
		a.mu.Lock()
		a.detachLocked(w)
		a.inflight++
		a.mu.Unlock()
		defer func() {
			a.mu.Lock()
			a.inflight--
			a.idle.Broadcast()
			a.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Window+5*time.Second)
		defer cancel()
		a.evaluate(ctx, w, signals)
	})
}

func (a *SignalAggregator) evaluate(ctx context.Context, w *window, signals []models.Signal) {
	closedAt := time.Now()
	fail := models.ConsensusFailure{
		Instrument:   w.instrument,
		WindowOpened: w.opened,
		WindowClosed: closedAt,
		Scores:       []models.SourceScore{},
	}

	mass := map[models.Direction]float64{}
	weighted := map[models.Direction]float64{}
	voters := 0
	for _, s := range signals {
		status, err := a.decay.Status(ctx, s.Source)
		if err == nil && status == models.DecayRetired {
			continue
		}
		var weight float64
		if err == nil {
			weight, err = a.weights.Weight(ctx, s.Source)
		}
		if err != nil {
			a.logger.Error("Consensus state unavailable",
				logger.String("instrument", w.instrument),
				logger.String("source", s.Source),
				logger.Error(err))
			fail.Reason = models.ReasonStateUnavailable
			a.sink.OnFailure(ctx, fail)
			return
		}

		fail.Scores = append(fail.Scores, models.SourceScore{
			Source: s.Source, Kind: s.Kind, Direction: s.Direction, Confidence: s.Confidence, Weight: weight,
		})
		if s.Direction == models.DirectionFlat {
			continue
		}
		voters++
		mass[s.Direction] += weight
		weighted[s.Direction] += weight * s.Confidence
	}
	fail.DistinctSources = voters

	if voters < a.cfg.MinSources {
		fail.Reason = models.ReasonInsufficientSources
		a.sink.OnFailure(ctx, fail)
		return
	}

	long, short := mass[models.DirectionLong], mass[models.DirectionShort]
	dir := models.DirectionLong
	if short > long {
		dir = models.DirectionShort
	}
	if long == short || mass[dir] <= 0 {
		fail.Reason = models.ReasonNoDirection
		a.sink.OnFailure(ctx, fail)
		return
	}

	score := weighted[dir] / mass[dir] * 100
	fail.Direction, fail.Score = dir, score
	if score < a.cfg.ScoreThreshold {
		fail.Reason = models.ReasonBelowThreshold
		a.sink.OnFailure(ctx, fail)
		return
	}

	var contributors []models.SourceScore
	for _, sc := range fail.Scores {
		if sc.Direction == dir {
			contributors = append(contributors, sc)
		}
	}
	// opposing voters count toward the window but never toward the decision
	if len(contributors) < a.cfg.MinSources {
		fail.Reason = models.ReasonInsufficientSources
		a.sink.OnFailure(ctx, fail)
		return
	}
	a.sink.OnDecision(ctx, models.ConsensusDecision{
		ID:           uuid.NewString(),
		Instrument:   w.instrument,
		Direction:    dir,
		Score:        score,
		Contributors: contributors,
		WindowOpened: w.opened,
		WindowClosed: closedAt,
	})
}
