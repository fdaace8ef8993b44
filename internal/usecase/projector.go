package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"SignalCore/internal/domain/models"
	drepo "SignalCore/internal/domain/repository"
	domsvc "SignalCore/internal/domain/service"
	"SignalCore/internal/services/monitor"
	"SignalCore/pkg/cache"
	"SignalCore/pkg/config"
	"SignalCore/pkg/logger"
)

// Projection key prefixes and singleton keys.
const (
	PrefixWeight   = "weight"
	PrefixDecay    = "decay"
	PrefixCapacity = "capacity"
	PrefixRegime   = "regime"

	KeyCorrelation = "correlation:latest"
	KeyAllocation  = "allocation:latest"
)

// Effects are the side outputs of folding one event. Live handlers act on
// them; replay discards them.
type Effects struct {
	CapacityWarning *models.CapacityWarning
	Transition      *models.DecayTransition
	Capacity        *models.CapacityState
}

// Projector maintains the key-value projection derived from the event log.
// Every write is a versioned compare-and-swap, and every fold is idempotent so
// that an event may be applied more than once.
type Projector struct {
	store     cache.Store
	log       drepo.EventLog
	consensus config.Consensus
	decay     *monitor.DecayMonitor
	capacity  *monitor.CapacityMonitor
	retries   int
	logger    *logger.Logger
}

var (
	_ domsvc.WeightSource = (*Projector)(nil)
	_ domsvc.DecaySource  = (*Projector)(nil)
)

func NewProjector(store cache.Store, log drepo.EventLog, consensus config.Consensus, decay *monitor.DecayMonitor, capacity *monitor.CapacityMonitor, retries int, lg *logger.Logger) *Projector {
	if lg == nil {
		lg = logger.NewNop()
	}
	return &Projector{
		store:     store,
		log:       log,
		consensus: consensus,
		decay:     decay,
		capacity:  capacity,
		retries:   retries,
		logger:    lg,
	}
}

// Record appends env to the event log and folds it into the projection.
func (p *Projector) Record(ctx context.Context, env models.Envelope) (Effects, error) {
	if err := p.log.Append(ctx, env); err != nil {
		return Effects{}, fmt.Errorf("append %s: %w", env.Type, err)
	}
	return p.Apply(ctx, env)
}

// Apply folds env into the projection without logging it. Event types that
// carry no projected state are ignored.
func (p *Projector) Apply(ctx context.Context, env models.Envelope) (Effects, error) {
	switch env.Type {
	case models.TopicTradeOutcome:
		return p.applyOutcome(ctx, env)
	case models.TopicDecayEvaluated:
		return p.applyDecay(ctx, env)
	case models.TopicRegimeChange:
		return Effects{}, p.applyRegime(ctx, env)
	case models.TopicCorrelationSnapshot:
		return Effects{}, p.applyCorrelation(ctx, env)
	case models.TopicRebalance:
		return Effects{}, p.applyRebalance(ctx, env)
	}
	return Effects{}, nil
}

// Replay streams the log from since through Apply. Malformed events are
// logged and skipped. It returns the number of events applied.
func (p *Projector) Replay(ctx context.Context, since time.Time) (int, error) {
	n := 0
	err := p.log.Replay(ctx, since, func(env models.Envelope) error {
		if _, err := p.Apply(ctx, env); err != nil {
			if errors.Is(err, models.ErrMalformed) {
				p.logger.Error("Skipping malformed event during replay",
					logger.String("id", env.ID),
					logger.String("type", env.Type),
					logger.Error(err))
				return nil
			}
			return err
		}
		n++
		return nil
	})
	if err != nil {
		return n, fmt.Errorf("replay: %w", err)
	}
	return n, nil
}

// Reset deletes every projection key. Used before a full rebuild.
func (p *Projector) Reset(ctx context.Context) (int, error) {
	keys := []string{KeyCorrelation, KeyAllocation}
	for _, prefix := range []string{PrefixWeight, PrefixDecay, PrefixCapacity, PrefixRegime} {
		ks, err := p.store.Keys(ctx, cache.Prefix(prefix))
		if err != nil {
			return 0, fmt.Errorf("reset %s: %w", prefix, err)
		}
		keys = append(keys, ks...)
	}
	if err := p.store.Delete(ctx, keys...); err != nil {
		return 0, fmt.Errorf("reset: %w", err)
	}
	return len(keys), nil
}

func (p *Projector) applyOutcome(ctx context.Context, env models.Envelope) (Effects, error) {
	o, err := models.DecodePayload[models.ExecutionOutcome](env)
	if err != nil {
		return Effects{}, err
	}
	if err := o.Validate(); err != nil {
		return Effects{}, err
	}

	seen := make(map[string]bool, len(o.Contributors))
	for _, c := range o.Contributors {
		if c.Source == "" || seen[c.Source] {
			continue
		}
		seen[c.Source] = true
		hit := contributorHit(c, o)

		_, err := cache.Update(ctx, p.store, cache.Key(PrefixWeight, c.Source), p.retries,
			func(w models.SignalWeight, exists bool) (models.SignalWeight, error) {
				if !exists {
					w = newWeight(p.consensus, c.Source)
				}
				if w.HasApplied(o.ID) {
					return w, cache.ErrNoChange
				}
				return foldWeight(p.consensus, w, hit, o.ID, o), nil
			})
		if err != nil {
			return Effects{}, fmt.Errorf("fold weight %s: %w", c.Source, err)
		}

		ret := contributorReturn(c, o)
		_, err = cache.Update(ctx, p.store, cache.Key(PrefixDecay, c.Source), p.retries,
			func(s models.DecayState, _ bool) (models.DecayState, error) {
				if contains(s.Applied, o.ID) {
					return s, cache.ErrNoChange
				}
				s.Source = c.Source
				s.Status = s.EffectiveStatus()
				s = p.decay.RecordReturn(s, o.Timestamp, ret)
				s.Applied = remember(s.Applied, o.ID, p.consensus.OutcomeMemory)
				return s, nil
			})
		if err != nil {
			return Effects{}, fmt.Errorf("fold decay %s: %w", c.Source, err)
		}
	}

	var eff Effects
	applied := false
	st, err := cache.Update(ctx, p.store, cache.Key(PrefixCapacity, o.Strategy()), p.retries,
		func(s models.CapacityState, _ bool) (models.CapacityState, error) {
			applied, eff.CapacityWarning = false, nil
			if contains(s.Applied, o.ID) {
				return s, cache.ErrNoChange
			}
			next, warn := p.capacity.Apply(s, o)
			next.Applied = remember(s.Applied, o.ID, p.consensus.OutcomeMemory)
			eff.CapacityWarning = warn
			applied = true
			return next, nil
		})
	if err != nil {
		return Effects{}, fmt.Errorf("fold capacity %s: %w", o.Strategy(), err)
	}
	if applied {
		eff.Capacity = &st
	}
	return eff, nil
}

func (p *Projector) applyDecay(ctx context.Context, env models.Envelope) (Effects, error) {
	ev, err := models.DecodePayload[models.DecayEvaluation](env)
	if err != nil {
		return Effects{}, err
	}
	if ev.Source == "" || ev.Day.IsZero() {
		return Effects{}, fmt.Errorf("%w: decay evaluation without source or day", models.ErrMalformed)
	}

	var tr *models.DecayTransition
	_, err = cache.Update(ctx, p.store, cache.Key(PrefixDecay, ev.Source), p.retries,
		func(s models.DecayState, _ bool) (models.DecayState, error) {
			if !s.LastEvaluated.IsZero() && !ev.Day.After(s.LastEvaluated) {
				tr = nil
				return s, cache.ErrNoChange
			}
			var next models.DecayState
			next, tr = p.decay.Step(s, ev)
			return next, nil
		})
	if err != nil {
		return Effects{}, fmt.Errorf("step decay %s: %w", ev.Source, err)
	}

	if tr != nil && tr.To == models.DecayDegraded {
		_, err = cache.Update(ctx, p.store, cache.Key(PrefixWeight, ev.Source), p.retries,
			func(w models.SignalWeight, exists bool) (models.SignalWeight, error) {
				if !exists {
					w = newWeight(p.consensus, ev.Source)
				}
				if w.HasApplied(env.ID) {
					return w, cache.ErrNoChange
				}
				return halveWeight(p.consensus, w, env.ID), nil
			})
		if err != nil {
			return Effects{}, fmt.Errorf("halve weight %s: %w", ev.Source, err)
		}
	}
	return Effects{Transition: tr}, nil
}

func (p *Projector) applyRegime(ctx context.Context, env models.Envelope) error {
	ch, err := models.DecodePayload[models.RegimeChange](env)
	if err != nil {
		return err
	}
	if ch.Instrument == "" {
		return fmt.Errorf("%w: regime change without instrument", models.ErrMalformed)
	}
	_, err = cache.Update(ctx, p.store, cache.Key(PrefixRegime, ch.Instrument), p.retries,
		func(cur models.RegimeState, exists bool) (models.RegimeState, error) {
			switch {
			case !exists || ch.State.UpdatedAt.After(cur.UpdatedAt):
				return ch.State, nil
			case ch.State.UpdatedAt.Equal(cur.UpdatedAt) && ch.Dimension != "" && cur.Label(ch.Dimension) != ch.To:
				// several dimensions can commit on one tick; fold each in regardless of arrival order
				return cur.WithLabel(ch.Dimension, ch.To), nil
			}
			return cur, cache.ErrNoChange
		})
	return err
}

func (p *Projector) applyCorrelation(ctx context.Context, env models.Envelope) error {
	snap, err := models.DecodePayload[models.CorrelationSnapshot](env)
	if err != nil {
		return err
	}
	_, err = cache.Update(ctx, p.store, KeyCorrelation, p.retries,
		func(cur models.CorrelationSnapshot, exists bool) (models.CorrelationSnapshot, error) {
			if exists && !snap.ComputedAt.After(cur.ComputedAt) {
				return cur, cache.ErrNoChange
			}
			return snap, nil
		})
	return err
}

func (p *Projector) applyRebalance(ctx context.Context, env models.Envelope) error {
	snap, err := models.DecodePayload[models.AllocationSnapshot](env)
	if err != nil {
		return err
	}
	_, err = cache.Update(ctx, p.store, KeyAllocation, p.retries,
		func(cur models.AllocationSnapshot, exists bool) (models.AllocationSnapshot, error) {
			if exists && !snap.Timestamp.After(cur.Timestamp) {
				return cur, cache.ErrNoChange
			}
			return snap, nil
		})
	return err
}

// Weight returns the effective weight of source; unknown sources get the prior.
func (p *Projector) Weight(ctx context.Context, source string) (float64, error) {
	w, ver, err := cache.Load[models.SignalWeight](ctx, p.store, cache.Key(PrefixWeight, source))
	if err != nil {
		return 0, err
	}
	if ver == 0 {
		return p.consensus.PriorWeight, nil
	}
	return w.Weight, nil
}

// Status returns the lifecycle status of source.
func (p *Projector) Status(ctx context.Context, source string) (models.DecayStatus, error) {
	s, err := p.DecayState(ctx, source)
	if err != nil {
		return "", err
	}
	return s.EffectiveStatus(), nil
}

func (p *Projector) SignalWeight(ctx context.Context, source string) (models.SignalWeight, bool, error) {
	w, ver, err := cache.Load[models.SignalWeight](ctx, p.store, cache.Key(PrefixWeight, source))
	return w, ver > 0, err
}

// Weights lists every known source weight ordered by source.
func (p *Projector) Weights(ctx context.Context) ([]models.SignalWeight, error) {
	all, err := cache.LoadAll[models.SignalWeight](ctx, p.store, cache.Prefix(PrefixWeight))
	if err != nil {
		return nil, err
	}
	out := make([]models.SignalWeight, 0, len(all))
	for _, w := range all {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out, nil
}

// Sources lists every source with decay state.
func (p *Projector) Sources(ctx context.Context) ([]string, error) {
	keys, err := p.store.Keys(ctx, cache.Prefix(PrefixDecay))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, cache.ID(PrefixDecay, k))
	}
	sort.Strings(out)
	return out, nil
}

func (p *Projector) DecayState(ctx context.Context, source string) (models.DecayState, error) {
	s, _, err := cache.Load[models.DecayState](ctx, p.store, cache.Key(PrefixDecay, source))
	return s, err
}

func (p *Projector) Capacity(ctx context.Context, strategy string) (models.CapacityState, bool, error) {
	s, ver, err := cache.Load[models.CapacityState](ctx, p.store, cache.Key(PrefixCapacity, strategy))
	return s, ver > 0, err
}

func (p *Projector) Regime(ctx context.Context, instrument string) (models.RegimeState, bool, error) {
	s, ver, err := cache.Load[models.RegimeState](ctx, p.store, cache.Key(PrefixRegime, instrument))
	return s, ver > 0, err
}

func (p *Projector) Regimes(ctx context.Context) ([]models.RegimeState, error) {
	all, err := cache.LoadAll[models.RegimeState](ctx, p.store, cache.Prefix(PrefixRegime))
	if err != nil {
		return nil, err
	}
	out := make([]models.RegimeState, 0, len(all))
	for _, s := range all {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out, nil
}

func (p *Projector) Correlation(ctx context.Context) (models.CorrelationSnapshot, bool, error) {
	s, ver, err := cache.Load[models.CorrelationSnapshot](ctx, p.store, KeyCorrelation)
	return s, ver > 0, err
}

func (p *Projector) Allocations(ctx context.Context) (models.AllocationSnapshot, bool, error) {
	s, ver, err := cache.Load[models.AllocationSnapshot](ctx, p.store, KeyAllocation)
	return s, ver > 0, err
}
