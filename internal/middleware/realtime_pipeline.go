package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"SignalCore/internal/domain/models"
	domrepo "SignalCore/internal/domain/repository"
	"SignalCore/internal/service/ratelimit"
)

// ErrThrottled is returned when an instrument exceeds its tick budget.
var ErrThrottled = errors.New("tick throttled")

// Proc is the minimal processor interface the pipeline needs.
type Proc interface {
	Process(ctx context.Context, t models.Tick) error
}

// RealtimePipeline sits between the tick consumer and the tick processor.
// It validates and throttles per instrument.
type RealtimePipeline struct {
	proc    Proc
	metrics domrepo.Metrics
	limiter *ratelimit.Limiter
}

type PipelineOption func(*RealtimePipeline)

// WithLimiter throttles ticks per instrument.
func WithLimiter(l *ratelimit.Limiter) PipelineOption {
	return func(p *RealtimePipeline) { p.limiter = l }
}

// NewRealtimePipeline creates a new pipeline.
func NewRealtimePipeline(proc Proc, metrics domrepo.Metrics, opts ...PipelineOption) *RealtimePipeline {
	p := &RealtimePipeline{proc: proc, metrics: metrics}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process validates, throttles, and forwards a tick downstream. Throttled
// ticks are dropped and reported with ErrThrottled.
func (p *RealtimePipeline) Process(ctx context.Context, t models.Tick) error {
	start := time.Now()
	if err := t.Validate(); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	if p.limiter != nil && !p.limiter.Allow(t.Instrument) {
		p.metrics.RecordError("pipeline_throttle")
		return fmt.Errorf("%s: %w", t.Instrument, ErrThrottled)
	}

	if err := p.proc.Process(ctx, t); err != nil {
		p.metrics.RecordError("pipeline_process")
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
	return nil
}
