package breaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

// Breaker wraps a gobreaker circuit with bounded retries.
type Breaker struct {
	cb         *gobreaker.CircuitBreaker
	retries    int
	backoffMin time.Duration
	backoffMax time.Duration
}

// Option configures Breaker.
type Option func(*Breaker, *gobreaker.Settings)

// WithRetries sets the attempt count and backoff range used by Do.
func WithRetries(n int, min, max time.Duration) Option {
	return func(b *Breaker, _ *gobreaker.Settings) {
		b.retries = n
		b.backoffMin = min
		b.backoffMax = max
	}
}

// WithOpenTimeout sets how long the circuit stays open before a probe.
func WithOpenTimeout(d time.Duration) Option {
	return func(_ *Breaker, st *gobreaker.Settings) {
		st.Timeout = d
	}
}

// WithStateChange registers a callback for state transitions.
func WithStateChange(fn func(name string, from, to gobreaker.State)) Option {
	return func(_ *Breaker, st *gobreaker.Settings) {
		st.OnStateChange = fn
	}
}

// New creates a breaker that trips after 3 consecutive failures or a 5%
// failure ratio over at least 20 requests.
func New(name string, opts ...Option) *Breaker {
	st := gobreaker.Settings{
		Name:     name,
		Interval: 60 * time.Second,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= 3 {
				return true
			}
			if counts.Requests < 20 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) > 0.05
		},
	}
	b := &Breaker{retries: 1, backoffMin: 50 * time.Millisecond, backoffMax: time.Second}
	for _, opt := range opts {
		opt(b, &st)
	}
	b.cb = gobreaker.NewCircuitBreaker(st)
	return b
}

// State returns the current circuit state.
func (b *Breaker) State() gobreaker.State { return b.cb.State() }

// Do runs fn through the circuit, retrying failed attempts with exponential
// backoff. An open circuit fails fast without further retries.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	var err error
	for attempt := 1; attempt <= b.retries; attempt++ {
		_, err = b.cb.Execute(func() (interface{}, error) {
			return nil, fn(ctx)
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("circuit %s: %w", b.cb.Name(), err)
		}
		if attempt == b.retries {
			break
		}
		delay := b.backoffMin << uint(attempt-1)
		if delay > b.backoffMax || delay <= 0 {
			delay = b.backoffMax
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("after %d attempts: %w", b.retries, err)
}
