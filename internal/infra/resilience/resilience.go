// Package resilience composes rate limiting, circuit breaking and retry
// around a single logical key.
//
// This package contains:
//   - Service: keyed registries and the WithFullResilience entry point
//   - WithTimeout: a cancellable race between an operation and a deadline
//   - Preset: named bundles of retry, circuit and rate-limit settings
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/failover/internal/core/clock"
	"github.com/vietddude/failover/internal/infra/resilience/breaker"
	"github.com/vietddude/failover/internal/infra/resilience/ratelimit"
	"github.com/vietddude/failover/internal/infra/resilience/retry"
	"github.com/vietddude/failover/internal/metrics"
)

// Operation is the protected call.
type Operation func(ctx context.Context) (any, error)

// Options configure one WithFullResilience call. Nil configs fall back to
// the default preset. The first call for a Name fixes the breaker and
// limiter configs for that key.
type Options struct {
	Name      string
	Retry     *retry.Config
	Circuit   *breaker.Config
	RateLimit *ratelimit.Config
	Fallback  breaker.Fallback
}

// OptionsFromPreset builds Options for name from a preset bundle.
func OptionsFromPreset(name string, p Preset) Options {
	return Options{
		Name:      name,
		Retry:     &p.Retry,
		Circuit:   &p.Circuit,
		RateLimit: &p.RateLimit,
	}
}

// TimeoutError is returned by WithTimeout when the deadline fires first.
type TimeoutError struct {
	Name  string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("operation timed out after %s", e.After)
	}
	return fmt.Sprintf("operation %s timed out after %s", e.Name, e.After)
}

// Timeout marks the error as a timeout for classifiers.
func (e *TimeoutError) Timeout() bool { return true }

// Is matches context.DeadlineExceeded.
func (e *TimeoutError) Is(target error) bool { return target == context.DeadlineExceeded }

// Metrics is a snapshot of every registered breaker and limiter.
type Metrics struct {
	CircuitBreakers map[string]breaker.Snapshot   `json:"circuit_breakers"`
	RateLimiters    map[string]ratelimit.Snapshot `json:"rate_limiters"`
}

// Service holds the keyed breakers and limiters. It is safe for concurrent
// use; callers on different keys never contend on the same lock.
type Service struct {
	breakers *breaker.Registry
	limiters *ratelimit.Registry
	retrier  *retry.Executor
	defaults Preset
	logger   *slog.Logger
}

// Option customises a Service.
type Option func(*serviceOptions)

type serviceOptions struct {
	clock    clock.Clock
	rand     func() float64
	logger   *slog.Logger
	defaults Preset
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(o *serviceOptions) { o.clock = c }
}

// WithRand sets the jitter source.
func WithRand(r func() float64) Option {
	return func(o *serviceOptions) { o.rand = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *serviceOptions) { o.logger = l }
}

// WithDefaults sets the bundle used for nil configs.
func WithDefaults(p Preset) Option {
	return func(o *serviceOptions) { o.defaults = p }
}

// NewService creates a Service.
func NewService(opts ...Option) *Service {
	o := serviceOptions{
		clock:    clock.Real{},
		logger:   slog.Default(),
		defaults: DefaultPreset(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Service{
		breakers: breaker.NewRegistry(o.clock, o.logger),
		limiters: ratelimit.NewRegistry(o.clock),
		retrier:  retry.NewExecutor(o.clock, o.rand, o.logger),
		defaults: o.defaults,
		logger:   o.logger,
	}
}

// WithFullResilience runs op as RateLimiter(CircuitBreaker(Retry(op))) under
// opts.Name.
func (s *Service) WithFullResilience(ctx context.Context, op Operation, opts Options) (any, error) {
	if opts.Name == "" {
		return nil, errors.New("resilience: options name is required")
	}

	retryCfg := s.defaults.Retry
	if opts.Retry != nil {
		retryCfg = *opts.Retry
	}
	circuitCfg := s.defaults.Circuit
	if opts.Circuit != nil {
		circuitCfg = *opts.Circuit
	}
	limitCfg := s.defaults.RateLimit
	if opts.RateLimit != nil {
		limitCfg = *opts.RateLimit
	}

	limiter := s.limiters.Get(opts.Name, limitCfg)
	cb := s.breakers.Get(opts.Name, circuitCfg)

	return limiter.Execute(ctx, func(ctx context.Context) (any, error) {
		return cb.Execute(ctx, func(ctx context.Context) (any, error) {
			return s.retrier.Do(ctx, opts.Name, retry.Operation(op), retryCfg)
		}, opts.Fallback)
	})
}

// WithRetry runs op under cfg only.
func (s *Service) WithRetry(ctx context.Context, name string, op Operation, cfg retry.Config) (any, error) {
	return s.retrier.Do(ctx, name, retry.Operation(op), cfg)
}

// WithTimeout races op against d. The derived context is cancelled as soon
// as either side settles; a result arriving after the deadline is dropped.
func (s *Service) WithTimeout(ctx context.Context, name string, op Operation, d time.Duration) (any, error) {
	return WithTimeout(ctx, name, op, d)
}

// WithTimeout is the stateless form of Service.WithTimeout.
func WithTimeout(ctx context.Context, name string, op Operation, d time.Duration) (any, error) {
	if d <= 0 {
		return op(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		v, err := op(ctx)
		done <- outcome{v, err}
	}()

	select {
	case o := <-done:
		return o.value, o.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			metrics.TimeoutsTotal.WithLabelValues(name).Inc()
			return nil, &TimeoutError{Name: name, After: d}
		}
		return nil, ctx.Err()
	}
}

// IsCircuitOpen reports whether the breaker for key would reject a call now.
// Keys that were never used are closed.
func (s *Service) IsCircuitOpen(key string) bool {
	b, ok := s.breakers.Lookup(key)
	return ok && b.IsOpen()
}

// ResetCircuit closes the breaker for key.
func (s *Service) ResetCircuit(key string) bool {
	b, ok := s.breakers.Lookup(key)
	if ok {
		b.Reset()
	}
	return ok
}

// GetMetrics returns a snapshot of all breakers and limiters.
func (s *Service) GetMetrics() Metrics {
	return Metrics{
		CircuitBreakers: s.breakers.Snapshots(),
		RateLimiters:    s.limiters.Snapshots(),
	}
}
