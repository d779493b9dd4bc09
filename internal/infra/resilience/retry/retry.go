// Package retry runs an operation under a bounded retry policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/vietddude/failover/internal/core/clock"
	"github.com/vietddude/failover/internal/infra/resilience/backoff"
	"github.com/vietddude/failover/internal/metrics"
)

// Config defines retry behavior.
type Config struct {
	MaxAttempts          int           `yaml:"max_attempts"           json:"max_attempts"`
	InitialDelay         time.Duration `yaml:"initial_delay"          json:"initial_delay"`
	MaxDelay             time.Duration `yaml:"max_delay"              json:"max_delay"`
	BackoffMultiplier    float64       `yaml:"backoff_multiplier"     json:"backoff_multiplier"`
	JitterFactor         float64       `yaml:"jitter_factor"          json:"jitter_factor"`
	RetryableStatusCodes []int         `yaml:"retryable_status_codes" json:"retryable_status_codes"`
	RetryableErrorCodes  []string      `yaml:"retryable_error_codes"  json:"retryable_error_codes"`
}

// DefaultRetryableStatusCodes are retried when a config lists none.
var DefaultRetryableStatusCodes = []int{429, 500, 502, 503, 504}

// DefaultRetryableErrorCodes are the transient network codes retried by default.
var DefaultRetryableErrorCodes = []string{
	"ECONNRESET",
	"ETIMEDOUT",
	"ECONNREFUSED",
	"EPIPE",
	"ENOTFOUND",
	"EAI_AGAIN",
}

// DefaultConfig provides sensible defaults.
var DefaultConfig = Config{
	MaxAttempts:          3,
	InitialDelay:         1 * time.Second,
	MaxDelay:             30 * time.Second,
	BackoffMultiplier:    2.0,
	JitterFactor:         0.1,
	RetryableStatusCodes: DefaultRetryableStatusCodes,
	RetryableErrorCodes:  DefaultRetryableErrorCodes,
}

// Validate checks the config.
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be >= 1, got %d", c.MaxAttempts)
	}
	return c.backoff().Validate()
}

func (c Config) backoff() backoff.Config {
	return backoff.Config{
		Strategy:     backoff.Exponential,
		BaseDelay:    c.InitialDelay,
		MaxDelay:     c.MaxDelay,
		Multiplier:   c.BackoffMultiplier,
		JitterFactor: c.JitterFactor,
	}
}

func (c Config) statusCodes() []int {
	if len(c.RetryableStatusCodes) == 0 {
		return DefaultRetryableStatusCodes
	}
	return c.RetryableStatusCodes
}

func (c Config) errorCodes() []string {
	if len(c.RetryableErrorCodes) == 0 {
		return DefaultRetryableErrorCodes
	}
	return c.RetryableErrorCodes
}

// Error is the final error of an operation that did not succeed.
type Error struct {
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Operation is the retried call.
type Operation func(ctx context.Context) (any, error)

// Executor runs operations with retry.
type Executor struct {
	clock  clock.Clock
	calc   *backoff.Calculator
	logger *slog.Logger
}

// NewExecutor creates an executor. rand may be nil.
func NewExecutor(clk clock.Clock, rand func() float64, logger *slog.Logger) *Executor {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		clock:  clk,
		calc:   backoff.NewCalculator(rand),
		logger: logger,
	}
}

// Do runs op up to cfg.MaxAttempts times. The last error is returned wrapped
// in *Error once the error is not retryable or attempts are exhausted.
func (e *Executor) Do(ctx context.Context, name string, op Operation, cfg Config) (any, error) {
	maxAttempts := max(cfg.MaxAttempts, 1)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			metrics.RetryExhaustedTotal.WithLabelValues(name, "cancelled").Inc()
			return nil, &Error{Attempts: attempt, Err: err}
		}
		if !IsRetryable(err, cfg) {
			metrics.RetryExhaustedTotal.WithLabelValues(name, "non_retryable").Inc()
			return nil, &Error{Attempts: attempt, Err: err}
		}
		if attempt == maxAttempts {
			break
		}

		delay := e.calc.Next(cfg.backoff(), attempt)
		if hint := retryDelayHint(err); hint > delay {
			delay = hint
			if cfg.MaxDelay > 0 {
				delay = min(delay, cfg.MaxDelay)
			}
		}

		e.logger.Warn("Retrying operation",
			"operation", name,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"delay", delay,
			"error", err,
		)
		metrics.RetryAttemptsTotal.WithLabelValues(name).Inc()

		if err := e.clock.Sleep(ctx, delay); err != nil {
			metrics.RetryExhaustedTotal.WithLabelValues(name, "cancelled").Inc()
			return nil, &Error{Attempts: attempt, Err: errors.Join(lastErr, err)}
		}
	}

	metrics.RetryExhaustedTotal.WithLabelValues(name, "exhausted").Inc()
	return nil, &Error{Attempts: maxAttempts, Err: lastErr}
}

// Do runs op with a default executor.
func Do(ctx context.Context, name string, op Operation, cfg Config) (any, error) {
	return NewExecutor(nil, nil, nil).Do(ctx, name, op, cfg)
}

// IsRetryable reports whether err may succeed on a later attempt according
// to the status codes, error codes and message patterns of cfg.
func IsRetryable(err error, cfg Config) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	if status, ok := StatusCode(err); ok {
		return slices.Contains(cfg.statusCodes(), status)
	}

	if code := ErrorCode(err); code != "" {
		return slices.Contains(cfg.errorCodes(), code)
	}

	return matchesTransientPattern(err.Error())
}

func retryDelayHint(err error) time.Duration {
	var h interface{ RetryDelay() time.Duration }
	if errors.As(err, &h) {
		return h.RetryDelay()
	}
	return 0
}
