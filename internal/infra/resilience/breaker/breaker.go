// Package breaker implements a keyed circuit breaker.
//
// Windowing: the breaker keeps the timestamps of admitted requests and of
// consecutive failures, and drops those older than FailureWindow before every
// decision. The circuit opens on a failure when both counts, taken over the
// trailing FailureWindow, reach their thresholds. A zero FailureWindow uses
// the default window.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/failover/internal/core/clock"
	"github.com/vietddude/failover/internal/metrics"
)

// ErrCircuitOpen is returned when the breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker state.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

func (s State) gauge() float64 {
	switch s {
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	default:
		return 0
	}
}

// Config holds breaker thresholds.
type Config struct {
	FailureThreshold    int           `yaml:"failure_threshold"     json:"failure_threshold"`
	ResetTimeout        time.Duration `yaml:"reset_timeout"         json:"reset_timeout"`
	FailureWindow       time.Duration `yaml:"failure_window"        json:"failure_window"`
	MinimumRequestCount int           `yaml:"minimum_request_count" json:"minimum_request_count"`
}

// DefaultConfig is used when no config is supplied.
var DefaultConfig = Config{
	FailureThreshold:    5,
	ResetTimeout:        60 * time.Second,
	FailureWindow:       60 * time.Second,
	MinimumRequestCount: 5,
}

// Validate checks the thresholds.
func (c Config) Validate() error {
	if c.FailureThreshold < 1 {
		return fmt.Errorf("failure threshold must be >= 1, got %d", c.FailureThreshold)
	}
	if c.ResetTimeout < 0 || c.FailureWindow < 0 {
		return fmt.Errorf("breaker durations must not be negative")
	}
	if c.MinimumRequestCount < 0 {
		return fmt.Errorf("minimum request count must not be negative")
	}
	return nil
}

// Operation is the guarded call.
type Operation func(ctx context.Context) (any, error)

// Fallback is invoked instead of the operation while the circuit is open.
type Fallback func(ctx context.Context, cause error) (any, error)

// Snapshot is a point-in-time view of a breaker.
type Snapshot struct {
	State        State     `json:"state"`
	FailureCount int       `json:"failure_count"`
	RequestCount int       `json:"request_count"`
	LastFailure  time.Time `json:"last_failure,omitzero"`
	Rejections   int64     `json:"rejections"`
}

// Breaker guards a single key.
type Breaker struct {
	name   string
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger

	mu            sync.Mutex
	state         State
	failures      []time.Time
	requests      []time.Time
	lastFailure   time.Time
	trialInFlight bool
	rejections    int64
}

// New creates a closed breaker.
func New(name string, cfg Config, clk clock.Clock, logger *slog.Logger) *Breaker {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	metrics.CircuitState.WithLabelValues(name).Set(StateClosed.gauge())
	return &Breaker{
		name:   name,
		cfg:    cfg,
		clock:  clk,
		logger: logger,
		state:  StateClosed,
	}
}

// Execute runs op if the circuit admits it. While open, fallback is called
// when present, otherwise ErrCircuitOpen is returned.
func (b *Breaker) Execute(ctx context.Context, op Operation, fallback Fallback) (any, error) {
	trial, err := b.allow()
	if err != nil {
		metrics.CircuitRejectionsTotal.WithLabelValues(b.name).Inc()
		if fallback != nil {
			return fallback(ctx, err)
		}
		return nil, fmt.Errorf("%s: %w", b.name, err)
	}

	result, err := op(ctx)
	switch {
	case err == nil:
		b.onSuccess()
	case errors.Is(err, context.Canceled):
		// The caller gave up; this says nothing about the resource.
		b.release(trial)
	default:
		b.onFailure()
	}
	return result, err
}

// State returns the current state. OPEN only moves to HALF_OPEN when the
// next call is admitted.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// IsOpen reports whether a call made now would be rejected.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		return b.clock.Now().Sub(b.lastFailure) <= b.cfg.ResetTimeout
	case StateHalfOpen:
		return b.trialInFlight
	default:
		return false
	}
}

// Snapshot returns the current counters.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.purge(b.clock.Now())
	return Snapshot{
		State:        b.state,
		FailureCount: len(b.failures),
		RequestCount: len(b.requests),
		LastFailure:  b.lastFailure,
		Rejections:   b.rejections,
	}
}

// Reset forces the breaker closed and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = nil
	b.requests = nil
	b.trialInFlight = false
	b.transition(StateClosed)
}

// allow decides admission. It returns trial=true when the call is the
// single HALF_OPEN trial.
func (b *Breaker) allow() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	switch b.state {
	case StateOpen:
		if now.Sub(b.lastFailure) <= b.cfg.ResetTimeout {
			b.rejections++
			return false, ErrCircuitOpen
		}
		b.transition(StateHalfOpen)
		b.trialInFlight = true
		return true, nil

	case StateHalfOpen:
		if b.trialInFlight {
			b.rejections++
			return false, ErrCircuitOpen
		}
		b.trialInFlight = true
		return true, nil

	default:
		b.purge(now)
		b.requests = append(b.requests, now)
		return false, nil
	}
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = b.failures[:0]
	if b.state == StateHalfOpen {
		b.trialInFlight = false
		b.requests = b.requests[:0]
		b.transition(StateClosed)
	}
}

func (b *Breaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	b.lastFailure = now

	switch b.state {
	case StateHalfOpen:
		b.trialInFlight = false
		b.transition(StateOpen)
	case StateClosed:
		b.purge(now)
		b.failures = append(b.failures, now)
		if len(b.requests) >= b.cfg.MinimumRequestCount && len(b.failures) >= b.cfg.FailureThreshold {
			b.transition(StateOpen)
		}
	}
}

// purge drops requests and failures older than the failure window. Caller holds mu.
func (b *Breaker) purge(now time.Time) {
	window := b.cfg.FailureWindow
	if window <= 0 {
		window = DefaultConfig.FailureWindow
	}
	b.requests = dropBefore(b.requests, now, window)
	b.failures = dropBefore(b.failures, now, window)
}

func dropBefore(ts []time.Time, now time.Time, window time.Duration) []time.Time {
	cut := 0
	for cut < len(ts) && now.Sub(ts[cut]) >= window {
		cut++
	}
	if cut == 0 {
		return ts
	}
	return append(ts[:0], ts[cut:]...)
}

func (b *Breaker) release(trial bool) {
	if !trial {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trialInFlight = false
}

// transition changes state. Caller holds mu.
func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to

	metrics.CircuitState.WithLabelValues(b.name).Set(to.gauge())
	metrics.CircuitTransitionsTotal.WithLabelValues(b.name, string(to)).Inc()

	if to == StateOpen {
		b.logger.Warn("Circuit opened",
			"name", b.name,
			"from", from,
			"failures", len(b.failures),
			"requests", len(b.requests),
		)
		return
	}
	b.logger.Info("Circuit state changed", "name", b.name, "from", from, "to", to)
}

// Registry holds one breaker per key, created on first use.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	clock    clock.Clock
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(clk clock.Clock, logger *slog.Logger) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		clock:    clk,
		logger:   logger,
	}
}

// Get returns the breaker for key, creating it with cfg if absent.
func (r *Registry) Get(key string, cfg Config) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[key]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[key]; ok {
		return b
	}
	b = New(key, cfg, r.clock, r.logger)
	r.breakers[key] = b
	return b
}

// Lookup returns the breaker for key without creating it.
func (r *Registry) Lookup(key string) (*Breaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.breakers[key]
	return b, ok
}

// Snapshots returns a snapshot of every registered breaker.
func (r *Registry) Snapshots() map[string]Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Snapshot, len(r.breakers))
	for key, b := range r.breakers {
		out[key] = b.Snapshot()
	}
	return out
}
