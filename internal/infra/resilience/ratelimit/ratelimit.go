// Package ratelimit implements sliding-window admission control.
//
// A Limiter never rejects a caller: it delays admission until the oldest
// timestamp in the window expires. The only error it returns is the
// caller's context error.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/failover/internal/core/clock"
	"github.com/vietddude/failover/internal/metrics"
)

// Config holds the quota for one key.
type Config struct {
	MaxRequests int           `yaml:"max_requests" json:"max_requests"` // 0 = unlimited
	Window      time.Duration `yaml:"window"       json:"window"`
	Delay       time.Duration `yaml:"delay"        json:"delay"` // fixed pause after admission
}

// Operation is the unit of work admitted by the limiter.
type Operation func(ctx context.Context) (any, error)

// Snapshot is a point-in-time view of a limiter.
type Snapshot struct {
	MaxRequests   int           `json:"max_requests"`
	Window        time.Duration `json:"window"`
	InWindow      int           `json:"in_window"`
	TotalAdmitted int64         `json:"total_admitted"`
	TotalDelayed  int64         `json:"total_delayed"`
}

// Limiter is a sliding-window limiter for a single key.
type Limiter struct {
	name  string
	cfg   Config
	clock clock.Clock

	mu         sync.Mutex
	timestamps []time.Time
	admitted   int64
	delayed    int64
}

// New creates a limiter.
func New(name string, cfg Config, clk clock.Clock) *Limiter {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Limiter{
		name:       name,
		cfg:        cfg,
		clock:      clk,
		timestamps: make([]time.Time, 0, max(cfg.MaxRequests, 0)),
	}
}

// Wait blocks until the caller is admitted. The check and the recording of
// the new timestamp happen under one lock, so two callers can never both
// take the last slot.
func (l *Limiter) Wait(ctx context.Context) error {
	var waited time.Duration

	for l.cfg.MaxRequests > 0 && l.cfg.Window > 0 {
		l.mu.Lock()
		now := l.clock.Now()
		l.purge(now)

		if len(l.timestamps) < l.cfg.MaxRequests {
			l.timestamps = append(l.timestamps, now)
			l.admitted++
			l.mu.Unlock()
			break
		}

		wait := l.cfg.Window - now.Sub(l.timestamps[0])
		if waited == 0 {
			l.delayed++
		}
		l.mu.Unlock()

		slog.Debug("Rate limit reached, waiting for slot",
			"name", l.name,
			"wait", wait,
			"max_requests", l.cfg.MaxRequests,
		)
		if err := l.clock.Sleep(ctx, wait); err != nil {
			return err
		}
		waited += wait
	}

	if l.cfg.MaxRequests <= 0 || l.cfg.Window <= 0 {
		l.mu.Lock()
		l.admitted++
		l.mu.Unlock()
	}

	if waited > 0 {
		metrics.RateLimitWaitSeconds.WithLabelValues(l.name).Observe(waited.Seconds())
	}

	if l.cfg.Delay > 0 {
		return l.clock.Sleep(ctx, l.cfg.Delay)
	}
	return nil
}

// Execute waits for admission and then runs op.
func (l *Limiter) Execute(ctx context.Context, op Operation) (any, error) {
	if err := l.Wait(ctx); err != nil {
		return nil, err
	}
	return op(ctx)
}

// Snapshot returns the current limiter state.
func (l *Limiter) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.purge(l.clock.Now())
	return Snapshot{
		MaxRequests:   l.cfg.MaxRequests,
		Window:        l.cfg.Window,
		InWindow:      len(l.timestamps),
		TotalAdmitted: l.admitted,
		TotalDelayed:  l.delayed,
	}
}

// purge drops timestamps that have left the window. Caller holds mu.
func (l *Limiter) purge(now time.Time) {
	cut := 0
	for cut < len(l.timestamps) && now.Sub(l.timestamps[cut]) >= l.cfg.Window {
		cut++
	}
	if cut > 0 {
		l.timestamps = append(l.timestamps[:0], l.timestamps[cut:]...)
	}
}

// Registry holds one limiter per key, created on first use.
type Registry struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
	clock    clock.Clock
}

// NewRegistry creates an empty registry.
func NewRegistry(clk clock.Clock) *Registry {
	return &Registry{
		limiters: make(map[string]*Limiter),
		clock:    clk,
	}
}

// Get returns the limiter for key, creating it with cfg if absent.
// The config of an existing limiter is not changed.
func (r *Registry) Get(key string, cfg Config) *Limiter {
	r.mu.RLock()
	l, ok := r.limiters[key]
	r.mu.RUnlock()
	if ok {
		return l
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiters[key]; ok {
		return l
	}
	l = New(key, cfg, r.clock)
	r.limiters[key] = l
	return l
}

// Snapshots returns a snapshot of every registered limiter.
func (r *Registry) Snapshots() map[string]Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Snapshot, len(r.limiters))
	for key, l := range r.limiters {
		out[key] = l.Snapshot()
	}
	return out
}
