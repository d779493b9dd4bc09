package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/vietddude/failover/internal/core/domain"
	"github.com/vietddude/failover/internal/infra/resilience"
	"github.com/vietddude/failover/internal/metrics"
)

// Resilient runs every call of the wrapped provider through the resilience
// service under the provider's name, with a per-attempt timeout.
type Resilient struct {
	inner   Provider
	svc     *resilience.Service
	preset  resilience.Preset
	timeout time.Duration
	monitor *Monitor
}

// NewResilient wraps p. A zero timeout disables the per-attempt timeout.
func NewResilient(
	p Provider,
	svc *resilience.Service,
	preset resilience.Preset,
	timeout time.Duration,
	monitor *Monitor,
) *Resilient {
	if monitor == nil {
		monitor = NewMonitor(nil)
	}
	return &Resilient{
		inner:   p,
		svc:     svc,
		preset:  preset,
		timeout: timeout,
		monitor: monitor,
	}
}

// Name returns the wrapped provider's name.
func (r *Resilient) Name() string { return r.inner.Name() }

// Capabilities returns the wrapped provider's capabilities.
func (r *Resilient) Capabilities() domain.Capabilities { return r.inner.Capabilities() }

// Health returns the monitor statistics.
func (r *Resilient) Health() Stats { return r.monitor.Stats() }

// Monitor returns the health monitor.
func (r *Resilient) Monitor() *Monitor { return r.monitor }

// Unwrap returns the wrapped provider.
func (r *Resilient) Unwrap() Provider { return r.inner }

// GenerateVideo calls the wrapped provider with rate limiting, circuit
// breaking, retry and timeout.
func (r *Resilient) GenerateVideo(
	ctx context.Context,
	script string,
	opts domain.VideoOptions,
) (*domain.VideoResult, error) {
	name := r.inner.Name()

	v, err := r.svc.WithFullResilience(ctx, func(ctx context.Context) (any, error) {
		start := time.Now()
		v, err := resilience.WithTimeout(ctx, name, func(ctx context.Context) (any, error) {
			return r.inner.GenerateVideo(ctx, script, opts)
		}, r.timeout)

		metrics.ProviderLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.ProviderCallsTotal.WithLabelValues(name, "error").Inc()
			r.monitor.RecordFailure(err)
			return nil, err
		}
		metrics.ProviderCallsTotal.WithLabelValues(name, "success").Inc()
		r.monitor.RecordSuccess(time.Since(start))
		return v, nil
	}, resilience.OptionsFromPreset(name, r.preset))
	if err != nil {
		return nil, err
	}

	result, ok := v.(*domain.VideoResult)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected result type %T", name, v)
	}
	return result, nil
}
