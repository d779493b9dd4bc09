package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vietddude/failover/internal/core/clock"
	"github.com/vietddude/failover/internal/core/domain"
	"github.com/vietddude/failover/internal/infra/resilience"
	"github.com/vietddude/failover/internal/infra/resilience/breaker"
	"github.com/vietddude/failover/internal/infra/resilience/ratelimit"
	"github.com/vietddude/failover/internal/infra/resilience/retry"
)

type scriptedProvider struct {
	name  string
	errs  []error
	calls int
	delay time.Duration
}

func (p *scriptedProvider) Name() string                      { return p.name }
func (p *scriptedProvider) Capabilities() domain.Capabilities { return domain.Capabilities{} }

func (p *scriptedProvider) GenerateVideo(ctx context.Context, script string, opts domain.VideoOptions) (*domain.VideoResult, error) {
	p.calls++
	if p.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.delay):
		}
	}
	if p.calls <= len(p.errs) {
		return nil, p.errs[p.calls-1]
	}
	return &domain.VideoResult{ProviderID: p.name, VideoURL: "https://cdn/ok.mp4"}, nil
}

func testResiliencePreset() resilience.Preset {
	return resilience.Preset{
		Retry: retry.Config{
			MaxAttempts:         3,
			InitialDelay:        time.Second,
			MaxDelay:            5 * time.Second,
			RetryableErrorCodes: []string{"RATE_LIMIT_EXCEEDED", "TIMEOUT"},
		},
		Circuit:   breaker.Config{FailureThreshold: 1, MinimumRequestCount: 1, FailureWindow: time.Minute, ResetTimeout: time.Minute},
		RateLimit: ratelimit.Config{MaxRequests: 10, Window: time.Minute},
	}
}

func TestResilient_RetriesRetryableProviderErrors(t *testing.T) {
	clk := clock.NewFake(time.Now())
	svc := resilience.NewService(resilience.WithClock(clk), resilience.WithRand(func() float64 { return 0 }))

	inner := &scriptedProvider{name: "heygen", errs: []error{
		&Error{Provider: "heygen", ErrCode: CodeRateLimitExceeded, Status: 429},
	}}
	r := NewResilient(inner, svc, testResiliencePreset(), 0, NewMonitor(clk))

	res, err := r.GenerateVideo(context.Background(), "s", domain.VideoOptions{})
	if err != nil {
		t.Fatalf("expected success after retry, got %v", err)
	}
	if res.ProviderID != "heygen" || inner.calls != 2 {
		t.Errorf("unexpected result %+v after %d calls", res, inner.calls)
	}
	if r.Health().RequestsLast1h != 2 {
		t.Errorf("monitor should see both attempts, got %d", r.Health().RequestsLast1h)
	}
}

func TestResilient_NonRetryableOpensCircuit(t *testing.T) {
	clk := clock.NewFake(time.Now())
	svc := resilience.NewService(resilience.WithClock(clk))

	inner := &scriptedProvider{name: "did", errs: []error{
		NewError("did", CodeAuthentication, "bad key"),
	}}
	r := NewResilient(inner, svc, testResiliencePreset(), 0, nil)

	_, err := r.GenerateVideo(context.Background(), "s", domain.VideoOptions{})
	var perr *Error
	if !errors.As(err, &perr) || perr.ErrCode != CodeAuthentication {
		t.Fatalf("expected auth error to surface, got %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("auth errors must not be retried, got %d calls", inner.calls)
	}
	if !svc.IsCircuitOpen("did") {
		t.Errorf("breaker keyed by provider name should be open")
	}

	_, err = r.GenerateVideo(context.Background(), "s", domain.VideoOptions{})
	if !errors.Is(err, breaker.ErrCircuitOpen) {
		t.Errorf("expected circuit open, got %v", err)
	}
}

func TestResilient_Timeout(t *testing.T) {
	svc := resilience.NewService()
	preset := testResiliencePreset()
	preset.Retry.MaxAttempts = 1

	inner := &scriptedProvider{name: "slow", delay: time.Second}
	r := NewResilient(inner, svc, preset, 20*time.Millisecond, nil)

	_, err := r.GenerateVideo(context.Background(), "s", domain.VideoOptions{})
	var te *resilience.TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected timeout error, got %v", err)
	}
}
