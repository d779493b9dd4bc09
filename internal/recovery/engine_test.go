package recovery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/vietddude/failover/internal/core/clock"
	"github.com/vietddude/failover/internal/core/domain"
	"github.com/vietddude/failover/internal/infra/provider"
	"github.com/vietddude/failover/internal/infra/routing"
	"github.com/vietddude/failover/internal/infra/storage/memory"
)

// MockProvider fails with errs in order, then succeeds.
type MockProvider struct {
	name      string
	caps      domain.Capabilities
	errs      []error
	alwaysErr error
	calls     []domain.VideoOptions
}

func (m *MockProvider) Name() string                      { return m.name }
func (m *MockProvider) Capabilities() domain.Capabilities { return m.caps }

func (m *MockProvider) GenerateVideo(ctx context.Context, script string, opts domain.VideoOptions) (*domain.VideoResult, error) {
	m.calls = append(m.calls, opts)
	if m.alwaysErr != nil {
		return nil, m.alwaysErr
	}
	if n := len(m.calls); n <= len(m.errs) {
		return nil, m.errs[n-1]
	}
	return &domain.VideoResult{ProviderID: m.name, VideoURL: "https://cdn/" + m.name + ".mp4"}, nil
}

type openCircuits map[string]bool

func (o openCircuits) IsCircuitOpen(key string) bool { return o[key] }

type failingSelector struct{ err error }

func (f failingSelector) SelectOptimalProvider(domain.SelectionCriteria) (*routing.Selection, error) {
	return nil, f.err
}
func (f failingSelector) GetAllProviders() []provider.Provider { return nil }
func (f failingSelector) GetProvider(string) provider.Provider { return nil }

type failingLogStore struct{ *memory.LogRepo }

func (failingLogStore) Append(context.Context, *domain.RecoveryLog) error {
	return errors.New("log store down")
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestEngine(sel ProviderSelector, clk clock.Clock, opts ...Option) *Engine {
	base := []Option{
		WithClock(clk),
		WithRand(func() float64 { return 0 }),
		WithLogger(quietLogger()),
	}
	return NewEngine(sel, append(base, opts...)...)
}

func TestEngine_QualityFailureSwitchesProvider(t *testing.T) {
	clk := clock.NewFake(time.Now())
	quality := provider.NewError("A", provider.CodeQualityCheckFailed, "lip sync drift")

	a := &MockProvider{name: "A", alwaysErr: quality}
	b := &MockProvider{name: "B"}
	sel := routing.NewSelector(nil, routing.StrategyPriority)
	sel.AddProvider(a, 10)
	sel.AddProvider(b, 5)

	logs := memory.NewLogRepo(memory.NewMemoryStorage())
	// An open circuit on A must not matter: quality failures skip the check.
	e := newTestEngine(sel, clk, WithLogStore(logs), WithCircuits(openCircuits{"A": true}))

	res := e.Generate(context.Background(), &domain.RecoveryContext{ProviderID: "A", Script: "hi"})

	if !res.Success {
		t.Fatalf("expected success, got %+v", res.FinalError)
	}
	if res.Action != domain.ActionSwitchProvider {
		t.Errorf("action = %s, want switch_provider", res.Action)
	}
	if res.ProviderID != "B" {
		t.Errorf("provider = %s, want B", res.ProviderID)
	}
	if res.AttemptsUsed != 3 {
		t.Errorf("attemptsUsed = %d, want 3", res.AttemptsUsed)
	}
	if len(a.calls) != 2 || len(b.calls) != 1 {
		t.Errorf("calls A=%d B=%d, want 2 and 1", len(a.calls), len(b.calls))
	}
	if len(res.ErrorHistory) != 2 {
		t.Fatalf("expected 2 error records, got %d", len(res.ErrorHistory))
	}
	for _, rec := range res.ErrorHistory {
		if rec.Category != domain.CategoryQualityFailure || rec.ProviderID != "A" {
			t.Errorf("unexpected record %+v", rec)
		}
	}
	if got := clk.Sleeps(); len(got) != 1 || got[0] != 5*time.Second {
		t.Errorf("expected one fixed 5s backoff, got %v", got)
	}

	stored, _ := logs.ListBetween(context.Background(), time.Time{}, clk.Now())
	if len(stored) != 1 || !stored[0].ProviderSwitched() || stored[0].OriginalProviderID != "A" {
		t.Fatalf("expected one switched recovery log, got %+v", stored)
	}

	res.ErrorHistory[0].Message = "rewritten"
	stored, _ = logs.ListBetween(context.Background(), time.Time{}, clk.Now())
	if stored[0].Errors[0].Message == "rewritten" {
		t.Errorf("editing the result changed the stored error history")
	}
}

func TestEngine_AllProvidersFailUnderDegradation(t *testing.T) {
	clk := clock.NewFake(time.Now())
	overload := func(name string) error {
		return provider.NewError(name, provider.CodeProviderUnavailable, "at capacity")
	}

	a := &MockProvider{name: "A", alwaysErr: overload("A")}
	b := &MockProvider{name: "B", alwaysErr: overload("B")}
	sel := routing.NewSelector(nil, "")
	sel.AddProvider(a, 10)
	sel.AddProvider(b, 5)

	e := newTestEngine(sel, clk)
	res := e.Generate(context.Background(), &domain.RecoveryContext{
		Script:  "hi",
		Options: domain.VideoOptions{DurationSeconds: 300, Resolution: "1080p", Quality: 1, Emotion: "happy"},
	})

	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Action != domain.ActionGracefulDegradation {
		t.Errorf("action = %s, want graceful_degradation", res.Action)
	}
	if res.FinalError == nil || res.FinalError.Category != domain.CategoryProviderOverload {
		t.Fatalf("final error = %+v, want provider_overload", res.FinalError)
	}
	// A initial, B switch, then A and B degraded.
	if res.AttemptsUsed != 4 {
		t.Errorf("attemptsUsed = %d, want 4", res.AttemptsUsed)
	}

	degraded := b.calls[len(b.calls)-1]
	if degraded.Resolution != "720p" || degraded.DurationSeconds != 120 || degraded.Emotion != "" {
		t.Errorf("degraded options not applied: %+v", degraded)
	}
	if degraded.Quality < 0.6 {
		t.Errorf("quality %v below provider_overload floor", degraded.Quality)
	}
	if len(clk.Sleeps()) != 0 {
		t.Errorf("provider overload must not back off on the same provider")
	}
}

func TestEngine_QueueForLater(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clk := clock.NewFake(start)

	a := &MockProvider{name: "A"}
	sel := routing.NewSelector(nil, "")
	sel.AddProvider(a, 1)

	queue := memory.NewQueueRepo(memory.NewMemoryStorage())
	e := newTestEngine(sel, clk, WithQueue(queue))

	rc := &domain.RecoveryContext{
		JobID:      "job-1",
		ProviderID: "A",
		Script:     "hi",
		Tier:       domain.TierPremium,
	}
	res := e.Recover(context.Background(), rc, provider.NewError("A", provider.CodeQuotaExceeded, "monthly quota"))

	if res.Success || res.Action != domain.ActionQueueForLater {
		t.Fatalf("unexpected result success=%v action=%s", res.Success, res.Action)
	}
	if len(a.calls) != 0 {
		t.Errorf("no provider call expected, got %d", len(a.calls))
	}
	if res.QueuedJobID == "" {
		t.Fatal("expected queued job id")
	}

	job := queue.Get(res.QueuedJobID)
	if job == nil {
		t.Fatal("job not persisted")
	}
	if !job.RetryAfter.Equal(start.Add(5 * time.Minute)) {
		t.Errorf("retryAfter = %v, want now+5m", job.RetryAfter)
	}
	if job.Priority != domain.TierPremium.Priority() {
		t.Errorf("priority = %d, want %d", job.Priority, domain.TierPremium.Priority())
	}
	if job.JobID != "job-1" || job.Status != domain.JobStatusPending {
		t.Errorf("unexpected job %+v", job)
	}
}

func TestEngine_ResumeDoesNotRequeue(t *testing.T) {
	clk := clock.NewFake(time.Now())
	a := &MockProvider{name: "A", alwaysErr: provider.NewError("A", provider.CodeQuotaExceeded, "still over")}
	sel := routing.NewSelector(nil, "")
	sel.AddProvider(a, 1)

	queue := memory.NewQueueRepo(memory.NewMemoryStorage())
	e := newTestEngine(sel, clk, WithQueue(queue))

	res := e.Resume(context.Background(), &domain.QueuedJob{ID: "q1", JobID: "job-1", ProviderID: "A"})
	if res.Success || res.QueuedJobID != "" {
		t.Fatalf("resumed job must fail without requeue: %+v", res)
	}
	if n, _ := queue.Count(context.Background()); n != 0 {
		t.Errorf("expected empty queue, got %d", n)
	}
}

func TestEngine_FailFast(t *testing.T) {
	clk := clock.NewFake(time.Now())
	a := &MockProvider{name: "A", alwaysErr: provider.NewError("A", provider.CodeInvalidParameters, "bad avatar")}
	b := &MockProvider{name: "B"}
	sel := routing.NewSelector(nil, "")
	sel.AddProvider(a, 10)
	sel.AddProvider(b, 1)

	res := newTestEngine(sel, clk).Generate(context.Background(), &domain.RecoveryContext{Script: "hi"})

	if res.Success || res.Action != domain.ActionFailFast {
		t.Fatalf("expected fail_fast failure, got %+v", res)
	}
	if res.FinalError.Category != domain.CategoryAPIFailure || res.FinalError.ProviderID != "A" {
		t.Errorf("unexpected final error %+v", res.FinalError)
	}
	if len(b.calls) != 0 {
		t.Errorf("fail_fast must not try other providers")
	}
}

func TestEngine_RetrySameRecovers(t *testing.T) {
	clk := clock.NewFake(time.Now())
	a := &MockProvider{name: "A", errs: []error{
		provider.NewError("A", provider.CodeNetwork, "reset"),
		provider.NewError("A", provider.CodeNetwork, "reset"),
	}}
	sel := routing.NewSelector(nil, "")
	sel.AddProvider(a, 1)

	res := newTestEngine(sel, clk).Generate(context.Background(), &domain.RecoveryContext{Script: "hi"})

	if !res.Success || res.Action != domain.ActionRetrySame || res.ProviderID != "A" {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.AttemptsUsed != 3 {
		t.Errorf("attemptsUsed = %d, want 3", res.AttemptsUsed)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	got := clk.Sleeps()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("backoff = %v, want %v", got, want)
	}
}

func TestEngine_OpenCircuitSkipsRetries(t *testing.T) {
	clk := clock.NewFake(time.Now())
	a := &MockProvider{name: "A", alwaysErr: provider.NewError("A", provider.CodeNetwork, "reset")}
	b := &MockProvider{name: "B"}
	sel := routing.NewSelector(nil, "")
	sel.AddProvider(a, 10)
	sel.AddProvider(b, 1)

	e := newTestEngine(sel, clk, WithCircuits(openCircuits{"A": true}))
	res := e.Recover(context.Background(), &domain.RecoveryContext{ProviderID: "A"}, a.alwaysErr)

	if !res.Success || res.ProviderID != "B" || res.Action != domain.ActionSwitchProvider {
		t.Fatalf("expected immediate switch to B, got %+v", res)
	}
	if len(a.calls) != 0 || len(clk.Sleeps()) != 0 {
		t.Errorf("open circuit should skip retries on A")
	}
}

func TestEngine_SelectorErrorIsSystemError(t *testing.T) {
	clk := clock.NewFake(time.Now())
	e := newTestEngine(failingSelector{err: errors.New("registry offline")}, clk)

	res := e.Recover(context.Background(), &domain.RecoveryContext{ProviderID: "A"},
		provider.NewError("A", provider.CodeRateLimitExceeded, "slow down"))

	if res.Success {
		t.Fatal("expected failure")
	}
	if res.FinalError == nil || res.FinalError.Category != domain.CategorySystemError {
		t.Errorf("expected system_error, got %+v", res.FinalError)
	}
}

func TestEngine_LogFailureIsNonFatal(t *testing.T) {
	clk := clock.NewFake(time.Now())
	sel := routing.NewSelector(nil, "")
	sel.AddProvider(&MockProvider{name: "A", errs: []error{provider.NewError("A", provider.CodeTimeout, "slow")}}, 1)

	e := newTestEngine(sel, clk, WithLogStore(failingLogStore{}))
	res := e.Generate(context.Background(), &domain.RecoveryContext{Script: "hi"})
	if !res.Success {
		t.Fatalf("log store failure must not affect outcome: %+v", res.FinalError)
	}
}

func TestEngine_Statistics(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	logs := memory.NewLogRepo(memory.NewMemoryStorage())
	ctx := context.Background()

	entries := []*domain.RecoveryLog{
		{ID: "1", OriginalProviderID: "A", FinalProviderID: "B", Category: domain.CategoryRateLimit,
			Action: domain.ActionSwitchProvider, Success: true, RecoveryTimeMs: 100, CreatedAt: clk.Now().Add(-time.Hour)},
		{ID: "2", OriginalProviderID: "A", FinalProviderID: "A", Category: domain.CategoryTimeout,
			Action: domain.ActionRetrySame, Success: false, RecoveryTimeMs: 300, CreatedAt: clk.Now().Add(-2 * time.Hour)},
		{ID: "3", OriginalProviderID: "A", FinalProviderID: "C", Category: domain.CategoryTimeout,
			Action: domain.ActionSwitchProvider, Success: true, RecoveryTimeMs: 500, CreatedAt: clk.Now().Add(-72 * time.Hour)},
	}
	for _, l := range entries {
		_ = logs.Append(ctx, l)
	}

	e := newTestEngine(routing.NewSelector(nil, ""), clk, WithLogStore(logs))

	day, err := e.GetRecoveryStatistics(ctx, "24h")
	if err != nil {
		t.Fatalf("GetRecoveryStatistics failed: %v", err)
	}
	if day.TotalRecoveries != 2 || day.SuccessRate != 0.5 || day.ProviderSwitches != 1 {
		t.Errorf("unexpected 24h stats %+v", day)
	}
	if day.AverageRecoveryTimeMs != 200 {
		t.Errorf("average = %v, want 200", day.AverageRecoveryTimeMs)
	}

	week, _ := e.GetRecoveryStatistics(ctx, "7d")
	if week.TotalRecoveries != 3 || week.ActionDistribution[domain.ActionSwitchProvider] != 2 ||
		week.CategoryDistribution[domain.CategoryTimeout] != 2 {
		t.Errorf("unexpected 7d stats %+v", week)
	}

	if _, err := e.GetRecoveryStatistics(ctx, "1y"); !errors.Is(err, ErrInvalidPeriod) {
		t.Errorf("expected ErrInvalidPeriod, got %v", err)
	}
}

func TestAlerter_FiresAtThreshold(t *testing.T) {
	a := newAlerter(time.Hour)
	now := time.Now()

	var fired int
	for i := 0; i < 5; i++ {
		if _, fire := a.record(domain.CategoryRateLimit, now.Add(time.Duration(i)*time.Minute), 3); fire {
			fired++
		}
	}
	if fired != 1 {
		t.Errorf("expected one alert, got %d", fired)
	}

	count, _ := a.record(domain.CategoryRateLimit, now.Add(2*time.Hour), 3)
	if count != 1 {
		t.Errorf("old events should leave the window, count %d", count)
	}
}

func TestDegradationPolicy(t *testing.T) {
	p := NewDegradationPolicy(nil)
	opts := domain.VideoOptions{
		DurationSeconds: 300,
		Resolution:      "1080p",
		Quality:         1,
		AvatarStyle:     "realistic",
		VoiceCloning:    true,
		Emotion:         "happy",
		Speed:           1.2,
	}

	one := p.Degrade(opts, 1)
	if one.Resolution != "720p" || one.Quality != 0.8 || one.DurationSeconds != 300 {
		t.Errorf("level 1 = %+v", one)
	}

	full := p.MaxDegrade(opts, 0)
	if full.Resolution != "480p" || full.DurationSeconds != 60 || full.VoiceCloning || full.Speed != 0 {
		t.Errorf("max degrade = %+v", full)
	}

	floored, level := p.DegradeWithin(opts, p.Levels(), 0.75)
	if level != 1 || floored.Quality != 0.8 {
		t.Errorf("quality floor 0.75 should stop at level 1, got level %d %+v", level, floored)
	}

	adjusted := AdjustForCapabilities(opts, domain.Capabilities{SpeedControl: true, MaxDurationSeconds: 180})
	if adjusted.VoiceCloning || adjusted.Emotion != "" || adjusted.Speed != 1.2 || adjusted.DurationSeconds != 180 {
		t.Errorf("capability adjustment = %+v", adjusted)
	}
}

func TestEngine_RateLimitBacksOffThenSwitches(t *testing.T) {
	tests := []struct {
		name string
		hint time.Duration
		want time.Duration
	}{
		{"linear backoff without hint", 0, time.Minute},
		{"hint above backoff", 90 * time.Second, 90 * time.Second},
		{"hint capped at max delay", 10 * time.Minute, 5 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := clock.NewFake(time.Now())
			limited := provider.NewError("A", provider.CodeRateLimitExceeded, "slow down")
			limited.RetryAfter = tt.hint

			a := &MockProvider{name: "A", alwaysErr: limited}
			b := &MockProvider{name: "B"}
			sel := routing.NewSelector(nil, routing.StrategyPriority)
			sel.AddProvider(a, 10)
			sel.AddProvider(b, 5)

			rc := &domain.RecoveryContext{ProviderID: "A", Script: "hi"}
			res := newTestEngine(sel, clk).Generate(context.Background(), rc)

			if !res.Success || res.Action != domain.ActionSwitchProvider || res.ProviderID != "B" {
				t.Fatalf("expected switch to B, got %+v", res)
			}
			if got := clk.Sleeps(); len(got) != 1 || got[0] != tt.want {
				t.Errorf("sleeps = %v, want [%v]", got, tt.want)
			}
			if len(a.calls) != 2 || len(b.calls) != 1 {
				t.Errorf("calls A=%d B=%d, want 2 and 1", len(a.calls), len(b.calls))
			}
			for _, rec := range res.ErrorHistory {
				if rec.Category != domain.CategoryRateLimit {
					t.Errorf("unexpected category %s", rec.Category)
				}
			}
			if !rc.Criteria.Excludes("A") {
				t.Errorf("switch should exclude A in the context criteria: %v", rc.Criteria.Exclude)
			}
		})
	}
}

func TestEngine_SwitchRecordsExclusions(t *testing.T) {
	clk := clock.NewFake(time.Now())
	overload := func(name string) error {
		return provider.NewError(name, provider.CodeProviderUnavailable, "at capacity")
	}
	a := &MockProvider{name: "A", alwaysErr: overload("A")}
	b := &MockProvider{name: "B", alwaysErr: overload("B")}
	sel := routing.NewSelector(nil, routing.StrategyPriority)
	sel.AddProvider(a, 10)
	sel.AddProvider(b, 5)

	caller := make([]string, 1, 4)
	caller[0] = "C"
	rc := &domain.RecoveryContext{ProviderID: "A", Criteria: domain.SelectionCriteria{Exclude: caller}}
	res := newTestEngine(sel, clk).Recover(context.Background(), rc, overload("A"))

	if res.Success {
		t.Fatal("expected failure")
	}
	for _, id := range []string{"A", "B", "C"} {
		if !rc.Criteria.Excludes(id) {
			t.Errorf("criteria should exclude %s, got %v", id, rc.Criteria.Exclude)
		}
	}
	if spare := caller[:cap(caller)]; spare[1] != "" {
		t.Errorf("caller's exclusion backing array was written: %v", spare)
	}
}

func TestEngine_OpenCircuitTakesPrecedenceOverDispatch(t *testing.T) {
	invalid := provider.NewError("A", provider.CodeInvalidParameters, "bad avatar")
	tests := []struct {
		name       string
		breaker    bool
		wantAction domain.FallbackAction
		wantOK     bool
	}{
		{"breaker enabled switches", true, domain.ActionSwitchProvider, true},
		{"breaker disabled fails fast", false, domain.ActionFailFast, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := clock.NewFake(time.Now())
			b := &MockProvider{name: "B"}
			sel := routing.NewSelector(nil, routing.StrategyPriority)
			sel.AddProvider(&MockProvider{name: "A", alwaysErr: invalid}, 10)
			sel.AddProvider(b, 5)

			strategies := DefaultStrategies()
			st := strategies[domain.CategoryAPIFailure]
			st.CircuitBreakerEnabled = tt.breaker
			strategies[domain.CategoryAPIFailure] = st

			e := newTestEngine(sel, clk, WithStrategies(strategies), WithCircuits(openCircuits{"A": true}))
			res := e.Recover(context.Background(), &domain.RecoveryContext{ProviderID: "A"}, invalid)

			if res.Success != tt.wantOK || res.Action != tt.wantAction {
				t.Fatalf("got success=%v action=%s, want %v %s", res.Success, res.Action, tt.wantOK, tt.wantAction)
			}
			if tt.wantOK && len(b.calls) != 1 {
				t.Errorf("expected one call on B, got %d", len(b.calls))
			}
		})
	}
}
