package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vietddude/failover/internal/core/domain"
	"github.com/vietddude/failover/internal/infra/provider"
	"github.com/vietddude/failover/internal/infra/resilience"
	"github.com/vietddude/failover/internal/recovery"
)

// =============================================================================
// Mocks
// =============================================================================

type stubProvider struct {
	name   string
	status provider.Status
}

func (s *stubProvider) Name() string                      { return s.name }
func (s *stubProvider) Capabilities() domain.Capabilities { return domain.Capabilities{} }
func (s *stubProvider) GenerateVideo(
	ctx context.Context,
	script string,
	opts domain.VideoOptions,
) (*domain.VideoResult, error) {
	return nil, errors.New("not implemented")
}
func (s *stubProvider) Health() provider.Stats { return provider.Stats{Status: s.status} }

type stubLister []provider.Provider

func (l stubLister) GetAllProviders() []provider.Provider { return l }

type stubCircuits map[string]bool

func (c stubCircuits) IsCircuitOpen(key string) bool { return c[key] }

type stubQueue struct{ count int }

func (q stubQueue) Count(ctx context.Context) (int, error) { return q.count, nil }

type stubStats struct{}

func (stubStats) GetRecoveryStatistics(ctx context.Context, period string) (*domain.RecoveryStatistics, error) {
	if _, ok := recovery.Periods[period]; !ok {
		return nil, fmt.Errorf("%w: %q", recovery.ErrInvalidPeriod, period)
	}
	return &domain.RecoveryStatistics{Period: period, TotalRecoveries: 4, SuccessfulRecoveries: 3}, nil
}

type stubResilience struct{}

func (stubResilience) GetMetrics() resilience.Metrics { return resilience.Metrics{} }

// =============================================================================
// Tests
// =============================================================================

func TestMonitor_CheckHealth(t *testing.T) {
	tests := []struct {
		name      string
		providers stubLister
		circuits  stubCircuits
		want      SystemStatus
	}{
		{
			name:      "all healthy",
			providers: stubLister{&stubProvider{name: "heygen"}, &stubProvider{name: "did"}},
			want:      StatusHealthy,
		},
		{
			name: "one throttled",
			providers: stubLister{
				&stubProvider{name: "heygen", status: provider.StatusThrottled},
				&stubProvider{name: "did"},
			},
			want: StatusDegraded,
		},
		{
			name:      "one circuit open",
			providers: stubLister{&stubProvider{name: "heygen"}, &stubProvider{name: "did"}},
			circuits:  stubCircuits{"heygen": true},
			want:      StatusDegraded,
		},
		{
			name: "nothing usable",
			providers: stubLister{
				&stubProvider{name: "heygen", status: provider.StatusBlocked},
				&stubProvider{name: "did"},
			},
			circuits: stubCircuits{"did": true},
			want:     StatusCritical,
		},
		{
			name: "no providers",
			want: StatusCritical,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitor(tt.providers, tt.circuits, stubQueue{count: 2})
			report := m.CheckHealth(context.Background())
			if report.SystemStatus != tt.want {
				t.Errorf("status = %s, want %s", report.SystemStatus, tt.want)
			}
			if len(report.Providers) != len(tt.providers) {
				t.Errorf("expected %d providers, got %d", len(tt.providers), len(report.Providers))
			}
			if report.QueuedJobs != 2 {
				t.Errorf("expected 2 queued jobs, got %d", report.QueuedJobs)
			}
		})
	}
}

func TestServer_Endpoints(t *testing.T) {
	healthy := NewMonitor(stubLister{&stubProvider{name: "heygen"}}, nil, nil)
	srv := NewServer(healthy, stubResilience{}, stubStats{}, 0)

	tests := []struct {
		path   string
		status int
	}{
		{"/health", http.StatusOK},
		{"/health/detailed", http.StatusOK},
		{"/resilience", http.StatusOK},
		{"/recovery/stats", http.StatusOK},
		{"/recovery/stats?period=7d", http.StatusOK},
		{"/recovery/stats?period=1y", http.StatusBadRequest},
		{"/metrics", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}
}

func TestServer_StatsBody(t *testing.T) {
	srv := NewServer(NewMonitor(stubLister{}, nil, nil), nil, stubStats{}, 0)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/recovery/stats?period=30d", nil))

	var stats domain.RecoveryStatistics
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if stats.Period != "30d" || stats.TotalRecoveries != 4 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/resilience", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 without resilience service, got %d", rec.Code)
	}
}

func TestServer_CriticalHealth(t *testing.T) {
	m := NewMonitor(stubLister{&stubProvider{name: "heygen", status: provider.StatusBlocked}}, nil, nil)
	srv := NewServer(m, nil, nil, 0)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}
