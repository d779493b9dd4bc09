package routing

import (
	"context"
	"errors"
	"testing"

	"github.com/vietddude/failover/internal/core/domain"
	"github.com/vietddude/failover/internal/infra/provider"
)

// MockProvider implements provider.Provider for routing tests
type MockProvider struct {
	name   string
	caps   domain.Capabilities
	health *provider.Stats
}

func (m *MockProvider) Name() string                      { return m.name }
func (m *MockProvider) Capabilities() domain.Capabilities { return m.caps }

func (m *MockProvider) GenerateVideo(ctx context.Context, script string, opts domain.VideoOptions) (*domain.VideoResult, error) {
	return &domain.VideoResult{ProviderID: m.name}, nil
}

type healthyMock struct{ MockProvider }

func (m *healthyMock) Health() provider.Stats { return *m.health }

type openCircuits map[string]bool

func (o openCircuits) IsCircuitOpen(key string) bool { return o[key] }

func TestSelector_PriorityOrder(t *testing.T) {
	s := NewSelector(nil, "")
	s.AddProvider(&MockProvider{name: "low"}, 1)
	s.AddProvider(&MockProvider{name: "high"}, 5)
	s.AddProvider(&MockProvider{name: "mid"}, 3)

	all := s.GetAllProviders()
	want := []string{"high", "mid", "low"}
	for i, p := range all {
		if p.Name() != want[i] {
			t.Fatalf("position %d: got %s, want %s", i, p.Name(), want[i])
		}
	}

	sel, err := s.SelectOptimalProvider(domain.SelectionCriteria{})
	if err != nil {
		t.Fatalf("SelectOptimalProvider failed: %v", err)
	}
	if sel.Provider.Name() != "high" {
		t.Errorf("expected high, got %s", sel.Provider.Name())
	}
	if len(sel.Alternatives) != 2 {
		t.Errorf("expected 2 alternatives, got %v", sel.Alternatives)
	}
}

func TestSelector_GetProvider(t *testing.T) {
	s := NewSelector(nil, "")
	s.AddProvider(&MockProvider{name: "a"}, 1)

	if s.GetProvider("a") == nil {
		t.Error("expected provider a")
	}
	if s.GetProvider("missing") != nil {
		t.Error("expected nil for unknown provider")
	}

	s.AddProvider(&MockProvider{name: "a"}, 9)
	if n := len(s.GetAllProviders()); n != 1 {
		t.Errorf("re-adding should replace, got %d providers", n)
	}
}

func TestSelector_Filters(t *testing.T) {
	voice := domain.Capabilities{VoiceCloning: true, MaxDurationSeconds: 600}

	tests := []struct {
		name     string
		circuits openCircuits
		criteria domain.SelectionCriteria
		want     string
		wantErr  bool
	}{
		{
			name:     "excluded skipped",
			criteria: domain.SelectionCriteria{Exclude: []string{"a"}},
			want:     "b",
		},
		{
			name:     "open circuit skipped",
			circuits: openCircuits{"a": true},
			want:     "b",
		},
		{
			name:     "required capability",
			criteria: domain.SelectionCriteria{Required: domain.Capabilities{VoiceCloning: true}},
			want:     "b",
		},
		{
			name:     "preferred wins",
			criteria: domain.SelectionCriteria{Preferred: "c"},
			want:     "c",
		},
		{
			name:     "all excluded",
			criteria: domain.SelectionCriteria{Exclude: []string{"a", "b", "c"}},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var circuits CircuitChecker
			if tt.circuits != nil {
				circuits = tt.circuits
			}
			s := NewSelector(circuits, StrategyPriority)
			s.AddProvider(&MockProvider{name: "a"}, 3)
			s.AddProvider(&MockProvider{name: "b", caps: voice}, 2)
			s.AddProvider(&MockProvider{name: "c"}, 1)

			sel, err := s.SelectOptimalProvider(tt.criteria)
			if tt.wantErr {
				if !errors.Is(err, ErrNoProviderAvailable) {
					t.Fatalf("expected ErrNoProviderAvailable, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if sel.Provider.Name() != tt.want {
				t.Errorf("got %s, want %s", sel.Provider.Name(), tt.want)
			}
		})
	}
}

func TestSelector_HealthPenalties(t *testing.T) {
	s := NewSelector(nil, "")
	blocked := &healthyMock{MockProvider{name: "blocked", health: &provider.Stats{Status: provider.StatusBlocked}}}
	throttled := &healthyMock{MockProvider{name: "throttled", health: &provider.Stats{Status: provider.StatusThrottled}}}
	healthy := &healthyMock{MockProvider{name: "healthy", health: &provider.Stats{Status: provider.StatusHealthy}}}

	s.AddProvider(blocked, 10)
	s.AddProvider(throttled, 5)
	s.AddProvider(healthy, 1)

	sel, err := s.SelectOptimalProvider(domain.SelectionCriteria{})
	if err != nil {
		t.Fatalf("SelectOptimalProvider failed: %v", err)
	}
	if sel.Provider.Name() != "healthy" {
		t.Errorf("expected healthy provider, got %s (score %.1f)", sel.Provider.Name(), sel.Score)
	}
	for _, alt := range sel.Alternatives {
		if alt == "blocked" {
			t.Error("blocked provider must not be an alternative")
		}
	}
}

func TestSelector_RoundRobin(t *testing.T) {
	s := NewSelector(nil, StrategyRoundRobin)
	s.AddProvider(&MockProvider{name: "a"}, 2)
	s.AddProvider(&MockProvider{name: "b"}, 1)

	var got []string
	for i := 0; i < 4; i++ {
		sel, err := s.SelectOptimalProvider(domain.SelectionCriteria{})
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, sel.Provider.Name())
	}
	want := []string{"a", "b", "a", "b"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rotation = %v, want %v", got, want)
		}
	}
}
