// Package routing handles provider selection and rotation.
//
// This package contains:
//   - Selector: ordered provider registry implementing recovery's selector
//   - Strategy: rotation strategies (priority score, round-robin)
package routing

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/vietddude/failover/internal/core/domain"
	"github.com/vietddude/failover/internal/infra/provider"
)

// ErrNoProviderAvailable is returned when every provider is filtered out.
var ErrNoProviderAvailable = errors.New("no provider available")

// CircuitChecker reports open circuits by provider name.
type CircuitChecker interface {
	IsCircuitOpen(key string) bool
}

// Strategy selects among eligible providers.
type Strategy string

const (
	StrategyPriority   Strategy = "priority"
	StrategyRoundRobin Strategy = "round_robin"
)

// Selection is the result of SelectOptimalProvider.
type Selection struct {
	Provider     provider.Provider
	Score        float64
	Alternatives []string
}

type entry struct {
	p        provider.Provider
	priority int
}

// Selector holds the registered providers.
type Selector struct {
	mu        sync.RWMutex
	providers []entry
	byName    map[string]*entry
	circuits  CircuitChecker
	strategy  Strategy
	rrIndex   int
}

// NewSelector creates a selector. circuits may be nil.
func NewSelector(circuits CircuitChecker, strategy Strategy) *Selector {
	if strategy == "" {
		strategy = StrategyPriority
	}
	return &Selector{
		byName:   make(map[string]*entry),
		circuits: circuits,
		strategy: strategy,
	}
}

// AddProvider registers p. Higher priority is preferred. Registering a name
// twice replaces the earlier provider.
func (s *Selector) AddProvider(p provider.Provider, priority int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byName[p.Name()]; ok {
		s.providers = slices.DeleteFunc(s.providers, func(e entry) bool { return e.p.Name() == p.Name() })
	}
	s.providers = append(s.providers, entry{p: p, priority: priority})
	sort.SliceStable(s.providers, func(i, j int) bool {
		return s.providers[i].priority > s.providers[j].priority
	})

	s.byName = make(map[string]*entry, len(s.providers))
	for i := range s.providers {
		s.byName[s.providers[i].p.Name()] = &s.providers[i]
	}
}

// GetProvider returns the provider named id, or nil.
func (s *Selector) GetProvider(id string) provider.Provider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.byName[id]; ok {
		return e.p
	}
	return nil
}

// GetAllProviders returns every provider, highest priority first.
func (s *Selector) GetAllProviders() []provider.Provider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]provider.Provider, 0, len(s.providers))
	for _, e := range s.providers {
		out = append(out, e.p)
	}
	return out
}

// SelectOptimalProvider picks the best provider for criteria. Excluded
// providers, providers with an open circuit, blocked providers and providers
// lacking a required capability are never selected.
func (s *Selector) SelectOptimalProvider(criteria domain.SelectionCriteria) (*Selection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type candidate struct {
		p     provider.Provider
		score float64
	}
	var eligible []candidate

	for _, e := range s.providers {
		name := e.p.Name()
		if criteria.Excludes(name) {
			continue
		}
		if !e.p.Capabilities().Satisfies(criteria.Required) {
			continue
		}
		if s.circuits != nil && s.circuits.IsCircuitOpen(name) {
			continue
		}
		score := s.score(e, criteria)
		if score <= 0 {
			continue
		}
		eligible = append(eligible, candidate{p: e.p, score: score})
	}

	if len(eligible) == 0 {
		return nil, fmt.Errorf("%w (excluded: %v)", ErrNoProviderAvailable, criteria.Exclude)
	}

	var pick int
	switch s.strategy {
	case StrategyRoundRobin:
		pick = s.rrIndex % len(eligible)
		s.rrIndex++
	default:
		sort.SliceStable(eligible, func(i, j int) bool { return eligible[i].score > eligible[j].score })
	}

	sel := &Selection{Provider: eligible[pick].p, Score: eligible[pick].score}
	for i, c := range eligible {
		if i != pick {
			sel.Alternatives = append(sel.Alternatives, c.p.Name())
		}
	}
	return sel, nil
}

// score rates a provider from its priority and observed health.
func (s *Selector) score(e entry, criteria domain.SelectionCriteria) float64 {
	score := 100.0 + float64(e.priority)*10

	if criteria.Preferred != "" && criteria.Preferred == e.p.Name() {
		score += 50
	}

	hr, ok := e.p.(provider.HealthReporter)
	if !ok {
		return score
	}
	stats := hr.Health()
	switch stats.Status {
	case provider.StatusBlocked:
		return 0
	case provider.StatusThrottled:
		score -= 60
	case provider.StatusDegraded:
		score -= 30
	}
	score -= stats.ErrorRate * 50

	return max(score, 1)
}
