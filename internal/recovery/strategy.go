package recovery

import (
	"time"

	"github.com/vietddude/failover/internal/core/domain"
	"github.com/vietddude/failover/internal/infra/resilience/backoff"
)

// Strategy describes how the engine handles one error category.
type Strategy struct {
	Category              domain.ErrorCategory
	MaxRetries            int
	Backoff               backoff.Strategy
	BaseDelay             time.Duration
	MaxDelay              time.Duration
	FallbackAction        domain.FallbackAction
	AlertThreshold        int
	CircuitBreakerEnabled bool
	AllowDegradation      bool
	MinimumQuality        float64
}

// BackoffConfig returns the backoff settings of s with the given jitter.
func (s Strategy) BackoffConfig(jitter float64) backoff.Config {
	return backoff.Config{
		Strategy:     s.Backoff,
		BaseDelay:    s.BaseDelay,
		MaxDelay:     s.MaxDelay,
		JitterFactor: jitter,
	}
}

// Strategies maps every category to its strategy.
type Strategies map[domain.ErrorCategory]Strategy

// Lookup returns the strategy for c, falling back to the system error
// strategy for categories missing from the table.
func (s Strategies) Lookup(c domain.ErrorCategory) Strategy {
	if st, ok := s[c]; ok {
		return st
	}
	if st, ok := s[domain.CategorySystemError]; ok {
		st.Category = c
		return st
	}
	return Strategy{Category: c, FallbackAction: domain.ActionFailFast}
}

// DefaultStrategies returns the built-in strategy table.
func DefaultStrategies() Strategies {
	return Strategies{
		domain.CategoryTransient: {
			Category:              domain.CategoryTransient,
			MaxRetries:            3,
			Backoff:               backoff.Exponential,
			BaseDelay:             time.Second,
			MaxDelay:              10 * time.Second,
			FallbackAction:        domain.ActionRetrySame,
			AlertThreshold:        10,
			CircuitBreakerEnabled: true,
			AllowDegradation:      true,
			MinimumQuality:        0.8,
		},
		domain.CategoryRateLimit: {
			Category:              domain.CategoryRateLimit,
			MaxRetries:            2,
			Backoff:               backoff.Linear,
			BaseDelay:             time.Minute,
			MaxDelay:              5 * time.Minute,
			FallbackAction:        domain.ActionSwitchProvider,
			AlertThreshold:        5,
			CircuitBreakerEnabled: true,
			AllowDegradation:      false,
			MinimumQuality:        0.9,
		},
		domain.CategoryAPIFailure: {
			Category:       domain.CategoryAPIFailure,
			FallbackAction: domain.ActionFailFast,
			AlertThreshold: 3,
			MinimumQuality: 1,
		},
		domain.CategoryQualityFailure: {
			Category:              domain.CategoryQualityFailure,
			MaxRetries:            2,
			Backoff:               backoff.Fixed,
			BaseDelay:             5 * time.Second,
			MaxDelay:              5 * time.Second,
			FallbackAction:        domain.ActionSwitchProvider,
			AlertThreshold:        3,
			CircuitBreakerEnabled: false,
			AllowDegradation:      false,
			MinimumQuality:        0.9,
		},
		domain.CategoryTimeout: {
			Category:              domain.CategoryTimeout,
			MaxRetries:            2,
			Backoff:               backoff.Exponential,
			BaseDelay:             5 * time.Second,
			MaxDelay:              30 * time.Second,
			FallbackAction:        domain.ActionRetrySame,
			AlertThreshold:        5,
			CircuitBreakerEnabled: true,
			AllowDegradation:      true,
			MinimumQuality:        0.7,
		},
		domain.CategoryAuthentication: {
			Category:              domain.CategoryAuthentication,
			MaxRetries:            0,
			FallbackAction:        domain.ActionSwitchProvider,
			AlertThreshold:        1,
			CircuitBreakerEnabled: true,
			AllowDegradation:      false,
			MinimumQuality:        1,
		},
		domain.CategoryProviderOverload: {
			Category:              domain.CategoryProviderOverload,
			MaxRetries:            0,
			Backoff:               backoff.Exponential,
			BaseDelay:             30 * time.Second,
			MaxDelay:              2 * time.Minute,
			FallbackAction:        domain.ActionSwitchProvider,
			AlertThreshold:        3,
			CircuitBreakerEnabled: true,
			AllowDegradation:      true,
			MinimumQuality:        0.6,
		},
		domain.CategorySystemError: {
			Category:              domain.CategorySystemError,
			MaxRetries:            1,
			Backoff:               backoff.Exponential,
			BaseDelay:             2 * time.Second,
			MaxDelay:              10 * time.Second,
			FallbackAction:        domain.ActionGracefulDegradation,
			AlertThreshold:        5,
			CircuitBreakerEnabled: true,
			AllowDegradation:      true,
			MinimumQuality:        0.5,
		},
		domain.CategoryNetworkError: {
			Category:              domain.CategoryNetworkError,
			MaxRetries:            3,
			Backoff:               backoff.Exponential,
			BaseDelay:             time.Second,
			MaxDelay:              15 * time.Second,
			FallbackAction:        domain.ActionRetrySame,
			AlertThreshold:        10,
			CircuitBreakerEnabled: true,
			AllowDegradation:      true,
			MinimumQuality:        0.8,
		},
		domain.CategoryQuotaExceeded: {
			Category:              domain.CategoryQuotaExceeded,
			MaxRetries:            0,
			Backoff:               backoff.Fixed,
			BaseDelay:             5 * time.Minute,
			MaxDelay:              5 * time.Minute,
			FallbackAction:        domain.ActionQueueForLater,
			AlertThreshold:        1,
			CircuitBreakerEnabled: false,
			AllowDegradation:      false,
			MinimumQuality:        1,
		},
		domain.CategoryProcessingError: {
			Category:              domain.CategoryProcessingError,
			MaxRetries:            1,
			Backoff:               backoff.Linear,
			BaseDelay:             10 * time.Second,
			MaxDelay:              30 * time.Second,
			FallbackAction:        domain.ActionGracefulDegradation,
			AlertThreshold:        5,
			CircuitBreakerEnabled: true,
			AllowDegradation:      true,
			MinimumQuality:        0.6,
		},
	}
}
