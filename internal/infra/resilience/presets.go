package resilience

import (
	"slices"
	"time"

	"github.com/vietddude/failover/internal/infra/resilience/breaker"
	"github.com/vietddude/failover/internal/infra/resilience/ratelimit"
	"github.com/vietddude/failover/internal/infra/resilience/retry"
)

// Preset bundles the settings used to protect one kind of dependency.
type Preset struct {
	Retry     retry.Config     `yaml:"retry"      json:"retry"`
	Circuit   breaker.Config   `yaml:"circuit"    json:"circuit"`
	RateLimit ratelimit.Config `yaml:"rate_limit" json:"rate_limit"`
}

// Presets maps preset names to bundles.
type Presets map[string]Preset

// providerErrorCodes are provider error codes worth retrying on the same
// provider, in addition to transient network codes.
var providerErrorCodes = []string{
	"RATE_LIMIT_EXCEEDED",
	"TIMEOUT",
	"NETWORK_ERROR",
	"PROVIDER_UNAVAILABLE",
}

func withProviderCodes() []string {
	return append(slices.Clone(retry.DefaultRetryableErrorCodes), providerErrorCodes...)
}

// DefaultPreset is used when nothing more specific is configured.
func DefaultPreset() Preset {
	return Preset{
		Retry: retry.DefaultConfig,
		Circuit: breaker.Config{
			FailureThreshold:    5,
			ResetTimeout:        60 * time.Second,
			FailureWindow:       60 * time.Second,
			MinimumRequestCount: 5,
		},
		RateLimit: ratelimit.Config{
			MaxRequests: 60,
			Window:      time.Minute,
		},
	}
}

// DefaultPresets returns the built-in bundles, one per known dependency.
func DefaultPresets() Presets {
	return Presets{
		"default": DefaultPreset(),
		"openai": {
			Retry: retry.Config{
				MaxAttempts:          3,
				InitialDelay:         1 * time.Second,
				MaxDelay:             20 * time.Second,
				BackoffMultiplier:    2,
				JitterFactor:         0.1,
				RetryableStatusCodes: []int{429, 500, 502, 503, 504},
				RetryableErrorCodes:  withProviderCodes(),
			},
			Circuit: breaker.Config{
				FailureThreshold:    5,
				ResetTimeout:        60 * time.Second,
				FailureWindow:       120 * time.Second,
				MinimumRequestCount: 10,
			},
			RateLimit: ratelimit.Config{MaxRequests: 50, Window: time.Minute},
		},
		"elevenlabs": {
			Retry: retry.Config{
				MaxAttempts:          3,
				InitialDelay:         2 * time.Second,
				MaxDelay:             30 * time.Second,
				BackoffMultiplier:    2,
				JitterFactor:         0.2,
				RetryableStatusCodes: []int{429, 500, 502, 503, 504},
				RetryableErrorCodes:  withProviderCodes(),
			},
			Circuit: breaker.Config{
				FailureThreshold:    3,
				ResetTimeout:        120 * time.Second,
				FailureWindow:       300 * time.Second,
				MinimumRequestCount: 5,
			},
			RateLimit: ratelimit.Config{MaxRequests: 20, Window: time.Minute, Delay: 100 * time.Millisecond},
		},
		"heygen": {
			Retry: retry.Config{
				MaxAttempts:          2,
				InitialDelay:         5 * time.Second,
				MaxDelay:             60 * time.Second,
				BackoffMultiplier:    3,
				JitterFactor:         0.2,
				RetryableStatusCodes: []int{429, 502, 503, 504},
				RetryableErrorCodes:  withProviderCodes(),
			},
			Circuit: breaker.Config{
				FailureThreshold:    3,
				ResetTimeout:        300 * time.Second,
				FailureWindow:       600 * time.Second,
				MinimumRequestCount: 3,
			},
			RateLimit: ratelimit.Config{MaxRequests: 10, Window: time.Minute, Delay: 500 * time.Millisecond},
		},
		"did": {
			Retry: retry.Config{
				MaxAttempts:          3,
				InitialDelay:         3 * time.Second,
				MaxDelay:             45 * time.Second,
				BackoffMultiplier:    2,
				JitterFactor:         0.15,
				RetryableStatusCodes: []int{429, 500, 502, 503, 504},
				RetryableErrorCodes:  withProviderCodes(),
			},
			Circuit: breaker.Config{
				FailureThreshold:    4,
				ResetTimeout:        180 * time.Second,
				FailureWindow:       300 * time.Second,
				MinimumRequestCount: 4,
			},
			RateLimit: ratelimit.Config{MaxRequests: 15, Window: time.Minute},
		},
		"synthesia": {
			Retry: retry.Config{
				MaxAttempts:          2,
				InitialDelay:         10 * time.Second,
				MaxDelay:             60 * time.Second,
				BackoffMultiplier:    2,
				JitterFactor:         0.1,
				RetryableStatusCodes: []int{429, 503, 504},
				RetryableErrorCodes:  withProviderCodes(),
			},
			Circuit: breaker.Config{
				FailureThreshold:    3,
				ResetTimeout:        600 * time.Second,
				FailureWindow:       900 * time.Second,
				MinimumRequestCount: 3,
			},
			RateLimit: ratelimit.Config{MaxRequests: 5, Window: time.Minute, Delay: time.Second},
		},
		"storage": {
			Retry: retry.Config{
				MaxAttempts:          5,
				InitialDelay:         100 * time.Millisecond,
				MaxDelay:             5 * time.Second,
				BackoffMultiplier:    2,
				JitterFactor:         0.3,
				RetryableStatusCodes: []int{429, 500, 503, 504},
				RetryableErrorCodes:  retry.DefaultRetryableErrorCodes,
			},
			Circuit: breaker.Config{
				FailureThreshold:    10,
				ResetTimeout:        30 * time.Second,
				FailureWindow:       60 * time.Second,
				MinimumRequestCount: 20,
			},
			RateLimit: ratelimit.Config{MaxRequests: 500, Window: time.Second},
		},
	}
}

// Get returns the named preset, or the "default" entry (DefaultPreset when
// absent) for unknown names.
func (p Presets) Get(name string) Preset {
	if preset, ok := p[name]; ok {
		return preset
	}
	if preset, ok := p["default"]; ok {
		return preset
	}
	return DefaultPreset()
}

// Names returns the preset names in sorted order.
func (p Presets) Names() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Merge returns a copy of p with overrides applied by name.
func (p Presets) Merge(overrides Presets) Presets {
	out := make(Presets, len(p)+len(overrides))
	for name, preset := range p {
		out[name] = preset
	}
	for name, preset := range overrides {
		out[name] = preset
	}
	return out
}
