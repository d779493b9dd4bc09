// Package provider defines the video-generation provider abstraction.
//
// This package contains:
//   - Provider interface: a capability-bearing generation backend
//   - Error: typed provider failure carrying a provider error code
//   - HTTPProvider: JSON over HTTP implementation
//   - GRPCProvider: generic unary gRPC implementation
//   - Monitor: per-provider health and throttle tracking
//   - Resilient: decorator routing calls through the resilience service
package provider

import (
	"context"

	"github.com/vietddude/failover/internal/core/domain"
)

// Provider is a generation backend. Implementations return *Error for
// failures they can attribute to the provider.
type Provider interface {
	// Name returns the provider identifier (e.g., "heygen", "did")
	Name() string

	// Capabilities describes the optional features the provider supports
	Capabilities() domain.Capabilities

	// GenerateVideo produces a video for script
	GenerateVideo(ctx context.Context, script string, opts domain.VideoOptions) (*domain.VideoResult, error)
}

// HealthReporter is implemented by providers that track their own health.
type HealthReporter interface {
	Health() Stats
}
