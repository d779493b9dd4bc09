// Package health provides system health monitoring and status reporting.
package health

import (
	"time"

	"github.com/vietddude/failover/internal/infra/provider"
)

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// ProviderHealth contains health metrics for a single provider.
type ProviderHealth struct {
	Name           string          `json:"name"`
	Status         SystemStatus    `json:"status"`
	ProviderStatus provider.Status `json:"provider_status"`
	CircuitOpen    bool            `json:"circuit_open"`
	ErrorRate      float64         `json:"error_rate"`
	AverageLatency time.Duration   `json:"average_latency"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus              `json:"system_status"`
	Providers    map[string]ProviderHealth `json:"providers"`
	QueuedJobs   int                       `json:"queued_jobs"`
}
