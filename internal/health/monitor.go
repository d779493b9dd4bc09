package health

import (
	"context"
	"log/slog"

	"github.com/vietddude/failover/internal/infra/provider"
)

// ProviderLister lists the registered providers.
type ProviderLister interface {
	GetAllProviders() []provider.Provider
}

// CircuitChecker reports open circuits by provider name.
type CircuitChecker interface {
	IsCircuitOpen(key string) bool
}

// QueueCounter counts pending queued jobs.
type QueueCounter interface {
	Count(ctx context.Context) (int, error)
}

// Monitor builds health reports from provider state.
type Monitor struct {
	providers ProviderLister
	circuits  CircuitChecker
	queue     QueueCounter
}

// NewMonitor creates a new health monitor. circuits and queue may be nil.
func NewMonitor(providers ProviderLister, circuits CircuitChecker, queue QueueCounter) *Monitor {
	return &Monitor{
		providers: providers,
		circuits:  circuits,
		queue:     queue,
	}
}

// CheckHealth reports every provider and the aggregate system status.
func (m *Monitor) CheckHealth(ctx context.Context) HealthReport {
	report := HealthReport{
		SystemStatus: StatusHealthy,
		Providers:    make(map[string]ProviderHealth),
	}

	usable := 0
	for _, p := range m.providers.GetAllProviders() {
		h := m.checkProvider(p)
		report.Providers[h.Name] = h

		switch h.Status {
		case StatusCritical:
			report.SystemStatus = StatusDegraded
		case StatusDegraded:
			usable++
			report.SystemStatus = StatusDegraded
		default:
			usable++
		}
	}
	if usable == 0 {
		report.SystemStatus = StatusCritical
	}

	if m.queue != nil {
		count, err := m.queue.Count(ctx)
		if err != nil {
			slog.Warn("Failed to count queued jobs", "error", err)
		}
		report.QueuedJobs = count
	}
	return report
}

func (m *Monitor) checkProvider(p provider.Provider) ProviderHealth {
	h := ProviderHealth{Name: p.Name(), Status: StatusHealthy}

	if r, ok := p.(provider.HealthReporter); ok {
		stats := r.Health()
		h.ProviderStatus = stats.Status
		h.ErrorRate = stats.ErrorRate
		h.AverageLatency = stats.AverageLatency

		switch stats.Status {
		case provider.StatusBlocked:
			h.Status = StatusCritical
		case provider.StatusDegraded, provider.StatusThrottled:
			h.Status = StatusDegraded
		}
	}

	if m.circuits != nil && m.circuits.IsCircuitOpen(h.Name) {
		h.CircuitOpen = true
		h.Status = StatusCritical
	}
	return h
}
