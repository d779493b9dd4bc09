package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/failover/internal/core/clock"
	"github.com/vietddude/failover/internal/infra/storage"
	"github.com/vietddude/failover/internal/metrics"
)

// Pruner deletes old recovery logs based on retention policy.
type Pruner struct {
	retention time.Duration
	logs      storage.RecoveryLogRepository
	clock     clock.Clock
}

// NewPruner creates a new Pruner worker.
func NewPruner(retention time.Duration, logs storage.RecoveryLogRepository, clk clock.Clock) *Pruner {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Pruner{
		retention: retention,
		logs:      logs,
		clock:     clk,
	}
}

// Start runs the pruner loop.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		return // Retention disabled
	}

	// Check at 10% of the retention period, between one minute and one hour
	interval := min(p.retention/10, 1*time.Hour)
	interval = max(interval, 1*time.Minute)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Initial prune
	p.Prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Prune(ctx)
		}
	}
}

// Prune removes logs older than the retention period.
func (p *Pruner) Prune(ctx context.Context) int64 {
	cutoff := p.clock.Now().Add(-p.retention)

	deleted, err := p.logs.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("Failed to prune recovery logs", "cutoff", cutoff, "error", err)
		return 0
	}
	if deleted > 0 {
		metrics.RecoveryLogsPrunedTotal.Add(float64(deleted))
		slog.Info("Pruned recovery logs", "count", deleted, "cutoff", cutoff)
	}
	return deleted
}
