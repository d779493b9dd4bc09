package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/failover/internal/core/domain"
)

// ErrInvalidPeriod is returned for periods other than 24h, 7d and 30d.
var ErrInvalidPeriod = errors.New("invalid statistics period")

// ErrNoLogStore is returned when statistics are requested without a log store.
var ErrNoLogStore = errors.New("recovery log store not configured")

// Periods lists the accepted statistics periods.
var Periods = map[string]time.Duration{
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
}

// GetRecoveryStatistics aggregates recovery logs over the trailing period.
func (e *Engine) GetRecoveryStatistics(ctx context.Context, period string) (*domain.RecoveryStatistics, error) {
	window, ok := Periods[period]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPeriod, period)
	}
	if e.logs == nil {
		return nil, ErrNoLogStore
	}

	to := e.clock.Now()
	from := to.Add(-window)
	logs, err := e.logs.ListBetween(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list recovery logs: %w", err)
	}

	stats := Aggregate(logs)
	stats.Period = period
	stats.From = from
	stats.To = to
	return stats, nil
}

// Aggregate summarises logs.
func Aggregate(logs []*domain.RecoveryLog) *domain.RecoveryStatistics {
	stats := &domain.RecoveryStatistics{
		ActionDistribution:   make(map[domain.FallbackAction]int),
		CategoryDistribution: make(map[domain.ErrorCategory]int),
	}

	var totalMs int64
	for _, l := range logs {
		stats.TotalRecoveries++
		if l.Success {
			stats.SuccessfulRecoveries++
		}
		if l.Action != "" {
			stats.ActionDistribution[l.Action]++
		}
		if l.Category != "" {
			stats.CategoryDistribution[l.Category]++
		}
		if l.ProviderSwitched() {
			stats.ProviderSwitches++
		}
		totalMs += l.RecoveryTimeMs
	}

	if stats.TotalRecoveries > 0 {
		stats.SuccessRate = float64(stats.SuccessfulRecoveries) / float64(stats.TotalRecoveries)
		stats.AverageRecoveryTimeMs = float64(totalMs) / float64(stats.TotalRecoveries)
	}
	return stats
}
