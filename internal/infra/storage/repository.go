package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/failover/internal/core/domain"
)

var (
	// ErrJobNotFound is returned when a queued job doesn't exist
	ErrJobNotFound = errors.New("queued job not found")
)

// RecoveryLogRepository is the append-only recovery log
type RecoveryLogRepository interface {
	// Append stores a finished recovery session
	Append(ctx context.Context, log *domain.RecoveryLog) error

	// ListBetween returns logs created in [from, to], oldest first
	ListBetween(ctx context.Context, from, to time.Time) ([]*domain.RecoveryLog, error)

	// DeleteOlderThan removes logs created before cutoff
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// JobQueueRepository handles jobs parked for later processing
type JobQueueRepository interface {
	// Enqueue stores a pending job
	Enqueue(ctx context.Context, job *domain.QueuedJob) error

	// Due returns up to limit pending jobs whose RetryAfter is not after now,
	// highest priority first, then earliest RetryAfter
	Due(ctx context.Context, now time.Time, limit int) ([]*domain.QueuedJob, error)

	// MarkCompleted marks a job as done
	MarkCompleted(ctx context.Context, id string) error

	// Reschedule bumps the attempt counter and pushes RetryAfter out
	Reschedule(ctx context.Context, id string, retryAfter time.Time, lastErr string) error

	// MarkFailed gives up on a job
	MarkFailed(ctx context.Context, id string, lastErr string) error

	// Count returns the number of pending jobs
	Count(ctx context.Context) (int, error)
}
