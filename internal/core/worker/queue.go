package worker

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/vietddude/failover/internal/core/clock"
	"github.com/vietddude/failover/internal/core/domain"
	"github.com/vietddude/failover/internal/infra/resilience/backoff"
	"github.com/vietddude/failover/internal/infra/storage"
	"github.com/vietddude/failover/internal/metrics"
)

// Resumer re-runs a queued job through recovery.
type Resumer interface {
	Resume(ctx context.Context, job *domain.QueuedJob) *domain.RecoveryResult
}

// QueueConfig controls the queue worker.
type QueueConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	Backoff      backoff.Config
}

// DefaultQueueConfig returns the queue worker defaults.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		PollInterval: 30 * time.Second,
		BatchSize:    10,
		MaxAttempts:  5,
		Backoff: backoff.Config{
			Strategy:     backoff.Exponential,
			BaseDelay:    time.Minute,
			MaxDelay:     30 * time.Minute,
			JitterFactor: 0.1,
		},
	}
}

// QueueWorker drains jobs parked by queue_for_later.
type QueueWorker struct {
	cfg     QueueConfig
	queue   storage.JobQueueRepository
	resumer Resumer
	clock   clock.Clock
	backoff *backoff.Calculator
}

// NewQueueWorker creates a new QueueWorker.
func NewQueueWorker(
	cfg QueueConfig,
	queue storage.JobQueueRepository,
	resumer Resumer,
	clk clock.Clock,
) *QueueWorker {
	def := DefaultQueueConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Backoff.Strategy == "" {
		cfg.Backoff = def.Backoff
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &QueueWorker{
		cfg:     cfg,
		queue:   queue,
		resumer: resumer,
		clock:   clk,
		backoff: backoff.NewCalculator(rand.Float64),
	}
}

// Start runs the queue loop until ctx is done.
func (w *QueueWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := w.ProcessDue(ctx); err != nil {
			slog.Error("Queue worker pass failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessDue resumes one batch of due jobs and returns how many were handled.
func (w *QueueWorker) ProcessDue(ctx context.Context) (int, error) {
	now := w.clock.Now()
	jobs, err := w.queue.Due(ctx, now, w.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch due jobs: %w", err)
	}

	processed := 0
	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		if err := w.process(ctx, job); err != nil {
			slog.Error("Failed to update queued job", "id", job.ID, "error", err)
			continue
		}
		processed++
	}

	if count, err := w.queue.Count(ctx); err == nil {
		metrics.QueuedJobs.Set(float64(count))
	}
	return processed, nil
}

func (w *QueueWorker) process(ctx context.Context, job *domain.QueuedJob) error {
	res := w.resumer.Resume(ctx, job)
	if res.Success {
		metrics.QueueProcessedTotal.WithLabelValues("completed").Inc()
		slog.Info("Queued job completed", "id", job.ID, "job_id", job.JobID, "provider", res.ProviderID)
		return w.queue.MarkCompleted(ctx, job.ID)
	}

	lastErr := "recovery failed"
	if res.FinalError != nil {
		lastErr = res.FinalError.Error()
	}

	attempt := job.Attempts + 1
	if attempt >= w.cfg.MaxAttempts {
		metrics.QueueProcessedTotal.WithLabelValues("failed").Inc()
		slog.Warn("Queued job exhausted attempts", "id", job.ID, "attempts", attempt, "error", lastErr)
		return w.queue.MarkFailed(ctx, job.ID, lastErr)
	}

	delay := w.backoff.Next(w.cfg.Backoff, attempt)
	metrics.QueueProcessedTotal.WithLabelValues("rescheduled").Inc()
	slog.Info("Queued job rescheduled", "id", job.ID, "attempt", attempt, "delay", delay)
	return w.queue.Reschedule(ctx, job.ID, w.clock.Now().Add(delay), lastErr)
}

// WithRand replaces the jitter source.
func (w *QueueWorker) WithRand(r func() float64) *QueueWorker {
	w.backoff = backoff.NewCalculator(r)
	return w
}
