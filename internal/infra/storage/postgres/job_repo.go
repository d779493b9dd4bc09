package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/vietddude/failover/internal/core/domain"
	"github.com/vietddude/failover/internal/infra/storage"
)

// JobQueueRepo implements storage.JobQueueRepository using PostgreSQL.
type JobQueueRepo struct {
	db *DB
}

// NewJobQueueRepo creates a new PostgreSQL job queue repository.
func NewJobQueueRepo(db *DB) *JobQueueRepo {
	return &JobQueueRepo{db: db}
}

type jobRow struct {
	ID         string         `db:"id"`
	JobID      string         `db:"job_id"`
	ProviderID string         `db:"provider_id"`
	Script     string         `db:"script"`
	Options    []byte         `db:"options"`
	Criteria   []byte         `db:"criteria"`
	Excluded   pq.StringArray `db:"excluded_providers"`
	Category   string         `db:"category"`
	Tier       string         `db:"tier"`
	Priority   int            `db:"priority"`
	RetryAfter time.Time      `db:"retry_after"`
	Attempts   int            `db:"attempts"`
	Status     string         `db:"status"`
	LastError  string         `db:"last_error"`
	CreatedAt  time.Time      `db:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at"`
}

func (r jobRow) toDomain() (*domain.QueuedJob, error) {
	job := &domain.QueuedJob{
		ID:         r.ID,
		JobID:      r.JobID,
		ProviderID: r.ProviderID,
		Script:     r.Script,
		Category:   domain.ErrorCategory(r.Category),
		Tier:       domain.Tier(r.Tier),
		Priority:   r.Priority,
		RetryAfter: r.RetryAfter,
		Attempts:   r.Attempts,
		Status:     domain.JobStatus(r.Status),
		LastError:  r.LastError,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if err := json.Unmarshal(r.Options, &job.Options); err != nil {
		return nil, fmt.Errorf("failed to unmarshal options of job %s: %w", r.ID, err)
	}
	if err := json.Unmarshal(r.Criteria, &job.Criteria); err != nil {
		return nil, fmt.Errorf("failed to unmarshal criteria of job %s: %w", r.ID, err)
	}
	job.Criteria.Exclude = []string(r.Excluded)
	return job, nil
}

// Enqueue stores a pending job.
func (r *JobQueueRepo) Enqueue(ctx context.Context, job *domain.QueuedJob) error {
	options, err := json.Marshal(job.Options)
	if err != nil {
		return fmt.Errorf("failed to marshal options: %w", err)
	}
	criteria := job.Criteria
	excluded := criteria.Exclude
	if excluded == nil {
		excluded = []string{}
	}
	criteria.Exclude = nil
	criteriaJSON, err := json.Marshal(criteria)
	if err != nil {
		return fmt.Errorf("failed to marshal criteria: %w", err)
	}

	status := string(job.Status)
	if status == "" {
		status = string(domain.JobStatusPending)
	}

	query := `
		INSERT INTO queued_jobs (
			id, job_id, provider_id, script, options, criteria, excluded_providers,
			category, tier, priority, retry_after, attempts, status, last_error,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW(), NOW())
	`
	_, err = r.db.ExecContext(
		ctx,
		query,
		job.ID,
		job.JobID,
		job.ProviderID,
		job.Script,
		options,
		criteriaJSON,
		pq.Array(excluded),
		string(job.Category),
		string(job.Tier),
		job.Priority,
		job.RetryAfter,
		job.Attempts,
		status,
		job.LastError,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// Due returns pending jobs ready to run.
func (r *JobQueueRepo) Due(ctx context.Context, now time.Time, limit int) ([]*domain.QueuedJob, error) {
	query := `
		SELECT id, job_id, provider_id, script, options, criteria, excluded_providers,
		       category, tier, priority, retry_after, attempts, status, last_error,
		       created_at, updated_at
		FROM queued_jobs
		WHERE status = 'pending' AND retry_after <= $1
		ORDER BY priority DESC, retry_after ASC
		LIMIT $2
	`

	var rows []jobRow
	if err := r.db.SelectContext(ctx, &rows, query, now, limit); err != nil {
		return nil, fmt.Errorf("failed to query due jobs: %w", err)
	}

	jobs := make([]*domain.QueuedJob, 0, len(rows))
	for _, row := range rows {
		job, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// MarkCompleted marks a job as done.
func (r *JobQueueRepo) MarkCompleted(ctx context.Context, id string) error {
	return r.exec(ctx, `UPDATE queued_jobs SET status = 'completed', updated_at = NOW() WHERE id = $1`, id)
}

// Reschedule pushes a job's retry time out.
func (r *JobQueueRepo) Reschedule(ctx context.Context, id string, retryAfter time.Time, lastErr string) error {
	return r.exec(ctx, `
		UPDATE queued_jobs
		SET attempts = attempts + 1, retry_after = $2, last_error = $3, updated_at = NOW()
		WHERE id = $1
	`, id, retryAfter, lastErr)
}

// MarkFailed gives up on a job.
func (r *JobQueueRepo) MarkFailed(ctx context.Context, id string, lastErr string) error {
	return r.exec(ctx, `UPDATE queued_jobs SET status = 'failed', last_error = $2, updated_at = NOW() WHERE id = $1`, id, lastErr)
}

// Count returns the number of pending jobs.
func (r *JobQueueRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM queued_jobs WHERE status = 'pending'`); err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return count, nil
}

func (r *JobQueueRepo) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if n == 0 {
		return storage.ErrJobNotFound
	}
	return nil
}
