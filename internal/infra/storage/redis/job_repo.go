package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/failover/internal/core/domain"
	"github.com/vietddude/failover/internal/infra/storage"
)

// Finished jobs are kept around for inspection, then expire.
const finishedJobTTL = 24 * time.Hour

// JobQueueRepo implements storage.JobQueueRepository using Redis.
// Pending job IDs live in a sorted set scored by retry time; job bodies are JSON strings.
type JobQueueRepo struct {
	c   *Client
	now func() time.Time
}

// NewJobQueueRepo creates a new Redis-backed job queue repository.
func NewJobQueueRepo(client *Client) *JobQueueRepo {
	return &JobQueueRepo{c: client, now: time.Now}
}

// Enqueue stores a pending job.
func (r *JobQueueRepo) Enqueue(ctx context.Context, job *domain.QueuedJob) error {
	j := *job
	if j.Status == "" {
		j.Status = domain.JobStatusPending
	}
	now := r.now()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now

	if err := r.save(ctx, &j, 0); err != nil {
		return err
	}
	if err := r.c.rdb.ZAdd(ctx, r.c.queueKey(), redis.Z{
		Score:  score(j.RetryAfter),
		Member: j.ID,
	}).Err(); err != nil {
		return fmt.Errorf("failed to add to queue: %w", err)
	}
	return nil
}

// Due returns pending jobs ready to run, highest priority first.
func (r *JobQueueRepo) Due(ctx context.Context, now time.Time, limit int) ([]*domain.QueuedJob, error) {
	ids, err := r.c.rdb.ZRangeByScore(ctx, r.c.queueKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("zrangebyscore failed: %w", err)
	}

	jobs := make([]*domain.QueuedJob, 0, len(ids))
	for _, id := range ids {
		job, err := r.load(ctx, id)
		if errors.Is(err, storage.ErrJobNotFound) {
			// Body expired but ID still in queue, remove it
			r.c.rdb.ZRem(ctx, r.c.queueKey(), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	sort.SliceStable(jobs, func(i, j int) bool {
		if jobs[i].Priority != jobs[j].Priority {
			return jobs[i].Priority > jobs[j].Priority
		}
		return jobs[i].RetryAfter.Before(jobs[j].RetryAfter)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// MarkCompleted marks a job as done and removes it from the queue.
func (r *JobQueueRepo) MarkCompleted(ctx context.Context, id string) error {
	return r.finish(ctx, id, domain.JobStatusCompleted, "")
}

// MarkFailed gives up on a job and removes it from the queue.
func (r *JobQueueRepo) MarkFailed(ctx context.Context, id string, lastErr string) error {
	return r.finish(ctx, id, domain.JobStatusFailed, lastErr)
}

// Reschedule pushes a job's retry time out.
func (r *JobQueueRepo) Reschedule(ctx context.Context, id string, retryAfter time.Time, lastErr string) error {
	job, err := r.load(ctx, id)
	if err != nil {
		return err
	}
	job.Attempts++
	job.RetryAfter = retryAfter
	job.LastError = lastErr
	job.UpdatedAt = r.now()

	if err := r.save(ctx, job, 0); err != nil {
		return err
	}
	if err := r.c.rdb.ZAdd(ctx, r.c.queueKey(), redis.Z{
		Score:  score(retryAfter),
		Member: id,
	}).Err(); err != nil {
		return fmt.Errorf("failed to update queue: %w", err)
	}
	return nil
}

// Count returns the number of pending jobs.
func (r *JobQueueRepo) Count(ctx context.Context) (int, error) {
	count, err := r.c.rdb.ZCard(ctx, r.c.queueKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard failed: %w", err)
	}
	return int(count), nil
}

func (r *JobQueueRepo) finish(ctx context.Context, id string, status domain.JobStatus, lastErr string) error {
	job, err := r.load(ctx, id)
	if err != nil {
		return err
	}
	job.Status = status
	if lastErr != "" {
		job.LastError = lastErr
	}
	job.UpdatedAt = r.now()

	if err := r.c.rdb.ZRem(ctx, r.c.queueKey(), id).Err(); err != nil {
		return fmt.Errorf("failed to remove from queue: %w", err)
	}
	return r.save(ctx, job, finishedJobTTL)
}

func (r *JobQueueRepo) load(ctx context.Context, id string) (*domain.QueuedJob, error) {
	data, err := r.c.rdb.Get(ctx, r.c.jobKey(id)).Bytes()
	if err == redis.Nil {
		return nil, storage.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	var job domain.QueuedJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

func (r *JobQueueRepo) save(ctx context.Context, job *domain.QueuedJob, ttl time.Duration) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := r.c.rdb.Set(ctx, r.c.jobKey(job.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set job: %w", err)
	}
	return nil
}
