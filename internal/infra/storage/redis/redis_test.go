package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/failover/internal/core/domain"
	"github.com/vietddude/failover/internal/infra/storage"
)

func setupClient(t *testing.T) *Client {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}

	c, err := NewClient(Config{URL: url, Prefix: "failover-test-" + uuid.NewString()})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := c.rdb.Keys(ctx, c.prefix+":*").Result()
		if len(keys) > 0 {
			c.rdb.Del(ctx, keys...)
		}
		_ = c.Close()
	})
	return c
}

func TestJobQueueRepo(t *testing.T) {
	c := setupClient(t)
	ctx := context.Background()
	repo := NewJobQueueRepo(c)
	now := time.Now().Truncate(time.Millisecond)

	jobs := []*domain.QueuedJob{
		{ID: "free", Priority: 1, RetryAfter: now.Add(-time.Minute)},
		{ID: "premium", Priority: 3, RetryAfter: now.Add(-time.Second)},
		{ID: "later", Priority: 4, RetryAfter: now.Add(time.Hour)},
	}
	for _, j := range jobs {
		if err := repo.Enqueue(ctx, j); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	due, err := repo.Due(ctx, now, 10)
	if err != nil {
		t.Fatalf("Due failed: %v", err)
	}
	if len(due) != 2 || due[0].ID != "premium" || due[1].ID != "free" {
		t.Fatalf("unexpected due order: %v", due)
	}
	if due[0].Status != domain.JobStatusPending {
		t.Errorf("expected pending status, got %s", due[0].Status)
	}

	if err := repo.Reschedule(ctx, "free", now.Add(time.Hour), "boom"); err != nil {
		t.Fatalf("Reschedule failed: %v", err)
	}
	if err := repo.MarkCompleted(ctx, "premium"); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}
	if err := repo.MarkFailed(ctx, "missing", "x"); !errors.Is(err, storage.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}

	due, _ = repo.Due(ctx, now, 10)
	if len(due) != 0 {
		t.Errorf("expected nothing due, got %d", len(due))
	}
	count, _ := repo.Count(ctx)
	if count != 2 {
		t.Errorf("expected 2 pending, got %d", count)
	}
}

func TestRecoveryLogRepo(t *testing.T) {
	c := setupClient(t)
	ctx := context.Background()
	repo := NewRecoveryLogRepo(c)
	base := time.Now().Truncate(time.Millisecond)

	for i, age := range []time.Duration{48 * time.Hour, 2 * time.Hour, time.Hour} {
		err := repo.Append(ctx, &domain.RecoveryLog{
			ID:        string(rune('a' + i)),
			Success:   true,
			CreatedAt: base.Add(-age),
		})
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	logs, err := repo.ListBetween(ctx, base.Add(-24*time.Hour), base)
	if err != nil {
		t.Fatalf("ListBetween failed: %v", err)
	}
	if len(logs) != 2 || logs[0].ID != "b" || logs[1].ID != "c" {
		t.Fatalf("unexpected window: %v", logs)
	}

	deleted, err := repo.DeleteOlderThan(ctx, base.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteOlderThan failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted, got %d", deleted)
	}
}
