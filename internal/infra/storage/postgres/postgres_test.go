package postgres

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

func setupDB(t *testing.T) *DB {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := NewDB(ctx, Config{URL: url})
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	t.Cleanup(func() {
		_, _ = db.Exec(`TRUNCATE recovery_logs, queued_jobs`)
		_ = db.Close()
	})
	return db
}

func TestRecoveryLogRepo(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewRecoveryLogRepo(db)
	base := time.Now().UTC().Truncate(time.Second)

	log := &domain.RecoveryLog{
		ID:                 uuid.NewString(),
		JobID:              "job-1",
		OriginalProviderID: "synthesia",
		FinalProviderID:    "heygen",
		Category:           domain.CategoryQualityFailure,
		Action:             domain.ActionSwitchProvider,
		Success:            true,
		AttemptsUsed:       3,
		RecoveryTimeMs:     5200,
		Errors: []domain.ErrorRecord{
			{ProviderID: "synthesia", Category: domain.CategoryQualityFailure, Message: "low score"},
		},
		CreatedAt: base.Add(-time.Hour),
	}
	if err := repo.Append(ctx, log); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	old := &domain.RecoveryLog{ID: uuid.NewString(), JobID: "job-0", CreatedAt: base.Add(-48 * time.Hour)}
	if err := repo.Append(ctx, old); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	logs, err := repo.ListBetween(ctx, base.Add(-24*time.Hour), base)
	if err != nil {
		t.Fatalf("ListBetween failed: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 log, got %d", len(logs))
	}
	if !logs[0].ProviderSwitched() || len(logs[0].Errors) != 1 {
		t.Errorf("log not round-tripped: %+v", logs[0])
	}

	deleted, err := repo.DeleteOlderThan(ctx, base.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteOlderThan failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted, got %d", deleted)
	}
}

func TestJobQueueRepo(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewJobQueueRepo(db)
	now := time.Now().UTC().Truncate(time.Second)

	jobs := []*domain.QueuedJob{
		{ID: "free", JobID: "j1", Script: "hello", Priority: 1, RetryAfter: now.Add(-time.Minute)},
		{
			ID: "premium", JobID: "j2", Script: "hello", Priority: 3, RetryAfter: now.Add(-time.Second),
			Criteria: domain.SelectionCriteria{Exclude: []string{"heygen"}, Tier: domain.TierPremium},
			Options:  domain.VideoOptions{Resolution: "1080p", Quality: 0.9},
		},
		{ID: "later", JobID: "j3", Script: "hello", Priority: 4, RetryAfter: now.Add(time.Hour)},
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
	if len(due[0].Criteria.Exclude) != 1 || due[0].Options.Resolution != "1080p" {
		t.Errorf("job not round-tripped: %+v", due[0])
	}

	if err := repo.Reschedule(ctx, "free", now.Add(time.Hour), "still failing"); err != nil {
		t.Fatalf("Reschedule failed: %v", err)
	}
	if err := repo.MarkCompleted(ctx, "premium"); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}
	if err := repo.MarkFailed(ctx, "missing", "x"); !errors.Is(err, storage.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}

	count, err := repo.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 pending, got %d", count)
	}
}
