package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/failover/internal/core/domain"
	"github.com/vietddude/failover/internal/infra/storage"
)

type MemoryStorage struct {
	logs []*domain.RecoveryLog
	jobs map[string]*domain.QueuedJob
	mu   sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		jobs: make(map[string]*domain.QueuedJob),
	}
}

// -----------------------------------------------------------------------------
// Recovery Log Repository
// -----------------------------------------------------------------------------

type LogRepo struct {
	store *MemoryStorage
}

func NewLogRepo(store *MemoryStorage) *LogRepo {
	return &LogRepo{store: store}
}

func (r *LogRepo) Append(ctx context.Context, log *domain.RecoveryLog) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cp := *log
	cp.Errors = slices.Clone(log.Errors)
	r.store.logs = append(r.store.logs, &cp)
	return nil
}

func (r *LogRepo) ListBetween(ctx context.Context, from, to time.Time) ([]*domain.RecoveryLog, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.RecoveryLog
	for _, l := range r.store.logs {
		if l.CreatedAt.Before(from) || l.CreatedAt.After(to) {
			continue
		}
		cp := *l
		cp.Errors = slices.Clone(l.Errors)
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *LogRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	kept := r.store.logs[:0]
	var deleted int64
	for _, l := range r.store.logs {
		if l.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, l)
	}
	r.store.logs = kept
	return deleted, nil
}

// -----------------------------------------------------------------------------
// Job Queue Repository
// -----------------------------------------------------------------------------

type QueueRepo struct {
	store *MemoryStorage
	now   func() time.Time
}

func NewQueueRepo(store *MemoryStorage) *QueueRepo {
	return &QueueRepo{store: store, now: time.Now}
}

func (r *QueueRepo) Enqueue(ctx context.Context, job *domain.QueuedJob) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cp := *job
	if cp.Status == "" {
		cp.Status = domain.JobStatusPending
	}
	r.store.jobs[cp.ID] = &cp
	return nil
}

func (r *QueueRepo) Due(ctx context.Context, now time.Time, limit int) ([]*domain.QueuedJob, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.QueuedJob
	for _, j := range r.store.jobs {
		if j.Status != domain.JobStatusPending || j.RetryAfter.After(now) {
			continue
		}
		cp := *j
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].Priority != out[k].Priority {
			return out[i].Priority > out[k].Priority
		}
		return out[i].RetryAfter.Before(out[k].RetryAfter)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *QueueRepo) MarkCompleted(ctx context.Context, id string) error {
	return r.update(id, func(j *domain.QueuedJob) {
		j.Status = domain.JobStatusCompleted
	})
}

func (r *QueueRepo) Reschedule(ctx context.Context, id string, retryAfter time.Time, lastErr string) error {
	return r.update(id, func(j *domain.QueuedJob) {
		j.Attempts++
		j.RetryAfter = retryAfter
		j.LastError = lastErr
	})
}

func (r *QueueRepo) MarkFailed(ctx context.Context, id string, lastErr string) error {
	return r.update(id, func(j *domain.QueuedJob) {
		j.Status = domain.JobStatusFailed
		j.LastError = lastErr
	})
}

func (r *QueueRepo) Count(ctx context.Context) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	n := 0
	for _, j := range r.store.jobs {
		if j.Status == domain.JobStatusPending {
			n++
		}
	}
	return n, nil
}

// Get returns a copy of the job with id, or nil.
func (r *QueueRepo) Get(id string) *domain.QueuedJob {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	j, ok := r.store.jobs[id]
	if !ok {
		return nil
	}
	cp := *j
	return &cp
}

func (r *QueueRepo) update(id string, fn func(*domain.QueuedJob)) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	j, ok := r.store.jobs[id]
	if !ok {
		return storage.ErrJobNotFound
	}
	fn(j)
	j.UpdatedAt = r.now()
	return nil
}
