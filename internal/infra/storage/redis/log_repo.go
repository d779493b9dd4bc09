package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/failover/internal/core/domain"
)

// RecoveryLogRepo implements storage.RecoveryLogRepository using Redis.
type RecoveryLogRepo struct {
	c *Client
}

// NewRecoveryLogRepo creates a new Redis-backed recovery log repository.
func NewRecoveryLogRepo(client *Client) *RecoveryLogRepo {
	return &RecoveryLogRepo{c: client}
}

// Append stores a finished recovery session.
func (r *RecoveryLogRepo) Append(ctx context.Context, log *domain.RecoveryLog) error {
	data, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("failed to marshal recovery log: %w", err)
	}

	_, err = r.c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.c.logKey(log.ID), data, 0)
		pipe.ZAdd(ctx, r.c.logIndexKey(), redis.Z{Score: score(log.CreatedAt), Member: log.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append recovery log: %w", err)
	}
	return nil
}

// ListBetween returns logs created in [from, to], oldest first.
func (r *RecoveryLogRepo) ListBetween(ctx context.Context, from, to time.Time) ([]*domain.RecoveryLog, error) {
	ids, err := r.c.rdb.ZRangeByScore(ctx, r.c.logIndexKey(), &redis.ZRangeBy{
		Min: strconv.FormatInt(from.UnixMilli(), 10),
		Max: strconv.FormatInt(to.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("zrangebyscore failed: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.c.logKey(id)
	}
	values, err := r.c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget failed: %w", err)
	}

	logs := make([]*domain.RecoveryLog, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var l domain.RecoveryLog
		if err := json.Unmarshal([]byte(s), &l); err != nil {
			continue
		}
		logs = append(logs, &l)
	}
	return logs, nil
}

// DeleteOlderThan removes logs created before cutoff.
func (r *RecoveryLogRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	upper := "(" + strconv.FormatInt(cutoff.UnixMilli(), 10)
	ids, err := r.c.rdb.ZRangeByScore(ctx, r.c.logIndexKey(), &redis.ZRangeBy{Min: "-inf", Max: upper}).Result()
	if err != nil {
		return 0, fmt.Errorf("zrangebyscore failed: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.c.logKey(id)
	}
	_, err = r.c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.ZRemRangeByScore(ctx, r.c.logIndexKey(), "-inf", upper)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune recovery logs: %w", err)
	}
	return int64(len(ids)), nil
}
