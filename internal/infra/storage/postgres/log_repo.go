package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vietddude/failover/internal/core/domain"
)

// RecoveryLogRepo implements storage.RecoveryLogRepository using PostgreSQL.
type RecoveryLogRepo struct {
	db *DB
}

// NewRecoveryLogRepo creates a new PostgreSQL recovery log repository.
func NewRecoveryLogRepo(db *DB) *RecoveryLogRepo {
	return &RecoveryLogRepo{db: db}
}

type logRow struct {
	domain.RecoveryLog
	ErrorsJSON []byte `db:"errors"`
}

// Append stores a finished recovery session.
func (r *RecoveryLogRepo) Append(ctx context.Context, log *domain.RecoveryLog) error {
	errs := log.Errors
	if errs == nil {
		errs = []domain.ErrorRecord{}
	}
	errorsJSON, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("failed to marshal error history: %w", err)
	}

	query := `
		INSERT INTO recovery_logs (
			id, job_id, original_provider_id, final_provider_id, category, action,
			success, attempts_used, recovery_time_ms, errors, created_at
		)
		VALUES (:id, :job_id, :original_provider_id, :final_provider_id, :category, :action,
			:success, :attempts_used, :recovery_time_ms, :errors, :created_at)
	`
	row := logRow{RecoveryLog: *log, ErrorsJSON: errorsJSON}
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to append recovery log: %w", err)
	}
	return nil
}

// ListBetween returns logs created in [from, to], oldest first.
func (r *RecoveryLogRepo) ListBetween(ctx context.Context, from, to time.Time) ([]*domain.RecoveryLog, error) {
	query := `
		SELECT id, job_id, original_provider_id, final_provider_id, category, action,
		       success, attempts_used, recovery_time_ms, errors, created_at
		FROM recovery_logs
		WHERE created_at >= $1 AND created_at <= $2
		ORDER BY created_at ASC
	`

	var rows []logRow
	if err := r.db.SelectContext(ctx, &rows, query, from, to); err != nil {
		return nil, fmt.Errorf("failed to list recovery logs: %w", err)
	}

	logs := make([]*domain.RecoveryLog, 0, len(rows))
	for _, row := range rows {
		l := row.RecoveryLog
		if len(row.ErrorsJSON) > 0 {
			if err := json.Unmarshal(row.ErrorsJSON, &l.Errors); err != nil {
				return nil, fmt.Errorf("failed to unmarshal errors of log %s: %w", l.ID, err)
			}
		}
		logs = append(logs, &l)
	}
	return logs, nil
}

// DeleteOlderThan removes logs created before cutoff.
func (r *RecoveryLogRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM recovery_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune recovery logs: %w", err)
	}
	return res.RowsAffected()
}
