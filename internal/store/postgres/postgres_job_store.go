package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/assaka/daino/custom_errors"
	"github.com/assaka/daino/internal/state"
	"github.com/assaka/daino/internal/tenant"
	"github.com/assaka/daino/types"
	"time"
)

type PostgresJobStore struct {
	conns tenant.ConnResolver
}

func NewPostgresJobStore(conns tenant.ConnResolver) *PostgresJobStore {
	return &PostgresJobStore{conns: conns}
}

func (r *PostgresJobStore) Insert(ctx context.Context, job *types.Job) error {
	db, err := r.conns.DB(ctx, job.TenantID)
	if err != nil {
		return err
	}
	metadata, err := metadataArg(job.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO daino.jobs (
			id, tenant_id, type, payload, priority, status, attempt_count, max_retries, created_at, metadata
		)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $9)
	`
	_, err = db.ExecContext(ctx, query,
		job.ID,
		job.TenantID,
		job.Type,
		jsonArg(job.Payload),
		job.Priority,
		state.StatusPending,
		job.MaxRetries,
		job.CreatedAt,
		metadata,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *PostgresJobStore) FindByID(ctx context.Context, tenantID, id string) (*types.Job, error) {
	db, err := r.conns.DB(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	row := db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM daino.jobs WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, custom_errors.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find job: %w", err)
	}
	return job, nil
}

func (r *PostgresJobStore) ClaimNext(ctx context.Context, tenantID, workerID string, now time.Time) (*types.Job, error) {
	db, err := r.conns.DB(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	// SKIP LOCKED lets concurrent workers pick different rows; the status
	// predicate on the update is what guarantees a single winner per row.
	query := `
		WITH next AS (
			SELECT id FROM daino.jobs
			WHERE tenant_id = $1 AND status = 'pending'
			ORDER BY priority ASC, created_at ASC, id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE daino.jobs j
		SET status = 'running',
		    locked_by = $2,
		    started_at = $3,
		    heartbeat_at = $3,
		    next_attempt_at = NULL
		FROM next
		WHERE j.id = next.id AND j.status = 'pending'
		RETURNING ` + qualify("j", jobColumns)

	job, err := scanJob(db.QueryRowContext(ctx, query, tenantID, workerID, now))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

func (r *PostgresJobStore) MarkCompleted(ctx context.Context, tenantID, id, workerID string, result json.RawMessage, now time.Time) error {
	return r.execOwned(ctx, tenantID, `
		UPDATE daino.jobs
		SET status = 'completed',
		    result = $4,
		    progress = 100,
		    error = NULL,
		    finished_at = $5,
		    locked_by = NULL
		WHERE tenant_id = $1 AND id = $2 AND status = 'running' AND locked_by = $3
	`, tenantID, id, workerID, jsonArg(result), now)
}

func (r *PostgresJobStore) MarkRetrying(ctx context.Context, tenantID, id, workerID string, attemptCount int, errMsg string, nextAttemptAt, now time.Time) error {
	return r.execOwned(ctx, tenantID, `
		UPDATE daino.jobs
		SET status = 'retrying',
		    attempt_count = $4,
		    error = $5,
		    next_attempt_at = $6,
		    heartbeat_at = $7,
		    locked_by = NULL
		WHERE tenant_id = $1 AND id = $2 AND status = 'running' AND locked_by = $3
	`, tenantID, id, workerID, attemptCount, errMsg, nextAttemptAt, now)
}

func (r *PostgresJobStore) MarkFailed(ctx context.Context, tenantID, id, workerID string, attemptCount int, errMsg string, now time.Time) error {
	return r.execOwned(ctx, tenantID, `
		UPDATE daino.jobs
		SET status = 'failed',
		    attempt_count = $4,
		    error = $5,
		    finished_at = $6,
		    locked_by = NULL
		WHERE tenant_id = $1 AND id = $2 AND status = 'running' AND locked_by = $3
	`, tenantID, id, workerID, attemptCount, errMsg, now)
}

// execOwned runs an update that only applies while workerID holds the claim.
func (r *PostgresJobStore) execOwned(ctx context.Context, tenantID, query string, args ...any) error {
	db, err := r.conns.DB(ctx, tenantID)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return custom_errors.ErrClaimConflict
	}
	return nil
}

func (r *PostgresJobStore) UpdateProgress(ctx context.Context, tenantID, id, workerID string, percent int, message string, now time.Time) (bool, error) {
	return r.touch(ctx, tenantID, `
		UPDATE daino.jobs
		SET progress = $4, progress_message = $5, heartbeat_at = $6
		WHERE tenant_id = $1 AND id = $2 AND status = 'running' AND locked_by = $3
		RETURNING cancel_requested
	`, tenantID, id, workerID, percent, message, now)
}

func (r *PostgresJobStore) Heartbeat(ctx context.Context, tenantID, id, workerID string, now time.Time) (bool, error) {
	return r.touch(ctx, tenantID, `
		UPDATE daino.jobs
		SET heartbeat_at = $4
		WHERE tenant_id = $1 AND id = $2 AND status = 'running' AND locked_by = $3
		RETURNING cancel_requested
	`, tenantID, id, workerID, now)
}

func (r *PostgresJobStore) touch(ctx context.Context, tenantID, query string, args ...any) (bool, error) {
	db, err := r.conns.DB(ctx, tenantID)
	if err != nil {
		return false, err
	}
	var cancelRequested bool
	err = db.QueryRowContext(ctx, query, args...).Scan(&cancelRequested)
	if errors.Is(err, sql.ErrNoRows) {
		return false, custom_errors.ErrClaimConflict
	}
	if err != nil {
		return false, fmt.Errorf("touch job: %w", err)
	}
	return cancelRequested, nil
}

func (r *PostgresJobStore) RequestCancel(ctx context.Context, tenantID, id string) (*types.Job, error) {
	db, err := r.conns.DB(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	row := db.QueryRowContext(ctx, `
		UPDATE daino.jobs
		SET cancel_requested = TRUE
		WHERE tenant_id = $1 AND id = $2 AND status IN ('pending', 'running', 'retrying')
		RETURNING `+jobColumns, tenantID, id)
	job, err := scanJob(row)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cancel job: %w", err)
	}
	if _, err := r.FindByID(ctx, tenantID, id); err != nil {
		return nil, err
	}
	return nil, custom_errors.ErrInvalidTransition
}

func (r *PostgresJobStore) RequeueDue(ctx context.Context, tenantID string, now time.Time, limit int) (int, error) {
	db, err := r.conns.DB(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, `
		UPDATE daino.jobs
		SET status = 'pending', next_attempt_at = NULL
		WHERE id IN (
			SELECT id FROM daino.jobs
			WHERE tenant_id = $1 AND status = 'retrying' AND next_attempt_at <= $2
			ORDER BY next_attempt_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		) AND status = 'retrying'
	`, tenantID, now, limit)
	if err != nil {
		return 0, fmt.Errorf("requeue jobs: %w", err)
	}
	affected, _ := res.RowsAffected()
	return int(affected), nil
}

func (r *PostgresJobStore) ReapStale(ctx context.Context, tenantID string, staleBefore, now time.Time) ([]types.Job, error) {
	db, err := r.conns.DB(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		UPDATE daino.jobs
		SET attempt_count = attempt_count + 1,
		    status = CASE WHEN attempt_count + 1 > max_retries THEN 'failed' ELSE 'pending' END,
		    finished_at = CASE WHEN attempt_count + 1 > max_retries THEN $3::timestamptz ELSE NULL END,
		    error = $4,
		    locked_by = NULL,
		    heartbeat_at = NULL
		WHERE tenant_id = $1 AND status = 'running' AND COALESCE(heartbeat_at, started_at) < $2
		RETURNING `+jobColumns, tenantID, staleBefore, now, custom_errors.ErrWorkerLost.Error())
	if err != nil {
		return nil, fmt.Errorf("reap jobs: %w", err)
	}
	defer rows.Close()

	var jobs []types.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func (r *PostgresJobStore) CountByStatus(ctx context.Context, tenantID string) (map[state.JobStatus]int, error) {
	db, err := r.conns.DB(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT status, COUNT(*) AS count
		FROM daino.jobs
		WHERE tenant_id = $1
		GROUP BY status
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[state.JobStatus]int)
	for rows.Next() {
		var status state.JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		result[status] = count
	}

	for _, status := range state.AllStatuses {
		if _, ok := result[status]; !ok {
			result[status] = 0
		}
	}
	return result, rows.Err()
}

func (r *PostgresJobStore) List(ctx context.Context, tenantID string, status state.JobStatus, page, pageSize int) (*types.PaginationResult[types.Job], error) {
	db, err := r.conns.DB(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	page, pageSize, offset := types.NormalizePage(page, pageSize, 200)

	where := "tenant_id = $1"
	args := []any{tenantID}
	argIndex := 2
	if status != "" {
		where += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, status)
		argIndex++
	}

	var totalItems int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM daino.jobs WHERE `+where, args...).Scan(&totalItems); err != nil {
		return nil, err
	}

	selectQuery := fmt.Sprintf(`SELECT %s FROM daino.jobs WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		jobColumns, where, argIndex, argIndex+1)
	rows, err := db.QueryContext(ctx, selectQuery, append(args, pageSize, offset)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []types.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return types.NewPaginationResult(jobs, totalItems, page, pageSize), nil
}

func (r *PostgresJobStore) TypeStats(ctx context.Context, tenantID string) ([]types.TypeStats, error) {
	db, err := r.conns.DB(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT type,
		       COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'completed'),
		       COALESCE(AVG(EXTRACT(EPOCH FROM (finished_at - started_at)) * 1000), 0)
		FROM daino.jobs
		WHERE tenant_id = $1 AND status IN ('completed', 'failed')
		GROUP BY type
		ORDER BY type
	`, tenantID)
	if err != nil {
		return nil, err
	}
	return scanTypeStats(rows)
}
