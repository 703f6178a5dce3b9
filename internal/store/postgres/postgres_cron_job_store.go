package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"github.com/assaka/daino/custom_errors"
	"github.com/assaka/daino/internal/state"
	"github.com/assaka/daino/internal/tenant"
	"github.com/assaka/daino/types"
	"time"
)

type PostgresCronJobStore struct {
	conns tenant.ConnResolver
}

func NewPostgresCronJobStore(conns tenant.ConnResolver) *PostgresCronJobStore {
	return &PostgresCronJobStore{conns: conns}
}

func (r *PostgresCronJobStore) Create(ctx context.Context, cj *types.CronJob) error {
	db, err := r.conns.DB(ctx, cj.TenantID)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO daino.cron_jobs (
			id, tenant_id, name, cron_expression, timezone, job_type, configuration,
			source_type, source_id, is_active, is_paused, is_system, next_run_at,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
	`
	_, err = db.ExecContext(ctx, query,
		cj.ID, cj.TenantID, cj.Name, cj.CronExpression, cj.Timezone, cj.JobType,
		jsonArg(cj.Configuration), cj.SourceType, cj.SourceID, cj.IsActive, cj.IsPaused,
		cj.IsSystem, cj.NextRunAt, cj.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert cron job: %w", err)
	}
	return nil
}

func (r *PostgresCronJobStore) Get(ctx context.Context, tenantID, id string) (*types.CronJob, error) {
	db, err := r.conns.DB(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	cj, err := scanCronJob(db.QueryRowContext(ctx,
		`SELECT `+cronJobColumns+` FROM daino.cron_jobs WHERE tenant_id = $1 AND id = $2`, tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, custom_errors.ErrCronJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get cron job: %w", err)
	}
	return cj, nil
}

func (r *PostgresCronJobStore) List(ctx context.Context, tenantID string, includeInactive bool, page, pageSize int) (*types.PaginationResult[types.CronJob], error) {
	db, err := r.conns.DB(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	page, pageSize, offset := types.NormalizePage(page, pageSize, 200)

	where := "tenant_id = $1"
	if !includeInactive {
		where += " AND is_active = TRUE"
	}

	var totalItems int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM daino.cron_jobs WHERE `+where, tenantID).Scan(&totalItems); err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT `+cronJobColumns+`
		FROM daino.cron_jobs
		WHERE `+where+`
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, tenantID, pageSize, offset)
	if err != nil {
		return nil, err
	}
	jobs, err := collectCronJobs(rows)
	if err != nil {
		return nil, err
	}
	return types.NewPaginationResult(jobs, totalItems, page, pageSize), nil
}

func (r *PostgresCronJobStore) ListActive(ctx context.Context, tenantID string) ([]types.CronJob, error) {
	db, err := r.conns.DB(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT `+cronJobColumns+`
		FROM daino.cron_jobs
		WHERE tenant_id = $1 AND is_active = TRUE
		ORDER BY created_at ASC`, tenantID)
	if err != nil {
		return nil, err
	}
	return collectCronJobs(rows)
}

func (r *PostgresCronJobStore) FetchDue(ctx context.Context, tenantID string, now time.Time, limit int) ([]types.CronJob, error) {
	db, err := r.conns.DB(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT `+cronJobColumns+`
		FROM daino.cron_jobs
		WHERE tenant_id = $1 AND is_active = TRUE AND next_run_at <= $2
		ORDER BY next_run_at ASC
		LIMIT $3`, tenantID, now, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch due cron jobs: %w", err)
	}
	return collectCronJobs(rows)
}

func (r *PostgresCronJobStore) AdvanceNextRun(ctx context.Context, tenantID, id string, prev, next time.Time) (bool, error) {
	db, err := r.conns.DB(ctx, tenantID)
	if err != nil {
		return false, err
	}
	res, err := db.ExecContext(ctx, `
		UPDATE daino.cron_jobs
		SET next_run_at = $4
		WHERE tenant_id = $1 AND id = $2 AND next_run_at = $3
	`, tenantID, id, prev, next)
	if err != nil {
		return false, fmt.Errorf("advance cron job: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

func (r *PostgresCronJobStore) RecordOutcome(ctx context.Context, tenantID, id string, outcome types.RunOutcome) (*types.CronJob, error) {
	db, err := r.conns.DB(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	status := state.RunFailed
	var lastError *string
	if outcome.Succeeded {
		status = state.RunSucceeded
	} else {
		msg := outcome.Error
		lastError = &msg
	}

	row := db.QueryRowContext(ctx, `
		UPDATE daino.cron_jobs
		SET last_run_at = $3,
		    run_count = run_count + 1,
		    success_count = success_count + CASE WHEN $4 THEN 1 ELSE 0 END,
		    failure_count = failure_count + CASE WHEN $4 THEN 0 ELSE 1 END,
		    consecutive_failures = CASE WHEN $4 THEN 0 ELSE consecutive_failures + 1 END,
		    is_paused = is_paused OR (NOT $4 AND $7 > 0 AND consecutive_failures + 1 >= $7),
		    last_status = $5,
		    last_error = $6,
		    updated_at = $3
		WHERE tenant_id = $1 AND id = $2
		RETURNING `+cronJobColumns,
		tenantID, id, outcome.At, outcome.Succeeded, status, lastError, outcome.PauseThreshold)
	cj, err := scanCronJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, custom_errors.ErrCronJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("record cron outcome: %w", err)
	}
	return cj, nil
}

func (r *PostgresCronJobStore) Pause(ctx context.Context, tenantID, id string, reason string, now time.Time) error {
	var lastError *string
	if reason != "" {
		lastError = &reason
	}
	return r.execOne(ctx, tenantID, `
		UPDATE daino.cron_jobs
		SET is_paused = TRUE, last_error = COALESCE($3, last_error), updated_at = $4
		WHERE tenant_id = $1 AND id = $2 AND is_active = TRUE
	`, tenantID, id, lastError, now)
}

func (r *PostgresCronJobStore) Resume(ctx context.Context, tenantID, id string, nextRunAt, now time.Time) error {
	return r.execOne(ctx, tenantID, `
		UPDATE daino.cron_jobs
		SET is_paused = FALSE, consecutive_failures = 0, next_run_at = $3, updated_at = $4
		WHERE tenant_id = $1 AND id = $2 AND is_active = TRUE
	`, tenantID, id, nextRunAt, now)
}

func (r *PostgresCronJobStore) Deactivate(ctx context.Context, tenantID, id string, now time.Time) error {
	return r.execOne(ctx, tenantID, `
		UPDATE daino.cron_jobs
		SET is_active = FALSE, updated_at = $3
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id, now)
}

func (r *PostgresCronJobStore) Activate(ctx context.Context, tenantID, id string, nextRunAt, now time.Time) error {
	return r.execOne(ctx, tenantID, `
		UPDATE daino.cron_jobs
		SET is_active = TRUE, is_paused = FALSE, consecutive_failures = 0, next_run_at = $3, updated_at = $4
		WHERE tenant_id = $1 AND id = $2 AND is_active = FALSE
	`, tenantID, id, nextRunAt, now)
}

func (r *PostgresCronJobStore) execOne(ctx context.Context, tenantID, query string, args ...any) error {
	db, err := r.conns.DB(ctx, tenantID)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update cron job: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return custom_errors.ErrCronJobNotFound
	}
	return nil
}

func collectCronJobs(rows *sql.Rows) ([]types.CronJob, error) {
	defer rows.Close()
	var jobs []types.CronJob
	for rows.Next() {
		cj, err := scanCronJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *cj)
	}
	return jobs, rows.Err()
}
