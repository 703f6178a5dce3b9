package postgres

import (
	"context"
	"fmt"
	"github.com/assaka/daino/internal/state"
	"github.com/assaka/daino/internal/store"
	"github.com/assaka/daino/internal/tenant"
	"github.com/assaka/daino/types"
	"time"
)

type PostgresExecutionStore struct {
	conns tenant.ConnResolver
}

func NewPostgresExecutionStore(conns tenant.ConnResolver) *PostgresExecutionStore {
	return &PostgresExecutionStore{conns: conns}
}

func (r *PostgresExecutionStore) Start(ctx context.Context, exec *types.CronJobExecution) (int64, error) {
	db, err := r.conns.DB(ctx, exec.TenantID)
	if err != nil {
		return 0, err
	}
	var id int64
	err = db.QueryRowContext(ctx, `
		INSERT INTO daino.cron_job_executions (cron_job_id, tenant_id, started_at, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, exec.CronJobID, exec.TenantID, exec.StartedAt, state.RunStarted).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("start execution: %w", err)
	}
	exec.ID = id
	exec.Status = state.RunStarted
	return id, nil
}

func (r *PostgresExecutionStore) MarkDispatched(ctx context.Context, tenantID string, id int64, jobID string) error {
	db, err := r.conns.DB(ctx, tenantID)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		UPDATE daino.cron_job_executions
		SET status = 'dispatched', job_id = $3
		WHERE tenant_id = $1 AND id = $2 AND status = 'started'
	`, tenantID, id, jobID)
	if err != nil {
		return fmt.Errorf("dispatch execution: %w", err)
	}
	return nil
}

func (r *PostgresExecutionStore) Finish(ctx context.Context, tenantID string, id int64, status state.RunStatus, output, errMsg *string, finishedAt time.Time) (bool, error) {
	db, err := r.conns.DB(ctx, tenantID)
	if err != nil {
		return false, err
	}
	res, err := db.ExecContext(ctx, `
		UPDATE daino.cron_job_executions
		SET status = $3,
		    output = $4,
		    error = $5,
		    finished_at = $6,
		    duration_ms = GREATEST(0, (EXTRACT(EPOCH FROM ($6::timestamptz - started_at)) * 1000)::BIGINT)
		WHERE tenant_id = $1 AND id = $2 AND status IN ('started', 'dispatched')
	`, tenantID, id, status, output, errMsg, finishedAt)
	if err != nil {
		return false, fmt.Errorf("finish execution: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

func (r *PostgresExecutionStore) ListByCronJob(ctx context.Context, tenantID, cronJobID string, page, pageSize int) (*types.PaginationResult[types.CronJobExecution], error) {
	db, err := r.conns.DB(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	page, pageSize, offset := types.NormalizePage(page, pageSize, 200)

	var totalItems int
	err = db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM daino.cron_job_executions WHERE tenant_id = $1 AND cron_job_id = $2
	`, tenantID, cronJobID).Scan(&totalItems)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT `+executionColumns+`
		FROM daino.cron_job_executions
		WHERE tenant_id = $1 AND cron_job_id = $2
		ORDER BY started_at DESC, id DESC
		LIMIT $3 OFFSET $4`, tenantID, cronJobID, pageSize, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []types.CronJobExecution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return types.NewPaginationResult(items, totalItems, page, pageSize), nil
}

func (r *PostgresExecutionStore) TypeStats(ctx context.Context, tenantID string) ([]types.TypeStats, error) {
	db, err := r.conns.DB(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT c.job_type,
		       COUNT(*),
		       COUNT(*) FILTER (WHERE e.status = 'succeeded'),
		       COALESCE(AVG(e.duration_ms), 0)
		FROM daino.cron_job_executions e
		JOIN daino.cron_jobs c ON c.id = e.cron_job_id
		WHERE e.tenant_id = $1 AND e.status IN ('succeeded', 'failed')
		GROUP BY c.job_type
		ORDER BY c.job_type
	`, tenantID)
	if err != nil {
		return nil, err
	}
	return scanTypeStats(rows)
}

// NewStores wires the three Postgres stores over one resolver.
func NewStores(conns tenant.ConnResolver) store.Stores {
	return store.Stores{
		Jobs:       NewPostgresJobStore(conns),
		CronJobs:   NewPostgresCronJobStore(conns),
		Executions: NewPostgresExecutionStore(conns),
	}
}
