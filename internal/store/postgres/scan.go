package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"github.com/assaka/daino/types"
	"strings"
)

const jobColumns = `id, tenant_id, type, payload, priority, status, progress, progress_message,
	attempt_count, max_retries, cancel_requested, locked_by, next_attempt_at, heartbeat_at,
	created_at, started_at, finished_at, result, error, metadata`

const cronJobColumns = `id, tenant_id, name, cron_expression, timezone, job_type, configuration,
	source_type, source_id, is_active, is_paused, is_system, last_run_at, next_run_at,
	run_count, success_count, failure_count, consecutive_failures, last_status, last_error,
	created_at, updated_at`

const executionColumns = `id, cron_job_id, tenant_id, job_id, started_at, finished_at, status,
	output, error, duration_ms`

type rowScanner interface {
	Scan(dest ...any) error
}

// qualify prefixes every column of a column list with alias.
func qualify(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func scanJob(row rowScanner) (*types.Job, error) {
	var (
		job                       types.Job
		payload, result, metadata []byte
	)
	err := row.Scan(
		&job.ID, &job.TenantID, &job.Type, &payload, &job.Priority, &job.Status,
		&job.Progress, &job.ProgressMessage, &job.AttemptCount, &job.MaxRetries,
		&job.CancelRequested, &job.LockedBy, &job.NextAttemptAt, &job.HeartbeatAt,
		&job.CreatedAt, &job.StartedAt, &job.FinishedAt, &result, &job.Error, &metadata,
	)
	if err != nil {
		return nil, err
	}
	job.Payload = rawJSON(payload)
	job.Result = rawJSON(result)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &job.Metadata); err != nil {
			return nil, fmt.Errorf("decode job metadata: %w", err)
		}
	}
	return &job, nil
}

func scanCronJob(row rowScanner) (*types.CronJob, error) {
	var (
		cj            types.CronJob
		configuration []byte
	)
	err := row.Scan(
		&cj.ID, &cj.TenantID, &cj.Name, &cj.CronExpression, &cj.Timezone, &cj.JobType,
		&configuration, &cj.SourceType, &cj.SourceID, &cj.IsActive, &cj.IsPaused,
		&cj.IsSystem, &cj.LastRunAt, &cj.NextRunAt, &cj.RunCount, &cj.SuccessCount,
		&cj.FailureCount, &cj.ConsecutiveFailures, &cj.LastStatus, &cj.LastError,
		&cj.CreatedAt, &cj.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	cj.Configuration = rawJSON(configuration)
	return &cj, nil
}

func scanExecution(row rowScanner) (*types.CronJobExecution, error) {
	var e types.CronJobExecution
	err := row.Scan(
		&e.ID, &e.CronJobID, &e.TenantID, &e.JobID, &e.StartedAt, &e.FinishedAt,
		&e.Status, &e.Output, &e.Error, &e.DurationMs,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func scanTypeStats(rows *sql.Rows) ([]types.TypeStats, error) {
	defer rows.Close()
	var out []types.TypeStats
	for rows.Next() {
		var s types.TypeStats
		if err := rows.Scan(&s.JobType, &s.Finished, &s.Succeeded, &s.AvgDurationMs); err != nil {
			return nil, err
		}
		if s.Finished > 0 {
			s.SuccessRate = float64(s.Succeeded) / float64(s.Finished)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func rawJSON(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	return json.RawMessage(b)
}

// jsonArg turns raw JSON into a driver argument, keeping empty values NULL.
func jsonArg(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func metadataArg(m types.Metadata) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode job metadata: %w", err)
	}
	return string(b), nil
}
