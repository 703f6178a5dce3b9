package types

import (
	"encoding/json"
	"time"

	"github.com/assaka/daino/internal/state"
)

// SourceType tells who owns a schedule and gets alerted about it.
type SourceType string

const (
	SourceSystem      SourceType = "system"
	SourceIntegration SourceType = "integration"
	SourcePlugin      SourceType = "plugin"
	SourceUser        SourceType = "user"
)

func (s SourceType) Valid() bool {
	switch s {
	case SourceSystem, SourceIntegration, SourcePlugin, SourceUser:
		return true
	}
	return false
}

// CronJob is a recurring schedule. TenantID is empty for system-wide schedules.
type CronJob struct {
	ID                  string          `json:"id"`
	TenantID            string          `json:"tenant_id,omitempty"`
	Name                string          `json:"name"`
	CronExpression      string          `json:"cron_expression"`
	Timezone            string          `json:"timezone"`
	JobType             string          `json:"job_type"`
	Configuration       json.RawMessage `json:"configuration,omitempty"`
	SourceType          SourceType      `json:"source_type"`
	SourceID            string          `json:"source_id,omitempty"`
	IsActive            bool            `json:"is_active"`
	IsPaused            bool            `json:"is_paused"`
	IsSystem            bool            `json:"is_system"`
	LastRunAt           *time.Time      `json:"last_run_at,omitempty"`
	NextRunAt           time.Time       `json:"next_run_at"`
	RunCount            int             `json:"run_count"`
	SuccessCount        int             `json:"success_count"`
	FailureCount        int             `json:"failure_count"`
	ConsecutiveFailures int             `json:"consecutive_failures"`
	LastStatus          state.RunStatus `json:"last_status,omitempty"`
	LastError           *string         `json:"last_error,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// CronJobExecution is the audit record of one firing.
type CronJobExecution struct {
	ID         int64           `json:"id"`
	CronJobID  string          `json:"cron_job_id"`
	TenantID   string          `json:"tenant_id,omitempty"`
	JobID      *string         `json:"job_id,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Status     state.RunStatus `json:"status"`
	Output     *string         `json:"output,omitempty"`
	Error      *string         `json:"error,omitempty"`
	DurationMs *int64          `json:"duration_ms,omitempty"`
}

// RunOutcome is what the scheduler writes back onto a schedule after a firing finishes.
type RunOutcome struct {
	At        time.Time
	Succeeded bool
	Error     string
	// PauseThreshold pauses the schedule once consecutive failures reach it. Zero disables.
	PauseThreshold int
}
