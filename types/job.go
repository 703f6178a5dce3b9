package types

import (
	"encoding/json"
	"time"

	"github.com/assaka/daino/internal/state"
)

// Job is one unit of asynchronous work owned by a single tenant.
type Job struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenant_id"`
	Type            string          `json:"type"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	Priority        Priority        `json:"priority"`
	Status          state.JobStatus `json:"status"`
	Progress        int             `json:"progress"`
	ProgressMessage string          `json:"progress_message,omitempty"`
	AttemptCount    int             `json:"attempt_count"`
	MaxRetries      int             `json:"max_retries"`
	CancelRequested bool            `json:"cancel_requested"`
	LockedBy        *string         `json:"locked_by,omitempty"`
	NextAttemptAt   *time.Time      `json:"next_attempt_at,omitempty"`
	HeartbeatAt     *time.Time      `json:"heartbeat_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	FinishedAt      *time.Time      `json:"finished_at,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
	Error           *string         `json:"error,omitempty"`
	Metadata        Metadata        `json:"metadata,omitempty"`
}

// Metadata is free-form context about who or what created a job.
type Metadata map[string]string

// Duration returns how long the last attempt ran, zero while unfinished.
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil || j.FinishedAt == nil {
		return 0
	}
	return j.FinishedAt.Sub(*j.StartedAt)
}

// EnqueueOptions are the optional knobs of an enqueue call.
type EnqueueOptions struct {
	Priority   Priority
	MaxRetries *int
	Metadata   Metadata
}

// JobStatusView is the cheap read UIs poll while a job runs.
type JobStatusView struct {
	ID              string          `json:"id"`
	Status          state.JobStatus `json:"status"`
	Progress        int             `json:"progress"`
	ProgressMessage string          `json:"progressMessage"`
	Result          json.RawMessage `json:"result,omitempty"`
	Error           *string         `json:"error,omitempty"`
}

// StatusView projects a job onto its polling view.
func (j *Job) StatusView() JobStatusView {
	return JobStatusView{
		ID:              j.ID,
		Status:          j.Status,
		Progress:        j.Progress,
		ProgressMessage: j.ProgressMessage,
		Result:          j.Result,
		Error:           j.Error,
	}
}
