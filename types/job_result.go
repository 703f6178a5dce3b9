package types

import (
	"encoding/json"
	"time"

	"github.com/assaka/daino/internal/state"
)

// JobResult is the outcome a worker persists after running one attempt.
type JobResult struct {
	JobID         string
	TenantID      string
	Status        state.JobStatus
	Result        json.RawMessage
	Err           error
	Attempts      int
	MaxRetries    int
	FinishedAt    time.Time
	NextAttemptAt *time.Time
}
