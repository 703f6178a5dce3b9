// Package store defines the durable contracts the engine depends on. Every
// method is tenant scoped and every state change is a conditional write, so
// correctness never depends on an in-process mutex.
package store

import (
	"context"
	"encoding/json"
	"github.com/assaka/daino/internal/state"
	"github.com/assaka/daino/types"
	"time"
)

// JobStore persists job instances.
type JobStore interface {
	// Insert writes a new pending job. Once it returns the job survives any process death.
	Insert(ctx context.Context, job *types.Job) error

	// FindByID is a single indexed read, cheap enough for UIs that poll every second.
	FindByID(ctx context.Context, tenantID, id string) (*types.Job, error)

	// ClaimNext moves the best pending job to running for workerID and returns it.
	// Ordering is priority rank ascending, then created_at ascending.
	// It returns (nil, nil) when nothing is pending.
	ClaimNext(ctx context.Context, tenantID, workerID string, now time.Time) (*types.Job, error)

	// MarkCompleted finishes a job held by workerID.
	MarkCompleted(ctx context.Context, tenantID, id, workerID string, result json.RawMessage, now time.Time) error

	// MarkRetrying records a failed attempt that still has retries left.
	MarkRetrying(ctx context.Context, tenantID, id, workerID string, attemptCount int, errMsg string, nextAttemptAt, now time.Time) error

	// MarkFailed records a terminal failure.
	MarkFailed(ctx context.Context, tenantID, id, workerID string, attemptCount int, errMsg string, now time.Time) error

	// UpdateProgress writes progress and refreshes the heartbeat. It reports
	// whether cancellation has been requested.
	UpdateProgress(ctx context.Context, tenantID, id, workerID string, percent int, message string, now time.Time) (bool, error)

	// Heartbeat refreshes heartbeat_at and reports whether cancellation has been requested.
	Heartbeat(ctx context.Context, tenantID, id, workerID string, now time.Time) (bool, error)

	// RequestCancel flags a non-terminal job for cooperative cancellation.
	RequestCancel(ctx context.Context, tenantID, id string) (*types.Job, error)

	// RequeueDue moves retrying jobs whose next_attempt_at has passed back to pending.
	RequeueDue(ctx context.Context, tenantID string, now time.Time, limit int) (int, error)

	// ReapStale reclaims running jobs whose heartbeat (or start) is older than
	// staleBefore. Each counts as a failed attempt: the job returns to pending
	// or, with no retries left, fails with "worker lost". The reclaimed rows
	// are returned in their new state.
	ReapStale(ctx context.Context, tenantID string, staleBefore, now time.Time) ([]types.Job, error)

	CountByStatus(ctx context.Context, tenantID string) (map[state.JobStatus]int, error)

	List(ctx context.Context, tenantID string, status state.JobStatus, page, pageSize int) (*types.PaginationResult[types.Job], error)

	// TypeStats aggregates finished jobs per type.
	TypeStats(ctx context.Context, tenantID string) ([]types.TypeStats, error)
}

// CronJobStore persists recurring schedules.
type CronJobStore interface {
	Create(ctx context.Context, cj *types.CronJob) error

	Get(ctx context.Context, tenantID, id string) (*types.CronJob, error)

	List(ctx context.Context, tenantID string, includeInactive bool, page, pageSize int) (*types.PaginationResult[types.CronJob], error)

	// ListActive returns every active schedule of the tenant.
	ListActive(ctx context.Context, tenantID string) ([]types.CronJob, error)

	// FetchDue returns active schedules with next_run_at <= now, paused ones included
	// so the caller can keep their next_run_at moving.
	FetchDue(ctx context.Context, tenantID string, now time.Time, limit int) ([]types.CronJob, error)

	// AdvanceNextRun sets next_run_at to next only if it still equals prev.
	// false means another tick already advanced the row.
	AdvanceNextRun(ctx context.Context, tenantID, id string, prev, next time.Time) (bool, error)

	// RecordOutcome applies one firing result to the run counters and pauses
	// the schedule when consecutive failures reach the outcome's threshold.
	RecordOutcome(ctx context.Context, tenantID, id string, outcome types.RunOutcome) (*types.CronJob, error)

	Pause(ctx context.Context, tenantID, id string, reason string, now time.Time) error

	// Resume clears the pause and the failure streak and sets the next run.
	Resume(ctx context.Context, tenantID, id string, nextRunAt, now time.Time) error

	// Deactivate soft-deletes a schedule. Its history is kept.
	Deactivate(ctx context.Context, tenantID, id string, now time.Time) error

	// Activate turns an inactive schedule on, unpaused with a clean failure
	// streak and the given next run.
	Activate(ctx context.Context, tenantID, id string, nextRunAt, now time.Time) error
}

// ExecutionStore persists the append-only firing history.
type ExecutionStore interface {
	// Start records a firing before anything runs and returns its id.
	Start(ctx context.Context, exec *types.CronJobExecution) (int64, error)

	// MarkDispatched links a started firing to the job it enqueued.
	MarkDispatched(ctx context.Context, tenantID string, id int64, jobID string) error

	// Finish closes an open firing. It returns false when the row was already closed.
	Finish(ctx context.Context, tenantID string, id int64, status state.RunStatus, output, errMsg *string, finishedAt time.Time) (bool, error)

	ListByCronJob(ctx context.Context, tenantID, cronJobID string, page, pageSize int) (*types.PaginationResult[types.CronJobExecution], error)

	// TypeStats aggregates closed firings per job type.
	TypeStats(ctx context.Context, tenantID string) ([]types.TypeStats, error)
}

// Stores groups the three contracts for wiring.
type Stores struct {
	Jobs       JobStore
	CronJobs   CronJobStore
	Executions ExecutionStore
}
