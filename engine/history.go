package engine

import (
	"context"
	"github.com/assaka/daino/internal/state"
	"github.com/assaka/daino/internal/store"
	"github.com/assaka/daino/types"
)

// History is the read-only observability view over jobs and firings.
type History struct {
	jobs       store.JobStore
	cronJobs   store.CronJobStore
	executions store.ExecutionStore
}

func NewHistory(stores store.Stores) *History {
	return &History{jobs: stores.Jobs, cronJobs: stores.CronJobs, executions: stores.Executions}
}

// Stats aggregates one tenant's queue depth and per-type outcomes.
// PendingBacklog counts jobs waiting to run, retries included.
func (h *History) Stats(ctx context.Context, tenantID string) (*types.Stats, error) {
	counts, err := h.jobs.CountByStatus(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	jobStats, err := h.jobs.TypeStats(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	execStats, err := h.executions.TypeStats(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	stats := &types.Stats{
		TenantID:       tenantID,
		JobCounts:      make(map[state.JobStatus]int, len(state.AllStatuses)),
		Running:        counts[state.StatusRunning],
		PendingBacklog: counts[state.StatusPending] + counts[state.StatusRetrying],
		Jobs:           nonNil(jobStats),
		Schedules:      nonNil(execStats),
	}
	for _, s := range state.AllStatuses {
		stats.JobCounts[s] = counts[s]
	}

	finished, succeeded := 0, 0
	for _, ts := range jobStats {
		finished += ts.Finished
		succeeded += ts.Succeeded
	}
	for _, ts := range execStats {
		finished += ts.Finished
		succeeded += ts.Succeeded
	}
	if finished > 0 {
		stats.SuccessRate = float64(succeeded) / float64(finished)
	}
	return stats, nil
}

// Executions pages through a schedule's firings, newest first.
func (h *History) Executions(ctx context.Context, tenantID, cronJobID string, page, pageSize int) (*types.PaginationResult[types.CronJobExecution], error) {
	if _, err := h.cronJobs.Get(ctx, tenantID, cronJobID); err != nil {
		return nil, err
	}
	return h.executions.ListByCronJob(ctx, tenantID, cronJobID, page, pageSize)
}

func nonNil(s []types.TypeStats) []types.TypeStats {
	if s == nil {
		return []types.TypeStats{}
	}
	return s
}
