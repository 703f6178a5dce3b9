package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/assaka/daino/custom_errors"
	"github.com/assaka/daino/internal/state"
	"github.com/assaka/daino/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func seedJob(t *testing.T, s *JobStore, id, tenantID string, p types.Priority, createdAt time.Time) {
	t.Helper()
	require.NoError(t, s.Insert(context.Background(), &types.Job{
		ID: id, TenantID: tenantID, Type: "catalog.export", Priority: p, MaxRetries: 3, CreatedAt: createdAt,
	}))
}

func TestJobStore_SingleClaimUnderRace(t *testing.T) {
	stores := New()
	jobs := stores.Jobs.(*JobStore)
	seedJob(t, jobs, "only", "store-1", types.PriorityNormal, t0)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			job, err := jobs.ClaimNext(context.Background(), "store-1", fmt.Sprintf("w-%d", worker), t0)
			assert.NoError(t, err)
			if job != nil {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestJobStore_ClaimOrder(t *testing.T) {
	stores := New()
	jobs := stores.Jobs.(*JobStore)
	for i := 0; i < 10; i++ {
		seedJob(t, jobs, fmt.Sprintf("normal-%d", i), "store-1", types.PriorityNormal, t0.Add(time.Duration(i)*time.Second))
	}
	seedJob(t, jobs, "low", "store-1", types.PriorityLow, t0.Add(-time.Hour))
	seedJob(t, jobs, "urgent", "store-1", types.PriorityUrgent, t0.Add(time.Hour))
	seedJob(t, jobs, "other-tenant", "store-2", types.PriorityUrgent, t0)

	job, err := jobs.ClaimNext(context.Background(), "store-1", "w", t0)
	require.NoError(t, err)
	assert.Equal(t, "urgent", job.ID)

	job, err = jobs.ClaimNext(context.Background(), "store-1", "w", t0)
	require.NoError(t, err)
	assert.Equal(t, "normal-0", job.ID)
}

func TestJobStore_OwnershipIsChecked(t *testing.T) {
	stores := New()
	jobs := stores.Jobs.(*JobStore)
	seedJob(t, jobs, "j", "store-1", types.PriorityNormal, t0)
	_, err := jobs.ClaimNext(context.Background(), "store-1", "w1", t0)
	require.NoError(t, err)

	err = jobs.MarkCompleted(context.Background(), "store-1", "j", "w2", nil, t0)
	assert.ErrorIs(t, err, custom_errors.ErrClaimConflict)
	require.NoError(t, jobs.MarkCompleted(context.Background(), "store-1", "j", "w1", nil, t0))

	_, err = jobs.RequestCancel(context.Background(), "store-1", "j")
	assert.ErrorIs(t, err, custom_errors.ErrInvalidTransition)
}

func TestJobStore_RetryAndRequeue(t *testing.T) {
	stores := New()
	jobs := stores.Jobs.(*JobStore)
	ctx := context.Background()
	seedJob(t, jobs, "j", "store-1", types.PriorityNormal, t0)
	_, err := jobs.ClaimNext(ctx, "store-1", "w", t0)
	require.NoError(t, err)
	require.NoError(t, jobs.MarkRetrying(ctx, "store-1", "j", "w", 1, "boom", t0.Add(5*time.Second), t0))

	n, err := jobs.RequeueDue(ctx, "store-1", t0.Add(4*time.Second), 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = jobs.RequeueDue(ctx, "store-1", t0.Add(5*time.Second), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, err := jobs.FindByID(ctx, "store-1", "j")
	require.NoError(t, err)
	assert.Equal(t, state.StatusPending, job.Status)
	assert.Equal(t, 1, job.AttemptCount)
}

func TestJobStore_ReapStale(t *testing.T) {
	stores := New()
	jobs := stores.Jobs.(*JobStore)
	ctx := context.Background()
	seedJob(t, jobs, "j", "store-1", types.PriorityNormal, t0)
	_, err := jobs.ClaimNext(ctx, "store-1", "dead-worker", t0)
	require.NoError(t, err)

	reaped, err := jobs.ReapStale(ctx, "store-1", t0, t0.Add(11*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, reaped)

	reaped, err = jobs.ReapStale(ctx, "store-1", t0.Add(time.Minute), t0.Add(11*time.Minute))
	require.NoError(t, err)
	require.Len(t, reaped, 1)
	assert.Equal(t, state.StatusPending, reaped[0].Status)
	assert.Equal(t, 1, reaped[0].AttemptCount)

	// The reaped job can be claimed again.
	job, err := jobs.ClaimNext(ctx, "store-1", "w2", t0.Add(12*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "j", job.ID)
}

func TestJobStore_ReapExhausted(t *testing.T) {
	stores := New()
	jobs := stores.Jobs.(*JobStore)
	ctx := context.Background()
	require.NoError(t, jobs.Insert(ctx, &types.Job{ID: "j", TenantID: "s", Type: "x", MaxRetries: 0, CreatedAt: t0}))
	_, err := jobs.ClaimNext(ctx, "s", "w", t0)
	require.NoError(t, err)

	reaped, err := jobs.ReapStale(ctx, "s", t0.Add(time.Minute), t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, reaped, 1)
	assert.Equal(t, state.StatusFailed, reaped[0].Status)
	require.NotNil(t, reaped[0].Error)
	assert.Equal(t, "worker lost", *reaped[0].Error)
}

func TestJobStore_TenantIsolation(t *testing.T) {
	stores := New()
	jobs := stores.Jobs.(*JobStore)
	seedJob(t, jobs, "j", "store-1", types.PriorityNormal, t0)

	_, err := jobs.FindByID(context.Background(), "store-2", "j")
	assert.ErrorIs(t, err, custom_errors.ErrJobNotFound)

	counts, err := jobs.CountByStatus(context.Background(), "store-2")
	require.NoError(t, err)
	assert.Zero(t, counts[state.StatusPending])
}

func TestCronJobStore_AdvanceIsConditional(t *testing.T) {
	stores := New()
	ctx := context.Background()
	require.NoError(t, stores.CronJobs.Create(ctx, &types.CronJob{
		ID: "cj", TenantID: "s", CronExpression: "0 2 * * *", IsActive: true, NextRunAt: t0, CreatedAt: t0,
	}))

	ok, err := stores.CronJobs.AdvanceNextRun(ctx, "s", "cj", t0, t0.Add(24*time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = stores.CronJobs.AdvanceNextRun(ctx, "s", "cj", t0, t0.Add(24*time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCronJobStore_RecordOutcomePausesAtThreshold(t *testing.T) {
	stores := New()
	ctx := context.Background()
	require.NoError(t, stores.CronJobs.Create(ctx, &types.CronJob{ID: "cj", TenantID: "s", IsActive: true, CreatedAt: t0}))

	var cj *types.CronJob
	var err error
	for i := 0; i < 3; i++ {
		cj, err = stores.CronJobs.RecordOutcome(ctx, "s", "cj", types.RunOutcome{At: t0, Error: "boom", PauseThreshold: 3})
		require.NoError(t, err)
	}
	assert.True(t, cj.IsPaused)
	assert.Equal(t, 3, cj.ConsecutiveFailures)
	assert.Equal(t, 3, cj.FailureCount)

	require.NoError(t, stores.CronJobs.Resume(ctx, "s", "cj", t0.Add(time.Hour), t0))
	cj, err = stores.CronJobs.RecordOutcome(ctx, "s", "cj", types.RunOutcome{At: t0, Succeeded: true, PauseThreshold: 3})
	require.NoError(t, err)
	assert.False(t, cj.IsPaused)
	assert.Zero(t, cj.ConsecutiveFailures)
	assert.Equal(t, 4, cj.RunCount)
}

func TestExecutionStore_FinishOnce(t *testing.T) {
	stores := New()
	ctx := context.Background()
	require.NoError(t, stores.CronJobs.Create(ctx, &types.CronJob{ID: "cj", TenantID: "s", JobType: "credits.deduct_daily", IsActive: true, CreatedAt: t0}))

	id, err := stores.Executions.Start(ctx, &types.CronJobExecution{CronJobID: "cj", TenantID: "s", StartedAt: t0})
	require.NoError(t, err)
	require.NoError(t, stores.Executions.MarkDispatched(ctx, "s", id, "job-9"))

	closed, err := stores.Executions.Finish(ctx, "s", id, state.RunSucceeded, nil, nil, t0.Add(2*time.Second))
	require.NoError(t, err)
	assert.True(t, closed)
	closed, err = stores.Executions.Finish(ctx, "s", id, state.RunFailed, nil, nil, t0.Add(3*time.Second))
	require.NoError(t, err)
	assert.False(t, closed)

	page, err := stores.Executions.ListByCronJob(ctx, "s", "cj", 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, state.RunSucceeded, page.Items[0].Status)
	assert.Equal(t, int64(2000), *page.Items[0].DurationMs)
	assert.Equal(t, "job-9", *page.Items[0].JobID)

	stats, err := stores.Executions.TypeStats(ctx, "s")
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "credits.deduct_daily", stats[0].JobType)
	assert.Equal(t, 1.0, stats[0].SuccessRate)
}
