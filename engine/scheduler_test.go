package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/assaka/daino/custom_errors"
	"github.com/assaka/daino/internal/constants"
	"github.com/assaka/daino/internal/lock"
	"github.com/assaka/daino/internal/state"
	"github.com/assaka/daino/registry"
	"github.com/assaka/daino/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCreate(t *testing.T, f *fixture, name, expr, jobType string) *types.CronJob {
	t.Helper()
	cj, err := f.scheduler.Create(context.Background(), &types.CronJob{
		TenantID:       testTenant,
		Name:           name,
		CronExpression: expr,
		Timezone:       "UTC",
		JobType:        jobType,
		IsActive:       true,
	})
	require.NoError(t, err)
	return cj
}

func (f *fixture) cronJob(t *testing.T, id string) *types.CronJob {
	t.Helper()
	cj, err := f.stores.CronJobs.Get(context.Background(), testTenant, id)
	require.NoError(t, err)
	return cj
}

func (f *fixture) executions(t *testing.T, cronJobID string) []types.CronJobExecution {
	t.Helper()
	page, err := f.history.Executions(context.Background(), testTenant, cronJobID, 1, 100)
	require.NoError(t, err)
	return page.Items
}

func TestScheduler_DailyScheduleFiresAndAdvances(t *testing.T) {
	f := newFixture(t, t0)
	require.NoError(t, f.registry.Register("catalog_export", handlerReturning(nil, nil)))
	cj := mustCreate(t, f, "nightly export", "0 2 * * *", "catalog_export")
	assert.Equal(t, time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC), cj.NextRunAt)

	now := time.Date(2024, 1, 1, 2, 0, 1, 0, time.UTC)
	f.clock.Set(now)
	report, err := f.scheduler.Tick(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Fired)

	got := f.cronJob(t, cj.ID)
	assert.Equal(t, time.Date(2024, 1, 2, 2, 0, 0, 0, time.UTC), got.NextRunAt)

	execs := f.executions(t, cj.ID)
	require.Len(t, execs, 1)
	assert.Equal(t, state.RunDispatched, execs[0].Status)
	require.NotNil(t, execs[0].JobID)

	job := f.job(t, *execs[0].JobID)
	assert.Equal(t, "catalog_export", job.Type)
	assert.Equal(t, cj.ID, job.Metadata[constants.MetaCronJobID])

	// Same instant again: nothing is due.
	report, err = f.scheduler.Tick(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Fired)
}

func TestScheduler_QueuedOutcomeClosesExecution(t *testing.T) {
	f := newFixture(t, t0)
	require.NoError(t, f.registry.Register("catalog_export", handlerReturning(json.RawMessage(`{"file":"a.csv"}`), nil)))
	cj := mustCreate(t, f, "hourly export", "@hourly", "catalog_export")

	now := cj.NextRunAt
	f.clock.Set(now)
	_, err := f.scheduler.Tick(context.Background(), now)
	require.NoError(t, err)

	f.clock.Add(3 * time.Second)
	pool := f.pool(PoolConfig{})
	_, err = pool.Dispatch(context.Background())
	require.NoError(t, err)
	pool.Wait()

	execs := f.executions(t, cj.ID)
	require.Len(t, execs, 1)
	assert.Equal(t, state.RunSucceeded, execs[0].Status)
	require.NotNil(t, execs[0].DurationMs)
	assert.Equal(t, int64(3000), *execs[0].DurationMs)

	got := f.cronJob(t, cj.ID)
	assert.Equal(t, 1, got.RunCount)
	assert.Equal(t, 1, got.SuccessCount)
	assert.Equal(t, state.RunSucceeded, got.LastStatus)

	// A second report of the same job changes nothing.
	job := f.job(t, *execs[0].JobID)
	f.scheduler.JobFinished(context.Background(), job)
	assert.Equal(t, 1, f.cronJob(t, cj.ID).RunCount)
}

func TestScheduler_SkipsMissedRuns(t *testing.T) {
	f := newFixture(t, t0)
	var calls atomic.Int32
	require.NoError(t, f.registry.Register("oauth_refresh", registry.HandlerFunc(
		func(ctx context.Context, job *types.Job, ec *registry.ExecContext) (json.RawMessage, error) {
			calls.Add(1)
			return nil, nil
		}), registry.RunInline()))
	cj := mustCreate(t, f, "refresh", "0 * * * *", "oauth_refresh")
	require.Equal(t, time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC), cj.NextRunAt)

	// The trigger was down for three hours.
	now := time.Date(2024, 1, 1, 4, 30, 0, 0, time.UTC)
	f.clock.Set(now)
	report, err := f.scheduler.Tick(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Fired)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, time.Date(2024, 1, 1, 5, 0, 0, 0, time.UTC), f.cronJob(t, cj.ID).NextRunAt)
}

func TestScheduler_NextRunStrictlyIncreases(t *testing.T) {
	f := newFixture(t, t0)
	require.NoError(t, f.registry.Register("oauth_refresh", handlerReturning(nil, nil), registry.RunInline()))
	cj := mustCreate(t, f, "refresh", "*/15 * * * *", "oauth_refresh")

	prev := cj.NextRunAt
	now := t0
	for i := 0; i < 20; i++ {
		now = now.Add(time.Duration(7+i*3) * time.Minute)
		f.clock.Set(now)
		_, err := f.scheduler.Tick(context.Background(), now)
		require.NoError(t, err)

		next := f.cronJob(t, cj.ID).NextRunAt
		if !prev.After(now) {
			assert.True(t, next.After(prev), "tick %d", i)
			assert.True(t, next.After(now), "tick %d", i)
			assert.Equal(t, 0, next.Minute()%15)
			assert.True(t, next.Sub(now) <= 15*time.Minute)
		} else {
			assert.Equal(t, prev, next)
		}
		prev = next
	}
}

func TestScheduler_PausesAfterConsecutiveFailures(t *testing.T) {
	var alerts []string
	alerter := &mockAlerter{
		SchedulePausedFunc: func(ctx context.Context, cj types.CronJob, reason string) {
			alerts = append(alerts, reason)
		},
	}
	f := newFixture(t, t0, WithAlerter(alerter))
	var calls atomic.Int32
	require.NoError(t, f.registry.Register("marketplace_sync", registry.HandlerFunc(
		func(ctx context.Context, job *types.Job, ec *registry.ExecContext) (json.RawMessage, error) {
			calls.Add(1)
			return nil, errors.New("401 unauthorized")
		}), registry.RunInline()))
	cj := mustCreate(t, f, "sync", "@hourly", "marketplace_sync")

	now := cj.NextRunAt
	for i := 0; i < 5; i++ {
		f.clock.Set(now)
		_, err := f.scheduler.Tick(context.Background(), now)
		require.NoError(t, err)
		now = now.Add(time.Hour)
	}

	got := f.cronJob(t, cj.ID)
	assert.True(t, got.IsPaused)
	assert.Equal(t, 5, got.ConsecutiveFailures)
	assert.Equal(t, 5, got.FailureCount)
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0], "5 consecutive failures")

	// Sixth slot: skipped, but next_run_at keeps moving.
	f.clock.Set(now)
	report, err := f.scheduler.Tick(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Fired)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, int32(5), calls.Load())
	assert.Len(t, f.executions(t, cj.ID), 5)
	assert.Equal(t, now.Add(time.Hour), f.cronJob(t, cj.ID).NextRunAt)

	resumed, err := f.scheduler.Resume(context.Background(), testTenant, cj.ID)
	require.NoError(t, err)
	assert.False(t, resumed.IsPaused)
	assert.Equal(t, 0, resumed.ConsecutiveFailures)

	now = resumed.NextRunAt
	f.clock.Set(now)
	report, err = f.scheduler.Tick(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Fired)
	assert.Equal(t, int32(6), calls.Load())
}

func TestScheduler_SuccessResetsFailureStreak(t *testing.T) {
	f := newFixture(t, t0)
	fail := true
	require.NoError(t, f.registry.Register("oauth_refresh", registry.HandlerFunc(
		func(ctx context.Context, job *types.Job, ec *registry.ExecContext) (json.RawMessage, error) {
			if fail {
				return nil, errors.New("token endpoint down")
			}
			return nil, nil
		}), registry.RunInline()))
	cj := mustCreate(t, f, "refresh", "@hourly", "oauth_refresh")

	now := cj.NextRunAt
	for i := 0; i < 3; i++ {
		_, err := f.scheduler.Tick(context.Background(), now)
		require.NoError(t, err)
		now = now.Add(time.Hour)
	}
	assert.Equal(t, 3, f.cronJob(t, cj.ID).ConsecutiveFailures)

	fail = false
	_, err := f.scheduler.Tick(context.Background(), now)
	require.NoError(t, err)
	got := f.cronJob(t, cj.ID)
	assert.Equal(t, 0, got.ConsecutiveFailures)
	assert.Equal(t, 4, got.RunCount)
	assert.Nil(t, got.LastError)
}

func TestScheduler_SkipsTenantWhoseLockIsHeld(t *testing.T) {
	locker := lock.NewLocalLocker()
	f := newFixture(t, t0, WithSchedulerLocker(locker))
	require.NoError(t, f.registry.Register("oauth_refresh", handlerReturning(nil, nil), registry.RunInline()))
	cj := mustCreate(t, f, "refresh", "@hourly", "oauth_refresh")

	lease, err := locker.TryAcquire(context.Background(), testTenant, constants.TickLock)
	require.NoError(t, err)

	report, err := f.scheduler.Tick(context.Background(), cj.NextRunAt)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Locked)
	assert.Equal(t, 0, report.Fired)

	require.NoError(t, lease.Release(context.Background()))
	report, err = f.scheduler.Tick(context.Background(), cj.NextRunAt)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Fired)
}

func TestScheduler_RedundantTicksFireOnce(t *testing.T) {
	f := newFixture(t, t0)
	var calls atomic.Int32
	require.NoError(t, f.registry.Register("oauth_refresh", registry.HandlerFunc(
		func(ctx context.Context, job *types.Job, ec *registry.ExecContext) (json.RawMessage, error) {
			calls.Add(1)
			return nil, nil
		}), registry.RunInline()))
	cj := mustCreate(t, f, "refresh", "@hourly", "oauth_refresh")

	other := NewScheduler(SchedulerConfig{}, f.stores.CronJobs, f.stores.Executions, f.manager, f.registry, FixedTenants{testTenant})
	var wg sync.WaitGroup
	for _, s := range []*Scheduler{f.scheduler, other} {
		wg.Add(1)
		go func(s *Scheduler) {
			defer wg.Done()
			_, err := s.Tick(context.Background(), cj.NextRunAt)
			assert.NoError(t, err)
		}(s)
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Len(t, f.executions(t, cj.ID), 1)
}

func TestScheduler_CreateRejectsMisconfiguration(t *testing.T) {
	f := newFixture(t, t0)
	require.NoError(t, f.registry.Register("catalog_export", handlerReturning(nil, nil)))
	ctx := context.Background()

	tests := []struct {
		name string
		cj   types.CronJob
	}{
		{"bad expression", types.CronJob{Name: "x", CronExpression: "61 * * * *", JobType: "catalog_export"}},
		{"impossible date", types.CronJob{Name: "x", CronExpression: "0 0 31 2 *", JobType: "catalog_export"}},
		{"bad timezone", types.CronJob{Name: "x", CronExpression: "@daily", Timezone: "Mars/Olympus", JobType: "catalog_export"}},
		{"unknown job type", types.CronJob{Name: "x", CronExpression: "@daily", JobType: "nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cj := tt.cj
			_, err := f.scheduler.Create(ctx, &cj)
			assert.ErrorIs(t, err, custom_errors.ErrScheduleMisconfigured)
		})
	}

	_, err := f.scheduler.Create(ctx, &types.CronJob{CronExpression: "@daily", JobType: "catalog_export"})
	var verr *custom_errors.ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestScheduler_TimezoneIsHonoured(t *testing.T) {
	f := newFixture(t, t0)
	require.NoError(t, f.registry.Register("daily_credits", handlerReturning(nil, nil), registry.RunInline()))
	cj, err := f.scheduler.Create(context.Background(), &types.CronJob{
		TenantID: testTenant, Name: "credits", CronExpression: "0 9 * * *", Timezone: "America/New_York",
		JobType: "daily_credits", IsActive: true,
	})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 14, 0, 0, 0, time.UTC), cj.NextRunAt.UTC())
}

func TestScheduler_VerifyPausesOrphans(t *testing.T) {
	f := newFixture(t, t0)
	require.NoError(t, f.registry.Register("catalog_export", handlerReturning(nil, nil)))
	jobType, err := f.registry.RegisterPlugin("acme", "sync", handlerReturning(nil, nil))
	require.NoError(t, err)
	keep := mustCreate(t, f, "export", "@daily", "catalog_export")
	orphan := mustCreate(t, f, "acme sync", "@hourly", jobType)

	f.registry.Unregister(jobType)
	err = f.scheduler.Verify(context.Background())
	assert.ErrorIs(t, err, custom_errors.ErrHandlerNotFound)

	assert.False(t, f.cronJob(t, keep.ID).IsPaused)
	got := f.cronJob(t, orphan.ID)
	assert.True(t, got.IsPaused)
	require.NotNil(t, got.LastError)
	assert.Contains(t, *got.LastError, "handler not found")
}

func TestScheduler_RunNowAndDeactivate(t *testing.T) {
	f := newFixture(t, t0)
	require.NoError(t, f.registry.Register("oauth_refresh", handlerReturning(json.RawMessage(`"refreshed"`), nil), registry.RunInline()))
	cj := mustCreate(t, f, "refresh", "@daily", "oauth_refresh")
	ctx := context.Background()

	execID, err := f.scheduler.RunNow(ctx, testTenant, cj.ID)
	require.NoError(t, err)
	assert.NotZero(t, execID)

	got := f.cronJob(t, cj.ID)
	assert.Equal(t, cj.NextRunAt, got.NextRunAt)
	assert.Equal(t, 1, got.SuccessCount)

	execs := f.executions(t, cj.ID)
	require.Len(t, execs, 1)
	require.NotNil(t, execs[0].Output)
	assert.Equal(t, `"refreshed"`, *execs[0].Output)

	require.NoError(t, f.scheduler.Deactivate(ctx, testTenant, cj.ID))
	_, err = f.scheduler.RunNow(ctx, testTenant, cj.ID)
	assert.ErrorIs(t, err, custom_errors.ErrInvalidTransition)
	_, err = f.scheduler.Pause(ctx, testTenant, cj.ID, "manual")
	assert.ErrorIs(t, err, custom_errors.ErrInvalidTransition)

	// Deactivated schedules never fire but keep their history.
	report, err := f.scheduler.Tick(ctx, cj.NextRunAt.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, report.Fired)
	assert.Len(t, f.executions(t, cj.ID), 1)

	_, err = f.scheduler.Get(ctx, testTenant, "missing")
	assert.ErrorIs(t, err, custom_errors.ErrCronJobNotFound)
}

func TestScheduler_ActivateInactiveSchedule(t *testing.T) {
	f := newFixture(t, t0)
	require.NoError(t, f.registry.Register("catalog_export", handlerReturning(nil, nil)))
	ctx := context.Background()
	cj, err := f.scheduler.Create(ctx, &types.CronJob{
		TenantID: testTenant, Name: "hourly", CronExpression: "0 * * * *", JobType: "catalog_export",
	})
	require.NoError(t, err)
	assert.False(t, cj.IsActive)

	_, err = f.scheduler.Resume(ctx, testTenant, cj.ID)
	assert.ErrorIs(t, err, custom_errors.ErrInvalidTransition)

	f.clock.Set(t0.Add(90 * time.Minute))
	got, err := f.scheduler.Activate(ctx, testTenant, cj.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)
	assert.Equal(t, t0.Add(2*time.Hour), got.NextRunAt)

	_, err = f.scheduler.Activate(ctx, testTenant, cj.ID)
	assert.ErrorIs(t, err, custom_errors.ErrInvalidTransition)

	report, err := f.scheduler.Tick(ctx, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Fired)
}

func TestScheduler_BrokenScheduleDoesNotStarveOthers(t *testing.T) {
	f := newFixture(t, t0)
	require.NoError(t, f.registry.Register("catalog_export", handlerReturning(nil, nil)))
	ctx := context.Background()

	broken := &types.CronJob{
		ID: "broken", TenantID: testTenant, Name: "broken", CronExpression: "0 2 * * *",
		Timezone: "Mars/Olympus", JobType: "catalog_export", SourceType: types.SourceUser,
		IsActive: true, NextRunAt: t0, CreatedAt: t0, UpdatedAt: t0,
	}
	require.NoError(t, f.stores.CronJobs.Create(ctx, broken))
	good := mustCreate(t, f, "good", "30 0 * * *", "catalog_export")

	var paused []string
	sched := NewScheduler(SchedulerConfig{FailureThreshold: 5, BatchSize: 1}, f.stores.CronJobs, f.stores.Executions,
		f.manager, f.registry, FixedTenants{testTenant},
		WithSchedulerClock(f.clock.Now),
		WithAlerter(&mockAlerter{SchedulePausedFunc: func(ctx context.Context, cj types.CronJob, reason string) {
			paused = append(paused, cj.ID)
		}}),
	)

	now := t0.Add(time.Hour)
	f.clock.Set(now)
	report, err := sched.Tick(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Fired)
	assert.Equal(t, []string{"broken"}, paused)
	assert.Len(t, f.executions(t, good.ID), 1)

	got := f.cronJob(t, "broken")
	assert.True(t, got.IsPaused)
	assert.True(t, got.NextRunAt.After(now))
}

func TestScheduler_EnsureSchedulesIsIdempotent(t *testing.T) {
	f := newFixture(t, t0)
	require.NoError(t, f.registry.Register("daily_credits", handlerReturning(nil, nil), registry.RunInline()))
	def := types.CronJob{Name: "daily credits", CronExpression: "5 0 * * *", JobType: "daily_credits", SourceType: types.SourceSystem}

	n, err := f.scheduler.EnsureSchedules(context.Background(), testTenant, def)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = f.scheduler.EnsureSchedules(context.Background(), testTenant, def)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	list, err := f.scheduler.List(context.Background(), testTenant, false, 1, 10)
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	assert.True(t, list.Items[0].IsSystem)
}
