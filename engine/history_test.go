package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/assaka/daino/custom_errors"
	"github.com/assaka/daino/internal/state"
	"github.com/assaka/daino/registry"
	"github.com/assaka/daino/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistory_Stats(t *testing.T) {
	f := newFixture(t, t0)
	require.NoError(t, f.registry.Register("translate", handlerReturning(nil, nil)))
	require.NoError(t, f.registry.Register("catalog_import", handlerReturning(nil, custom_errors.Permanentf("bad file"))))
	require.NoError(t, f.registry.Register("oauth_refresh", handlerReturning(nil, errors.New("down")), registry.RunInline()))
	ctx := context.Background()

	for _, jobType := range []string{"translate", "translate", "catalog_import"} {
		_, err := f.manager.Enqueue(ctx, testTenant, jobType, nil, types.EnqueueOptions{})
		require.NoError(t, err)
	}
	pool := f.pool(PoolConfig{Concurrency: 5})
	_, err := pool.Dispatch(ctx)
	require.NoError(t, err)
	pool.Wait()

	_, err = f.manager.Enqueue(ctx, testTenant, "translate", nil, types.EnqueueOptions{})
	require.NoError(t, err)

	cj := mustCreate(t, f, "refresh", "@hourly", "oauth_refresh")
	_, err = f.scheduler.Tick(ctx, cj.NextRunAt.Add(time.Second))
	require.NoError(t, err)

	stats, err := f.history.Stats(ctx, testTenant)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PendingBacklog)
	assert.Equal(t, 0, stats.Running)
	assert.Equal(t, 2, stats.JobCounts[state.StatusCompleted])
	assert.Equal(t, 1, stats.JobCounts[state.StatusFailed])

	byType := map[string]types.TypeStats{}
	for _, ts := range stats.Jobs {
		byType[ts.JobType] = ts
	}
	assert.Equal(t, 2, byType["translate"].Succeeded)
	assert.Equal(t, 0, byType["catalog_import"].Succeeded)
	require.Len(t, stats.Schedules, 1)
	assert.Equal(t, "oauth_refresh", stats.Schedules[0].JobType)
	assert.Equal(t, 0.0, stats.Schedules[0].SuccessRate)
	assert.InDelta(t, 0.5, stats.SuccessRate, 0.001)
}

func TestHistory_ExecutionsOfUnknownSchedule(t *testing.T) {
	f := newFixture(t, t0)
	_, err := f.history.Executions(context.Background(), testTenant, "missing", 1, 10)
	assert.ErrorIs(t, err, custom_errors.ErrCronJobNotFound)
}
