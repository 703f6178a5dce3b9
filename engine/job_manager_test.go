package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/assaka/daino/custom_errors"
	"github.com/assaka/daino/internal/broker"
	"github.com/assaka/daino/internal/state"
	"github.com/assaka/daino/internal/store/memory"
	"github.com/assaka/daino/registry"
	"github.com/assaka/daino/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestJobManager_Enqueue(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register("catalog_export", handlerReturning(nil, nil)))

	var signals []broker.Signal
	notifier := &mockNotifier{
		NotifyFunc: func(ctx context.Context, sig broker.Signal) error {
			signals = append(signals, sig)
			return nil
		},
	}
	stores := memory.New()
	m := NewJobManager(stores.Jobs, reg, WithNotifier(notifier), WithJobManagerClock(func() time.Time { return t0 }))

	job, err := m.Enqueue(context.Background(), testTenant, "catalog_export", json.RawMessage(`{"format":"csv"}`), types.EnqueueOptions{
		Metadata: types.Metadata{"user_id": "u1"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, state.StatusPending, job.Status)
	assert.Equal(t, types.PriorityNormal, job.Priority)
	assert.Equal(t, 3, job.MaxRetries)
	assert.Equal(t, t0, job.CreatedAt)

	stored, err := stores.Jobs.FindByID(context.Background(), testTenant, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "u1", stored.Metadata["user_id"])

	require.Len(t, signals, 1)
	assert.Equal(t, broker.Signal{TenantID: testTenant, JobID: job.ID}, signals[0])
}

func TestJobManager_EnqueueSurvivesNotifyFailure(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register("catalog_export", handlerReturning(nil, nil)))
	notifier := &mockNotifier{
		NotifyFunc: func(ctx context.Context, sig broker.Signal) error { return errors.New("broker down") },
	}
	m := NewJobManager(memory.New().Jobs, reg, WithNotifier(notifier))

	job, err := m.Enqueue(context.Background(), testTenant, "catalog_export", nil, types.EnqueueOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
}

func TestJobManager_EnqueueRejects(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register("catalog_export", handlerReturning(nil, nil)))
	m := NewJobManager(memory.New().Jobs, reg)
	ctx := context.Background()

	_, err := m.Enqueue(ctx, testTenant, "unknown", nil, types.EnqueueOptions{})
	assert.ErrorIs(t, err, custom_errors.ErrHandlerNotFound)

	negative := -1
	_, err = m.Enqueue(ctx, testTenant, "catalog_export", json.RawMessage(`{bad`), types.EnqueueOptions{
		Priority:   types.Priority(7),
		MaxRetries: &negative,
	})
	var verr *custom_errors.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Errors, 3)
}

func TestJobManager_StatusCancelCounts(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register("translate", handlerReturning(nil, nil)))
	stores := memory.New()
	m := NewJobManager(stores.Jobs, reg)
	ctx := context.Background()

	job, err := m.Enqueue(ctx, testTenant, "translate", nil, types.EnqueueOptions{Priority: types.PriorityHigh})
	require.NoError(t, err)

	view, err := m.GetStatus(ctx, testTenant, job.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusPending, view.Status)
	assert.Equal(t, 0, view.Progress)

	_, err = m.GetStatus(ctx, "other-store", job.ID)
	assert.ErrorIs(t, err, custom_errors.ErrJobNotFound)

	cancelled, err := m.Cancel(ctx, testTenant, job.ID)
	require.NoError(t, err)
	assert.True(t, cancelled.CancelRequested)

	counts, err := m.Counts(ctx, testTenant)
	require.NoError(t, err)
	assert.Len(t, counts, len(state.AllStatuses))
	assert.Equal(t, 1, counts[state.StatusPending])
	assert.Equal(t, 0, counts[state.StatusFailed])

	page, err := m.List(ctx, testTenant, state.StatusPending, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, page.TotalItems)
}
