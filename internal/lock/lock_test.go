package lock

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/assaka/daino/custom_errors"
	"github.com/assaka/daino/internal/tenant"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvisoryKey_Stable(t *testing.T) {
	assert.Equal(t, AdvisoryKey("daino:tick/store-1"), AdvisoryKey("daino:tick/store-1"))
	assert.NotEqual(t, AdvisoryKey(Key("store-1", "daino:tick")), AdvisoryKey(Key("store-2", "daino:tick")))
}

func TestPostgresLocker_Acquire(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	key := AdvisoryKey(Key("store-1", "daino:tick"))
	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WithArgs(key).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectExec("SELECT pg_advisory_unlock").
		WithArgs(key).
		WillReturnResult(sqlmock.NewResult(0, 0))

	locker := NewPostgresLocker(tenant.SingleDB{Conn: db})
	lease, err := locker.TryAcquire(context.Background(), "store-1", "daino:tick")
	require.NoError(t, err)
	require.NoError(t, lease.Release(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLocker_Busy(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

	locker := NewPostgresLocker(tenant.SingleDB{Conn: db})
	_, err = locker.TryAcquire(context.Background(), "store-1", "daino:tick")
	assert.ErrorIs(t, err, custom_errors.ErrLockNotAcquired)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLocker_Error(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT pg_try_advisory_lock").WillReturnError(sql.ErrConnDone)

	locker := NewPostgresLocker(tenant.SingleDB{Conn: db})
	_, err = locker.TryAcquire(context.Background(), "store-1", "daino:tick")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to acquire lock")
}

func TestLocalLocker(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	lease, err := l.TryAcquire(ctx, "store-1", "daino:tick")
	require.NoError(t, err)

	_, err = l.TryAcquire(ctx, "store-1", "daino:tick")
	assert.ErrorIs(t, err, custom_errors.ErrLockNotAcquired)

	other, err := l.TryAcquire(ctx, "store-2", "daino:tick")
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lease.Release(ctx))
	require.NoError(t, lease.Release(ctx))
	again, err := l.TryAcquire(ctx, "store-1", "daino:tick")
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestRedisLocker_Unreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close()

	_, err := NewRedisLocker(client, time.Second).TryAcquire(context.Background(), "store-1", "daino:tick")
	require.Error(t, err)
	assert.NotErrorIs(t, err, custom_errors.ErrLockNotAcquired)
}

func TestRedisLocker_Live(t *testing.T) {
	addr := os.Getenv("DAINO_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("DAINO_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	l := NewRedisLocker(client, 10*time.Second)
	ctx := context.Background()

	lease, err := l.TryAcquire(ctx, "store-1", "daino:test")
	require.NoError(t, err)
	_, err = l.TryAcquire(ctx, "store-1", "daino:test")
	assert.ErrorIs(t, err, custom_errors.ErrLockNotAcquired)
	require.NoError(t, lease.Release(ctx))
}
