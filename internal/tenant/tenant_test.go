package tenant

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/assaka/daino/custom_errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := WithTenant(context.Background(), "store-1")
	id, ok := FromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "store-1", id)

	got, err := Require(ctx)
	require.NoError(t, err)
	assert.Equal(t, "store-1", got)

	_, err = Require(WithTenant(context.Background(), ""))
	assert.ErrorIs(t, err, custom_errors.ErrTenantRequired)
}

func TestStaticDirectory(t *testing.T) {
	d := NewStaticDirectory(Tenant{ID: "b"}, Tenant{ID: "a", Plan: "pro"})
	list, err := d.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)

	got, err := d.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "pro", got.Plan)

	_, err = d.Get(context.Background(), "zzz")
	assert.ErrorIs(t, err, custom_errors.ErrTenantNotFound)
}

func TestPool_SharesHandlesPerURL(t *testing.T) {
	dir := NewStaticDirectory(
		Tenant{ID: "a"},
		Tenant{ID: "b"},
		Tenant{ID: "c", PostgresURL: "postgres://c"},
	)
	opened := map[string]int{}
	pool := NewPool(dir, "postgres://shared", WithOpenFunc(func(dsn string) (*sql.DB, error) {
		opened[dsn]++
		db, mock, err := sqlmock.New()
		if err != nil {
			return nil, err
		}
		mock.ExpectClose()
		return db, nil
	}))

	ctx := context.Background()
	dbA, err := pool.DB(ctx, "a")
	require.NoError(t, err)
	dbB, err := pool.DB(ctx, "b")
	require.NoError(t, err)
	dbC, err := pool.DB(ctx, "c")
	require.NoError(t, err)
	_, err = pool.DB(ctx, "")
	require.NoError(t, err)

	assert.Same(t, dbA, dbB)
	assert.NotSame(t, dbA, dbC)
	assert.Equal(t, 1, opened["postgres://shared"])
	assert.Equal(t, 1, opened["postgres://c"])
	assert.NoError(t, pool.Close())
}

func TestPool_UnknownTenant(t *testing.T) {
	pool := NewPool(NewStaticDirectory(), "postgres://shared", WithOpenFunc(func(string) (*sql.DB, error) {
		return nil, errors.New("should not open")
	}))
	_, err := pool.DB(context.Background(), "ghost")
	assert.ErrorIs(t, err, custom_errors.ErrTenantNotFound)
}

func TestSingleDB(t *testing.T) {
	_, err := SingleDB{}.DB(context.Background(), "a")
	assert.Error(t, err)
}
