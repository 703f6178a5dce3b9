// Package engine runs jobs and schedules on top of the durable stores:
// JobManager enqueues and inspects jobs, WorkerPool claims and executes
// them, Scheduler fires due schedules on every tick and History aggregates
// what happened.
package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/assaka/daino/custom_errors"
	"github.com/assaka/daino/internal/constants"
	"github.com/assaka/daino/internal/lock"
	"github.com/assaka/daino/internal/tenant"
	"github.com/assaka/daino/registry"
	"github.com/assaka/daino/types"
	"github.com/sirupsen/logrus"
	"time"
)

// Clock returns the current time. Tests pin it.
type Clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }

// Tenants enumerates the tenants a pool or a tick walks.
type Tenants interface {
	TenantIDs(ctx context.Context) ([]string, error)
}

// DirectoryTenants lists the system tenant followed by every tenant of the directory.
type DirectoryTenants struct {
	Dir tenant.Directory
}

func (d DirectoryTenants) TenantIDs(ctx context.Context) ([]string, error) {
	ts, err := d.Dir.List(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(ts)+1)
	ids = append(ids, constants.SystemTenant)
	for _, t := range ts {
		if t.ID != constants.SystemTenant {
			ids = append(ids, t.ID)
		}
	}
	return ids, nil
}

// FixedTenants is a static tenant list, e.g. a worker pinned to one store.
type FixedTenants []string

func (f FixedTenants) TenantIDs(context.Context) ([]string, error) {
	return append([]string(nil), f...), nil
}

func ptr[T any](v T) *T { return &v }

// withTenantLock runs fn while holding the named lock for tenantID. It
// reports false without running fn when another process holds the lock.
// A nil locker runs fn unguarded.
func withTenantLock(ctx context.Context, locker lock.Locker, logger logrus.FieldLogger, tenantID, name string, fn func(ctx context.Context) error) (bool, error) {
	if locker == nil {
		return true, fn(ctx)
	}
	lease, err := locker.TryAcquire(ctx, tenantID, name)
	if errors.Is(err, custom_errors.ErrLockNotAcquired) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer func() {
		if err := lease.Release(ctx); err != nil {
			logger.WithError(err).WithFields(logrus.Fields{"tenant_id": tenantID, "lock": name}).Warn("lock release failed")
		}
	}()
	return true, fn(ctx)
}

// invoke runs a handler and turns a panic into an error.
func invoke(ctx context.Context, h registry.Handler, job *types.Job, ec *registry.ExecContext) (out json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Execute(ctx, job, ec)
}

// tenantDB binds a resolver to one tenant for an ExecContext.
func tenantDB(conns tenant.ConnResolver, tenantID string) func(ctx context.Context) (*sql.DB, error) {
	if conns == nil {
		return nil
	}
	return func(ctx context.Context) (*sql.DB, error) {
		return conns.DB(ctx, tenantID)
	}
}

// withTimeout bounds ctx by d; zero means cancel-only.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}
