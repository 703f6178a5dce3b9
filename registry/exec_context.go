package registry

import (
	"context"
	"database/sql"
	"github.com/sirupsen/logrus"
	"sync"
	"sync/atomic"
)

// ProgressFunc observes progress updates of a running job.
type ProgressFunc func(percent int, message string)

// ProgressWriter persists a progress update and reports whether the job's
// cancellation has been requested.
type ProgressWriter func(ctx context.Context, percent int, message string) (bool, error)

// ExecContext is what a handler sees of the engine while it runs.
type ExecContext struct {
	TenantID string
	Logger   logrus.FieldLogger

	db        func(ctx context.Context) (*sql.DB, error)
	write     ProgressWriter
	cancel    context.CancelFunc
	cancelled atomic.Bool

	mu        sync.Mutex
	listeners []ProgressFunc
}

// NewExecContext builds the context for one attempt. cancel is invoked once
// cancellation is observed and may be nil.
func NewExecContext(tenantID string, logger logrus.FieldLogger, db func(ctx context.Context) (*sql.DB, error), write ProgressWriter, cancel context.CancelFunc) *ExecContext {
	return &ExecContext{
		TenantID: tenantID,
		Logger:   logger,
		db:       db,
		write:    write,
		cancel:   cancel,
	}
}

// DB returns the tenant's database handle.
func (ec *ExecContext) DB(ctx context.Context) (*sql.DB, error) {
	if ec.db == nil {
		return nil, sql.ErrConnDone
	}
	return ec.db(ctx)
}

// UpdateProgress persists percent (clamped to 0..100) and message. Long
// handlers should call it between steps; it also keeps the job's heartbeat fresh.
func (ec *ExecContext) UpdateProgress(ctx context.Context, percent int, message string) error {
	percent = min(max(percent, 0), 100)
	if ec.write != nil {
		requested, err := ec.write(ctx, percent, message)
		if err != nil {
			return err
		}
		if requested {
			ec.MarkCancelled()
		}
	}

	ec.mu.Lock()
	listeners := append([]ProgressFunc(nil), ec.listeners...)
	ec.mu.Unlock()
	for _, cb := range listeners {
		cb(percent, message)
	}
	return nil
}

// OnProgress registers a progress observer.
func (ec *ExecContext) OnProgress(cb ProgressFunc) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.listeners = append(ec.listeners, cb)
}

// Cancelled reports whether cancellation was requested. Handlers poll it between steps.
func (ec *ExecContext) Cancelled() bool {
	return ec.cancelled.Load()
}

// MarkCancelled records a cancellation request and cancels the handler's context.
func (ec *ExecContext) MarkCancelled() {
	if ec.cancelled.CompareAndSwap(false, true) && ec.cancel != nil {
		ec.cancel()
	}
}
