package lock

import (
	"context"
	"database/sql"
	"fmt"
	"github.com/assaka/daino/custom_errors"
	"github.com/assaka/daino/internal/tenant"
	"time"
)

// PostgresLocker uses session advisory locks in the tenant's own database.
// The lock belongs to the connection that took it, so each lease pins one
// connection until it is released.
type PostgresLocker struct {
	conns tenant.ConnResolver
}

func NewPostgresLocker(conns tenant.ConnResolver) *PostgresLocker {
	return &PostgresLocker{conns: conns}
}

func (l *PostgresLocker) TryAcquire(ctx context.Context, tenantID, name string) (Lease, error) {
	db, err := l.conns.DB(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock connection: %w", err)
	}

	key := AdvisoryKey(Key(tenantID, name))
	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&acquired); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		conn.Close()
		return nil, custom_errors.ErrLockNotAcquired
	}
	return &pgLease{conn: conn, key: key}, nil
}

type pgLease struct {
	conn *sql.Conn
	key  int64
}

func (p *pgLease) Release(ctx context.Context) error {
	defer p.conn.Close()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := p.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", p.key); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}
