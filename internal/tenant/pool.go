package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"github.com/assaka/daino/custom_errors"
	"github.com/sirupsen/logrus"
	"io"
	"sync"
	"time"
)

// ConnResolver returns the database holding a tenant's rows.
type ConnResolver interface {
	DB(ctx context.Context, tenantID string) (*sql.DB, error)
}

// SingleDB resolves every tenant to the same database.
type SingleDB struct {
	Conn *sql.DB
}

func (s SingleDB) DB(context.Context, string) (*sql.DB, error) {
	if s.Conn == nil {
		return nil, errors.New("tenant: no database configured")
	}
	return s.Conn, nil
}

// OpenFunc opens a database handle for a DSN.
type OpenFunc func(dsn string) (*sql.DB, error)

// PoolOption configures a Pool.
type PoolOption func(*Pool)

func WithOpenFunc(fn OpenFunc) PoolOption {
	return func(p *Pool) { p.open = fn }
}

func WithPoolLogger(l logrus.FieldLogger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

// WithMaxOpenConns caps connections per tenant database.
func WithMaxOpenConns(n int) PoolOption {
	return func(p *Pool) { p.maxOpen = n }
}

// Pool lazily opens one *sql.DB per distinct tenant database. Tenants that
// share a URL share a handle.
type Pool struct {
	dir        Directory
	defaultURL string
	open       OpenFunc
	logger     logrus.FieldLogger
	maxOpen    int

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

func NewPool(dir Directory, defaultURL string, opts ...PoolOption) *Pool {
	p := &Pool{
		dir:        dir,
		defaultURL: defaultURL,
		open:       openPostgres,
		maxOpen:    10,
		dbs:        make(map[string]*sql.DB),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		p.logger = l
	}
	return p
}

// DB returns the handle for tenantID. The system tenant uses the default URL.
func (p *Pool) DB(ctx context.Context, tenantID string) (*sql.DB, error) {
	dsn := p.defaultURL
	if tenantID != "" && p.dir != nil {
		t, err := p.dir.Get(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		if t.PostgresURL != "" {
			dsn = t.PostgresURL
		}
	}
	if dsn == "" {
		return nil, fmt.Errorf("%w: no database for tenant %q", custom_errors.ErrTenantNotFound, tenantID)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if db, ok := p.dbs[dsn]; ok {
		return db, nil
	}
	db, err := p.open(dsn)
	if err != nil {
		return nil, fmt.Errorf("open tenant %q database: %w", tenantID, err)
	}
	if p.maxOpen > 0 {
		db.SetMaxOpenConns(p.maxOpen)
		db.SetMaxIdleConns(p.maxOpen / 2)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	p.dbs[dsn] = db
	p.logger.WithField("tenant_id", tenantID).Debug("opened tenant database")
	return db, nil
}

// Close closes every handle the pool opened.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for dsn, db := range p.dbs {
		if err := db.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(p.dbs, dsn)
	}
	return errors.Join(errs...)
}

func openPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return db, nil
}
