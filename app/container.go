package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"github.com/assaka/daino/engine"
	"github.com/assaka/daino/handlers"
	"github.com/assaka/daino/internal/broker"
	"github.com/assaka/daino/internal/constants"
	"github.com/assaka/daino/internal/lock"
	"github.com/assaka/daino/internal/logging"
	"github.com/assaka/daino/internal/store"
	"github.com/assaka/daino/internal/store/memory"
	"github.com/assaka/daino/internal/store/postgres"
	"github.com/assaka/daino/internal/tenant"
	"github.com/assaka/daino/registry"
	"github.com/assaka/daino/types/config"
	"github.com/assaka/daino/web"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"os"
)

// Container holds all application dependencies. It is the single source of truth
// for dependency injection and ensures connections and services are created once.
type Container struct {
	Config *config.DainoConfig
	Logger *logrus.Logger

	// Tenant directory and per-tenant database handles. Conns is nil with memory storage.
	Directory *tenant.StaticDirectory
	Conns     tenant.ConnResolver
	Redis     *redis.Client

	Stores store.Stores
	Locker lock.Locker
	Broker broker.Broker

	Registry  *registry.Registry
	Manager   *engine.JobManager
	Scheduler *engine.Scheduler
	History   *engine.History

	authorizer web.Authorizer
	closers    []func() error
}

// NewContainer creates and wires all dependencies. Single entry point for DI.
// Call this once per application lifecycle.
func NewContainer(ctx context.Context, cfg *config.DainoConfig, opts ...ContainerOption) (*Container, error) {
	opt := &containerConfig{}
	for _, o := range opts {
		o(opt)
	}

	c := &Container{
		Config:     cfg,
		Directory:  tenant.NewStaticDirectory(cfg.Tenants...),
		Registry:   registry.New(),
		authorizer: opt.authorizer,
	}

	c.Logger = opt.logger
	if c.Logger == nil {
		l, closeLog, err := logging.New(cfg.Log)
		if err != nil {
			return nil, err
		}
		c.Logger = l
		c.onClose(func() error { closeLog(); return nil })
	}

	if err := c.initStorage(opt); err != nil {
		c.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}
	if err := c.initLocker(); err != nil {
		c.Close()
		return nil, fmt.Errorf("init lock: %w", err)
	}
	if err := c.initBroker(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("init broker: %w", err)
	}

	deps := opt.deps
	if cfg.Plugins.Endpoint != "" && deps.Plugins == nil {
		deps.Plugins = handlers.NewHTTPPluginRuntime(cfg.Plugins.Endpoint, nil)
		deps.PluginTypes = append(deps.PluginTypes, cfg.Plugins.Types...)
	}
	if err := handlers.Register(c.Registry, deps); err != nil {
		c.Close()
		return nil, fmt.Errorf("register handlers: %w", err)
	}
	if registered := c.Registry.Types(); len(registered) == 0 {
		c.Logger.Warn("no job types registered: built-in types need collaborators passed with app.WithHandlerDeps, plugin types need plugins.endpoint")
	} else {
		c.Logger.WithField("job_types", registered).Info("job types registered")
	}

	tenants := engine.DirectoryTenants{Dir: c.Directory}
	c.Manager = engine.NewJobManager(c.Stores.Jobs, c.Registry,
		engine.WithNotifier(c.Broker),
		engine.WithJobManagerLogger(c.Logger),
	)
	schedOpts := []engine.SchedulerOption{
		engine.WithSchedulerLocker(c.Locker),
		engine.WithSchedulerConns(c.Conns),
		engine.WithSchedulerLogger(c.Logger),
	}
	if opt.alerter != nil {
		schedOpts = append(schedOpts, engine.WithAlerter(opt.alerter))
	}
	c.Scheduler = engine.NewScheduler(engine.SchedulerConfig{
		FailureThreshold: cfg.Scheduler.FailureThreshold,
		InlineTimeout:    cfg.Scheduler.InlineTimeout,
		BatchSize:        cfg.Scheduler.BatchSize,
	}, c.Stores.CronJobs, c.Stores.Executions, c.Manager, c.Registry, tenants, schedOpts...)
	c.History = engine.NewHistory(c.Stores)
	return c, nil
}

func (c *Container) initStorage(opt *containerConfig) error {
	switch c.Config.Storage.Driver {
	case config.Memory:
		c.Stores = memory.New()
		return nil
	case config.Postgres:
		if opt.db != nil {
			c.Conns = tenant.SingleDB{Conn: opt.db}
		} else {
			pool := tenant.NewPool(c.Directory, c.Config.Storage.PostgresURL,
				tenant.WithPoolLogger(c.Logger),
				tenant.WithMaxOpenConns(c.Config.Storage.MaxOpenConns),
			)
			c.Conns = pool
			c.onClose(pool.Close)
		}
		c.Stores = postgres.NewStores(c.Conns)
		return nil
	}
	return fmt.Errorf("unsupported storage driver: %v", c.Config.Storage.Driver)
}

func (c *Container) redisClient(injected *redis.Client) (*redis.Client, error) {
	if c.Redis != nil {
		return c.Redis, nil
	}
	if injected != nil {
		c.Redis = injected
		return c.Redis, nil
	}
	if c.Config.Redis.Addr == "" {
		return nil, errors.New("redis: address is required")
	}
	c.Redis = redis.NewClient(&redis.Options{
		Addr:     c.Config.Redis.Addr,
		Password: c.Config.Redis.Password,
		DB:       c.Config.Redis.DB,
	})
	c.onClose(c.Redis.Close)
	return c.Redis, nil
}

func (c *Container) initLocker() error {
	switch c.Config.Lock.Driver {
	case config.LockLocal:
		c.Locker = lock.NewLocalLocker()
	case config.LockPostgres:
		if c.Conns == nil {
			return errors.New("postgres lock requires postgres storage")
		}
		c.Locker = lock.NewPostgresLocker(c.Conns)
	case config.LockRedis:
		client, err := c.redisClient(nil)
		if err != nil {
			return err
		}
		c.Locker = lock.NewRedisLocker(client, c.Config.Lock.TTL)
	default:
		return fmt.Errorf("unsupported lock driver: %v", c.Config.Lock.Driver)
	}
	return nil
}

func (c *Container) initBroker(ctx context.Context) error {
	cfg := c.Config.Broker
	var b broker.Broker
	switch cfg.Driver {
	case config.BrokerNone, "":
		c.Broker = broker.Noop{}
		return nil
	case config.BrokerLocal:
		b = broker.NewLocal()
	case config.BrokerRabbitMQ:
		r, err := broker.NewRabbitMQ(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.RoutingKey)
		if err != nil {
			return err
		}
		b = r
	case config.BrokerRedis:
		client, err := c.redisClient(nil)
		if err != nil {
			return err
		}
		b = broker.NewRedis(client, cfg.Channel)
	case config.BrokerPostgres:
		if c.Conns == nil {
			return errors.New("postgres broker requires postgres storage")
		}
		db, err := c.Conns.DB(ctx, constants.SystemTenant)
		if err != nil {
			return err
		}
		b = broker.NewPostgres(db, c.Config.Storage.PostgresURL, cfg.Channel, c.Logger)
	default:
		return fmt.Errorf("unsupported broker driver: %v", cfg.Driver)
	}
	c.onClose(b.Close)
	c.Broker = broker.NewBreaker(b, "broker:"+cfg.Driver.String(), c.Logger)
	return nil
}

// Migrate applies the schema to the system database and every tenant database.
func (c *Container) Migrate(ctx context.Context) error {
	if c.Conns == nil {
		return nil
	}
	ids, err := engine.DirectoryTenants{Dir: c.Directory}.TenantIDs(ctx)
	if err != nil {
		return err
	}
	done := make(map[*sql.DB]bool)
	for _, id := range ids {
		db, err := c.Conns.DB(ctx, id)
		if err != nil {
			return err
		}
		if done[db] {
			continue
		}
		if err := postgres.Migrate(ctx, db, c.Logger.WithField("tenant_id", id)); err != nil {
			return err
		}
		done[db] = true
	}
	return nil
}

// Bootstrap creates the system schedules and pauses schedules whose job
// type has no handler in this build.
func (c *Container) Bootstrap(ctx context.Context) error {
	created, err := c.Scheduler.EnsureSchedules(ctx, constants.SystemTenant, handlers.SystemSchedules(c.Registry)...)
	if err != nil {
		return fmt.Errorf("system schedules: %w", err)
	}
	if created > 0 {
		c.Logger.WithField("created", created).Info("system schedules created")
	}
	if err := c.Scheduler.Verify(ctx); err != nil {
		c.Logger.WithError(err).Warn("schedules without handler were paused")
	}
	return nil
}

// WorkerPool builds a pool. A non-empty tenantID dedicates the pool to that
// tenant and sizes it by the tenant's plan.
func (c *Container) WorkerPool(ctx context.Context, tenantID string) (*engine.WorkerPool, error) {
	w := c.Config.Worker
	cfg := engine.PoolConfig{
		WorkerID:          workerID(c.Config.Instance),
		Concurrency:       c.Config.ConcurrencyFor(""),
		PollInterval:      w.PollInterval,
		RequeueInterval:   w.RequeueInterval,
		ReaperInterval:    w.ReaperInterval,
		HeartbeatInterval: w.HeartbeatInterval,
		StaleAfter:        w.StaleAfter,
		TenantRate:        w.TenantRate,
		TenantBurst:       w.TenantBurst,
		BatchSize:         c.Config.Scheduler.BatchSize,
	}

	var tenants engine.Tenants = engine.DirectoryTenants{Dir: c.Directory}
	if tenantID != "" {
		t, err := c.Directory.Get(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		cfg.Concurrency = c.Config.ConcurrencyFor(t.Plan)
		tenants = engine.FixedTenants{tenantID}
	}

	return engine.NewWorkerPool(cfg, c.Stores.Jobs, c.Registry, tenants,
		engine.WithPoolLocker(c.Locker),
		engine.WithPoolSubscriber(c.Broker),
		engine.WithJobObserver(c.Scheduler),
		engine.WithPoolConns(c.Conns),
		engine.WithPoolLogger(c.Logger),
	), nil
}

// Server builds the HTTP API.
func (c *Container) Server() *web.Server {
	opts := []web.ServerOption{
		web.WithTriggerSecret(c.Config.HTTP.TriggerSecret),
		web.WithDirectory(c.Directory),
		web.WithLogger(c.Logger),
	}
	if c.authorizer != nil {
		opts = append(opts, web.WithAuthorizer(c.authorizer))
	}
	return web.NewServer(c.Manager, c.Scheduler, c.History, opts...)
}

func (c *Container) onClose(fn func() error) {
	c.closers = append(c.closers, fn)
}

// Close releases connections in reverse order of creation.
func (c *Container) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func workerID(instance string) string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s/%s/%d", instance, host, os.Getpid())
}
