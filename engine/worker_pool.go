package engine

import (
	"context"
	"errors"
	"github.com/assaka/daino/custom_errors"
	"github.com/assaka/daino/internal/backoff"
	"github.com/assaka/daino/internal/broker"
	"github.com/assaka/daino/internal/constants"
	"github.com/assaka/daino/internal/lock"
	"github.com/assaka/daino/internal/logging"
	"github.com/assaka/daino/internal/state"
	"github.com/assaka/daino/internal/store"
	"github.com/assaka/daino/internal/tenant"
	"github.com/assaka/daino/registry"
	"github.com/assaka/daino/types"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
	"sync"
	"time"
)

type PoolConfig struct {
	WorkerID          string
	Concurrency       int
	PollInterval      time.Duration
	RequeueInterval   time.Duration
	ReaperInterval    time.Duration
	HeartbeatInterval time.Duration
	StaleAfter        time.Duration
	// TenantRate caps claims per second per tenant. Zero disables the limit.
	TenantRate  float64
	TenantBurst int
	BatchSize   int
}

func (c *PoolConfig) setDefaults() {
	if c.WorkerID == "" {
		c.WorkerID = "daino-worker"
	}
	if c.Concurrency < 1 {
		c.Concurrency = constants.DefaultWorkerConcurrency
	}
	if c.PollInterval <= 0 {
		c.PollInterval = constants.DefaultPollInterval
	}
	if c.RequeueInterval <= 0 {
		c.RequeueInterval = constants.DefaultRequeueInterval
	}
	if c.ReaperInterval <= 0 {
		c.ReaperInterval = constants.DefaultReaperInterval
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = constants.DefaultHeartbeatInterval
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = constants.DefaultStaleAfter
	}
	if c.BatchSize < 1 {
		c.BatchSize = constants.DefaultBatchSize
	}
}

// JobObserver is told about every job that reached a terminal state.
type JobObserver interface {
	JobFinished(ctx context.Context, job *types.Job)
}

// WorkerPool claims pending jobs and runs at most Concurrency of them at
// once. Correctness across processes rests on the store's conditional
// claim; the pool's own state is only a cache of what it is running.
type WorkerPool struct {
	cfg        PoolConfig
	jobs       store.JobStore
	registry   *registry.Registry
	tenants    Tenants
	conns      tenant.ConnResolver
	locker     lock.Locker
	subscriber broker.Subscriber
	strategy   backoff.Strategy
	observer   JobObserver
	logger     logrus.FieldLogger
	clock      Clock

	sem     *semaphore.Weighted
	wake    chan struct{}
	running sync.WaitGroup

	limMu    sync.Mutex
	limiters map[string]*rate.Limiter
}

type PoolOption func(*WorkerPool)

func WithPoolLocker(l lock.Locker) PoolOption {
	return func(p *WorkerPool) { p.locker = l }
}

func WithPoolSubscriber(s broker.Subscriber) PoolOption {
	return func(p *WorkerPool) { p.subscriber = s }
}

func WithBackoff(s backoff.Strategy) PoolOption {
	return func(p *WorkerPool) { p.strategy = s }
}

func WithJobObserver(o JobObserver) PoolOption {
	return func(p *WorkerPool) { p.observer = o }
}

func WithPoolConns(c tenant.ConnResolver) PoolOption {
	return func(p *WorkerPool) { p.conns = c }
}

func WithPoolLogger(l logrus.FieldLogger) PoolOption {
	return func(p *WorkerPool) { p.logger = logging.OrDiscard(l) }
}

func WithPoolClock(c Clock) PoolOption {
	return func(p *WorkerPool) { p.clock = c }
}

func NewWorkerPool(cfg PoolConfig, jobs store.JobStore, reg *registry.Registry, tenants Tenants, opts ...PoolOption) *WorkerPool {
	cfg.setDefaults()
	p := &WorkerPool{
		cfg:      cfg,
		jobs:     jobs,
		registry: reg,
		tenants:  tenants,
		strategy: backoff.Default(),
		logger:   logging.Discard(),
		clock:    systemClock,
		sem:      semaphore.NewWeighted(int64(cfg.Concurrency)),
		wake:     make(chan struct{}, 1),
		limiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.WithField("worker", cfg.WorkerID)
	return p
}

// Run reaps jobs left behind by dead workers, then dispatches, requeues and
// reaps until ctx is done. Jobs already running are allowed to finish.
func (p *WorkerPool) Run(ctx context.Context) error {
	if _, err := p.Reap(ctx); err != nil {
		p.logger.WithError(err).Warn("startup reap failed")
	}
	p.logger.WithField("concurrency", p.cfg.Concurrency).Info("worker pool started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p.dispatchLoop(gctx)
		return nil
	})
	g.Go(func() error {
		p.every(gctx, p.cfg.RequeueInterval, func(ctx context.Context) error {
			_, err := p.RequeueDue(ctx)
			return err
		})
		return nil
	})
	g.Go(func() error {
		p.every(gctx, p.cfg.ReaperInterval, func(ctx context.Context) error {
			_, err := p.Reap(ctx)
			return err
		})
		return nil
	})
	if p.subscriber != nil {
		g.Go(func() error {
			p.listen(gctx)
			return nil
		})
	}

	err := g.Wait()
	p.running.Wait()
	p.logger.Info("worker pool stopped")
	return err
}

// Wake makes the dispatch loop poll now instead of at the next interval.
func (p *WorkerPool) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Wait blocks until every job started by Dispatch has been persisted.
func (p *WorkerPool) Wait() {
	p.running.Wait()
}

func (p *WorkerPool) dispatchLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if _, err := p.Dispatch(ctx); err != nil {
			p.logger.WithError(err).Warn("dispatch failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-p.wake:
		}
	}
}

func (p *WorkerPool) every(ctx context.Context, interval time.Duration, fn func(ctx context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				p.logger.WithError(err).Warn("maintenance pass failed")
			}
		}
	}
}

// listen turns broker signals into wake-ups. If the broker cannot be
// reached the pool keeps working on polling alone.
func (p *WorkerPool) listen(ctx context.Context) {
	signals, err := p.subscriber.Subscribe(ctx)
	if err != nil {
		p.logger.WithError(err).Warn("broker subscribe failed, polling only")
		return
	}
	for range signals {
		p.Wake()
	}
}

// Dispatch claims jobs round-robin across tenants until the pool is full or
// nothing is pending, and starts each claimed job. It returns the number started.
func (p *WorkerPool) Dispatch(ctx context.Context) (int, error) {
	ids, err := p.tenants.TenantIDs(ctx)
	if err != nil {
		return 0, err
	}

	started := 0
	active := ids
	for len(active) > 0 {
		var next []string
		for _, tenantID := range active {
			if ctx.Err() != nil {
				return started, nil
			}
			if !p.sem.TryAcquire(1) {
				return started, nil
			}
			job, err := p.claim(ctx, tenantID)
			if err != nil || job == nil {
				p.sem.Release(1)
				if err != nil {
					p.logger.WithError(err).WithField("tenant_id", tenantID).Warn("claim failed")
				}
				continue
			}
			started++
			next = append(next, tenantID)

			p.running.Add(1)
			go func() {
				defer p.running.Done()
				defer p.Wake()
				defer p.sem.Release(1)
				p.execute(ctx, job)
			}()
		}
		active = next
	}
	return started, nil
}

func (p *WorkerPool) claim(ctx context.Context, tenantID string) (*types.Job, error) {
	release, ok := p.reserve(tenantID)
	if !ok {
		return nil, nil
	}
	job, err := p.jobs.ClaimNext(ctx, tenantID, p.cfg.WorkerID, p.clock())
	if job == nil || err != nil {
		// An empty poll gives the token back.
		release()
	}
	if errors.Is(err, custom_errors.ErrClaimConflict) {
		return nil, nil
	}
	return job, err
}

// reserve takes one dispatch token from the tenant's limiter. The returned
// func hands the token back.
func (p *WorkerPool) reserve(tenantID string) (func(), bool) {
	if p.cfg.TenantRate <= 0 {
		return func() {}, true
	}
	p.limMu.Lock()
	l, ok := p.limiters[tenantID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(p.cfg.TenantRate), max(p.cfg.TenantBurst, 1))
		p.limiters[tenantID] = l
	}
	p.limMu.Unlock()

	// Cancelling restores tokens only at the reservation's own instant.
	now := time.Now()
	res := l.ReserveN(now, 1)
	if !res.OK() {
		return nil, false
	}
	if res.DelayFrom(now) > 0 {
		res.CancelAt(now)
		return nil, false
	}
	return func() { res.CancelAt(now) }, true
}

// execute runs one claimed job and persists its outcome. The handler runs
// detached from the pool's context so a shutdown lets it finish.
func (p *WorkerPool) execute(ctx context.Context, job *types.Job) {
	ctx = tenant.WithTenant(context.WithoutCancel(ctx), job.TenantID)
	log := p.logger.WithFields(logrus.Fields{
		"tenant_id": job.TenantID,
		"job_id":    job.ID,
		"job_type":  job.Type,
		"attempt":   job.AttemptCount + 1,
	})

	res := p.run(ctx, job, log)
	p.persist(ctx, job, res, log)
}

func (p *WorkerPool) run(ctx context.Context, job *types.Job, log logrus.FieldLogger) types.JobResult {
	res := types.JobResult{JobID: job.ID, TenantID: job.TenantID, MaxRetries: job.MaxRetries}

	if job.CancelRequested {
		res.Status = state.StatusFailed
		res.Err = custom_errors.ErrJobCancelled
		res.Attempts = job.AttemptCount
		res.FinishedAt = p.clock()
		return res
	}

	res.Attempts = job.AttemptCount + 1
	reg, err := p.registry.Resolve(job.Type)
	if err != nil {
		res.Status = state.StatusFailed
		res.Err = err
		res.FinishedAt = p.clock()
		return res
	}

	hctx, cancel := withTimeout(ctx, reg.Timeout)
	defer cancel()

	ec := registry.NewExecContext(job.TenantID, log, tenantDB(p.conns, job.TenantID),
		func(ctx context.Context, percent int, message string) (bool, error) {
			return p.jobs.UpdateProgress(ctx, job.TenantID, job.ID, p.cfg.WorkerID, percent, message, p.clock())
		}, cancel)

	stop := p.heartbeat(hctx, job, ec, log)
	out, err := invoke(hctx, reg.Handler, job, ec)
	stop()

	res.FinishedAt = p.clock()
	switch {
	case err == nil:
		res.Status = state.StatusCompleted
		res.Result = out
	case ec.Cancelled():
		res.Status = state.StatusFailed
		res.Err = custom_errors.ErrJobCancelled
	case custom_errors.Classify(err) == custom_errors.ClassTransient && res.Attempts <= job.MaxRetries:
		res.Status = state.StatusRetrying
		res.Err = err
		res.NextAttemptAt = ptr(backoff.NextAttemptAt(p.strategy, res.Attempts, res.FinishedAt))
	default:
		res.Status = state.StatusFailed
		res.Err = err
	}
	return res
}

// heartbeat keeps heartbeat_at fresh while the handler runs and relays
// cancellation requests. The returned func stops it.
func (p *WorkerPool) heartbeat(ctx context.Context, job *types.Job, ec *registry.ExecContext, log logrus.FieldLogger) func() {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(p.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				requested, err := p.jobs.Heartbeat(ctx, job.TenantID, job.ID, p.cfg.WorkerID, p.clock())
				switch {
				case errors.Is(err, custom_errors.ErrClaimConflict):
					log.Warn("job was reclaimed while running, cancelling")
					ec.MarkCancelled()
				case err != nil:
					log.WithError(err).Warn("heartbeat failed")
				case requested:
					log.Info("cancellation requested")
					ec.MarkCancelled()
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func (p *WorkerPool) persist(ctx context.Context, job *types.Job, res types.JobResult, log logrus.FieldLogger) {
	var errMsg string
	if res.Err != nil {
		errMsg = res.Err.Error()
	}

	var err error
	switch res.Status {
	case state.StatusCompleted:
		err = p.jobs.MarkCompleted(ctx, job.TenantID, job.ID, p.cfg.WorkerID, res.Result, res.FinishedAt)
	case state.StatusRetrying:
		err = p.jobs.MarkRetrying(ctx, job.TenantID, job.ID, p.cfg.WorkerID, res.Attempts, errMsg, *res.NextAttemptAt, res.FinishedAt)
	default:
		err = p.jobs.MarkFailed(ctx, job.TenantID, job.ID, p.cfg.WorkerID, res.Attempts, errMsg, res.FinishedAt)
	}
	if errors.Is(err, custom_errors.ErrClaimConflict) {
		log.Warn("job was reclaimed before its outcome was stored")
		return
	}
	if err != nil {
		log.WithError(err).Error("failed to store job outcome")
		return
	}

	entry := log.WithField("status", res.Status.String())
	switch res.Status {
	case state.StatusCompleted:
		entry.Info("job completed")
	case state.StatusRetrying:
		entry.WithError(res.Err).WithField("next_attempt_at", res.NextAttemptAt).Warn("job attempt failed, retrying")
	default:
		entry.WithError(res.Err).WithField("class", custom_errors.Classify(res.Err).String()).Error("job failed")
	}

	if res.Status.IsTerminal() && p.observer != nil {
		finished := *job
		finished.Status = res.Status
		finished.AttemptCount = res.Attempts
		finished.Result = res.Result
		finished.FinishedAt = ptr(res.FinishedAt)
		if res.Err != nil {
			finished.Error = ptr(errMsg)
		}
		p.observer.JobFinished(ctx, &finished)
	}
}

// RequeueDue moves retrying jobs whose backoff has elapsed back to pending.
func (p *WorkerPool) RequeueDue(ctx context.Context) (int, error) {
	ids, err := p.tenants.TenantIDs(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	var errs []error
	for _, tenantID := range ids {
		_, err := withTenantLock(ctx, p.locker, p.logger, tenantID, constants.RequeueLock, func(ctx context.Context) error {
			n, err := p.jobs.RequeueDue(ctx, tenantID, p.clock(), p.cfg.BatchSize)
			total += n
			return err
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	if total > 0 {
		p.logger.WithField("count", total).Debug("retrying jobs requeued")
		p.Wake()
	}
	return total, errors.Join(errs...)
}

// Reap reclaims running jobs whose worker stopped heart-beating. Jobs that
// run out of retries this way are reported to the observer as failed.
func (p *WorkerPool) Reap(ctx context.Context) (int, error) {
	ids, err := p.tenants.TenantIDs(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	var errs []error
	for _, tenantID := range ids {
		_, err := withTenantLock(ctx, p.locker, p.logger, tenantID, constants.ReaperLock, func(ctx context.Context) error {
			now := p.clock()
			reaped, err := p.jobs.ReapStale(ctx, tenantID, now.Add(-p.cfg.StaleAfter), now)
			if err != nil {
				return err
			}
			total += len(reaped)
			for i := range reaped {
				job := &reaped[i]
				p.logger.WithFields(logrus.Fields{
					"tenant_id": job.TenantID,
					"job_id":    job.ID,
					"job_type":  job.Type,
					"status":    job.Status.String(),
				}).Warn("reclaimed job from lost worker")
				if job.Status.IsTerminal() && p.observer != nil {
					p.observer.JobFinished(ctx, job)
				}
			}
			return nil
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	if total > 0 {
		p.Wake()
	}
	return total, errors.Join(errs...)
}
