package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/assaka/daino/custom_errors"
	"github.com/assaka/daino/internal/constants"
	"github.com/assaka/daino/internal/cronexpr"
	"github.com/assaka/daino/internal/lock"
	"github.com/assaka/daino/internal/logging"
	"github.com/assaka/daino/internal/state"
	"github.com/assaka/daino/internal/store"
	"github.com/assaka/daino/internal/tenant"
	"github.com/assaka/daino/registry"
	"github.com/assaka/daino/types"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"strconv"
	"strings"
	"time"
)

// maxTickRounds bounds how many batches one tenant may fire per tick.
const maxTickRounds = 100

type SchedulerConfig struct {
	// FailureThreshold pauses a schedule after that many consecutive failures.
	FailureThreshold int
	InlineTimeout    time.Duration
	BatchSize        int
}

func (c *SchedulerConfig) setDefaults() {
	if c.FailureThreshold < 1 {
		c.FailureThreshold = constants.DefaultFailureThreshold
	}
	if c.InlineTimeout <= 0 {
		c.InlineTimeout = constants.DefaultInlineTimeout
	}
	if c.BatchSize < 1 {
		c.BatchSize = constants.DefaultBatchSize
	}
}

// Alerter is the owning collaborator told when a schedule gets paused automatically.
type Alerter interface {
	SchedulePaused(ctx context.Context, cj types.CronJob, reason string)
}

// LogAlerter reports pauses to the log only.
type LogAlerter struct {
	Logger logrus.FieldLogger
}

func (a LogAlerter) SchedulePaused(_ context.Context, cj types.CronJob, reason string) {
	logging.OrDiscard(a.Logger).WithFields(logrus.Fields{
		"tenant_id":   cj.TenantID,
		"cron_job_id": cj.ID,
		"job_type":    cj.JobType,
		"source_type": string(cj.SourceType),
		"source_id":   cj.SourceID,
	}).Warn("schedule paused: " + reason)
}

// TickReport summarises one tick.
type TickReport struct {
	Tenants int `json:"tenants"`
	Fired   int `json:"fired"`
	// Skipped counts paused schedules whose slot was passed over.
	Skipped int `json:"skipped"`
	// Lost counts slots another concurrent tick advanced first.
	Lost int `json:"lost"`
	// Locked counts tenants skipped because another tick held their lock.
	Locked int `json:"locked"`
}

// Scheduler fires due schedules. It keeps no state between ticks: each Tick
// is a function of the stores and the given time, safe to call redundantly.
type Scheduler struct {
	cfg        SchedulerConfig
	cronJobs   store.CronJobStore
	executions store.ExecutionStore
	manager    *JobManager
	registry   *registry.Registry
	tenants    Tenants
	conns      tenant.ConnResolver
	locker     lock.Locker
	alerter    Alerter
	logger     logrus.FieldLogger
	clock      Clock
}

type SchedulerOption func(*Scheduler)

func WithSchedulerLocker(l lock.Locker) SchedulerOption {
	return func(s *Scheduler) { s.locker = l }
}

func WithAlerter(a Alerter) SchedulerOption {
	return func(s *Scheduler) { s.alerter = a }
}

func WithSchedulerConns(c tenant.ConnResolver) SchedulerOption {
	return func(s *Scheduler) { s.conns = c }
}

func WithSchedulerLogger(l logrus.FieldLogger) SchedulerOption {
	return func(s *Scheduler) { s.logger = logging.OrDiscard(l) }
}

func WithSchedulerClock(c Clock) SchedulerOption {
	return func(s *Scheduler) { s.clock = c }
}

func NewScheduler(cfg SchedulerConfig, cronJobs store.CronJobStore, executions store.ExecutionStore, manager *JobManager, reg *registry.Registry, tenants Tenants, opts ...SchedulerOption) *Scheduler {
	cfg.setDefaults()
	s := &Scheduler{
		cfg:        cfg,
		cronJobs:   cronJobs,
		executions: executions,
		manager:    manager,
		registry:   reg,
		tenants:    tenants,
		logger:     logging.Discard(),
		clock:      systemClock,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.alerter == nil {
		s.alerter = LogAlerter{Logger: s.logger}
	}
	return s
}

// Tick fires every schedule of every tenant that is due at now. A tenant
// whose tick lock is held elsewhere is skipped. Errors of one tenant do not
// stop the others.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (TickReport, error) {
	var report TickReport
	ids, err := s.tenants.TenantIDs(ctx)
	if err != nil {
		return report, err
	}

	var errs []error
	for _, tenantID := range ids {
		report.Tenants++
		ran, err := withTenantLock(ctx, s.locker, s.logger, tenantID, constants.TickLock, func(ctx context.Context) error {
			return s.tickTenant(ctx, tenantID, now, &report)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("tenant %q: %w", tenantID, err))
			continue
		}
		if !ran {
			report.Locked++
			s.logger.WithField("tenant_id", tenantID).Debug("tick lock held elsewhere, skipping tenant")
		}
	}

	s.logger.WithFields(logrus.Fields{
		"tenants": report.Tenants,
		"fired":   report.Fired,
		"skipped": report.Skipped,
		"lost":    report.Lost,
		"locked":  report.Locked,
	}).Info("tick finished")
	return report, errors.Join(errs...)
}

func (s *Scheduler) tickTenant(ctx context.Context, tenantID string, now time.Time, report *TickReport) error {
	for round := 0; round < maxTickRounds; round++ {
		due, err := s.cronJobs.FetchDue(ctx, tenantID, now, s.cfg.BatchSize)
		if err != nil {
			return err
		}
		moved := false
		for _, cj := range due {
			if s.fireDue(ctx, cj, now, report) {
				moved = true
			}
		}
		if len(due) < s.cfg.BatchSize || !moved {
			return nil
		}
	}
	return nil
}

// fireDue advances a due schedule past now and fires it unless it is
// paused. It reports whether the row left the due set.
func (s *Scheduler) fireDue(ctx context.Context, cj types.CronJob, now time.Time, report *TickReport) bool {
	log := s.logger.WithFields(logrus.Fields{"tenant_id": cj.TenantID, "cron_job_id": cj.ID, "job_type": cj.JobType})

	from := cj.NextRunAt
	if now.After(from) {
		from = now
	}
	next, err := cronexpr.Next(cj.CronExpression, cj.Timezone, from)
	if err != nil {
		log.WithError(err).Error("cannot compute next run")
		if !cj.IsPaused {
			s.pause(ctx, cj, fmt.Sprintf("invalid schedule: %v", err))
		}
		// Park the row past now so it leaves this tick's due set and
		// cannot starve the schedules ordered behind it.
		if _, err := s.cronJobs.AdvanceNextRun(ctx, cj.TenantID, cj.ID, cj.NextRunAt, now.Add(time.Minute)); err != nil {
			log.WithError(err).Error("failed to park broken schedule")
			return false
		}
		return true
	}

	advanced, err := s.cronJobs.AdvanceNextRun(ctx, cj.TenantID, cj.ID, cj.NextRunAt, next)
	if err != nil {
		log.WithError(err).Error("failed to advance next run")
		return false
	}
	if !advanced {
		report.Lost++
		return true
	}
	if cj.IsPaused {
		report.Skipped++
		return true
	}

	if _, err := s.fire(ctx, cj, now); err != nil {
		log.WithError(err).Error("failed to fire schedule")
		return true
	}
	report.Fired++
	return true
}

// fire records an execution and runs the schedule's job, inline or queued.
// next_run_at is not touched.
func (s *Scheduler) fire(ctx context.Context, cj types.CronJob, now time.Time) (int64, error) {
	log := s.logger.WithFields(logrus.Fields{"tenant_id": cj.TenantID, "cron_job_id": cj.ID, "job_type": cj.JobType})

	exec := &types.CronJobExecution{
		CronJobID: cj.ID,
		TenantID:  cj.TenantID,
		StartedAt: now,
		Status:    state.RunStarted,
	}
	execID, err := s.executions.Start(ctx, exec)
	if err != nil {
		return 0, err
	}

	reg, err := s.registry.Resolve(cj.JobType)
	if err != nil {
		s.complete(ctx, cj.TenantID, cj.ID, execID, nil, err, now)
		return execID, nil
	}

	if reg.Mode == registry.Inline {
		out, err := s.runInline(ctx, cj, reg, log)
		s.complete(ctx, cj.TenantID, cj.ID, execID, out, err, s.clock())
		return execID, nil
	}

	job, err := s.manager.Enqueue(ctx, cj.TenantID, cj.JobType, cj.Configuration, types.EnqueueOptions{
		Metadata: types.Metadata{
			constants.MetaCronJobID:   cj.ID,
			constants.MetaExecutionID: strconv.FormatInt(execID, 10),
			constants.MetaCorrelation: uuid.NewString(),
		},
	})
	if err != nil {
		s.complete(ctx, cj.TenantID, cj.ID, execID, nil, fmt.Errorf("enqueue: %w", err), now)
		return execID, nil
	}
	if err := s.executions.MarkDispatched(ctx, cj.TenantID, execID, job.ID); err != nil {
		log.WithError(err).Warn("failed to link execution to job")
	}
	log.WithField("job_id", job.ID).Info("schedule dispatched")
	return execID, nil
}

func (s *Scheduler) runInline(ctx context.Context, cj types.CronJob, reg registry.Registration, log logrus.FieldLogger) (json.RawMessage, error) {
	timeout := reg.Timeout
	if timeout <= 0 {
		timeout = s.cfg.InlineTimeout
	}
	ctx, cancel := context.WithTimeout(tenant.WithTenant(ctx, cj.TenantID), timeout)
	defer cancel()

	job := &types.Job{
		ID:       "cron:" + cj.ID,
		TenantID: cj.TenantID,
		Type:     cj.JobType,
		Payload:  cj.Configuration,
		Priority: types.PriorityNormal,
		Status:   state.StatusRunning,
		Metadata: types.Metadata{constants.MetaCronJobID: cj.ID},
	}
	ec := registry.NewExecContext(cj.TenantID, log, tenantDB(s.conns, cj.TenantID), nil, cancel)
	return invoke(ctx, reg.Handler, job, ec)
}

// complete closes an execution and applies its outcome to the schedule.
// An execution that was already closed is left alone.
func (s *Scheduler) complete(ctx context.Context, tenantID, cronJobID string, execID int64, out json.RawMessage, runErr error, at time.Time) {
	log := s.logger.WithFields(logrus.Fields{"tenant_id": tenantID, "cron_job_id": cronJobID, "execution_id": execID})

	status := state.RunSucceeded
	var output, errMsg *string
	if len(out) > 0 {
		output = ptr(string(out))
	}
	if runErr != nil {
		status = state.RunFailed
		errMsg = ptr(runErr.Error())
	}

	closed, err := s.executions.Finish(ctx, tenantID, execID, status, output, errMsg, at)
	if err != nil {
		log.WithError(err).Error("failed to close execution")
		return
	}
	if !closed {
		return
	}

	outcome := types.RunOutcome{At: at, Succeeded: runErr == nil, PauseThreshold: s.cfg.FailureThreshold}
	if errMsg != nil {
		outcome.Error = *errMsg
	}
	updated, err := s.cronJobs.RecordOutcome(ctx, tenantID, cronJobID, outcome)
	if err != nil {
		log.WithError(err).Error("failed to record schedule outcome")
		return
	}

	if runErr != nil {
		log.WithError(runErr).WithField("consecutive_failures", updated.ConsecutiveFailures).Warn("schedule run failed")
	}
	if !outcome.Succeeded && updated.IsPaused && updated.ConsecutiveFailures == s.cfg.FailureThreshold {
		s.alerter.SchedulePaused(ctx, *updated, fmt.Sprintf("%d consecutive failures, last error: %s", updated.ConsecutiveFailures, outcome.Error))
	}
}

// JobFinished closes the execution of a queued firing once its job is terminal.
func (s *Scheduler) JobFinished(ctx context.Context, job *types.Job) {
	cronJobID := job.Metadata[constants.MetaCronJobID]
	raw := job.Metadata[constants.MetaExecutionID]
	if cronJobID == "" || raw == "" {
		return
	}
	execID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		s.logger.WithField("job_id", job.ID).Warn("job carries a malformed execution id")
		return
	}

	var runErr error
	if job.Status != state.StatusCompleted {
		msg := "job " + job.Status.String()
		if job.Error != nil {
			msg = *job.Error
		}
		runErr = errors.New(msg)
	}
	at := s.clock()
	if job.FinishedAt != nil {
		at = *job.FinishedAt
	}
	s.complete(ctx, job.TenantID, cronJobID, execID, job.Result, runErr, at)
}

// Create validates and stores a new schedule. Invalid expressions,
// timezones and job types are rejected with ErrScheduleMisconfigured.
func (s *Scheduler) Create(ctx context.Context, cj *types.CronJob) (*types.CronJob, error) {
	verr := &custom_errors.ValidationError{}
	if strings.TrimSpace(cj.Name) == "" {
		verr.Addf("name is required")
	}
	if cj.Timezone == "" {
		cj.Timezone = constants.DefaultTimezone
	}
	if err := cronexpr.Validate(cj.CronExpression, cj.Timezone); err != nil {
		verr.Add(fmt.Errorf("%w: %w", custom_errors.ErrScheduleMisconfigured, err))
	}
	if !s.registry.Has(cj.JobType) {
		verr.Add(fmt.Errorf("%w: %w: %s", custom_errors.ErrScheduleMisconfigured, custom_errors.ErrHandlerNotFound, cj.JobType))
	}
	if cj.SourceType == "" {
		cj.SourceType = types.SourceUser
	}
	if !cj.SourceType.Valid() {
		verr.Addf("unknown source type %q", cj.SourceType)
	}
	if len(cj.Configuration) > 0 && !json.Valid(cj.Configuration) {
		verr.Addf("configuration is not valid JSON")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	now := s.clock()
	next, err := cronexpr.Next(cj.CronExpression, cj.Timezone, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", custom_errors.ErrScheduleMisconfigured, err)
	}

	cj.ID = uuid.NewString()
	cj.IsSystem = cj.SourceType == types.SourceSystem
	cj.NextRunAt = next
	cj.CreatedAt = now
	cj.UpdatedAt = now
	if err := s.cronJobs.Create(ctx, cj); err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{"tenant_id": cj.TenantID, "cron_job_id": cj.ID, "job_type": cj.JobType, "next_run_at": next}).Info("schedule created")
	return cj, nil
}

// EnsureSchedules creates the given schedules of a tenant that do not exist
// yet, matched by name. It is used to bootstrap system schedules.
func (s *Scheduler) EnsureSchedules(ctx context.Context, tenantID string, defs ...types.CronJob) (int, error) {
	existing, err := s.cronJobs.ListActive(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	names := make(map[string]bool, len(existing))
	for _, cj := range existing {
		names[cj.Name] = true
	}

	created := 0
	for _, def := range defs {
		if names[def.Name] {
			continue
		}
		def.TenantID = tenantID
		def.IsActive = true
		if _, err := s.Create(ctx, &def); err != nil {
			return created, fmt.Errorf("schedule %q: %w", def.Name, err)
		}
		created++
	}
	return created, nil
}

func (s *Scheduler) Get(ctx context.Context, tenantID, id string) (*types.CronJob, error) {
	return s.cronJobs.Get(ctx, tenantID, id)
}

func (s *Scheduler) List(ctx context.Context, tenantID string, includeInactive bool, page, pageSize int) (*types.PaginationResult[types.CronJob], error) {
	return s.cronJobs.List(ctx, tenantID, includeInactive, page, pageSize)
}

func (s *Scheduler) active(ctx context.Context, tenantID, id string) (*types.CronJob, error) {
	cj, err := s.cronJobs.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if !cj.IsActive {
		return nil, fmt.Errorf("%w: schedule is deactivated", custom_errors.ErrInvalidTransition)
	}
	return cj, nil
}

func (s *Scheduler) Pause(ctx context.Context, tenantID, id, reason string) (*types.CronJob, error) {
	if _, err := s.active(ctx, tenantID, id); err != nil {
		return nil, err
	}
	if err := s.cronJobs.Pause(ctx, tenantID, id, reason, s.clock()); err != nil {
		return nil, err
	}
	return s.cronJobs.Get(ctx, tenantID, id)
}

// Resume unpauses a schedule, clears its failure streak and plans the next
// run from now. Slots missed while paused are not caught up.
func (s *Scheduler) Resume(ctx context.Context, tenantID, id string) (*types.CronJob, error) {
	cj, err := s.active(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	next, err := cronexpr.Next(cj.CronExpression, cj.Timezone, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", custom_errors.ErrScheduleMisconfigured, err)
	}
	if err := s.cronJobs.Resume(ctx, tenantID, id, next, now); err != nil {
		return nil, err
	}
	return s.cronJobs.Get(ctx, tenantID, id)
}

// Activate turns an inactive schedule back on. Like Resume it clears the
// failure streak and plans the next run from now.
func (s *Scheduler) Activate(ctx context.Context, tenantID, id string) (*types.CronJob, error) {
	cj, err := s.cronJobs.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if cj.IsActive {
		return nil, fmt.Errorf("%w: schedule is already active", custom_errors.ErrInvalidTransition)
	}
	if !s.registry.Has(cj.JobType) {
		return nil, fmt.Errorf("%w: %w: %s", custom_errors.ErrScheduleMisconfigured, custom_errors.ErrHandlerNotFound, cj.JobType)
	}
	now := s.clock()
	next, err := cronexpr.Next(cj.CronExpression, cj.Timezone, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", custom_errors.ErrScheduleMisconfigured, err)
	}
	if err := s.cronJobs.Activate(ctx, tenantID, id, next, now); err != nil {
		return nil, err
	}
	return s.cronJobs.Get(ctx, tenantID, id)
}

// Deactivate soft-deletes a schedule; its execution history stays.
func (s *Scheduler) Deactivate(ctx context.Context, tenantID, id string) error {
	if _, err := s.cronJobs.Get(ctx, tenantID, id); err != nil {
		return err
	}
	return s.cronJobs.Deactivate(ctx, tenantID, id, s.clock())
}

// RunNow fires a schedule outside its cadence and returns the execution id.
func (s *Scheduler) RunNow(ctx context.Context, tenantID, id string) (int64, error) {
	cj, err := s.active(ctx, tenantID, id)
	if err != nil {
		return 0, err
	}
	return s.fire(ctx, *cj, s.clock())
}

// Verify checks that every active schedule has a registered handler. Those
// that do not are paused and reported in the returned error.
func (s *Scheduler) Verify(ctx context.Context) error {
	ids, err := s.tenants.TenantIDs(ctx)
	if err != nil {
		return err
	}
	verr := &custom_errors.ValidationError{}
	for _, tenantID := range ids {
		schedules, err := s.cronJobs.ListActive(ctx, tenantID)
		if err != nil {
			return err
		}
		for _, cj := range schedules {
			if s.registry.Has(cj.JobType) {
				continue
			}
			verr.Add(fmt.Errorf("schedule %s (%s): %w: %s", cj.ID, cj.Name, custom_errors.ErrHandlerNotFound, cj.JobType))
			if !cj.IsPaused {
				s.pause(ctx, cj, "handler not found: "+cj.JobType)
			}
		}
	}
	return verr.OrNil()
}

func (s *Scheduler) pause(ctx context.Context, cj types.CronJob, reason string) {
	if err := s.cronJobs.Pause(ctx, cj.TenantID, cj.ID, reason, s.clock()); err != nil {
		s.logger.WithError(err).WithField("cron_job_id", cj.ID).Error("failed to pause schedule")
		return
	}
	cj.IsPaused = true
	cj.LastError = ptr(reason)
	s.alerter.SchedulePaused(ctx, cj, reason)
}
