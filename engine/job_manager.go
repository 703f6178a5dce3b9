package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/assaka/daino/custom_errors"
	"github.com/assaka/daino/internal/broker"
	"github.com/assaka/daino/internal/constants"
	"github.com/assaka/daino/internal/logging"
	"github.com/assaka/daino/internal/state"
	"github.com/assaka/daino/internal/store"
	"github.com/assaka/daino/registry"
	"github.com/assaka/daino/types"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// JobManager is the enqueue and inspection surface of the job queue.
type JobManager struct {
	jobs     store.JobStore
	registry *registry.Registry
	notifier broker.Notifier
	logger   logrus.FieldLogger
	clock    Clock
}

type JobManagerOption func(*JobManager)

func WithNotifier(n broker.Notifier) JobManagerOption {
	return func(m *JobManager) { m.notifier = n }
}

func WithJobManagerLogger(l logrus.FieldLogger) JobManagerOption {
	return func(m *JobManager) { m.logger = logging.OrDiscard(l) }
}

func WithJobManagerClock(c Clock) JobManagerOption {
	return func(m *JobManager) { m.clock = c }
}

func NewJobManager(jobs store.JobStore, reg *registry.Registry, opts ...JobManagerOption) *JobManager {
	m := &JobManager{
		jobs:     jobs,
		registry: reg,
		notifier: broker.Noop{},
		logger:   logging.Discard(),
		clock:    systemClock,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Enqueue validates and inserts a pending job. When it returns the job is
// durable; the wake-up signal sent afterwards is best effort.
func (m *JobManager) Enqueue(ctx context.Context, tenantID, jobType string, payload json.RawMessage, opts types.EnqueueOptions) (*types.Job, error) {
	if !m.registry.Has(jobType) {
		return nil, fmt.Errorf("%w: %s", custom_errors.ErrHandlerNotFound, jobType)
	}

	verr := &custom_errors.ValidationError{}
	priority := opts.Priority
	if priority == 0 {
		priority = types.PriorityNormal
	}
	switch priority {
	case types.PriorityUrgent, types.PriorityHigh, types.PriorityNormal, types.PriorityLow:
	default:
		verr.Addf("unknown priority %d", int(priority))
	}
	maxRetries := constants.DefaultMaxRetries
	if opts.MaxRetries != nil {
		maxRetries = *opts.MaxRetries
		if maxRetries < 0 {
			verr.Addf("maxRetries must not be negative")
		}
	}
	if len(payload) > 0 && !json.Valid(payload) {
		verr.Addf("payload is not valid JSON")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	job := &types.Job{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		Type:       jobType,
		Payload:    payload,
		Priority:   priority,
		Status:     state.StatusPending,
		MaxRetries: maxRetries,
		Metadata:   opts.Metadata,
		CreatedAt:  m.clock(),
	}
	if err := m.jobs.Insert(ctx, job); err != nil {
		return nil, err
	}

	log := m.logger.WithFields(logrus.Fields{"tenant_id": tenantID, "job_id": job.ID, "job_type": jobType})
	log.WithField("priority", priority.String()).Debug("job enqueued")
	if err := m.notifier.Notify(ctx, broker.Signal{TenantID: tenantID, JobID: job.ID}); err != nil {
		log.WithError(err).Warn("wake-up signal failed")
	}
	return job, nil
}

func (m *JobManager) Get(ctx context.Context, tenantID, id string) (*types.Job, error) {
	return m.jobs.FindByID(ctx, tenantID, id)
}

// GetStatus is the polling read for progress UIs.
func (m *JobManager) GetStatus(ctx context.Context, tenantID, id string) (types.JobStatusView, error) {
	job, err := m.jobs.FindByID(ctx, tenantID, id)
	if err != nil {
		return types.JobStatusView{}, err
	}
	return job.StatusView(), nil
}

// Cancel requests cooperative cancellation of a job that has not finished.
func (m *JobManager) Cancel(ctx context.Context, tenantID, id string) (*types.Job, error) {
	job, err := m.jobs.RequestCancel(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	m.logger.WithFields(logrus.Fields{"tenant_id": tenantID, "job_id": id}).Info("job cancellation requested")
	return job, nil
}

// Counts returns the number of jobs per status, every status present.
func (m *JobManager) Counts(ctx context.Context, tenantID string) (map[state.JobStatus]int, error) {
	counts, err := m.jobs.CountByStatus(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := make(map[state.JobStatus]int, len(state.AllStatuses))
	for _, s := range state.AllStatuses {
		out[s] = counts[s]
	}
	return out, nil
}

func (m *JobManager) List(ctx context.Context, tenantID string, status state.JobStatus, page, pageSize int) (*types.PaginationResult[types.Job], error) {
	return m.jobs.List(ctx, tenantID, status, page, pageSize)
}
