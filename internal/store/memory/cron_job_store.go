package memory

import (
	"context"
	"fmt"
	"github.com/assaka/daino/custom_errors"
	"github.com/assaka/daino/internal/state"
	"github.com/assaka/daino/types"
	"sort"
	"time"
)

type CronJobStore struct {
	db *db
}

func (s *CronJobStore) Create(_ context.Context, cj *types.CronJob) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, exists := s.db.cronJobs[cj.ID]; exists {
		return fmt.Errorf("insert cron job: duplicate id %s", cj.ID)
	}
	c := cloneCronJob(cj)
	c.UpdatedAt = c.CreatedAt
	s.db.cronJobs[cj.ID] = &c
	return nil
}

func (s *CronJobStore) get(tenantID, id string) (*types.CronJob, error) {
	cj, ok := s.db.cronJobs[id]
	if !ok || cj.TenantID != tenantID {
		return nil, custom_errors.ErrCronJobNotFound
	}
	return cj, nil
}

func (s *CronJobStore) Get(_ context.Context, tenantID, id string) (*types.CronJob, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	cj, err := s.get(tenantID, id)
	if err != nil {
		return nil, err
	}
	c := cloneCronJob(cj)
	return &c, nil
}

func (s *CronJobStore) List(_ context.Context, tenantID string, includeInactive bool, page, pageSize int) (*types.PaginationResult[types.CronJob], error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var items []types.CronJob
	for _, cj := range s.db.cronJobs {
		if cj.TenantID == tenantID && (includeInactive || cj.IsActive) {
			items = append(items, cloneCronJob(cj))
		}
	}
	sort.Slice(items, func(a, b int) bool { return items[a].CreatedAt.After(items[b].CreatedAt) })
	return paginate(items, page, pageSize), nil
}

func (s *CronJobStore) ListActive(_ context.Context, tenantID string) ([]types.CronJob, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var items []types.CronJob
	for _, cj := range s.db.cronJobs {
		if cj.TenantID == tenantID && cj.IsActive {
			items = append(items, cloneCronJob(cj))
		}
	}
	sort.Slice(items, func(a, b int) bool { return items[a].CreatedAt.Before(items[b].CreatedAt) })
	return items, nil
}

func (s *CronJobStore) FetchDue(_ context.Context, tenantID string, now time.Time, limit int) ([]types.CronJob, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var due []types.CronJob
	for _, cj := range s.db.cronJobs {
		if cj.TenantID == tenantID && cj.IsActive && !cj.NextRunAt.After(now) {
			due = append(due, cloneCronJob(cj))
		}
	}
	sort.Slice(due, func(a, b int) bool { return due[a].NextRunAt.Before(due[b].NextRunAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *CronJobStore) AdvanceNextRun(_ context.Context, tenantID, id string, prev, next time.Time) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	cj, err := s.get(tenantID, id)
	if err != nil {
		return false, nil
	}
	if !cj.NextRunAt.Equal(prev) {
		return false, nil
	}
	cj.NextRunAt = next
	return true, nil
}

func (s *CronJobStore) RecordOutcome(_ context.Context, tenantID, id string, outcome types.RunOutcome) (*types.CronJob, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	cj, err := s.get(tenantID, id)
	if err != nil {
		return nil, err
	}
	cj.LastRunAt = ptr(outcome.At)
	cj.RunCount++
	cj.UpdatedAt = outcome.At
	if outcome.Succeeded {
		cj.SuccessCount++
		cj.ConsecutiveFailures = 0
		cj.LastStatus = state.RunSucceeded
		cj.LastError = nil
	} else {
		cj.FailureCount++
		cj.ConsecutiveFailures++
		cj.LastStatus = state.RunFailed
		cj.LastError = ptr(outcome.Error)
		if outcome.PauseThreshold > 0 && cj.ConsecutiveFailures >= outcome.PauseThreshold {
			cj.IsPaused = true
		}
	}
	c := cloneCronJob(cj)
	return &c, nil
}

func (s *CronJobStore) Pause(_ context.Context, tenantID, id string, reason string, now time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	cj, err := s.get(tenantID, id)
	if err != nil || !cj.IsActive {
		return custom_errors.ErrCronJobNotFound
	}
	cj.IsPaused = true
	if reason != "" {
		cj.LastError = ptr(reason)
	}
	cj.UpdatedAt = now
	return nil
}

func (s *CronJobStore) Resume(_ context.Context, tenantID, id string, nextRunAt, now time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	cj, err := s.get(tenantID, id)
	if err != nil || !cj.IsActive {
		return custom_errors.ErrCronJobNotFound
	}
	cj.IsPaused = false
	cj.ConsecutiveFailures = 0
	cj.NextRunAt = nextRunAt
	cj.UpdatedAt = now
	return nil
}

func (s *CronJobStore) Activate(_ context.Context, tenantID, id string, nextRunAt, now time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	cj, err := s.get(tenantID, id)
	if err != nil || cj.IsActive {
		return custom_errors.ErrCronJobNotFound
	}
	cj.IsActive = true
	cj.IsPaused = false
	cj.ConsecutiveFailures = 0
	cj.NextRunAt = nextRunAt
	cj.UpdatedAt = now
	return nil
}

func (s *CronJobStore) Deactivate(_ context.Context, tenantID, id string, now time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	cj, err := s.get(tenantID, id)
	if err != nil {
		return err
	}
	cj.IsActive = false
	cj.UpdatedAt = now
	return nil
}
