package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/assaka/daino/custom_errors"
	"github.com/assaka/daino/internal/state"
	"github.com/assaka/daino/types"
	"sort"
	"time"
)

type JobStore struct {
	db *db
}

func (s *JobStore) Insert(_ context.Context, job *types.Job) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, exists := s.db.jobs[job.ID]; exists {
		return fmt.Errorf("insert job: duplicate id %s", job.ID)
	}
	c := cloneJob(job)
	c.Status = state.StatusPending
	s.db.jobs[job.ID] = &c
	return nil
}

func (s *JobStore) get(tenantID, id string) (*types.Job, error) {
	j, ok := s.db.jobs[id]
	if !ok || j.TenantID != tenantID {
		return nil, custom_errors.ErrJobNotFound
	}
	return j, nil
}

func (s *JobStore) FindByID(_ context.Context, tenantID, id string) (*types.Job, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	j, err := s.get(tenantID, id)
	if err != nil {
		return nil, err
	}
	c := cloneJob(j)
	return &c, nil
}

func (s *JobStore) ClaimNext(_ context.Context, tenantID, workerID string, now time.Time) (*types.Job, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var best *types.Job
	for _, j := range s.db.jobs {
		if j.TenantID != tenantID || j.Status != state.StatusPending {
			continue
		}
		if best == nil || claimsBefore(j, best) {
			best = j
		}
	}
	if best == nil {
		return nil, nil
	}
	best.Status = state.StatusRunning
	best.LockedBy = ptr(workerID)
	best.StartedAt = ptr(now)
	best.HeartbeatAt = ptr(now)
	best.NextAttemptAt = nil
	c := cloneJob(best)
	return &c, nil
}

func claimsBefore(a, b *types.Job) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// owned returns the job only while workerID still holds its claim.
func (s *JobStore) owned(tenantID, id, workerID string) (*types.Job, error) {
	j, err := s.get(tenantID, id)
	if err != nil || j.Status != state.StatusRunning || j.LockedBy == nil || *j.LockedBy != workerID {
		return nil, custom_errors.ErrClaimConflict
	}
	return j, nil
}

func (s *JobStore) MarkCompleted(_ context.Context, tenantID, id, workerID string, result json.RawMessage, now time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	j, err := s.owned(tenantID, id, workerID)
	if err != nil {
		return err
	}
	j.Status = state.StatusCompleted
	j.Result = result
	j.Progress = 100
	j.Error = nil
	j.FinishedAt = ptr(now)
	j.LockedBy = nil
	return nil
}

func (s *JobStore) MarkRetrying(_ context.Context, tenantID, id, workerID string, attemptCount int, errMsg string, nextAttemptAt, now time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	j, err := s.owned(tenantID, id, workerID)
	if err != nil {
		return err
	}
	j.Status = state.StatusRetrying
	j.AttemptCount = attemptCount
	j.Error = ptr(errMsg)
	j.NextAttemptAt = ptr(nextAttemptAt)
	j.HeartbeatAt = ptr(now)
	j.LockedBy = nil
	return nil
}

func (s *JobStore) MarkFailed(_ context.Context, tenantID, id, workerID string, attemptCount int, errMsg string, now time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	j, err := s.owned(tenantID, id, workerID)
	if err != nil {
		return err
	}
	j.Status = state.StatusFailed
	j.AttemptCount = attemptCount
	j.Error = ptr(errMsg)
	j.FinishedAt = ptr(now)
	j.LockedBy = nil
	return nil
}

func (s *JobStore) UpdateProgress(_ context.Context, tenantID, id, workerID string, percent int, message string, now time.Time) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	j, err := s.owned(tenantID, id, workerID)
	if err != nil {
		return false, err
	}
	j.Progress = percent
	j.ProgressMessage = message
	j.HeartbeatAt = ptr(now)
	return j.CancelRequested, nil
}

func (s *JobStore) Heartbeat(_ context.Context, tenantID, id, workerID string, now time.Time) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	j, err := s.owned(tenantID, id, workerID)
	if err != nil {
		return false, err
	}
	j.HeartbeatAt = ptr(now)
	return j.CancelRequested, nil
}

func (s *JobStore) RequestCancel(_ context.Context, tenantID, id string) (*types.Job, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	j, err := s.get(tenantID, id)
	if err != nil {
		return nil, err
	}
	if j.Status.IsTerminal() {
		return nil, custom_errors.ErrInvalidTransition
	}
	j.CancelRequested = true
	c := cloneJob(j)
	return &c, nil
}

func (s *JobStore) RequeueDue(_ context.Context, tenantID string, now time.Time, limit int) (int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var due []*types.Job
	for _, j := range s.db.jobs {
		if j.TenantID == tenantID && j.Status == state.StatusRetrying && j.NextAttemptAt != nil && !j.NextAttemptAt.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(a, b int) bool { return due[a].NextAttemptAt.Before(*due[b].NextAttemptAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for _, j := range due {
		j.Status = state.StatusPending
		j.NextAttemptAt = nil
	}
	return len(due), nil
}

func (s *JobStore) ReapStale(_ context.Context, tenantID string, staleBefore, now time.Time) ([]types.Job, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var reaped []types.Job
	for _, j := range s.db.jobs {
		if j.TenantID != tenantID || j.Status != state.StatusRunning {
			continue
		}
		seen := j.HeartbeatAt
		if seen == nil {
			seen = j.StartedAt
		}
		if seen == nil || !seen.Before(staleBefore) {
			continue
		}
		j.AttemptCount++
		j.Error = ptr(custom_errors.ErrWorkerLost.Error())
		j.LockedBy = nil
		j.HeartbeatAt = nil
		if j.AttemptCount > j.MaxRetries {
			j.Status = state.StatusFailed
			j.FinishedAt = ptr(now)
		} else {
			j.Status = state.StatusPending
		}
		reaped = append(reaped, cloneJob(j))
	}
	return reaped, nil
}

func (s *JobStore) CountByStatus(_ context.Context, tenantID string) (map[state.JobStatus]int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	counts := make(map[state.JobStatus]int, len(state.AllStatuses))
	for _, st := range state.AllStatuses {
		counts[st] = 0
	}
	for _, j := range s.db.jobs {
		if j.TenantID == tenantID {
			counts[j.Status]++
		}
	}
	return counts, nil
}

func (s *JobStore) List(_ context.Context, tenantID string, status state.JobStatus, page, pageSize int) (*types.PaginationResult[types.Job], error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var items []types.Job
	for _, j := range s.db.jobs {
		if j.TenantID == tenantID && (status == "" || j.Status == status) {
			items = append(items, cloneJob(j))
		}
	}
	sort.Slice(items, func(a, b int) bool { return items[a].CreatedAt.After(items[b].CreatedAt) })
	return paginate(items, page, pageSize), nil
}

func (s *JobStore) TypeStats(_ context.Context, tenantID string) ([]types.TypeStats, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	byType := map[string]*types.TypeStats{}
	durations := map[string]float64{}
	for _, j := range s.db.jobs {
		if j.TenantID != tenantID || (j.Status != state.StatusCompleted && j.Status != state.StatusFailed) {
			continue
		}
		st, ok := byType[j.Type]
		if !ok {
			st = &types.TypeStats{JobType: j.Type}
			byType[j.Type] = st
		}
		st.Finished++
		if j.Status == state.StatusCompleted {
			st.Succeeded++
		}
		durations[j.Type] += float64(j.Duration().Milliseconds())
	}
	return finishStats(byType, durations), nil
}
