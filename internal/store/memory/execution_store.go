package memory

import (
	"context"
	"github.com/assaka/daino/internal/state"
	"github.com/assaka/daino/types"
	"sort"
	"time"
)

type ExecutionStore struct {
	db *db
}

func (s *ExecutionStore) Start(_ context.Context, exec *types.CronJobExecution) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.execSeq++
	c := *exec
	c.ID = s.db.execSeq
	c.Status = state.RunStarted
	s.db.execs = append(s.db.execs, &c)
	exec.ID = c.ID
	exec.Status = c.Status
	return c.ID, nil
}

func (s *ExecutionStore) find(tenantID string, id int64) *types.CronJobExecution {
	for _, e := range s.db.execs {
		if e.ID == id && e.TenantID == tenantID {
			return e
		}
	}
	return nil
}

func (s *ExecutionStore) MarkDispatched(_ context.Context, tenantID string, id int64, jobID string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if e := s.find(tenantID, id); e != nil && e.Status == state.RunStarted {
		e.Status = state.RunDispatched
		e.JobID = ptr(jobID)
	}
	return nil
}

func (s *ExecutionStore) Finish(_ context.Context, tenantID string, id int64, status state.RunStatus, output, errMsg *string, finishedAt time.Time) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	e := s.find(tenantID, id)
	if e == nil || e.Status.IsFinal() {
		return false, nil
	}
	e.Status = status
	e.Output = output
	e.Error = errMsg
	e.FinishedAt = ptr(finishedAt)
	d := finishedAt.Sub(e.StartedAt).Milliseconds()
	if d < 0 {
		d = 0
	}
	e.DurationMs = ptr(d)
	return true, nil
}

func (s *ExecutionStore) ListByCronJob(_ context.Context, tenantID, cronJobID string, page, pageSize int) (*types.PaginationResult[types.CronJobExecution], error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var items []types.CronJobExecution
	for _, e := range s.db.execs {
		if e.TenantID == tenantID && e.CronJobID == cronJobID {
			items = append(items, *e)
		}
	}
	sort.SliceStable(items, func(a, b int) bool {
		if !items[a].StartedAt.Equal(items[b].StartedAt) {
			return items[a].StartedAt.After(items[b].StartedAt)
		}
		return items[a].ID > items[b].ID
	})
	return paginate(items, page, pageSize), nil
}

func (s *ExecutionStore) TypeStats(_ context.Context, tenantID string) ([]types.TypeStats, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	byType := map[string]*types.TypeStats{}
	durations := map[string]float64{}
	for _, e := range s.db.execs {
		if e.TenantID != tenantID || !e.Status.IsFinal() {
			continue
		}
		jobType := ""
		if cj, ok := s.db.cronJobs[e.CronJobID]; ok {
			jobType = cj.JobType
		}
		st, ok := byType[jobType]
		if !ok {
			st = &types.TypeStats{JobType: jobType}
			byType[jobType] = st
		}
		st.Finished++
		if e.Status == state.RunSucceeded {
			st.Succeeded++
		}
		if e.DurationMs != nil {
			durations[jobType] += float64(*e.DurationMs)
		}
	}
	return finishStats(byType, durations), nil
}
