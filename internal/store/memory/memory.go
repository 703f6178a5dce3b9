// Package memory is an in-process implementation of the store contracts with
// the same conditional-write semantics as the Postgres stores. It backs dev
// mode and the engine tests.
package memory

import (
	"github.com/assaka/daino/internal/store"
	"github.com/assaka/daino/types"
	"sort"
	"sync"
)

type db struct {
	mu       sync.Mutex
	jobs     map[string]*types.Job
	cronJobs map[string]*types.CronJob
	execs    []*types.CronJobExecution
	execSeq  int64
}

// New returns the three stores over one shared in-memory database.
func New() store.Stores {
	d := &db{
		jobs:     make(map[string]*types.Job),
		cronJobs: make(map[string]*types.CronJob),
	}
	return store.Stores{
		Jobs:       &JobStore{db: d},
		CronJobs:   &CronJobStore{db: d},
		Executions: &ExecutionStore{db: d},
	}
}

func cloneJob(j *types.Job) types.Job {
	c := *j
	if j.Metadata != nil {
		c.Metadata = make(types.Metadata, len(j.Metadata))
		for k, v := range j.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

func cloneCronJob(cj *types.CronJob) types.CronJob {
	return *cj
}

func paginate[T any](items []T, page, pageSize int) *types.PaginationResult[T] {
	page, pageSize, offset := types.NormalizePage(page, pageSize, 200)
	total := len(items)
	if offset > total {
		offset = total
	}
	end := offset + pageSize
	if end > total {
		end = total
	}
	return types.NewPaginationResult(items[offset:end], total, page, pageSize)
}

func finishStats(byType map[string]*types.TypeStats, durations map[string]float64) []types.TypeStats {
	out := make([]types.TypeStats, 0, len(byType))
	for name, s := range byType {
		if s.Finished > 0 {
			s.SuccessRate = float64(s.Succeeded) / float64(s.Finished)
			s.AvgDurationMs = durations[name] / float64(s.Finished)
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobType < out[j].JobType })
	return out
}

func ptr[T any](v T) *T { return &v }
