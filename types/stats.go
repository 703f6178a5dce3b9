package types

import "github.com/assaka/daino/internal/state"

// TypeStats aggregates finished runs of one job type.
type TypeStats struct {
	JobType       string  `json:"job_type"`
	Finished      int     `json:"finished"`
	Succeeded     int     `json:"succeeded"`
	SuccessRate   float64 `json:"success_rate"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
}

// Stats is the read-only observability view for one tenant.
type Stats struct {
	TenantID       string                  `json:"tenant_id"`
	JobCounts      map[state.JobStatus]int `json:"job_counts"`
	Running        int                     `json:"running"`
	PendingBacklog int                     `json:"pending_backlog"`
	Jobs           []TypeStats             `json:"jobs"`
	Schedules      []TypeStats             `json:"schedules"`
	SuccessRate    float64                 `json:"success_rate"`
}
