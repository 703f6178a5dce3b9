package state

type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusRetrying  JobStatus = "retrying"
)

func (s JobStatus) String() string {
	return string(s)
}

func (s JobStatus) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is allowed from s.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var AllStatuses = []JobStatus{
	StatusPending,
	StatusRunning,
	StatusCompleted,
	StatusFailed,
	StatusRetrying,
}

type Transition struct {
	From JobStatus
	To   JobStatus
}

// ValidTransitions lists every status change a job may go through.
// running -> pending is the reaper reclaiming a job from a lost worker.
var ValidTransitions = []Transition{
	{From: StatusPending, To: StatusRunning},
	{From: StatusRunning, To: StatusCompleted},
	{From: StatusRunning, To: StatusRetrying},
	{From: StatusRunning, To: StatusFailed},
	{From: StatusRetrying, To: StatusPending},
	{From: StatusRunning, To: StatusPending},
}

func IsValidTransition(from, to JobStatus) bool {
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// RunStatus is the outcome recorded for one schedule firing.
type RunStatus string

const (
	RunStarted    RunStatus = "started"
	RunDispatched RunStatus = "dispatched"
	RunSucceeded  RunStatus = "succeeded"
	RunFailed     RunStatus = "failed"
)

func (s RunStatus) String() string {
	return string(s)
}

// IsFinal reports whether the execution row is closed.
func (s RunStatus) IsFinal() bool {
	return s == RunSucceeded || s == RunFailed
}
