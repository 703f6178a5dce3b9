package custom_errors

import "errors"

var (
	ErrJobNotFound       = errors.New("daino: job not found")
	ErrCronJobNotFound   = errors.New("daino: cron job not found")
	ErrTenantNotFound    = errors.New("daino: tenant not found")
	ErrTenantRequired    = errors.New("daino: tenant id is required")
	ErrForbidden         = errors.New("daino: insufficient tenant permission")
	ErrInvalidTransition = errors.New("daino: invalid state transition")
	ErrLockNotAcquired   = errors.New("daino: lock not acquired")
	ErrDuplicateHandler  = errors.New("daino: handler already registered")

	// ErrHandlerNotFound means the job type has no registered handler.
	// Such jobs fail on the spot and are never retried.
	ErrHandlerNotFound = errors.New("daino: handler not found")

	// ErrClaimConflict is returned when another worker won the race for a row.
	// It is benign and never surfaced to API callers.
	ErrClaimConflict = errors.New("daino: claim conflict")

	// ErrScheduleMisconfigured is returned when a schedule is rejected at
	// creation time (bad cron expression, unknown timezone or job type).
	ErrScheduleMisconfigured = errors.New("daino: schedule misconfigured")

	// ErrJobCancelled is the failure recorded for a job whose cancellation
	// was requested.
	ErrJobCancelled = errors.New("job cancelled")

	// ErrWorkerLost is the failure recorded when the reaper exhausts a job
	// whose worker stopped heart-beating.
	ErrWorkerLost = errors.New("worker lost")
)
