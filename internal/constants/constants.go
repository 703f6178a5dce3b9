package constants

import "time"

// Lock names. Per-tenant locks append the tenant id.
const (
	MigrationLock = "daino:migration"
	TickLock      = "daino:tick"
	RequeueLock   = "daino:requeue"
	ReaperLock    = "daino:reaper"
)

const (
	DefaultMaxRetries        = 3
	DefaultWorkerConcurrency = 5
	DefaultFailureThreshold  = 5
	DefaultStaleAfter        = 10 * time.Minute
	DefaultPollInterval      = 2 * time.Second
	DefaultRequeueInterval   = 15 * time.Second
	DefaultReaperInterval    = time.Minute
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultTickInterval      = time.Hour
	DefaultInlineTimeout     = 30 * time.Second
	DefaultBatchSize         = 100
	DefaultTimezone          = "UTC"
)

// SystemTenant is the tenant id under which system-wide schedules live.
const SystemTenant = ""

// Metadata keys written on jobs created by a schedule firing.
const (
	MetaCronJobID   = "cron_job_id"
	MetaExecutionID = "cron_execution_id"
	MetaCorrelation = "correlation_id"
)
