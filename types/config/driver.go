package config

// StorageDriver selects where jobs and schedules are persisted.
type StorageDriver string

const (
	Postgres StorageDriver = "postgres"
	Memory   StorageDriver = "memory"
)

// BrokerDriver selects the wake-up signal used to shorten pickup latency.
type BrokerDriver string

const (
	BrokerNone     BrokerDriver = "none"
	BrokerLocal    BrokerDriver = "local"
	BrokerRabbitMQ BrokerDriver = "rabbitmq"
	BrokerRedis    BrokerDriver = "redis"
	BrokerPostgres BrokerDriver = "postgres"
)

// LockDriver selects the backend for the per-tenant tick lock.
type LockDriver string

const (
	LockPostgres LockDriver = "postgres"
	LockRedis    LockDriver = "redis"
	LockLocal    LockDriver = "local"
)

func (d StorageDriver) String() string { return string(d) }
func (d BrokerDriver) String() string  { return string(d) }
func (d LockDriver) String() string    { return string(d) }
