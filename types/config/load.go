package config

import (
	"errors"
	"fmt"
	"github.com/assaka/daino/custom_errors"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"io/fs"
	"strings"
)

// EnvPrefix is prepended to every environment override, e.g. DAINO_STORAGE_POSTGRES_URL.
const EnvPrefix = "DAINO"

var validate = validator.New()

// Load reads configuration from an optional file, a .env file in the working
// directory and DAINO_* environment variables, in increasing precedence.
func Load(path string) (*DainoConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v, Default("daino"))
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &DainoConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct constraints and collects every violation.
func (c *DainoConfig) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	validationErrs := &custom_errors.ValidationError{}
	for _, fe := range fieldErrs {
		validationErrs.Addf("config %s: failed %q %s", fe.Namespace(), fe.Tag(), fe.Param())
	}
	return validationErrs.OrNil()
}

// setDefaults registers every key so AutomaticEnv can override keys absent from the file.
func setDefaults(v *viper.Viper, d *DainoConfig) {
	v.SetDefault("instance", d.Instance)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.output", d.Log.Output)
	v.SetDefault("http.addr", d.HTTP.Addr)
	v.SetDefault("http.trigger_secret", "")
	v.SetDefault("storage.driver", string(d.Storage.Driver))
	v.SetDefault("storage.postgres_url", "")
	v.SetDefault("storage.max_open_conns", d.Storage.MaxOpenConns)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("broker.driver", string(d.Broker.Driver))
	v.SetDefault("broker.channel", d.Broker.Channel)
	v.SetDefault("broker.rabbitmq.url", "")
	v.SetDefault("broker.rabbitmq.exchange", "")
	v.SetDefault("broker.rabbitmq.queue", "daino.wakeup")
	v.SetDefault("broker.rabbitmq.routing_key", "")
	v.SetDefault("lock.driver", string(d.Lock.Driver))
	v.SetDefault("lock.ttl", d.Lock.TTL)
	v.SetDefault("worker.concurrency", d.Worker.Concurrency)
	v.SetDefault("worker.poll_interval", d.Worker.PollInterval)
	v.SetDefault("worker.requeue_interval", d.Worker.RequeueInterval)
	v.SetDefault("worker.reaper_interval", d.Worker.ReaperInterval)
	v.SetDefault("worker.heartbeat_interval", d.Worker.HeartbeatInterval)
	v.SetDefault("worker.stale_after", d.Worker.StaleAfter)
	v.SetDefault("worker.tenant_rate", 0)
	v.SetDefault("worker.tenant_burst", 0)
	v.SetDefault("scheduler.tick_interval", d.Scheduler.TickInterval)
	v.SetDefault("scheduler.failure_threshold", d.Scheduler.FailureThreshold)
	v.SetDefault("scheduler.inline_timeout", d.Scheduler.InlineTimeout)
	v.SetDefault("scheduler.batch_size", d.Scheduler.BatchSize)
	v.SetDefault("plugins.endpoint", "")
	v.SetDefault("plugins.types", []string{})
}
