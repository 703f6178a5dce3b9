package app

import (
	"database/sql"
	"github.com/assaka/daino/engine"
	"github.com/assaka/daino/handlers"
	"github.com/assaka/daino/web"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ContainerOption configures Container creation. Used for testing and customization.
type ContainerOption func(*containerConfig)

type containerConfig struct {
	// Optional: inject custom DB instead of creating from config
	db         *sql.DB
	redis      *redis.Client
	logger     *logrus.Logger
	deps       handlers.Deps
	authorizer web.Authorizer
	alerter    engine.Alerter
}

// WithDB injects a shared database used for every tenant. Useful for testing.
func WithDB(db *sql.DB) ContainerOption {
	return func(c *containerConfig) {
		c.db = db
	}
}

// WithRedis injects a custom Redis client. Useful for testing.
func WithRedis(redis *redis.Client) ContainerOption {
	return func(c *containerConfig) {
		c.redis = redis
	}
}

func WithLogger(l *logrus.Logger) ContainerOption {
	return func(c *containerConfig) {
		c.logger = l
	}
}

// WithHandlerDeps supplies the collaborators of the built-in job types.
func WithHandlerDeps(d handlers.Deps) ContainerOption {
	return func(c *containerConfig) {
		c.deps = d
	}
}

func WithAuthorizer(a web.Authorizer) ContainerOption {
	return func(c *containerConfig) {
		c.authorizer = a
	}
}

// WithAlerter routes auto-pause notifications, e.g. to a store owner's inbox.
func WithAlerter(a engine.Alerter) ContainerOption {
	return func(c *containerConfig) {
		c.alerter = a
	}
}
