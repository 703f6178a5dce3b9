// Package logging builds the process logger and scopes it to tenants.
package logging

import (
	"context"
	"fmt"
	"github.com/assaka/daino/internal/tenant"
	"github.com/assaka/daino/types/config"
	"github.com/sirupsen/logrus"
	"io"
	"os"
	"path/filepath"
)

// New builds a logger from configuration. The returned func closes a log
// file when one was opened.
func New(c config.LogConfig) (*logrus.Logger, func(), error) {
	l := logrus.New()

	level := logrus.InfoLevel
	if c.Level != "" {
		parsed, err := logrus.ParseLevel(c.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("log level: %w", err)
		}
		level = parsed
	}
	l.SetLevel(level)

	switch c.Format {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	cleanup := func() {}
	switch c.Output {
	case "", "stdout":
		l.SetOutput(os.Stdout)
	case "stderr":
		l.SetOutput(os.Stderr)
	default:
		if err := os.MkdirAll(filepath.Dir(c.Output), 0o755); err != nil {
			return nil, nil, err
		}
		f, err := os.OpenFile(c.Output, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
		if err != nil {
			return nil, nil, err
		}
		l.SetOutput(f)
		cleanup = func() { _ = f.Close() }
	}
	return l, cleanup, nil
}

// Discard returns a logger that writes nowhere.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l logrus.FieldLogger) logrus.FieldLogger {
	if l == nil {
		return Discard()
	}
	return l
}

// FromContext adds the tenant carried by ctx to l.
func FromContext(ctx context.Context, l logrus.FieldLogger) logrus.FieldLogger {
	l = OrDiscard(l)
	if id, ok := tenant.FromContext(ctx); ok {
		return l.WithField("tenant_id", id)
	}
	return l
}
