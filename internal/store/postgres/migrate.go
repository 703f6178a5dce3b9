package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"github.com/assaka/daino/internal/constants"
	"github.com/assaka/daino/internal/lock"
	"github.com/sirupsen/logrus"
	"io/fs"
	"sort"
)

const schema = "daino"

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrate creates the schema and applies every embedded script in name order.
// A session advisory lock keeps concurrent processes from migrating at once;
// scripts are idempotent so re-running them is safe.
func Migrate(ctx context.Context, db *sql.DB, logger logrus.FieldLogger) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("migrate: acquire connection: %w", err)
	}
	defer conn.Close()

	key := lock.AdvisoryKey(constants.MigrationLock)
	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", key); err != nil {
		return fmt.Errorf("migrate: lock: %w", err)
	}
	defer conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", key)

	if _, err := conn.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return fmt.Errorf("migrate: create schema: %w", err)
	}

	scripts, err := readSQLScripts()
	if err != nil {
		return err
	}
	for _, name := range scripts {
		content, err := migrationFiles.ReadFile(name)
		if err != nil {
			return err
		}
		if logger != nil {
			logger.WithField("script", name).Info("applying migration")
		}
		if _, err := conn.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("migrate: %s: %w", name, err)
		}
	}
	return nil
}

func readSQLScripts() ([]string, error) {
	names, err := fs.Glob(migrationFiles, "migrations/*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}
