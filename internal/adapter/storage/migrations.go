package storage

import (
	"context"
	"database/sql"
	"embed"
	"time"

	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/mysql/*.sql migrations/postgres/*.sql
var embedMigrations embed.FS

// RunMigrations runs a goose command (up, down, status, redo, ...) with the
// migrations of the dialect.
func RunMigrations(ctx context.Context, db *sql.DB, dialect Dialect, command string, args ...string) error {
	migrationCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect(string(dialect)); err != nil {
		return errors.Wrap(err, "set goose dialect")
	}

	if err := goose.RunContext(migrationCtx, command, db, "migrations/"+string(dialect), args...); err != nil {
		return errors.Wrapf(err, "goose %s", command)
	}
	return nil
}
