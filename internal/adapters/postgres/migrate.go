package postgres

import (
	"context"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migration commands accepted by Migrate.
const (
	MigrateUp     = "up"
	MigrateDown   = "down"
	MigrateStatus = "status"
)

// Migrate runs an embedded goose migration command against the pool.
func Migrate(ctx context.Context, db *DB, command string) error {
	sqlDB := stdlib.OpenDBFromPool(db.Pool)
	defer sqlDB.Close()

	goose.SetBaseFS(migrations)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}

	switch command {
	case MigrateUp:
		return goose.UpContext(ctx, sqlDB, "migrations")
	case MigrateDown:
		return goose.DownContext(ctx, sqlDB, "migrations")
	case MigrateStatus:
		return goose.StatusContext(ctx, sqlDB, "migrations")
	default:
		return fmt.Errorf("unknown migrate command %q (want up, down or status)", command)
	}
}
