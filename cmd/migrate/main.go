// Command migrate applies the PostGIS export schema.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/riverscan/riverscan/internal/adapters/postgres"
	"github.com/riverscan/riverscan/internal/pkg/config"
	"github.com/riverscan/riverscan/internal/pkg/logging"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("migrate failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	fs.String("config", "", "path to a config file (default ./config.yaml if present)")
	fs.String("log-level", "", "debug, info, warn or error")
	fs.String("log-format", "", "text or json")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: migrate [flags] <up|down|status>")
	}
	command := fs.Arg(0)

	cfg, err := config.Load("riverscan-migrate", fs)
	if err != nil {
		return err
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx := context.Background()
	db, err := postgres.New(ctx, cfg.Database.DSN(), cfg.Database.MaxConns)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer db.Close()

	if err := postgres.Migrate(ctx, db, command); err != nil {
		return fmt.Errorf("migrate %s: %w", command, err)
	}
	slog.Info("migrations done", "command", command)
	return nil
}
