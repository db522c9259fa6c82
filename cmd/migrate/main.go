package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/joao-fontenele/storefront/internal/config"
	"github.com/joao-fontenele/storefront/internal/telemetry"
)

func main() {
	path := flag.String("path", "file://migrations", "migration source URL")
	flag.Parse()

	logger := telemetry.NewLogger(os.Stdout, slog.LevelInfo, "storefront-migrate")

	if err := run(logger, *path, flag.Args()); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, source string, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: migrate [-path url] <up|down|version|force N>")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.PostgresURL == "" {
		return errors.New("POSTGRES_URL is required")
	}
	if env := os.Getenv("MIGRATIONS_PATH"); env != "" {
		source = env
	}

	m, err := migrate.New(source, cfg.PostgresURL)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	switch args[0] {
	case "up":
		err = m.Up()
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("no pending migrations")
			return nil
		}
		if err != nil {
			return fmt.Errorf("up: %w", err)
		}
		logger.Info("migrations applied successfully")

	case "down":
		err = m.Steps(-1)
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("no migrations to rollback")
			return nil
		}
		if err != nil {
			return fmt.Errorf("down: %w", err)
		}
		logger.Info("migration rolled back successfully")

	case "version":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			logger.Info("no migrations applied yet")
			return nil
		}
		if err != nil {
			return fmt.Errorf("version: %w", err)
		}
		logger.Info("current migration version", slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))

	case "force":
		if len(args) < 2 {
			return errors.New("force requires a version")
		}
		version, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[1], err)
		}
		if err := m.Force(version); err != nil {
			return fmt.Errorf("force: %w", err)
		}
		logger.Info("migration version forced", slog.Int("version", version))

	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
	return nil
}
