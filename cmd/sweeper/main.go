package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joao-fontenele/storefront/internal/config"
	"github.com/joao-fontenele/storefront/internal/storage/postgres"
	"github.com/joao-fontenele/storefront/internal/sweeper"
	"github.com/joao-fontenele/storefront/internal/telemetry"
)

const serviceName = "storefront-sweeper"

func main() {
	once := flag.Bool("once", false, "run a single sweep and exit")
	days := flag.Int("days", 0, "retention in days for guest cart rows (defaults to CART_RETENTION)")
	flag.Parse()

	if err := run(*once, *days); err != nil {
		slog.Error("sweeper exited", "error", err)
		os.Exit(1)
	}
}

func run(once bool, days int) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.PostgresURL == "" {
		return errors.New("POSTGRES_URL is required")
	}

	level, _ := config.ParseLevel(cfg.LogLevel)
	logger := telemetry.NewLogger(os.Stdout, level, serviceName)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdown, err := telemetry.InitTracerProvider(ctx, serviceName, cfg.ServiceVersion, cfg.OTLPEndpoint)
		if err != nil {
			return fmt.Errorf("initialize tracer: %w", err)
		}
		defer func() { _ = shutdown(context.Background()) }()
	}

	db, err := telemetry.OpenPostgres(ctx, cfg.PostgresURL)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	maxAge := cfg.CartRetention
	if days > 0 {
		maxAge = time.Duration(days) * 24 * time.Hour
	}

	sw, err := sweeper.New(postgres.NewStore(db).Carts(), logger, sweeper.WithMaxAge(maxAge))
	if err != nil {
		return err
	}

	if once {
		_, err := sw.Sweep(ctx)
		return err
	}

	logger.Info("starting cart sweeper", "interval", cfg.SweepInterval, "max_age", maxAge)
	if err := sw.Run(ctx, cfg.SweepInterval); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("sweeper stopped")
	return nil
}
