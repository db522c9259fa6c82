package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joao-fontenele/storefront/internal/cart"
	"github.com/joao-fontenele/storefront/internal/checkout"
	"github.com/joao-fontenele/storefront/internal/config"
	"github.com/joao-fontenele/storefront/internal/httpapi"
	"github.com/joao-fontenele/storefront/internal/identity"
	"github.com/joao-fontenele/storefront/internal/inventory"
	"github.com/joao-fontenele/storefront/internal/messaging"
	"github.com/joao-fontenele/storefront/internal/orders"
	"github.com/joao-fontenele/storefront/internal/storage"
	"github.com/joao-fontenele/storefront/internal/storage/memory"
	"github.com/joao-fontenele/storefront/internal/storage/postgres"
	"github.com/joao-fontenele/storefront/internal/telemetry"
)

const serviceName = "storefront"

func main() {
	if err := run(); err != nil {
		slog.Error("storefront exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.RequireJWTSecret(); err != nil {
		return err
	}

	level, _ := config.ParseLevel(cfg.LogLevel)
	logger := telemetry.NewLogger(os.Stdout, level, serviceName)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdownTracer, err := telemetry.InitTracerProvider(ctx, serviceName, cfg.ServiceVersion, cfg.OTLPEndpoint)
		if err != nil {
			return fmt.Errorf("initialize tracer: %w", err)
		}
		defer func() { _ = shutdownTracer(context.Background()) }()
	} else {
		telemetry.SetPropagator()
	}

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider(serviceName, cfg.ServiceVersion)
	if err != nil {
		return fmt.Errorf("initialize meter: %w", err)
	}
	defer func() { _ = shutdownMeter(context.Background()) }()

	store, ready, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	var publisher checkout.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		producer := messaging.NewProducer(cfg.KafkaBrokers, cfg.OrderTopic)
		defer func() { _ = producer.Close() }()
		publisher = producer
		logger.Info("publishing order events", "topic", cfg.OrderTopic, "brokers", cfg.KafkaBrokers)
	}

	cartService, err := cart.NewService(store, logger)
	if err != nil {
		return err
	}
	engine, err := checkout.NewEngine(store, publisher, logger)
	if err != nil {
		return err
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Cart:         cart.NewHandler(cartService, logger),
		Checkout:     checkout.NewHandler(engine, logger),
		Orders:       orders.NewHandler(store.Orders(), logger),
		Inventory:    inventory.NewHandler(store.Stock(), logger),
		Resolver:     identity.NewResolver(cfg.JWTSecret),
		Logger:       logger,
		Metrics:      metricsHandler,
		Ready:        ready,
		CORSOrigins:  cfg.CORSOrigins,
		RateLimitRPM: cfg.RateLimitRPM,
	})

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting storefront service", "port", cfg.Port, "storage", cfg.StorageDriver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Store, func(context.Context) error, func(), error) {
	if cfg.StorageDriver == config.DriverMemory {
		logger.Warn("using in-memory storage, data is lost on restart")
		store := memory.NewStore()
		memory.SeedCatalog(store)
		return store, nil, func() {}, nil
	}

	db, err := telemetry.OpenPostgres(ctx, cfg.PostgresURL)
	if err != nil {
		return nil, nil, nil, err
	}
	closeDB := func() { _ = db.Close() }
	return postgres.NewStore(db), pinger(db), closeDB, nil
}

func pinger(db *sql.DB) func(context.Context) error {
	return db.PingContext
}
