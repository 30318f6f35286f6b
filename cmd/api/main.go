// Package main is the entry point for the marinaops scheduling API.
//
// It loads configuration, wires the scheduling engine against Postgres and
// the configured weather, cache and change-feed backends, mounts the HTTP
// handlers on the core chassis and serves until SIGINT or SIGTERM. The live
// sync listener runs alongside the server so memoized weeks follow changes
// made by other instances.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"marinaops/internal/api/handlers"
	"marinaops/internal/app"
	"marinaops/internal/config"
	"marinaops/internal/core"
	"marinaops/internal/observability"
)

const (
	shutdownTimeout       = 10 * time.Second
	cloudWatchFlushPeriod = time.Minute
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig(config.NewSecretProviderFromEnv())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("marinaops API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetricsWithRegistry(registry)

	engine, err := app.Build(ctx, cfg, logger, app.WithLiveSync(), app.WithMetrics(metrics))
	if err != nil {
		return fmt.Errorf("building engine: %w", err)
	}

	srv, err := newServer(cfg, logger, serverDeps{
		Planner:  engine.Planner,
		Mover:    engine.Rescheduler,
		Sweeper:  engine.Sweeper,
		Rules:    engine.Rules,
		Weeks:    engine.Weeks,
		Metrics:  metrics,
		Gatherer: registry,
		Probes:   engine.HealthProbes(),
	})
	if err != nil {
		_ = engine.Close()
		return fmt.Errorf("creating server: %w", err)
	}
	// Shutdown hooks run in reverse: the engine closes last.
	srv.OnShutdown(func(context.Context) error { return engine.Close() })

	// Workers are stopped by shutdown hooks, after the HTTP drain.
	bgCtx, cancelBg := context.WithCancel(context.Background())
	defer cancelBg()

	if cfg.Observability.MetricsBackend == "cloudwatch" {
		collector, err := newCloudWatchCollector(ctx, cfg, logger)
		if err != nil {
			_ = engine.Close()
			return err
		}
		srv.Metrics = collector
		startWorker(bgCtx, srv, "cloudwatch metrics", logger, func(ctx context.Context) error {
			collector.Run(ctx, cloudWatchFlushPeriod)
			return nil
		})
	}

	if engine.Listener != nil {
		startWorker(bgCtx, srv, "live sync listener", logger, engine.Listener.Run)
	}

	srv.MountRoutes()
	return runHTTPServer(ctx, srv, cfg, logger)
}

// serverDeps are the engine components the HTTP surface depends on.
type serverDeps struct {
	Planner  handlers.WeekPlanner
	Mover    handlers.TaskMover
	Sweeper  handlers.WeekSweeper
	Rules    handlers.RuleRegistry
	Weeks    handlers.ViewInvalidator
	Metrics  *observability.Metrics
	Gatherer prometheus.Gatherer
	Probes   []core.HealthProbe
}

// newServer builds the core server and registers the v1 handlers. Routes
// are not mounted so the caller can still swap the metrics collector.
func newServer(cfg *config.Config, logger *slog.Logger, deps serverDeps) (*core.Server, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, err
	}

	srv.Metrics = core.NewPrometheusCollector(deps.Metrics)
	srv.MetricsHandler = promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})
	srv.HealthProbes = deps.Probes

	schedule := handlers.NewScheduleHandler(deps.Planner, deps.Mover, deps.Sweeper, srv.Validator, logger)
	ruleHandler := handlers.NewRulesHandler(deps.Rules, deps.Weeks, deps.Metrics, logger)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		schedule.RegisterRoutes,
		ruleHandler.RegisterRoutes,
	)
	return srv, nil
}

func newCloudWatchCollector(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*core.CloudWatchCollector, error) {
	awsCfg, err := app.LoadAWSConfig(ctx, cfg.AWS)
	if err != nil {
		return nil, fmt.Errorf("cloudwatch: %w", err)
	}
	return core.NewCloudWatchCollector(
		cloudwatch.NewFromConfig(awsCfg),
		cfg.Observability.MetricNamespace,
		clockwork.NewRealClock(),
		logger,
	), nil
}

// startWorker runs fn in a goroutine and registers a shutdown hook that
// cancels it and waits for it to return.
func startWorker(parent context.Context, srv *core.Server, name string, logger *slog.Logger, fn func(context.Context) error) {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := fn(ctx); err != nil {
			logger.Error("background worker exited", "worker", name, "error", err)
		}
	}()
	srv.OnShutdown(func(shutdownCtx context.Context) error {
		cancel()
		select {
		case <-done:
			return nil
		case <-shutdownCtx.Done():
			return fmt.Errorf("%s did not stop: %w", name, shutdownCtx.Err())
		}
	})
}

// runHTTPServer serves until ctx is cancelled or the listener fails, then
// drains in-flight requests and runs the shutdown hooks.
func runHTTPServer(ctx context.Context, srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			runErr = fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return errors.Join(runErr, err)
	}
	if runErr != nil {
		return runErr
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: false,
	})
	return slog.New(handler)
}
