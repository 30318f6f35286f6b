// Package main is the entry point for marinactl, the operator CLI.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"marinaops/internal/app"
	"marinaops/internal/cli"
	"marinaops/internal/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCmd(&cli.App{Connect: connect})
	return root.ExecuteContext(ctx)
}

// connect loads configuration and builds the engine on first use. Logs go
// to stderr so stdout stays parseable.
func connect(ctx context.Context) (*cli.Services, error) {
	cfg, err := config.LoadConfig(config.NewSecretProviderFromEnv())
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	engine, err := app.Build(ctx, cfg, newLogger(cfg.LogLevel, os.Stderr))
	if err != nil {
		return nil, err
	}
	return &cli.Services{
		Planner: engine.Planner,
		Mover:   engine.Rescheduler,
		Sweeper: engine.Sweeper,
		Close:   engine.Close,
	}, nil
}

func newLogger(level string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelWarn
	}
	// Only warnings and above unless debugging.
	if lvl < slog.LevelWarn && lvl != slog.LevelDebug {
		lvl = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
