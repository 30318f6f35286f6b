// Package main is the entrypoint for the automated rescheduling sweep.
//
// The sweep runs on a schedule (an EventBridge rule invoking the Lambda, or
// a cron running the binary). For every configured site and each of the
// next SWEEP_WEEKS_AHEAD weeks it applies the rule recommendations through
// the Rescheduler. Moves that fail, for example on a concurrent edit, are
// reported and picked up again by the next run.
//
// Outside Lambda the binary performs one run over the configured sites and
// exits non-zero if any week could not be swept.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/jonboulle/clockwork"

	"marinaops/internal/app"
	"marinaops/internal/config"
	"marinaops/internal/db"
	"marinaops/internal/scheduling"
	"marinaops/internal/types"
)

// lockTTL outlasts any single week sweep; an invocation that dies keeps the
// week locked at most this long.
const lockTTL = 15 * time.Minute

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if err := run(logger); err != nil {
		logger.Error("sweeper failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	logger.Info("sweeper initializing")

	cfg, err := config.LoadConfig(config.NewSecretProviderFromEnv())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	ctx := context.Background()
	engine, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("building engine: %w", err)
	}
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Warn("engine close failed", "error", err)
		}
	}()

	clock := clockwork.NewRealClock()
	handler := newHandler(handlerConfig{
		Sweeper: engine.Sweeper,
		Locks:   db.NewSweepLockRepository(engine.Pool, clock),
		Runs:    db.NewSweepRunRepository(engine.Pool),
		Sweep:   cfg.Sweep,
		Owner:   workerID(),
		Clock:   clock,
		Logger:  logger,
	})

	if isLambdaEnvironment() {
		logger.Info("sweeper Lambda initialized", "sites", cfg.Sweep.SiteIDs, "weeks_ahead", cfg.Sweep.WeeksAhead)
		lambda.Start(handler)
		return nil
	}

	summary, err := handler(ctx, SweepInput{})
	if err != nil {
		return err
	}
	if summary.FailedWeeks > 0 {
		return fmt.Errorf("%d of %d weeks could not be swept", summary.FailedWeeks, len(summary.Reports)+summary.FailedWeeks)
	}
	return nil
}

// WeekSweeper is satisfied by *scheduling.Sweeper.
type WeekSweeper interface {
	Sweep(ctx context.Context, siteID string, weekStart types.Date) (scheduling.SweepReport, error)
}

// SweepLocker is satisfied by *db.SweepLockRepository.
type SweepLocker interface {
	Acquire(ctx context.Context, siteID string, weekStart types.Date, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, siteID string, weekStart types.Date, owner string) error
}

// RunRecorder is satisfied by *db.SweepRunRepository.
type RunRecorder interface {
	Start(ctx context.Context, siteID string, weekStart types.Date) (int64, error)
	Finish(ctx context.Context, id int64, report scheduling.SweepReport, sweepErr error) error
}

// SweepInput is the scheduled event payload. Empty fields fall back to the
// configured sites and horizon, starting at the current week.
type SweepInput struct {
	SiteIDs    []string `json:"site_ids,omitempty"`
	WeekStart  string   `json:"week_start,omitempty"`
	WeeksAhead int      `json:"weeks_ahead,omitempty"`
}

// SweepSummary aggregates the reports of one invocation.
type SweepSummary struct {
	Reports     []scheduling.SweepReport `json:"reports"`
	Moved       int                      `json:"moved"`
	Failed      int                      `json:"failed"`
	Skipped     int                      `json:"skipped"`
	FailedWeeks int                      `json:"failed_weeks"`
}

// handlerConfig holds the handler dependencies. Locks and Runs are optional.
type handlerConfig struct {
	Sweeper WeekSweeper
	Locks   SweepLocker
	Runs    RunRecorder
	Sweep   config.SweepConfig
	Owner   string
	Clock   clockwork.Clock
	Logger  *slog.Logger
}

// newHandler returns the Lambda handler. A week that cannot be built is
// logged and counted; the remaining weeks still run. A week locked by
// another invocation is skipped. Only an invalid input or a cancelled
// context fails the invocation.
func newHandler(hc handlerConfig) func(ctx context.Context, input SweepInput) (SweepSummary, error) {
	if hc.Logger == nil {
		hc.Logger = slog.Default()
	}
	if hc.Clock == nil {
		hc.Clock = clockwork.NewRealClock()
	}
	logger, clock := hc.Logger, hc.Clock

	return func(ctx context.Context, input SweepInput) (SweepSummary, error) {
		sites := input.SiteIDs
		if len(sites) == 0 {
			sites = hc.Sweep.SiteIDs
		}
		if len(sites) == 0 {
			return SweepSummary{}, errors.New("no sites to sweep: set SWEEP_SITE_IDS or site_ids")
		}

		weeks := input.WeeksAhead
		if weeks <= 0 {
			weeks = max(hc.Sweep.WeeksAhead, 1)
		}

		start := types.DateOf(clock.Now()).WeekStart()
		if input.WeekStart != "" {
			d, err := types.ParseDate(input.WeekStart)
			if err != nil {
				return SweepSummary{}, fmt.Errorf("week_start: %w", err)
			}
			start = d
		}

		logger.InfoContext(ctx, "sweep invoked", "sites", sites, "week_start", start.String(), "weeks", weeks)

		var summary SweepSummary
		for _, site := range sites {
			for i := 0; i < weeks; i++ {
				if err := ctx.Err(); err != nil {
					return summary, err
				}
				weekStart := start.AddDays(7 * i)
				log := logger.With("site_id", site, "week_start", weekStart.String())

				if hc.Locks != nil {
					ok, err := hc.Locks.Acquire(ctx, site, weekStart, hc.Owner, lockTTL)
					if err != nil {
						summary.FailedWeeks++
						log.ErrorContext(ctx, "sweep lock failed", "error", err)
						continue
					}
					if !ok {
						summary.Skipped++
						log.InfoContext(ctx, "week already being swept, skipping")
						continue
					}
				}

				report, err := sweepWeek(ctx, hc, site, weekStart)

				if hc.Locks != nil {
					if rerr := hc.Locks.Release(context.WithoutCancel(ctx), site, weekStart, hc.Owner); rerr != nil {
						log.WarnContext(ctx, "sweep lock release failed", "error", rerr)
					}
				}
				if err != nil {
					summary.FailedWeeks++
					log.ErrorContext(ctx, "week sweep failed", "error", err)
					continue
				}

				summary.Reports = append(summary.Reports, report)
				summary.Moved += len(report.Moved)
				summary.Failed += len(report.Failed)
			}
		}
		return summary, nil
	}
}

// sweepWeek runs one sweep and records it in the run history when a
// recorder is configured. A history failure never fails the sweep.
func sweepWeek(ctx context.Context, hc handlerConfig, site string, weekStart types.Date) (scheduling.SweepReport, error) {
	log := hc.Logger.With("site_id", site, "week_start", weekStart.String())

	var runID int64
	if hc.Runs != nil {
		id, err := hc.Runs.Start(ctx, site, weekStart)
		if err != nil {
			log.WarnContext(ctx, "sweep run history unavailable", "error", err)
		} else {
			runID = id
		}
	}

	began := hc.Clock.Now()
	report, err := hc.Sweeper.Sweep(ctx, site, weekStart)

	if runID != 0 {
		if ferr := hc.Runs.Finish(context.WithoutCancel(ctx), runID, report, err); ferr != nil {
			log.WarnContext(ctx, "sweep run history not finished", "run_id", runID, "error", ferr)
		}
	}
	if err == nil {
		log.InfoContext(ctx, "week swept",
			"moved", len(report.Moved),
			"failed", len(report.Failed),
			"duration_ms", hc.Clock.Since(began).Milliseconds(),
		)
	}
	return report, err
}

// workerID identifies this invocation in sweep_locks.
func workerID() string {
	if name := os.Getenv("AWS_LAMBDA_LOG_STREAM_NAME"); name != "" {
		return name
	}
	host, _ := os.Hostname()
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// isLambdaEnvironment returns true if the process is running inside AWS Lambda.
func isLambdaEnvironment() bool {
	_, hasRuntimeAPI := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	_, hasServerPort := os.LookupEnv("_LAMBDA_SERVER_PORT")
	return hasRuntimeAPI || hasServerPort
}
