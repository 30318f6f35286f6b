// Package cli implements marinactl, the operator command line for the
// scheduling engine.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"marinaops/internal/scheduling"
	"marinaops/internal/types"
)

// Planner reads aggregated weeks.
type Planner interface {
	Week(ctx context.Context, siteID string, weekStart types.Date) (scheduling.WeekView, error)
}

// Mover reschedules a single task.
type Mover interface {
	Reschedule(ctx context.Context, taskID string, newDate types.Date) (scheduling.Result, error)
}

// Sweeper applies every recommendation of a week.
type Sweeper interface {
	Sweep(ctx context.Context, siteID string, weekStart types.Date) (scheduling.SweepReport, error)
}

// Services are the engine operations the data commands need.
type Services struct {
	Planner Planner
	Mover   Mover
	Sweeper Sweeper

	// Close releases whatever Connect opened. May be nil.
	Close func() error
}

// App carries the dependencies of every command. Connect is called lazily
// so commands that never touch the database (rules validate) work offline.
type App struct {
	Connect func(ctx context.Context) (*Services, error)
}

// NewRootCmd creates the top-level "marinactl" command.
func NewRootCmd(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:           "marinactl",
		Short:         "Operate the marina maintenance scheduling engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newRulesCmd(),
		newWeekCmd(app),
		newRescheduleCmd(app),
		newSweepCmd(app),
	)
	return root
}

// withServices connects, runs fn and always releases the connection.
func withServices(ctx context.Context, app *App, fn func(*Services) error) (err error) {
	if app == nil || app.Connect == nil {
		return fmt.Errorf("no engine configured")
	}
	svc, err := app.Connect(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if svc.Close != nil {
		defer func() {
			if cerr := svc.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
	}
	return fn(svc)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseDateFlag(name, value string) (types.Date, error) {
	d, err := types.ParseDate(value)
	if err != nil {
		return types.Date{}, fmt.Errorf("--%s: %w", name, err)
	}
	return d, nil
}
