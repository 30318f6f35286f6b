package scheduling

import (
	"context"
	"log/slog"
	"sort"

	"marinaops/internal/types"
)

// SweepMove records a task moved by the sweep.
type SweepMove struct {
	TaskID string     `json:"task_id"`
	From   types.Date `json:"from"`
	To     types.Date `json:"to"`
}

// SweepFailure records a recommendation that could not be applied.
type SweepFailure struct {
	TaskID string          `json:"task_id"`
	Target types.Date      `json:"target"`
	Code   types.ErrorCode `json:"code"`
	Error  string          `json:"error"`
}

// SweepReport summarizes one sweep over a site and week.
type SweepReport struct {
	SiteID      string         `json:"site_id"`
	WeekStart   types.Date     `json:"week_start"`
	Evaluated   int            `json:"evaluated"`
	Unavailable int            `json:"unavailable"`
	Blocked     int            `json:"blocked"`
	Moved       []SweepMove    `json:"moved"`
	Failed      []SweepFailure `json:"failed"`
}

// Sweeper applies rule recommendations in bulk. It is a caller of the
// Rescheduler like any other, with no special path of its own.
type Sweeper struct {
	planner     *Planner
	rescheduler *Rescheduler
	logger      *slog.Logger
}

// NewSweeper wires a Sweeper.
func NewSweeper(planner *Planner, rescheduler *Rescheduler, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{planner: planner, rescheduler: rescheduler, logger: logger}
}

// Sweep re-reads the week from storage, evaluates it, and reschedules every
// task that carries a recommended adjustment. Failed moves are reported and
// never retried. Only cancellation of ctx or a failure to build the week
// aborts the sweep.
func (s *Sweeper) Sweep(ctx context.Context, siteID string, weekStart types.Date) (SweepReport, error) {
	if err := validateWeek(siteID, weekStart); err != nil {
		return SweepReport{}, err
	}
	s.planner.Cache().Invalidate(WeekKey{WeekStart: weekStart, SiteID: siteID})

	view, err := s.planner.Week(ctx, siteID, weekStart)
	if err != nil {
		return SweepReport{}, err
	}

	report := SweepReport{
		SiteID:    siteID,
		WeekStart: weekStart,
		Moved:     []SweepMove{},
		Failed:    []SweepFailure{},
	}

	type candidate struct {
		task types.Task
		adj  int
	}
	var candidates []candidate
	for _, day := range view.Days {
		for _, task := range day.Tasks {
			eval := day.Evaluations[task.ID]
			report.Evaluated++
			switch {
			case eval.Status == types.EvaluationUnavailable:
				report.Unavailable++
			case eval.Blocked():
				report.Blocked++
			}
			if eval.RecommendedAdjustmentDays != nil && task.Status == types.TaskStatusScheduled {
				candidates = append(candidates, candidate{task: task, adj: *eval.RecommendedAdjustmentDays})
			}
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i].task, candidates[j].task
		if c := a.ScheduledDate.Compare(b.ScheduledDate); c != 0 {
			return c < 0
		}
		return a.ID < b.ID
	})

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		target := c.task.ScheduledDate.AddDays(c.adj)
		res, err := s.rescheduler.RescheduleFrom(ctx, c.task.ID, c.task.ScheduledDate, target)
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Failed = append(report.Failed, SweepFailure{
				TaskID: c.task.ID,
				Target: target,
				Code:   types.CodeOf(err),
				Error:  err.Error(),
			})
			s.logger.WarnContext(ctx, "sweep could not apply recommendation",
				"task_id", c.task.ID,
				"target", target.String(),
				"error", err,
			)
			continue
		}
		if res.Moved {
			report.Moved = append(report.Moved, SweepMove{TaskID: c.task.ID, From: c.task.ScheduledDate, To: res.Task.ScheduledDate})
		}
	}

	s.logger.InfoContext(ctx, "sweep complete",
		"site_id", siteID,
		"week_start", weekStart.String(),
		"evaluated", report.Evaluated,
		"moved", len(report.Moved),
		"failed", len(report.Failed),
	)
	return report, nil
}
