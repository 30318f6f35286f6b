package scheduling

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"marinaops/internal/observability"
	"marinaops/internal/types"
)

// ChangePublisher announces committed moves to other instances.
type ChangePublisher interface {
	Publish(ctx context.Context, event types.ChangeEvent) error
}

// ChangeSourceRescheduler tags events published by the Rescheduler.
const ChangeSourceRescheduler = "rescheduler"

// Result is the outcome of a Reschedule call.
type Result struct {
	Task       types.Task       `json:"task"`
	Evaluation types.Evaluation `json:"evaluation"`
	Moved      bool             `json:"moved"`
}

// Rescheduler is the only path through which a task's scheduled date
// changes. Manual moves and rule recommendations both go through
// Reschedule.
type Rescheduler struct {
	tasks     TaskStore
	rules     RuleSnapshotter
	evaluator *Evaluator
	weeks     *WeekCache
	publisher ChangePublisher
	clock     clockwork.Clock
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// ReschedulerOption configures a Rescheduler.
type ReschedulerOption func(*Rescheduler)

// WithPublisher announces each committed move on the change feed.
func WithPublisher(p ChangePublisher) ReschedulerOption {
	return func(r *Rescheduler) { r.publisher = p }
}

// WithReschedulerClock sets the clock used to stamp change events.
func WithReschedulerClock(c clockwork.Clock) ReschedulerOption {
	return func(r *Rescheduler) { r.clock = c }
}

// WithReschedulerMetrics records outcomes.
func WithReschedulerMetrics(m *observability.Metrics) ReschedulerOption {
	return func(r *Rescheduler) { r.metrics = m }
}

// NewRescheduler wires a Rescheduler. weeks may be nil when nothing is
// memoized.
func NewRescheduler(tasks TaskStore, ruleSource RuleSnapshotter, evaluator *Evaluator, weeks *WeekCache, logger *slog.Logger, opts ...ReschedulerOption) *Rescheduler {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Rescheduler{
		tasks:     tasks,
		rules:     ruleSource,
		evaluator: evaluator,
		weeks:     weeks,
		clock:     clockwork.NewRealClock(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reschedule moves taskID to newDate.
//
// Only scheduled tasks move. Moving a task to the date it already has
// returns it unchanged without writing or invalidating anything. The write
// is a compare-and-swap on the date that was read, so a concurrent move by
// another actor surfaces as conflict_concurrent_modification. Failures are
// never retried here.
func (r *Rescheduler) Reschedule(ctx context.Context, taskID string, newDate types.Date) (Result, error) {
	res, outcome, err := r.reschedule(ctx, taskID, nil, newDate)
	r.record(outcome)
	return res, err
}

// RescheduleFrom is Reschedule for a target computed from an earlier read of
// the task. If the task is no longer on observed it fails with
// conflict_concurrent_modification instead of shifting the task again from
// wherever it is now.
func (r *Rescheduler) RescheduleFrom(ctx context.Context, taskID string, observed, newDate types.Date) (Result, error) {
	res, outcome, err := r.reschedule(ctx, taskID, &observed, newDate)
	r.record(outcome)
	return res, err
}

func (r *Rescheduler) reschedule(ctx context.Context, taskID string, observed *types.Date, newDate types.Date) (Result, string, error) {
	if newDate.IsZero() {
		return Result{}, "invalid", types.NewAppError(types.ErrCodeValidationInvalidDate, "new_date is required", nil)
	}

	task, err := r.tasks.Get(ctx, taskID)
	if err != nil {
		return Result{}, outcomeOf(err), err
	}

	if task.Status != types.TaskStatusScheduled {
		return Result{}, "invalid_state", types.NewAppErrorWithDetails(
			types.ErrCodeConflictInvalidState,
			"only scheduled tasks can be moved",
			nil,
			map[string]any{"task_id": task.ID, "status": string(task.Status)},
		)
	}

	if observed != nil && task.ScheduledDate != *observed {
		return Result{}, "conflict", types.NewAppErrorWithDetails(
			types.ErrCodeConflictConcurrent,
			"task was moved since it was evaluated",
			nil,
			map[string]any{
				"task_id":  task.ID,
				"observed": observed.String(),
				"current":  task.ScheduledDate.String(),
			},
		)
	}

	set := r.rules.Current()

	if task.ScheduledDate == newDate {
		eval, err := r.evaluator.Evaluate(ctx, task, set)
		if err != nil {
			return Result{}, outcomeOf(err), err
		}
		return Result{Task: task, Evaluation: eval}, "noop", nil
	}

	previous := task.ScheduledDate
	updated, err := r.tasks.CompareAndSwapDate(ctx, task.ID, previous, newDate)
	if err != nil {
		return Result{}, outcomeOf(err), err
	}

	r.invalidate(updated.SiteID, previous, newDate)

	eval, err := r.evaluator.Evaluate(ctx, updated, set)
	if err != nil {
		// The move is committed; report it with an undetermined evaluation.
		r.logger.WarnContext(ctx, "re-evaluation after move failed",
			"task_id", updated.ID,
			"error", err,
		)
		eval = types.Evaluation{
			TaskID:        updated.ID,
			Date:          updated.ScheduledDate,
			Status:        types.EvaluationUnavailable,
			ViolatedRules: []types.RuleViolation{},
			EvaluatedAt:   r.clock.Now().UTC(),
		}
	}

	r.publish(ctx, updated, previous)

	r.logger.InfoContext(ctx, "task rescheduled",
		"task_id", updated.ID,
		"site_id", updated.SiteID,
		"from", previous.String(),
		"to", updated.ScheduledDate.String(),
	)
	return Result{Task: updated, Evaluation: eval, Moved: true}, "moved", nil
}

// ApplyRecommendation evaluates taskID and, when a rule recommends a shift,
// moves the task by that many days from the date it was evaluated on.
func (r *Rescheduler) ApplyRecommendation(ctx context.Context, taskID string) (Result, error) {
	task, err := r.tasks.Get(ctx, taskID)
	if err != nil {
		return Result{}, err
	}
	eval, err := r.evaluator.Evaluate(ctx, task, r.rules.Current())
	if err != nil {
		return Result{}, err
	}
	if eval.Status == types.EvaluationUnavailable {
		return Result{}, types.NewAppErrorWithDetails(
			types.ErrCodeUnavailableWeather,
			"weather data is unavailable for this task's date",
			nil,
			map[string]any{"task_id": task.ID, "date": task.ScheduledDate.String()},
		)
	}
	if eval.RecommendedAdjustmentDays == nil {
		return Result{}, types.NewAppErrorWithDetails(
			types.ErrCodeConflictNoRecommendation,
			"no rule recommends moving this task",
			nil,
			map[string]any{"task_id": task.ID, "status": string(eval.Status)},
		)
	}
	return r.RescheduleFrom(ctx, task.ID, task.ScheduledDate, task.ScheduledDate.AddDays(*eval.RecommendedAdjustmentDays))
}

func (r *Rescheduler) invalidate(siteID string, dates ...types.Date) {
	if r.weeks == nil {
		return
	}
	seen := make(map[WeekKey]bool, len(dates))
	for _, d := range dates {
		key := KeyFor(siteID, d)
		if seen[key] {
			continue
		}
		seen[key] = true
		r.weeks.Invalidate(key)
	}
}

func (r *Rescheduler) publish(ctx context.Context, task types.Task, previous types.Date) {
	if r.publisher == nil {
		return
	}
	newDate := task.ScheduledDate
	event := types.ChangeEvent{
		ID:           uuid.NewString(),
		TaskID:       task.ID,
		Kind:         types.ChangeUpdate,
		SiteID:       task.SiteID,
		PreviousDate: &previous,
		NewDate:      &newDate,
		OccurredAt:   r.clock.Now().UTC(),
		Source:       ChangeSourceRescheduler,
	}
	if err := r.publisher.Publish(ctx, event); err != nil {
		r.logger.ErrorContext(ctx, "failed to publish change event",
			"task_id", task.ID,
			"event_id", event.ID,
			"error", err,
		)
	}
}

func (r *Rescheduler) record(outcome string) {
	if r.metrics != nil {
		r.metrics.Reschedules.WithLabelValues(outcome).Inc()
	}
}

func outcomeOf(err error) string {
	switch types.CodeOf(err) {
	case types.ErrCodeNotFoundTask:
		return "not_found"
	case types.ErrCodeConflictInvalidState:
		return "invalid_state"
	case types.ErrCodeConflictConcurrent:
		return "conflict"
	default:
		return "error"
	}
}
