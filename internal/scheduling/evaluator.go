// Package scheduling implements the weather-constrained scheduling engine:
// per-task suitability evaluation, per-day aggregation, the reschedule
// command, the memoized week view and the automated sweep.
//
// Evaluation is always recomputed from the current task, the current
// observation and the rule set snapshot passed in. Nothing in this package
// holds a lock on task dates; the only guard is the store's compare-and-swap.
package scheduling

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"marinaops/internal/observability"
	"marinaops/internal/rules"
	"marinaops/internal/types"
	"marinaops/internal/weather"
)

// DefaultProviderTimeout bounds a single weather lookup.
const DefaultProviderTimeout = 3 * time.Second

// Evaluator applies a rule set to the observation for a task's site and
// scheduled date.
type Evaluator struct {
	provider weather.Provider
	timeout  time.Duration
	clock    clockwork.Clock
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithProviderTimeout overrides DefaultProviderTimeout.
func WithProviderTimeout(d time.Duration) EvaluatorOption {
	return func(e *Evaluator) { e.timeout = d }
}

// WithEvaluatorClock sets the clock used for EvaluatedAt.
func WithEvaluatorClock(c clockwork.Clock) EvaluatorOption {
	return func(e *Evaluator) { e.clock = c }
}

// WithEvaluatorMetrics records evaluation outcomes.
func WithEvaluatorMetrics(m *observability.Metrics) EvaluatorOption {
	return func(e *Evaluator) { e.metrics = m }
}

// WithEvaluatorLogger sets the logger for provider failures.
func WithEvaluatorLogger(l *slog.Logger) EvaluatorOption {
	return func(e *Evaluator) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEvaluator creates an Evaluator backed by provider.
func NewEvaluator(provider weather.Provider, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		provider: provider,
		timeout:  DefaultProviderTimeout,
		clock:    clockwork.NewRealClock(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate judges whether task can proceed on its scheduled date under set.
//
// A missing observation yields a suitable evaluation with status
// no_observation. A provider failure or timeout yields status unavailable,
// never suitable. The returned error is reserved for conditions the caller
// must handle: an invalid task date, an unevaluable predicate, or
// cancellation of ctx itself.
func (e *Evaluator) Evaluate(ctx context.Context, task types.Task, set *rules.Set) (types.Evaluation, error) {
	if task.ScheduledDate.IsZero() {
		return types.Evaluation{}, types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidDate,
			"task has no scheduled date",
			nil,
			map[string]any{"task_id": task.ID},
		)
	}

	eval := types.Evaluation{
		TaskID:        task.ID,
		Date:          task.ScheduledDate,
		ViolatedRules: []types.RuleViolation{},
	}

	obs, err := e.fetch(ctx, task.SiteID, task.ScheduledDate)
	switch {
	case err == nil:
	case errors.Is(err, weather.ErrNoObservation):
		eval.Suitable = true
		eval.Status = types.EvaluationNoObservation
		return e.finish(eval), nil
	case ctx.Err() != nil:
		return types.Evaluation{}, ctx.Err()
	default:
		e.logger.WarnContext(ctx, "weather lookup failed",
			"task_id", task.ID,
			"site_id", task.SiteID,
			"date", task.ScheduledDate.String(),
			"error", err,
		)
		eval.Status = types.EvaluationUnavailable
		return e.finish(eval), nil
	}

	blocking, advisory, err := set.Violations(obs)
	if err != nil {
		return types.Evaluation{}, err
	}

	eval.Status = types.EvaluationEvaluated
	eval.Observation = &obs
	switch {
	case len(blocking) > 0:
		eval.ViolatedRules = append(blocking, advisory...)
	case len(advisory) > 0:
		eval.ViolatedRules = advisory
		adj := advisory[0].AdjustmentDays
		eval.RecommendedAdjustmentDays = &adj
	default:
		eval.Suitable = true
	}
	return e.finish(eval), nil
}

func (e *Evaluator) fetch(ctx context.Context, siteID string, date types.Date) (types.WeatherObservation, error) {
	callCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	return e.provider.GetObservation(callCtx, siteID, date)
}

func (e *Evaluator) finish(eval types.Evaluation) types.Evaluation {
	eval.EvaluatedAt = e.clock.Now().UTC()
	if e.metrics != nil {
		e.metrics.Evaluations.WithLabelValues(string(eval.Status), string(eval.Severity())).Inc()
	}
	return eval
}
