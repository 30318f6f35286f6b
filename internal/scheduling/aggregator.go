package scheduling

import (
	"context"
	"sort"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"marinaops/internal/observability"
	"marinaops/internal/rules"
	"marinaops/internal/types"
)

// DefaultConcurrency is the fan-out limit when none is configured.
const DefaultConcurrency = 8

// Aggregator groups tasks by scheduled date and reduces each day's
// evaluations to one severity.
type Aggregator struct {
	evaluator   *Evaluator
	concurrency int
	clock       clockwork.Clock
	metrics     *observability.Metrics
}

// NewAggregator creates an Aggregator that evaluates at most concurrency
// tasks at once. A non-positive concurrency uses DefaultConcurrency.
func NewAggregator(evaluator *Evaluator, concurrency int, metrics *observability.Metrics) *Aggregator {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Aggregator{
		evaluator:   evaluator,
		concurrency: concurrency,
		clock:       clockwork.NewRealClock(),
		metrics:     metrics,
	}
}

// Aggregate evaluates every task against set and returns one DayGroup per
// distinct scheduled date.
//
// Evaluations fan out across a bounded pool. If ctx is cancelled or any
// evaluation fails hard, the remaining work is abandoned and nothing is
// returned. Aggregate has no side effects; repeated calls on the same input
// produce the same groups and the same representatives.
func (a *Aggregator) Aggregate(ctx context.Context, tasks []types.Task, set *rules.Set) (map[types.Date]types.DayGroup, error) {
	start := a.clock.Now()

	evals := make([]types.Evaluation, len(tasks))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)

	for i, task := range tasks {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			eval, err := a.evaluator.Evaluate(gCtx, task, set)
			if err != nil {
				return err
			}
			evals[i] = eval
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	groups := reduce(tasks, evals)

	if a.metrics != nil {
		a.metrics.AggregateDuration.Observe(a.clock.Since(start).Seconds())
		a.metrics.AggregateTasks.Observe(float64(len(tasks)))
	}
	return groups, nil
}

// reduce builds the day groups from tasks and their evaluations, which share
// an index.
func reduce(tasks []types.Task, evals []types.Evaluation) map[types.Date]types.DayGroup {
	byDate := make(map[types.Date][]int)
	for i, t := range tasks {
		byDate[t.ScheduledDate] = append(byDate[t.ScheduledDate], i)
	}

	groups := make(map[types.Date]types.DayGroup, len(byDate))
	for date, idx := range byDate {
		sort.SliceStable(idx, func(a, b int) bool {
			return tasks[idx[a]].ID < tasks[idx[b]].ID
		})

		group := types.DayGroup{
			Date:        date,
			Tasks:       make([]types.Task, 0, len(idx)),
			Severity:    types.SeveritySuitable,
			Evaluations: make(map[string]types.Evaluation, len(idx)),
		}
		for _, i := range idx {
			group.Tasks = append(group.Tasks, tasks[i])
			group.Evaluations[tasks[i].ID] = evals[i]
			group.Severity = types.MaxSeverity(group.Severity, evals[i].Severity())
		}
		for _, i := range idx {
			if evals[i].Severity() == group.Severity {
				rep := evals[i]
				group.Representative = &rep
				break
			}
		}
		groups[date] = group
	}
	return groups
}

// emptyDay is the group rendered for a date with no tasks.
func emptyDay(date types.Date) types.DayGroup {
	return types.DayGroup{
		Date:        date,
		Tasks:       []types.Task{},
		Severity:    types.SeveritySuitable,
		Evaluations: map[string]types.Evaluation{},
	}
}
