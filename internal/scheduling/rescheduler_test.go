package scheduling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marinaops/internal/observability"
	"marinaops/internal/rules"
	"marinaops/internal/types"
)

type rescheduleFixture struct {
	store     *memTaskStore
	provider  *fakeProvider
	planner   *Planner
	publisher *recordingPublisher
	metrics   *observability.Metrics
	r         *Rescheduler
}

func newRescheduleFixture(t *testing.T, tasks ...types.Task) *rescheduleFixture {
	t.Helper()
	f := &rescheduleFixture{
		store:     newMemTaskStore(tasks...),
		provider:  newFakeProvider(),
		publisher: &recordingPublisher{},
		metrics:   observability.NewMetricsForTesting(),
	}
	clock := clockwork.NewFakeClockAt(time.Date(2024, 6, 9, 8, 0, 0, 0, time.UTC))
	ruleSource := &ruleHolder{set: rules.MustNewSet(storm(), highWind(30, 2))}
	evaluator := NewEvaluator(f.provider, WithEvaluatorClock(clock))
	f.planner = NewPlanner(f.store, ruleSource, NewAggregator(evaluator, 4, nil), NewWeekCache(time.Hour, clock, nil), nil)
	f.r = NewRescheduler(f.store, ruleSource, evaluator, f.planner.Cache(), nil,
		WithPublisher(f.publisher),
		WithReschedulerClock(clock),
		WithReschedulerMetrics(f.metrics),
	)
	return f
}

func (f *rescheduleFixture) outcome(name string) float64 {
	return testutil.ToFloat64(f.metrics.Reschedules.WithLabelValues(name))
}

func TestReschedule_AppliesRecommendation(t *testing.T) {
	f := newRescheduleFixture(t, task("t1", "2024-06-10"))
	f.provider.set(site, types.MustParseDate("2024-06-10"), windy(35))
	f.provider.set(site, types.MustParseDate("2024-06-12"), windy(10))
	ctx := context.Background()

	res, err := f.r.ApplyRecommendation(ctx, "t1")
	require.NoError(t, err)

	assert.True(t, res.Moved)
	assert.Equal(t, types.MustParseDate("2024-06-12"), res.Task.ScheduledDate)
	assert.Equal(t, types.MustParseDate("2024-06-12"), f.store.date("t1"))
	assert.True(t, res.Evaluation.Suitable)
	assert.Equal(t, types.MustParseDate("2024-06-12"), res.Evaluation.Date)
	assert.Equal(t, 1.0, f.outcome("moved"))

	require.Len(t, f.publisher.events, 1)
	ev := f.publisher.events[0]
	assert.Equal(t, "t1", ev.TaskID)
	assert.Equal(t, types.ChangeUpdate, ev.Kind)
	assert.Equal(t, site, ev.SiteID)
	assert.Equal(t, types.MustParseDate("2024-06-10"), *ev.PreviousDate)
	assert.Equal(t, types.MustParseDate("2024-06-12"), *ev.NewDate)
	assert.Equal(t, ChangeSourceRescheduler, ev.Source)
	assert.NotEmpty(t, ev.ID)
}

func TestApplyRecommendation_NoneAvailable(t *testing.T) {
	f := newRescheduleFixture(t, task("t1", "2024-06-10"))
	f.provider.set(site, types.MustParseDate("2024-06-10"), stormy())

	_, err := f.r.ApplyRecommendation(context.Background(), "t1")
	assert.True(t, types.IsCode(err, types.ErrCodeConflictNoRecommendation))
	assert.Equal(t, int32(0), f.store.writes.Load())
}

func TestApplyRecommendation_WeatherUnavailable(t *testing.T) {
	f := newRescheduleFixture(t, task("t1", "2024-06-10"))
	f.provider.fail(site, types.MustParseDate("2024-06-10"), errors.New("provider down"))

	_, err := f.r.ApplyRecommendation(context.Background(), "t1")
	assert.True(t, types.IsCode(err, types.ErrCodeUnavailableWeather))
	assert.Equal(t, int32(0), f.store.writes.Load())
}

func TestRescheduleFrom_RejectsTaskMovedSinceObserved(t *testing.T) {
	f := newRescheduleFixture(t, task("t1", "2024-06-11"))
	ctx := context.Background()

	_, err := f.r.RescheduleFrom(ctx, "t1", types.MustParseDate("2024-06-10"), types.MustParseDate("2024-06-12"))
	assert.True(t, types.IsCode(err, types.ErrCodeConflictConcurrent))
	assert.Equal(t, types.MustParseDate("2024-06-11"), f.store.date("t1"))
	assert.Equal(t, int32(0), f.store.writes.Load())
	assert.Empty(t, f.publisher.events)
	assert.Equal(t, 1.0, f.outcome("conflict"))

	res, err := f.r.RescheduleFrom(ctx, "t1", types.MustParseDate("2024-06-11"), types.MustParseDate("2024-06-12"))
	require.NoError(t, err)
	assert.True(t, res.Moved)
}

func TestReschedule_SameDateIsNoop(t *testing.T) {
	f := newRescheduleFixture(t, task("t1", "2024-06-10"))
	ctx := context.Background()

	_, err := f.planner.Week(ctx, site, monday)
	require.NoError(t, err)

	res, err := f.r.Reschedule(ctx, "t1", types.MustParseDate("2024-06-10"))
	require.NoError(t, err)

	assert.False(t, res.Moved)
	assert.Equal(t, "t1", res.Evaluation.TaskID)
	assert.Equal(t, int32(0), f.store.writes.Load())
	assert.Equal(t, 1, f.planner.Cache().Len(), "no invalidation on a no-op")
	assert.Empty(t, f.publisher.events)
	assert.Equal(t, 1.0, f.outcome("noop"))
}

func TestReschedule_InvalidatesOldAndNewWeeks(t *testing.T) {
	f := newRescheduleFixture(t, task("t1", "2024-06-14"), task("t2", "2024-06-18"))
	ctx := context.Background()
	nextMonday := monday.AddDays(7)

	_, err := f.planner.Week(ctx, site, monday)
	require.NoError(t, err)
	_, err = f.planner.Week(ctx, site, nextMonday)
	require.NoError(t, err)
	require.Equal(t, 2, f.planner.Cache().Len())

	_, err = f.r.Reschedule(ctx, "t1", types.MustParseDate("2024-06-17"))
	require.NoError(t, err)
	assert.Equal(t, 0, f.planner.Cache().Len())

	view, err := f.planner.Week(ctx, site, nextMonday)
	require.NoError(t, err)
	assert.Len(t, view.Days[0].Tasks, 1)
	assert.Equal(t, "t1", view.Days[0].Tasks[0].ID)
}

func TestReschedule_Errors(t *testing.T) {
	done := task("done", "2024-06-10")
	done.Status = types.TaskStatusCompleted
	cancelled := task("gone", "2024-06-10")
	cancelled.Status = types.TaskStatusCancelled
	running := task("busy", "2024-06-10")
	running.Status = types.TaskStatusInProgress

	f := newRescheduleFixture(t, done, cancelled, running)
	ctx := context.Background()
	target := types.MustParseDate("2024-06-11")

	_, err := f.r.Reschedule(ctx, "missing", target)
	assert.True(t, types.IsCode(err, types.ErrCodeNotFoundTask))

	for _, id := range []string{"done", "gone", "busy"} {
		_, err = f.r.Reschedule(ctx, id, target)
		assert.True(t, types.IsCode(err, types.ErrCodeConflictInvalidState), id)
		assert.Equal(t, types.MustParseDate("2024-06-10"), f.store.date(id))
	}

	_, err = f.r.Reschedule(ctx, "done", types.Date{})
	assert.True(t, types.IsCode(err, types.ErrCodeValidationInvalidDate))

	assert.Equal(t, int32(0), f.store.writes.Load())
	assert.Equal(t, 1.0, f.outcome("not_found"))
	assert.Equal(t, 3.0, f.outcome("invalid_state"))
	assert.Empty(t, f.publisher.events)
}

func TestReschedule_ConcurrentMovesOneWins(t *testing.T) {
	f := newRescheduleFixture(t, task("t1", "2024-06-10"))

	// Hold both readers until each has seen the original date.
	var read sync.WaitGroup
	read.Add(2)
	f.store.onGet = func() {
		read.Done()
		read.Wait()
	}

	targets := []types.Date{types.MustParseDate("2024-06-11"), types.MustParseDate("2024-06-13")}
	errs := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, d := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.r.Reschedule(context.Background(), "t1", d)
		}()
	}
	wg.Wait()

	var won, lost int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case types.IsCode(err, types.ErrCodeConflictConcurrent):
			lost++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, 1, lost)
	assert.Equal(t, int32(1), f.store.writes.Load())
	assert.Contains(t, targets, f.store.date("t1"))
	assert.Equal(t, 1.0, f.outcome("conflict"))
}

func TestReschedule_PublishFailureIsNotFatal(t *testing.T) {
	f := newRescheduleFixture(t, task("t1", "2024-06-10"))
	f.publisher.err = errors.New("broker down")

	res, err := f.r.Reschedule(context.Background(), "t1", types.MustParseDate("2024-06-11"))
	require.NoError(t, err)
	assert.True(t, res.Moved)
	assert.Equal(t, types.MustParseDate("2024-06-11"), f.store.date("t1"))
}

func TestReschedule_UnavailableWeatherDoesNotBlockMove(t *testing.T) {
	f := newRescheduleFixture(t, task("t1", "2024-06-10"))
	f.provider.fail(site, types.MustParseDate("2024-06-11"), errors.New("upstream 503"))

	res, err := f.r.Reschedule(context.Background(), "t1", types.MustParseDate("2024-06-11"))
	require.NoError(t, err)
	assert.True(t, res.Moved)
	assert.Equal(t, types.EvaluationUnavailable, res.Evaluation.Status)
	assert.Equal(t, types.SeverityUnknown, res.Evaluation.Severity())
}
