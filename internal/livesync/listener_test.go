package livesync

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
	"marinaops/internal/scheduling"
	"marinaops/internal/types"
)

type recordingWeeks struct {
	mu    sync.Mutex
	keys  []scheduling.WeekKey
	sites []string
	all   int
}

func (w *recordingWeeks) Invalidate(k scheduling.WeekKey) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.keys = append(w.keys, k)
}

func (w *recordingWeeks) InvalidateSite(s string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sites = append(w.sites, s)
}

func (w *recordingWeeks) InvalidateAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.all++
}

// chanFeed replays scripted results, then blocks until ctx is done.
type chanFeed struct {
	results chan feedResult
	acked   chan string
}

type feedResult struct {
	d   Delivery
	err error
}

func newChanFeed(results ...feedResult) *chanFeed {
	f := &chanFeed{results: make(chan feedResult, len(results)), acked: make(chan string, len(results))}
	for _, r := range results {
		f.results <- r
	}
	return f
}

func (f *chanFeed) Next(ctx context.Context) (Delivery, error) {
	select {
	case r := <-f.results:
		if r.err != nil {
			return Delivery{}, r.err
		}
		id := r.d.Event.ID
		r.d.Ack = func(context.Context) error {
			f.acked <- id
			return nil
		}
		return r.d, nil
	case <-ctx.Done():
		return Delivery{}, ctx.Err()
	}
}

func (f *chanFeed) Close() error { return nil }

func dptr(s string) *types.Date {
	d := types.MustParseDate(s)
	return &d
}

func TestApply_InvalidatesBothWeeksOfAMove(t *testing.T) {
	weeks := &recordingWeeks{}
	metrics := observability.NewMetricsForTesting()
	l := NewListener(newChanFeed(), weeks, "kafka", nil, WithListenerMetrics(metrics))

	l.Apply(context.Background(), Delivery{Event: types.ChangeEvent{
		ID:           "e1",
		TaskID:       "t1",
		Kind:         types.ChangeUpdate,
		SiteID:       "port-nord",
		PreviousDate: dptr("2024-06-14"),
		NewDate:      dptr("2024-06-17"),
	}})

	assert.Equal(t, []scheduling.WeekKey{
		{WeekStart: types.MustParseDate("2024-06-10"), SiteID: "port-nord"},
		{WeekStart: types.MustParseDate("2024-06-17"), SiteID: "port-nord"},
	}, weeks.keys)
	assert.Zero(t, weeks.all)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SyncEvents.WithLabelValues("kafka", "update")))
}

func TestApply_WidensWhenScopeIsUnknown(t *testing.T) {
	weeks := &recordingWeeks{}
	l := NewListener(newChanFeed(), weeks, "sqs", nil)
	ctx := context.Background()

	l.Apply(ctx, Delivery{Event: types.ChangeEvent{TaskID: "t1", Kind: types.ChangeDelete, SiteID: "port-nord"}})
	assert.Equal(t, []string{"port-nord"}, weeks.sites)

	l.Apply(ctx, Delivery{Event: types.ChangeEvent{TaskID: "t2", Kind: types.ChangeInsert, NewDate: dptr("2024-06-11")}})
	assert.Equal(t, 1, weeks.all)

	l.Apply(ctx, Delivery{Malformed: true})
	assert.Equal(t, 2, weeks.all)
	assert.Empty(t, weeks.keys)
}

var _ WeekInvalidator = (*scheduling.WeekCache)(nil)

func TestRun_AppliesInOrderAndAcks(t *testing.T) {
	feed := newChanFeed(
		feedResult{d: Delivery{Event: types.ChangeEvent{ID: "e1", TaskID: "t1", Kind: types.ChangeUpdate, SiteID: "a", NewDate: dptr("2024-06-10")}}},
		feedResult{d: Delivery{Event: types.ChangeEvent{ID: "e2", TaskID: "t2", Kind: types.ChangeUpdate, SiteID: "b", NewDate: dptr("2024-06-10")}}},
	)
	weeks := &recordingWeeks{}
	l := NewListener(feed, weeks, "kafka", nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	assert.Equal(t, "e1", <-feed.acked)
	assert.Equal(t, "e2", <-feed.acked)
	cancel()
	require.NoError(t, <-done)

	weeks.mu.Lock()
	defer weeks.mu.Unlock()
	require.Len(t, weeks.keys, 2)
	assert.Equal(t, "a", weeks.keys[0].SiteID)
	assert.Equal(t, "b", weeks.keys[1].SiteID)
}

func TestRun_BacksOffOnFeedError(t *testing.T) {
	feed := newChanFeed(
		feedResult{err: errors.New("broker unreachable")},
		feedResult{d: Delivery{Event: types.ChangeEvent{ID: "e1", TaskID: "t1", Kind: types.ChangeDelete, SiteID: "a"}}},
	)
	clock := clockwork.NewFakeClock()
	l := NewListener(feed, &recordingWeeks{}, "sqs", nil, WithListenerClock(clock))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	select {
	case <-feed.acked:
		t.Fatal("event consumed before backoff elapsed")
	default:
	}
	clock.Advance(minBackoff)

	select {
	case id := <-feed.acked:
		assert.Equal(t, "e1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not resume after backoff")
	}
	cancel()
	require.NoError(t, <-done)
}
