// Package livesync keeps memoized planning weeks fresh when tasks change
// underneath the engine. It consumes a change feed (Kafka or SQS), drops the
// weeks each event touches, and publishes the engine's own moves onto the
// same feed for other instances.
//
// The listener holds no business logic: it never patches a cached view,
// only invalidates it, so the next read recomputes from storage.
package livesync

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"marinaops/internal/observability"
	"marinaops/internal/scheduling"
	"marinaops/internal/types"
)

// Delivery is one change event read from a feed. Ack confirms it was
// applied; it is never nil.
type Delivery struct {
	Event types.ChangeEvent
	// Malformed is set when the payload could not be decoded. Event then
	// carries whatever could be recovered, usually nothing.
	Malformed bool
	Ack       func(ctx context.Context) error
}

// Feed yields change events in receipt order.
type Feed interface {
	Next(ctx context.Context) (Delivery, error)
	Close() error
}

// WeekInvalidator drops memoized weeks. *scheduling.WeekCache implements it.
type WeekInvalidator interface {
	Invalidate(key scheduling.WeekKey)
	InvalidateSite(siteID string)
	InvalidateAll()
}

const (
	minBackoff = 500 * time.Millisecond
	maxBackoff = 30 * time.Second
)

// Listener applies change events to a WeekInvalidator, one at a time in
// receipt order.
type Listener struct {
	feed    Feed
	weeks   WeekInvalidator
	source  string
	clock   clockwork.Clock
	metrics *observability.Metrics
	logger  *slog.Logger
}

// ListenerOption configures a Listener.
type ListenerOption func(*Listener)

// WithListenerClock sets the clock used for backoff between feed errors.
func WithListenerClock(c clockwork.Clock) ListenerOption {
	return func(l *Listener) { l.clock = c }
}

// WithListenerMetrics counts applied events.
func WithListenerMetrics(m *observability.Metrics) ListenerOption {
	return func(l *Listener) { l.metrics = m }
}

// NewListener creates a Listener. source labels the feed in logs and
// metrics ("kafka", "sqs").
func NewListener(feed Feed, weeks WeekInvalidator, source string, logger *slog.Logger, opts ...ListenerOption) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Listener{
		feed:   feed,
		weeks:  weeks,
		source: source,
		clock:  clockwork.NewRealClock(),
		logger: logger.With("component", "livesync", "source", source),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run consumes the feed until ctx is cancelled. Feed errors are logged and
// retried with capped exponential backoff. Run returns nil on cancellation.
func (l *Listener) Run(ctx context.Context) error {
	l.logger.InfoContext(ctx, "live sync listener started")
	backoff := minBackoff
	for {
		d, err := l.feed.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				l.logger.InfoContext(ctx, "live sync listener stopped")
				return nil
			}
			l.logger.WarnContext(ctx, "change feed read failed", "error", err, "retry_in", backoff.String())
			select {
			case <-ctx.Done():
				return nil
			case <-l.clock.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = minBackoff

		l.Apply(ctx, d)
		if err := d.Ack(ctx); err != nil {
			// Redelivery only costs one redundant invalidation.
			l.logger.WarnContext(ctx, "change event ack failed", "task_id", d.Event.TaskID, "error", err)
		}
	}
}

// Apply invalidates every memoized week the delivery touches. An event
// without a site or without any date, or one that could not be decoded,
// widens the invalidation rather than skipping it.
func (l *Listener) Apply(ctx context.Context, d Delivery) {
	ev := d.Event
	kind := string(ev.Kind)
	if kind == "" {
		kind = "unknown"
	}
	if l.metrics != nil {
		l.metrics.SyncEvents.WithLabelValues(l.source, kind).Inc()
	}

	switch dates := ev.AffectedDates(); {
	case d.Malformed || ev.SiteID == "":
		l.weeks.InvalidateAll()
		l.logger.DebugContext(ctx, "invalidated all weeks", "task_id", ev.TaskID, "malformed", d.Malformed)
	case len(dates) == 0:
		l.weeks.InvalidateSite(ev.SiteID)
		l.logger.DebugContext(ctx, "invalidated site", "task_id", ev.TaskID, "site_id", ev.SiteID)
	default:
		for _, date := range dates {
			l.weeks.Invalidate(scheduling.KeyFor(ev.SiteID, date))
		}
		l.logger.DebugContext(ctx, "invalidated weeks", "task_id", ev.TaskID, "site_id", ev.SiteID, "dates", len(dates))
	}
}
