package core

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/jonboulle/clockwork"

	"marinaops/internal/observability"
	"marinaops/internal/types"
)

// PrometheusCollector records request metrics into the engine's Prometheus
// metrics.
type PrometheusCollector struct {
	metrics *observability.Metrics
}

// NewPrometheusCollector wraps m.
func NewPrometheusCollector(m *observability.Metrics) *PrometheusCollector {
	return &PrometheusCollector{metrics: m}
}

func (c *PrometheusCollector) RecordRequest(method, route, status string, duration time.Duration) {
	c.metrics.HTTPRequests.WithLabelValues(method, route, status).Inc()
	c.metrics.HTTPDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

const (
	// cloudWatchBatchSize is the number of datums sent per PutMetricData call.
	cloudWatchBatchSize = 500
	// cloudWatchBuffer bounds the datums held between flushes; beyond it new
	// datums are dropped.
	cloudWatchBuffer = 4 * cloudWatchBatchSize
)

// CloudWatchCollector buffers request datums and ships them in batches, so
// the request path never waits on CloudWatch. Run drives the periodic
// flush; Flush can also be called directly.
type CloudWatchCollector struct {
	client    CloudWatchClient
	namespace string
	clock     clockwork.Clock
	logger    *slog.Logger

	mu      sync.Mutex
	pending []cwtypes.MetricDatum
	dropped int
}

// NewCloudWatchCollector creates a collector publishing under namespace.
// An empty namespace falls back to types.MetricNamespace.
func NewCloudWatchCollector(client CloudWatchClient, namespace string, clock clockwork.Clock, logger *slog.Logger) *CloudWatchCollector {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchCollector{
		client:    client,
		namespace: namespace,
		clock:     clock,
		logger:    logger,
	}
}

func (c *CloudWatchCollector) RecordRequest(method, route, status string, duration time.Duration) {
	now := c.clock.Now()
	dims := []cwtypes.Dimension{
		{Name: aws.String(types.DimMethod), Value: aws.String(method)},
		{Name: aws.String(types.DimEndpoint), Value: aws.String(route)},
		{Name: aws.String(types.DimStatus), Value: aws.String(status)},
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending)+2 > cloudWatchBuffer {
		c.dropped += 2
		return
	}
	c.pending = append(c.pending,
		cwtypes.MetricDatum{
			MetricName: aws.String(types.MetricAPILatency),
			Value:      aws.Float64(float64(duration.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Timestamp:  aws.Time(now),
			Dimensions: dims,
		},
		cwtypes.MetricDatum{
			MetricName: aws.String(types.MetricAPIRequestCount),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Timestamp:  aws.Time(now),
			Dimensions: dims,
		},
	)
}

// Flush sends every buffered datum. A failed batch is logged and discarded;
// metrics failures never propagate to callers.
func (c *CloudWatchCollector) Flush(ctx context.Context) {
	c.mu.Lock()
	batch := c.pending
	dropped := c.dropped
	c.pending = nil
	c.dropped = 0
	c.mu.Unlock()

	if dropped > 0 {
		c.logger.WarnContext(ctx, "cloudwatch buffer full, datums dropped", "count", dropped)
	}

	for len(batch) > 0 {
		n := min(len(batch), cloudWatchBatchSize)
		input := &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(c.namespace),
			MetricData: batch[:n],
		}
		if _, err := c.client.PutMetricData(ctx, input); err != nil {
			c.logger.ErrorContext(ctx, "failed to publish request metrics",
				"error", err,
				"datums", n,
			)
		}
		batch = batch[n:]
	}
}

// Run flushes every interval until ctx is cancelled, then flushes once more
// with a short detached deadline.
func (c *CloudWatchCollector) Run(ctx context.Context, interval time.Duration) {
	ticker := c.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			c.Flush(ctx)
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			c.Flush(flushCtx)
			cancel()
			return
		}
	}
}
