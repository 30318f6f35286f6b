// Package app wires the scheduling engine from configuration. The API
// server, the sweeper and marinactl all build the same Engine and differ
// only in which parts they run.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"marinaops/internal/config"
	"marinaops/internal/core"
	"marinaops/internal/db"
	"marinaops/internal/external"
	"marinaops/internal/livesync"
	"marinaops/internal/observability"
	"marinaops/internal/rules"
	"marinaops/internal/scheduling"
	"marinaops/internal/weather"
)

// Engine holds the wired components. Fields that depend on optional
// backends are nil when the backend is disabled.
type Engine struct {
	Config  *config.Config
	Metrics *observability.Metrics

	Pool        *pgxpool.Pool
	Rules       *rules.Store
	Weeks       *scheduling.WeekCache
	Planner     *scheduling.Planner
	Rescheduler *scheduling.Rescheduler
	Sweeper     *scheduling.Sweeper

	// Listener is set only when built WithLiveSync and Sync.Backend is not "none".
	Listener *livesync.Listener

	probes  []core.HealthProbe
	closers []namedCloser
	logger  *slog.Logger
}

type namedCloser struct {
	name  string
	close func() error
}

type options struct {
	liveSync bool
	clock    clockwork.Clock
	metrics  *observability.Metrics
}

// Option configures Build.
type Option func(*options)

// WithLiveSync builds the change-feed Listener. Only the long-running API
// joins the feed; one-shot binaries only publish.
func WithLiveSync() Option {
	return func(o *options) { o.liveSync = true }
}

// WithClock overrides the clock shared by caches, evaluator and rescheduler.
func WithClock(c clockwork.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithMetrics registers engine metrics on m instead of the default registry.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Build connects to the configured backends and wires the engine. On error,
// everything opened so far is closed.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (_ *Engine, err error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	o := options{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = observability.NewMetrics()
	}

	e := &Engine{Config: cfg, Metrics: o.metrics, logger: logger}
	defer func() {
		if err != nil {
			_ = e.Close()
		}
	}()

	e.Pool, err = db.NewPool(ctx, db.PoolConfig{
		URL:             cfg.Database.URL.Unmask(),
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	e.addCloser("database", func() error { e.Pool.Close(); return nil })
	e.probes = append(e.probes, db.NewHealthProbe(e.Pool))

	e.Rules, err = rules.NewStore(ctx, ruleSource(cfg.Rules, e.Pool), logger, rules.WithClock(o.clock))
	if err != nil {
		return nil, fmt.Errorf("rules: %w", err)
	}
	e.Metrics.RulesLoaded.Set(float64(e.Rules.Current().Len()))
	e.probes = append(e.probes, e.Rules)

	provider, err := e.weatherProvider(cfg, o)
	if err != nil {
		return nil, fmt.Errorf("weather: %w", err)
	}

	e.Weeks = scheduling.NewWeekCache(cfg.Cache.TTL, o.clock, e.Metrics)
	publisher, err := e.changeSync(ctx, cfg, o)
	if err != nil {
		return nil, fmt.Errorf("live sync: %w", err)
	}

	tasks := db.NewTaskRepository(e.Pool)
	evaluator := scheduling.NewEvaluator(provider,
		scheduling.WithProviderTimeout(cfg.Weather.Timeout),
		scheduling.WithEvaluatorClock(o.clock),
		scheduling.WithEvaluatorMetrics(e.Metrics),
		scheduling.WithEvaluatorLogger(logger),
	)
	aggregator := scheduling.NewAggregator(evaluator, cfg.Weather.MaxConcurrency, e.Metrics)
	e.Planner = scheduling.NewPlanner(tasks, e.Rules, aggregator, e.Weeks, logger)

	reschedOpts := []scheduling.ReschedulerOption{
		scheduling.WithReschedulerClock(o.clock),
		scheduling.WithReschedulerMetrics(e.Metrics),
	}
	if publisher != nil {
		reschedOpts = append(reschedOpts, scheduling.WithPublisher(publisher))
	}
	e.Rescheduler = scheduling.NewRescheduler(tasks, e.Rules, evaluator, e.Weeks, logger, reschedOpts...)
	e.Sweeper = scheduling.NewSweeper(e.Planner, e.Rescheduler, logger)

	logger.InfoContext(ctx, "engine ready",
		"weather_provider", cfg.Weather.Provider,
		"cache_backend", cfg.Cache.Backend,
		"rules_source", cfg.Rules.Source,
		"rules", e.Rules.Current().Len(),
		"sync_backend", cfg.Sync.Backend,
	)
	return e, nil
}

// HealthProbes returns the probes for /health.
func (e *Engine) HealthProbes() []core.HealthProbe {
	return e.probes
}

// Close releases backends in reverse order of acquisition.
func (e *Engine) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		c := e.closers[i]
		if err := c.close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}

func (e *Engine) addCloser(name string, fn func() error) {
	e.closers = append(e.closers, namedCloser{name: name, close: fn})
}

func ruleSource(cfg config.RulesConfig, pool db.DBTX) rules.Source {
	if cfg.Source == "postgres" {
		return db.NewRuleRepository(pool)
	}
	return rules.NewFileSource(cfg.File)
}

func (e *Engine) weatherProvider(cfg *config.Config, o options) (weather.Provider, error) {
	var base weather.Provider
	switch cfg.Weather.Provider {
	case "postgres":
		base = db.NewObservationRepository(e.Pool)
	case "http", "":
		policy := external.DefaultRetryPolicy()
		policy.MaxRetries = cfg.Weather.MaxRetries
		client := external.NewBaseClient(
			&http.Client{Timeout: cfg.Weather.Timeout},
			"weather",
			policy,
			userAgent(cfg),
		)
		base = weather.NewHTTPProvider(client, cfg.Weather.BaseURL, cfg.Weather.APIKey, e.logger)
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Weather.Provider)
	}
	instrumented := weather.NewInstrumented(base, cfg.Weather.Provider, e.Metrics)

	cache, err := e.observationCache(cfg.Cache, o.clock)
	if err != nil {
		return nil, err
	}
	if cache == nil {
		return instrumented, nil
	}
	return weather.NewCachedProvider(instrumented, cache, cfg.Cache.TTL,
		weather.WithMissingTTL(cfg.Cache.MissingTTL),
		weather.WithFetchTimeout(cfg.Weather.Timeout),
		weather.WithCacheMetrics(e.Metrics),
		weather.WithCacheLogger(e.logger),
	), nil
}

func (e *Engine) observationCache(cfg config.CacheConfig, clock clockwork.Clock) (weather.Cache, error) {
	switch cfg.Backend {
	case "none":
		return nil, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword.Unmask(),
			DB:       cfg.RedisDB,
		})
		e.addCloser("redis", client.Close)
		e.probes = append(e.probes, core.ProbeFunc("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}))
		return weather.NewRedisCache(client, cfg.KeyPrefix), nil
	case "memory", "":
		return weather.NewMemoryCache(cfg.MaxEntries, clock), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// changeSync builds the change publisher and, WithLiveSync, the Listener.
// It returns a nil publisher when live sync is disabled.
func (e *Engine) changeSync(ctx context.Context, cfg *config.Config, o options) (scheduling.ChangePublisher, error) {
	listenerOpts := []livesync.ListenerOption{
		livesync.WithListenerClock(o.clock),
		livesync.WithListenerMetrics(e.Metrics),
	}

	switch cfg.Sync.Backend {
	case "none", "":
		return nil, nil

	case "kafka":
		pub := livesync.NewKafkaPublisher(livesync.NewKafkaWriter(cfg.Sync))
		e.addCloser("kafka publisher", pub.Close)
		if o.liveSync {
			instance := instanceID(cfg.Sync)
			feed := livesync.NewKafkaFeed(livesync.NewKafkaReader(cfg.Sync, instance), e.logger)
			e.addCloser("kafka feed", feed.Close)
			e.Listener = livesync.NewListener(feed, e.Weeks, "kafka", e.logger, listenerOpts...)
		}
		return pub, nil

	case "sqs":
		awsCfg, err := LoadAWSConfig(ctx, cfg.AWS)
		if err != nil {
			return nil, err
		}
		client := sqs.NewFromConfig(awsCfg)
		pub := livesync.NewSQSPublisher(client, cfg.Sync.SQSQueueURL, e.logger)
		if o.liveSync {
			e.logger.WarnContext(ctx, "sqs live sync reaches one instance per message; other instances refresh on the week cache ttl",
				"cache_ttl", cfg.Cache.TTL,
			)
			feed := livesync.NewSQSFeed(client, cfg.Sync.SQSQueueURL, cfg.Sync.SQSWaitTime, e.logger)
			e.addCloser("sqs feed", feed.Close)
			e.Listener = livesync.NewListener(feed, e.Weeks, "sqs", e.logger, listenerOpts...)
		}
		return pub, nil

	default:
		return nil, fmt.Errorf("unknown sync backend %q", cfg.Sync.Backend)
	}
}

// LoadAWSConfig loads the default credential chain for the configured
// region. EndpointURL points every client at LocalStack when set.
func LoadAWSConfig(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	if cfg.EndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.EndpointURL)
	}
	return awsCfg, nil
}

// instanceID names this process for per-instance consumer groups.
func instanceID(cfg config.SyncConfig) string {
	if cfg.InstanceID != "" {
		return cfg.InstanceID
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return uuid.NewString()
}

func userAgent(cfg *config.Config) string {
	return cfg.Service + "/" + cfg.Build.Version
}
