package weather

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"marinaops/internal/observability"
	"marinaops/internal/types"
)

// defaultFetchTimeout bounds a shared upstream call, which outlives the
// caller that started it.
const defaultFetchTimeout = 30 * time.Second

// CachedProvider is a read-through cache in front of a Provider. Found
// observations are kept for ttl and confirmed absences for missingTTL.
// Provider errors are never cached. Concurrent lookups of the same key share
// one upstream call; it runs detached from any single caller's context, and
// each caller stops waiting when its own context ends.
type CachedProvider struct {
	inner        Provider
	cache        Cache
	ttl          time.Duration
	missingTTL   time.Duration
	fetchTimeout time.Duration
	group        singleflight.Group
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// CachedOption configures a CachedProvider.
type CachedOption func(*CachedProvider)

// WithMissingTTL sets how long a confirmed absence is cached.
func WithMissingTTL(d time.Duration) CachedOption {
	return func(c *CachedProvider) { c.missingTTL = d }
}

// WithFetchTimeout bounds each shared upstream call.
func WithFetchTimeout(d time.Duration) CachedOption {
	return func(c *CachedProvider) { c.fetchTimeout = d }
}

// WithCacheMetrics records hits and misses.
func WithCacheMetrics(m *observability.Metrics) CachedOption {
	return func(c *CachedProvider) { c.metrics = m }
}

// WithCacheLogger sets the logger used for cache backend failures.
func WithCacheLogger(l *slog.Logger) CachedOption {
	return func(c *CachedProvider) { c.logger = l }
}

// NewCachedProvider wraps inner with cache.
func NewCachedProvider(inner Provider, cache Cache, ttl time.Duration, opts ...CachedOption) *CachedProvider {
	c := &CachedProvider{
		inner:        inner,
		cache:        cache,
		ttl:          ttl,
		missingTTL:   ttl,
		fetchTimeout: defaultFetchTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *CachedProvider) GetObservation(ctx context.Context, siteID string, date types.Date) (types.WeatherObservation, error) {
	key := Key{SiteID: siteID, Date: date}

	entry, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.WarnContext(ctx, "observation cache read failed", "key", key.String(), "error", err)
	} else if ok {
		c.record("hit")
		return entry.result()
	}
	c.record("miss")

	ch := c.group.DoChan(key.String(), func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()

		obs, err := c.inner.GetObservation(fetchCtx, siteID, date)
		switch {
		case err == nil:
			c.store(fetchCtx, key, Entry{Observation: &obs}, c.ttl)
			return Entry{Observation: &obs}, nil
		case errors.Is(err, ErrNoObservation):
			c.store(fetchCtx, key, Entry{Missing: true}, c.missingTTL)
			return Entry{Missing: true}, nil
		default:
			return nil, err
		}
	})

	select {
	case <-ctx.Done():
		return types.WeatherObservation{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return types.WeatherObservation{}, res.Err
		}
		return res.Val.(Entry).result()
	}
}

func (c *CachedProvider) store(ctx context.Context, key Key, e Entry, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if err := c.cache.Set(ctx, key, e, ttl); err != nil {
		c.logger.WarnContext(ctx, "observation cache write failed", "key", key.String(), "error", err)
	}
}

func (c *CachedProvider) record(result string) {
	if c.metrics != nil {
		c.metrics.ObservationCache.WithLabelValues(result).Inc()
	}
}
