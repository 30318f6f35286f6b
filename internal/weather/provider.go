// Package weather supplies weather observations for a (site, date) pair.
//
// Providers return ErrNoObservation when the upstream has no record for the
// pair. Every other error means the lookup itself failed; callers must not
// treat it as "no data".
package weather

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marinaops/internal/observability"
	"marinaops/internal/types"
)

// ErrNoObservation is returned when no observation exists for the site and
// date.
var ErrNoObservation = errors.New("weather: no observation for site and date")

// Provider looks up the recorded observation for a site and date.
type Provider interface {
	GetObservation(ctx context.Context, siteID string, date types.Date) (types.WeatherObservation, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, siteID string, date types.Date) (types.WeatherObservation, error)

func (f ProviderFunc) GetObservation(ctx context.Context, siteID string, date types.Date) (types.WeatherObservation, error) {
	return f(ctx, siteID, date)
}

// Key identifies one observation.
type Key struct {
	SiteID string
	Date   types.Date
}

func (k Key) String() string {
	return fmt.Sprintf("obs:%s:%s", k.SiteID, k.Date)
}

// Instrumented records lookup latency and outcome per provider.
type Instrumented struct {
	inner   Provider
	name    string
	metrics *observability.Metrics
}

// NewInstrumented wraps p. name labels the provider in metrics.
func NewInstrumented(p Provider, name string, metrics *observability.Metrics) *Instrumented {
	return &Instrumented{inner: p, name: name, metrics: metrics}
}

func (i *Instrumented) GetObservation(ctx context.Context, siteID string, date types.Date) (types.WeatherObservation, error) {
	start := time.Now()
	obs, err := i.inner.GetObservation(ctx, siteID, date)

	outcome := "found"
	switch {
	case errors.Is(err, ErrNoObservation):
		outcome = "missing"
	case err != nil:
		outcome = "error"
	}
	if i.metrics != nil {
		i.metrics.ProviderDuration.WithLabelValues(i.name, outcome).Observe(time.Since(start).Seconds())
	}
	return obs, err
}
