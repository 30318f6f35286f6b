package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"marinaops/internal/external"
	"marinaops/internal/types"
)

// maxObservationBytes caps the response body read from the upstream.
const maxObservationBytes = 64 << 10

// HTTPProvider fetches observations from the weather service:
//
//	GET {base}/v1/sites/{site}/observations/{YYYY-MM-DD}
//
// 200 carries the observation, 404 means no observation.
type HTTPProvider struct {
	client  *external.BaseClient
	baseURL string
	apiKey  types.SecretString
	logger  *slog.Logger
}

// NewHTTPProvider creates an HTTPProvider. apiKey may be empty.
func NewHTTPProvider(client *external.BaseClient, baseURL string, apiKey types.SecretString, logger *slog.Logger) *HTTPProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPProvider{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		logger:  logger,
	}
}

func (p *HTTPProvider) GetObservation(ctx context.Context, siteID string, date types.Date) (types.WeatherObservation, error) {
	endpoint := fmt.Sprintf("%s/v1/sites/%s/observations/%s", p.baseURL, url.PathEscape(siteID), date)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return types.WeatherObservation{}, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build weather request", err)
	}
	req.Header.Set("Accept", "application/json")
	if key := p.apiKey.Unmask(); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return types.WeatherObservation{}, types.NewAppError(types.ErrCodeUpstreamWeather, "weather service request failed", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return types.WeatherObservation{}, ErrNoObservation
	default:
		return types.WeatherObservation{}, types.NewAppErrorWithDetails(
			types.ErrCodeUpstreamWeather,
			"weather service returned unexpected status",
			nil,
			map[string]any{"status": resp.StatusCode},
		)
	}

	var obs types.WeatherObservation
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxObservationBytes)).Decode(&obs); err != nil {
		return types.WeatherObservation{}, types.NewAppError(types.ErrCodeUpstreamWeather, "weather service returned malformed observation", err)
	}

	if obs.SiteID == "" {
		obs.SiteID = siteID
	}
	if obs.Date.IsZero() {
		obs.Date = date
	}
	if obs.SiteID != siteID || obs.Date != date {
		p.logger.WarnContext(ctx, "weather service returned observation for a different key",
			"requested_site", siteID, "requested_date", date.String(),
			"site", obs.SiteID, "date", obs.Date.String(),
		)
		return types.WeatherObservation{}, types.NewAppError(types.ErrCodeUpstreamWeather, "weather service returned mismatched observation", nil)
	}
	return obs, nil
}
