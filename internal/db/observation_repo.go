package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"marinaops/internal/types"
	"marinaops/internal/weather"
)

// ObservationRepository reads recorded observations from
// weather_observations. It implements weather.Provider.
type ObservationRepository struct {
	db DBTX
}

// NewObservationRepository creates an ObservationRepository.
func NewObservationRepository(db DBTX) *ObservationRepository {
	return &ObservationRepository{db: db}
}

var _ weather.Provider = (*ObservationRepository)(nil)

func (r *ObservationRepository) GetObservation(ctx context.Context, siteID string, date types.Date) (types.WeatherObservation, error) {
	var obs types.WeatherObservation
	err := r.db.QueryRow(ctx,
		`SELECT site_id, observed_on, condition, temperature_min, temperature_max,
		        wind_speed, precipitation, recorded_at
		 FROM weather_observations
		 WHERE site_id = $1 AND observed_on = $2`,
		siteID, date,
	).Scan(
		&obs.SiteID,
		&obs.Date,
		&obs.Condition,
		&obs.TemperatureMin,
		&obs.TemperatureMax,
		&obs.WindSpeed,
		&obs.Precipitation,
		&obs.RecordedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.WeatherObservation{}, weather.ErrNoObservation
		}
		return types.WeatherObservation{}, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve observation", err)
	}
	return obs, nil
}
