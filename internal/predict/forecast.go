package predict

import (
	"context"
	"fmt"
	"math"

	"github.com/ecosimlab/predictor/internal/features"
	"github.com/ecosimlab/predictor/models"
)

// Forecasting constants. The fallback keeps a flat confidence by design; a
// delegated model may instead decay confidence with horizon length.
const (
	fallbackForecastConfidence = 0.7
	forecastTrendWindow        = 5

	// Per-species uniform noise bands for projected populations.
	plantNoiseBand     = 10.0
	herbivoreNoiseBand = 5.0
	carnivoreNoiseBand = 2.0

	// Slope beyond which a per-step trend stops counting as stable.
	// The sidecar labels at +-2 over a 5-point window, i.e. 0.4/step.
	trendLabelCutoff = 0.5
)

// ForecastPopulations projects populations steps ahead for a user. Requires
// at least 20 snapshots of history. Delegates to the model service when one
// is configured, otherwise extrapolates the recent linear trend with
// bounded noise; the result is persisted before it is returned.
func (e *Engine) ForecastPopulations(ctx context.Context, userID string, steps int) (*models.Forecast, error) {
	steps = clampHorizon(steps, DefaultForecastHorizon)

	snaps, err := e.snapshots.FetchRecentSnapshots(ctx, userID, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("fetching snapshot history: %w", err)
	}
	if len(snaps) < features.MinForecastWindow {
		return nil, &models.InsufficientDataError{
			Op:     "forecast populations",
			Needed: features.MinForecastWindow,
			Got:    len(snaps),
		}
	}

	var forecast *models.Forecast
	if e.model != nil {
		fc, err := e.model.ForecastPopulations(ctx, snaps, steps)
		if err == nil {
			forecast = fc
		} else {
			e.logger.Warn().Err(err).Msg("Model service unavailable, using trend extrapolation")
		}
	}
	if forecast == nil {
		forecast = e.extrapolate(snaps, steps)
	}

	input := snaps[len(snaps)-features.MinForecastWindow:]
	if _, err := e.record(ctx, userID, models.PredictionTypeForecast, input, forecast, forecast.Confidence, steps); err != nil {
		return nil, err
	}

	return forecast, nil
}

// extrapolate is the fallback forecaster: linear trend over the last 5
// snapshots plus uniform noise, clamped so populations never go negative.
func (e *Engine) extrapolate(snaps []models.Snapshot, steps int) *models.Forecast {
	trend := features.Trends(snaps, forecastTrendWindow)
	last := snaps[len(snaps)-1]

	points := make([]models.ForecastPoint, 0, steps)
	for i := 1; i <= steps; i++ {
		points = append(points, models.ForecastPoint{
			Step:       last.Step + i,
			Plants:     project(last.Plants, trend.Plants, i, e.uniform(-plantNoiseBand, plantNoiseBand)),
			Herbivores: project(last.Herbivores, trend.Herbivores, i, e.uniform(-herbivoreNoiseBand, herbivoreNoiseBand)),
			Carnivores: project(last.Carnivores, trend.Carnivores, i, e.uniform(-carnivoreNoiseBand, carnivoreNoiseBand)),
		})
	}

	return &models.Forecast{
		Predictions: points,
		Confidence:  fallbackForecastConfidence,
		Trends: map[string]string{
			"plants":     trendLabel(trend.Plants),
			"herbivores": trendLabel(trend.Herbivores),
			"carnivores": trendLabel(trend.Carnivores),
		},
	}
}

func project(base int, slope float64, step int, noise float64) int {
	v := float64(base) + slope*float64(step) + noise
	if v < 0 {
		return 0
	}
	return int(math.Round(v))
}

func trendLabel(slope float64) string {
	switch {
	case slope > trendLabelCutoff:
		return models.TrendIncreasing
	case slope < -trendLabelCutoff:
		return models.TrendDecreasing
	default:
		return models.TrendStable
	}
}
