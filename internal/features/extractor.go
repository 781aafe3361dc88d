package features

import (
	"math"

	"github.com/ecosimlab/predictor/models"
)

// Window sizes for feature extraction.
const (
	// MinCollapseWindow is the minimum history length for collapse features.
	MinCollapseWindow = 10
	// MinForecastWindow is the minimum history length for forecasting.
	MinForecastWindow = 20

	trendWindow      = 10
	volatilityWindow = 20
	minTrendPoints   = 3
)

// Extract turns a chronological snapshot sequence into a feature vector.
// Requires at least MinCollapseWindow snapshots.
func Extract(snaps []models.Snapshot) (*models.FeatureVector, error) {
	if len(snaps) < MinCollapseWindow {
		return nil, &models.InsufficientDataError{
			Op:     "extract features",
			Needed: MinCollapseWindow,
			Got:    len(snaps),
		}
	}

	latest := snaps[len(snaps)-1]

	return &models.FeatureVector{
		Current: models.CurrentFeatures{
			Plants:             latest.Plants,
			Herbivores:         latest.Herbivores,
			Carnivores:         latest.Carnivores,
			TotalPopulation:    latest.TotalPopulation(),
			PredatorPreyRatio:  safeRatio(latest.Carnivores, latest.Herbivores),
			PlantsPerHerbivore: safeRatio(latest.Plants, latest.Herbivores),
		},
		Trends:     Trends(snaps, trendWindow),
		Volatility: Volatility(snaps, volatilityWindow),
	}, nil
}

// Trends computes per-step average deltas over the last window snapshots:
// (last - first) / (n - 1). All-zero when fewer than 3 snapshots fall in
// the window.
func Trends(snaps []models.Snapshot, window int) models.SpeciesTrends {
	w := tail(snaps, window)
	if len(w) < minTrendPoints {
		return models.SpeciesTrends{}
	}

	n := float64(len(w) - 1)
	first, last := w[0], w[len(w)-1]

	return models.SpeciesTrends{
		Plants:     float64(last.Plants-first.Plants) / n,
		Herbivores: float64(last.Herbivores-first.Herbivores) / n,
		Carnivores: float64(last.Carnivores-first.Carnivores) / n,
	}
}

// Volatility is the standard deviation of the per-step fractional change
// in total biomass over the last window snapshots. Zero when fewer than
// two points are available.
func Volatility(snaps []models.Snapshot, window int) float64 {
	w := tail(snaps, window)
	if len(w) < 2 {
		return 0
	}

	changes := make([]float64, 0, len(w)-1)
	for i := 1; i < len(w); i++ {
		prev := w[i-1].TotalPopulation()
		curr := w[i].TotalPopulation()
		changes = append(changes, float64(curr-prev)/math.Max(float64(prev), 1))
	}

	return stdDev(changes)
}

// safeRatio divides by max(denominator, 1). The ratio is deliberately
// biased rather than infinite when the denominator is zero; the risk rule
// thresholds depend on this exact behavior.
func safeRatio(num, denom int) float64 {
	return float64(num) / math.Max(float64(denom), 1)
}

func tail(snaps []models.Snapshot, window int) []models.Snapshot {
	if len(snaps) <= window {
		return snaps
	}
	return snaps[len(snaps)-window:]
}

func stdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))

	return math.Sqrt(variance)
}
