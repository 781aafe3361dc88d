package predict

import (
	"context"
	"fmt"

	"github.com/ecosimlab/predictor/internal/features"
	"github.com/ecosimlab/predictor/models"
)

const (
	minPatternWindow = 50

	patternConfidence = 0.4

	healthScoreLow  = 0.4
	healthScoreHigh = 0.9

	stabilityLowCutoff      = 0.3
	stabilityModerateCutoff = 0.1
)

// DetectPatterns produces the ecosystem health report. The health score is
// a placeholder: a bounded random draw with no real cycle or anomaly
// detection behind it. Stability is the one grounded signal, bucketed from
// biomass volatility. Extend here if pattern analysis ever becomes a real
// feature.
func (e *Engine) DetectPatterns(ctx context.Context, userID string) (*models.PatternReport, error) {
	snaps, err := e.snapshots.FetchRecentSnapshots(ctx, userID, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("fetching snapshot history: %w", err)
	}
	if len(snaps) < minPatternWindow {
		return nil, &models.InsufficientDataError{
			Op:     "detect patterns",
			Needed: minPatternWindow,
			Got:    len(snaps),
		}
	}

	report := &models.PatternReport{
		HealthScore: e.uniform(healthScoreLow, healthScoreHigh),
		Stability:   stabilityFor(features.Volatility(snaps, features.MinForecastWindow)),
		Cycles:      []string{},
		Anomalies:   []string{},
	}

	input := snaps[len(snaps)-minPatternWindow:]
	if _, err := e.record(ctx, userID, models.PredictionTypePatterns, input, report, patternConfidence, 1); err != nil {
		return nil, err
	}

	return report, nil
}

func stabilityFor(volatility float64) string {
	switch {
	case volatility > stabilityLowCutoff:
		return models.StabilityLow
	case volatility > stabilityModerateCutoff:
		return models.StabilityModerate
	default:
		return models.StabilityHigh
	}
}
