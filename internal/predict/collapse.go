package predict

import (
	"context"
	"fmt"
	"time"

	"github.com/ecosimlab/predictor/internal/features"
	"github.com/ecosimlab/predictor/models"
)

// Fallback scoring constants. When no model answers, risk is a uniform
// draw in [0.3, 0.8] and only the factor list is informative. Confidence
// is pinned low to signal reduced trust.
const (
	fallbackRiskLow            = 0.3
	fallbackRiskHigh           = 0.8
	fallbackCollapseConfidence = 0.4

	// Alert policy for high-confidence collapse predictions.
	alertConfidenceFloor = 0.8
	alertCriticalRisk    = 0.7
)

// Risk factor rules, evaluated in order on the feature vector.
const (
	lowPlantsThreshold   = 20
	criticalHerbivores   = 5
	predatorRatioLimit   = 2.0
	highVolatilityCutoff = 0.3
)

// PredictCollapse scores the collapse risk for a user's ecosystem over the
// given horizon. Tries the delegated model first when one is configured and
// falls back to the local heuristic on any failure; either way the result
// is persisted before it is returned.
func (e *Engine) PredictCollapse(ctx context.Context, userID string, steps int) (*models.RiskAssessment, error) {
	steps = clampHorizon(steps, DefaultCollapseHorizon)

	snaps, err := e.snapshots.FetchRecentSnapshots(ctx, userID, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("fetching snapshot history: %w", err)
	}

	fv, err := features.Extract(snaps)
	if err != nil {
		return nil, err
	}

	assessment := e.scoreCollapse(ctx, fv, steps)

	if _, err := e.record(ctx, userID, models.PredictionTypeCollapse, fv, assessment, assessment.Confidence, steps); err != nil {
		return nil, err
	}

	e.alertOnHighConfidence(ctx, userID, assessment, steps)

	return assessment, nil
}

// scoreCollapse is the delegated-call-with-fallback seam. Factors are
// rule-derived from the feature vector regardless of which path produced
// the risk number.
func (e *Engine) scoreCollapse(ctx context.Context, fv *models.FeatureVector, steps int) *models.RiskAssessment {
	var (
		risk       float64
		confidence float64
		source     = models.SourceFallback
	)

	if e.model != nil {
		r, c, err := e.model.PredictCollapse(ctx, *fv, steps)
		if err == nil {
			risk, confidence, source = r, c, models.SourceDelegated
		} else {
			e.logger.Warn().Err(err).Msg("Model service unavailable, using heuristic fallback")
		}
	}

	if source == models.SourceFallback {
		risk = e.uniform(fallbackRiskLow, fallbackRiskHigh)
		confidence = fallbackCollapseConfidence
	}

	return &models.RiskAssessment{
		CollapseRisk: risk,
		RiskLevel:    models.RiskLevelFor(risk),
		Confidence:   confidence,
		Factors:      collapseFactors(fv),
		Source:       source,
	}
}

func collapseFactors(fv *models.FeatureVector) []models.RiskFactor {
	factors := []models.RiskFactor{}

	if fv.Current.Plants < lowPlantsThreshold {
		factors = append(factors, models.RiskFactor{
			Factor: "Low plant population",
			Impact: models.ImpactHigh,
			Value:  float64(fv.Current.Plants),
		})
	}
	if fv.Current.Herbivores < criticalHerbivores {
		factors = append(factors, models.RiskFactor{
			Factor: "Herbivore population critical",
			Impact: models.ImpactCritical,
			Value:  float64(fv.Current.Herbivores),
		})
	}
	if fv.Current.PredatorPreyRatio > predatorRatioLimit {
		factors = append(factors, models.RiskFactor{
			Factor: "Too many predators",
			Impact: models.ImpactHigh,
			Value:  fv.Current.PredatorPreyRatio,
		})
	}
	if fv.Volatility > highVolatilityCutoff {
		factors = append(factors, models.RiskFactor{
			Factor: "High population volatility",
			Impact: models.ImpactModerate,
			Value:  fv.Volatility,
		})
	}

	return factors
}

func (e *Engine) alertOnHighConfidence(ctx context.Context, userID string, a *models.RiskAssessment, steps int) {
	if a.Confidence < alertConfidenceFloor {
		return
	}

	severity := models.SeverityWarning
	if a.CollapseRisk > alertCriticalRisk {
		severity = models.SeverityCritical
	}

	e.emit(ctx, models.Event{
		Type:     "prediction.collapse",
		Severity: severity,
		UserID:   userID,
		Payload: map[string]interface{}{
			"collapse_risk": a.CollapseRisk,
			"risk_level":    a.RiskLevel,
			"confidence":    a.Confidence,
			"steps_ahead":   steps,
		},
		Timestamp: time.Now().UTC(),
	})
}
