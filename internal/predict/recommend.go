package predict

import (
	"context"
	"fmt"

	"github.com/ecosimlab/predictor/models"
)

// Recommendation rule thresholds.
const (
	recommendationRiskHorizon = 3

	plantShortageThreshold = 30
	predatorExcessFactor   = 1.5
)

// GenerateRecommendations converts current state plus a short-horizon risk
// assessment into a ranked list of interventions. An empty list is a valid
// result: no rule fired and the ecosystem needs no intervention.
func (e *Engine) GenerateRecommendations(ctx context.Context, userID string) (*models.RecommendationSet, error) {
	// The risk context comes from a regular collapse scoring pass, which
	// records its own prediction per that operation's contract.
	risk, err := e.PredictCollapse(ctx, userID, recommendationRiskHorizon)
	if err != nil {
		return nil, err
	}

	snaps, err := e.snapshots.FetchRecentSnapshots(ctx, userID, 1)
	if err != nil {
		return nil, fmt.Errorf("fetching snapshot history: %w", err)
	}
	if len(snaps) == 0 {
		return nil, &models.InsufficientDataError{Op: "generate recommendations", Needed: 1, Got: 0}
	}
	current := snaps[len(snaps)-1]

	recs := recommendationRules(current)
	set := &models.RecommendationSet{
		Recommendations:   recs,
		AverageConfidence: averageConfidence(recs),
		RiskLevel:         risk.RiskLevel,
	}

	if _, err := e.record(ctx, userID, models.PredictionTypeRecommendations, current, set, set.AverageConfidence, recommendationRiskHorizon); err != nil {
		return nil, err
	}

	return set, nil
}

// recommendationRules evaluates the intervention rules in priority order.
func recommendationRules(current models.Snapshot) []models.Recommendation {
	recs := []models.Recommendation{}

	if current.Plants < plantShortageThreshold {
		recs = append(recs, models.Recommendation{
			Action:      "add_plants",
			Description: "Plant population is running low; add plants to rebuild the food base.",
			Impact:      "Increases food supply for herbivores",
			Confidence:  0.8,
			Priority:    models.PriorityHigh,
		})
	}
	if float64(current.Carnivores) > float64(current.Herbivores)*predatorExcessFactor {
		recs = append(recs, models.Recommendation{
			Action:      "reduce_carnivores",
			Description: "Carnivores heavily outnumber herbivores; remove some predators.",
			Impact:      "Relieves predation pressure on herbivores",
			Confidence:  0.7,
			Priority:    models.PriorityMedium,
		})
	}

	return recs
}

// averageConfidence averages an empty list to 0, never NaN.
func averageConfidence(recs []models.Recommendation) float64 {
	if len(recs) == 0 {
		return 0
	}

	var sum float64
	for _, r := range recs {
		sum += r.Confidence
	}
	return sum / float64(len(recs))
}
