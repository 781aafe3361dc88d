package models

import (
	"encoding/json"
	"time"
)

// Snapshot is one recorded simulation step's population counts.
// Snapshots are immutable once created and always ordered by Step ascending.
type Snapshot struct {
	Step       int       `json:"step"`
	Plants     int       `json:"plants"`
	Herbivores int       `json:"herbivores"`
	Carnivores int       `json:"carnivores"`
	Timestamp  time.Time `json:"timestamp"`
}

// TotalPopulation returns the total biomass of the snapshot.
func (s Snapshot) TotalPopulation() int {
	return s.Plants + s.Herbivores + s.Carnivores
}

// CurrentFeatures holds the latest-snapshot slice of a feature vector.
// Ratios divide by max(denominator, 1), so they are never infinite; a
// herbivore count of zero yields carnivores/1, not NaN.
type CurrentFeatures struct {
	Plants             int     `json:"plants"`
	Herbivores         int     `json:"herbivores"`
	Carnivores         int     `json:"carnivores"`
	TotalPopulation    int     `json:"totalPopulation"`
	PredatorPreyRatio  float64 `json:"predatorPreyRatio"`
	PlantsPerHerbivore float64 `json:"plantsPerHerbivore"`
}

// SpeciesTrends holds per-step average deltas per species.
type SpeciesTrends struct {
	Plants     float64 `json:"plants"`
	Herbivores float64 `json:"herbivores"`
	Carnivores float64 `json:"carnivores"`
}

// FeatureVector is derived from a window of snapshot history. It is
// ephemeral: persisted only as the input payload of a prediction record.
type FeatureVector struct {
	Current    CurrentFeatures `json:"current"`
	Trends     SpeciesTrends   `json:"trends"`
	Volatility float64         `json:"volatility"`
}

// Prediction types.
const (
	PredictionTypeCollapse        = "collapse"
	PredictionTypeForecast        = "forecast"
	PredictionTypeRecommendations = "recommendations"
	PredictionTypePatterns        = "patterns"
)

// Prediction is the persisted record of one inference call. Accuracy,
// ActualOutcome and EvaluatedAt stay unset until a single later evaluation
// fills them; the record is never mutated again after that.
type Prediction struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	Type          string          `json:"type"`
	Input         json.RawMessage `json:"input"`
	Output        json.RawMessage `json:"output"`
	Confidence    float64         `json:"confidence"`
	StepsAhead    int             `json:"steps_ahead"`
	Accuracy      *float64        `json:"accuracy,omitempty"`
	ActualOutcome json.RawMessage `json:"actual_outcome,omitempty"`
	EvaluatedAt   *time.Time      `json:"evaluated_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Evaluated reports whether the prediction already received ground truth.
func (p *Prediction) Evaluated() bool {
	return p.EvaluatedAt != nil
}

// Risk levels derived from collapse risk.
const (
	RiskLevelMinimal  = "minimal"
	RiskLevelLow      = "low"
	RiskLevelModerate = "moderate"
	RiskLevelHigh     = "high"
	RiskLevelCritical = "critical"
)

// RiskLevelFor buckets a collapse risk into a level. Thresholds are
// lower-exclusive: exactly 0.2 is still minimal, exactly 0.8 still high.
func RiskLevelFor(collapseRisk float64) string {
	switch {
	case collapseRisk > 0.8:
		return RiskLevelCritical
	case collapseRisk > 0.6:
		return RiskLevelHigh
	case collapseRisk > 0.4:
		return RiskLevelModerate
	case collapseRisk > 0.2:
		return RiskLevelLow
	default:
		return RiskLevelMinimal
	}
}

// Factor impact grades.
const (
	ImpactModerate = "moderate"
	ImpactHigh     = "high"
	ImpactCritical = "critical"
)

// RiskFactor is one rule-derived contributor to a risk assessment.
type RiskFactor struct {
	Factor string  `json:"factor"`
	Impact string  `json:"impact"`
	Value  float64 `json:"value"`
}

// Assessment sources.
const (
	SourceDelegated = "delegated"
	SourceFallback  = "fallback"
)

// RiskAssessment is the output payload of a collapse prediction.
type RiskAssessment struct {
	CollapseRisk float64      `json:"collapse_risk"`
	RiskLevel    string       `json:"risk_level"`
	Confidence   float64      `json:"confidence"`
	Factors      []RiskFactor `json:"factors"`
	Source       string       `json:"source"`
}

// ForecastPoint is one projected future snapshot. Populations are clamped
// at zero for any noise draw.
type ForecastPoint struct {
	Step       int `json:"step"`
	Plants     int `json:"plants"`
	Herbivores int `json:"herbivores"`
	Carnivores int `json:"carnivores"`
}

// Trend direction labels.
const (
	TrendIncreasing = "increasing"
	TrendDecreasing = "decreasing"
	TrendStable     = "stable"
)

// Forecast is the output payload of a forecast prediction. Trends maps
// species name to a qualitative direction label.
type Forecast struct {
	Predictions []ForecastPoint   `json:"predictions"`
	Confidence  float64           `json:"confidence"`
	Trends      map[string]string `json:"trends"`
}

// Recommendation priorities.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// Recommendation is one suggested intervention.
type Recommendation struct {
	Action      string  `json:"action"`
	Description string  `json:"description"`
	Impact      string  `json:"impact"`
	Confidence  float64 `json:"confidence"`
	Priority    string  `json:"priority"`
}

// RecommendationSet is the output payload of a recommendations prediction.
// An empty list is a valid result with AverageConfidence 0.
type RecommendationSet struct {
	Recommendations   []Recommendation `json:"recommendations"`
	AverageConfidence float64          `json:"average_confidence"`
	RiskLevel         string           `json:"risk_level"`
}

// Stability buckets for the pattern report.
const (
	StabilityLow      = "low"
	StabilityModerate = "moderate"
	StabilityHigh     = "high"
)

// PatternReport is the output payload of a patterns prediction. Cycle and
// anomaly detection are unimplemented placeholders carried over from the
// source system.
type PatternReport struct {
	HealthScore float64  `json:"health_score"`
	Stability   string   `json:"stability"`
	Cycles      []string `json:"cycles"`
	Anomalies   []string `json:"anomalies"`
}

// Event severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Event is a fire-and-forget notification surfaced to the push channel
// and operator alert sinks.
type Event struct {
	Type      string                 `json:"type"`
	Severity  string                 `json:"severity"`
	UserID    string                 `json:"user_id"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}
