package models

import (
	"context"
	"encoding/json"
)

// SnapshotSource provides chronological snapshot history for a user,
// oldest-first.
type SnapshotSource interface {
	FetchRecentSnapshots(ctx context.Context, userID string, limit int) ([]Snapshot, error)
}

// SnapshotWriter appends simulation snapshots.
type SnapshotWriter interface {
	SaveSnapshot(ctx context.Context, userID string, snap Snapshot) error
}

// PredictionStore records inference calls and applies the single later
// accuracy evaluation. EvaluatePrediction fails with AlreadyEvaluatedError
// on a second attempt and ErrPredictionNotFound for unknown ids.
type PredictionStore interface {
	SavePrediction(ctx context.Context, p *Prediction) (*Prediction, error)
	GetPrediction(ctx context.Context, id string) (*Prediction, error)
	EvaluatePrediction(ctx context.Context, id string, actualOutcome json.RawMessage, accuracy float64) (*Prediction, error)
}

// ModelClient is the seam to the delegated model service. It must be
// treated as unreliable: every call site keeps a local fallback.
type ModelClient interface {
	PredictCollapse(ctx context.Context, features FeatureVector, steps int) (risk, confidence float64, err error)
	ForecastPopulations(ctx context.Context, series []Snapshot, steps int) (*Forecast, error)
}

// EventSink receives fire-and-forget notifications. Emit failures must not
// fail the inference call that triggered them.
type EventSink interface {
	Emit(ctx context.Context, event Event) error
}
