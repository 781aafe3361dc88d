package predict

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ecosimlab/predictor/models"
)

// Horizon bounds shared by all inference operations.
const (
	DefaultCollapseHorizon = 5
	DefaultForecastHorizon = 7
	MaxHorizon             = 50

	// historyLimit caps how much snapshot history one inference reads.
	historyLimit = 100
)

// Engine runs the inference operations. All operations are independent and
// safe to call concurrently: each only reads snapshot history and appends
// its own prediction record.
type Engine struct {
	snapshots models.SnapshotSource
	store     models.PredictionStore
	model     models.ModelClient // nil when no delegated model is configured
	events    models.EventSink   // nil disables notifications
	logger    zerolog.Logger

	randMu sync.Mutex
	rand   *rand.Rand
}

// Options configures an Engine. Rand must be provided by tests that pin
// fallback outputs; when nil the engine seeds from the clock.
type Options struct {
	Snapshots models.SnapshotSource
	Store     models.PredictionStore
	Model     models.ModelClient
	Events    models.EventSink
	Rand      *rand.Rand
}

// New creates an inference engine.
func New(opts Options) *Engine {
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	return &Engine{
		snapshots: opts.Snapshots,
		store:     opts.Store,
		model:     opts.Model,
		events:    opts.Events,
		logger:    log.With().Str("component", "predict").Logger(),
		rand:      rng,
	}
}

// uniform draws from [lo, hi). The shared rand source is guarded so
// concurrent inference calls stay safe.
func (e *Engine) uniform(lo, hi float64) float64 {
	e.randMu.Lock()
	defer e.randMu.Unlock()
	return lo + e.rand.Float64()*(hi-lo)
}

func clampHorizon(steps, fallback int) int {
	if steps <= 0 {
		return fallback
	}
	if steps > MaxHorizon {
		return MaxHorizon
	}
	return steps
}

// record persists one prediction. A failed write fails the inference call:
// the contract is that every inference is recorded.
func (e *Engine) record(ctx context.Context, userID, predictionType string, input, output interface{}, confidence float64, stepsAhead int) (*models.Prediction, error) {
	inputJSON, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("encoding prediction input: %w", err)
	}
	outputJSON, err := json.Marshal(output)
	if err != nil {
		return nil, fmt.Errorf("encoding prediction output: %w", err)
	}

	p := &models.Prediction{
		UserID:     userID,
		Type:       predictionType,
		Input:      inputJSON,
		Output:     outputJSON,
		Confidence: confidence,
		StepsAhead: stepsAhead,
		CreatedAt:  time.Now().UTC(),
	}

	stored, err := e.store.SavePrediction(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("recording prediction: %w", err)
	}
	return stored, nil
}

// emit pushes a notification event. Sink failures are logged and swallowed;
// they never fail the inference call that triggered them.
func (e *Engine) emit(ctx context.Context, event models.Event) {
	if e.events == nil {
		return
	}
	if err := e.events.Emit(ctx, event); err != nil {
		e.logger.Warn().Err(err).Str("event_type", event.Type).Msg("Event emit failed")
	}
}
