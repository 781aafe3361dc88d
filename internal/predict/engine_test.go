package predict

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/ecosimlab/predictor/models"
)

// --- fakes ---

type fakeSource struct {
	snaps []models.Snapshot
	err   error
}

func (f *fakeSource) FetchRecentSnapshots(ctx context.Context, userID string, limit int) ([]models.Snapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.snaps) > limit {
		return f.snaps[len(f.snaps)-limit:], nil
	}
	return f.snaps, nil
}

type fakeStore struct {
	saved   []*models.Prediction
	saveErr error
}

func (f *fakeStore) SavePrediction(ctx context.Context, p *models.Prediction) (*models.Prediction, error) {
	if f.saveErr != nil {
		return nil, f.saveErr
	}
	stored := *p
	stored.ID = fmt.Sprintf("p-%d", len(f.saved)+1)
	f.saved = append(f.saved, &stored)
	return &stored, nil
}

func (f *fakeStore) GetPrediction(ctx context.Context, id string) (*models.Prediction, error) {
	for _, p := range f.saved {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, models.ErrPredictionNotFound
}

func (f *fakeStore) EvaluatePrediction(ctx context.Context, id string, actual json.RawMessage, accuracy float64) (*models.Prediction, error) {
	p, err := f.GetPrediction(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Evaluated() {
		return nil, &models.AlreadyEvaluatedError{ID: id}
	}
	now := time.Now().UTC()
	p.Accuracy = &accuracy
	p.ActualOutcome = actual
	p.EvaluatedAt = &now
	return p, nil
}

type fakeSink struct {
	events []models.Event
	err    error
}

func (f *fakeSink) Emit(ctx context.Context, event models.Event) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

type fakeModel struct {
	risk     float64
	conf     float64
	forecast *models.Forecast
	err      error
	calls    int
}

func (f *fakeModel) PredictCollapse(ctx context.Context, features models.FeatureVector, steps int) (float64, float64, error) {
	f.calls++
	if f.err != nil {
		return 0, 0, f.err
	}
	return f.risk, f.conf, nil
}

func (f *fakeModel) ForecastPopulations(ctx context.Context, series []models.Snapshot, steps int) (*models.Forecast, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.forecast, nil
}

// --- helpers ---

func generateSnapshots(n int, generator func(int) models.Snapshot) []models.Snapshot {
	snaps := make([]models.Snapshot, n)
	for i := 0; i < n; i++ {
		snaps[i] = generator(i)
		snaps[i].Step = i
		snaps[i].Timestamp = time.Now().Add(time.Duration(i) * time.Second)
	}
	return snaps
}

func healthySnapshots(n int) []models.Snapshot {
	return generateSnapshots(n, func(i int) models.Snapshot {
		return models.Snapshot{Plants: 120, Herbivores: 25, Carnivores: 6}
	})
}

func newTestEngine(snaps []models.Snapshot, model models.ModelClient) (*Engine, *fakeStore, *fakeSink) {
	store := &fakeStore{}
	sink := &fakeSink{}
	engine := New(Options{
		Snapshots: &fakeSource{snaps: snaps},
		Store:     store,
		Model:     model,
		Events:    sink,
		Rand:      rand.New(rand.NewSource(42)),
	})
	return engine, store, sink
}

func hasFactor(factors []models.RiskFactor, name string) bool {
	for _, f := range factors {
		if f.Factor == name {
			return true
		}
	}
	return false
}

// --- collapse ---

func TestPredictCollapseInsufficientData(t *testing.T) {
	engine, store, _ := newTestEngine(healthySnapshots(9), nil)

	_, err := engine.PredictCollapse(context.Background(), "user-1", 5)

	var insufficient *models.InsufficientDataError
	if !errors.As(err, &insufficient) {
		t.Fatalf("error = %v, want InsufficientDataError", err)
	}
	if len(store.saved) != 0 {
		t.Errorf("saved %d predictions, want 0", len(store.saved))
	}
}

func TestPredictCollapseExactlyTenSnapshots(t *testing.T) {
	engine, store, _ := newTestEngine(healthySnapshots(10), nil)

	if _, err := engine.PredictCollapse(context.Background(), "user-1", 5); err != nil {
		t.Fatalf("PredictCollapse() with 10 snapshots: %v", err)
	}
	if len(store.saved) != 1 {
		t.Fatalf("saved %d predictions, want 1", len(store.saved))
	}
	if store.saved[0].Type != models.PredictionTypeCollapse {
		t.Errorf("prediction type = %s, want collapse", store.saved[0].Type)
	}
}

func TestPredictCollapseFallbackScenario(t *testing.T) {
	// 10 snapshots with plants<20 and herbivores<5 throughout, no model
	// configured: both starvation factors fire and confidence is exactly
	// the fallback value.
	snaps := generateSnapshots(10, func(i int) models.Snapshot {
		return models.Snapshot{Plants: 15, Herbivores: 3, Carnivores: 10}
	})
	engine, store, _ := newTestEngine(snaps, nil)

	a, err := engine.PredictCollapse(context.Background(), "user-1", 5)
	if err != nil {
		t.Fatalf("PredictCollapse() error: %v", err)
	}

	if a.Confidence != 0.4 {
		t.Errorf("fallback confidence = %v, want exactly 0.4", a.Confidence)
	}
	if a.CollapseRisk < 0.3 || a.CollapseRisk > 0.8 {
		t.Errorf("fallback risk = %v, want within [0.3, 0.8]", a.CollapseRisk)
	}
	if a.Source != models.SourceFallback {
		t.Errorf("source = %s, want fallback", a.Source)
	}
	if !hasFactor(a.Factors, "Low plant population") {
		t.Error("missing factor: Low plant population")
	}
	if !hasFactor(a.Factors, "Herbivore population critical") {
		t.Error("missing factor: Herbivore population critical")
	}
	// carnivores=10 vs herbivores=3 also trips the predator ratio rule
	if !hasFactor(a.Factors, "Too many predators") {
		t.Error("missing factor: Too many predators")
	}
	if a.RiskLevel != models.RiskLevelFor(a.CollapseRisk) {
		t.Errorf("risk level %s inconsistent with risk %v", a.RiskLevel, a.CollapseRisk)
	}
	if len(store.saved) != 1 {
		t.Errorf("saved %d predictions, want 1", len(store.saved))
	}
}

func TestPredictCollapseFallbackIsSeedable(t *testing.T) {
	run := func() float64 {
		engine, _, _ := newTestEngine(healthySnapshots(10), nil)
		a, err := engine.PredictCollapse(context.Background(), "user-1", 5)
		if err != nil {
			t.Fatalf("PredictCollapse() error: %v", err)
		}
		return a.CollapseRisk
	}

	if run() != run() {
		t.Error("same seed produced different fallback risk draws")
	}
}

func TestPredictCollapseDelegated(t *testing.T) {
	snaps := generateSnapshots(10, func(i int) models.Snapshot {
		return models.Snapshot{Plants: 15, Herbivores: 30, Carnivores: 6}
	})
	model := &fakeModel{risk: 0.92, conf: 0.88}
	engine, store, sink := newTestEngine(snaps, model)

	a, err := engine.PredictCollapse(context.Background(), "user-1", 5)
	if err != nil {
		t.Fatalf("PredictCollapse() error: %v", err)
	}

	if a.CollapseRisk != 0.92 || a.Confidence != 0.88 {
		t.Errorf("got risk=%v conf=%v, want delegated 0.92/0.88", a.CollapseRisk, a.Confidence)
	}
	if a.Source != models.SourceDelegated {
		t.Errorf("source = %s, want delegated", a.Source)
	}
	if a.RiskLevel != models.RiskLevelCritical {
		t.Errorf("risk level = %s, want critical", a.RiskLevel)
	}
	// Factors stay rule-derived even on the delegated path.
	if !hasFactor(a.Factors, "Low plant population") {
		t.Error("missing rule-derived factor on delegated path")
	}
	if model.calls != 1 {
		t.Errorf("model called %d times, want 1 (no retry)", model.calls)
	}
	if len(store.saved) != 1 {
		t.Errorf("saved %d predictions, want 1", len(store.saved))
	}

	// confidence 0.88 >= 0.8 and risk 0.92 > 0.7 -> critical event
	if len(sink.events) != 1 {
		t.Fatalf("emitted %d events, want 1", len(sink.events))
	}
	if sink.events[0].Severity != models.SeverityCritical {
		t.Errorf("event severity = %s, want critical", sink.events[0].Severity)
	}
}

func TestPredictCollapseWarningEvent(t *testing.T) {
	model := &fakeModel{risk: 0.5, conf: 0.85}
	engine, _, sink := newTestEngine(healthySnapshots(10), model)

	if _, err := engine.PredictCollapse(context.Background(), "user-1", 5); err != nil {
		t.Fatalf("PredictCollapse() error: %v", err)
	}
	if len(sink.events) != 1 {
		t.Fatalf("emitted %d events, want 1", len(sink.events))
	}
	if sink.events[0].Severity != models.SeverityWarning {
		t.Errorf("event severity = %s, want warning", sink.events[0].Severity)
	}
}

func TestPredictCollapseModelFailureFallsBack(t *testing.T) {
	model := &fakeModel{err: &models.UpstreamModelError{Err: errors.New("connection refused")}}
	engine, store, _ := newTestEngine(healthySnapshots(10), model)

	a, err := engine.PredictCollapse(context.Background(), "user-1", 5)
	if err != nil {
		t.Fatalf("upstream failure must not surface, got: %v", err)
	}
	if a.Source != models.SourceFallback {
		t.Errorf("source = %s, want fallback after model failure", a.Source)
	}
	if a.Confidence != 0.4 {
		t.Errorf("confidence = %v, want fallback 0.4", a.Confidence)
	}
	if len(store.saved) != 1 {
		t.Errorf("saved %d predictions, want 1", len(store.saved))
	}
}

func TestPredictCollapseEmitFailureIgnored(t *testing.T) {
	model := &fakeModel{risk: 0.9, conf: 0.9}
	engine, store, sink := newTestEngine(healthySnapshots(10), model)
	sink.err = errors.New("sink down")

	if _, err := engine.PredictCollapse(context.Background(), "user-1", 5); err != nil {
		t.Fatalf("emit failure must not fail the inference, got: %v", err)
	}
	if len(store.saved) != 1 {
		t.Errorf("saved %d predictions, want 1", len(store.saved))
	}
}

func TestPredictCollapseStoreFailure(t *testing.T) {
	engine, store, _ := newTestEngine(healthySnapshots(10), nil)
	store.saveErr = errors.New("connection reset")

	if _, err := engine.PredictCollapse(context.Background(), "user-1", 5); err == nil {
		t.Fatal("unrecorded inference must fail, got nil error")
	}
}

// --- forecast ---

func TestForecastInsufficientData(t *testing.T) {
	engine, _, _ := newTestEngine(healthySnapshots(19), nil)

	_, err := engine.ForecastPopulations(context.Background(), "user-1", 7)

	var insufficient *models.InsufficientDataError
	if !errors.As(err, &insufficient) {
		t.Fatalf("error = %v, want InsufficientDataError", err)
	}
	if insufficient.Needed != 20 {
		t.Errorf("needed = %d, want 20", insufficient.Needed)
	}
}

func TestForecastNeverNegative(t *testing.T) {
	// Populations near zero with a falling trend: without clamping, noise
	// draws would routinely push projections negative.
	snaps := generateSnapshots(20, func(i int) models.Snapshot {
		p := 20 - i
		if p < 0 {
			p = 0
		}
		return models.Snapshot{Plants: p, Herbivores: 2, Carnivores: 1}
	})

	for trial := 0; trial < 1000; trial++ {
		store := &fakeStore{}
		engine := New(Options{
			Snapshots: &fakeSource{snaps: snaps},
			Store:     store,
			Rand:      rand.New(rand.NewSource(int64(trial))),
		})

		fc, err := engine.ForecastPopulations(context.Background(), "user-1", 7)
		if err != nil {
			t.Fatalf("trial %d: %v", trial, err)
		}
		for _, p := range fc.Predictions {
			if p.Plants < 0 || p.Herbivores < 0 || p.Carnivores < 0 {
				t.Fatalf("trial %d: negative population in %+v", trial, p)
			}
		}
	}
}

func TestForecastFollowsTrend(t *testing.T) {
	// Herbivores strictly increasing by 2 each step.
	snaps := generateSnapshots(20, func(i int) models.Snapshot {
		return models.Snapshot{Plants: 100, Herbivores: 10 + 2*i, Carnivores: 4}
	})
	engine, store, _ := newTestEngine(snaps, nil)

	fc, err := engine.ForecastPopulations(context.Background(), "user-1", 7)
	if err != nil {
		t.Fatalf("ForecastPopulations() error: %v", err)
	}

	if fc.Trends["herbivores"] != models.TrendIncreasing {
		t.Errorf("herbivore trend = %q, want increasing", fc.Trends["herbivores"])
	}
	if fc.Confidence != 0.7 {
		t.Errorf("fallback confidence = %v, want 0.7", fc.Confidence)
	}
	if len(fc.Predictions) != 7 {
		t.Fatalf("got %d points, want 7", len(fc.Predictions))
	}

	last := snaps[len(snaps)-1]
	for i, p := range fc.Predictions {
		if p.Herbivores < 0 {
			t.Fatalf("negative herbivore projection at point %d", i)
		}
		if p.Step != last.Step+i+1 {
			t.Errorf("point %d step = %d, want %d", i, p.Step, last.Step+i+1)
		}
		// +2/step trend, within the +-5 noise band.
		expected := float64(last.Herbivores) + 2*float64(i+1)
		if math.Abs(float64(p.Herbivores)-expected) > 5.5 {
			t.Errorf("point %d herbivores = %d, want %v within noise band", i, p.Herbivores, expected)
		}
	}

	if len(store.saved) != 1 || store.saved[0].Type != models.PredictionTypeForecast {
		t.Errorf("expected one forecast prediction record, got %+v", store.saved)
	}
}

func TestForecastDelegated(t *testing.T) {
	want := &models.Forecast{
		Predictions: []models.ForecastPoint{{Step: 20, Plants: 1, Herbivores: 2, Carnivores: 3}},
		Confidence:  0.55,
		Trends:      map[string]string{"plants": models.TrendStable},
	}
	model := &fakeModel{forecast: want}
	engine, store, _ := newTestEngine(healthySnapshots(20), model)

	fc, err := engine.ForecastPopulations(context.Background(), "user-1", 1)
	if err != nil {
		t.Fatalf("ForecastPopulations() error: %v", err)
	}
	if fc.Confidence != 0.55 {
		t.Errorf("confidence = %v, want delegated 0.55", fc.Confidence)
	}
	if len(store.saved) != 1 {
		t.Errorf("saved %d predictions, want 1", len(store.saved))
	}
}

func TestHorizonClamping(t *testing.T) {
	engine, store, _ := newTestEngine(healthySnapshots(30), nil)

	if _, err := engine.PredictCollapse(context.Background(), "user-1", 500); err != nil {
		t.Fatalf("PredictCollapse() error: %v", err)
	}
	if store.saved[0].StepsAhead != MaxHorizon {
		t.Errorf("steps ahead = %d, want clamped to %d", store.saved[0].StepsAhead, MaxHorizon)
	}

	if _, err := engine.PredictCollapse(context.Background(), "user-1", 0); err != nil {
		t.Fatalf("PredictCollapse() error: %v", err)
	}
	if store.saved[1].StepsAhead != DefaultCollapseHorizon {
		t.Errorf("steps ahead = %d, want default %d", store.saved[1].StepsAhead, DefaultCollapseHorizon)
	}
}

// --- recommendations ---

func TestRecommendationsRulesFire(t *testing.T) {
	snaps := generateSnapshots(10, func(i int) models.Snapshot {
		return models.Snapshot{Plants: 10, Herbivores: 4, Carnivores: 9}
	})
	engine, store, _ := newTestEngine(snaps, nil)

	set, err := engine.GenerateRecommendations(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GenerateRecommendations() error: %v", err)
	}

	if len(set.Recommendations) != 2 {
		t.Fatalf("got %d recommendations, want 2", len(set.Recommendations))
	}
	if set.Recommendations[0].Action != "add_plants" || set.Recommendations[0].Priority != models.PriorityHigh {
		t.Errorf("first recommendation = %+v, want high-priority add_plants", set.Recommendations[0])
	}
	if set.Recommendations[1].Action != "reduce_carnivores" || set.Recommendations[1].Priority != models.PriorityMedium {
		t.Errorf("second recommendation = %+v, want medium-priority reduce_carnivores", set.Recommendations[1])
	}
	if math.Abs(set.AverageConfidence-0.75) > 1e-9 {
		t.Errorf("average confidence = %v, want 0.75", set.AverageConfidence)
	}

	// One collapse record from the risk context plus the recommendations record.
	if len(store.saved) != 2 {
		t.Fatalf("saved %d predictions, want 2", len(store.saved))
	}
	if store.saved[0].Type != models.PredictionTypeCollapse || store.saved[1].Type != models.PredictionTypeRecommendations {
		t.Errorf("prediction types = %s, %s", store.saved[0].Type, store.saved[1].Type)
	}
}

func TestRecommendationsEmptyIsValid(t *testing.T) {
	engine, store, _ := newTestEngine(healthySnapshots(10), nil)

	set, err := engine.GenerateRecommendations(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GenerateRecommendations() error: %v", err)
	}

	if len(set.Recommendations) != 0 {
		t.Errorf("got %d recommendations, want 0", len(set.Recommendations))
	}
	if set.AverageConfidence != 0 {
		t.Errorf("average confidence = %v, want 0 for empty list", set.AverageConfidence)
	}
	if math.IsNaN(set.AverageConfidence) {
		t.Error("average confidence is NaN, want 0")
	}
	if len(store.saved) != 2 {
		t.Errorf("saved %d predictions, want 2", len(store.saved))
	}
}

// --- patterns ---

func TestDetectPatternsInsufficientData(t *testing.T) {
	engine, _, _ := newTestEngine(healthySnapshots(49), nil)

	_, err := engine.DetectPatterns(context.Background(), "user-1")

	var insufficient *models.InsufficientDataError
	if !errors.As(err, &insufficient) {
		t.Fatalf("error = %v, want InsufficientDataError", err)
	}
}

func TestDetectPatternsPlaceholder(t *testing.T) {
	engine, store, _ := newTestEngine(healthySnapshots(50), nil)

	report, err := engine.DetectPatterns(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("DetectPatterns() error: %v", err)
	}

	if report.HealthScore < 0.4 || report.HealthScore > 0.9 {
		t.Errorf("health score = %v, want within [0.4, 0.9]", report.HealthScore)
	}
	if report.Stability != models.StabilityHigh {
		t.Errorf("stability = %s, want high for constant populations", report.Stability)
	}
	if report.Cycles == nil || report.Anomalies == nil {
		t.Error("cycles and anomalies must be empty lists, not nil")
	}
	if len(store.saved) != 1 || store.saved[0].Type != models.PredictionTypePatterns {
		t.Errorf("expected one patterns prediction record, got %+v", store.saved)
	}
}
