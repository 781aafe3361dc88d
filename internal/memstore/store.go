// Package memstore is an in-memory store used when no database is
// configured. It implements the same contracts as the postgres store,
// including the once-only evaluation transition.
package memstore

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ecosimlab/predictor/models"
)

// Store keeps snapshots and predictions in memory, keyed by user.
type Store struct {
	mu          sync.RWMutex
	snapshots   map[string][]models.Snapshot
	predictions map[string]*models.Prediction
	order       []string // prediction ids in insertion order
}

// New creates an empty store.
func New() *Store {
	return &Store{
		snapshots:   make(map[string][]models.Snapshot),
		predictions: make(map[string]*models.Prediction),
	}
}

// SaveSnapshot appends one simulation step. Steps already present are
// ignored: snapshots are immutable once created.
func (s *Store) SaveSnapshot(ctx context.Context, userID string, snap models.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.snapshots[userID]
	for _, existing := range history {
		if existing.Step == snap.Step {
			return nil
		}
	}
	s.snapshots[userID] = append(history, snap)
	return nil
}

// FetchRecentSnapshots returns the user's most recent snapshots in
// chronological order, oldest first.
func (s *Store) FetchRecentSnapshots(ctx context.Context, userID string, limit int) ([]models.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.snapshots[userID]
	if len(history) > limit {
		history = history[len(history)-limit:]
	}

	out := make([]models.Snapshot, len(history))
	copy(out, history)
	return out, nil
}

// SavePrediction inserts a prediction record with a generated id.
func (s *Store) SavePrediction(ctx context.Context, p *models.Prediction) (*models.Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *p
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	s.predictions[stored.ID] = &stored
	s.order = append(s.order, stored.ID)

	out := stored
	return &out, nil
}

// GetPrediction loads one prediction record by id.
func (s *Store) GetPrediction(ctx context.Context, id string) (*models.Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.predictions[id]
	if !ok {
		return nil, models.ErrPredictionNotFound
	}

	out := *p
	return &out, nil
}

// EvaluatePrediction fills in ground truth exactly once; a second attempt
// fails with AlreadyEvaluatedError and leaves the record unchanged.
func (s *Store) EvaluatePrediction(ctx context.Context, id string, actualOutcome json.RawMessage, accuracy float64) (*models.Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.predictions[id]
	if !ok {
		return nil, models.ErrPredictionNotFound
	}
	if p.Evaluated() {
		return nil, &models.AlreadyEvaluatedError{ID: id}
	}

	now := time.Now().UTC()
	p.Accuracy = &accuracy
	p.ActualOutcome = actualOutcome
	p.EvaluatedAt = &now

	out := *p
	return &out, nil
}

// ListPredictions returns a user's prediction records, newest first.
func (s *Store) ListPredictions(ctx context.Context, userID string, limit int) ([]*models.Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Prediction
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		p := s.predictions[s.order[i]]
		if p != nil && p.UserID == userID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

// PurgeExpired deletes prediction records older than the cutoff.
func (s *Store) PurgeExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64
	kept := s.order[:0]
	for _, id := range s.order {
		p := s.predictions[id]
		if p != nil && p.CreatedAt.Before(olderThan) {
			delete(s.predictions, id)
			purged++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept

	return purged, nil
}
