// Package api is the HTTP surface consumed by the dashboard. Expected
// conditions (insufficient data, repeat evaluation) come back as tagged
// {"success": false} results; only unexpected failures turn into 500s.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ecosimlab/predictor/internal/predict"
	"github.com/ecosimlab/predictor/internal/sim"
	"github.com/ecosimlab/predictor/models"
)

// Handler provides the HTTP API endpoints.
type Handler struct {
	engine    *predict.Engine
	store     models.PredictionStore
	snapshots models.SnapshotWriter
	sims      *sim.Registry
	logger    zerolog.Logger
}

// NewHandler creates an API handler.
func NewHandler(engine *predict.Engine, store models.PredictionStore, snapshots models.SnapshotWriter, sims *sim.Registry) *Handler {
	return &Handler{
		engine:    engine,
		store:     store,
		snapshots: snapshots,
		sims:      sims,
		logger:    log.With().Str("component", "api").Logger(),
	}
}

// RegisterRoutes sets up all API routes.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.handleHealth).Methods("GET")

	r.HandleFunc("/api/predict/collapse", h.handlePredictCollapse).Methods("POST")
	r.HandleFunc("/api/predict/forecast", h.handleForecast).Methods("POST")
	r.HandleFunc("/api/recommendations", h.handleRecommendations).Methods("POST")
	r.HandleFunc("/api/patterns", h.handlePatterns).Methods("POST")
	r.HandleFunc("/api/predictions/{id}/evaluate", h.handleEvaluate).Methods("POST")

	r.HandleFunc("/api/snapshots", h.handleIngestSnapshot).Methods("POST")

	r.HandleFunc("/api/simulation/{userID}", h.handleSimStatus).Methods("GET")
	r.HandleFunc("/api/simulation/{userID}/{op}", h.handleSimOp).Methods("POST")
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Encoding response failed")
	}
}

func respondSuccess(w http.ResponseWriter, result interface{}) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"result":  result,
	})
}

func respondFailure(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// respondInferenceError maps engine errors onto the result contract.
// Insufficient data is an expected, user-facing condition; everything else
// is an internal failure with a generic message.
func (h *Handler) respondInferenceError(w http.ResponseWriter, err error) {
	var insufficient *models.InsufficientDataError
	if errors.As(err, &insufficient) {
		respondFailure(w, http.StatusOK, insufficient.Error())
		return
	}

	h.logger.Error().Err(err).Msg("Inference failed")
	respondFailure(w, http.StatusInternalServerError, "prediction failed")
}

type predictRequest struct {
	UserID string `json:"user_id"`
	Steps  int    `json:"steps"`
}

func decodePredictRequest(r *http.Request) (predictRequest, error) {
	var req predictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, err
	}
	if req.UserID == "" {
		return req, errors.New("user_id is required")
	}
	return req, nil
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handlePredictCollapse(w http.ResponseWriter, r *http.Request) {
	req, err := decodePredictRequest(r)
	if err != nil {
		respondFailure(w, http.StatusBadRequest, err.Error())
		return
	}

	assessment, err := h.engine.PredictCollapse(r.Context(), req.UserID, req.Steps)
	if err != nil {
		h.respondInferenceError(w, err)
		return
	}
	respondSuccess(w, assessment)
}

func (h *Handler) handleForecast(w http.ResponseWriter, r *http.Request) {
	req, err := decodePredictRequest(r)
	if err != nil {
		respondFailure(w, http.StatusBadRequest, err.Error())
		return
	}

	forecast, err := h.engine.ForecastPopulations(r.Context(), req.UserID, req.Steps)
	if err != nil {
		h.respondInferenceError(w, err)
		return
	}
	respondSuccess(w, forecast)
}

func (h *Handler) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	req, err := decodePredictRequest(r)
	if err != nil {
		respondFailure(w, http.StatusBadRequest, err.Error())
		return
	}

	set, err := h.engine.GenerateRecommendations(r.Context(), req.UserID)
	if err != nil {
		h.respondInferenceError(w, err)
		return
	}
	respondSuccess(w, set)
}

func (h *Handler) handlePatterns(w http.ResponseWriter, r *http.Request) {
	req, err := decodePredictRequest(r)
	if err != nil {
		respondFailure(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := h.engine.DetectPatterns(r.Context(), req.UserID)
	if err != nil {
		h.respondInferenceError(w, err)
		return
	}
	respondSuccess(w, report)
}

func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req struct {
		ActualOutcome json.RawMessage `json:"actual_outcome"`
		Accuracy      float64         `json:"accuracy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondFailure(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Accuracy < 0 || req.Accuracy > 1 {
		respondFailure(w, http.StatusBadRequest, "accuracy must be within [0, 1]")
		return
	}

	updated, err := h.store.EvaluatePrediction(r.Context(), id, req.ActualOutcome, req.Accuracy)
	if err != nil {
		var already *models.AlreadyEvaluatedError
		switch {
		case errors.As(err, &already):
			respondFailure(w, http.StatusConflict, already.Error())
		case errors.Is(err, models.ErrPredictionNotFound):
			respondFailure(w, http.StatusNotFound, err.Error())
		default:
			h.logger.Error().Err(err).Str("prediction_id", id).Msg("Evaluation failed")
			respondFailure(w, http.StatusInternalServerError, "evaluation failed")
		}
		return
	}
	respondSuccess(w, updated)
}

func (h *Handler) handleIngestSnapshot(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   string          `json:"user_id"`
		Snapshot models.Snapshot `json:"snapshot"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondFailure(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.UserID == "" {
		respondFailure(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if req.Snapshot.Plants < 0 || req.Snapshot.Herbivores < 0 || req.Snapshot.Carnivores < 0 || req.Snapshot.Step < 0 {
		respondFailure(w, http.StatusBadRequest, "snapshot fields must be non-negative")
		return
	}

	if err := h.snapshots.SaveSnapshot(r.Context(), req.UserID, req.Snapshot); err != nil {
		h.logger.Error().Err(err).Msg("Snapshot ingest failed")
		respondFailure(w, http.StatusInternalServerError, "snapshot ingest failed")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{"success": true})
}

func (h *Handler) handleSimStatus(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	respondSuccess(w, h.sims.Get(userID).Status())
}

func (h *Handler) handleSimOp(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	controller := h.sims.Get(vars["userID"])

	switch vars["op"] {
	case "start":
		// The stepping loop outlives the request, so it must not inherit
		// the request context.
		controller.Start(context.Background())
		respondSuccess(w, controller.Status())
	case "pause":
		controller.Pause()
		respondSuccess(w, controller.Status())
	case "reset":
		controller.Reset()
		respondSuccess(w, controller.Status())
	case "step":
		snap, err := controller.Step(r.Context())
		if err != nil {
			h.logger.Error().Err(err).Msg("Manual step failed")
			respondFailure(w, http.StatusInternalServerError, "step failed")
			return
		}
		respondSuccess(w, snap)
	case "speed":
		var req struct {
			Speed int `json:"speed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondFailure(w, http.StatusBadRequest, err.Error())
			return
		}
		controller.SetSpeed(req.Speed)
		respondSuccess(w, controller.Status())
	default:
		respondFailure(w, http.StatusBadRequest, "unknown operation: "+vars["op"])
	}
}
