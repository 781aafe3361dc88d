package mlclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/ecosimlab/predictor/models"
)

// Client talks to the external ML sidecar. Every call is a single attempt
// bounded by the client timeout; the caller degrades to its local heuristic
// on any failure, so there is no retry here.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string
	logger     zerolog.Logger
}

// New creates a model client for the given base URL.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: rate.NewLimiter(rate.Every(time.Second), 5), // 5 requests per second
		baseURL: baseURL,
		logger:  log.With().Str("component", "ml_client").Logger(),
	}
}

// PredictCollapse asks the sidecar for a collapse risk. The sidecar answers
// either "risk" or "probability" depending on model version.
func (c *Client) PredictCollapse(ctx context.Context, features models.FeatureVector, steps int) (float64, float64, error) {
	payload := map[string]interface{}{
		"features": features,
		"steps":    steps,
	}

	var out struct {
		Success      bool    `json:"success"`
		Error        string  `json:"error"`
		Risk         float64 `json:"risk"`
		Probability  float64 `json:"probability"`
		Confidence   float64 `json:"confidence"`
		ModelVersion string  `json:"model_version"`
	}

	if err := c.post(ctx, "/predict/collapse", payload, &out); err != nil {
		return 0, 0, err
	}
	if !out.Success {
		return 0, 0, &models.UpstreamModelError{Err: fmt.Errorf("model rejected request: %s", out.Error)}
	}

	risk := out.Risk
	if risk == 0 && out.Probability > 0 {
		risk = out.Probability
	}

	c.logger.Debug().
		Float64("risk", risk).
		Float64("confidence", out.Confidence).
		Str("model_version", out.ModelVersion).
		Msg("Delegated collapse prediction")

	return risk, out.Confidence, nil
}

// ForecastPopulations asks the sidecar for a population forecast.
func (c *Client) ForecastPopulations(ctx context.Context, series []models.Snapshot, steps int) (*models.Forecast, error) {
	payload := map[string]interface{}{
		"timeSeries": series,
		"steps":      steps,
	}

	var out struct {
		Success     bool                   `json:"success"`
		Error       string                 `json:"error"`
		Predictions []models.ForecastPoint `json:"predictions"`
		Confidence  float64                `json:"confidence"`
		Trends      map[string]string      `json:"trends"`
	}

	if err := c.post(ctx, "/predict/populations", payload, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, &models.UpstreamModelError{Err: fmt.Errorf("model rejected request: %s", out.Error)}
	}

	c.logger.Debug().
		Int("points", len(out.Predictions)).
		Float64("confidence", out.Confidence).
		Msg("Delegated population forecast")

	return &models.Forecast{
		Predictions: out.Predictions,
		Confidence:  out.Confidence,
		Trends:      out.Trends,
	}, nil
}

// Health checks the sidecar's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &models.UpstreamModelError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &models.UpstreamModelError{Err: fmt.Errorf("non-200 status code: %d", resp.StatusCode)}
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &models.UpstreamModelError{Err: fmt.Errorf("rate limiter: %w", err)}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &models.UpstreamModelError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &models.UpstreamModelError{Err: fmt.Errorf("reading response body: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn().Int("status", resp.StatusCode).Str("path", path).Msg("Model service error")
		return &models.UpstreamModelError{Err: fmt.Errorf("non-200 status code: %d", resp.StatusCode)}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return &models.UpstreamModelError{Err: fmt.Errorf("parsing JSON: %w", err)}
	}

	return nil
}
