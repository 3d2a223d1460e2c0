package predict

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxErrorBody caps how much of an upstream error body ends up in logs.
const maxErrorBody = 512

// Scorer runs the drought model on a set of features.
type Scorer interface {
	Score(ctx context.Context, f Features) (*Prediction, error)
}

// HTTPScorer calls the scoring service's POST /predict endpoint.
type HTTPScorer struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewHTTPScorer returns a scorer for the service at baseURL. Each call is
// bounded by timeout.
func NewHTTPScorer(baseURL string, timeout time.Duration) *HTTPScorer {
	return &HTTPScorer{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// Score posts f as JSON and decodes {"drought_risk": ...}.
func (s *HTTPScorer) Score(ctx context.Context, f Features) (*Prediction, error) {
	raw, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encoding features: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/predict", bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("building scoring request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling scoring service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("scoring service returned status=%d body=%s", resp.StatusCode, string(b))
	}

	var p Prediction
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("decoding scoring response: %w", err)
	}
	return &p, nil
}
