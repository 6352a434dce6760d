// Package mlclient calls the absenteeism scoring microservice. The model is
// an opaque oracle; when it is unreachable or skipped, callers fall back to
// the rule-based tiers in internal/analytics.
package mlclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ScoreRequest carries the aggregated features the model expects.
type ScoreRequest struct {
	StudentID     string   `json:"student_id"`
	ClassID       string   `json:"class_id"`
	Percentage    *float64 `json:"percentage"`
	AttendedCount int      `json:"attended_count"`
	LateCount     int      `json:"late_count"`
	AbsentCount   int      `json:"absent_count"`
	TotalSessions int      `json:"total_sessions"`
}

// ScoreResult is the model's absenteeism prediction.
type ScoreResult struct {
	Score   float64 `json:"score"` // 0..100, higher is worse
	Flagged bool    `json:"flagged"`
	Model   string  `json:"model,omitempty"`
}

// Client calls the scoring service.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client. Scoring is advisory, so the timeout is short; a slow
// model must never hold up the worker.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Score requests an absenteeism score. With Skip set it returns a neutral
// deterministic result so dev environments work without the service.
func (c *Client) Score(ctx context.Context, req ScoreRequest) (*ScoreResult, error) {
	if c.Skip {
		return &ScoreResult{Score: 0, Flagged: false, Model: "skipped"}, nil
	}

	body, _ := json.Marshal(req)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/score", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ml service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ml service returned %d: %s", resp.StatusCode, payload)
	}

	var result ScoreResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode ml response: %w", err)
	}
	return &result, nil
}

// Health pings the scoring service.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ml service unhealthy: %d", resp.StatusCode)
	}
	return nil
}
