// Package notifier forwards attendance events to the notification service,
// which owns SMS/socket/email delivery. The engine never calls transport
// APIs directly.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"classtrack/internal/notify"
)

// Client posts events to the notification service.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client with a short timeout; delivery is retried by the
// worker, not held open on a slow downstream.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Send forwards one event. With Skip set it is a no-op so dev environments
// work without the service.
func (c *Client) Send(ctx context.Context, evt notify.Event) error {
	if c.Skip {
		return nil
	}

	body, _ := json.Marshal(evt)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/notifications", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("notification service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("notification service returned %d: %s", resp.StatusCode, payload)
	}
	return nil
}
