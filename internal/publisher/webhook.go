package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// UserAgent identifies this service to webhook receivers.
const UserAgent = "go-post-scheduler/1.0"

// ErrEmptyEndpoint is returned by NewWebhook when no URL is configured.
var ErrEmptyEndpoint = errors.New("publisher: webhook url is empty")

// Webhook publishes by POSTing the request as JSON to a relay service that
// speaks the platform protocols. The idempotency key is sent both in the body
// and as the Idempotency-Key header.
type Webhook struct {
	endpoint   string
	httpClient *http.Client
}

// NewWebhook returns a webhook gateway with the given per-request timeout.
func NewWebhook(endpoint string, timeout time.Duration) (*Webhook, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, ErrEmptyEndpoint
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Webhook{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Publish implements Gateway.
func (w *Webhook) Publish(ctx context.Context, req Request) (Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", UserAgent)
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	resp, err := w.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("publish request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("publish returned status %d: %s", resp.StatusCode, snippet(raw))
	}

	var out Result
	if err := json.Unmarshal(raw, &out); err != nil {
		return Result{}, fmt.Errorf("failed to parse response: %w", err)
	}
	if out.ID == "" {
		return Result{}, errors.New("publish response missing id")
	}
	return out, nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
