// Package publisher defines the boundary to social platforms. The scheduler
// only needs Publish; platform wire protocols live behind Gateway
// implementations.
package publisher

import "context"

// Request is one publish call for a schedule attempt.
//
// IdempotencyKey is stable per (schedule, scheduled_at, attempt) and should be
// forwarded to the platform so repeated deliveries are deduplicated there.
type Request struct {
	Caption         string   `json:"caption"`
	MediaPaths      []string `json:"media_paths,omitempty"`
	FirstComment    *string  `json:"first_comment,omitempty"`
	IdempotencyKey  string   `json:"idempotency_key"`
	Provider        string   `json:"provider"`
	ExternalAccount string   `json:"external_account,omitempty"`
}

// Result is what a platform returns for a successful publish.
// ExternalRefs maps provider name to the platform-side reference id.
type Result struct {
	ID           string            `json:"id"`
	URL          string            `json:"url"`
	ExternalRefs map[string]string `json:"external_refs,omitempty"`
}

// Gateway publishes content. Every returned error is treated as transient
// by the caller.
type Gateway interface {
	Publish(ctx context.Context, req Request) (Result, error)
}

// GatewayFunc adapts a function to Gateway.
type GatewayFunc func(ctx context.Context, req Request) (Result, error)

// Publish implements Gateway.
func (f GatewayFunc) Publish(ctx context.Context, req Request) (Result, error) { return f(ctx, req) }
