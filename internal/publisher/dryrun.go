package publisher

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DryRun logs every request and reports success without contacting any
// platform. Useful for local runs and staging.
type DryRun struct {
	Logger zerolog.Logger
}

// NewDryRun returns a DryRun gateway logging through the global logger.
func NewDryRun() *DryRun { return &DryRun{Logger: log.Logger} }

// Publish implements Gateway.
func (d *DryRun) Publish(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	short := strings.ReplaceAll(req.IdempotencyKey, "-", "")
	if len(short) > 12 {
		short = short[:12]
	}
	id := "dryrun-" + short
	provider := req.Provider
	if provider == "" {
		provider = "dryrun"
	}

	d.Logger.Info().
		Str("provider", provider).
		Str("account", req.ExternalAccount).
		Str("idempotency_key", req.IdempotencyKey).
		Int("media", len(req.MediaPaths)).
		Bool("first_comment", req.FirstComment != nil).
		Msg("dry-run publish")

	return Result{
		ID:           id,
		URL:          fmt.Sprintf("dryrun://%s/%s", provider, id),
		ExternalRefs: map[string]string{provider: id},
	}, nil
}
