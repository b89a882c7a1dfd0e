// Package optimiser feeds schedule performance back into the bandit.
//
// Each tick scans recently posted schedules, turns their metrics into a
// reward and applies it once to the arm the schedule was published in. The
// applied flag and the arm update commit together, so a reward is counted
// exactly once even when ticks overlap.
package optimiser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/tbourn/go-post-scheduler/internal/bandit"
	"github.com/tbourn/go-post-scheduler/internal/config"
	"github.com/tbourn/go-post-scheduler/internal/domain"
	"github.com/tbourn/go-post-scheduler/internal/observability"
	"github.com/tbourn/go-post-scheduler/internal/repo"
	"github.com/tbourn/go-post-scheduler/internal/reward"
)

// Defaults applied when the matching config field is zero.
const (
	DefaultInterval = time.Hour
	DefaultLookback = 72 * time.Hour
)

// Worker runs optimiser ticks.
type Worker struct {
	DB        *gorm.DB
	Optimiser *bandit.Optimiser
	Interval  time.Duration
	Lookback  time.Duration
	Logger    zerolog.Logger
	Now       func() time.Time
}

// New builds a Worker from config with the global logger.
func New(db *gorm.DB, opt *bandit.Optimiser, cfg config.OptimiserConfig) *Worker {
	return &Worker{
		DB:        db,
		Optimiser: opt,
		Interval:  cfg.Interval,
		Lookback:  cfg.Lookback,
		Logger:    log.Logger.With().Str("component", "optimiser").Logger(),
		Now:       time.Now,
	}
}

// TickOnce applies every pending reward for schedules posted within the
// lookback window and returns how many arms were updated. Rows that fail
// are logged and skipped; only the initial listing error is returned.
func (w *Worker) TickOnce(ctx context.Context) (int, error) {
	ctx, span := observability.Tracer("optimiser").Start(ctx, "TickOnce")
	defer span.End()

	lookback := w.Lookback
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	posted, err := repo.ListPostedSince(ctx, w.DB, w.now().Add(-lookback))
	if err != nil {
		span.RecordError(err)
		observability.OptimiserTicks.WithLabelValues(observability.TickError).Inc()
		return 0, fmt.Errorf("list posted schedules: %w", err)
	}

	updated := 0
	for _, s := range posted {
		if ctx.Err() != nil {
			break
		}
		ok, err := w.apply(ctx, s)
		if err != nil {
			w.Logger.Error().Err(err).Uint("schedule_id", s.ID).Msg("apply reward")
			continue
		}
		if ok {
			updated++
		}
	}

	span.SetAttributes(
		attribute.Int("optimiser.candidates", len(posted)),
		attribute.Int("optimiser.updated", updated),
	)
	observability.OptimiserTicks.WithLabelValues(observability.TickOK).Inc()
	return updated, nil
}

// apply reports whether this call updated the arm for s.
func (w *Worker) apply(ctx context.Context, s domain.Schedule) (bool, error) {
	lg := w.Logger.With().Uint("schedule_id", s.ID).Str("org_id", s.OrgID).Logger()

	m, err := repo.GetScheduleMetrics(ctx, w.DB, s.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load metrics: %w", err)
	}
	if m.Applied {
		return false, nil
	}
	r, ok := reward.Compute(*m)
	if !ok {
		lg.Debug().Err(reward.Validate(*m)).Msg("metrics incomplete; waiting")
		return false, nil
	}

	ch, err := repo.GetChannel(ctx, w.DB, s.ChannelID)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load channel: %w", err)
	}
	item, err := repo.GetContentItem(ctx, w.DB, s.ContentItemID)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load content item: %w", err)
	}

	format := item.Format
	if format == "" {
		format = bandit.DefaultFormat
	}
	key := bandit.DeriveKey(ch.Provider, format, s.ScheduledAt)

	applied := false
	err = w.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		won, err := repo.MarkMetricsApplied(ctx, tx, s.ID)
		if err != nil || !won {
			return err
		}
		if err := w.Optimiser.UpdateState(ctx, tx, s.OrgID, key, r); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if applied {
		observability.OptimiserUpdates.Inc()
		observability.RewardValues.Observe(r)
		lg.Debug().Str("key", key).Float64("reward", r).Msg("arm updated")
	}
	return applied, nil
}

// Run ticks immediately and then every Interval until ctx is cancelled. A
// failing or panicking tick is logged and the loop keeps going.
func (w *Worker) Run(ctx context.Context) error {
	interval := w.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	w.Logger.Info().Dur("interval", interval).Msg("optimiser started")
	w.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			w.Logger.Info().Msg("optimiser stopped")
			return nil
		case <-t.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			observability.OptimiserTicks.WithLabelValues(observability.TickError).Inc()
			w.Logger.Error().Interface("panic", rec).Msg("optimiser tick panicked")
		}
	}()
	n, err := w.TickOnce(ctx)
	if err != nil {
		w.Logger.Error().Err(err).Msg("optimiser tick failed")
		return
	}
	if n > 0 {
		w.Logger.Info().Int("updated", n).Msg("optimiser tick done")
	}
}

func (w *Worker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}
