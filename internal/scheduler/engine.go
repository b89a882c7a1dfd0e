// Package scheduler publishes due schedules.
//
// Each tick claims a batch of due rows inside one database transaction
// (FOR UPDATE SKIP LOCKED on Postgres), publishes every row through the
// configured gateway with bounded retries and records the terminal status.
// Duplicate publishing across workers is prevented by three layers: the row
// claim (authoritative), an optional tick lease, and a TTL ledger keyed by
// schedule id.
//
// Observability: RunTick opens a "scheduler/RunTick" span and updates the
// scheduler_* and publisher_* Prometheus collectors.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/tbourn/go-post-scheduler/internal/config"
	"github.com/tbourn/go-post-scheduler/internal/domain"
	"github.com/tbourn/go-post-scheduler/internal/ledger"
	"github.com/tbourn/go-post-scheduler/internal/lock"
	"github.com/tbourn/go-post-scheduler/internal/observability"
	"github.com/tbourn/go-post-scheduler/internal/publisher"
	"github.com/tbourn/go-post-scheduler/internal/repo"
)

// TickLockKey is the lease taken around each publish tick.
const TickLockKey = "scheduler:tick"

// Defaults applied when the matching config field is zero.
const (
	DefaultSpec          = "@every 30s"
	DefaultBatchSize     = 50
	DefaultMaxAttempts   = 3
	DefaultBackoffUnit   = time.Second
	DefaultProcessingTTL = time.Hour
	DefaultCompletedTTL  = 24 * time.Hour
	DefaultLockTTL       = 5 * time.Minute

	releaseTimeout = 5 * time.Second
)

// Engine runs publish ticks. DB and Publisher are required; a nil Lock
// disables the tick lease and a nil Ledger is replaced by an in-process one
// in New.
type Engine struct {
	DB        *gorm.DB
	Publisher publisher.Gateway
	Lock      lock.LeaseLock
	Ledger    ledger.Ledger
	Config    config.SchedulerConfig
	Logger    zerolog.Logger

	// Now and Sleep are replaced in tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// New builds an Engine with the global logger and real clock.
func New(db *gorm.DB, gw publisher.Gateway, lk lock.LeaseLock, ld ledger.Ledger, cfg config.SchedulerConfig) *Engine {
	if ld == nil {
		ld = ledger.NewMemory()
	}
	return &Engine{
		DB:        db,
		Publisher: gw,
		Lock:      lk,
		Ledger:    ld,
		Config:    cfg,
		Logger:    log.Logger.With().Str("component", "scheduler").Logger(),
		Now:       time.Now,
		Sleep:     sleepCtx,
	}
}

// IdempotencyKey derives the key sent with one publish attempt. It is a
// name-based UUID over the schedule id, its scheduled time and the attempt
// number, so a replayed attempt carries the same key.
func IdempotencyKey(scheduleID uint, scheduledAt time.Time, attempt int) string {
	name := fmt.Sprintf("schedule:%d:%s:%d", scheduleID, scheduledAt.UTC().Format(time.RFC3339Nano), attempt)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

// Backoff is the wait after a failed attempt: 2^attempt units.
func Backoff(attempt int, unit time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return time.Duration(1<<uint(attempt)) * unit
}

// FetchDueSchedules returns up to limit due schedules using db, which should
// be the tick transaction so row claims last until commit. Ids in exclude
// are passed over.
func (e *Engine) FetchDueSchedules(ctx context.Context, db *gorm.DB, limit int, exclude ...uint) ([]domain.Schedule, error) {
	return repo.FetchDueSchedules(ctx, db, e.now(), limit, exclude...)
}

// RunTick processes one batch of due schedules and returns how many reached
// a terminal status. Per-schedule failures are logged and counted; only
// failures that abort the whole tick (begin, fetch, commit) are returned.
//
// Cancelling ctx stops the tick between schedules. A schedule that has
// started publishing always runs to its terminal status, and work done so
// far is committed.
func (e *Engine) RunTick(ctx context.Context) (int, error) {
	start := time.Now()
	ctx, span := observability.Tracer("scheduler").Start(ctx, "RunTick")
	defer span.End()

	if e.Lock != nil {
		lease, ok := e.acquire(ctx)
		switch {
		case ok:
			defer e.release(ctx, lease)
		case e.Config.LockFallback == config.LockFallbackDirect:
			e.Logger.Warn().Msg("processing tick without lease")
		default:
			observability.SchedulerTicks.WithLabelValues(observability.TickSkipped).Inc()
			span.SetAttributes(attribute.Bool("tick.skipped", true))
			return 0, nil
		}
	}

	processed, err := e.process(ctx)
	span.SetAttributes(attribute.Int("tick.processed", processed))
	if err != nil {
		span.RecordError(err)
		observability.SchedulerTicks.WithLabelValues(observability.TickError).Inc()
		return processed, err
	}
	observability.SchedulerTicks.WithLabelValues(observability.TickOK).Inc()
	observability.SchedulerTickDuration.Observe(time.Since(start).Seconds())
	return processed, nil
}

// Run drives RunTick on the configured cron spec until ctx is cancelled.
// Overlapping ticks are skipped and a failing or panicking tick never stops
// the loop. Run waits for an in-flight tick before returning.
func (e *Engine) Run(ctx context.Context) error {
	spec := e.Config.Spec
	if spec == "" {
		spec = DefaultSpec
	}
	cl := cronLogger{l: e.Logger}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(spec, func() { e.tick(ctx) }); err != nil {
		return fmt.Errorf("scheduler spec %q: %w", spec, err)
	}

	e.Logger.Info().Str("spec", spec).Msg("scheduler started")
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	e.Logger.Info().Msg("scheduler stopped")
	return nil
}

func (e *Engine) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	n, err := e.RunTick(ctx)
	if err != nil {
		e.Logger.Error().Err(err).Int("processed", n).Msg("publish tick failed")
		return
	}
	if n > 0 {
		e.Logger.Info().Int("processed", n).Msg("publish tick done")
	}
}

func (e *Engine) acquire(ctx context.Context) (*lock.Lease, bool) {
	ttl := e.Config.LockTTL
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	lease, ok, err := e.Lock.Acquire(ctx, TickLockKey, ttl, e.Config.LockWait)
	if err != nil {
		observability.LockMisses.WithLabelValues("error").Inc()
		e.Logger.Warn().Err(fmt.Errorf("%w: %v", ErrLockUnavailable, err)).Msg("tick lease backend error")
		return nil, false
	}
	if !ok {
		observability.LockMisses.WithLabelValues("held").Inc()
		e.Logger.Debug().Err(ErrLockUnavailable).Msg("tick lease held elsewhere")
		return nil, false
	}
	return lease, true
}

func (e *Engine) release(ctx context.Context, lease *lock.Lease) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	err := e.Lock.Release(rctx, lease)
	switch {
	case errors.Is(err, lock.ErrLeaseLost):
		e.Logger.Warn().Dur("ttl", lease.TTL).Msg("tick lease expired before the tick finished")
	case err != nil:
		e.Logger.Warn().Err(err).Msg("release tick lease")
	}
}

// rowResult is what happened to one claimed row.
type rowResult int

const (
	// rowSkipped rows were already handled according to the ledger.
	rowSkipped rowResult = iota
	rowTerminal
)

// maxScanFactor bounds how many ledger-skipped rows one tick walks past,
// as a multiple of the batch size.
const maxScanFactor = 10

// process runs the tick transaction. Rows are isolated in savepoints so one
// failing row does not roll back the others. Rows the ledger skips do not
// count against the batch, so a run of already-handled rows cannot starve
// newer due schedules.
func (e *Engine) process(ctx context.Context) (int, error) {
	work := context.WithoutCancel(ctx)
	batch := e.Config.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}

	processed := 0
	err := e.DB.WithContext(work).Transaction(func(tx *gorm.DB) error {
		var seen []uint
		handled := 0
		for handled < batch && len(seen) < batch*maxScanFactor {
			due, err := e.FetchDueSchedules(work, tx, batch-handled, seen...)
			if err != nil {
				return fmt.Errorf("fetch due schedules: %w", err)
			}
			if len(due) == 0 {
				return nil
			}
			for i, s := range due {
				if ctx.Err() != nil {
					e.Logger.Info().Int("remaining", len(due)-i).Msg("stopping tick early")
					return nil
				}
				seen = append(seen, s.ID)
				var res rowResult
				err := tx.Transaction(func(row *gorm.DB) error {
					var err error
					res, err = e.processSchedule(work, row, s)
					return err
				})
				switch {
				case err != nil:
					handled++
					e.Logger.Error().Err(err).Uint("schedule_id", s.ID).Msg("schedule left for a later tick")
				case res == rowTerminal:
					handled++
					processed++
				}
			}
		}
		return nil
	})
	return processed, err
}

// processSchedule handles one claimed row.
func (e *Engine) processSchedule(ctx context.Context, tx *gorm.DB, s domain.Schedule) (rowResult, error) {
	lg := e.Logger.With().Uint("schedule_id", s.ID).Str("org_id", s.OrgID).Logger()
	key := ledger.ScheduleKey(s.ID)

	state, err := e.Ledger.Get(ctx, key)
	switch {
	case err == nil && (state == ledger.Completed || state == ledger.Processing):
		observability.PublishOutcomes.WithLabelValues(observability.OutcomeDuplicate).Inc()
		lg.Debug().Str("ledger", state).Msg("already handled; skipping")
		return rowSkipped, nil
	case err != nil && !errors.Is(err, ledger.ErrMiss):
		return rowSkipped, fmt.Errorf("ledger lookup: %w", err)
	}

	ch, item, err := e.resolve(ctx, tx, s)
	if errors.Is(err, ErrMissingEntity) {
		if err := repo.MarkFailed(ctx, tx, s.ID, missingEntityMessage); err != nil {
			return rowSkipped, fmt.Errorf("mark failed: %w", err)
		}
		e.mark(ctx, lg, key, ledger.Failed)
		observability.PublishOutcomes.WithLabelValues(observability.OutcomeMissing).Inc()
		lg.Warn().Err(ErrMissingEntity).Msg("schedule failed")
		return rowTerminal, nil
	}
	if err != nil {
		return rowSkipped, err
	}

	processingTTL := e.Config.ProcessingTTL
	if processingTTL <= 0 {
		processingTTL = DefaultProcessingTTL
	}
	if err := e.Ledger.SetWithTTL(ctx, key, ledger.Processing, processingTTL); err != nil {
		return rowSkipped, fmt.Errorf("ledger mark processing: %w", err)
	}

	res, err := e.publish(ctx, lg, s, ch, item)
	if err != nil {
		if err := repo.MarkFailed(ctx, tx, s.ID, err.Error()); err != nil {
			return rowSkipped, fmt.Errorf("mark failed: %w", err)
		}
		e.mark(ctx, lg, key, ledger.Failed)
		observability.PublishOutcomes.WithLabelValues(observability.OutcomeFailed).Inc()
		lg.Warn().Err(fmt.Errorf("%w: %v", ErrPublishExhausted, err)).Msg("schedule failed")
		return rowTerminal, nil
	}

	// The content is live. Record that before touching the row, so a failed
	// status write or commit can never lead to a second publish.
	e.mark(ctx, lg, key, ledger.Completed)

	marker := fmt.Sprintf("Posted: id=%s url=%s", res.ID, res.URL)
	if err := repo.MarkPosted(ctx, tx, s.ID, marker); err != nil {
		lg.Error().Err(err).Str("ref_id", res.ID).Msg("published but posted status not stored")
		return rowSkipped, fmt.Errorf("mark posted: %w", err)
	}
	e.storeRefs(ctx, lg, tx, s, ch, res)
	observability.PublishOutcomes.WithLabelValues(observability.OutcomePosted).Inc()
	lg.Info().Str("ref_id", res.ID).Str("url", res.URL).Msg("schedule posted")
	return rowTerminal, nil
}

// storeRefs persists the platform references, each in its own savepoint so
// a failed insert cannot undo the posted status.
func (e *Engine) storeRefs(ctx context.Context, lg zerolog.Logger, tx *gorm.DB, s domain.Schedule, ch *domain.Channel, res publisher.Result) {
	refs := res.ExternalRefs
	if len(refs) == 0 && res.ID != "" {
		refs = map[string]string{ch.Provider: res.ID}
	}
	for _, provider := range slices.Sorted(maps.Keys(refs)) {
		err := tx.Transaction(func(ref *gorm.DB) error {
			_, err := repo.CreateExternalRef(ctx, ref, s.ID, provider, refs[provider])
			if errors.Is(err, repo.ErrDuplicate) {
				return nil
			}
			return err
		})
		if err != nil {
			lg.Error().Err(err).Str("provider", provider).Msg("store external ref")
		}
	}
}

func (e *Engine) resolve(ctx context.Context, tx *gorm.DB, s domain.Schedule) (*domain.Channel, *domain.ContentItem, error) {
	ch, err := repo.GetChannel(ctx, tx, s.ChannelID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil, ErrMissingEntity
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load channel: %w", err)
	}
	item, err := repo.GetContentItem(ctx, tx, s.ContentItemID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil, ErrMissingEntity
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load content item: %w", err)
	}
	return ch, item, nil
}

// publish calls the gateway up to MaxAttempts times with exponential
// backoff and returns the last error when every attempt fails.
func (e *Engine) publish(ctx context.Context, lg zerolog.Logger, s domain.Schedule, ch *domain.Channel, item *domain.ContentItem) (publisher.Result, error) {
	attempts := e.Config.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	unit := e.Config.BackoffUnit
	if unit <= 0 {
		unit = DefaultBackoffUnit
	}
	req := publisher.Request{
		Caption:         item.Caption,
		MediaPaths:      item.Media(),
		FirstComment:    item.FirstComment,
		Provider:        ch.Provider,
		ExternalAccount: ch.ExternalAccount,
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		req.IdempotencyKey = IdempotencyKey(s.ID, s.ScheduledAt, attempt)
		res, err := e.Publisher.Publish(ctx, req)
		if err == nil {
			observability.PublishAttempts.WithLabelValues(observability.TickOK).Inc()
			return res, nil
		}
		lastErr = err
		observability.PublishAttempts.WithLabelValues(observability.TickError).Inc()
		lg.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", attempts).Msg("publish attempt failed")

		if attempt < attempts {
			if err := e.sleep(ctx, Backoff(attempt, unit)); err != nil {
				return publisher.Result{}, err
			}
		}
	}
	return publisher.Result{}, lastErr
}

// mark records a terminal ledger state. The row status is authoritative, so
// a ledger failure here is only logged.
func (e *Engine) mark(ctx context.Context, lg zerolog.Logger, key, state string) {
	ttl := e.Config.CompletedTTL
	if ttl <= 0 {
		ttl = DefaultCompletedTTL
	}
	if err := e.Ledger.SetWithTTL(ctx, key, state, ttl); err != nil {
		lg.Warn().Err(err).Str("ledger", state).Msg("ledger write failed")
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) error {
	if e.Sleep != nil {
		return e.Sleep(ctx, d)
	}
	return sleepCtx(ctx, d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// cronLogger routes robfig/cron diagnostics to zerolog.
type cronLogger struct {
	l zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
