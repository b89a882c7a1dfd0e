package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/tbourn/go-post-scheduler/internal/bandit"
	"github.com/tbourn/go-post-scheduler/internal/config"
	"github.com/tbourn/go-post-scheduler/internal/ledger"
	"github.com/tbourn/go-post-scheduler/internal/lock"
	"github.com/tbourn/go-post-scheduler/internal/observability"
	"github.com/tbourn/go-post-scheduler/internal/optimiser"
	"github.com/tbourn/go-post-scheduler/internal/publisher"
	"github.com/tbourn/go-post-scheduler/internal/repo"
	"github.com/tbourn/go-post-scheduler/internal/scheduler"
	"github.com/tbourn/go-post-scheduler/internal/sysutil"
)

// app holds the process-wide dependencies shared by every command.
type app struct {
	cfg         config.Config
	db          *gorm.DB
	redis       *redis.Client
	stopTracing func(context.Context) error
	lock        lock.LeaseLock
	ledger      ledger.Ledger
	opt         *bandit.Optimiser
}

// bootstrap loads .env and the environment, configures logging and tracing,
// and opens the database and, when REDIS_URL is set, Redis.
func bootstrap(ctx context.Context, cmd *cobra.Command) (*app, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	sysutil.SetupLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogPretty)

	a := &app{cfg: cfg}
	if a.stopTracing, err = observability.SetupTracing(ctx, cfg.OTEL, Version); err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}

	if a.db, err = repo.Open(cfg.DBDriver, cfg.DBDSN); err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("open %s: %w", cfg.DBDriver, err)
	}

	if cfg.RedisURL == "" {
		a.lock, a.ledger = lock.NewMemory(), ledger.NewMemory()
		log.Warn().Msg("REDIS_URL not set; lease lock and idempotency ledger are process-local")
		return a, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("REDIS_URL: %w", err)
	}
	a.redis = redis.NewClient(opts)
	if err := a.redis.Ping(ctx).Err(); err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	a.lock, a.ledger = lock.NewRedis(a.redis), ledger.NewRedis(a.redis)
	return a, nil
}

func (a *app) close(ctx context.Context) {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	if a.stopTracing != nil {
		errs = append(errs, a.stopTracing(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		log.Warn().Err(err).Msg("shutdown")
	}
}

// gateway builds the configured publisher, throttled when PUBLISHER_RPS > 0.
func (a *app) gateway() (publisher.Gateway, error) {
	p := a.cfg.Publisher
	var gw publisher.Gateway
	switch p.Mode {
	case config.PublisherWebhook:
		wh, err := publisher.NewWebhook(p.WebhookURL, p.Timeout)
		if err != nil {
			return nil, err
		}
		gw = wh
	default:
		gw = publisher.NewDryRun()
	}
	if p.RPS > 0 {
		gw = publisher.NewRateLimited(gw, p.RPS, p.Burst)
	}
	return gw, nil
}

func (a *app) engine() (*scheduler.Engine, error) {
	gw, err := a.gateway()
	if err != nil {
		return nil, err
	}
	return scheduler.New(a.db, gw, a.lock, a.ledger, a.cfg.Scheduler), nil
}

func (a *app) optimiser() *bandit.Optimiser {
	if a.opt == nil {
		o := bandit.New(a.db)
		o.DefaultFormat = a.cfg.Optimiser.DefaultFormat
		o.HistoryWindow = a.cfg.Optimiser.HistoryWindow
		a.opt = o
	}
	return a.opt
}

func (a *app) worker() *optimiser.Worker {
	return optimiser.New(a.db, a.optimiser(), a.cfg.Optimiser)
}
