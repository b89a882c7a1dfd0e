package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	httpapi "github.com/tbourn/go-post-scheduler/internal/http"
	"github.com/tbourn/go-post-scheduler/internal/repo"
)

const shutdownGrace = 15 * time.Second

func newServeCmd() *cobra.Command {
	var migrateUp bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler engine, the optimiser worker and the ops HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := bootstrap(ctx, cmd)
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, done := context.WithTimeout(context.Background(), shutdownGrace)
				defer done()
				a.close(closeCtx)
			}()

			if migrateUp {
				if err := repo.AutoMigrate(a.db); err != nil {
					return err
				}
			}

			eng, err := a.engine()
			if err != nil {
				return err
			}
			wrk := a.worker()

			gin.SetMode(a.cfg.GinMode)
			r := gin.New()
			httpapi.RegisterRoutes(r, a.db, a.optimiser(), a.cfg)
			srv := &http.Server{
				Addr:              net.JoinHostPort("", a.cfg.Port),
				Handler:           r,
				ReadTimeout:       a.cfg.ReadTimeout,
				ReadHeaderTimeout: a.cfg.ReadHeaderTimeout,
				WriteTimeout:      a.cfg.WriteTimeout,
				IdleTimeout:       a.cfg.IdleTimeout,
			}

			errCh := make(chan error, 3)
			var wg sync.WaitGroup
			wg.Add(3)
			go func() {
				defer wg.Done()
				if err := eng.Run(ctx); err != nil {
					errCh <- err
				}
			}()
			go func() {
				defer wg.Done()
				if err := wrk.Run(ctx); err != nil {
					errCh <- err
				}
			}()
			go func() {
				defer wg.Done()
				log.Info().Str("addr", srv.Addr).Msg("ops server listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			var runErr error
			select {
			case <-ctx.Done():
			case runErr = <-errCh:
				cancel()
			}

			shutdownCtx, done := context.WithTimeout(context.Background(), shutdownGrace)
			defer done()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("ops server shutdown")
			}
			wg.Wait()
			log.Info().Msg("schedulerd stopped")
			return runErr
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "run database migrations on startup")
	return cmd
}
