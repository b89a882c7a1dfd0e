// Package httpapi wires the ops HTTP surface (Gin) to the optimiser and the
// schedule store. It centralizes tracing, correlation IDs, logging, panic
// recovery, metrics and rate limiting.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-post-scheduler/internal/bandit"
	"github.com/tbourn/go-post-scheduler/internal/config"
	"github.com/tbourn/go-post-scheduler/internal/http/handlers"
	"github.com/tbourn/go-post-scheduler/internal/http/middleware"
	"github.com/tbourn/go-post-scheduler/internal/reward"
)

// maxBodyBytes caps request bodies; the ops API only serves GETs.
const maxBodyBytes = 64 << 10

// RegisterRoutes attaches middleware and endpoints to r.
//
// Middleware order:
//  1. OpenTelemetry
//  2. RequestID
//  3. Logger
//  4. Recovery (after the logger so panics carry request fields)
//  5. Body size limiter
//  6. Metrics
//  7. CORS, only when an origin allowlist is configured
//  8. Rate limiter, per organization or client IP
//
// /health and /metrics are mounted before the rate limiter.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, opt *bandit.Optimiser, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(limitBody(maxBodyBytes))
	r.Use(middleware.Metrics())
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORSAllowedOrigins,
			AllowMethods:     []string{"GET", "HEAD", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Accept", "If-None-Match", "X-Request-ID"},
			ExposeHeaders:    []string{"X-Request-ID", "ETag"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	h := handlers.New(db, opt, &reward.Calculator{DB: db})
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByOrgOrIP())

	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(rl.Handler())
	{
		api.GET("/orgs/:org_id/suggestions", h.Suggestions)
		api.GET("/orgs/:org_id/arms", h.ListArms)
		api.GET("/schedules/:id", h.GetSchedule)
	}
}

// limitBody caps the request body at maxBytes using http.MaxBytesReader.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
