// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes settings for the
// database, the scheduler and optimiser loops, the publisher gateway, the ops
// HTTP server, logging and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Lock fallback policies used when the tick lease cannot be acquired.
const (
	LockFallbackSkip   = "skip"
	LockFallbackDirect = "direct"
)

// Publisher modes.
const (
	PublisherDryRun  = "dryrun"
	PublisherWebhook = "webhook"
)

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-post-scheduler")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// SchedulerConfig tunes the publish tick.
type SchedulerConfig struct {
	Spec          string        // SCHEDULER_SPEC, cron spec (e.g. "@every 30s")
	BatchSize     int           // SCHEDULER_BATCH, due rows claimed per tick
	MaxAttempts   int           // SCHEDULER_MAX_ATTEMPTS
	BackoffUnit   time.Duration // SCHEDULER_BACKOFF_UNIT, wait = 2^attempt * unit
	ProcessingTTL time.Duration // SCHEDULER_PROCESSING_TTL
	CompletedTTL  time.Duration // SCHEDULER_COMPLETED_TTL
	LockTTL       time.Duration // SCHEDULER_LOCK_TTL
	LockWait      time.Duration // SCHEDULER_LOCK_WAIT
	LockFallback  string        // SCHEDULER_LOCK_FALLBACK: skip|direct
}

// OptimiserConfig tunes the bandit feedback loop.
type OptimiserConfig struct {
	Interval      time.Duration // OPTIMISER_INTERVAL
	Lookback      time.Duration // OPTIMISER_LOOKBACK, posted schedules considered
	HistoryWindow time.Duration // OPTIMISER_HISTORY_WINDOW, candidate arms from history
	DefaultFormat string        // OPTIMISER_DEFAULT_FORMAT for synthesized arms
}

// PublisherConfig selects and tunes the publisher gateway.
type PublisherConfig struct {
	Mode       string        // PUBLISHER_MODE: dryrun|webhook
	WebhookURL string        // PUBLISHER_WEBHOOK_URL
	Timeout    time.Duration // PUBLISHER_TIMEOUT, per attempt
	RPS        float64       // PUBLISHER_RPS, 0 disables throttling
	Burst      int           // PUBLISHER_BURST
}

// Config holds all configuration values for the application.
type Config struct {
	// Ops HTTP server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	GinMode           string        // debug|release|test
	APIBasePath       string        // base path for API routes

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	// Storage
	DBDriver string // sqlite|postgres
	DBDSN    string // file path for sqlite, URL/DSN for postgres
	RedisURL string // empty selects in-process lock + ledger

	// Rate limiting (ops HTTP)
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// CORS_ALLOWED_ORIGINS, comma separated. Empty sends no CORS headers.
	CORSAllowedOrigins []string

	Scheduler SchedulerConfig
	Optimiser OptimiserConfig
	Publisher PublisherConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Ops HTTP server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),
		APIBasePath:       normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		// Storage
		DBDriver: strings.ToLower(strings.TrimSpace(getenv("DB_DRIVER", "sqlite"))),
		DBDSN:    getenv("DB_DSN", "scheduler.db"),
		RedisURL: strings.TrimSpace(getenv("REDIS_URL", "")),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		CORSAllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),

		Scheduler: SchedulerConfig{
			Spec:          strings.TrimSpace(getenv("SCHEDULER_SPEC", "@every 30s")),
			BatchSize:     getint("SCHEDULER_BATCH", 50),
			MaxAttempts:   getint("SCHEDULER_MAX_ATTEMPTS", 3),
			BackoffUnit:   getdur("SCHEDULER_BACKOFF_UNIT", time.Second),
			ProcessingTTL: getdur("SCHEDULER_PROCESSING_TTL", time.Hour),
			CompletedTTL:  getdur("SCHEDULER_COMPLETED_TTL", 24*time.Hour),
			LockTTL:       getdur("SCHEDULER_LOCK_TTL", 5*time.Minute),
			LockWait:      getdur("SCHEDULER_LOCK_WAIT", 2*time.Second),
			LockFallback:  strings.ToLower(getenv("SCHEDULER_LOCK_FALLBACK", LockFallbackSkip)),
		},

		Optimiser: OptimiserConfig{
			Interval:      getdur("OPTIMISER_INTERVAL", time.Hour),
			Lookback:      getdur("OPTIMISER_LOOKBACK", 72*time.Hour),
			HistoryWindow: getdur("OPTIMISER_HISTORY_WINDOW", 28*24*time.Hour),
			DefaultFormat: strings.TrimSpace(getenv("OPTIMISER_DEFAULT_FORMAT", "post")),
		},

		Publisher: PublisherConfig{
			Mode:       strings.ToLower(getenv("PUBLISHER_MODE", PublisherDryRun)),
			WebhookURL: strings.TrimSpace(getenv("PUBLISHER_WEBHOOK_URL", "")),
			Timeout:    getdur("PUBLISHER_TIMEOUT", 30*time.Second),
			RPS:        getfloat("PUBLISHER_RPS", 0),
			Burst:      getint("PUBLISHER_BURST", 1),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-post-scheduler"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.DBDriver == "postgresql" || cfg.DBDriver == "pg" {
		cfg.DBDriver = "postgres"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	switch cfg.DBDriver {
	case "sqlite", "postgres":
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	if strings.TrimSpace(cfg.DBDSN) == "" {
		return cfg, errors.New("DB_DSN must not be empty")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}

	s := cfg.Scheduler
	if s.Spec == "" {
		return cfg, errors.New("SCHEDULER_SPEC must not be empty")
	}
	if s.BatchSize < 1 {
		return cfg, errors.New("SCHEDULER_BATCH must be >= 1")
	}
	if s.MaxAttempts < 1 {
		return cfg, errors.New("SCHEDULER_MAX_ATTEMPTS must be >= 1")
	}
	if s.BackoffUnit < 0 {
		return cfg, errors.New("SCHEDULER_BACKOFF_UNIT must be >= 0")
	}
	if s.ProcessingTTL <= 0 || s.CompletedTTL <= 0 || s.LockTTL <= 0 {
		return cfg, errors.New("scheduler TTLs must be positive durations")
	}
	if s.LockWait < 0 {
		return cfg, errors.New("SCHEDULER_LOCK_WAIT must be >= 0")
	}
	switch s.LockFallback {
	case LockFallbackSkip, LockFallbackDirect:
	default:
		return cfg, errors.New("SCHEDULER_LOCK_FALLBACK must be one of: skip, direct")
	}

	o := cfg.Optimiser
	if o.Interval <= 0 || o.Lookback <= 0 || o.HistoryWindow <= 0 {
		return cfg, errors.New("optimiser durations must be positive")
	}
	if o.DefaultFormat == "" {
		return cfg, errors.New("OPTIMISER_DEFAULT_FORMAT must not be empty")
	}

	p := cfg.Publisher
	switch p.Mode {
	case PublisherDryRun:
	case PublisherWebhook:
		if p.WebhookURL == "" {
			return cfg, errors.New("PUBLISHER_WEBHOOK_URL is required when PUBLISHER_MODE=webhook")
		}
	default:
		return cfg, errors.New("PUBLISHER_MODE must be one of: dryrun, webhook")
	}
	if p.Timeout <= 0 {
		return cfg, errors.New("PUBLISHER_TIMEOUT must be > 0")
	}
	if p.RPS < 0 {
		return cfg, errors.New("PUBLISHER_RPS must be >= 0")
	}
	if p.Burst < 1 {
		return cfg, errors.New("PUBLISHER_BURST must be >= 1")
	}

	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// LoadDotEnv loads KEY=value pairs from the given files (".env" when none
// are given) into the process environment. Variables already set win, and
// missing files are skipped.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
		if err := godotenv.Load(f); err != nil {
			return err
		}
	}
	return nil
}

// ---- helpers ----

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
