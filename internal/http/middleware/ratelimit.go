package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	// visitorTTL is how long an idle bucket is kept.
	visitorTTL = 10 * time.Minute
	// sweepEvery is the number of lookups between idle-bucket sweeps.
	sweepEvery = 1000
)

// KeyFunc maps a request to its rate-limit bucket.
type KeyFunc func(*gin.Context) string

// KeyByIP buckets requests by client IP.
func KeyByIP() KeyFunc {
	return func(c *gin.Context) string { return "ip:" + c.ClientIP() }
}

// KeyByOrgOrIP buckets org-scoped routes per organization and everything
// else per client IP.
func KeyByOrgOrIP() KeyFunc {
	return func(c *gin.Context) string {
		if org := c.Param("org_id"); org != "" {
			return "org:" + org
		}
		return "ip:" + c.ClientIP()
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a process-local, per-key token bucket limiter. It is safe
// for concurrent use.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	keyFn   KeyFunc
	ttl     time.Duration
	now     func() time.Time
	mu      sync.Mutex
	buckets map[string]*visitor
	lookups int
}

// NewRateLimiter allows rps requests per second with the given burst per
// key. A non-positive rps disables limiting; burst is at least 1.
func NewRateLimiter(rps float64, burst int, keyFn KeyFunc) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if keyFn == nil {
		keyFn = KeyByIP()
	}
	return &RateLimiter{
		limit:   limit,
		burst:   burst,
		keyFn:   keyFn,
		ttl:     visitorTTL,
		now:     time.Now,
		buckets: make(map[string]*visitor),
	}
}

func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Sweep before the lookup so a stale bucket for key is dropped too.
	rl.lookups++
	if rl.lookups >= sweepEvery {
		for k, v := range rl.buckets {
			if now.Sub(v.lastSeen) >= rl.ttl {
				delete(rl.buckets, k)
			}
		}
		rl.lookups = 0
	}

	if v, ok := rl.buckets[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	lim := rate.NewLimiter(rl.limit, rl.burst)
	rl.buckets[key] = &visitor{limiter: lim, lastSeen: now}
	return lim
}

// Handler rejects requests over budget with 429 and Retry-After: 1.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.limiterFor(rl.keyFn(c)).Allow() {
			c.Next()
			return
		}
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get(requestIDHeader),
			"code":       "too_many_requests",
			"message":    "rate limit exceeded",
		})
	}
}
