package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

func TestKeyFuncs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	var byIP, byOrg string
	r.GET("/orgs/:org_id/x", func(c *gin.Context) {
		byIP, byOrg = KeyByIP()(c), KeyByOrgOrIP()(c)
	})
	r.GET("/health", func(c *gin.Context) {
		byOrg = KeyByOrgOrIP()(c)
	})

	req := httptest.NewRequest(http.MethodGet, "/orgs/acme/x", nil)
	req.RemoteAddr = net.JoinHostPort("203.0.113.9", "1234")
	r.ServeHTTP(httptest.NewRecorder(), req)
	if byIP != "ip:203.0.113.9" || byOrg != "org:acme" {
		t.Fatalf("unexpected keys ip=%q org=%q", byIP, byOrg)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = net.JoinHostPort("203.0.113.9", "1234")
	r.ServeHTTP(httptest.NewRecorder(), req)
	if byOrg != "ip:203.0.113.9" {
		t.Fatalf("org key should fall back to ip, got %q", byOrg)
	}
}

func TestNewRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(0, 0, nil)
	if rl.burst != 1 || rl.limit != rate.Inf || rl.keyFn == nil {
		t.Fatalf("unexpected defaults: burst=%d limit=%v", rl.burst, rl.limit)
	}
	if rl.limiterFor("k") != rl.limiterFor("k") {
		t.Fatalf("expected bucket reuse")
	}
}

func TestRateLimiter_SweepsIdleBuckets(t *testing.T) {
	rl := NewRateLimiter(1, 1, KeyByIP())
	now := time.Now()
	rl.now = func() time.Time { return now }
	rl.buckets["old"] = &visitor{limiter: rate.NewLimiter(1, 1), lastSeen: now.Add(-time.Hour)}
	rl.lookups = sweepEvery - 1

	rl.limiterFor("new")

	if _, ok := rl.buckets["old"]; ok {
		t.Fatalf("idle bucket should be swept")
	}
	if _, ok := rl.buckets["new"]; !ok {
		t.Fatalf("new bucket should exist")
	}
}

func TestRateLimiter_Handler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(1, 1, KeyByIP())

	r := gin.New()
	r.Use(RequestID(), rl.Handler())
	r.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("first request should pass, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	if w.Code != http.StatusTooManyRequests || w.Header().Get("Retry-After") != "1" {
		t.Fatalf("second request should be throttled, got %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["code"] != "too_many_requests" || body["request_id"] == "" {
		t.Fatalf("unexpected body: %v", body)
	}
}
