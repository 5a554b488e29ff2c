package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func newLimitedRouter(now *time.Time, rule RateLimitRule) *gin.Engine {
	gin.SetMode(gin.TestMode)
	limiter := NewRateLimiter(func() time.Time { return *now })
	r := gin.New()
	limit := RateLimit(RateLimitConfig{
		DefaultGroup: "START",
		Limiter:      limiter,
		Rules:        map[string]RateLimitRule{"START": rule},
	})
	r.POST("/api/v1/analyses", limit, func(c *gin.Context) {
		c.JSON(http.StatusAccepted, gin.H{"ok": true})
	})
	r.GET("/api/v1/analyses/:id", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func post(r *gin.Engine, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyses", nil)
	req.RemoteAddr = ip + ":1234"
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestRateLimitPerClientIP(t *testing.T) {
	now := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	r := newLimitedRouter(&now, PerMinute(2))

	for i := 0; i < 2; i++ {
		if resp := post(r, "10.0.0.1"); resp.Code != http.StatusAccepted {
			t.Fatalf("request %d expected 202, got %d", i+1, resp.Code)
		}
	}
	if resp := post(r, "10.0.0.1"); resp.Code != http.StatusTooManyRequests {
		t.Fatalf("third request expected 429, got %d", resp.Code)
	}
	if resp := post(r, "10.0.0.2"); resp.Code != http.StatusAccepted {
		t.Fatalf("other client expected 202, got %d", resp.Code)
	}

	for i := 0; i < 5; i++ {
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/analyses/a", nil))
		if resp.Code != http.StatusOK {
			t.Fatalf("unlimited route expected 200, got %d", resp.Code)
		}
	}

	now = now.Add(30 * time.Second)
	if resp := post(r, "10.0.0.1"); resp.Code != http.StatusAccepted {
		t.Fatalf("refilled bucket expected 202, got %d", resp.Code)
	}
}

func TestRateLimit429IncludesRetryAfter(t *testing.T) {
	now := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	r := newLimitedRouter(&now, RateLimitRule{Rate: 1, Burst: 1})

	if resp := post(r, "10.0.0.1"); resp.Code != http.StatusAccepted {
		t.Fatalf("expected first request 202, got %d", resp.Code)
	}
	resp := post(r, "10.0.0.1")
	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.Code)
	}
	if resp.Header().Get("Retry-After") != "1" {
		t.Fatalf("expected Retry-After 1, got %q", resp.Header().Get("Retry-After"))
	}

	var payload struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Error.Code != "rate_limited" {
		t.Fatalf("expected code rate_limited, got %q", payload.Error.Code)
	}
	if _, ok := payload.Error.Details["retry_after_ms"]; !ok {
		t.Fatalf("expected retry_after_ms in details")
	}
}

func TestPerMinuteDisabled(t *testing.T) {
	if ok, _ := NewRateLimiter(nil).Allow("k", PerMinute(0)); !ok {
		t.Fatalf("zero limit must not block")
	}
}
