package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/medsupply/portal/internal/platform/auth"
)

func newActorContext(e *echo.Echo, actorID string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/patients/p1/approval-score", nil)
	if actorID != "" {
		req = req.WithContext(auth.WithActor(req.Context(), auth.Actor{ID: actorID, Role: auth.RolePhysician}))
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestRateLimit_RequestsWithinLimit(t *testing.T) {
	e := echo.New()
	handler := RateLimit(RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5})(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	for i := 0; i < 5; i++ {
		c, rec := newActorContext(e, "doc-1")
		if err := handler(c); err != nil {
			t.Fatalf("request %d: expected no error, got %v", i+1, err)
		}
		if rec.Header().Get("X-RateLimit-Limit") != "10" {
			t.Errorf("request %d: expected X-RateLimit-Limit '10', got %q", i+1, rec.Header().Get("X-RateLimit-Limit"))
		}
	}
}

func TestRateLimit_ExceedsLimit(t *testing.T) {
	e := echo.New()
	handler := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2})(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	for i := 0; i < 2; i++ {
		c, _ := newActorContext(e, "doc-1")
		if err := handler(c); err != nil {
			t.Fatalf("request %d: expected no error, got %v", i+1, err)
		}
	}

	c, rec := newActorContext(e, "doc-1")
	err := handler(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", err)
	}
	ra, convErr := strconv.Atoi(rec.Header().Get("Retry-After"))
	if convErr != nil || ra < 1 {
		t.Errorf("expected positive Retry-After, got %q", rec.Header().Get("Retry-After"))
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("expected X-RateLimit-Remaining '0', got %q", rec.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestRateLimit_PerActorIsolation(t *testing.T) {
	e := echo.New()
	handler := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	c1, _ := newActorContext(e, "doc-a")
	if err := handler(c1); err != nil {
		t.Fatalf("doc-a first request: %v", err)
	}
	c2, _ := newActorContext(e, "doc-a")
	if err := handler(c2); err == nil {
		t.Fatal("doc-a second request: expected rate limit error")
	}
	c3, _ := newActorContext(e, "doc-b")
	if err := handler(c3); err != nil {
		t.Fatalf("doc-b first request: %v", err)
	}
}

func TestRateKey(t *testing.T) {
	e := echo.New()
	c, _ := newActorContext(e, "doc-a")
	if k := rateKey(c); k != "actor:doc-a" {
		t.Errorf("expected actor key, got %s", k)
	}
	anon, _ := newActorContext(e, "")
	if k := rateKey(anon); k[:3] != "ip:" {
		t.Errorf("expected ip key, got %s", k)
	}
}

func TestRateLimit_DefaultConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	if cfg.RequestsPerSecond != 1 || cfg.BurstSize != 5 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestTokenBucket_RetryAfterWithZeroRate(t *testing.T) {
	b := newTokenBucket(0, 1)
	b.allow()
	if ra := b.retryAfter(); ra != 1 {
		t.Errorf("expected retryAfter 1 for zero rate, got %d", ra)
	}
}

func TestRateLimiterStore_SameKeySameBucket(t *testing.T) {
	store := newRateLimiterStore(RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5})
	b1 := store.getBucket("key1")
	if b1 != store.getBucket("key1") {
		t.Error("expected same bucket instance for same key")
	}
	if b1 == store.getBucket("key2") {
		t.Error("expected different bucket for different key")
	}
}
