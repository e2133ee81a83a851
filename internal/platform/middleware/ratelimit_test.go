package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"cardvault/internal/platform/middleware"
)

func TestLimiterSlidingWindow(t *testing.T) {
	now := time.Unix(1_000, 0)
	limiter := middleware.NewLimiter(3, time.Minute).WithClock(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		allowed, _ := limiter.Allow("a")
		assert.True(t, allowed)
	}

	t.Run("the fourth request is denied with a retry hint", func(t *testing.T) {
		allowed, retryAfter := limiter.Allow("a")
		assert.False(t, allowed)
		assert.Greater(t, retryAfter, 0)
	})

	t.Run("other keys are unaffected", func(t *testing.T) {
		allowed, _ := limiter.Allow("b")
		assert.True(t, allowed)
	})

	t.Run("the window slides rather than resets", func(t *testing.T) {
		now = now.Add(61 * time.Second)
		allowed, _ := limiter.Allow("a")
		assert.True(t, allowed, "old timestamps fall out of the window")
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := middleware.NewLimiter(1, time.Minute)
	handler := middleware.RateLimit(limiter)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, req)
	assert.Equal(t, http.StatusNoContent, first.Code)

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, req)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
	assert.Contains(t, second.Body.String(), "rate_limited")
}
