package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"cardvault/pkg/platform/httputil"
	"cardvault/pkg/requestcontext"
)

// Limiter is a sliding-window rate limiter keyed by client IP. The window
// tracks individual request timestamps so a burst straddling a window
// boundary cannot double the effective limit.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*slidingWindow
	limit   int
	window  time.Duration
	now     func() time.Time
}

type slidingWindow struct {
	timestamps []time.Time
}

// NewLimiter creates a limiter that allows limit requests per key per window.
func NewLimiter(limit int, window time.Duration) *Limiter {
	return &Limiter{
		windows: make(map[string]*slidingWindow),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

// WithClock overrides the time source for tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Allow records a request for key and reports whether it is within the limit.
// The second return value is the number of seconds until the window resets,
// meaningful only when the request was denied.
func (l *Limiter) Allow(key string) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	sw := l.windows[key]
	if sw == nil {
		sw = &slidingWindow{}
		l.windows[key] = sw
	}
	sw.cleanup(now.Add(-l.window))

	if len(sw.timestamps) >= l.limit {
		retryAfter := int(sw.timestamps[0].Add(l.window).Sub(now).Seconds()) + 1
		return false, retryAfter
	}
	sw.timestamps = append(sw.timestamps, now)
	return true, 0
}

func (sw *slidingWindow) cleanup(cutoff time.Time) {
	i := 0
	for ; i < len(sw.timestamps); i++ {
		if sw.timestamps[i].After(cutoff) {
			break
		}
	}
	sw.timestamps = sw.timestamps[i:]
}

// RateLimit rejects requests over the per-IP limit with 429. Runs after
// ClientMetadata so the key comes from the resolved client IP.
func RateLimit(limiter *Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := requestcontext.ClientIP(r.Context())
			if key == "" {
				key = r.RemoteAddr
			}
			allowed, retryAfter := limiter.Allow(key)
			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				httputil.WriteJSON(w, http.StatusTooManyRequests, map[string]string{
					"error":             "rate_limited",
					"error_description": "too many requests",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
