package middleware

import (
	"net/http"
	"strings"

	"github.com/mssola/useragent"

	"cardvault/pkg/requestcontext"
)

// ClientMetadata extracts the client IP, raw User-Agent, and a parsed device
// description into the context so the audit trail can attribute calls.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawUA := r.Header.Get("User-Agent")
		ctx := requestcontext.WithClientMetadata(r.Context(), clientIP(r), rawUA, describeDevice(rawUA))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// describeDevice reduces a User-Agent string to "platform/browser".
func describeDevice(rawUA string) string {
	if rawUA == "" {
		return "unknown"
	}
	parsed := useragent.New(rawUA)
	platform := parsed.Platform()
	if platform == "" {
		platform = "unknown"
	}
	browser, _ := parsed.Browser()
	if browser == "" {
		browser = "unknown"
	}
	return platform + "/" + browser
}

// clientIP extracts the originating IP, honoring proxy headers.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if addr := r.RemoteAddr; addr != "" {
		if idx := strings.LastIndex(addr, ":"); idx != -1 {
			return addr[:idx]
		}
		return addr
	}
	return "unknown"
}
