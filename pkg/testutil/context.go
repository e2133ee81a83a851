package testutil

import (
	"net/http"

	"cardvault/pkg/domain"
	"cardvault/pkg/requestcontext"
)

// WithCaller injects an authenticated caller address into the request
// context, simulating what the auth middleware does for a valid token.
func WithCaller(req *http.Request, caller domain.Address) *http.Request {
	return req.WithContext(requestcontext.WithCaller(req.Context(), caller))
}

// WithRequestID injects a correlation ID into the request context.
func WithRequestID(req *http.Request, requestID string) *http.Request {
	return req.WithContext(requestcontext.WithRequestID(req.Context(), requestID))
}
