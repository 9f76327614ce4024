// ABOUTME: Per-request correlation: middleware that assigns a request id,
// ABOUTME: attaches it to a request-scoped logger, and echoes it to the client

package logging

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

type contextKey int

const loggerKey contextKey = iota

// RequestIDHeader is echoed on every response so callers can correlate logs.
const RequestIDHeader = "X-Request-Id"

// Middleware wraps an http.Handler so every request carries a correlation id.
// The id is reused from the inbound X-Request-Id header when present, attached
// as "request_id" to a request-scoped logger, and echoed in the response.
func Middleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		reqLogger := logger.With("request_id", requestID)
		w.Header().Set(RequestIDHeader, requestID)

		ctx := context.WithValue(r.Context(), loggerKey, reqLogger)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// FromContext returns the request-scoped logger, or the fallback when the
// request did not pass through Middleware.
func FromContext(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	if fallback != nil {
		return fallback
	}
	return slog.Default()
}
