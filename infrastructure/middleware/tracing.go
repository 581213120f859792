// Package middleware provides HTTP middleware for the orchestration API.
package middleware

import (
	"net/http"

	"github.com/dotmac/ispsaga/infrastructure/logging"
)

// TracingMiddleware adds a trace ID to all requests.
type TracingMiddleware struct {
	logger *logging.Logger
}

// NewTracingMiddleware creates a new tracing middleware.
func NewTracingMiddleware(logger *logging.Logger) *TracingMiddleware {
	return &TracingMiddleware{logger: logger}
}

// Handler returns the tracing middleware handler.
// It delegates to LoggingMiddleware, which already stamps a trace ID on the
// request context and response headers.
func (m *TracingMiddleware) Handler(next http.Handler) http.Handler {
	return LoggingMiddleware(m.logger)(next)
}
