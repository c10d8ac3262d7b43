// Package middleware provides composable http.Handler wrappers for the
// downstream HTTP surface, adapted from the teacher's tool-level logging
// middleware to wrap the whole /mcp handler instead of a single provider.
package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// LoggingConfig configures the logging middleware.
type LoggingConfig struct {
	Logger      *slog.Logger
	IncludeBody bool
}

// NewLoggingMiddleware builds an http.Handler wrapper that logs each
// request's method, path, session id, status, and duration.
func NewLoggingMiddleware(cfg LoggingConfig) func(http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return &loggingHandler{next: next, logger: logger}
	}
}

type loggingHandler struct {
	next   http.Handler
	logger *slog.Logger
}

func (l *loggingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

	l.next.ServeHTTP(rec, r)

	attrs := []any{
		"method", r.Method,
		"path", r.URL.Path,
		"status", rec.status,
		"duration", time.Since(start),
	}
	if sid := r.Header.Get("Mcp-Session-Id"); sid != "" {
		attrs = append(attrs, "session_id", sid)
	}
	if rec.status >= 500 {
		l.logger.Error("downstream request", attrs...)
	} else {
		l.logger.Info("downstream request", attrs...)
	}
}

// statusRecorder captures the status code written by the wrapped handler
// so the logging middleware can report it after the fact.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
