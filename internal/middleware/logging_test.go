package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLoggingMiddleware_LogsMethodAndStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	mw := NewLoggingMiddleware(LoggingConfig{Logger: logger})
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("Mcp-Session-Id", "abc123")
	rw := httptest.NewRecorder()
	handler.ServeHTTP(rw, req)

	output := buf.String()
	if !strings.Contains(output, "POST") || !strings.Contains(output, "418") {
		t.Errorf("log output missing method/status: %s", output)
	}
	if !strings.Contains(output, "abc123") {
		t.Errorf("log output missing session id: %s", output)
	}
}

func TestLoggingMiddleware_ServerErrorLogsAtErrorLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	mw := NewLoggingMiddleware(LoggingConfig{Logger: logger})
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	rw := httptest.NewRecorder()
	handler.ServeHTTP(rw, req)

	if !strings.Contains(buf.String(), "level=ERROR") {
		t.Errorf("expected error-level log, got: %s", buf.String())
	}
}
