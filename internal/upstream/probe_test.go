package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mcpproxy/mcpproxy/internal/config"
)

func TestDetectTransport_StreamableHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":0,"result":{}}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	kind, err := detectTransport(ctx, srv.URL, nil)
	if err != nil {
		t.Fatalf("detectTransport() error = %v", err)
	}
	if kind != config.TransportStreamableHTTP {
		t.Errorf("detectTransport() = %q, want streamable-http", kind)
	}
}

func TestDetectTransport_SSE(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	kind, err := detectTransport(ctx, srv.URL, nil)
	if err != nil {
		t.Fatalf("detectTransport() error = %v", err)
	}
	if kind != config.TransportSSE {
		t.Errorf("detectTransport() = %q, want sse", kind)
	}
}

func TestDetectTransport_BothFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := detectTransport(ctx, srv.URL, nil); err == nil {
		t.Error("detectTransport() error = nil, want unknownTransport error")
	}
}
