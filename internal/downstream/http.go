// Package downstream implements the session layer and HTTP surface the
// proxy exposes to MCP clients (spec.md §4.6): a single POST /mcp
// JSON-RPC endpoint plus GET /health and GET /mcp/info. Grounded on the
// teacher's internal/transport.StreamableHTTPTransport for the
// listen/serve/graceful-shutdown lifecycle, and on the SunnyMittal-AI
// calculator server's Transport for session-header handling and method
// routing, since the teacher itself delegates session management
// entirely to the SDK's own streamable handler and has no analogue of
// spec.md's custom session table with idle eviction.
package downstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/mcpproxy/mcpproxy/internal/middleware"
	"github.com/mcpproxy/mcpproxy/internal/registry"
	"github.com/mcpproxy/mcpproxy/internal/router"
	"github.com/mcpproxy/mcpproxy/internal/rpcutil"
	"github.com/mcpproxy/mcpproxy/internal/upstream"
)

// sessionHeader is the header name the MCP Streamable HTTP transport uses
// to carry a session id, matched to the official SDK's casing.
const sessionHeader = "Mcp-Session-Id"

const maxBodyBytes = 1 << 20

// ConnectionStatus is the subset of *upstream.Manager the HTTP surface
// needs for its /health and /mcp/info endpoints.
type ConnectionStatus interface {
	ConnectedCount() int
	Records() []upstream.Record
}

// Config holds the downstream HTTP listener's settings (spec.md §6).
type Config struct {
	Host          string
	Port          int
	NoCORS        bool
	SessionTTL    time.Duration
	SweepInterval time.Duration
}

// Server is the proxy's downstream HTTP surface.
type Server struct {
	cfg      Config
	handlers *handlers
	sessions *sessionStore
	registry *registry.Registry
	status   ConnectionStatus

	httpServer *http.Server
	listener   net.Listener
}

// NewServer builds a Server bound to reg/rtr/status, ready to Serve.
func NewServer(cfg Config, reg *registry.Registry, rtr *router.Router, status ConnectionStatus) *Server {
	return &Server{
		cfg:      cfg,
		handlers: newHandlers(reg, rtr),
		sessions: newSessionStore(cfg.SessionTTL),
		registry: reg,
		status:   status,
	}
}

// Serve starts the HTTP listener and blocks until ctx is cancelled or the
// server fails. It mirrors the teacher's StreamableHTTPTransport.Serve
// shape: listen, serve in a goroutine, select on ctx.Done vs. the serve
// error, and shut down gracefully with a bounded timeout.
func (s *Server) Serve(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", s.handleMCP)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/mcp/info", s.handleInfo)

	var handler http.Handler = mux
	handler = middleware.NewLoggingMiddleware(middleware.LoggingConfig{})(handler)
	if !s.cfg.NoCORS {
		handler = corsMiddleware(handler)
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	sweepInterval := s.cfg.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = 5 * time.Minute
	}
	s.sessions.startSweeper(ctx, sweepInterval)

	errCh := make(chan error, 1)
	go func() {
		if serveErr := s.httpServer.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
			return
		}
		errCh <- nil
	}()

	slog.Info("downstream HTTP server listening", "addr", addr)

	select {
	case <-ctx.Done():
		return s.Close()
	case err := <-errCh:
		return err
	}
}

// Close gracefully shuts down the HTTP server with a bounded timeout.
func (s *Server) Close() error {
	if s.httpServer == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// handleMCP implements spec.md §4.6's session-id handling and request
// dispatch.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req request
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeJSON(w, http.StatusOK, newError(nil, rpcutil.New(rpcutil.KindInternal, "parse error: "+err.Error(), nil)))
		return
	}

	sessionID := r.Header.Get(sessionHeader)
	if req.Method == "initialize" {
		sessionID = s.sessions.create()
	} else {
		if sessionID == "" || !s.sessions.touch(sessionID) {
			s.writeJSON(w, http.StatusOK, newError(req.ID, rpcutil.New(rpcutil.KindInvalidSessionID, "invalid or missing session id", nil)))
			return
		}
	}

	w.Header().Set(sessionHeader, sessionID)

	if req.isNotification() {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	result, rpcErr := s.handlers.dispatch(r.Context(), req.Method, req.Params)
	if rpcErr != nil {
		s.writeJSON(w, http.StatusOK, newError(req.ID, rpcErr))
		return
	}
	s.writeJSON(w, http.StatusOK, newResult(req.ID, result))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("failed to encode downstream response", "err", err)
	}
}

// handleHealth returns registry counts, the connected upstream count, and
// a per-upstream record (status, last error, connected-at) so an operator
// can see why an upstream is down without grepping logs (spec.md §3, §4.6).
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	counts := s.registry.Snapshot()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"tools":     counts.Tools,
		"resources": counts.Resources,
		"prompts":   counts.Prompts,
		"connected": s.status.ConnectedCount(),
		"sessions":  s.sessions.count(),
		"upstreams": upstreamViews(s.status.Records()),
	})
}

// upstreamRecordView is the wire projection of an upstream.Record.
type upstreamRecordView struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	LastError   string `json:"lastError,omitempty"`
	ConnectedAt string `json:"connectedAt,omitempty"`
}

func upstreamViews(records []upstream.Record) []upstreamRecordView {
	views := make([]upstreamRecordView, 0, len(records))
	for _, r := range records {
		view := upstreamRecordView{Name: r.Name, Status: string(r.Status), LastError: r.LastError}
		if !r.ConnectedAt.IsZero() {
			view.ConnectedAt = r.ConnectedAt.UTC().Format(time.RFC3339)
		}
		views = append(views, view)
	}
	return views
}

// handleInfo returns static server identification plus registry counts
// (spec.md §4.6).
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	counts := s.registry.Snapshot()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"name":      serverName,
		"version":   "1",
		"tools":     counts.Tools,
		"resources": counts.Resources,
		"prompts":   counts.Prompts,
		"connected": s.status.ConnectedCount(),
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+sessionHeader)
		w.Header().Set("Access-Control-Expose-Headers", sessionHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
