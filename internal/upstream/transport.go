package upstream

import (
	"fmt"
	"net/http"
	"os"
	"os/exec"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcpproxy/mcpproxy/internal/config"
)

// buildTransport constructs the concrete mcp.Transport for kind. Callers
// resolve TransportAuto to a concrete kind (via probing) before calling
// this for sse/streamable-http; stdio never needs resolution.
func buildTransport(kind config.TransportKind, cfg config.UpstreamConfig) (mcp.Transport, error) {
	switch kind {
	case config.TransportStdio:
		cmd := exec.Command(cfg.Command, cfg.Args...)
		cmd.Dir = cfg.Cwd
		cmd.Env = mergeEnv(os.Environ(), cfg.Env)
		return &mcp.CommandTransport{Command: cmd}, nil
	case config.TransportSSE:
		return &mcp.SSEClientTransport{
			Endpoint:   cfg.URL,
			HTTPClient: headerClient(cfg.Headers),
		}, nil
	case config.TransportStreamableHTTP:
		return &mcp.StreamableClientTransport{
			Endpoint:   cfg.URL,
			HTTPClient: headerClient(cfg.Headers),
		}, nil
	default:
		return nil, fmt.Errorf("unresolved transport kind %q", kind)
	}
}

func mergeEnv(base []string, overlay map[string]string) []string {
	if len(overlay) == 0 {
		return base
	}
	merged := append([]string{}, base...)
	for k, v := range overlay {
		merged = append(merged, k+"="+v)
	}
	return merged
}

// headerClient returns an *http.Client that injects headers on every
// request, or nil (letting the transport fall back to its default
// client) when there are none to add.
func headerClient(headers map[string]string) *http.Client {
	if len(headers) == 0 {
		return nil
	}
	return &http.Client{Transport: &headerRoundTripper{headers: headers}}
}

type headerRoundTripper struct {
	headers map[string]string
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	for k, v := range h.headers {
		clone.Header.Set(k, v)
	}
	return http.DefaultTransport.RoundTrip(clone)
}
