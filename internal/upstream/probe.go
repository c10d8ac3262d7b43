package upstream

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/mcpproxy/mcpproxy/internal/config"
)

// probeInitializeBody is a synthetic JSON-RPC initialize request used only
// to classify the transport a URL-bearing upstream speaks; its response is
// discarded once the probe's status code (and, for SSE, content type) is
// observed (spec.md §4.1 "Auto-detection").
var probeInitializeBody = []byte(`{"jsonrpc":"2.0","id":0,"method":"initialize","params":{"protocolVersion":"2025-06-18","capabilities":{},"clientInfo":{"name":"mcpproxy-probe","version":"0"}}}`)

// detectTransport probes url to classify it as streamable-HTTP or SSE,
// trying streamable-HTTP first (spec.md §4.1, §9 "Auto-detection probe").
// The probe must not leak a half-opened connection on failure: every
// response body is closed before returning.
func detectTransport(ctx context.Context, url string, headers map[string]string) (config.TransportKind, error) {
	if ok, err := probeStreamableHTTP(ctx, url, headers); err != nil {
		return "", err
	} else if ok {
		return config.TransportStreamableHTTP, nil
	}
	if ok, err := probeSSE(ctx, url, headers); err != nil {
		return "", err
	} else if ok {
		return config.TransportSSE, nil
	}
	return "", fmt.Errorf("unknownTransport: %s did not respond to a streamable-HTTP or SSE probe", url)
}

func probeStreamableHTTP(ctx context.Context, url string, headers map[string]string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(probeInitializeBody))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	applyHeaders(req, headers)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false, nil
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}

func probeSSE(ctx context.Context, url string, headers map[string]string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "text/event-stream")
	applyHeaders(req, headers)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, nil
	}
	return strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream"), nil
}

func applyHeaders(req *http.Request, headers map[string]string) {
	for k, v := range headers {
		req.Header.Set(k, v)
	}
}
