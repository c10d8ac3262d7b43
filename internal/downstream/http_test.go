package downstream

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcpproxy/mcpproxy/internal/registry"
	"github.com/mcpproxy/mcpproxy/internal/router"
	"github.com/mcpproxy/mcpproxy/internal/upstream"
)

// noopForwarder reports every upstream connected but never actually forwards;
// the handler tests here exercise session/dispatch plumbing, not forwarding.
type noopForwarder struct{}

func (noopForwarder) IsConnected(string) bool { return true }
func (noopForwarder) CallTool(ctx context.Context, upstream string, params *mcp.CallToolParams) (*mcp.CallToolResult, error) {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: "ok"}}}, nil
}
func (noopForwarder) ReadResource(ctx context.Context, upstream string, params *mcp.ReadResourceParams) (*mcp.ReadResourceResult, error) {
	return &mcp.ReadResourceResult{Contents: []*mcp.ResourceContents{{URI: params.URI, Text: "ok"}}}, nil
}
func (noopForwarder) GetPrompt(ctx context.Context, upstream string, params *mcp.GetPromptParams) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{Description: "ok"}, nil
}

type fakeStatus struct {
	n       int
	records []upstream.Record
}

func (f fakeStatus) ConnectedCount() int        { return f.n }
func (f fakeStatus) Records() []upstream.Record { return f.records }

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	reg := registry.New()
	reg.RegisterTools("calc", []registry.Tool{{Upstream: "calc", OriginalID: "add", PrefixedID: "calc___add"}})
	rtr := router.New(reg, noopForwarder{})
	srv := NewServer(Config{SessionTTL: time.Minute, SweepInterval: time.Minute}, reg, rtr, fakeStatus{n: 1})
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", srv.handleMCP)
	mux.HandleFunc("/health", srv.handleHealth)
	mux.HandleFunc("/mcp/info", srv.handleInfo)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body any, sessionID string) (*http.Response, map[string]any) {
	t.Helper()
	encoded, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("http.NewRequest() error = %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set(sessionHeader, sessionID)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestHandleMCP_InitializeStartsSession(t *testing.T) {
	ts := newTestServer(t)
	resp, body := postJSON(t, ts.URL+"/mcp", map[string]any{"jsonrpc": "2.0", "id": 1, "method": "initialize"}, "")
	if resp.Header.Get(sessionHeader) == "" {
		t.Error("response missing session header")
	}
	if body["error"] != nil {
		t.Errorf("unexpected error: %v", body["error"])
	}
}

func TestHandleMCP_MissingSessionIDRejected(t *testing.T) {
	ts := newTestServer(t)
	_, body := postJSON(t, ts.URL+"/mcp", map[string]any{"jsonrpc": "2.0", "id": 1, "method": "tools/list"}, "")
	errObj, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error object, got %+v", body)
	}
	if int(errObj["code"].(float64)) != -32602 {
		t.Errorf("code = %v, want -32602", errObj["code"])
	}
}

func TestHandleMCP_ToolsListAfterInitialize(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := postJSON(t, ts.URL+"/mcp", map[string]any{"jsonrpc": "2.0", "id": 1, "method": "initialize"}, "")
	sid := resp.Header.Get(sessionHeader)

	_, body := postJSON(t, ts.URL+"/mcp", map[string]any{"jsonrpc": "2.0", "id": 2, "method": "tools/list"}, sid)
	result, ok := body["result"].(map[string]any)
	if !ok {
		t.Fatalf("expected result object, got %+v", body)
	}
	tools, ok := result["tools"].([]any)
	if !ok || len(tools) != 1 {
		t.Fatalf("tools = %+v", result["tools"])
	}
}

func TestHandleMCP_UnknownMethodReturnsMethodNotFound(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := postJSON(t, ts.URL+"/mcp", map[string]any{"jsonrpc": "2.0", "id": 1, "method": "initialize"}, "")
	sid := resp.Header.Get(sessionHeader)

	_, body := postJSON(t, ts.URL+"/mcp", map[string]any{"jsonrpc": "2.0", "id": 2, "method": "bogus/method"}, sid)
	errObj, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error object, got %+v", body)
	}
	if int(errObj["code"].(float64)) != -32601 {
		t.Errorf("code = %v, want -32601", errObj["code"])
	}
}

func TestHandleHealth_ReportsConnectedCount(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer resp.Body.Close()
	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if int(body["connected"].(float64)) != 1 {
		t.Errorf("connected = %v, want 1", body["connected"])
	}
}

func TestHandleHealth_ReportsUpstreamRecords(t *testing.T) {
	reg := registry.New()
	reg.RegisterTools("calc", []registry.Tool{{Upstream: "calc", OriginalID: "add", PrefixedID: "calc___add"}})
	rtr := router.New(reg, noopForwarder{})
	status := fakeStatus{n: 1, records: []upstream.Record{
		{Name: "calc", Status: upstream.StatusConnected},
		{Name: "docs", Status: upstream.StatusError, LastError: "dial tcp: connection refused"},
	}}
	srv := NewServer(Config{SessionTTL: time.Minute, SweepInterval: time.Minute}, reg, rtr, status)
	mux := http.NewServeMux()
	mux.HandleFunc("/health", srv.handleHealth)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer resp.Body.Close()
	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)

	upstreams, ok := body["upstreams"].([]any)
	if !ok || len(upstreams) != 2 {
		t.Fatalf("upstreams = %+v", body["upstreams"])
	}
	docs := upstreams[1].(map[string]any)
	if docs["name"] != "docs" || docs["lastError"] != "dial tcp: connection refused" {
		t.Errorf("docs record = %+v", docs)
	}
}
