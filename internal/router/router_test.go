package router

import (
	"context"
	"errors"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcpproxy/mcpproxy/internal/registry"
)

type fakeForwarder struct {
	connected   map[string]bool
	callResult  *mcp.CallToolResult
	callErr     error
	readResult  *mcp.ReadResourceResult
	readErr     error
	promptResult *mcp.GetPromptResult
	promptErr   error

	lastUpstream string
	lastParams   any
}

func (f *fakeForwarder) IsConnected(upstream string) bool { return f.connected[upstream] }

func (f *fakeForwarder) CallTool(ctx context.Context, upstream string, params *mcp.CallToolParams) (*mcp.CallToolResult, error) {
	f.lastUpstream, f.lastParams = upstream, params
	return f.callResult, f.callErr
}

func (f *fakeForwarder) ReadResource(ctx context.Context, upstream string, params *mcp.ReadResourceParams) (*mcp.ReadResourceResult, error) {
	f.lastUpstream, f.lastParams = upstream, params
	return f.readResult, f.readErr
}

func (f *fakeForwarder) GetPrompt(ctx context.Context, upstream string, params *mcp.GetPromptParams) (*mcp.GetPromptResult, error) {
	f.lastUpstream, f.lastParams = upstream, params
	return f.promptResult, f.promptErr
}

func setupRegistry() *registry.Registry {
	reg := registry.New()
	reg.RegisterTools("calc", []registry.Tool{{Upstream: "calc", OriginalID: "add", PrefixedID: "calc___add"}})
	reg.RegisterResources("docs", []registry.Resource{{Upstream: "docs", URI: "mem://doc", PrefixedURI: "docs___mem://doc", Name: "doc"}})
	reg.RegisterPrompts("calc", []registry.Prompt{{Upstream: "calc", OriginalID: "greet", PrefixedID: "calc___greet"}})
	return reg
}

func TestListTools_ProjectsPrefixedName(t *testing.T) {
	reg := setupRegistry()
	r := New(reg, &fakeForwarder{connected: map[string]bool{"calc": true}})
	views := r.ListTools()
	if len(views) != 1 || views[0].Name != "calc___add" {
		t.Fatalf("ListTools() = %+v", views)
	}
}

func TestCallTool_UnknownNameReturnsIsErrorResult(t *testing.T) {
	reg := setupRegistry()
	r := New(reg, &fakeForwarder{})
	result, err := r.CallTool(context.Background(), "nope___add", nil)
	if err != nil {
		t.Fatalf("CallTool() error = %v, want nil (isError result instead)", err)
	}
	if !result.IsError {
		t.Fatal("result.IsError = false, want true")
	}
	text, ok := result.Content[0].(*mcp.TextContent)
	if !ok || text.Text != notFoundOrUnavailable {
		t.Fatalf("result.Content = %+v, want %q", result.Content, notFoundOrUnavailable)
	}
}

func TestCallTool_EmptyNameReturnsInvalidParams(t *testing.T) {
	reg := setupRegistry()
	r := New(reg, &fakeForwarder{})
	_, err := r.CallTool(context.Background(), "", nil)
	if err == nil {
		t.Fatal("CallTool() error = nil, want invalidParams")
	}
}

func TestCallTool_NotConnectedReturnsIsErrorResult(t *testing.T) {
	reg := setupRegistry()
	r := New(reg, &fakeForwarder{connected: map[string]bool{}})
	result, err := r.CallTool(context.Background(), "calc___add", nil)
	if err != nil {
		t.Fatalf("CallTool() error = %v, want nil (isError result instead)", err)
	}
	if !result.IsError {
		t.Fatal("result.IsError = false, want true")
	}
	text, ok := result.Content[0].(*mcp.TextContent)
	if !ok || text.Text != notFoundOrUnavailable {
		t.Fatalf("result.Content = %+v, want %q", result.Content, notFoundOrUnavailable)
	}
}

func TestCallTool_UnknownAndNotConnectedAreIndistinguishable(t *testing.T) {
	reg := setupRegistry()
	unknown, err := New(reg, &fakeForwarder{}).CallTool(context.Background(), "nope___add", nil)
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	unavailable, err := New(reg, &fakeForwarder{connected: map[string]bool{}}).CallTool(context.Background(), "calc___add", nil)
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	unknownText := unknown.Content[0].(*mcp.TextContent).Text
	unavailableText := unavailable.Content[0].(*mcp.TextContent).Text
	if unknownText != unavailableText {
		t.Fatalf("unknown tool message %q differs from unavailable message %q; these must be indistinguishable to the client", unknownText, unavailableText)
	}
}

func TestCallTool_ForwardsOriginalName(t *testing.T) {
	reg := setupRegistry()
	fwd := &fakeForwarder{connected: map[string]bool{"calc": true}, callResult: &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: "4"}},
	}}
	r := New(reg, fwd)
	result, err := r.CallTool(context.Background(), "calc___add", map[string]any{"a": 2.0, "b": 2.0})
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	if len(result.Content) != 1 {
		t.Fatalf("result.Content = %+v", result.Content)
	}
	params, ok := fwd.lastParams.(*mcp.CallToolParams)
	if !ok || params.Name != "add" {
		t.Fatalf("forwarded params = %+v, want original name %q", fwd.lastParams, "add")
	}
}

func TestCallTool_ForwardFailureBecomesIsError(t *testing.T) {
	reg := setupRegistry()
	fwd := &fakeForwarder{connected: map[string]bool{"calc": true}, callErr: errors.New("pipe closed")}
	r := New(reg, fwd)
	result, err := r.CallTool(context.Background(), "calc___add", nil)
	if err != nil {
		t.Fatalf("CallTool() error = %v, want nil (isError result instead)", err)
	}
	if !result.IsError {
		t.Fatal("result.IsError = false, want true")
	}
	if len(result.Content) != 1 {
		t.Fatalf("result.Content = %+v", result.Content)
	}
}

func TestCallTool_WrapsResultWithoutContent(t *testing.T) {
	reg := setupRegistry()
	fwd := &fakeForwarder{connected: map[string]bool{"calc": true}, callResult: &mcp.CallToolResult{
		StructuredContent: map[string]any{"sum": 4.0},
	}}
	r := New(reg, fwd)
	result, err := r.CallTool(context.Background(), "calc___add", nil)
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	if len(result.Content) != 1 {
		t.Fatalf("result.Content = %+v, want a single wrapped text entry", result.Content)
	}
}

func TestReadResource_ForwardFailureIsRPCError(t *testing.T) {
	reg := setupRegistry()
	fwd := &fakeForwarder{connected: map[string]bool{"docs": true}, readErr: errors.New("timeout")}
	r := New(reg, fwd)
	_, err := r.ReadResource(context.Background(), "docs___mem://doc")
	if err == nil {
		t.Fatal("ReadResource() error = nil, want internalError")
	}
}

func TestReadResource_ForwardsOriginalURI(t *testing.T) {
	reg := setupRegistry()
	fwd := &fakeForwarder{connected: map[string]bool{"docs": true}, readResult: &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{URI: "mem://doc", Text: "hi"}},
	}}
	r := New(reg, fwd)
	result, err := r.ReadResource(context.Background(), "docs___mem://doc")
	if err != nil {
		t.Fatalf("ReadResource() error = %v", err)
	}
	if len(result.Contents) != 1 || result.Contents[0].Text != "hi" {
		t.Fatalf("result = %+v", result)
	}
	params, ok := fwd.lastParams.(*mcp.ReadResourceParams)
	if !ok || params.URI != "mem://doc" {
		t.Fatalf("forwarded params = %+v, want original uri", fwd.lastParams)
	}
}

func TestGetPrompt_UnknownNameReturnsNotFound(t *testing.T) {
	reg := setupRegistry()
	r := New(reg, &fakeForwarder{})
	_, err := r.GetPrompt(context.Background(), "calc___missing", nil)
	if err == nil {
		t.Fatal("GetPrompt() error = nil, want notFound")
	}
}

func TestGetPrompt_ForwardsOriginalName(t *testing.T) {
	reg := setupRegistry()
	fwd := &fakeForwarder{connected: map[string]bool{"calc": true}, promptResult: &mcp.GetPromptResult{Description: "hi"}}
	r := New(reg, fwd)
	result, err := r.GetPrompt(context.Background(), "calc___greet", map[string]string{"who": "bob"})
	if err != nil {
		t.Fatalf("GetPrompt() error = %v", err)
	}
	if result.Description != "hi" {
		t.Fatalf("result = %+v", result)
	}
	params, ok := fwd.lastParams.(*mcp.GetPromptParams)
	if !ok || params.Name != "greet" {
		t.Fatalf("forwarded params = %+v, want original name", fwd.lastParams)
	}
}
