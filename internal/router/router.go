// Package router implements the translation layer between a downstream
// invocation of a prefixed capability and the upstream that actually
// serves it (spec.md §4.5). It is pure in structure: no I/O of its own
// beyond delegating to the upstream manager, grounded on the same
// resolve-then-forward shape as the teacher's backend dispatch and the
// T4cceptor-centian reference proxy's DownstreamConnection.CallTool.
package router

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcpproxy/mcpproxy/internal/registry"
	"github.com/mcpproxy/mcpproxy/internal/rpcutil"
)

// Forwarder is the subset of *upstream.Manager the router needs. Kept as
// an interface so tests can exercise routing logic against a lightweight
// fake instead of a live upstream.Manager.
type Forwarder interface {
	IsConnected(upstream string) bool
	CallTool(ctx context.Context, upstream string, params *mcp.CallToolParams) (*mcp.CallToolResult, error)
	ReadResource(ctx context.Context, upstream string, params *mcp.ReadResourceParams) (*mcp.ReadResourceResult, error)
	GetPrompt(ctx context.Context, upstream string, params *mcp.GetPromptParams) (*mcp.GetPromptResult, error)
}

// Router resolves prefixed capability ids against the shared registry and
// forwards invocations to the upstream they belong to.
type Router struct {
	registry *registry.Registry
	manager  Forwarder
}

// New builds a Router bound to reg and manager.
func New(reg *registry.Registry, manager Forwarder) *Router {
	return &Router{registry: reg, manager: manager}
}

// ToolView is a tool record projected to the downstream wire format
// (spec.md §4.5 flow 1: "List").
type ToolView struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"inputSchema"`
}

// ResourceView is a resource record projected to the downstream wire format.
type ResourceView struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MIMEType    string `json:"mimeType,omitempty"`
}

// PromptView is a prompt record projected to the downstream wire format.
type PromptView struct {
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	Arguments   []PromptArgumentView `json:"arguments,omitempty"`
}

// PromptArgumentView is one prompt argument descriptor, unchanged from the
// registry record (spec.md §4.5 flow 1).
type PromptArgumentView struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// ListTools returns every registered tool projected for the wire. The
// prefixed id is the externally visible name.
func (r *Router) ListTools() []ToolView {
	tools := r.registry.GetAllTools()
	views := make([]ToolView, 0, len(tools))
	for _, t := range tools {
		views = append(views, ToolView{Name: t.PrefixedID, Description: t.Description, InputSchema: t.InputSchema})
	}
	return views
}

// ListResources returns every registered resource projected for the wire.
func (r *Router) ListResources() []ResourceView {
	resources := r.registry.GetAllResources()
	views := make([]ResourceView, 0, len(resources))
	for _, res := range resources {
		views = append(views, ResourceView{
			URI: res.PrefixedURI, Name: res.Name, Description: res.Description, MIMEType: res.MIMEType,
		})
	}
	return views
}

// ListPrompts returns every registered prompt projected for the wire.
func (r *Router) ListPrompts() []PromptView {
	prompts := r.registry.GetAllPrompts()
	views := make([]PromptView, 0, len(prompts))
	for _, p := range prompts {
		args := make([]PromptArgumentView, 0, len(p.Arguments))
		for _, a := range p.Arguments {
			args = append(args, PromptArgumentView{Name: a.Name, Description: a.Description, Required: a.Required})
		}
		views = append(views, PromptView{Name: p.PrefixedID, Description: p.Description, Arguments: args})
	}
	return views
}

// notFoundOrUnavailable is returned verbatim for both an unknown prefixed
// tool name and a known tool whose upstream is not connected. The two
// cases are deliberately indistinguishable to the client (spec.md §7): a
// distinct message per case would let a caller infer upstream topology
// from a failed call.
const notFoundOrUnavailable = "tool not found or server unavailable"

// CallTool resolves a prefixed tool name and forwards the call to its
// upstream (spec.md §4.5 flow 2). Unlike resources and prompts, every
// resolution or forwarding failure is folded into a successful result
// carrying isError:true rather than an RPC error (spec.md §8 scenario 2),
// so MCP clients that only inspect `isError` see a uniform shape
// regardless of failure phase. A missing tool name is the one exception:
// it is rejected with an invalidParams RPC error.
func (r *Router) CallTool(ctx context.Context, name string, arguments map[string]any) (*mcp.CallToolResult, error) {
	if name == "" {
		return nil, rpcutil.New(rpcutil.KindInvalidParams, "missing tool name", nil)
	}
	tool, ok := r.registry.GetTool(name)
	if !ok {
		return errorResult(notFoundOrUnavailable), nil
	}
	if !r.manager.IsConnected(tool.Upstream) {
		return errorResult(notFoundOrUnavailable), nil
	}

	result, err := r.manager.CallTool(ctx, tool.Upstream, &mcp.CallToolParams{Name: tool.OriginalID, Arguments: arguments})
	if err != nil {
		return errorResult("Upstream error: " + err.Error()), nil
	}
	return unwrapToolResult(result), nil
}

func errorResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

// unwrapToolResult implements spec.md §4.5 flow 2's unwrap rule: content
// passes through verbatim, otherwise the result's StructuredContent is
// JSON-encoded into a single text content entry (a nil result becomes "{}").
func unwrapToolResult(result *mcp.CallToolResult) *mcp.CallToolResult {
	if result == nil {
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: "{}"}}}
	}
	if len(result.Content) > 0 {
		return result
	}
	encoded, err := json.Marshal(result.StructuredContent)
	if err != nil {
		encoded = []byte(fmt.Sprintf("%v", result.StructuredContent))
	}
	return &mcp.CallToolResult{
		Content:           []mcp.Content{&mcp.TextContent{Text: string(encoded)}},
		StructuredContent: result.StructuredContent,
	}
}

// ReadResource resolves a prefixed resource URI and forwards the read to
// its upstream (spec.md §4.5 flow 3). Unlike tool calls, every failure
// here — resolution or forwarding — is returned as an *rpcutil.Error; the
// propagation policy keeps resource reads on the JSON-RPC error path.
func (r *Router) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	if uri == "" {
		return nil, rpcutil.New(rpcutil.KindInvalidParams, "missing resource uri", nil)
	}
	res, ok := r.registry.GetResource(uri)
	if !ok {
		return nil, rpcutil.New(rpcutil.KindNotFound, fmt.Sprintf("unknown resource %q", uri), nil)
	}
	if !r.manager.IsConnected(res.Upstream) {
		return nil, rpcutil.New(rpcutil.KindUnavailable, fmt.Sprintf("upstream %q is not connected", res.Upstream), nil)
	}

	result, err := r.manager.ReadResource(ctx, res.Upstream, &mcp.ReadResourceParams{URI: res.URI})
	if err != nil {
		return nil, rpcutil.New(rpcutil.KindInternal, "upstream error: "+err.Error(), nil)
	}
	return unwrapResourceResult(result, uri), nil
}

func unwrapResourceResult(result *mcp.ReadResourceResult, prefixedURI string) *mcp.ReadResourceResult {
	if result != nil && len(result.Contents) > 0 {
		return result
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{URI: prefixedURI, MIMEType: "text/plain", Text: "{}"}},
	}
}

// GetPrompt resolves a prefixed prompt name and forwards the request to
// its upstream (spec.md §4.5 flow 4). No special result wrapping applies.
func (r *Router) GetPrompt(ctx context.Context, name string, arguments map[string]string) (*mcp.GetPromptResult, error) {
	if name == "" {
		return nil, rpcutil.New(rpcutil.KindInvalidParams, "missing prompt name", nil)
	}
	prompt, ok := r.registry.GetPrompt(name)
	if !ok {
		return nil, rpcutil.New(rpcutil.KindNotFound, fmt.Sprintf("unknown prompt %q", name), nil)
	}
	if !r.manager.IsConnected(prompt.Upstream) {
		return nil, rpcutil.New(rpcutil.KindUnavailable, fmt.Sprintf("upstream %q is not connected", prompt.Upstream), nil)
	}

	result, err := r.manager.GetPrompt(ctx, prompt.Upstream, &mcp.GetPromptParams{Name: prompt.OriginalID, Arguments: arguments})
	if err != nil {
		return nil, rpcutil.New(rpcutil.KindInternal, "upstream error: "+err.Error(), nil)
	}
	return result, nil
}
