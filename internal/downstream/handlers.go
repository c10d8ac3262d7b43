package downstream

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mcpproxy/mcpproxy/internal/registry"
	"github.com/mcpproxy/mcpproxy/internal/router"
	"github.com/mcpproxy/mcpproxy/internal/rpcutil"
)

const serverName = "mcpproxy"

// handlers binds the six request handlers spec.md §4.6 calls out against
// the shared registry and router. Since both dependencies are read-only
// from the handlers' perspective, one instance is built per Server and
// shared by all sessions; no per-session handler set is constructed.
type handlers struct {
	registry *registry.Registry
	router   *router.Router
}

func newHandlers(reg *registry.Registry, r *router.Router) *handlers {
	return &handlers{registry: reg, router: r}
}

// dispatch routes one JSON-RPC method to its handler (spec.md §4.5's four
// router flows, plus initialize/ping which never reach the router).
func (h *handlers) dispatch(ctx context.Context, method string, params json.RawMessage) (any, *rpcutil.Error) {
	switch method {
	case "initialize":
		return h.initialize(), nil
	case "ping":
		return map[string]any{}, nil
	case "tools/list":
		return map[string]any{"tools": h.router.ListTools()}, nil
	case "resources/list":
		return map[string]any{"resources": h.router.ListResources()}, nil
	case "prompts/list":
		return map[string]any{"prompts": h.router.ListPrompts()}, nil
	case "tools/call":
		return h.callTool(ctx, params)
	case "resources/read":
		return h.readResource(ctx, params)
	case "prompts/get":
		return h.getPrompt(ctx, params)
	default:
		return nil, rpcutil.New(rpcutil.KindNotFound, "method not found: "+method, nil)
	}
}

func (h *handlers) initialize() map[string]any {
	counts := h.registry.Snapshot()
	return map[string]any{
		"protocolVersion": "2025-06-18",
		"serverInfo":      map[string]string{"name": serverName, "version": "1"},
		"capabilities": map[string]any{
			"tools":     map[string]any{"listChanged": true},
			"resources": map[string]any{"listChanged": true},
			"prompts":   map[string]any{"listChanged": true},
		},
		"counts": map[string]int{"tools": counts.Tools, "resources": counts.Resources, "prompts": counts.Prompts},
	}
}

func (h *handlers) callTool(ctx context.Context, raw json.RawMessage) (any, *rpcutil.Error) {
	var params callToolParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, rpcutil.New(rpcutil.KindInvalidParams, "malformed tools/call params: "+err.Error(), nil)
	}
	result, err := h.router.CallTool(ctx, params.Name, params.Arguments)
	if err != nil {
		return nil, asRPCError(err)
	}
	return result, nil
}

func (h *handlers) readResource(ctx context.Context, raw json.RawMessage) (any, *rpcutil.Error) {
	var params readResourceParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, rpcutil.New(rpcutil.KindInvalidParams, "malformed resources/read params: "+err.Error(), nil)
	}
	result, err := h.router.ReadResource(ctx, params.URI)
	if err != nil {
		return nil, asRPCError(err)
	}
	return result, nil
}

func (h *handlers) getPrompt(ctx context.Context, raw json.RawMessage) (any, *rpcutil.Error) {
	var params getPromptParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, rpcutil.New(rpcutil.KindInvalidParams, "malformed prompts/get params: "+err.Error(), nil)
	}
	result, err := h.router.GetPrompt(ctx, params.Name, params.Arguments)
	if err != nil {
		return nil, asRPCError(err)
	}
	return result, nil
}

func asRPCError(err error) *rpcutil.Error {
	var rpcErr *rpcutil.Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return rpcutil.FromError(err)
}
