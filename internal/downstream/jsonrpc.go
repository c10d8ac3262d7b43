package downstream

import (
	"encoding/json"

	"github.com/mcpproxy/mcpproxy/internal/rpcutil"
)

// jsonrpcVersion is the only version this server accepts or emits.
const jsonrpcVersion = "2.0"

// request is the wire shape of one JSON-RPC 2.0 request, grounded on the
// same flat envelope other MCP proxies in the retrieval pack parse (e.g.
// the SunnyMittal-AI calculator server's JSONRPCRequest).
type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// isNotification reports whether req carries no id, per JSON-RPC 2.0: a
// request without an id expects no response.
func (r request) isNotification() bool { return r.ID == nil }

// response is the wire shape of one JSON-RPC 2.0 response.
type response struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      any           `json:"id"`
	Result  any           `json:"result,omitempty"`
	Error   *rpcutil.Error `json:"error,omitempty"`
}

func newResult(id any, result any) *response {
	return &response{JSONRPC: jsonrpcVersion, ID: id, Result: result}
}

func newError(id any, err *rpcutil.Error) *response {
	return &response{JSONRPC: jsonrpcVersion, ID: id, Error: err}
}

// callToolParams is the wire shape of tools/call's params.
type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// readResourceParams is the wire shape of resources/read's params.
type readResourceParams struct {
	URI string `json:"uri"`
}

// getPromptParams is the wire shape of prompts/get's params.
type getPromptParams struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments"`
}
