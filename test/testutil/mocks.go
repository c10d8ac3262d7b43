// Package testutil provides shared test doubles for exercising the proxy
// against an in-memory MCP upstream, without a real child process or
// socket (grounded on the SDK's own mcp.NewInMemoryTransports helper).
package testutil

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// FakeUpstream is a minimal in-process MCP server used as an upstream
// double in tests: it advertises a fixed tool, resource, and prompt set.
// Close simulates an outage; a restart is simulated with a fresh
// FakeUpstream (spec.md §8 end-to-end scenario 3 "Upstream outage").
type FakeUpstream struct {
	Name string

	server    *mcp.Server
	session   *mcp.ServerSession
	toolName  string
	toolArgs  map[string]any
	lastCall  map[string]any
	callCount int
}

// NewFakeUpstream builds a FakeUpstream advertising one tool named
// toolName that records its arguments and replies with a single "ok"
// text content entry.
func NewFakeUpstream(name, toolName string) *FakeUpstream {
	f := &FakeUpstream{Name: name, toolName: toolName}
	f.server = mcp.NewServer(&mcp.Implementation{Name: name, Version: "1"}, nil)
	mcp.AddTool(f.server, &mcp.Tool{
		Name:        toolName,
		Description: "records its arguments and replies ok",
	}, f.handleCall)
	f.server.AddPrompt(&mcp.Prompt{
		Name:        "greet",
		Description: "a canned greeting prompt",
		Arguments:   []*mcp.PromptArgument{{Name: "who", Required: true}},
	}, f.handlePrompt)
	f.server.AddResource(&mcp.Resource{
		URI:         "mem://doc",
		Name:        "doc",
		Description: "a canned resource",
		MIMEType:    "text/plain",
	}, f.handleResource)
	return f
}

func (f *FakeUpstream) handleCall(ctx context.Context, req *mcp.CallToolRequest, args map[string]any) (*mcp.CallToolResult, any, error) {
	f.callCount++
	f.lastCall = args
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: "ok"}},
	}, nil, nil
}

func (f *FakeUpstream) handlePrompt(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	who := req.Params.Arguments["who"]
	return &mcp.GetPromptResult{
		Description: "greeting",
		Messages: []*mcp.PromptMessage{
			{Role: "user", Content: &mcp.TextContent{Text: "hello " + who}},
		},
	}, nil
}

func (f *FakeUpstream) handleResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{URI: req.Params.URI, MIMEType: "text/plain", Text: "contents"}},
	}, nil
}

// Connect starts the fake server on one half of an in-memory transport
// pair and returns the other half for the caller to hand to a client.
func (f *FakeUpstream) Connect(ctx context.Context) (mcp.Transport, error) {
	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	session, err := f.server.Connect(ctx, serverTransport, nil)
	if err != nil {
		return nil, err
	}
	f.session = session
	return clientTransport, nil
}

// Close shuts down the fake server's session, simulating an upstream
// process exit or disconnect.
func (f *FakeUpstream) Close() error {
	if f.session == nil {
		return nil
	}
	return f.session.Close()
}

// CallCount reports how many times the fake tool handler has been invoked.
func (f *FakeUpstream) CallCount() int { return f.callCount }

// LastCallArgs returns the arguments of the most recent tool call.
func (f *FakeUpstream) LastCallArgs() map[string]any { return f.lastCall }
