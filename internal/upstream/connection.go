package upstream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcpproxy/mcpproxy/internal/config"
)

// connection owns one upstream's mcp.Client/mcp.ClientSession pair and
// tracks its status. It is the Go analogue of spec.md §4.1's "base
// connector": request/response correlation and framing are delegated
// entirely to the real SDK transports, so connection's own job is
// lifecycle (connect/disconnect/status) plus the thin passthrough calls
// the router needs.
type connection struct {
	name   string
	cfg    config.UpstreamConfig
	events chan<- Event

	mu          sync.RWMutex
	status      Status
	lastErr     string
	connectedAt time.Time
	client      *mcp.Client
	session     *mcp.ClientSession

	// transportOverride bypasses buildTransport/detectTransport entirely
	// when set, so tests can connect to an in-memory fake upstream server
	// without a real process or socket.
	transportOverride mcp.Transport
}

func newConnection(name string, cfg config.UpstreamConfig, events chan<- Event) *connection {
	return &connection{name: name, cfg: cfg, events: events, status: StatusDisconnected}
}

func (c *connection) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *connection) setStatus(s Status, errMsg string) {
	c.mu.Lock()
	c.status = s
	c.lastErr = errMsg
	if s == StatusConnected {
		c.connectedAt = time.Now()
	}
	c.mu.Unlock()
	c.emit(Event{Kind: EventStatusChanged, Upstream: c.name, Status: s, Timestamp: time.Now()})
}

// LastError returns the message recorded with the current status: the
// failure message while in StatusError, "" after a status change that
// carried no error (spec.md §3 "Upstream record").
func (c *connection) LastError() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// ConnectedAt returns the timestamp of the connector's most recent
// successful connect, or the zero time if it has never connected.
func (c *connection) ConnectedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connectedAt
}

func (c *connection) emit(ev Event) {
	if c.events == nil {
		return
	}
	select {
	case c.events <- ev:
	default:
	}
}

// connect resolves the transport (probing when the config omits a
// variant tag), opens the session, and wires the notification handler
// that re-emits upstream notifications at manager scope (spec.md §4.4
// "Connector handler wiring").
func (c *connection) connect(ctx context.Context, probeTimeout time.Duration) error {
	c.setStatus(StatusConnecting, "")

	transport := c.transportOverride
	if transport == nil {
		kind := c.cfg.ResolvedType()
		if kind == config.TransportAuto {
			probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
			detected, err := detectTransport(probeCtx, c.cfg.URL, c.cfg.Headers)
			cancel()
			if err != nil {
				c.fail(err)
				return err
			}
			kind = detected
		}

		built, err := buildTransport(kind, c.cfg)
		if err != nil {
			c.fail(err)
			return err
		}
		transport = built
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "mcpproxy", Version: "1"}, &mcp.ClientOptions{
		ToolListChangedHandler: func(_ context.Context, req *mcp.ToolListChangedRequest) {
			c.emit(Event{Kind: EventNotification, Upstream: c.name, Method: "notifications/tools/list_changed", Params: req.Params, Timestamp: time.Now()})
		},
		ResourceListChangedHandler: func(_ context.Context, req *mcp.ResourceListChangedRequest) {
			c.emit(Event{Kind: EventNotification, Upstream: c.name, Method: "notifications/resources/list_changed", Params: req.Params, Timestamp: time.Now()})
		},
		PromptListChangedHandler: func(_ context.Context, req *mcp.PromptListChangedRequest) {
			c.emit(Event{Kind: EventNotification, Upstream: c.name, Method: "notifications/prompts/list_changed", Params: req.Params, Timestamp: time.Now()})
		},
	})

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		c.fail(err)
		return err
	}

	c.mu.Lock()
	c.client = client
	c.session = session
	c.mu.Unlock()

	c.setStatus(StatusConnected, "")
	c.emit(Event{Kind: EventConnected, Upstream: c.name, Status: StatusConnected, Timestamp: time.Now()})

	// Report the upstream going away on its own (process exit, closed
	// stream) as a disconnect; an explicit disconnect() clears c.session
	// first, so it is not reported twice.
	go func() {
		_ = session.Wait()
		c.mu.Lock()
		current := c.session == session
		if current {
			c.session = nil
			c.client = nil
		}
		c.mu.Unlock()
		if current {
			c.setStatus(StatusDisconnected, "upstream session closed")
			c.emit(Event{Kind: EventDisconnected, Upstream: c.name, Status: StatusDisconnected, Timestamp: time.Now()})
		}
	}()
	return nil
}

func (c *connection) fail(err error) {
	c.setStatus(StatusError, err.Error())
	c.emit(Event{Kind: EventError, Upstream: c.name, Status: StatusError, Err: err, Timestamp: time.Now()})
}

// disconnect closes the session, if any, and marks the connection
// disconnected. Safe to call on an already-disconnected connection.
func (c *connection) disconnect() {
	c.mu.Lock()
	session := c.session
	c.session = nil
	c.client = nil
	c.mu.Unlock()

	if session != nil {
		_ = session.Close()
	}
	c.setStatus(StatusDisconnected, "")
	c.emit(Event{Kind: EventDisconnected, Upstream: c.name, Status: StatusDisconnected, Timestamp: time.Now()})
}

func (c *connection) activeSession() (*mcp.ClientSession, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.status != StatusConnected || c.session == nil {
		return nil, fmt.Errorf("upstream %q is not connected", c.name)
	}
	return c.session, nil
}

func (c *connection) CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error) {
	session, err := c.activeSession()
	if err != nil {
		return nil, err
	}
	return session.CallTool(ctx, params)
}

func (c *connection) ReadResource(ctx context.Context, params *mcp.ReadResourceParams) (*mcp.ReadResourceResult, error) {
	session, err := c.activeSession()
	if err != nil {
		return nil, err
	}
	return session.ReadResource(ctx, params)
}

func (c *connection) GetPrompt(ctx context.Context, params *mcp.GetPromptParams) (*mcp.GetPromptResult, error) {
	session, err := c.activeSession()
	if err != nil {
		return nil, err
	}
	return session.GetPrompt(ctx, params)
}
