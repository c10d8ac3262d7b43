package upstream

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcpproxy/mcpproxy/internal/config"
	"github.com/mcpproxy/mcpproxy/internal/registry"
)

// Manager owns every upstream's connection, reconnect timer, and
// capability discovery, and is the sole writer of the shared registry
// (spec.md §4.4).
type Manager struct {
	registry     *registry.Registry
	reqTimeout   time.Duration
	probeTimeout time.Duration
	reconnect    config.ReconnectConfig

	events chan Event

	mu                 sync.RWMutex
	conns              map[string]*connection
	configs            map[string]config.UpstreamConfig
	retries            map[string]int
	timers             map[string]*time.Timer
	transportOverrides map[string]mcp.Transport
	shutdown           bool
}

// NewManager creates a Manager bound to registry, which it will be the
// only writer of.
func NewManager(reg *registry.Registry, req config.RequestConfig, reconnect config.ReconnectConfig) *Manager {
	m := &Manager{
		registry:     reg,
		reqTimeout:   req.Timeout,
		probeTimeout: req.ProbeTimeout,
		reconnect:    reconnect,
		events:       make(chan Event, 256),
		conns:        make(map[string]*connection),
		configs:      make(map[string]config.UpstreamConfig),
		retries:      make(map[string]int),
		timers:       make(map[string]*time.Timer),
	}
	go m.dispatchEvents()
	return m
}

// dispatchEvents is the single goroutine that observes every connection's
// event stream and reacts, mirroring spec.md §4.4's "Connector handler
// wiring" and §9's "message channel from connector to manager" note.
func (m *Manager) dispatchEvents() {
	for ev := range m.events {
		switch ev.Kind {
		case EventConnected:
			m.onConnected(ev.Upstream)
		case EventDisconnected, EventError:
			m.onDownOrError(ev.Upstream)
		case EventNotification:
			m.onNotification(ev.Upstream, ev.Method)
		}
	}
}

func (m *Manager) onConnected(name string) {
	conn := m.get(name)
	if conn == nil {
		return
	}
	m.discoverAndRegister(name, conn)
	m.resetRetries(name)
}

func (m *Manager) discoverAndRegister(name string, conn *connection) {
	session, err := conn.activeSession()
	if err != nil {
		slog.Warn("capability discovery skipped: connector not connected", "upstream", name, "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.reqTimeout)
	defer cancel()
	found := discoverCapabilities(ctx, name, session)
	m.registry.RegisterTools(name, found.tools)
	m.registry.RegisterResources(name, found.resources)
	m.registry.RegisterPrompts(name, found.prompts)
}

func (m *Manager) onDownOrError(name string) {
	m.registry.ClearUpstream(name)
	m.scheduleReconnect(name)
}

// onNotification re-discovers the originating upstream on a
// tools/resources/prompts list_changed notification (spec.md §9's
// recommended strengthening over the source's acknowledge-only behavior).
func (m *Manager) onNotification(name, method string) {
	if !strings.HasSuffix(method, "list_changed") {
		return
	}
	conn := m.get(name)
	if conn == nil || conn.Status() != StatusConnected {
		return
	}
	m.discoverAndRegister(name, conn)
}

func (m *Manager) get(name string) *connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conns[name]
}

// InitializeConnections spawns an independent connect-and-discover
// attempt for every configured upstream concurrently and waits for all
// to settle (spec.md §4.4 "initializeConnections").
func (m *Manager) InitializeConnections(ctx context.Context, cfgs map[string]config.UpstreamConfig) {
	var wg sync.WaitGroup
	for name, cfg := range cfgs {
		m.mu.Lock()
		m.configs[name] = cfg
		m.mu.Unlock()

		wg.Add(1)
		go func(name string, cfg config.UpstreamConfig) {
			defer wg.Done()
			m.addUpstream(ctx, name, cfg)
		}(name, cfg)
	}
	wg.Wait()
	slog.Info("upstream initialization complete", "configured", len(cfgs))
}

// addUpstream builds the connection for name, stores it in state
// disconnected, and invokes connectUpstream (spec.md §4.4 "addUpstream").
func (m *Manager) addUpstream(ctx context.Context, name string, cfg config.UpstreamConfig) {
	conn := newConnection(name, cfg, m.events)
	m.mu.Lock()
	if override, ok := m.transportOverrides[name]; ok {
		conn.transportOverride = override
	}
	m.conns[name] = conn
	m.mu.Unlock()
	m.connectUpstream(ctx, name)
}

// SetTransportOverride makes InitializeConnections/Reconcile, and every
// later reconnect attempt, connect name over transport directly, bypassing
// buildTransport/detectTransport. Only used by tests to attach a fake
// in-memory upstream server.
func (m *Manager) SetTransportOverride(name string, transport mcp.Transport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.transportOverrides == nil {
		m.transportOverrides = make(map[string]mcp.Transport)
	}
	m.transportOverrides[name] = transport
}

// connectUpstream attempts to connect conn; on failure it schedules a
// reconnect (spec.md §4.4 "connectUpstream").
func (m *Manager) connectUpstream(ctx context.Context, name string) {
	m.mu.RLock()
	conn := m.conns[name]
	override, hasOverride := m.transportOverrides[name]
	m.mu.RUnlock()
	if conn == nil {
		return
	}
	if hasOverride {
		conn.transportOverride = override
	}
	if err := conn.connect(ctx, m.probeTimeout); err != nil {
		slog.Warn("upstream connect failed", "upstream", name, "err", err)
		m.scheduleReconnect(name)
	}
}

// scheduleReconnect arms a single reconnect timer for name if one is not
// already pending (spec.md §4.4 "Reconnection"). Delay grows
// exponentially from the configured initial delay up to the configured
// max, with up to 20% jitter, per §9's recommended strengthening over a
// fixed delay.
func (m *Manager) scheduleReconnect(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shutdown {
		return
	}
	if _, pending := m.timers[name]; pending {
		return
	}

	attempt := m.retries[name]
	m.retries[name] = attempt + 1
	delay := backoffDelay(m.reconnect.InitialDelay, m.reconnect.MaxDelay, attempt)

	m.timers[name] = time.AfterFunc(delay, func() { m.fireReconnect(name) })
}

func backoffDelay(initial, max time.Duration, attempt int) time.Duration {
	if initial <= 0 {
		initial = 2 * time.Second
	}
	if max <= 0 || max < initial {
		max = initial
	}
	delay := initial
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			delay = max
			break
		}
	}
	jitter := time.Duration(rand.Int63n(int64(delay) / 5 + 1))
	return delay + jitter
}

func (m *Manager) fireReconnect(name string) {
	m.mu.Lock()
	delete(m.timers, name)
	_, stillExists := m.conns[name]
	shuttingDown := m.shutdown
	m.mu.Unlock()

	// A race with removal drops the attempt silently (spec.md §4.4).
	if !stillExists || shuttingDown {
		return
	}
	m.connectUpstream(context.Background(), name)
}

func (m *Manager) resetRetries(name string) {
	m.mu.Lock()
	delete(m.retries, name)
	m.mu.Unlock()
}

// Reconcile computes added/removed/updated sets against newConfig and
// applies them: removed upstreams are disconnected synchronously, then
// updated and added upstreams are (re)connected concurrently (spec.md
// §4.4 "updateConnections").
func (m *Manager) Reconcile(ctx context.Context, newConfig map[string]config.UpstreamConfig) {
	m.mu.Lock()
	var removed, updated, added []string
	for name := range m.configs {
		if _, ok := newConfig[name]; !ok {
			removed = append(removed, name)
		}
	}
	for name, cfg := range newConfig {
		if old, ok := m.configs[name]; ok {
			if !configEqual(old, cfg) {
				updated = append(updated, name)
			}
		} else {
			added = append(added, name)
		}
	}
	m.mu.Unlock()

	for _, name := range removed {
		m.removeUpstream(name)
	}

	var wg sync.WaitGroup
	for _, name := range updated {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			m.removeUpstream(name)
			m.mu.Lock()
			m.configs[name] = newConfig[name]
			m.mu.Unlock()
			m.addUpstream(ctx, name, newConfig[name])
		}(name)
	}
	for _, name := range added {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			m.mu.Lock()
			m.configs[name] = newConfig[name]
			m.mu.Unlock()
			m.addUpstream(ctx, name, newConfig[name])
		}(name)
	}
	wg.Wait()
}

// removeUpstream cancels any pending reconnect timer and deletes name's
// table entries, then disconnects its connector and clears its registry
// entries, in that order (spec.md §4.4).
func (m *Manager) removeUpstream(name string) {
	m.mu.Lock()
	conn := m.conns[name]
	if t, ok := m.timers[name]; ok {
		t.Stop()
		delete(m.timers, name)
	}
	delete(m.conns, name)
	delete(m.configs, name)
	delete(m.retries, name)
	m.mu.Unlock()

	if conn != nil {
		conn.disconnect()
	}
	m.registry.ClearUpstream(name)
}

// Records returns a snapshot of every upstream's name, status, last
// error, and most recent connect time, used by the downstream /health
// endpoint (spec.md §3 "Upstream record").
func (m *Manager) Records() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0, len(m.conns))
	for name, conn := range m.conns {
		out = append(out, Record{
			Name:        name,
			Status:      conn.Status(),
			LastError:   conn.LastError(),
			ConnectedAt: conn.ConnectedAt(),
		})
	}
	return out
}

// IsConnected reports whether upstream is currently connected, used by the
// router to distinguish "connector absent or not connected" (a resolution
// failure: an isError result for tool calls, a JSON-RPC error for resource
// reads and prompt gets) from a failure during an in-flight forwarded call
// (spec.md §4.5 "Propagation policy").
func (m *Manager) IsConnected(upstream string) bool {
	conn := m.get(upstream)
	return conn != nil && conn.Status() == StatusConnected
}

// ConnectedCount reports how many upstreams are currently connected.
func (m *Manager) ConnectedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, conn := range m.conns {
		if conn.Status() == StatusConnected {
			n++
		}
	}
	return n
}

// RequestTimeout returns the configured per-request deadline. Capability
// discovery runs under it; the forwarding calls below (CallTool,
// ReadResource, GetPrompt) do not apply it and run under the caller's
// context only, and the router does not apply it either.
func (m *Manager) RequestTimeout() time.Duration { return m.reqTimeout }

// ErrUpstreamUnavailable is returned by the three forwarding calls below
// when the named upstream is absent from the table. An upstream that is in
// the table but not connected yields the connection's own "not connected"
// error instead.
type ErrUpstreamUnavailable struct{ Name string }

func (e *ErrUpstreamUnavailable) Error() string {
	return fmt.Sprintf("upstream %q not found or unavailable", e.Name)
}

// CallTool forwards a tools/call request to upstream (spec.md §4.4
// "routeMessage").
func (m *Manager) CallTool(ctx context.Context, upstream string, params *mcp.CallToolParams) (*mcp.CallToolResult, error) {
	conn := m.get(upstream)
	if conn == nil {
		return nil, &ErrUpstreamUnavailable{Name: upstream}
	}
	return conn.CallTool(ctx, params)
}

// ReadResource forwards a resources/read request to upstream.
func (m *Manager) ReadResource(ctx context.Context, upstream string, params *mcp.ReadResourceParams) (*mcp.ReadResourceResult, error) {
	conn := m.get(upstream)
	if conn == nil {
		return nil, &ErrUpstreamUnavailable{Name: upstream}
	}
	return conn.ReadResource(ctx, params)
}

// GetPrompt forwards a prompts/get request to upstream.
func (m *Manager) GetPrompt(ctx context.Context, upstream string, params *mcp.GetPromptParams) (*mcp.GetPromptResult, error) {
	conn := m.get(upstream)
	if conn == nil {
		return nil, &ErrUpstreamUnavailable{Name: upstream}
	}
	return conn.GetPrompt(ctx, params)
}

// Shutdown cancels all reconnect timers and disconnects every connector
// concurrently, best-effort, then clears the registry (spec.md §4.4
// "shutdown").
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.shutdown = true
	for name, t := range m.timers {
		t.Stop()
		delete(m.timers, name)
	}
	conns := make([]*connection, 0, len(m.conns))
	for _, conn := range m.conns {
		conns = append(conns, conn)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Add(1)
		go func(c *connection) {
			defer wg.Done()
			c.disconnect()
		}(conn)
	}
	wg.Wait()

	m.registry.Clear()
	close(m.events)
}

func configEqual(a, b config.UpstreamConfig) bool {
	if a.Type != b.Type || a.Command != b.Command || a.Cwd != b.Cwd || a.URL != b.URL {
		return false
	}
	if len(a.Args) != len(b.Args) {
		return false
	}
	for i := range a.Args {
		if a.Args[i] != b.Args[i] {
			return false
		}
	}
	return mapEqual(a.Env, b.Env) && mapEqual(a.Headers, b.Headers)
}

func mapEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
