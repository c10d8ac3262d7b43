// Package upstream manages client-side sessions with MCP upstream
// providers: connecting over stdio, SSE, or streamable HTTP, discovering
// their capabilities, and reconnecting on failure (spec.md §4.1, §4.4).
package upstream

import "time"

// Status is a point in the connector lifecycle (spec.md §4.1 "status machine").
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// EventKind classifies an Event emitted by a connection.
type EventKind string

const (
	EventConnected     EventKind = "connected"
	EventDisconnected  EventKind = "disconnected"
	EventError         EventKind = "error"
	EventNotification  EventKind = "notification"
	EventStatusChanged EventKind = "statusChanged"
)

// Event is emitted by a connection to the Manager observing it.
type Event struct {
	Kind      EventKind
	Upstream  string
	Status    Status
	Err       error
	Method    string // set for EventNotification
	Params    any    // set for EventNotification
	Timestamp time.Time
}

// Record is the manager's public view of one upstream: its resolved
// status and last error, independent of the underlying connector
// (spec.md §3 "Upstream record").
type Record struct {
	Name        string
	Status      Status
	LastError   string
	ConnectedAt time.Time
}
