// Package config defines the proxy's configuration model and loader.
package config

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"
)

// TransportKind identifies an upstream's wire transport.
type TransportKind string

const (
	TransportStdio          TransportKind = "stdio"
	TransportSSE            TransportKind = "sse"
	TransportStreamableHTTP TransportKind = "streamable-http"
	// TransportAuto means the variant was left unspecified and must be
	// auto-detected at connect time (spec.md §4.1).
	TransportAuto TransportKind = ""
)

// prefixSeparator is the load-bearing three-character separator between an
// upstream name and a capability's original id (spec.md §3).
const prefixSeparator = "___"

var upstreamNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// AppConfig is the root configuration document.
type AppConfig struct {
	Server    ServerConfig              `koanf:"server"`
	Upstreams map[string]UpstreamConfig `koanf:"mcpServers"`
	Session   SessionConfig             `koanf:"session"`
	Reconnect ReconnectConfig           `koanf:"reconnect"`
	Request   RequestConfig             `koanf:"request"`
}

// ServerConfig holds the downstream HTTP listener settings.
type ServerConfig struct {
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	NoCORS bool   `koanf:"no_cors"`
}

// UpstreamConfig describes one entry under mcpServers (spec.md §6).
type UpstreamConfig struct {
	Type TransportKind `koanf:"type"`

	// stdio
	Command string            `koanf:"command"`
	Args    []string          `koanf:"args"`
	Env     map[string]string `koanf:"env"`
	Cwd     string            `koanf:"cwd"`

	// sse / streamable-http
	URL     string            `koanf:"url"`
	Headers map[string]string `koanf:"headers"`
}

// SessionConfig controls downstream session lifetime (spec.md §4.6).
type SessionConfig struct {
	Timeout       time.Duration `koanf:"timeout"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// ReconnectConfig controls upstream reconnect backoff (spec.md §4.4, §9).
type ReconnectConfig struct {
	InitialDelay time.Duration `koanf:"initial_delay"`
	MaxDelay     time.Duration `koanf:"max_delay"`
}

// RequestConfig controls upstream request timeouts (spec.md §4.1).
type RequestConfig struct {
	Timeout      time.Duration `koanf:"timeout"`
	ProbeTimeout time.Duration `koanf:"probe_timeout"`
}

// DefaultAppConfig returns the defaults consumed as the lowest-precedence
// layer by Load, matching the values spec.md calls out explicitly.
func DefaultAppConfig() AppConfig {
	return AppConfig{
		Server: ServerConfig{
			Host: "localhost",
			Port: 3000,
		},
		Session: SessionConfig{
			Timeout:       30 * time.Minute,
			SweepInterval: 5 * time.Minute,
		},
		Reconnect: ReconnectConfig{
			InitialDelay: 2 * time.Second,
			MaxDelay:     60 * time.Second,
		},
		Request: RequestConfig{
			Timeout:      10 * time.Second,
			ProbeTimeout: 3 * time.Second,
		},
	}
}

// Validate enforces spec.md §6's validator rules.
func (c *AppConfig) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range 1..65535", c.Server.Port)
	}
	if len(c.Upstreams) == 0 {
		return fmt.Errorf("at least one upstream must be configured under mcpServers")
	}

	names := make([]string, 0, len(c.Upstreams))
	for name := range c.Upstreams {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := validateUpstreamName(name); err != nil {
			return err
		}
		if err := c.Upstreams[name].validate(); err != nil {
			return fmt.Errorf("upstream %q: %w", name, err)
		}
	}
	return nil
}

func validateUpstreamName(name string) error {
	if name == "" {
		return fmt.Errorf("upstream name must not be empty")
	}
	if strings.Contains(name, prefixSeparator) {
		return fmt.Errorf("upstream name %q must not contain %q", name, prefixSeparator)
	}
	if !upstreamNamePattern.MatchString(name) {
		return fmt.Errorf("upstream name %q must match [A-Za-z0-9_-]+", name)
	}
	return nil
}

func (u UpstreamConfig) validate() error {
	switch u.Type {
	case TransportStdio:
		if strings.TrimSpace(u.Command) == "" {
			return fmt.Errorf("stdio upstream requires command")
		}
	case TransportSSE, TransportStreamableHTTP:
		return u.validateURL()
	case TransportAuto:
		if strings.TrimSpace(u.Command) != "" {
			return nil // auto-detected stdio is not a thing; command alone implies stdio.
		}
		return u.validateURL()
	default:
		return fmt.Errorf("unknown transport type %q", u.Type)
	}
	return nil
}

func (u UpstreamConfig) validateURL() error {
	if strings.TrimSpace(u.URL) == "" {
		return fmt.Errorf("url is required for transport %q", u.Type)
	}
	if _, err := url.Parse(u.URL); err != nil {
		return fmt.Errorf("invalid url %q: %w", u.URL, err)
	}
	return nil
}

// ResolvedType returns the transport kind connect should use. A bare
// command with no Type defaults to stdio. An explicit "sse" tag still
// routes through the auto-detecting probe, not straight to the SSE
// client, so a server that has since migrated to streamable-HTTP is
// tolerated (spec.md §4.4 addUpstream); only "streamable-http" and
// "stdio" bypass probing.
func (u UpstreamConfig) ResolvedType() TransportKind {
	switch u.Type {
	case TransportStreamableHTTP, TransportStdio:
		return u.Type
	case TransportSSE:
		return TransportAuto
	default:
		if strings.TrimSpace(u.Command) != "" {
			return TransportStdio
		}
		return TransportAuto
	}
}
