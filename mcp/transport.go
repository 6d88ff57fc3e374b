package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hupe1980/agentbus/logging"
)

// ErrTransportClosed is returned by Send and Receive after Close.
var ErrTransportClosed = errors.New("transport closed")

// Transport moves JSON-RPC frames between the client and one server.
//
// Start establishes the connection. Send writes one frame; concurrent Sends
// are serialized by the client. Receive blocks until the next frame arrives
// and returns ErrTransportClosed (or io.EOF) once the connection is gone.
// Close is idempotent and unblocks a pending Receive.
type Transport interface {
	Start(ctx context.Context) error
	Send(ctx context.Context, frame []byte) error
	Receive() ([]byte, error)
	Close() error
}

// Transport kinds accepted by ServerConfig.
const (
	TransportStdio     = "stdio"
	TransportSSE       = "sse"
	TransportWebSocket = "websocket"
)

// ServerConfig describes how to reach an MCP server.
type ServerConfig struct {
	// Name identifies the server in logs and errors.
	Name string `yaml:"name" json:"name"`

	// Transport is stdio, sse or websocket. When empty it is inferred:
	// a URL with ws:// or wss:// selects websocket, any other URL sse,
	// and Command selects stdio.
	Transport string `yaml:"transport,omitempty" json:"transport,omitempty"`

	// Command, Args, Dir and Env launch a stdio server. Env entries are
	// added to the parent environment.
	Command string            `yaml:"command,omitempty" json:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Dir     string            `yaml:"dir,omitempty" json:"dir,omitempty"`
	Env     map[string]string `yaml:"env,omitempty" json:"env,omitempty"`

	// URL and Headers reach an sse or websocket server.
	URL     string            `yaml:"url,omitempty" json:"url,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
}

// Kind returns the effective transport kind.
func (c ServerConfig) Kind() string {
	if c.Transport != "" {
		return c.Transport
	}
	switch {
	case strings.HasPrefix(c.URL, "ws://"), strings.HasPrefix(c.URL, "wss://"):
		return TransportWebSocket
	case c.URL != "":
		return TransportSSE
	default:
		return TransportStdio
	}
}

// DisplayName returns Name, falling back to the command or URL.
func (c ServerConfig) DisplayName() string {
	switch {
	case c.Name != "":
		return c.Name
	case c.Command != "":
		return c.Command
	default:
		return c.URL
	}
}

// Validate reports configuration errors.
func (c ServerConfig) Validate() error {
	switch c.Kind() {
	case TransportStdio:
		if c.Command == "" {
			return fmt.Errorf("mcp server %q: stdio transport requires a command", c.Name)
		}
	case TransportSSE, TransportWebSocket:
		if c.URL == "" {
			return fmt.Errorf("mcp server %q: %s transport requires a url", c.Name, c.Kind())
		}
	default:
		return fmt.Errorf("mcp server %q: unsupported transport type: %s", c.Name, c.Transport)
	}
	return nil
}

// NewTransport creates the transport described by cfg. The transport is not
// started.
func NewTransport(cfg ServerConfig, logger logging.Logger) (Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NoOpLogger{}
	}

	switch cfg.Kind() {
	case TransportStdio:
		return NewStdioTransport(cfg.Command, cfg.Args, func(o *StdioOptions) {
			o.Dir = cfg.Dir
			o.Env = cfg.Env
			o.Logger = logger
		}), nil
	case TransportSSE:
		return NewSSETransport(cfg.URL, func(o *SSEOptions) {
			o.Headers = cfg.Headers
			o.Logger = logger
		}), nil
	default:
		return NewWebSocketTransport(cfg.URL, func(o *WebSocketOptions) {
			o.Headers = cfg.Headers
		}), nil
	}
}

func toHeader(m map[string]string) http.Header {
	h := http.Header{}
	for k, v := range m {
		h.Set(k, v)
	}
	return h
}

// defaultCloseGrace is how long Close waits for a process or stream to end
// on its own before forcing it.
const defaultCloseGrace = 2 * time.Second
