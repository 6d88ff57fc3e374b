package mcp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketOptions configures a WebSocketTransport.
type WebSocketOptions struct {
	Headers          map[string]string
	HandshakeTimeout time.Duration
}

// WebSocketTransport exchanges JSON-RPC frames as websocket text messages.
type WebSocketTransport struct {
	url  string
	opts WebSocketOptions

	conn    *websocket.Conn
	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

// NewWebSocketTransport creates a transport for url (ws:// or wss://).
func NewWebSocketTransport(url string, optFns ...func(o *WebSocketOptions)) *WebSocketTransport {
	opts := WebSocketOptions{
		HandshakeTimeout: 10 * time.Second,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &WebSocketTransport{
		url:    url,
		opts:   opts,
		closed: make(chan struct{}),
	}
}

// Start dials the server.
func (t *WebSocketTransport) Start(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: t.opts.HandshakeTimeout,
		Subprotocols:     []string{"mcp"},
	}

	conn, _, err := dialer.DialContext(ctx, t.url, toHeader(t.opts.Headers))
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	t.conn = conn
	return nil
}

// Send writes frame as one text message.
func (t *WebSocketTransport) Send(ctx context.Context, frame []byte) error {
	select {
	case <-t.closed:
		return ErrTransportClosed
	default:
	}
	if t.conn == nil {
		return fmt.Errorf("transport not started")
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(deadline)
		defer func() { _ = t.conn.SetWriteDeadline(time.Time{}) }()
	}

	if err := t.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("failed to send: %w", err)
	}
	return nil
}

// Receive returns the next text or binary message.
func (t *WebSocketTransport) Receive() ([]byte, error) {
	if t.conn == nil {
		return nil, fmt.Errorf("transport not started")
	}
	for {
		kind, data, err := t.conn.ReadMessage()
		if err != nil {
			select {
			case <-t.closed:
				return nil, ErrTransportClosed
			default:
			}
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return nil, fmt.Errorf("connection closed by server: %w", err)
			}
			return nil, err
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// Close sends a close message and closes the connection. Safe to call
// repeatedly.
func (t *WebSocketTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		if t.conn == nil {
			return
		}

		t.writeMu.Lock()
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		t.writeMu.Unlock()

		err = t.conn.Close()
	})
	return err
}
