package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/agentbus/core"
	"github.com/hupe1980/agentbus/logging"
)

// ClientOptions configures a Client.
type ClientOptions struct {
	// Name identifies the server in errors and logs.
	Name string

	// ClientInfo is sent in the initialize request.
	ClientInfo Implementation

	Logger logging.Logger
}

// Client is a JSON-RPC session with one MCP server. Requests from
// concurrent goroutines are multiplexed over the transport and matched to
// their responses by id.
type Client struct {
	name      string
	info      Implementation
	transport Transport
	logger    logging.Logger

	nextID  atomic.Int64
	mu      sync.Mutex
	pending map[int64]chan *message
	readErr error

	initMu sync.Mutex
	init   *InitializeResult

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// requestLogger is implemented by loggers with a dedicated MCP request
// record, such as *logging.StructuredLogger.
type requestLogger interface {
	LogMCPRequest(server, method string, dur time.Duration, err error)
}

// NewClient creates a client over transport. Call Connect before issuing
// requests.
func NewClient(transport Transport, optFns ...func(o *ClientOptions)) *Client {
	opts := ClientOptions{
		Name:       "mcp",
		ClientInfo: Implementation{Name: ClientName, Version: ClientVersion},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	return &Client{
		name:      opts.Name,
		info:      opts.ClientInfo,
		transport: transport,
		logger:    opts.Logger,
		pending:   make(map[int64]chan *message),
		done:      make(chan struct{}),
	}
}

// Connect starts the transport and performs the initialize handshake. On
// failure the transport is closed.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.transport.Start(ctx); err != nil {
		_ = c.transport.Close()
		return &core.ConnectionError{Server: c.name, Op: "start", Err: err}
	}

	go c.readLoop()

	if _, err := c.Initialize(ctx); err != nil {
		_ = c.Close()
		return err
	}
	return nil
}

// Initialize sends the initialize request followed by the initialized
// notification. A session is initialized once; later calls return the
// first result.
func (c *Client) Initialize(ctx context.Context) (*InitializeResult, error) {
	c.initMu.Lock()
	defer c.initMu.Unlock()

	if c.init != nil {
		return c.init, nil
	}

	var res InitializeResult
	err := c.Call(ctx, MethodInitialize, InitializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      c.info,
	}, &res)
	if err != nil {
		if errors.Is(err, core.ErrProtocol) || errors.Is(err, core.ErrConnection) {
			return nil, err
		}
		return nil, &core.ConnectionError{Server: c.name, Op: "initialize", Err: err}
	}

	if err := c.Notify(ctx, MethodInitialized, nil); err != nil {
		return nil, &core.ConnectionError{Server: c.name, Op: "initialize", Err: err}
	}

	c.logger.Info("mcp.session.initialized",
		"server", c.name,
		"server_name", res.ServerInfo.Name,
		"server_version", res.ServerInfo.Version,
		"protocol_version", res.ProtocolVersion,
	)

	c.init = &res
	return c.init, nil
}

// InitializeResult returns the handshake result, or nil before Initialize.
func (c *Client) InitializeResult() *InitializeResult {
	c.initMu.Lock()
	defer c.initMu.Unlock()
	return c.init
}

// Call sends a request and decodes the result into result (which may be
// nil). JSON-RPC error responses become *core.ProtocolError; transport
// failures become *core.ConnectionError.
func (c *Client) Call(ctx context.Context, method string, params, result any) (err error) {
	start := time.Now()
	defer func() { c.logRequest(method, time.Since(start), err) }()

	id := c.nextID.Add(1)
	ch := make(chan *message, 1)

	c.mu.Lock()
	if c.readErr != nil {
		rerr := c.readErr
		c.mu.Unlock()
		return &core.ConnectionError{Server: c.name, Op: method, Err: rerr}
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	frame, err := encode(strconv.FormatInt(id, 10), method, params)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}

	if err := c.transport.Send(ctx, frame); err != nil {
		return &core.ConnectionError{Server: c.name, Op: method, Err: err}
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return &core.ProtocolError{Server: c.name, Method: method, Code: resp.Error.Code, Message: resp.Error.Message}
		}
		if result == nil || len(resp.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return &core.ProtocolError{Server: c.name, Method: method, Code: CodeParseError, Message: "invalid result: " + err.Error()}
		}
		return nil
	case <-c.done:
		return &core.ConnectionError{Server: c.name, Op: method, Err: c.err()}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Notify sends a notification, which has no response.
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	frame, err := encode("", method, params)
	if err != nil {
		return fmt.Errorf("encode %s notification: %w", method, err)
	}
	return c.transport.Send(ctx, frame)
}

func encode(id, method string, params any) ([]byte, error) {
	msg := message{JSONRPC: "2.0", Method: method}
	if id != "" {
		msg.ID = json.RawMessage(id)
	}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		msg.Params = raw
	}
	return json.Marshal(msg)
}

func (c *Client) readLoop() {
	for {
		frame, err := c.transport.Receive()
		if err != nil {
			c.mu.Lock()
			c.readErr = err
			c.mu.Unlock()
			close(c.done)
			c.logger.Debug("mcp.session.closed", "server", c.name, "reason", err.Error())
			return
		}

		var msg message
		if err := json.Unmarshal(frame, &msg); err != nil {
			c.logger.Warn("mcp.frame.invalid", "server", c.name, "error", err.Error())
			continue
		}

		switch {
		case msg.isResponse():
			c.deliver(&msg)
		case msg.isNotification():
			c.logger.Debug("mcp.notification", "server", c.name, "method", msg.Method)
		default:
			c.handleRequest(&msg)
		}
	}
}

func (c *Client) deliver(msg *message) {
	id, ok := msg.numericID()
	if !ok {
		c.logger.Warn("mcp.response.bad_id", "server", c.name, "id", string(msg.ID))
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("mcp.response.unmatched", "server", c.name, "id", id)
		return
	}
	ch <- msg
}

// handleRequest answers server-initiated requests. Only ping is supported.
func (c *Client) handleRequest(msg *message) {
	reply := message{JSONRPC: "2.0", ID: msg.ID}
	if msg.Method == MethodPing {
		reply.Result = json.RawMessage(`{}`)
	} else {
		reply.Error = &RPCError{Code: CodeMethodNotFound, Message: "method not found: " + msg.Method}
	}

	frame, err := json.Marshal(reply)
	if err != nil {
		return
	}
	if err := c.transport.Send(context.Background(), frame); err != nil {
		c.logger.Warn("mcp.reply.failed", "server", c.name, "method", msg.Method, "error", err.Error())
	}
}

func (c *Client) err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readErr
}

func (c *Client) logRequest(method string, dur time.Duration, err error) {
	if rl, ok := c.logger.(requestLogger); ok {
		rl.LogMCPRequest(c.name, method, dur, err)
		return
	}
	if err != nil {
		c.logger.Warn("mcp.request.failed", "server", c.name, "method", method, "duration", dur, "error", err.Error())
		return
	}
	c.logger.Debug("mcp.request", "server", c.name, "method", method, "duration", dur)
}

// Ping checks that the server is responsive.
func (c *Client) Ping(ctx context.Context) error {
	return c.Call(ctx, MethodPing, nil, nil)
}

// ListTools returns every tool, following pagination cursors.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	var tools []Tool
	cursor := ""
	for {
		var page ListToolsResult
		if err := c.Call(ctx, MethodToolsList, listParams(cursor), &page); err != nil {
			return nil, err
		}
		tools = append(tools, page.Tools...)
		if page.NextCursor == "" || page.NextCursor == cursor {
			return tools, nil
		}
		cursor = page.NextCursor
	}
}

// ListPrompts returns every prompt, following pagination cursors.
func (c *Client) ListPrompts(ctx context.Context) ([]Prompt, error) {
	var prompts []Prompt
	cursor := ""
	for {
		var page ListPromptsResult
		if err := c.Call(ctx, MethodPromptsList, listParams(cursor), &page); err != nil {
			return nil, err
		}
		prompts = append(prompts, page.Prompts...)
		if page.NextCursor == "" || page.NextCursor == cursor {
			return prompts, nil
		}
		cursor = page.NextCursor
	}
}

func listParams(cursor string) any {
	if cursor == "" {
		return nil
	}
	return PaginatedParams{Cursor: cursor}
}

// CallTool invokes a tool. A tool failing on the server side is reported
// through CallToolResult.IsError, not as an error.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*CallToolResult, error) {
	var res CallToolResult
	if err := c.Call(ctx, MethodToolsCall, CallToolParams{Name: name, Arguments: args}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetPrompt renders a prompt template.
func (c *Client) GetPrompt(ctx context.Context, name string, args map[string]string) (*GetPromptResult, error) {
	var res GetPromptResult
	if err := c.Call(ctx, MethodPromptsGet, GetPromptParams{Name: name, Arguments: args}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Close closes the transport, failing all pending requests. Safe to call
// repeatedly; later calls return the first result.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.transport.Close()
	})
	return c.closeErr
}

// Done is closed when the session ends.
func (c *Client) Done() <-chan struct{} { return c.done }
