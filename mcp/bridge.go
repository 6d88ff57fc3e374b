package mcp

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/hupe1980/agentbus/agent"
	"github.com/hupe1980/agentbus/core"
	"github.com/hupe1980/agentbus/internal/util"
	"github.com/hupe1980/agentbus/logging"
	"github.com/hupe1980/agentbus/schema"
)

// DefaultStartupTimeout bounds connecting, the handshake and discovery.
const DefaultStartupTimeout = 30 * time.Second

// BridgeOptions configures a Bridge.
type BridgeOptions struct {
	// Options configures the bridge agent itself (description, topics,
	// logging). Tools are set by discovery.
	agent.Options

	// StartupTimeout bounds connecting, the handshake and discovery.
	StartupTimeout time.Duration

	Logger logging.Logger

	// RateLimit throttles tool calls (0 = unlimited).
	RateLimit rate.Limit
	RateBurst int

	// ToolOptions configures the agent of each discovered tool, for example
	// to subscribe it to topics. A nil result leaves the defaults.
	ToolOptions func(t Tool) func(o *agent.Options)
}

// WithStartupTimeout sets BridgeOptions.StartupTimeout.
func WithStartupTimeout(d time.Duration) func(o *BridgeOptions) {
	return func(o *BridgeOptions) { o.StartupTimeout = d }
}

// WithLogger sets the bridge and session logger.
func WithLogger(l logging.Logger) func(o *BridgeOptions) {
	return func(o *BridgeOptions) { o.Logger = l }
}

// WithRateLimit throttles tool calls to limit per second with burst.
func WithRateLimit(limit rate.Limit, burst int) func(o *BridgeOptions) {
	return func(o *BridgeOptions) {
		o.RateLimit = limit
		o.RateBurst = burst
	}
}

// WithToolOptions sets BridgeOptions.ToolOptions.
func WithToolOptions(fn func(t Tool) func(o *agent.Options)) func(o *BridgeOptions) {
	return func(o *BridgeOptions) { o.ToolOptions = fn }
}

// Bridge exposes an MCP server as agents. The bridge agent is not callable;
// its tools are one agent per server tool, and Prompts holds one agent per
// server prompt.
//
// Tool agents return the server result as {content, isError,
// structuredContent}. A tool that failed on the server side is data with
// isError set, not an error; see ToolError. Prompt agents return
// {description, messages}.
type Bridge struct {
	*agent.Agent

	client     *Client
	serverName string
	prompts    *agent.Registry
	limiter    *rate.Limiter
	logger     logging.Logger
	toolOpts   func(t Tool) func(o *agent.Options)

	shutdownOnce sync.Once
}

// Connect creates the transport described by cfg and bridges the server.
func Connect(ctx context.Context, cfg ServerConfig, optFns ...func(o *BridgeOptions)) (*Bridge, error) {
	opts := BridgeOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	transport, err := NewTransport(cfg, opts.Logger)
	if err != nil {
		return nil, &core.ConnectionError{Server: cfg.DisplayName(), Op: "configure", Err: err}
	}

	return NewBridge(ctx, cfg.DisplayName(), transport, optFns...)
}

// NewBridge starts transport, performs the handshake and discovers tools
// and prompts. On failure the transport is torn down and no bridge is
// returned.
func NewBridge(ctx context.Context, name string, transport Transport, optFns ...func(o *BridgeOptions)) (*Bridge, error) {
	opts := BridgeOptions{
		StartupTimeout: DefaultStartupTimeout,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	startCtx := ctx
	if opts.StartupTimeout > 0 {
		var cancel context.CancelFunc
		startCtx, cancel = context.WithTimeout(ctx, opts.StartupTimeout)
		defer cancel()
	}

	client := NewClient(transport, func(o *ClientOptions) {
		o.Name = name
		o.Logger = opts.Logger
	})

	if err := client.Connect(startCtx); err != nil {
		opts.Logger.Error("mcp.connect.failed", "server", name, "error", err.Error())
		return nil, err
	}

	init := client.InitializeResult()

	b := &Bridge{
		client:     client,
		serverName: fmt.Sprintf("%s@%s", init.ServerInfo.Name, init.ServerInfo.Version),
		logger:     opts.Logger,
		toolOpts:   opts.ToolOptions,
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst < 1 {
			burst = 1
		}
		b.limiter = rate.NewLimiter(opts.RateLimit, burst)
	}

	var (
		tools   []Tool
		prompts []Prompt
	)

	g, gctx := errgroup.WithContext(startCtx)
	if init.Capabilities.Tools != nil {
		g.Go(func() error {
			var err error
			tools, err = client.ListTools(gctx)
			return err
		})
	}
	if init.Capabilities.Prompts != nil {
		g.Go(func() error {
			var err error
			prompts, err = client.ListPrompts(gctx)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		_ = client.Close()
		opts.Logger.Error("mcp.discovery.failed", "server", name, "error", err.Error())
		return nil, err
	}

	toolRefs := make([]agent.ToolRef, 0, len(tools))
	for _, t := range tools {
		toolRefs = append(toolRefs, agent.AgentTool(b.toolAgent(t)))
	}

	promptAgents := make([]*agent.Agent, 0, len(prompts))
	for _, p := range prompts {
		promptAgents = append(promptAgents, b.promptAgent(p))
	}
	b.prompts = agent.NewRegistry(promptAgents...)

	bridgeOpts := opts.Options
	bridgeOpts.Tools = toolRefs
	if bridgeOpts.Description == "" {
		bridgeOpts.Description = init.Instructions
	}
	if bridgeOpts.Description == "" {
		bridgeOpts.Description = "MCP server " + b.serverName
	}
	bridgeOpts.OnShutdown = b.Shutdown

	b.Agent = agent.New(name, nil, func(o *agent.Options) { *o = bridgeOpts })

	opts.Logger.Info("mcp.bridge.ready",
		"server", name,
		"server_name", b.serverName,
		"tools", len(tools),
		"prompts", len(prompts),
	)

	return b, nil
}

func (b *Bridge) toolAgent(t Tool) *agent.Agent {
	in, err := schema.FromJSONSchema(t.InputSchema)
	if err != nil {
		b.logger.Warn("mcp.tool.schema_unsupported", "server", b.serverName, "tool", t.Name, "error", err.Error())
		in = schema.Any()
	}

	optFns := []func(o *agent.Options){func(o *agent.Options) {
		o.Description = t.Description
		o.InputSchema = in
	}}
	if b.toolOpts != nil {
		if fn := b.toolOpts(t); fn != nil {
			optFns = append(optFns, fn)
		}
	}

	name := t.Name
	return agent.FromFunc(name, func(ctx context.Context, input core.Message, _ *core.ExecutionContext) (agent.Result, error) {
		if b.limiter != nil {
			if err := b.limiter.Wait(ctx); err != nil {
				return agent.Result{}, err
			}
		}

		start := time.Now()
		res, err := b.client.CallTool(ctx, name, input)
		b.logToolCall(name, time.Since(start), res, err)
		if err != nil {
			return agent.Result{}, err
		}

		out, err := util.ToMap(res)
		if err != nil {
			return agent.Result{}, err
		}
		out["isError"] = res.IsError
		if _, ok := out["content"]; !ok {
			out["content"] = []any{}
		}
		return agent.Data(out), nil
	}, optFns...)
}

// toolCallLogger is implemented by *logging.StructuredLogger.
type toolCallLogger interface {
	LogToolCall(tool string, dur time.Duration, success bool, err error)
}

func (b *Bridge) logToolCall(tool string, dur time.Duration, res *CallToolResult, err error) {
	success := err == nil && !res.IsError
	if err == nil && res.IsError {
		err = &core.ToolExecutionError{Tool: tool, Message: res.Text()}
	}
	if tl, ok := b.logger.(toolCallLogger); ok {
		tl.LogToolCall(tool, dur, success, err)
		return
	}
	args := []any{"server", b.serverName, "tool", tool, "duration", dur, "success", success}
	if err != nil {
		args = append(args, "error", err.Error())
	}
	b.logger.Debug("mcp.tool.call", args...)
}

func (b *Bridge) promptAgent(p Prompt) *agent.Agent {
	props := make(map[string]*schema.Schema, len(p.Arguments))
	var required []string
	for _, arg := range p.Arguments {
		props[arg.Name] = schema.String().WithDescription(arg.Description)
		if arg.Required {
			required = append(required, arg.Name)
		}
	}

	name := p.Name
	return agent.FromFunc(name, agent.MapFunc(func(ctx context.Context, input core.Message) (core.Message, error) {
		args := make(map[string]string, len(p.Arguments))
		for _, arg := range p.Arguments {
			v, ok := input[arg.Name]
			if !ok || v == nil {
				continue
			}
			args[arg.Name] = fmt.Sprint(v)
		}

		res, err := b.client.GetPrompt(ctx, name, args)
		if err != nil {
			return nil, err
		}
		return util.ToMap(res)
	}), func(o *agent.Options) {
		o.Description = p.Description
		o.InputSchema = schema.Object(props, required...)
	})
}

// Client returns the underlying session.
func (b *Bridge) Client() *Client { return b.client }

// ServerName returns "name@version" as reported by the server.
func (b *Bridge) ServerName() string { return b.serverName }

// Prompts returns the prompt agents.
func (b *Bridge) Prompts() *agent.Registry { return b.prompts }

// Shutdown closes the session and ends the server process or stream. Only
// the first call has an effect; failures are logged, not returned.
func (b *Bridge) Shutdown(context.Context) error {
	b.shutdownOnce.Do(func() {
		if err := b.client.Close(); err != nil {
			b.logger.Warn("mcp.shutdown.failed", "server", b.serverName, "error", err.Error())
			return
		}
		b.logger.Debug("mcp.shutdown", "server", b.serverName)
	})
	return nil
}

// ToolError converts a tool agent output flagged with isError into a
// *core.ToolExecutionError. It returns nil for successful outputs.
func ToolError(tool string, output core.Message) error {
	flagged, _ := output["isError"].(bool)
	if !flagged {
		return nil
	}

	var parts []string
	if blocks, ok := output["content"].([]any); ok {
		for _, b := range blocks {
			m, ok := b.(map[string]any)
			if !ok || m["type"] != "text" {
				continue
			}
			if s, ok := m["text"].(string); ok && s != "" {
				parts = append(parts, s)
			}
		}
	}

	msg := strings.Join(parts, "\n")
	if msg == "" {
		msg = "unknown error"
	}
	return &core.ToolExecutionError{Tool: tool, Message: msg}
}
