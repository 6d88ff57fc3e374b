// Package agentbus provides a high-level façade over the execution engine
// and the MCP bridge, enabling rapid construction of agent pipelines. Most
// applications interact with this package by:
//  1. Creating an AgentBus via New() with a default model and logger
//  2. Connecting MCP servers (ConnectMCP) and registering agents
//  3. Running the registered agents (Run), holding conversations over
//     several runs (Chat) or driving them through a UserAgent
//
// The façade delegates routing to engine.Engine and owns the lifetime of
// every MCP session it opened: Shutdown closes them all.
package agentbus

import (
	"context"
	"errors"
	"sync"

	"github.com/hupe1980/agentbus/agent"
	"github.com/hupe1980/agentbus/core"
	"github.com/hupe1980/agentbus/engine"
	"github.com/hupe1980/agentbus/logging"
	"github.com/hupe1980/agentbus/mcp"
	"github.com/hupe1980/agentbus/model"
	"github.com/hupe1980/agentbus/session"
)

// Options configures the AgentBus instance.
type Options struct {
	// Engine configuration (round and call limits)
	EngineConfig engine.Config

	// Model is the default model of prompt agents without their own.
	Model model.Model

	// Observer receives agent call events (defaults to a log observer).
	Observer core.Observer

	// Bridge options applied to every ConnectMCP call.
	BridgeOptions []func(o *mcp.BridgeOptions)

	// SessionStore keeps conversations for Chat (defaults to in-memory).
	SessionStore session.Store

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// AgentBus is the high-level façade aggregating the engine and the MCP
// sessions opened through it.
type AgentBus struct {
	opts   Options
	engine *engine.Engine

	mu      sync.Mutex
	bridges []*mcp.Bridge
}

// New creates a new AgentBus instance with optional overrides.
func New(optFns ...func(o *Options)) *AgentBus {
	opts := Options{
		EngineConfig: engine.DefaultConfig,
		SessionStore: session.NewInMemoryStore(),
		Logger:       logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.SessionStore == nil {
		opts.SessionStore = session.NewInMemoryStore()
	}

	e := engine.New(func(o *engine.Options) {
		o.Config = opts.EngineConfig
		o.Model = opts.Model
		o.Observer = opts.Observer
		o.Logger = opts.Logger
	})

	return &AgentBus{opts: opts, engine: e}
}

// Engine returns the underlying engine.
func (b *AgentBus) Engine() *engine.Engine { return b.engine }

// RegisterAgent adds agents to the default agent set.
func (b *AgentBus) RegisterAgent(agents ...*agent.Agent) { b.engine.Register(agents...) }

// ConnectMCP connects an MCP server and returns its bridge. The bridge is
// shut down with the AgentBus; register it or use it as a tool to expose
// its tools.
func (b *AgentBus) ConnectMCP(ctx context.Context, cfg mcp.ServerConfig) (*mcp.Bridge, error) {
	optFns := append([]func(o *mcp.BridgeOptions){mcp.WithLogger(b.opts.Logger)}, b.opts.BridgeOptions...)

	br, err := mcp.Connect(ctx, cfg, optFns...)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.bridges = append(b.bridges, br)
	b.mu.Unlock()

	return br, nil
}

// Run executes agents (the registered agents when none are given) with
// input and returns the run result.
func (b *AgentBus) Run(ctx context.Context, input any, agents ...*agent.Agent) (*engine.RunResult, error) {
	return b.engine.Run(ctx, input, agents...)
}

// Invoke is Run returning only the run's output.
func (b *AgentBus) Invoke(ctx context.Context, input any, agents ...*agent.Agent) (core.Message, error) {
	res, err := b.engine.Run(ctx, input, agents...)
	if err != nil {
		return nil, err
	}
	return res.Output, nil
}

// Chat runs agents with input inside the conversation sessionID. History
// and metadata of earlier turns of the same conversation are visible to the
// agents. Turns of one conversation should not run concurrently.
func (b *AgentBus) Chat(ctx context.Context, sessionID string, input any, agents ...*agent.Agent) (*engine.RunResult, error) {
	ec := b.opts.SessionStore.Get(sessionID, func() *core.ExecutionContext {
		return b.engine.NewContext()
	})
	return b.engine.RunWithContext(ctx, ec, input, agents...)
}

// EndChat forgets the conversation sessionID.
func (b *AgentBus) EndChat(sessionID string) { b.opts.SessionStore.Delete(sessionID) }

// UserAgent returns a handle for calling agents turn by turn, for example
// from a terminal loop.
func (b *AgentBus) UserAgent(agents []*agent.Agent, optFns ...func(o *engine.UserAgentOptions)) *engine.UserAgent {
	return engine.NewUserAgent(b.engine, agents, optFns...)
}

// Shutdown shuts down the registered agents and every MCP session opened
// through ConnectMCP.
func (b *AgentBus) Shutdown(ctx context.Context) error {
	err := b.engine.Shutdown(ctx)

	b.mu.Lock()
	bridges := b.bridges
	b.bridges = nil
	b.mu.Unlock()

	var errs []error
	for _, br := range bridges {
		errs = append(errs, br.Shutdown(ctx))
	}
	return errors.Join(append([]error{err}, errs...)...)
}
