package engine

import (
	"context"
	"sync"

	"github.com/hupe1980/agentbus/agent"
	"github.com/hupe1980/agentbus/core"
)

// UserAgentOptions configures a UserAgent.
type UserAgentOptions struct {
	// History keeps one ExecutionContext across calls, so history and
	// metadata accumulate over a conversation. By default every call is a
	// fresh run with a fresh context.
	History bool
}

// WithHistory makes the UserAgent share one ExecutionContext across calls.
func WithHistory() func(o *UserAgentOptions) {
	return func(o *UserAgentOptions) { o.History = true }
}

// UserAgent is the terminal entry point of a conversation. Each Call
// publishes the input on core.UserInputTopic and returns the run output.
type UserAgent struct {
	engine *Engine
	agents []*agent.Agent
	opts   UserAgentOptions

	mu sync.Mutex
	ec *core.ExecutionContext
}

// UserAgent returns a terminal agent driving agents (or the registered
// agents when none are given).
func (e *Engine) UserAgent(agents ...*agent.Agent) *UserAgent {
	return NewUserAgent(e, agents)
}

// NewUserAgent creates a UserAgent with options.
func NewUserAgent(e *Engine, agents []*agent.Agent, optFns ...func(o *UserAgentOptions)) *UserAgent {
	u := &UserAgent{
		engine: e,
		agents: append([]*agent.Agent(nil), agents...),
	}
	for _, fn := range optFns {
		fn(&u.opts)
	}
	return u
}

// Call runs the agents once with input and returns the run output. Call may
// be invoked repeatedly and concurrently unless History is enabled, in
// which case calls are serialized.
func (u *UserAgent) Call(ctx context.Context, input any) (core.Message, error) {
	res, err := u.CallResult(ctx, input)
	if err != nil {
		return nil, err
	}
	return res.Output, nil
}

// CallResult is Call returning the full RunResult.
func (u *UserAgent) CallResult(ctx context.Context, input any) (*RunResult, error) {
	if !u.opts.History {
		return u.engine.Run(ctx, input, u.agents...)
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if u.ec == nil {
		u.ec = u.engine.NewContext()
	}
	return u.engine.RunWithContext(ctx, u.ec, input, u.agents...)
}

// Context returns the shared ExecutionContext when History is enabled and
// at least one call has been made, nil otherwise.
func (u *UserAgent) Context() *core.ExecutionContext {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.ec
}

// Agent wraps the UserAgent as an agent named name, so a whole bus can be
// used as a stage or tool of another agent.
func (u *UserAgent) Agent(name string, optFns ...func(o *agent.Options)) *agent.Agent {
	return agent.FromFunc(name, agent.MapFunc(func(ctx context.Context, in core.Message) (core.Message, error) {
		return u.Call(ctx, in)
	}), optFns...)
}
