package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/agentbus/core"
	"github.com/hupe1980/agentbus/internal/util"
	"github.com/hupe1980/agentbus/schema"
)

// ErrToolsFrozen is returned by AddTool once the agent has been called.
var ErrToolsFrozen = errors.New("tools cannot be added after the first call")

// Processor implements the work of an agent. Process receives the validated
// input and returns either data or a transfer to another agent.
type Processor interface {
	Process(ctx context.Context, input core.Message, ec *core.ExecutionContext) (Result, error)
}

// Func is a functional adapter allowing ordinary functions to be used as
// Processors.
type Func func(ctx context.Context, input core.Message, ec *core.ExecutionContext) (Result, error)

// Process implements Processor.
func (f Func) Process(ctx context.Context, input core.Message, ec *core.ExecutionContext) (Result, error) {
	return f(ctx, input, ec)
}

// Options configures an Agent.
//
// Use functional options with New to override defaults.
type Options struct {
	// Description is a human readable summary, exposed to models when the
	// agent is used as a tool.
	Description string

	// InputSchema validates and coerces call input. Defaults to schema.Any().
	InputSchema *schema.Schema

	// OutputSchema validates and coerces process output. Defaults to schema.Any().
	OutputSchema *schema.Schema

	// IncludeInputInOutput merges the validated input under the output
	// (output fields win on collision).
	IncludeInputInOutput bool

	// SubscribeTopic lists the topics this agent consumes on a bus.
	SubscribeTopic []string

	// PublishTopic routes this agent's output on a bus.
	PublishTopic core.PublishTopic

	// Tools are the agents this agent may delegate to.
	Tools []ToolRef

	// DisableLogging suppresses observer events for this agent.
	DisableLogging bool

	// Observer overrides the run's observer for this agent's calls.
	Observer core.Observer

	// OnShutdown releases resources owned by the agent. It may be invoked
	// more than once and must be idempotent.
	OnShutdown func(ctx context.Context) error
}

// Agent is a named, schema-validated unit of work.
//
// Every call follows the same lifecycle:
//  1. A string input is wrapped as {"$message": text}
//  2. The input is validated against InputSchema (passthrough)
//  3. The processor runs
//  4. A transfer result is returned as-is; data is validated against
//     OutputSchema
//  5. With IncludeInputInOutput the validated input is merged underneath
//  6. Before/after events go to the observer unless logging is disabled
//
// An Agent is safe for concurrent calls. Its configuration is immutable,
// except that tools may be added until the first call.
type Agent struct {
	name                 string
	description          string
	inputSchema          *schema.Schema
	outputSchema         *schema.Schema
	includeInputInOutput bool
	subscribeTopic       []string
	publishTopic         core.PublishTopic
	disableLogging       bool
	observer             core.Observer
	onShutdown           func(ctx context.Context) error

	processor Processor

	toolsMu  sync.Mutex
	tools    *Registry
	toolRefs []ToolRef
	called   atomic.Bool
}

// New creates an agent. A nil processor yields an agent that only serves as
// a container for tools; calling it fails with *core.NotCallableError.
func New(name string, processor Processor, optFns ...func(o *Options)) *Agent {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.InputSchema == nil {
		opts.InputSchema = schema.Any()
	}
	if opts.OutputSchema == nil {
		opts.OutputSchema = schema.Any()
	}

	return &Agent{
		name:                 name,
		description:          opts.Description,
		inputSchema:          opts.InputSchema,
		outputSchema:         opts.OutputSchema,
		includeInputInOutput: opts.IncludeInputInOutput,
		subscribeTopic:       append([]string(nil), opts.SubscribeTopic...),
		publishTopic:         opts.PublishTopic,
		disableLogging:       opts.DisableLogging,
		observer:             opts.Observer,
		onShutdown:           opts.OnShutdown,
		processor:            processor,
		toolRefs:             append([]ToolRef(nil), opts.Tools...),
	}
}

// Name returns the agent's name.
func (a *Agent) Name() string { return a.name }

// Description returns the agent's description.
func (a *Agent) Description() string { return a.description }

// InputSchema returns the input schema.
func (a *Agent) InputSchema() *schema.Schema { return a.inputSchema }

// OutputSchema returns the output schema.
func (a *Agent) OutputSchema() *schema.Schema { return a.outputSchema }

// IncludeInputInOutput reports whether input is merged into output.
func (a *Agent) IncludeInputInOutput() bool { return a.includeInputInOutput }

// SubscribeTopic returns a copy of the subscribed topics.
func (a *Agent) SubscribeTopic() []string { return append([]string(nil), a.subscribeTopic...) }

// PublishTopic returns the publish topic configuration.
func (a *Agent) PublishTopic() core.PublishTopic { return a.publishTopic }

// DisableLogging reports whether observer events are suppressed.
func (a *Agent) DisableLogging() bool { return a.disableLogging }

// IsCallable reports whether the agent has a process implementation.
func (a *Agent) IsCallable() bool { return a.processor != nil }

// Tools returns the agent's tool registry, resolving tool references on
// first use. Resolution errors are reported by Call; Tools then returns the
// tools resolved so far.
func (a *Agent) Tools() *Registry {
	r, _ := a.resolveTools()
	return r
}

func (a *Agent) resolveTools() (*Registry, error) {
	a.toolsMu.Lock()
	defer a.toolsMu.Unlock()

	if a.tools != nil {
		return a.tools, nil
	}

	r := NewRegistry()
	for _, ref := range a.toolRefs {
		t, err := ref.resolve()
		if err != nil {
			return r, fmt.Errorf("agent %s: %w", a.name, err)
		}
		r.add(t)
	}
	a.tools = r
	return r, nil
}

// AddTool appends a tool reference. Tools are frozen after the first call.
func (a *Agent) AddTool(ref ToolRef) error {
	a.toolsMu.Lock()
	defer a.toolsMu.Unlock()

	if a.called.Load() {
		return fmt.Errorf("agent %s: %w", a.name, ErrToolsFrozen)
	}

	a.toolRefs = append(a.toolRefs, ref)
	a.tools = nil
	return nil
}

// Call runs one agent invocation. The input is a string or a core.Message.
// A nil ec creates a fresh ExecutionContext. The returned Result is data or
// a transfer; use Invoke to follow transfers to completion.
func (a *Agent) Call(ctx context.Context, input any, ec *core.ExecutionContext) (Result, error) {
	if a.processor == nil {
		return Result{}, &core.NotCallableError{Agent: a.name}
	}

	a.called.Store(true)
	if _, err := a.resolveTools(); err != nil {
		return Result{}, err
	}

	if ec == nil {
		ec = core.NewExecutionContext()
	}

	msg, err := core.ToMessage(input)
	if err != nil {
		return Result{}, fmt.Errorf("agent %s: %w", a.name, err)
	}

	if a.disableLogging {
		return a.call(ctx, msg, ec)
	}

	obs := a.observer
	if obs == nil {
		obs = ec.Observer()
	}

	info := core.CallInfo{
		CallID: util.NewID(),
		RunID:  ec.RunID,
		Agent:  a.name,
		Input:  msg,
		Start:  time.Now(),
	}
	notify(ec, a.name, func() { obs.CallStart(ctx, info) })

	res, err := a.call(ctx, msg, ec)

	outcome := core.CallOutcome{Err: err, Duration: time.Since(info.Start)}
	if err == nil {
		if res.IsTransfer() {
			outcome.Transfer = res.Target().Name()
		} else {
			outcome.Output = res.Output()
		}
	}
	notify(ec, a.name, func() { obs.CallEnd(ctx, info, outcome) })

	return res, err
}

// notify runs an observer callback. A panicking observer is logged and
// otherwise ignored.
func notify(ec *core.ExecutionContext, agent string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			ec.Logger().Warn("agent.observer.panic", "agent", agent, "panic", fmt.Sprint(r))
		}
	}()
	fn()
}

func (a *Agent) call(ctx context.Context, msg core.Message, ec *core.ExecutionContext) (Result, error) {
	parsed, err := a.inputSchema.Validate(msg)
	if err != nil {
		return Result{}, fmt.Errorf("agent %s: invalid input: %w", a.name, err)
	}

	res, err := a.processor.Process(ctx, parsed, ec)
	if err != nil {
		return Result{}, fmt.Errorf("agent %s: %w", a.name, err)
	}

	if res.IsTransfer() {
		if res.target == nil {
			return Result{}, fmt.Errorf("agent %s: transfer to nil agent", a.name)
		}
		res.input = parsed
		return res, nil
	}

	out, err := a.outputSchema.Validate(res.output)
	if err != nil {
		return Result{}, fmt.Errorf("agent %s: invalid output: %w", a.name, err)
	}

	if a.includeInputInOutput {
		out = core.Merge(parsed, out)
	}

	ec.Append(core.HistoryEntry{Agent: a.name, Input: parsed, Output: out})

	return Data(out), nil
}

// Shutdown releases resources owned by the agent. Agents without resources
// return nil. Safe to call repeatedly.
func (a *Agent) Shutdown(ctx context.Context) error {
	if a.onShutdown == nil {
		return nil
	}
	return a.onShutdown(ctx)
}

// String implements fmt.Stringer.
func (a *Agent) String() string { return a.name }
