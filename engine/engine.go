package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agentbus/agent"
	"github.com/hupe1980/agentbus/core"
	"github.com/hupe1980/agentbus/logging"
	"github.com/hupe1980/agentbus/model"
)

var (
	// ErrNoAgents is returned by Run when neither the call nor the engine
	// supplies any agents.
	ErrNoAgents = errors.New("no agents to run")

	// ErrMaxRounds is matched by the error returned when a run keeps
	// publishing after Config.MaxRounds delivery rounds.
	ErrMaxRounds = errors.New("max rounds exceeded")
)

// Config defines tuning parameters for the Engine's operational behavior.
type Config struct {
	// MaxRounds bounds the number of delivery rounds of a topic run, which
	// guards against publish cycles. Must be positive.
	MaxRounds int

	// MaxCalls bounds the number of agent deliveries per run (0 = unlimited).
	MaxCalls int
}

// DefaultConfig provides the default configuration values.
var DefaultConfig = Config{
	MaxRounds: 64,
}

// Options configures an Engine instance using the functional options pattern.
//
// Example:
//
//	eng := engine.New(
//	    engine.WithModel(openai.NewModel()),
//	    engine.WithLogger(logger),
//	    engine.WithAgents(mapper, reviewer),
//	)
type Options struct {
	// Config contains operational parameters for the engine behavior.
	// Defaults to DefaultConfig if not specified.
	Config Config

	// Logger provides structured logging for debugging and monitoring.
	// Defaults to NoOp logger if nil to ensure no logging dependencies.
	Logger logging.Logger

	// Observer receives call events for every agent of a run. Defaults to a
	// core.LogObserver writing to Logger.
	Observer core.Observer

	// Model is the default model handed to prompt agents without their own.
	Model model.Model

	// Agents are registered with the engine at construction.
	Agents []*agent.Agent
}

// WithConfig replaces the operational configuration.
func WithConfig(cfg Config) func(o *Options) { return func(o *Options) { o.Config = cfg } }

// WithMaxRounds sets Config.MaxRounds.
func WithMaxRounds(n int) func(o *Options) { return func(o *Options) { o.Config.MaxRounds = n } }

// WithMaxCalls sets Config.MaxCalls.
func WithMaxCalls(n int) func(o *Options) { return func(o *Options) { o.Config.MaxCalls = n } }

// WithLogger sets the logger.
func WithLogger(l logging.Logger) func(o *Options) { return func(o *Options) { o.Logger = l } }

// WithObserver sets the observer.
func WithObserver(obs core.Observer) func(o *Options) { return func(o *Options) { o.Observer = obs } }

// WithModel sets the default model.
func WithModel(m model.Model) func(o *Options) { return func(o *Options) { o.Model = m } }

// WithAgents registers agents at construction.
func WithAgents(agents ...*agent.Agent) func(o *Options) {
	return func(o *Options) { o.Agents = append(o.Agents, agents...) }
}

// Engine routes messages between agents.
//
// A run seeds the input on core.UserInputTopic and proceeds in rounds: every
// message published in round N is delivered to its subscribers (in
// registration order, one at a time) and whatever they publish is only
// delivered in round N+1. The run ends when a round publishes nothing. The
// run output is the last output produced by any agent.
//
// When none of the agents subscribes to any topic, the agents form a
// sequence instead: each receives the seed merged with all earlier outputs
// and the last output is returned.
//
// An Engine is safe for concurrent runs; every run gets its own
// ExecutionContext unless one is passed to RunWithContext.
type Engine struct {
	config   Config
	logger   logging.Logger
	observer core.Observer
	model    model.Model

	mu     sync.RWMutex
	agents []*agent.Agent
}

// New creates a new Engine instance with sensible defaults and optional configuration.
func New(optFns ...func(o *Options)) *Engine {
	opts := Options{
		Config: DefaultConfig,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Config.MaxRounds <= 0 {
		opts.Config.MaxRounds = DefaultConfig.MaxRounds
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	if opts.Observer == nil {
		opts.Observer = core.NewLogObserver(opts.Logger)
	}

	e := &Engine{
		config:   opts.Config,
		logger:   opts.Logger,
		observer: opts.Observer,
		model:    opts.Model,
	}
	e.Register(opts.Agents...)

	return e
}

// Register adds agents to the engine's default agent set. Registering the
// same agent twice is a no-op.
func (e *Engine) Register(agents ...*agent.Agent) {
	e.mu.Lock()
	defer e.mu.Unlock()

outer:
	for _, a := range agents {
		if a == nil {
			continue
		}
		for _, existing := range e.agents {
			if existing == a {
				continue outer
			}
		}
		e.agents = append(e.agents, a)
		e.logger.Debug("engine.agent.registered", "agent", a.Name())
	}
}

// Agents returns the registered agents in registration order.
func (e *Engine) Agents() []*agent.Agent {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]*agent.Agent(nil), e.agents...)
}

// GetAgent returns the first registered agent named name.
func (e *Engine) GetAgent(name string) (*agent.Agent, bool) {
	return agent.NewRegistry(e.Agents()...).Get(name)
}

// NewContext creates an ExecutionContext carrying the engine's model,
// observer and logger.
func (e *Engine) NewContext(optFns ...func(o *core.ExecutionContextOptions)) *core.ExecutionContext {
	base := func(o *core.ExecutionContextOptions) {
		o.Model = e.model
		o.Observer = e.observer
		o.Logger = e.logger
	}
	return core.NewExecutionContext(append([]func(o *core.ExecutionContextOptions){base}, optFns...)...)
}

// Publication records one agent output produced during a run.
type Publication struct {
	Round  int
	Agent  string
	Topics []string
	Output core.Message
}

// RunResult is the outcome of a run.
type RunResult struct {
	RunID string

	// Output is the last output produced during the run (nil if no agent ran).
	Output core.Message

	// Outputs lists every output in production order.
	Outputs []Publication

	// Rounds is the number of delivery rounds (or sequence stages) executed.
	Rounds int

	// Context is the run's ExecutionContext (history, metadata).
	Context *core.ExecutionContext
}

// PublishError reports a publish topic function that failed. The run is
// aborted; the agent's output is discarded.
type PublishError struct {
	Agent string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("agent %s: %v: %v", e.Agent, core.ErrTopicFunc, e.Err)
}

// Unwrap returns the underlying cause.
func (e *PublishError) Unwrap() error { return e.Err }

// Is reports whether target is core.ErrTopicFunc.
func (e *PublishError) Is(target error) bool { return target == core.ErrTopicFunc }

// Run executes agents (or the registered agents when none are given) with a
// fresh ExecutionContext. input is a string or a core.Message.
func (e *Engine) Run(ctx context.Context, input any, agents ...*agent.Agent) (*RunResult, error) {
	return e.RunWithContext(ctx, e.NewContext(), input, agents...)
}

// RunWithContext is Run with a caller supplied ExecutionContext, allowing
// history and metadata to span several runs.
func (e *Engine) RunWithContext(ctx context.Context, ec *core.ExecutionContext, input any, agents ...*agent.Agent) (*RunResult, error) {
	if len(agents) == 0 {
		agents = e.Agents()
	}
	if len(agents) == 0 {
		return nil, ErrNoAgents
	}
	if ec == nil {
		ec = e.NewContext()
	}

	msg, err := core.ToMessage(input)
	if err != nil {
		return nil, err
	}

	// The call budget is per run, also when ec spans several runs.
	limiter := core.NewCallLimiter(e.config.MaxCalls)

	bus := NewBus(agents...)
	if !bus.HasSubscriptions() {
		return e.runSequence(ctx, ec, limiter, msg, bus.Agents())
	}
	return e.runBus(ctx, ec, limiter, bus, msg)
}

// RunSequence runs stages one after another regardless of their topics.
// Each stage receives the seed merged with all earlier outputs; the run
// output is the last stage's output.
func (e *Engine) RunSequence(ctx context.Context, input any, stages ...*agent.Agent) (*RunResult, error) {
	if len(stages) == 0 {
		return nil, ErrNoAgents
	}
	msg, err := core.ToMessage(input)
	if err != nil {
		return nil, err
	}
	return e.runSequence(ctx, e.NewContext(), core.NewCallLimiter(e.config.MaxCalls), msg, stages)
}

func (e *Engine) runSequence(ctx context.Context, ec *core.ExecutionContext, limiter *core.CallLimiter, seed core.Message, stages []*agent.Agent) (*RunResult, error) {
	start := time.Now()
	result := &RunResult{RunID: ec.RunID, Context: ec}

	e.logger.Debug("engine.sequence.start", "run_id", ec.RunID, "stages", len(stages))

	state := core.Clone(seed)
	for i, stage := range stages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := limiter.Increment(); err != nil {
			return nil, err
		}

		final, out, err := agent.Resolve(ctx, stage, state, ec)
		if err != nil {
			e.logger.Error("engine.sequence.failed", "run_id", ec.RunID, "agent", stage.Name(), "error", err.Error())
			return nil, fmt.Errorf("sequence stage %d (%s): %w", i+1, stage.Name(), err)
		}

		state = core.Merge(state, out)
		result.Output = out
		result.Rounds = i + 1
		result.Outputs = append(result.Outputs, Publication{Round: i + 1, Agent: final.Name(), Output: out})
	}

	e.logger.Info("engine.sequence.complete", "run_id", ec.RunID, "stages", len(stages), "duration", time.Since(start))

	return result, nil
}

type delivery struct {
	topic string
	msg   core.Message
}

func (e *Engine) runBus(ctx context.Context, ec *core.ExecutionContext, limiter *core.CallLimiter, bus *Bus, seed core.Message) (*RunResult, error) {
	start := time.Now()
	result := &RunResult{RunID: ec.RunID, Context: ec}

	pending := []delivery{{topic: core.UserInputTopic, msg: seed}}

	for round := 1; len(pending) > 0; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if round > e.config.MaxRounds {
			return nil, fmt.Errorf("%w: %d rounds", ErrMaxRounds, e.config.MaxRounds)
		}

		e.logger.Debug("engine.round.start", "run_id", ec.RunID, "round", round, "messages", len(pending))

		var next []delivery
		for _, d := range pending {
			subs := bus.Subscribers(d.topic)
			if len(subs) == 0 {
				e.logger.Debug("engine.topic.unsubscribed", "run_id", ec.RunID, "topic", d.topic)
				continue
			}

			for _, sub := range subs {
				if err := limiter.Increment(); err != nil {
					return nil, err
				}

				final, out, err := agent.Resolve(ctx, sub, d.msg, ec)
				if err != nil {
					e.logger.Error("engine.delivery.failed", "run_id", ec.RunID, "round", round, "agent", sub.Name(), "topic", d.topic, "error", err.Error())
					return nil, fmt.Errorf("round %d: %w", round, err)
				}

				topics, err := final.PublishTopic().Resolve(ctx, out)
				if err != nil {
					return nil, &PublishError{Agent: final.Name(), Err: err}
				}

				result.Output = out
				result.Outputs = append(result.Outputs, Publication{
					Round:  round,
					Agent:  final.Name(),
					Topics: topics,
					Output: out,
				})

				for _, t := range topics {
					next = append(next, delivery{topic: t, msg: out})
				}
			}
		}

		result.Rounds = round
		pending = next
	}

	e.logger.Info("engine.run.complete", "run_id", ec.RunID, "rounds", result.Rounds, "outputs", len(result.Outputs), "duration", time.Since(start))

	return result, nil
}

// Shutdown shuts down every registered agent and its tools. Errors are
// joined; shutdown continues past failures.
func (e *Engine) Shutdown(ctx context.Context) error {
	var errs []error
	seen := map[*agent.Agent]bool{}

	var visit func(a *agent.Agent)
	visit = func(a *agent.Agent) {
		if seen[a] {
			return
		}
		seen[a] = true
		if err := a.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown %s: %w", a.Name(), err))
		}
		for _, t := range a.Tools().All() {
			visit(t)
		}
	}

	for _, a := range e.Agents() {
		visit(a)
	}

	return errors.Join(errs...)
}
