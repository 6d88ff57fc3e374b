package config

import (
	"context"
	"errors"
	"fmt"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/agentbus/agent"
	"github.com/hupe1980/agentbus/core"
	"github.com/hupe1980/agentbus/engine"
	"github.com/hupe1980/agentbus/logging"
	"github.com/hupe1980/agentbus/mcp"
	"github.com/hupe1980/agentbus/model"
	"github.com/hupe1980/agentbus/model/anthropic"
	"github.com/hupe1980/agentbus/model/openai"
	"github.com/hupe1980/agentbus/schema"
)

// Model providers accepted by ModelConfig.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderMock      = "mock"
)

// NewModel creates the model described by cfg. API keys fall back to the
// provider's environment variable.
func NewModel(cfg ModelConfig) (model.Model, error) {
	switch cfg.Provider {
	case ProviderOpenAI:
		return openai.NewModel(func(o *openai.Options) {
			if cfg.Name != "" {
				o.Model = cfg.Name
			}
			if cfg.Temperature > 0 {
				o.Temperature = cfg.Temperature
			}
			if cfg.MaxTokens > 0 {
				o.MaxCompletionTokens = cfg.MaxTokens
			}
			o.APIKey = cfg.APIKey
		}), nil
	case ProviderAnthropic:
		return anthropic.NewModel(func(o *anthropic.Options) {
			if cfg.Name != "" {
				o.Model = anthropicsdk.Model(cfg.Name)
			}
			if cfg.Temperature > 0 {
				o.Temperature = cfg.Temperature
			}
			if cfg.MaxTokens > 0 {
				o.MaxTokens = cfg.MaxTokens
			}
			o.APIKey = cfg.APIKey
		}), nil
	case ProviderMock:
		name := cfg.Name
		if name == "" {
			name = "mock"
		}
		return model.NewMockModel(name, ProviderMock), nil
	default:
		return nil, fmt.Errorf("unsupported model provider: %s", cfg.Provider)
	}
}

// BuildOptions configures Build.
type BuildOptions struct {
	Logger   logging.Logger
	Observer core.Observer

	// Model replaces the pipeline's default model.
	Model model.Model

	// Bridge options applied to every server connection.
	Bridge []func(o *mcp.BridgeOptions)
}

// Runtime is a built pipeline: the engine, its agents and the live MCP
// bridges.
type Runtime struct {
	Engine   *engine.Engine
	Agents   []*agent.Agent
	Bridges  map[string]*mcp.Bridge
	Sequence bool
}

// Run executes the pipeline with input.
func (r *Runtime) Run(ctx context.Context, input any) (*engine.RunResult, error) {
	if r.Sequence {
		return r.Engine.RunSequence(ctx, input, r.Agents...)
	}
	return r.Engine.Run(ctx, input)
}

// Shutdown shuts down the agents and closes every MCP session.
func (r *Runtime) Shutdown(ctx context.Context) error {
	err := r.Engine.Shutdown(ctx)
	for _, b := range r.Bridges {
		_ = b.Shutdown(ctx)
	}
	return err
}

// Build connects the pipeline's servers and creates its agents. On failure
// every server connected so far is shut down.
func Build(ctx context.Context, p *Pipeline, optFns ...func(o *BuildOptions)) (rt *Runtime, err error) {
	opts := BuildOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}

	defaultModel := opts.Model
	if defaultModel == nil && p.Model != nil {
		if defaultModel, err = NewModel(*p.Model); err != nil {
			return nil, err
		}
	}

	bridges := make(map[string]*mcp.Bridge, len(p.Servers))
	defer func() {
		if err != nil {
			for _, b := range bridges {
				_ = b.Shutdown(context.Background())
			}
		}
	}()

	for _, s := range p.Servers {
		bridgeOpts := append([]func(o *mcp.BridgeOptions){mcp.WithLogger(opts.Logger)}, opts.Bridge...)
		b, cerr := mcp.Connect(ctx, s, bridgeOpts...)
		if cerr != nil {
			return nil, cerr
		}
		bridges[s.Name] = b
		opts.Logger.Info("config.server.connected", "server", s.Name, "tools", b.Tools().Len())
	}

	agents := make([]*agent.Agent, 0, len(p.Agents))
	byName := make(map[string]*agent.Agent, len(p.Agents))
	for _, ac := range p.Agents {
		a, berr := buildAgent(ac)
		if berr != nil {
			return nil, berr
		}
		agents = append(agents, a)
		byName[ac.Name] = a
	}

	// Tools are attached after every agent exists, so agents may refer to
	// agents declared later in the file.
	for _, ac := range p.Agents {
		for _, ref := range ac.Tools {
			tool, rerr := resolveTool(ref, bridges, byName)
			if rerr != nil {
				return nil, fmt.Errorf("agent %s: %w", ac.Name, rerr)
			}
			if aerr := byName[ac.Name].AddTool(agent.AgentTool(tool)); aerr != nil {
				return nil, aerr
			}
		}
	}

	eng := engine.New(
		engine.WithLogger(opts.Logger),
		engine.WithObserver(opts.Observer),
		engine.WithModel(defaultModel),
		engine.WithMaxRounds(p.MaxRounds),
		engine.WithMaxCalls(p.MaxCalls),
		engine.WithAgents(agents...),
	)

	return &Runtime{
		Engine:   eng,
		Agents:   agents,
		Bridges:  bridges,
		Sequence: p.Sequence,
	}, nil
}

func buildAgent(ac AgentConfig) (*agent.Agent, error) {
	inputSchema, err := toSchema(ac.InputSchema)
	if err != nil {
		return nil, fmt.Errorf("agent %s: input_schema: %w", ac.Name, err)
	}
	outputSchema, err := toSchema(ac.OutputSchema)
	if err != nil {
		return nil, fmt.Errorf("agent %s: output_schema: %w", ac.Name, err)
	}

	var m model.Model
	if ac.Model != nil {
		if m, err = NewModel(*ac.Model); err != nil {
			return nil, fmt.Errorf("agent %s: %w", ac.Name, err)
		}
	}

	return agent.NewPromptAgent(ac.Name, func(o *agent.PromptOptions) {
		o.Description = ac.Description
		o.InputSchema = inputSchema
		o.OutputSchema = outputSchema
		o.IncludeInputInOutput = ac.IncludeInputInOutput
		o.SubscribeTopic = ac.SubscribeTopic
		if len(ac.PublishTopic) > 0 {
			o.PublishTopic = core.Topics(ac.PublishTopic...)
		}
		o.DisableLogging = ac.DisableLogging
		if ac.Instructions != "" {
			o.Instruction = agent.NewInstructionFromText(ac.Instructions)
		}
		o.OutputKey = ac.OutputKey
		o.Model = m
	}), nil
}

func toSchema(doc map[string]any) (*schema.Schema, error) {
	if len(doc) == 0 {
		return nil, nil
	}
	return schema.FromJSONSchema(doc)
}

// splitToolRef splits "server/tool" into its parts. A bare name yields an
// empty tool.
func splitToolRef(ref string) (server, tool string) {
	server, tool, _ = strings.Cut(ref, "/")
	return server, tool
}

var errUnknownTool = errors.New("unknown tool")

func resolveTool(ref string, bridges map[string]*mcp.Bridge, agents map[string]*agent.Agent) (*agent.Agent, error) {
	if a, ok := agents[ref]; ok {
		return a, nil
	}

	server, tool := splitToolRef(ref)
	b, ok := bridges[server]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errUnknownTool, ref)
	}
	if tool == "" {
		return b.Agent, nil
	}
	t, ok := b.Tools().Get(tool)
	if !ok {
		return nil, fmt.Errorf("%w: server %s has no tool %s", errUnknownTool, server, tool)
	}
	return t, nil
}
