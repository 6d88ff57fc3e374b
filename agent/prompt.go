package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/agentbus/core"
	"github.com/hupe1980/agentbus/internal/util"
	"github.com/hupe1980/agentbus/model"
)

// ErrNoModel is returned when a prompt agent runs without a model configured
// on either the agent or the execution context.
var ErrNoModel = errors.New("no model configured")

// PromptOptions configures a prompt agent.
//
// Use functional options with NewPromptAgent to override defaults.
type PromptOptions struct {
	Options

	// Instruction is rendered against the call input and sent to the model.
	Instruction Instruction

	// Model overrides the execution context's default model.
	Model model.Model

	// OutputKey names the output field receiving the model's text. When
	// empty the text lands under "$message", or, if the output schema
	// declares fields and the model replied with a JSON object, that object
	// becomes the output.
	OutputKey string

	// MaxIterations bounds the model/tool round trips of one call.
	MaxIterations int

	// ToolTimeout bounds each individual tool call (0 = none).
	ToolTimeout time.Duration
}

type promptProcessor struct {
	name          string
	instruction   Instruction
	model         model.Model
	outputKey     string
	maxIterations int
	toolTimeout   time.Duration
	self          *Agent
}

// NewPromptAgent creates an agent that renders its instruction against the
// input, asks a model and turns the reply into output.
//
// The agent's tools are exposed to the model as functions. Tool calls are
// executed through the tool agents (so their schemas and observers apply)
// and the results are fed back until the model answers with text. A tool
// that transfers makes the whole call transfer to the target.
func NewPromptAgent(name string, optFns ...func(o *PromptOptions)) *Agent {
	opts := PromptOptions{
		MaxIterations: 8,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 8
	}

	p := &promptProcessor{
		name:          name,
		instruction:   opts.Instruction,
		model:         opts.Model,
		outputKey:     opts.OutputKey,
		maxIterations: opts.MaxIterations,
		toolTimeout:   opts.ToolTimeout,
	}

	base := opts.Options
	a := New(name, p, func(o *Options) { *o = base })
	p.self = a

	return a
}

// Process implements Processor.
func (p *promptProcessor) Process(ctx context.Context, input core.Message, ec *core.ExecutionContext) (Result, error) {
	llm := p.model
	if llm == nil {
		llm = ec.Model()
	}
	if llm == nil {
		return Result{}, ErrNoModel
	}

	messages, err := p.buildMessages(ctx, input, ec)
	if err != nil {
		return Result{}, err
	}

	tools := flattenTools(p.self.Tools())
	defs := toolDefinitions(tools)

	for i := 0; i < p.maxIterations; i++ {
		ec.Logger().Debug("prompt.generate", "agent", p.name, "iteration", i, "messages", len(messages))

		resp, err := llm.Generate(ctx, model.Request{Messages: messages, Tools: defs})
		if err != nil {
			return Result{}, fmt.Errorf("model generate: %w", err)
		}

		if len(resp.Message.ToolCalls) == 0 {
			return Data(p.output(resp.Message.Content)), nil
		}

		messages = append(messages, model.Message{
			Role:      model.RoleAssistant,
			Content:   resp.Message.Content,
			ToolCalls: resp.Message.ToolCalls,
		})

		for _, tc := range resp.Message.ToolCalls {
			target, content, err := p.callTool(ctx, tools, tc, ec)
			if err != nil {
				return Result{}, err
			}
			if target != nil {
				ec.Logger().Debug("prompt.transfer", "agent", p.name, "target", target.Name())
				return Transfer(target), nil
			}
			messages = append(messages, model.Message{
				Role:       model.RoleTool,
				ToolCallID: tc.ID,
				Content:    content,
			})
		}
	}

	return Result{}, fmt.Errorf("exceeded %d model iterations", p.maxIterations)
}

func (p *promptProcessor) buildMessages(ctx context.Context, input core.Message, ec *core.ExecutionContext) ([]model.Message, error) {
	var instructions string
	if !p.instruction.IsZero() {
		var err error
		instructions, err = p.instruction.Resolve(ctx, input, ec)
		if err != nil {
			return nil, fmt.Errorf("resolve instruction: %w", err)
		}
	}

	text, hasText := core.MessageText(input)

	switch {
	case instructions != "" && hasText:
		return []model.Message{
			{Role: model.RoleSystem, Content: instructions},
			{Role: model.RoleUser, Content: text},
		}, nil
	case instructions != "":
		return []model.Message{{Role: model.RoleUser, Content: instructions}}, nil
	case hasText:
		return []model.Message{{Role: model.RoleUser, Content: text}}, nil
	default:
		raw, err := json.Marshal(input)
		if err != nil {
			return nil, fmt.Errorf("encode input: %w", err)
		}
		return []model.Message{{Role: model.RoleUser, Content: string(raw)}}, nil
	}
}

// callTool runs one tool call. Tool failures are reported back to the model
// as tool content so it can recover; only a transfer escapes the loop.
func (p *promptProcessor) callTool(ctx context.Context, tools *Registry, tc model.ToolCall, ec *core.ExecutionContext) (*Agent, string, error) {
	start := time.Now()

	t, ok := tools.Get(tc.Function.Name)
	if !ok {
		ec.Logger().Warn("prompt.tool.unknown", "agent", p.name, "tool", tc.Function.Name)
		return nil, errorContent(fmt.Errorf("tool %s not found", tc.Function.Name)), nil
	}

	args, err := tc.Function.DecodeArguments()
	if err != nil {
		return nil, errorContent(err), nil
	}

	if p.toolTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.toolTimeout)
		defer cancel()
	}

	res, err := t.Call(ctx, args, ec)
	if err != nil {
		ec.Logger().Warn("prompt.tool.error", "agent", p.name, "tool", t.Name(), "duration", time.Since(start), "error", err.Error())
		return nil, errorContent(err), nil
	}

	if res.IsTransfer() {
		return res.Target(), "", nil
	}

	ec.Logger().Debug("prompt.tool.complete", "agent", p.name, "tool", t.Name(), "duration", time.Since(start))

	raw, err := json.Marshal(res.Output())
	if err != nil {
		return nil, "", fmt.Errorf("encode tool output: %w", err)
	}
	return nil, string(raw), nil
}

func (p *promptProcessor) output(text string) core.Message {
	if p.outputKey != "" {
		return core.Message{p.outputKey: text}
	}
	if s := p.self.OutputSchema(); s != nil && len(s.Properties) > 0 {
		if obj, ok := util.ParseJSONObject(text); ok {
			return obj
		}
	}
	return core.UserInput(text)
}

func errorContent(err error) string {
	raw, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(raw)
}

// flattenTools replaces every non-callable tool by its own tools, so a
// container such as an MCP bridge exposes the tools it hosts.
func flattenTools(tools *Registry) *Registry {
	out := NewRegistry()
	seen := map[*Agent]bool{}

	var visit func(a *Agent)
	visit = func(a *Agent) {
		if seen[a] {
			return
		}
		seen[a] = true
		if a.IsCallable() {
			out.add(a)
			return
		}
		for _, t := range a.Tools().All() {
			visit(t)
		}
	}

	for _, t := range tools.All() {
		visit(t)
	}
	return out
}

func toolDefinitions(tools *Registry) []model.ToolDefinition {
	all := tools.All()
	if len(all) == 0 {
		return nil
	}
	defs := make([]model.ToolDefinition, 0, len(all))
	for _, t := range all {
		if !t.IsCallable() {
			continue
		}
		defs = append(defs, model.ToolDefinition{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.InputSchema().JSONSchema(),
			},
		})
	}
	return defs
}
