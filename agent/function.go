package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/hupe1980/agentbus/core"
	"github.com/hupe1980/agentbus/internal/util"
	"github.com/hupe1980/agentbus/schema"
)

// ToolRef references a tool of an agent: either an existing agent or a plain
// function that is lifted into an agent when the tool set is resolved.
type ToolRef struct {
	agent  *Agent
	name   string
	fn     Func
	optFns []func(o *Options)
}

// AgentTool references an existing agent as a tool.
func AgentTool(a *Agent) ToolRef { return ToolRef{agent: a} }

// FuncTool references a function as a tool named name.
func FuncTool(name string, fn Func, optFns ...func(o *Options)) ToolRef {
	return ToolRef{name: name, fn: fn, optFns: optFns}
}

func (r ToolRef) resolve() (*Agent, error) {
	switch {
	case r.agent != nil:
		return r.agent, nil
	case r.fn != nil:
		return FromFunc(r.name, r.fn, r.optFns...), nil
	default:
		return nil, fmt.Errorf("empty tool reference")
	}
}

// FromFunc lifts a function into an agent. Returning Transfer from fn
// delegates like any other agent would.
func FromFunc(name string, fn Func, optFns ...func(o *Options)) *Agent {
	return New(name, fn, optFns...)
}

// MapFunc adapts a function producing plain data into a Func.
func MapFunc(fn func(ctx context.Context, input core.Message) (core.Message, error)) Func {
	return func(ctx context.Context, input core.Message, _ *core.ExecutionContext) (Result, error) {
		out, err := fn(ctx, input)
		if err != nil {
			return Result{}, err
		}
		return Data(out), nil
	}
}

// NewFunction exposes a typed Go function as an agent.
//
// The input schema is derived from T (a struct with json / description
// tags). Validated input is decoded into T before fn runs. The returned
// value becomes the output: maps and structs are converted to a Message,
// other values are wrapped as {"result": v}.
//
// Example:
//
//	type sumArgs struct {
//	  A float64 `json:"a" description:"first operand"`
//	  B float64 `json:"b" description:"second operand"`
//	}
//
//	sum := agent.NewFunction("calculate_sum", "Calculate the sum of two numbers",
//	  func(ctx context.Context, args sumArgs) (any, error) {
//	    return args.A + args.B, nil
//	  },
//	)
func NewFunction[T any](
	name, description string,
	fn func(ctx context.Context, args T) (any, error),
	optFns ...func(o *Options),
) *Agent {
	var zero T

	process := func(ctx context.Context, input core.Message, _ *core.ExecutionContext) (Result, error) {
		var args T
		raw, err := json.Marshal(input)
		if err != nil {
			return Result{}, fmt.Errorf("encode arguments: %w", err)
		}
		if err := json.Unmarshal(raw, &args); err != nil {
			return Result{}, &schema.ValidationError{Message: fmt.Sprintf("cannot decode arguments: %v", err)}
		}

		v, err := fn(ctx, args)
		if err != nil {
			return Result{}, err
		}

		out, err := toOutput(v)
		if err != nil {
			return Result{}, err
		}
		return Data(out), nil
	}

	opts := append([]func(o *Options){func(o *Options) {
		o.Description = description
		o.InputSchema = schema.FromStruct(zero)
	}}, optFns...)

	return New(name, Func(process), opts...)
}

func toOutput(v any) (core.Message, error) {
	if v == nil {
		return core.Message{}, nil
	}
	if m, ok := v.(map[string]any); ok {
		return m, nil
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr && !rv.IsNil() {
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Struct, reflect.Map:
		return util.ToMap(v)
	default:
		return core.Message{"result": v}, nil
	}
}
