package agent

import (
	"context"

	"github.com/hupe1980/agentbus/core"
	"github.com/hupe1980/agentbus/internal/util"
)

// Provider supplies dynamic instruction text at runtime.
// Implementations can derive instructions from the input, run metadata, etc.
type Provider interface {
	Instruction(ctx context.Context, input core.Message, ec *core.ExecutionContext) (string, error)
}

// ProviderFunc is a functional adapter to allow ordinary functions to be used as Providers.
type ProviderFunc func(ctx context.Context, input core.Message, ec *core.ExecutionContext) (string, error)

// Instruction implements Provider.
func (f ProviderFunc) Instruction(ctx context.Context, input core.Message, ec *core.ExecutionContext) (string, error) {
	return f(ctx, input, ec)
}

// Instruction represents either a static instruction template or a dynamic provider.
// This mirrors a union of string | provider in a Go-idiomatic way.
type Instruction struct {
	text     string
	provider Provider
}

// NewInstructionFromText creates an Instruction from a static template. The
// template is rendered against the call input ({{product}} or {{.product}}).
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromProvider creates an Instruction from a dynamic provider.
func NewInstructionFromProvider(p Provider) Instruction { return Instruction{provider: p} }

// NewInstructionFromFunc creates an Instruction from a function.
func NewInstructionFromFunc(f func(ctx context.Context, input core.Message, ec *core.ExecutionContext) (string, error)) Instruction {
	return Instruction{provider: ProviderFunc(f)}
}

// IsStatic returns true if the instruction is backed by a static string.
func (i Instruction) IsStatic() bool { return i.provider == nil }

// IsZero reports whether no instruction was configured.
func (i Instruction) IsZero() bool { return i.provider == nil && i.text == "" }

// Resolve returns the instruction text, invoking the provider if needed, and
// renders template variables from input.
func (i Instruction) Resolve(ctx context.Context, input core.Message, ec *core.ExecutionContext) (string, error) {
	text := i.text
	if i.provider != nil {
		var err error
		text, err = i.provider.Instruction(ctx, input, ec)
		if err != nil {
			return "", err
		}
	}
	return util.RenderTemplate(text, input)
}
