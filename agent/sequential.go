package agent

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentbus/core"
)

// NewSequentialAgent creates an agent that runs stages one after another.
//
// Each stage receives the seed input merged with the outputs of all earlier
// stages (later outputs win on key collisions), so a stage can read any
// field produced upstream. Transfers issued by a stage are followed before
// the next stage starts. The agent's output is the last stage's output.
//
// Key features:
//   - Ordered execution with state propagation
//   - Early termination on errors
//   - Transfers resolved inside the stage that issued them
//
// Parameters:
//   - name: Human-readable name for the coordinator
//   - stages: Agents to execute in order
//   - optFns: Options applied to the coordinator itself (schemas, topics)
func NewSequentialAgent(name string, stages []*Agent, optFns ...func(o *Options)) *Agent {
	children := append([]*Agent(nil), stages...)

	process := func(ctx context.Context, input core.Message, ec *core.ExecutionContext) (Result, error) {
		state := core.Clone(input)
		last := core.Message{}

		for _, child := range children {
			out, err := Invoke(ctx, child, state, ec)
			if err != nil {
				return Result{}, fmt.Errorf("sequential execution failed at agent %s: %w", child.Name(), err)
			}
			state = core.Merge(state, out)
			last = out
		}

		return Data(last), nil
	}

	return New(name, Func(process), optFns...)
}
