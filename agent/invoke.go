package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/agentbus/core"
)

// MaxTransferDepth bounds how many consecutive transfers a single invocation
// may follow.
const MaxTransferDepth = 32

// ErrTransferDepth is matched by the error returned when a transfer chain
// exceeds MaxTransferDepth.
var ErrTransferDepth = errors.New("transfer depth exceeded")

// Resolve calls a and follows transfers until an agent produces data. It
// returns the agent that produced the output together with the output. Each
// transfer target receives the validated input of the agent that delegated.
func Resolve(ctx context.Context, a *Agent, input any, ec *core.ExecutionContext) (*Agent, core.Message, error) {
	if a == nil {
		return nil, nil, fmt.Errorf("cannot invoke nil agent")
	}

	cur := a
	in := input
	for depth := 0; ; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		res, err := cur.Call(ctx, in, ec)
		if err != nil {
			return nil, nil, err
		}
		if !res.IsTransfer() {
			return cur, res.Output(), nil
		}
		if depth >= MaxTransferDepth {
			return nil, nil, fmt.Errorf("agent %s: %w (max %d)", a.name, ErrTransferDepth, MaxTransferDepth)
		}
		cur, in = res.Target(), res.Input()
	}
}

// Invoke calls a, follows transfers and returns the final output.
func Invoke(ctx context.Context, a *Agent, input any, ec *core.ExecutionContext) (core.Message, error) {
	_, out, err := Resolve(ctx, a, input, ec)
	return out, err
}
