package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/agentbus/core"
	"golang.org/x/sync/errgroup"
)

// NewParallelAgent creates an agent that runs children concurrently.
//
// Every child receives the same input. When all children succeed their
// outputs are merged in registration order (later children win on key
// collisions), so the result does not depend on scheduling. The first
// failure cancels the remaining children and is returned.
//
// Parameters:
//   - name: Human-readable name for the coordinator
//   - timeout: Maximum time allowed for all children (0 = no limit)
//   - children: Agents to execute in parallel
func NewParallelAgent(name string, timeout time.Duration, children ...*Agent) *Agent {
	kids := append([]*Agent(nil), children...)

	process := func(ctx context.Context, input core.Message, ec *core.ExecutionContext) (Result, error) {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		outputs := make([]core.Message, len(kids))

		g, gctx := errgroup.WithContext(ctx)
		for i, child := range kids {
			g.Go(func() error {
				out, err := Invoke(gctx, child, input, ec)
				if err != nil {
					return fmt.Errorf("parallel execution failed for agent %s: %w", child.Name(), err)
				}
				outputs[i] = out
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return Result{}, err
		}

		merged := core.Message{}
		for _, out := range outputs {
			merged = core.Merge(merged, out)
		}
		return Data(merged), nil
	}

	return New(name, Func(process))
}
