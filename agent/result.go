package agent

import "github.com/hupe1980/agentbus/core"

// Result is the outcome of a process step: either output data or a transfer
// that hands the original input to another agent.
type Result struct {
	output   core.Message
	transfer bool
	target   *Agent
	input    core.Message
}

// Data returns a Result carrying output.
func Data(output core.Message) Result {
	if output == nil {
		output = core.Message{}
	}
	return Result{output: output}
}

// Transfer returns a Result delegating the current input to target.
func Transfer(target *Agent) Result {
	return Result{transfer: true, target: target}
}

// IsTransfer reports whether the result delegates to another agent.
func (r Result) IsTransfer() bool { return r.transfer }

// Output returns the output data (nil for transfers).
func (r Result) Output() core.Message { return r.output }

// Target returns the transfer target (nil for data).
func (r Result) Target() *Agent { return r.target }

// Input returns the input carried forward by a transfer.
func (r Result) Input() core.Message { return r.input }
