// Package agent contains the Agent type and the building blocks for
// composing agents in agentbus. The package focuses on three concerns:
//
//  1. The call lifecycle (Agent.Call): input normalization, schema
//     validation, processing, transfer and output merging
//  2. Concrete agent shapes (FromFunc / NewFunction, NewSequentialAgent,
//     NewParallelAgent)
//  3. Model-centric tool-calling agent (NewPromptAgent)
//
// Design principles:
//   - Agents are values with immutable configuration; only the tool set may
//     grow, and only until the first call
//   - Results are a sum type: data (Data) or delegation (Transfer)
//   - Observability through core.Observer events around every call
//
// Execution Model:
//   - Call runs exactly one agent and may return a transfer
//   - Invoke / Resolve follow transfers until some agent produces data
//   - Topic routing between agents lives in the engine package
package agent
