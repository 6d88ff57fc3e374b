// Package core provides the foundational domain types shared by agents, the
// engine and the MCP bridge. It defines:
//
//   - Message, the string keyed map exchanged between agents
//   - ExecutionContext, the per-run history, metadata and defaults
//   - PublishTopic / TopicFunc for topic routing
//   - Observer, the structured before/after call event hook
//   - The error kinds (validation, not callable, connection, protocol, tool
//     execution), each matched by a sentinel via errors.Is
//
// Concrete agents, orchestration and transports live in other packages; core
// only holds what they all need to agree on.
package core
