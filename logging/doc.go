// Package logging provides the leveled Logger interface used across agentbus
// and a slog-backed StructuredLogger.
//
// Any *slog.Logger satisfies Logger directly. StructuredLogger adds
// component and run scoping plus helpers for tool calls and MCP requests;
// NoOpLogger is the silent default.
//
//	logger := logging.New(logging.Config{Level: slog.LevelInfo, Component: "engine"})
//	eng := engine.New(engine.WithLogger(logger))
package logging
