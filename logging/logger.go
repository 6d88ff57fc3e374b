package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Logger is the leveled logging interface accepted across agentbus.
// Arguments after msg are slog-style alternating key/value pairs or
// slog.Attr values. A *slog.Logger satisfies it as is.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

var (
	_ Logger = (*slog.Logger)(nil)
	_ Logger = (*StructuredLogger)(nil)
	_ Logger = NoOpLogger{}
)

// ParseLevel maps a case-insensitive level name to a slog level. Unknown
// names fall back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config configures New.
type Config struct {
	Level slog.Level
	// Format is "json" (default) or "text".
	Format string
	// Output defaults to stderr so stdout stays free for command output.
	Output    io.Writer
	AddSource bool
	Component string
}

// StructuredLogger is a slog logger with scoping helpers and convenience
// methods for tool calls and MCP traffic. The With* methods return copies.
type StructuredLogger struct {
	*slog.Logger
}

// New builds a StructuredLogger.
func New(cfg Config) *StructuredLogger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: cfg.Level, AddSource: cfg.AddSource}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	l := &StructuredLogger{Logger: slog.New(handler)}
	if cfg.Component != "" {
		return l.WithComponent(cfg.Component)
	}

	return l
}

// NewText returns a text logger on stderr. Handy for examples and tools.
func NewText(level slog.Level) *StructuredLogger {
	return New(Config{Level: level, Format: "text"})
}

// With attaches a key/value pair to every entry of the returned logger.
func (l *StructuredLogger) With(key string, value any) *StructuredLogger {
	return &StructuredLogger{Logger: l.Logger.With(key, value)}
}

// WithComponent scopes the logger to a component (engine, mcp, cli, ...).
func (l *StructuredLogger) WithComponent(c string) *StructuredLogger {
	return l.With("component", c)
}

func (l *StructuredLogger) WithRun(runID string) *StructuredLogger {
	return l.With("run_id", runID)
}

// LogToolCall records the outcome of a tool invocation.
func (l *StructuredLogger) LogToolCall(tool string, dur time.Duration, success bool, err error) {
	args := []any{"tool_name", tool, "duration", dur, "success", success}
	if err != nil {
		args = append(args, "error", err.Error())
	}

	if !success {
		l.Error("Tool execution failed", args...)
		return
	}

	l.Debug("Tool execution completed", args...)
}

// LogMCPRequest records a JSON-RPC round trip to an MCP server.
func (l *StructuredLogger) LogMCPRequest(server, method string, dur time.Duration, err error) {
	args := []any{"server", server, "method", method, "duration", dur}
	if err != nil {
		l.Warn("MCP request failed", append(args, "error", err.Error())...)
		return
	}

	l.Debug("MCP request completed", args...)
}

// StartTimer returns a func that logs the elapsed time of op when called.
func (l *StructuredLogger) StartTimer(op string) func() {
	start := time.Now()
	return func() { l.Info("Operation completed", "operation", op, "duration", time.Since(start)) }
}

// NoOpLogger discards everything.
type NoOpLogger struct{}

func (NoOpLogger) Debug(string, ...any) {}
func (NoOpLogger) Info(string, ...any)  {}
func (NoOpLogger) Warn(string, ...any)  {}
func (NoOpLogger) Error(string, ...any) {}
