package core

import (
	"errors"
	"fmt"

	"github.com/hupe1980/agentbus/schema"
)

// Sentinel errors. Every typed error below matches exactly one of them via
// errors.Is, so callers can branch on the kind without type assertions.
var (
	// ErrValidation marks input or output that failed schema validation.
	ErrValidation = schema.ErrValidation
	// ErrNotCallable marks a call to an agent without a process implementation.
	ErrNotCallable = errors.New("agent is not callable")
	// ErrConnection marks failures to start or reach an external server.
	ErrConnection = errors.New("connection failed")
	// ErrProtocol marks malformed or error responses from an external server.
	ErrProtocol = errors.New("protocol error")
	// ErrToolExecution marks a tool result flagged as an error by its server.
	ErrToolExecution = errors.New("tool execution failed")
)

// ValidationError reports the first field that failed validation.
type ValidationError = schema.ValidationError

// NotCallableError is returned when an agent without a process
// implementation is called directly.
type NotCallableError struct {
	Agent string
}

func (e *NotCallableError) Error() string {
	return fmt.Sprintf("agent %s is not callable: no process implementation", e.Agent)
}

// Is reports whether target is ErrNotCallable.
func (e *NotCallableError) Is(target error) bool { return target == ErrNotCallable }

// ConnectionError wraps a failure to launch, connect to, or keep talking to
// an external server.
type ConnectionError struct {
	Server string
	Op     string
	Err    error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("connection to %s failed during %s", e.Server, e.Op)
	}
	return fmt.Sprintf("connection to %s failed during %s: %v", e.Server, e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ConnectionError) Unwrap() error { return e.Err }

// Is reports whether target is ErrConnection.
func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }

// ProtocolError reports a JSON-RPC error response or a response that does
// not match the expected shape.
type ProtocolError struct {
	Server  string
	Method  string
	Code    int
	Message string
}

func (e *ProtocolError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: %s failed (code %d): %s", e.Server, e.Method, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s failed: %s", e.Server, e.Method, e.Message)
}

// Is reports whether target is ErrProtocol.
func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

// ToolExecutionError describes a tool result whose error flag was set.
// Tool calls return such results as data; callers convert explicitly when
// they prefer an error.
type ToolExecutionError struct {
	Tool    string
	Message string
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s reported an error: %s", e.Tool, e.Message)
}

// Is reports whether target is ErrToolExecution.
func (e *ToolExecutionError) Is(target error) bool { return target == ErrToolExecution }
