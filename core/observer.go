package core

import (
	"context"
	"time"

	"github.com/hupe1980/agentbus/logging"
)

// CallInfo identifies an agent call for observers.
type CallInfo struct {
	CallID string
	RunID  string
	Agent  string
	Input  Message
	Start  time.Time
}

// CallOutcome describes how an agent call finished. Exactly one of Output,
// Transfer or Err is meaningful.
type CallOutcome struct {
	Output   Message
	Transfer string
	Err      error
	Duration time.Duration
}

// Observer receives structured before/after events for every agent call
// whose logging is not disabled. Implementations must be safe for concurrent
// use and must not block.
type Observer interface {
	CallStart(ctx context.Context, info CallInfo)
	CallEnd(ctx context.Context, info CallInfo, outcome CallOutcome)
}

// NoOpObserver discards all events.
type NoOpObserver struct{}

// CallStart implements Observer.
func (NoOpObserver) CallStart(context.Context, CallInfo) {}

// CallEnd implements Observer.
func (NoOpObserver) CallEnd(context.Context, CallInfo, CallOutcome) {}

// MultiObserver fans events out to several observers in order.
type MultiObserver []Observer

// CallStart implements Observer.
func (m MultiObserver) CallStart(ctx context.Context, info CallInfo) {
	for _, o := range m {
		if o != nil {
			o.CallStart(ctx, info)
		}
	}
}

// CallEnd implements Observer.
func (m MultiObserver) CallEnd(ctx context.Context, info CallInfo, outcome CallOutcome) {
	for _, o := range m {
		if o != nil {
			o.CallEnd(ctx, info, outcome)
		}
	}
}

// LogObserver writes call events to a logging.Logger. Starts are logged at
// debug level, completions at info level and failures at error level.
type LogObserver struct {
	logger logging.Logger
}

// NewLogObserver returns an Observer backed by logger (NoOpLogger if nil).
func NewLogObserver(logger logging.Logger) *LogObserver {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &LogObserver{logger: logger}
}

// CallStart implements Observer.
func (o *LogObserver) CallStart(_ context.Context, info CallInfo) {
	o.logger.Debug("Agent call started", "agent", info.Agent, "run_id", info.RunID, "call_id", info.CallID)
}

// CallEnd implements Observer.
func (o *LogObserver) CallEnd(_ context.Context, info CallInfo, outcome CallOutcome) {
	args := []any{"agent", info.Agent, "run_id", info.RunID, "call_id", info.CallID, "duration", outcome.Duration}
	switch {
	case outcome.Err != nil:
		o.logger.Error("Agent call failed", append(args, "error", outcome.Err.Error())...)
	case outcome.Transfer != "":
		o.logger.Info("Agent call transferred", append(args, "target", outcome.Transfer)...)
	default:
		o.logger.Info("Agent call completed", args...)
	}
}
