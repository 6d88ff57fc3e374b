package core

import (
	"sync"
	"time"

	"github.com/hupe1980/agentbus/internal/util"
	"github.com/hupe1980/agentbus/logging"
	"github.com/hupe1980/agentbus/model"
)

// HistoryEntry records one completed agent call within a run.
type HistoryEntry struct {
	Agent  string
	Input  Message
	Output Message
	Time   time.Time
}

// ExecutionContext carries the per-run state shared by every agent call of a
// run. It aggregates:
//   - The run identifier
//   - An append-only history of (input, output) pairs
//   - Free-form string metadata
//   - The run's default chat model, observer and logger
//
// All methods are safe for concurrent use; parallel agents share one context.
type ExecutionContext struct {
	RunID string

	model    model.Model
	observer Observer

	mu       sync.RWMutex
	history  []HistoryEntry
	metadata map[string]string

	logger logging.Logger
}

// ExecutionContextOptions configures NewExecutionContext.
type ExecutionContextOptions struct {
	RunID    string
	Model    model.Model
	Observer Observer
	Logger   logging.Logger
	Metadata map[string]string
}

// NewExecutionContext constructs an ExecutionContext with an empty history.
// A random RunID is assigned unless one is supplied.
func NewExecutionContext(optFns ...func(o *ExecutionContextOptions)) *ExecutionContext {
	opts := ExecutionContextOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.RunID == "" {
		opts.RunID = util.NewID()
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NoOpLogger{}
	}

	md := make(map[string]string, len(opts.Metadata))
	for k, v := range opts.Metadata {
		md[k] = v
	}

	return &ExecutionContext{
		RunID:    opts.RunID,
		model:    opts.Model,
		observer: opts.Observer,
		metadata: md,
		logger:   logger,
	}
}

// Logger returns the run's logger, never nil.
func (ec *ExecutionContext) Logger() logging.Logger { return ec.logger }

// Model returns the run's default chat model (may be nil).
func (ec *ExecutionContext) Model() model.Model { return ec.model }

// Observer returns the run's observer. It is never nil.
func (ec *ExecutionContext) Observer() Observer {
	if ec.observer == nil {
		return NoOpObserver{}
	}
	return ec.observer
}

// Append records a completed call in the run history.
func (ec *ExecutionContext) Append(e HistoryEntry) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	ec.mu.Lock()
	ec.history = append(ec.history, e)
	ec.mu.Unlock()
}

// History returns a copy of the run history in completion order.
func (ec *ExecutionContext) History() []HistoryEntry {
	ec.mu.RLock()
	defer ec.mu.RUnlock()

	out := make([]HistoryEntry, len(ec.history))
	copy(out, ec.history)
	return out
}

// SetMetadata stores a metadata value.
func (ec *ExecutionContext) SetMetadata(key, value string) {
	ec.mu.Lock()
	ec.metadata[key] = value
	ec.mu.Unlock()
}

// Metadata returns a metadata value.
func (ec *ExecutionContext) Metadata(key string) (string, bool) {
	ec.mu.RLock()
	defer ec.mu.RUnlock()

	v, ok := ec.metadata[key]
	return v, ok
}
