package testutil

import (
	"context"
	"sync"

	"github.com/hupe1980/agentbus/core"
)

// ObservedEvent is one recorded observer callback.
type ObservedEvent struct {
	Kind    string // "start" or "end"
	Info    core.CallInfo
	Outcome core.CallOutcome
}

// RecordingObserver records every observer callback in arrival order.
type RecordingObserver struct {
	mu     sync.Mutex
	events []ObservedEvent
}

// NewRecordingObserver returns an empty RecordingObserver.
func NewRecordingObserver() *RecordingObserver { return &RecordingObserver{} }

// CallStart implements core.Observer.
func (r *RecordingObserver) CallStart(_ context.Context, info core.CallInfo) {
	r.mu.Lock()
	r.events = append(r.events, ObservedEvent{Kind: "start", Info: info})
	r.mu.Unlock()
}

// CallEnd implements core.Observer.
func (r *RecordingObserver) CallEnd(_ context.Context, info core.CallInfo, outcome core.CallOutcome) {
	r.mu.Lock()
	r.events = append(r.events, ObservedEvent{Kind: "end", Info: info, Outcome: outcome})
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *RecordingObserver) Events() []ObservedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ObservedEvent(nil), r.events...)
}

// Trace renders events as "start:agent" / "end:agent" strings.
func (r *RecordingObserver) Trace() []string {
	events := r.Events()
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Kind + ":" + e.Info.Agent
	}
	return out
}

// Recorder collects strings (typically agent names) from concurrent callers.
type Recorder struct {
	mu    sync.Mutex
	items []string
}

// Add appends s.
func (r *Recorder) Add(s string) {
	r.mu.Lock()
	r.items = append(r.items, s)
	r.mu.Unlock()
}

// Items returns a copy of the recorded strings.
func (r *Recorder) Items() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.items...)
}
