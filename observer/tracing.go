package observer

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/agentbus/core"
)

// TracerName is the instrumentation scope of spans created by Tracing.
const TracerName = "github.com/hupe1980/agentbus"

// Tracing opens one span per agent call. The span starts in CallStart as a
// child of any span in the caller's context and ends in CallEnd.
type Tracing struct {
	tracer trace.Tracer
	spans  sync.Map // call id -> trace.Span
}

// NewTracing creates a Tracing observer using provider.
func NewTracing(provider trace.TracerProvider) *Tracing {
	return &Tracing{tracer: provider.Tracer(TracerName)}
}

// CallStart implements core.Observer.
func (t *Tracing) CallStart(ctx context.Context, info core.CallInfo) {
	_, span := t.tracer.Start(ctx, "agent.call "+info.Agent,
		trace.WithTimestamp(info.Start),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("agent.name", info.Agent),
			attribute.String("agent.run_id", info.RunID),
			attribute.String("agent.call_id", info.CallID),
			attribute.Int("agent.input.keys", len(info.Input)),
		),
	)
	t.spans.Store(info.CallID, span)
}

// CallEnd implements core.Observer.
func (t *Tracing) CallEnd(_ context.Context, info core.CallInfo, outcome core.CallOutcome) {
	v, ok := t.spans.LoadAndDelete(info.CallID)
	if !ok {
		return
	}
	span := v.(trace.Span)

	span.SetAttributes(
		attribute.String("agent.status", Status(outcome)),
		attribute.Int64("agent.duration_ms", outcome.Duration.Milliseconds()),
	)
	switch {
	case outcome.Err != nil:
		span.RecordError(outcome.Err)
		span.SetStatus(codes.Error, outcome.Err.Error())
	case outcome.Transfer != "":
		span.SetAttributes(attribute.String("agent.transfer", outcome.Transfer))
		span.SetStatus(codes.Ok, "")
	default:
		span.SetStatus(codes.Ok, "")
	}

	span.End(trace.WithTimestamp(info.Start.Add(outcome.Duration)))
}

var _ core.Observer = (*Tracing)(nil)
