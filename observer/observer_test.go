package observer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/hupe1980/agentbus/agent"
	"github.com/hupe1980/agentbus/core"
)

func echoAgent(name string) *agent.Agent {
	return agent.FromFunc(name, agent.MapFunc(func(_ context.Context, in core.Message) (core.Message, error) {
		return in, nil
	}))
}

func failingAgent(name string) *agent.Agent {
	return agent.FromFunc(name, agent.MapFunc(func(context.Context, core.Message) (core.Message, error) {
		return nil, errors.New("boom")
	}))
}

func withObserver(o core.Observer) *core.ExecutionContext {
	return core.NewExecutionContext(func(opts *core.ExecutionContextOptions) { opts.Observer = o })
}

func TestPrometheus(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(WithRegisterer(reg), WithNamespace("test"))
	ec := withObserver(p)

	for i := 0; i < 2; i++ {
		_, err := echoAgent("echo").Call(context.Background(), "hi", ec)
		require.NoError(t, err)
	}
	_, err := failingAgent("broken").Call(context.Background(), "hi", ec)
	require.Error(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(p.calls.WithLabelValues("echo", StatusSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.calls.WithLabelValues("broken", StatusError)))
	assert.Equal(t, 0.0, testutil.ToFloat64(p.inFlight.WithLabelValues("echo")))
	assert.Equal(t, 2, testutil.CollectAndCount(p.duration))

	n, err := testutil.GatherAndCount(reg, "test_agent_calls_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPrometheus_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPrometheus(WithRegisterer(reg))

	assert.Panics(t, func() { NewPrometheus(WithRegisterer(reg)) })
}

func TestStatus(t *testing.T) {
	assert.Equal(t, StatusSuccess, Status(core.CallOutcome{Output: core.Message{}}))
	assert.Equal(t, StatusTransfer, Status(core.CallOutcome{Transfer: "b"}))
	assert.Equal(t, StatusError, Status(core.CallOutcome{Err: errors.New("x"), Transfer: "b"}))
}

func newTracing() (*Tracing, *tracetest.SpanRecorder) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	return NewTracing(tp), sr
}

func attr(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestTracing(t *testing.T) {
	tr, sr := newTracing()
	ec := withObserver(tr)

	_, err := echoAgent("echo").Call(context.Background(), "hi", ec)
	require.NoError(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "agent.call echo", span.Name())
	assert.Equal(t, codes.Ok, span.Status().Code)

	v, ok := attr(span.Attributes(), "agent.run_id")
	require.True(t, ok)
	assert.Equal(t, ec.RunID, v.AsString())

	v, ok = attr(span.Attributes(), "agent.status")
	require.True(t, ok)
	assert.Equal(t, StatusSuccess, v.AsString())
}

func TestTracing_ErrorRecorded(t *testing.T) {
	tr, sr := newTracing()

	_, err := failingAgent("broken").Call(context.Background(), "hi", withObserver(tr))
	require.Error(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Contains(t, spans[0].Status().Description, "boom")
	require.Len(t, spans[0].Events(), 1)
	assert.Equal(t, "exception", spans[0].Events()[0].Name)
}

func TestTracing_ChildOfCallerSpan(t *testing.T) {
	tr, sr := newTracing()

	ctx, parent := tr.tracer.Start(context.Background(), "run")
	_, err := echoAgent("echo").Call(ctx, "hi", withObserver(tr))
	require.NoError(t, err)
	parent.End()

	spans := sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, parent.SpanContext().SpanID(), spans[0].Parent().SpanID())
	assert.Equal(t, parent.SpanContext().TraceID(), spans[0].SpanContext().TraceID())
}

func TestTracing_UnknownCallIsIgnored(t *testing.T) {
	tr, sr := newTracing()

	tr.CallEnd(context.Background(), core.CallInfo{CallID: "nope", Start: time.Now()}, core.CallOutcome{})

	assert.Empty(t, sr.Ended())
}

func TestMultiObserver(t *testing.T) {
	tr, sr := newTracing()
	p := NewPrometheus(WithRegisterer(prometheus.NewRegistry()))

	_, err := echoAgent("echo").Call(context.Background(), "hi", withObserver(core.MultiObserver{p, tr}))
	require.NoError(t, err)

	assert.Len(t, sr.Ended(), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(p.calls.WithLabelValues("echo", StatusSuccess)))
}
