package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/hupe1980/agentbus/core"
	"github.com/hupe1980/agentbus/internal/testutil"
	"github.com/hupe1980/agentbus/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockProcessor for asserting what reaches the process step.
type MockProcessor struct {
	mock.Mock
}

func (m *MockProcessor) Process(ctx context.Context, input core.Message, ec *core.ExecutionContext) (Result, error) {
	args := m.Called(ctx, input, ec)
	return args.Get(0).(Result), args.Error(1)
}

func echo(name string, optFns ...func(o *Options)) *Agent {
	return FromFunc(name, MapFunc(func(_ context.Context, in core.Message) (core.Message, error) {
		return in, nil
	}), optFns...)
}

func TestCall_StringInputIsWrapped(t *testing.T) {
	p := new(MockProcessor)
	p.On("Process", mock.Anything, core.Message{"$message": "hello"}, mock.Anything).
		Return(Data(core.Message{"ok": true}), nil)

	a := New("echo", p)
	res, err := a.Call(context.Background(), "hello", nil)

	require.NoError(t, err)
	assert.Equal(t, core.Message{"ok": true}, res.Output())
	p.AssertExpectations(t)
}

func TestCall_InputValidationFailsBeforeProcess(t *testing.T) {
	p := new(MockProcessor)

	a := New("strict", p, func(o *Options) {
		o.InputSchema = schema.Object(map[string]*schema.Schema{"title": schema.String()}, "title")
	})

	_, err := a.Call(context.Background(), core.Message{"other": 1}, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrValidation)
	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "title", verr.Field)
	p.AssertNotCalled(t, "Process", mock.Anything, mock.Anything, mock.Anything)
}

func TestCall_InputCoercionAndPassthrough(t *testing.T) {
	var seen core.Message
	a := FromFunc("coerce", func(_ context.Context, in core.Message, _ *core.ExecutionContext) (Result, error) {
		seen = in
		return Data(core.Message{}), nil
	}, func(o *Options) {
		o.InputSchema = schema.Object(map[string]*schema.Schema{"n": schema.Integer()})
	})

	_, err := a.Call(context.Background(), core.Message{"n": "5", "extra": "kept"}, nil)

	require.NoError(t, err)
	assert.Equal(t, int64(5), seen["n"])
	assert.Equal(t, "kept", seen["extra"])
}

func TestCall_OutputValidation(t *testing.T) {
	a := FromFunc("bad-output", MapFunc(func(context.Context, core.Message) (core.Message, error) {
		return core.Message{"count": "many"}, nil
	}), func(o *Options) {
		o.OutputSchema = schema.Object(map[string]*schema.Schema{"count": schema.Integer()})
	})

	_, err := a.Call(context.Background(), "x", nil)

	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestCall_IncludeInputInOutput(t *testing.T) {
	a := FromFunc("merge", MapFunc(func(context.Context, core.Message) (core.Message, error) {
		return core.Message{"b": "out", "c": 3}, nil
	}), func(o *Options) { o.IncludeInputInOutput = true })

	res, err := a.Call(context.Background(), core.Message{"a": 1, "b": "in"}, nil)

	require.NoError(t, err)
	assert.Equal(t, core.Message{"a": 1, "b": "out", "c": 3}, res.Output())
}

func TestCall_NotCallable(t *testing.T) {
	a := New("container", nil)

	_, err := a.Call(context.Background(), "x", nil)

	assert.ErrorIs(t, err, core.ErrNotCallable)
	assert.False(t, a.IsCallable())
}

func TestCall_ProcessErrorIsWrapped(t *testing.T) {
	boom := errors.New("boom")
	a := FromFunc("fails", func(context.Context, core.Message, *core.ExecutionContext) (Result, error) {
		return Result{}, boom
	})

	_, err := a.Call(context.Background(), "x", nil)

	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "fails")
}

func TestCall_UnsupportedInput(t *testing.T) {
	_, err := echo("e").Call(context.Background(), 42, nil)
	assert.Error(t, err)
}

func TestCall_ObserverEvents(t *testing.T) {
	obs := testutil.NewRecordingObserver()
	ec := core.NewExecutionContext(func(o *core.ExecutionContextOptions) { o.Observer = obs })

	_, err := echo("a").Call(context.Background(), "x", ec)
	require.NoError(t, err)

	failing := FromFunc("b", func(context.Context, core.Message, *core.ExecutionContext) (Result, error) {
		return Result{}, errors.New("nope")
	})
	_, err = failing.Call(context.Background(), "x", ec)
	require.Error(t, err)

	assert.Equal(t, []string{"start:a", "end:a", "start:b", "end:b"}, obs.Trace())

	events := obs.Events()
	assert.Equal(t, ec.RunID, events[0].Info.RunID)
	assert.Equal(t, events[0].Info.CallID, events[1].Info.CallID)
	assert.Equal(t, core.Message{"$message": "x"}, events[1].Outcome.Output)
	assert.Error(t, events[3].Outcome.Err)
}

func TestCall_DisableLogging(t *testing.T) {
	obs := testutil.NewRecordingObserver()
	ec := core.NewExecutionContext(func(o *core.ExecutionContextOptions) { o.Observer = obs })

	_, err := echo("quiet", func(o *Options) { o.DisableLogging = true }).Call(context.Background(), "x", ec)

	require.NoError(t, err)
	assert.Empty(t, obs.Events())
}

func TestCall_AgentObserverOverridesContext(t *testing.T) {
	ctxObs := testutil.NewRecordingObserver()
	agentObs := testutil.NewRecordingObserver()
	ec := core.NewExecutionContext(func(o *core.ExecutionContextOptions) { o.Observer = ctxObs })

	_, err := echo("a", func(o *Options) { o.Observer = agentObs }).Call(context.Background(), "x", ec)

	require.NoError(t, err)
	assert.Empty(t, ctxObs.Events())
	assert.Len(t, agentObs.Events(), 2)
}

type panicObserver struct{ core.NoOpObserver }

func (panicObserver) CallStart(context.Context, core.CallInfo) { panic("observer exploded") }

func TestCall_PanickingObserverIsIgnored(t *testing.T) {
	out, err := Invoke(context.Background(), echo("a", func(o *Options) { o.Observer = panicObserver{} }), "x", nil)

	require.NoError(t, err)
	assert.Equal(t, "x", out["$message"])
}

func TestCall_RecordsHistory(t *testing.T) {
	ec := core.NewExecutionContext()

	_, err := echo("a").Call(context.Background(), "one", ec)
	require.NoError(t, err)
	_, err = echo("b").Call(context.Background(), "two", ec)
	require.NoError(t, err)

	h := ec.History()
	require.Len(t, h, 2)
	assert.Equal(t, "a", h[0].Agent)
	assert.Equal(t, core.Message{"$message": "two"}, h[1].Output)
}

func TestCall_ConcurrentCallsWithDistinctContexts(t *testing.T) {
	a := echo("shared", func(o *Options) {
		o.InputSchema = schema.Object(map[string]*schema.Schema{"n": schema.Integer()}, "n")
		o.IncludeInputInOutput = true
	})

	const calls = 32
	var wg sync.WaitGroup
	contexts := make([]*core.ExecutionContext, calls)
	outputs := make([]core.Message, calls)
	errs := make([]error, calls)
	for i := 0; i < calls; i++ {
		contexts[i] = core.NewExecutionContext()
		wg.Add(1)
		go func() {
			defer wg.Done()
			var res Result
			res, errs[i] = a.Call(context.Background(), core.Message{"n": fmt.Sprint(i)}, contexts[i])
			outputs[i] = res.Output()
		}()
	}
	wg.Wait()

	for i := 0; i < calls; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, core.Message{"n": int64(i)}, outputs[i])
		h := contexts[i].History()
		require.Len(t, h, 1)
		assert.Equal(t, core.Message{"n": int64(i)}, h[0].Output)
	}
}

func TestTransfer_FollowedByInvoke(t *testing.T) {
	var targetInput core.Message
	target := FromFunc("target", func(_ context.Context, in core.Message, _ *core.ExecutionContext) (Result, error) {
		targetInput = in
		return Data(core.Message{"handled_by": "target"}), nil
	})
	router := FromFunc("router", func(context.Context, core.Message, *core.ExecutionContext) (Result, error) {
		return Transfer(target), nil
	})

	obs := testutil.NewRecordingObserver()
	ec := core.NewExecutionContext(func(o *core.ExecutionContextOptions) { o.Observer = obs })

	res, err := router.Call(context.Background(), core.Message{"q": 1}, ec)
	require.NoError(t, err)
	assert.True(t, res.IsTransfer())
	assert.Same(t, target, res.Target())
	assert.Nil(t, res.Output())

	final, out, err := Resolve(context.Background(), router, core.Message{"q": 1}, ec)
	require.NoError(t, err)
	assert.Same(t, target, final)
	assert.Equal(t, core.Message{"handled_by": "target"}, out)
	assert.Equal(t, core.Message{"q": 1}, targetInput)

	events := obs.Events()
	assert.Equal(t, "target", events[1].Outcome.Transfer)
}

func TestTransfer_NilTarget(t *testing.T) {
	a := FromFunc("broken", func(context.Context, core.Message, *core.ExecutionContext) (Result, error) {
		return Transfer(nil), nil
	})

	_, err := a.Call(context.Background(), "x", nil)

	assert.Error(t, err)
}

func TestTransfer_DepthLimit(t *testing.T) {
	var loop *Agent
	loop = FromFunc("loop", func(context.Context, core.Message, *core.ExecutionContext) (Result, error) {
		return Transfer(loop), nil
	})

	_, err := Invoke(context.Background(), loop, "x", nil)

	assert.ErrorIs(t, err, ErrTransferDepth)
}

func TestAddTool(t *testing.T) {
	helper := echo("helper")
	a := echo("main", func(o *Options) { o.Tools = []ToolRef{AgentTool(helper)} })

	require.NoError(t, a.AddTool(FuncTool("fn", MapFunc(func(context.Context, core.Message) (core.Message, error) {
		return core.Message{}, nil
	}))))
	assert.Equal(t, []string{"helper", "fn"}, a.Tools().Names())

	_, err := a.Call(context.Background(), "x", nil)
	require.NoError(t, err)

	err = a.AddTool(AgentTool(echo("late")))
	assert.ErrorIs(t, err, ErrToolsFrozen)
	assert.Equal(t, 2, a.Tools().Len())
}

func TestAddTool_EmptyRefFailsCall(t *testing.T) {
	a := echo("main", func(o *Options) { o.Tools = []ToolRef{{}} })

	_, err := a.Call(context.Background(), "x", nil)

	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	a, b, c := echo("a"), echo("b"), echo("c")
	r := NewRegistry(a, nil, b, c)

	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []string{"a", "b", "c"}, r.Names())

	got, ok := r.Get("b")
	require.True(t, ok)
	assert.Same(t, b, got)

	_, ok = r.Get("missing")
	assert.False(t, ok)

	all := r.All()
	all[0] = nil
	assert.Equal(t, []string{"a", "b", "c"}, r.Names())

	var nilReg *Registry
	assert.Equal(t, 0, nilReg.Len())
}

func TestAccessors(t *testing.T) {
	a := echo("a", func(o *Options) {
		o.Description = "desc"
		o.SubscribeTopic = []string{"in"}
		o.PublishTopic = core.Topics("out")
	})

	assert.Equal(t, "a", a.Name())
	assert.Equal(t, "a", a.String())
	assert.Equal(t, "desc", a.Description())
	assert.Equal(t, []string{"in"}, a.SubscribeTopic())
	assert.False(t, a.PublishTopic().IsZero())
	assert.NotNil(t, a.InputSchema())
	assert.NotNil(t, a.OutputSchema())
	assert.False(t, a.IncludeInputInOutput())
	assert.False(t, a.DisableLogging())
}

func TestShutdown(t *testing.T) {
	assert.NoError(t, echo("plain").Shutdown(context.Background()))

	calls := 0
	a := echo("owner", func(o *Options) {
		o.OnShutdown = func(context.Context) error {
			calls++
			return nil
		}
	})
	require.NoError(t, a.Shutdown(context.Background()))
	require.NoError(t, a.Shutdown(context.Background()))
	assert.Equal(t, 2, calls)
}

func TestNewFunction(t *testing.T) {
	type sumArgs struct {
		A float64 `json:"a" description:"first operand"`
		B float64 `json:"b" description:"second operand"`
	}

	sum := NewFunction("sum", "Add two numbers", func(_ context.Context, args sumArgs) (any, error) {
		return args.A + args.B, nil
	})

	assert.Equal(t, "Add two numbers", sum.Description())
	assert.Equal(t, []string{"a", "b"}, sum.InputSchema().Required)

	out, err := Invoke(context.Background(), sum, core.Message{"a": "1.5", "b": 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, core.Message{"result": 3.5}, out)

	_, err = Invoke(context.Background(), sum, core.Message{"a": 1}, nil)
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestNewFunction_StructOutput(t *testing.T) {
	type in struct {
		City string `json:"city"`
	}
	type out struct {
		City string  `json:"city"`
		Temp float64 `json:"temp"`
	}

	weather := NewFunction("weather", "", func(_ context.Context, args in) (any, error) {
		return &out{City: args.City, Temp: 21}, nil
	})

	got, err := Invoke(context.Background(), weather, core.Message{"city": "Berlin"}, nil)
	require.NoError(t, err)
	assert.Equal(t, core.Message{"city": "Berlin", "temp": float64(21)}, got)
}
