package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/hupe1980/agentbus/agent"
	"github.com/hupe1980/agentbus/core"
	"github.com/hupe1980/agentbus/internal/testutil"
	"github.com/hupe1980/agentbus/model"
	"github.com/hupe1980/agentbus/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// node builds an agent that records its name and returns {"from": name}
// plus the incoming $message.
func node(rec *testutil.Recorder, name string, sub []string, pub core.PublishTopic) *agent.Agent {
	return agent.FromFunc(name, agent.MapFunc(func(_ context.Context, in core.Message) (core.Message, error) {
		rec.Add(name)
		return core.Message{"from": name, "seen": in["from"]}, nil
	}), func(o *agent.Options) {
		o.SubscribeTopic = sub
		o.PublishTopic = pub
	})
}

func TestBus(t *testing.T) {
	rec := &testutil.Recorder{}
	a := node(rec, "a", []string{core.UserInputTopic, "x"}, core.PublishTopic{})
	b := node(rec, "b", []string{"x", "x"}, core.PublishTopic{})
	c := node(rec, "c", nil, core.PublishTopic{})

	bus := NewBus(a, nil, b, a, c)

	assert.Equal(t, []*agent.Agent{a, b, c}, bus.Agents())
	assert.Equal(t, []*agent.Agent{a, b}, bus.Subscribers("x"))
	assert.Equal(t, []*agent.Agent{a}, bus.Subscribers(core.UserInputTopic))
	assert.Empty(t, bus.Subscribers("missing"))
	assert.Equal(t, []string{core.UserInputTopic, "x"}, bus.Topics())
	assert.True(t, bus.HasSubscriptions())
	assert.False(t, NewBus(c).HasSubscriptions())
}

func TestRun_Chain(t *testing.T) {
	rec := &testutil.Recorder{}
	a := node(rec, "A", []string{core.UserInputTopic}, core.Topics("t1"))
	b := node(rec, "B", []string{"t1"}, core.PublishTopic{})

	res, err := New().Run(context.Background(), "hi", a, b)

	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, rec.Items())
	assert.Equal(t, core.Message{"from": "B", "seen": "A"}, res.Output)
	assert.Equal(t, 2, res.Rounds)
	require.Len(t, res.Outputs, 2)
	assert.Equal(t, Publication{Round: 1, Agent: "A", Topics: []string{"t1"}, Output: core.Message{"from": "A", "seen": nil}}, res.Outputs[0])
	assert.NotEmpty(t, res.RunID)
	assert.Len(t, res.Context.History(), 2)
}

func TestRun_FanOutFanIn(t *testing.T) {
	rec := &testutil.Recorder{}
	src := node(rec, "src", []string{core.UserInputTopic}, core.Topics("left", "right"))
	left := node(rec, "left", []string{"left"}, core.Topics("join"))
	right := node(rec, "right", []string{"right"}, core.Topics("join"))
	join := node(rec, "join", []string{"join"}, core.PublishTopic{})

	res, err := New().Run(context.Background(), "go", join, right, left, src)

	require.NoError(t, err)
	assert.Equal(t, []string{"src", "left", "right", "join", "join"}, rec.Items())
	assert.Equal(t, 3, res.Rounds)
	assert.Equal(t, core.Message{"from": "join", "seen": "right"}, res.Output)
}

func TestRun_RoundBarrier(t *testing.T) {
	rec := &testutil.Recorder{}
	first := node(rec, "first", []string{core.UserInputTopic}, core.Topics("next"))
	second := node(rec, "second", []string{core.UserInputTopic}, core.PublishTopic{})
	late := node(rec, "late", []string{"next"}, core.PublishTopic{})

	_, err := New().Run(context.Background(), "go", first, second, late)

	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "late"}, rec.Items())
}

func TestRun_UnsubscribedTopicIsDropped(t *testing.T) {
	rec := &testutil.Recorder{}
	a := node(rec, "A", []string{core.UserInputTopic}, core.Topics("nobody"))

	res, err := New().Run(context.Background(), "go", a)

	require.NoError(t, err)
	assert.Equal(t, 1, res.Rounds)
	assert.Equal(t, "A", res.Output["from"])
}

func TestRun_DynamicTopics(t *testing.T) {
	rec := &testutil.Recorder{}
	router := agent.FromFunc("router", agent.MapFunc(func(_ context.Context, in core.Message) (core.Message, error) {
		return core.Message{"kind": in["$message"]}, nil
	}), func(o *agent.Options) {
		o.SubscribeTopic = []string{core.UserInputTopic}
		o.PublishTopic = core.TopicFromFunc(func(_ context.Context, out core.Message) ([]string, error) {
			return []string{out["kind"].(string)}, nil
		})
	})
	billing := node(rec, "billing", []string{"billing"}, core.PublishTopic{})
	support := node(rec, "support", []string{"support"}, core.PublishTopic{})

	res, err := New().Run(context.Background(), "support", router, billing, support)

	require.NoError(t, err)
	assert.Equal(t, []string{"support"}, rec.Items())
	assert.Equal(t, "support", res.Output["from"])
}

func TestRun_TopicFuncFailure(t *testing.T) {
	rec := &testutil.Recorder{}
	bad := agent.FromFunc("bad", agent.MapFunc(func(context.Context, core.Message) (core.Message, error) {
		return core.Message{}, nil
	}), func(o *agent.Options) {
		o.SubscribeTopic = []string{core.UserInputTopic}
		o.PublishTopic = core.TopicFromFunc(func(context.Context, core.Message) ([]string, error) {
			return nil, errors.New("no route")
		})
	})
	after := node(rec, "after", []string{core.UserInputTopic}, core.PublishTopic{})

	_, err := New().Run(context.Background(), "go", bad, after)

	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrTopicFunc)

	var pe *PublishError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "bad", pe.Agent)
	assert.EqualError(t, pe.Err, "no route")
	assert.Empty(t, rec.Items())
}

func TestRun_TransferPublishesUnderTarget(t *testing.T) {
	rec := &testutil.Recorder{}
	specialist := node(rec, "specialist", nil, core.Topics("done"))
	triage := agent.FromFunc("triage", func(context.Context, core.Message, *core.ExecutionContext) (agent.Result, error) {
		rec.Add("triage")
		return agent.Transfer(specialist), nil
	}, func(o *agent.Options) {
		o.SubscribeTopic = []string{core.UserInputTopic}
		o.PublishTopic = core.Topics("ignored")
	})
	sink := node(rec, "sink", []string{"done"}, core.PublishTopic{})

	res, err := New().Run(context.Background(), "help", triage, sink)

	require.NoError(t, err)
	assert.Equal(t, []string{"triage", "specialist", "sink"}, rec.Items())
	assert.Equal(t, "specialist", res.Outputs[0].Agent)
	assert.Equal(t, []string{"done"}, res.Outputs[0].Topics)
}

func TestRun_AgentErrorAbortsRun(t *testing.T) {
	boom := agent.FromFunc("boom", agent.MapFunc(func(context.Context, core.Message) (core.Message, error) {
		return nil, errors.New("kaput")
	}), func(o *agent.Options) { o.SubscribeTopic = []string{core.UserInputTopic} })

	obs := testutil.NewRecordingObserver()
	_, err := New(WithObserver(obs)).Run(context.Background(), "go", boom)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaput")

	events := obs.Events()
	require.Len(t, events, 2)
	assert.Error(t, events[1].Outcome.Err)
}

func TestRun_MaxRounds(t *testing.T) {
	loop := agent.FromFunc("loop", agent.MapFunc(func(_ context.Context, in core.Message) (core.Message, error) {
		return in, nil
	}), func(o *agent.Options) {
		o.SubscribeTopic = []string{core.UserInputTopic, "again"}
		o.PublishTopic = core.Topics("again")
	})

	_, err := New(WithMaxRounds(3)).Run(context.Background(), "go", loop)

	assert.ErrorIs(t, err, ErrMaxRounds)
}

func TestRun_MaxCalls(t *testing.T) {
	rec := &testutil.Recorder{}
	a := node(rec, "a", []string{core.UserInputTopic}, core.PublishTopic{})
	b := node(rec, "b", []string{core.UserInputTopic}, core.PublishTopic{})

	_, err := New(WithMaxCalls(1)).Run(context.Background(), "go", a, b)

	assert.ErrorIs(t, err, core.ErrCallLimit)
	assert.Equal(t, []string{"a"}, rec.Items())
}

func TestRun_MaxCallsIsPerRun(t *testing.T) {
	rec := &testutil.Recorder{}
	a := node(rec, "a", []string{core.UserInputTopic}, core.PublishTopic{})

	e := New(WithAgents(a), WithMaxCalls(2))
	u := NewUserAgent(e, nil, WithHistory())

	for turn := 1; turn <= 5; turn++ {
		_, err := u.Call(context.Background(), "hi")
		require.NoError(t, err, "turn %d", turn)
	}
	assert.Len(t, u.Context().History(), 5)

	ec := e.NewContext()
	for turn := 1; turn <= 3; turn++ {
		_, err := e.RunSequence(context.Background(), "hi", a, a)
		require.NoError(t, err, "sequence %d", turn)
		_, err = e.RunWithContext(context.Background(), ec, "hi", a)
		require.NoError(t, err, "shared context %d", turn)
	}

	_, err := e.RunSequence(context.Background(), "hi", a, a, a)
	assert.ErrorIs(t, err, core.ErrCallLimit)
}

func TestRun_ConcurrentRunsShareAgents(t *testing.T) {
	double := agent.FromFunc("double", agent.MapFunc(func(_ context.Context, in core.Message) (core.Message, error) {
		return core.Message{"n": in["n"].(int64) * 2}, nil
	}), func(o *agent.Options) {
		o.InputSchema = schema.Object(map[string]*schema.Schema{"n": schema.Integer()}, "n")
		o.IncludeInputInOutput = true
		o.SubscribeTopic = []string{core.UserInputTopic}
		o.PublishTopic = core.Topics("doubled")
	})
	inc := agent.FromFunc("inc", agent.MapFunc(func(_ context.Context, in core.Message) (core.Message, error) {
		return core.Message{"n": in["n"].(int64) + 1}, nil
	}), func(o *agent.Options) {
		o.IncludeInputInOutput = true
		o.SubscribeTopic = []string{"doubled"}
	})

	e := New(WithAgents(double, inc))

	const runs = 50
	var wg sync.WaitGroup
	results := make([]*RunResult, runs)
	errs := make([]error, runs)
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = e.Run(context.Background(), core.Message{"n": int64(i), "run": i})
		}()
	}
	wg.Wait()

	runIDs := map[string]bool{}
	for i := 0; i < runs; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, int64(2*i+1), results[i].Output["n"], "run %d", i)
		assert.Equal(t, i, results[i].Output["run"], "run %d", i)
		assert.Len(t, results[i].Context.History(), 2)
		runIDs[results[i].RunID] = true
	}
	assert.Len(t, runIDs, runs)
}

func TestRun_Cancelled(t *testing.T) {
	rec := &testutil.Recorder{}
	a := node(rec, "a", []string{core.UserInputTopic}, core.PublishTopic{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().Run(ctx, "go", a)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, rec.Items())
}

func TestRun_SequenceFallback(t *testing.T) {
	rec := &testutil.Recorder{}
	var seen core.Message
	first := node(rec, "first", nil, core.PublishTopic{})
	second := agent.FromFunc("second", agent.MapFunc(func(_ context.Context, in core.Message) (core.Message, error) {
		seen = in
		return core.Message{"done": true}, nil
	}))

	res, err := New(WithAgents(first, second)).Run(context.Background(), "seed")

	require.NoError(t, err)
	assert.Equal(t, core.Message{"$message": "seed", "from": "first", "seen": nil}, seen)
	assert.Equal(t, core.Message{"done": true}, res.Output)
	assert.Equal(t, 2, res.Rounds)
}

func TestRunSequence_UsesDefaultModel(t *testing.T) {
	m := model.NewMockModel("mock", "test")
	m.AddResponse("Concept for AIGNE", "C")
	m.AddResponse("Draft from C", "D")
	m.AddResponse("Polish D", "FINAL")

	stage := func(name, instruction, key string) *agent.Agent {
		return agent.NewPromptAgent(name, func(o *agent.PromptOptions) {
			o.Instruction = agent.NewInstructionFromText(instruction)
			o.OutputKey = key
		})
	}

	res, err := New(WithModel(m)).RunSequence(context.Background(), core.Message{"product": "AIGNE"},
		stage("conceptExtractor", "Concept for {{product}}", "concept"),
		stage("writer", "Draft from {{concept}}", "draft"),
		stage("formatProof", "Polish {{draft}}", "content"),
	)

	require.NoError(t, err)
	assert.Equal(t, core.Message{"content": "FINAL"}, res.Output)
}

func TestRun_NoAgents(t *testing.T) {
	_, err := New().Run(context.Background(), "go")
	assert.ErrorIs(t, err, ErrNoAgents)

	_, err = New().RunSequence(context.Background(), "go")
	assert.ErrorIs(t, err, ErrNoAgents)
}

func TestRun_InvalidInput(t *testing.T) {
	rec := &testutil.Recorder{}
	_, err := New().Run(context.Background(), 42, node(rec, "a", nil, core.PublishTopic{}))

	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestRegister(t *testing.T) {
	rec := &testutil.Recorder{}
	a := node(rec, "a", nil, core.PublishTopic{})
	b := node(rec, "b", nil, core.PublishTopic{})

	e := New(WithAgents(a))
	e.Register(a, nil, b)

	assert.Equal(t, []*agent.Agent{a, b}, e.Agents())

	got, ok := e.GetAgent("b")
	require.True(t, ok)
	assert.Same(t, b, got)

	_, ok = e.GetAgent("zzz")
	assert.False(t, ok)
}

func TestShutdown(t *testing.T) {
	rec := &testutil.Recorder{}
	closer := func(name string, err error) func(o *agent.Options) {
		return func(o *agent.Options) {
			o.OnShutdown = func(context.Context) error {
				rec.Add(name)
				return err
			}
		}
	}
	noop := agent.MapFunc(func(context.Context, core.Message) (core.Message, error) { return core.Message{}, nil })

	tool := agent.FromFunc("tool", noop, closer("tool", nil))
	a := agent.FromFunc("a", noop, closer("a", nil), func(o *agent.Options) {
		o.Tools = []agent.ToolRef{agent.AgentTool(tool)}
	})
	b := agent.FromFunc("b", noop, closer("b", errors.New("stuck")), func(o *agent.Options) {
		o.Tools = []agent.ToolRef{agent.AgentTool(tool)}
	})

	err := New(WithAgents(a, b)).Shutdown(context.Background())

	assert.ErrorContains(t, err, "shutdown b: stuck")
	assert.Equal(t, []string{"a", "tool", "b"}, rec.Items())
}

func TestUserAgent(t *testing.T) {
	rec := &testutil.Recorder{}
	echo := agent.FromFunc("echo", agent.MapFunc(func(_ context.Context, in core.Message) (core.Message, error) {
		text, _ := core.MessageText(in)
		rec.Add(text)
		return core.Message{"reply": in["$message"]}, nil
	}), func(o *agent.Options) { o.SubscribeTopic = []string{core.UserInputTopic} })

	u := New().UserAgent(echo)

	out, err := u.Call(context.Background(), "one")
	require.NoError(t, err)
	assert.Equal(t, core.Message{"reply": "one"}, out)

	out, err = u.Call(context.Background(), "two")
	require.NoError(t, err)
	assert.Equal(t, core.Message{"reply": "two"}, out)

	assert.Equal(t, []string{"one", "two"}, rec.Items())
	assert.Nil(t, u.Context())
}

func TestUserAgent_WithHistory(t *testing.T) {
	echo := agent.FromFunc("echo", agent.MapFunc(func(_ context.Context, in core.Message) (core.Message, error) {
		return in, nil
	}))

	u := NewUserAgent(New(), []*agent.Agent{echo}, WithHistory())

	for _, msg := range []string{"one", "two", "three"} {
		_, err := u.Call(context.Background(), msg)
		require.NoError(t, err)
	}

	require.NotNil(t, u.Context())
	assert.Len(t, u.Context().History(), 3)
}

func TestUserAgent_AsAgent(t *testing.T) {
	inner := agent.FromFunc("inner", agent.MapFunc(func(_ context.Context, in core.Message) (core.Message, error) {
		return core.Message{"wrapped": in["$message"]}, nil
	}))

	wrapped := New().UserAgent(inner).Agent("bus")
	out, err := agent.Invoke(context.Background(), wrapped, "x", nil)

	require.NoError(t, err)
	assert.Equal(t, core.Message{"wrapped": "x"}, out)
}
