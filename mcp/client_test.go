package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentbus/core"
)

func connectClient(t *testing.T, s *fakeServer) (*Client, *memTransport) {
	t.Helper()
	tr := newMemTransport(s)
	c := NewClient(tr, func(o *ClientOptions) { o.Name = "fake" })
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { _ = c.Close() })
	return c, tr
}

func TestClient_InitializeOnce(t *testing.T) {
	s := &fakeServer{}
	c, _ := connectClient(t, s)

	first := c.InitializeResult()
	require.NotNil(t, first)
	assert.Equal(t, "fake", first.ServerInfo.Name)
	assert.NotNil(t, first.Capabilities.Tools)

	again, err := c.Initialize(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, again)

	count := 0
	for _, m := range s.Methods() {
		if m == MethodInitialize {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestClient_ListToolsFollowsCursor(t *testing.T) {
	c, _ := connectClient(t, &fakeServer{})

	tools, err := c.ListTools(context.Background())

	require.NoError(t, err)
	assert.Len(t, tools, 7)
	assert.Equal(t, "echo", tools[0].Name)
	assert.Equal(t, "weird", tools[6].Name)
}

func TestClient_ConcurrentRequestsInterleave(t *testing.T) {
	c, _ := connectClient(t, &fakeServer{})

	const n = 8
	var wg sync.WaitGroup
	results := make([]string, n)
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Earlier requests sleep longer, so responses arrive in reverse.
			res, err := c.CallTool(context.Background(), "slow", map[string]any{"n": i, "delay": (n - i) * 10})
			if err != nil {
				errs[i] = err
				return
			}
			results[i] = res.Text()
		}()
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, fmt.Sprint(i), results[i])
	}
}

func TestClient_AnswersServerPing(t *testing.T) {
	s := &fakeServer{}
	c, _ := connectClient(t, s)

	res, err := c.CallTool(context.Background(), "ping_me", nil)
	require.NoError(t, err)
	assert.Equal(t, "pinged", res.Text())

	require.Eventually(t, func() bool { return len(s.Replies()) == 1 }, time.Second, 5*time.Millisecond)
	reply := s.Replies()[0]
	assert.JSONEq(t, `"srv-1"`, string(reply.ID))
	assert.JSONEq(t, `{}`, string(reply.Result))
	assert.Nil(t, reply.Error)
}

func TestClient_Ping(t *testing.T) {
	c, _ := connectClient(t, &fakeServer{})
	assert.NoError(t, c.Ping(context.Background()))
}

func TestClient_UnknownMethod(t *testing.T) {
	c, _ := connectClient(t, &fakeServer{})

	err := c.Call(context.Background(), "resources/list", nil, nil)

	var pe *core.ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, CodeMethodNotFound, pe.Code)
}

func TestClient_InvalidResult(t *testing.T) {
	c, _ := connectClient(t, &fakeServer{})

	var out struct {
		Tools string `json:"tools"`
	}
	err := c.Call(context.Background(), MethodToolsList, nil, &out)

	var pe *core.ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, CodeParseError, pe.Code)
}

func TestClient_ContextCancel(t *testing.T) {
	c, _ := connectClient(t, &fakeServer{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.CallTool(ctx, "slow", map[string]any{"n": 1, "delay": 500})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_PendingRequestFailsWhenSessionEnds(t *testing.T) {
	c, _ := connectClient(t, &fakeServer{})

	errCh := make(chan error, 1)
	go func() {
		_, err := c.CallTool(context.Background(), "slow", map[string]any{"n": 1, "delay": 1000})
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, c.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, core.ErrConnection)
	case <-time.After(time.Second):
		t.Fatal("pending request was not released")
	}

	select {
	case <-c.Done():
	default:
		t.Fatal("session not marked done")
	}
}

func TestMessageNumericID(t *testing.T) {
	for _, tc := range []struct {
		raw  string
		want int64
		ok   bool
	}{
		{`7`, 7, true},
		{`"12"`, 12, true},
		{`"abc"`, 0, false},
		{`null`, 0, false},
	} {
		m := message{ID: json.RawMessage(tc.raw)}
		got, ok := m.numericID()
		assert.Equal(t, tc.ok, ok, tc.raw)
		assert.Equal(t, tc.want, got, tc.raw)
	}
}
