package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentbus/core"
)

func TestInMemoryStore_GetCreatesOnce(t *testing.T) {
	s := NewInMemoryStore()
	created := 0
	newContext := func() *core.ExecutionContext {
		created++
		return core.NewExecutionContext()
	}

	first := s.Get("chat-1", newContext)
	again := s.Get("chat-1", newContext)

	assert.Same(t, first, again)
	assert.Equal(t, 1, created)

	id, ok := first.Metadata("session_id")
	require.True(t, ok)
	assert.Equal(t, "chat-1", id)
}

func TestInMemoryStore_NilFactory(t *testing.T) {
	s := NewInMemoryStore()

	ec := s.Get("x", nil)

	require.NotNil(t, ec)
	assert.NotEmpty(t, ec.RunID)
}

func TestInMemoryStore_DeleteAndIDs(t *testing.T) {
	s := NewInMemoryStore()
	s.Get("b", nil)
	s.Get("a", nil)

	assert.Equal(t, []string{"a", "b"}, s.IDs())

	old := s.Get("a", nil)
	s.Delete("a")
	s.Delete("unknown")

	assert.Equal(t, []string{"b"}, s.IDs())
	assert.NotSame(t, old, s.Get("a", nil))
}

func TestInMemoryStore_Concurrent(t *testing.T) {
	s := NewInMemoryStore()

	var wg sync.WaitGroup
	results := make([]*core.ExecutionContext, 16)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = s.Get("shared", nil)
		}()
	}
	wg.Wait()

	for _, ec := range results {
		assert.Same(t, results[0], ec)
	}
}
