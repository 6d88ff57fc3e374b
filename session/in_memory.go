package session

import (
	"sort"
	"sync"

	"github.com/hupe1980/agentbus/core"
)

// Store looks up the ExecutionContext of a conversation.
type Store interface {
	// Get returns the context of id, creating it with newContext when the
	// conversation does not exist yet.
	Get(id string, newContext func() *core.ExecutionContext) *core.ExecutionContext

	// Delete forgets the conversation. Unknown ids are ignored.
	Delete(id string)

	// IDs lists the known conversations in sorted order.
	IDs() []string
}

// InMemoryStore is a volatile Store keeping conversations in a process
// local map. It is safe for concurrent access.
type InMemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*core.ExecutionContext
}

// NewInMemoryStore constructs an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]*core.ExecutionContext)}
}

// Get implements Store.
func (s *InMemoryStore) Get(id string, newContext func() *core.ExecutionContext) *core.ExecutionContext {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ec, ok := s.sessions[id]; ok {
		return ec
	}

	var ec *core.ExecutionContext
	if newContext != nil {
		ec = newContext()
	}
	if ec == nil {
		ec = core.NewExecutionContext()
	}
	ec.SetMetadata("session_id", id)
	s.sessions[id] = ec
	return ec
}

// Delete implements Store.
func (s *InMemoryStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// IDs implements Store.
func (s *InMemoryStore) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

var _ Store = (*InMemoryStore)(nil)
