package agent

import "sync"

// Registry is an ordered collection of agents addressable by name. It is
// read-only for callers; agents populate it from their tool references.
type Registry struct {
	mu     sync.RWMutex
	agents []*Agent
}

// NewRegistry returns a registry holding agents in the given order.
func NewRegistry(agents ...*Agent) *Registry {
	r := &Registry{}
	for _, a := range agents {
		r.add(a)
	}
	return r
}

func (r *Registry) add(a *Agent) {
	if a == nil {
		return
	}
	r.mu.Lock()
	r.agents = append(r.agents, a)
	r.mu.Unlock()
}

// Get returns the first agent registered under name.
func (r *Registry) Get(name string) (*Agent, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, a := range r.agents {
		if a.name == name {
			return a, true
		}
	}
	return nil, false
}

// All returns the agents in insertion order.
func (r *Registry) All() []*Agent {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]*Agent(nil), r.agents...)
}

// Names returns the agent names in insertion order.
func (r *Registry) Names() []string {
	all := r.All()
	names := make([]string, len(all))
	for i, a := range all {
		names[i] = a.name
	}
	return names
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.agents)
}
