package engine

import (
	"sort"

	"github.com/hupe1980/agentbus/agent"
)

// Bus maps topics to the agents subscribed to them. A Bus is immutable after
// construction; subscribers of a topic keep their registration order.
type Bus struct {
	agents []*agent.Agent
	topics map[string][]*agent.Agent
}

// NewBus indexes the subscriptions of agents. Nil agents are skipped and an
// agent listed twice is only registered once.
func NewBus(agents ...*agent.Agent) *Bus {
	b := &Bus{topics: make(map[string][]*agent.Agent)}
	seen := make(map[*agent.Agent]bool, len(agents))

	for _, a := range agents {
		if a == nil || seen[a] {
			continue
		}
		seen[a] = true
		b.agents = append(b.agents, a)

		for _, t := range uniq(a.SubscribeTopic()) {
			b.topics[t] = append(b.topics[t], a)
		}
	}

	return b
}

// Subscribers returns the agents subscribed to topic in registration order.
func (b *Bus) Subscribers(topic string) []*agent.Agent {
	return append([]*agent.Agent(nil), b.topics[topic]...)
}

// Topics returns all subscribed topic names, sorted.
func (b *Bus) Topics() []string {
	out := make([]string, 0, len(b.topics))
	for t := range b.topics {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Agents returns the registered agents in registration order.
func (b *Bus) Agents() []*agent.Agent {
	return append([]*agent.Agent(nil), b.agents...)
}

// HasSubscriptions reports whether any agent subscribes to a topic.
func (b *Bus) HasSubscriptions() bool { return len(b.topics) > 0 }

func uniq(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0:0]
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
