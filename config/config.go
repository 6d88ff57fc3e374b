// Package config loads agentbus pipelines from YAML.
//
// A pipeline file names the default model, the MCP servers to connect and
// the agents to run:
//
//	model:
//	  provider: openai
//	  name: gpt-4o-mini
//	servers:
//	  - name: sqlite
//	    command: uvx
//	    args: [mcp-server-sqlite, --db-path, ${DB_PATH}]
//	agents:
//	  - name: analyst
//	    instructions: "Answer using the database: {{$message}}"
//	    tools: sqlite
//
// Environment variables in the file are expanded before parsing. Unset
// variables are left as written.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/agentbus/mcp"
)

// ServerConfig describes one MCP server.
type ServerConfig = mcp.ServerConfig

// StringList accepts either a single string or a list of strings.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		if s == "" {
			*l = nil
			return nil
		}
		*l = StringList{s}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*l = list
		return nil
	default:
		return fmt.Errorf("line %d: expected a string or a list of strings", node.Line)
	}
}

// ModelConfig selects a model backend.
type ModelConfig struct {
	// Provider is openai, anthropic or mock.
	Provider    string  `yaml:"provider"`
	Name        string  `yaml:"name,omitempty"`
	APIKey      string  `yaml:"api_key,omitempty"`
	Temperature float64 `yaml:"temperature,omitempty"`
	MaxTokens   int64   `yaml:"max_tokens,omitempty"`
}

// AgentConfig describes one prompt agent. Unknown keys are ignored.
type AgentConfig struct {
	Name                 string         `yaml:"name"`
	Description          string         `yaml:"description,omitempty"`
	InputSchema          map[string]any `yaml:"input_schema,omitempty"`
	OutputSchema         map[string]any `yaml:"output_schema,omitempty"`
	IncludeInputInOutput bool           `yaml:"include_input_in_output,omitempty"`
	SubscribeTopic       StringList     `yaml:"subscribe_topic,omitempty"`
	PublishTopic         StringList     `yaml:"publish_topic,omitempty"`
	Instructions         string         `yaml:"instructions,omitempty"`
	OutputKey            string         `yaml:"output_key,omitempty"`
	Model                *ModelConfig   `yaml:"model,omitempty"`

	// Tools names other agents, whole servers ("sqlite") or single server
	// tools ("sqlite/read_query").
	Tools StringList `yaml:"tools,omitempty"`

	DisableLogging bool `yaml:"disable_logging,omitempty"`
}

// Pipeline is the root of a pipeline file.
type Pipeline struct {
	Model   *ModelConfig   `yaml:"model,omitempty"`
	Servers []ServerConfig `yaml:"servers,omitempty"`
	Agents  []AgentConfig  `yaml:"agents"`

	// Sequence runs the agents as a sequential chain instead of routing
	// over topics.
	Sequence bool `yaml:"sequence,omitempty"`

	MaxRounds int `yaml:"max_rounds,omitempty"`
	MaxCalls  int `yaml:"max_calls,omitempty"`
}

// Load reads and parses the pipeline file at path.
func Load(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Parse expands environment variables in data and decodes the pipeline.
// References to unset variables are kept as written, so template fields
// such as {{$message}} survive.
func Parse(data []byte) (*Pipeline, error) {
	expanded := os.Expand(string(data), func(name string) string {
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return "$" + name
	})

	var p Pipeline
	if err := yaml.Unmarshal([]byte(expanded), &p); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks names and references.
func (p *Pipeline) Validate() error {
	if len(p.Agents) == 0 {
		return fmt.Errorf("at least one agent is required")
	}

	servers := make(map[string]bool, len(p.Servers))
	for i, s := range p.Servers {
		if s.Name == "" {
			return fmt.Errorf("servers[%d]: name is required", i)
		}
		if servers[s.Name] {
			return fmt.Errorf("duplicate server name: %s", s.Name)
		}
		if err := s.Validate(); err != nil {
			return err
		}
		servers[s.Name] = true
	}

	agents := make(map[string]bool, len(p.Agents))
	for i, a := range p.Agents {
		if a.Name == "" {
			return fmt.Errorf("agents[%d]: name is required", i)
		}
		if agents[a.Name] {
			return fmt.Errorf("duplicate agent name: %s", a.Name)
		}
		agents[a.Name] = true
	}

	for _, a := range p.Agents {
		for _, ref := range a.Tools {
			server, _ := splitToolRef(ref)
			if !servers[server] && !agents[ref] {
				return fmt.Errorf("agent %s: unknown tool %q", a.Name, ref)
			}
			if ref == a.Name {
				return fmt.Errorf("agent %s: an agent cannot use itself as a tool", a.Name)
			}
		}
		if a.Model != nil {
			if err := a.Model.validate(); err != nil {
				return fmt.Errorf("agent %s: %w", a.Name, err)
			}
		}
	}

	if p.Model != nil {
		if err := p.Model.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (m *ModelConfig) validate() error {
	switch m.Provider {
	case ProviderOpenAI, ProviderAnthropic, ProviderMock:
		return nil
	case "":
		return fmt.Errorf("model provider is required")
	default:
		return fmt.Errorf("unsupported model provider: %s", m.Provider)
	}
}
