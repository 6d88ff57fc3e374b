package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentbus/agent"
	"github.com/hupe1980/agentbus/core"
	"github.com/hupe1980/agentbus/mcp"
)

type serverFlags struct {
	name      string
	command   string
	args      []string
	env       map[string]string
	url       string
	transport string
	headers   map[string]string
	timeout   time.Duration
}

func (s *serverFlags) register(cmd *cobra.Command) {
	fl := cmd.PersistentFlags()
	fl.StringVar(&s.name, "name", "", "server name used in logs (defaults to the command or url)")
	fl.StringVar(&s.command, "command", "", "command launching a stdio server")
	fl.StringArrayVar(&s.args, "arg", nil, "argument of the stdio command (repeatable)")
	fl.StringToStringVar(&s.env, "env", nil, "extra environment of the stdio command (KEY=VALUE)")
	fl.StringVar(&s.url, "url", "", "url of an sse or websocket server")
	fl.StringVar(&s.transport, "transport", "", "transport (stdio, sse, websocket); inferred when empty")
	fl.StringToStringVar(&s.headers, "header", nil, "HTTP header sent to url servers (KEY=VALUE)")
	fl.DurationVar(&s.timeout, "timeout", mcp.DefaultStartupTimeout, "startup timeout")
}

func (s *serverFlags) config() mcp.ServerConfig {
	cfg := mcp.ServerConfig{
		Name:      s.name,
		Transport: s.transport,
		Command:   s.command,
		Args:      s.args,
		Env:       s.env,
		URL:       s.url,
		Headers:   s.headers,
	}
	if cfg.Name == "" {
		cfg.Name = cfg.DisplayName()
	}
	return cfg
}

func (s *serverFlags) connect(cmd *cobra.Command, g *globalFlags) (*mcp.Bridge, error) {
	logger := g.logger(cmd.ErrOrStderr()).WithComponent("mcp")
	return mcp.Connect(cmd.Context(), s.config(),
		mcp.WithLogger(logger),
		mcp.WithStartupTimeout(s.timeout),
	)
}

func newMCPCmd(g *globalFlags) *cobra.Command {
	s := &serverFlags{}

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Inspect and call MCP servers",
	}
	s.register(cmd)

	cmd.AddCommand(newMCPInspectCmd(g, s), newMCPCallCmd(g, s), newMCPPromptCmd(g, s))
	return cmd
}

type toolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema"`
}

type inspection struct {
	Server       string     `json:"server"`
	Instructions string     `json:"instructions,omitempty"`
	Tools        []toolInfo `json:"tools"`
	Prompts      []toolInfo `json:"prompts"`
}

func describe(agents []*agent.Agent) []toolInfo {
	out := make([]toolInfo, 0, len(agents))
	for _, a := range agents {
		out = append(out, toolInfo{
			Name:        a.Name(),
			Description: a.Description(),
			InputSchema: a.InputSchema().JSONSchema(),
		})
	}
	return out
}

func newMCPInspectCmd(g *globalFlags, s *serverFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "List the tools and prompts of a server",
		Example: `  agentbus mcp inspect --command uvx --arg mcp-server-sqlite --arg --db-path --arg test.db
  agentbus mcp inspect --url http://localhost:8000/sse`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := s.connect(cmd, g)
			if err != nil {
				return err
			}
			defer b.Shutdown(cmd.Context())

			info := inspection{
				Server:  b.ServerName(),
				Tools:   describe(b.Tools().All()),
				Prompts: describe(b.Prompts().All()),
			}
			if init := b.Client().InitializeResult(); init != nil {
				info.Instructions = init.Instructions
			}
			return printJSON(cmd.OutOrStdout(), info)
		},
	}
}

func decodeArgs(raw string) (core.Message, error) {
	if raw == "" {
		return core.Message{}, nil
	}
	var msg core.Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return nil, fmt.Errorf("invalid --args: %w", err)
	}
	return msg, nil
}

func newMCPCallCmd(g *globalFlags, s *serverFlags) *cobra.Command {
	var rawArgs string

	cmd := &cobra.Command{
		Use:     "call TOOL",
		Short:   "Call a tool and print its result",
		Example: `  agentbus mcp call read_query --args '{"query": "SELECT 1"}' --command uvx --arg mcp-server-sqlite`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := decodeArgs(rawArgs)
			if err != nil {
				return err
			}

			b, err := s.connect(cmd, g)
			if err != nil {
				return err
			}
			defer b.Shutdown(cmd.Context())

			tool, ok := b.Tools().Get(args[0])
			if !ok {
				return fmt.Errorf("server %s has no tool %s", b.ServerName(), args[0])
			}

			out, err := agent.Invoke(cmd.Context(), tool, input, nil)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), out); err != nil {
				return err
			}
			return mcp.ToolError(tool.Name(), out)
		},
	}
	cmd.Flags().StringVar(&rawArgs, "args", "", "tool arguments as a JSON object")

	return cmd
}

func newMCPPromptCmd(g *globalFlags, s *serverFlags) *cobra.Command {
	var rawArgs string

	cmd := &cobra.Command{
		Use:   "prompt NAME",
		Short: "Render a prompt and print its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := decodeArgs(rawArgs)
			if err != nil {
				return err
			}

			b, err := s.connect(cmd, g)
			if err != nil {
				return err
			}
			defer b.Shutdown(cmd.Context())

			prompt, ok := b.Prompts().Get(args[0])
			if !ok {
				return fmt.Errorf("server %s has no prompt %s", b.ServerName(), args[0])
			}

			out, err := agent.Invoke(cmd.Context(), prompt, input, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&rawArgs, "args", "", "prompt arguments as a JSON object")

	return cmd
}
