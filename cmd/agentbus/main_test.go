package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentbus/core"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRun(t *testing.T) {
	path := writeFile(t, `
model: {provider: mock}
sequence: true
agents:
  - name: concept
    instructions: "Features of {{product}}"
    output_key: concept
  - name: writer
    instructions: "Copy for {{concept}}"
    output_key: draft
`)

	stdout, _, err := execute(t, "run", "--config", path, "--input", `{"product": "widget"}`)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.Equal(t, "Mock response to: Copy for Mock response to: Features of widget", out["draft"])
}

func TestRun_TextInputAndLogs(t *testing.T) {
	path := writeFile(t, "model: {provider: mock}\nagents: [{name: echo}]\n")

	stdout, stderr, err := execute(t, "--log-level", "info", "run", "-c", path, "-i", "hello")
	require.NoError(t, err)

	assert.JSONEq(t, `{"$message": "Mock response to: hello"}`, stdout)
	assert.Contains(t, stderr, "Agent call completed")
	assert.Contains(t, stderr, "pipeline run")
}

func TestRun_RequiresConfig(t *testing.T) {
	_, _, err := execute(t, "run", "--input", "x")
	assert.ErrorContains(t, err, `required flag(s) "config" not set`)
}

func TestRun_InvalidConfig(t *testing.T) {
	path := writeFile(t, "agents: []\n")

	_, _, err := execute(t, "run", "--config", path)

	assert.ErrorContains(t, err, "at least one agent is required")
}

func TestMCPInspect_ConnectionFailure(t *testing.T) {
	_, _, err := execute(t, "mcp", "inspect", "--command", "/nonexistent/server")

	assert.ErrorIs(t, err, core.ErrConnection)
}

func TestMCPInspect_RequiresServer(t *testing.T) {
	_, _, err := execute(t, "mcp", "inspect")

	assert.ErrorIs(t, err, core.ErrConnection)
	assert.ErrorContains(t, err, "requires a command")
}

func TestMCPCall_InvalidArgs(t *testing.T) {
	_, _, err := execute(t, "mcp", "call", "echo", "--args", "{nope", "--command", "x")

	assert.ErrorContains(t, err, "invalid --args")
}

func TestParseInput(t *testing.T) {
	assert.Equal(t, core.Message{"a": 1.0}, parseInput(`{"a": 1}`))
	assert.Equal(t, "plain text", parseInput("plain text"))
	assert.Equal(t, "[1, 2]", parseInput("[1, 2]"))
	assert.Equal(t, "null", parseInput("null"))
}

func TestServerFlagsConfig(t *testing.T) {
	s := &serverFlags{command: "uvx", args: []string{"a", "b"}}

	cfg := s.config()

	assert.Equal(t, "uvx", cfg.Name)
	assert.Equal(t, []string{"a", "b"}, cfg.Args)
}
