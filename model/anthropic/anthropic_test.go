package anthropic

import (
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/hupe1980/agentbus/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMessages_GroupsToolResults(t *testing.T) {
	msgs := buildMessages([]model.Message{
		{Role: model.RoleSystem, Content: "sys"},
		{Role: model.RoleUser, Content: "hi"},
		{Role: model.RoleAssistant, ToolCalls: []model.ToolCall{
			{ID: "a", Function: model.ToolCallFunction{Name: "x", Arguments: `{"q":1}`}},
			{ID: "b", Function: model.ToolCallFunction{Name: "y"}},
		}},
		{Role: model.RoleTool, ToolCallID: "a", Content: "1"},
		{Role: model.RoleTool, ToolCallID: "b", Content: "2"},
	})

	require.Len(t, msgs, 3)
	assert.Equal(t, anthropic.MessageParamRoleUser, msgs[0].Role)
	assert.Equal(t, anthropic.MessageParamRoleAssistant, msgs[1].Role)
	assert.Len(t, msgs[1].Content, 2)
	assert.Equal(t, anthropic.MessageParamRoleUser, msgs[2].Role)
	assert.Len(t, msgs[2].Content, 2)
}

func TestExtractSystem(t *testing.T) {
	blocks := extractSystem([]model.Message{
		{Role: model.RoleSystem, Content: "one"},
		{Role: model.RoleUser, Content: "u"},
		{Role: model.RoleSystem, Content: ""},
	})

	require.Len(t, blocks, 1)
	assert.Equal(t, "one", blocks[0].Text)
}

func TestBuildTools(t *testing.T) {
	tools := buildTools([]model.ToolDefinition{{Function: model.FunctionDefinition{
		Name: "query",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"sql": map[string]any{"type": "string"}},
			"required":   []any{"sql"},
		},
	}}})

	require.Len(t, tools, 1)
	require.NotNil(t, tools[0].OfTool)
	assert.Equal(t, "query", tools[0].OfTool.Name)
	assert.Equal(t, []string{"sql"}, tools[0].OfTool.InputSchema.Required)
}
