package openai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/stepmesh/core"
	"github.com/hupe1980/stepmesh/model"
)

func TestBuildMessages(t *testing.T) {
	req := model.Request{
		Instructions: "be brief",
		Contents: []core.Content{
			core.UserText("hi"),
			{Role: core.RoleUser, Parts: []core.Part{
				core.TextPart{Text: "look"},
				core.ImagePart{Data: "aGk=", MimeType: "image/jpeg"},
			}},
			{Role: core.RoleAssistant, Parts: []core.Part{
				core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: "c1", Name: "math_add", Arguments: `{"a":1}`}},
			}},
			{Role: core.RoleTool, Parts: []core.Part{
				core.FunctionResponsePart{FunctionResponse: core.FunctionResponse{ID: "c1", Name: "math_add", Response: "2"}},
			}},
			core.AssistantText("done"),
		},
	}

	msgs := buildMessages(req)
	require.Len(t, msgs, 6)
	assert.NotNil(t, msgs[0].OfSystem)
	assert.NotNil(t, msgs[1].OfUser)
	require.NotNil(t, msgs[2].OfUser)
	assert.Len(t, msgs[2].OfUser.Content.OfArrayOfContentParts, 2)
	require.NotNil(t, msgs[3].OfAssistant)
	require.Len(t, msgs[3].OfAssistant.ToolCalls, 1)
	assert.Equal(t, "math_add", msgs[3].OfAssistant.ToolCalls[0].Function.Name)
	require.NotNil(t, msgs[4].OfTool)
	assert.Equal(t, "c1", msgs[4].OfTool.ToolCallID)
	assert.NotNil(t, msgs[5].OfAssistant)
}

func TestFinalContent_OrdersToolCallsByIndex(t *testing.T) {
	agg := map[int64]*aggCall{
		2: {id: "c", name: "third"},
		0: {id: "a", name: "first", args: `{}`},
		1: {id: "b", name: "second"},
	}
	c := finalContent("thinking", agg)
	assert.Equal(t, "thinking", c.Text())

	calls := c.FunctionCalls()
	require.Len(t, calls, 3)
	assert.Equal(t, []string{"first", "second", "third"}, []string{calls[0].Name, calls[1].Name, calls[2].Name})
}

func TestBuildParams_ResponseFormatAndTools(t *testing.T) {
	m := NewModel(func(o *Options) { o.APIKey = "test"; o.Model = "gpt-4o" })
	params := m.buildParams(model.Request{
		Stream: true,
		Tools: []model.ToolDefinition{{Type: "function", Function: model.FunctionDefinition{
			Name: "math_add", Description: "adds", Parameters: map[string]any{"type": "object"},
		}}},
		ResponseFormat: &model.ResponseFormat{Name: "plan", Schema: map[string]any{"type": "object"}},
	}, nil)

	require.Len(t, params.Tools, 1)
	assert.Equal(t, "math_add", params.Tools[0].Function.Name)
	require.NotNil(t, params.ResponseFormat.OfJSONSchema)
	assert.Equal(t, "plan", params.ResponseFormat.OfJSONSchema.JSONSchema.Name)
	assert.Equal(t, "gpt-4o", m.Info().Name)
	assert.True(t, m.Info().SupportsStructuredOutput)
}

func TestDataURL(t *testing.T) {
	assert.Equal(t, "data:image/png;base64,eA==", dataURL(core.ImagePart{Data: "eA=="}))
}
