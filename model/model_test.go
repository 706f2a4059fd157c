package model

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/stepmesh/core"
)

func TestCollect_StreamsPartialsThenFinal(t *testing.T) {
	m := NewScriptedModel(Turn{Text: "hello brave world"})

	var deltas []string
	resp, err := Collect(context.Background(), m, Request{Stream: true, Contents: []core.Content{core.UserText("hi")}}, func(d string) {
		deltas = append(deltas, d)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"hello ", "brave ", "world"}, deltas)
	assert.Equal(t, "hello brave world", resp.Content.Text())
	assert.Equal(t, core.RoleAssistant, resp.Content.Role)
}

func TestCollect_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	m := NewScriptedModel(Turn{Err: boom})
	_, err := Collect(context.Background(), m, Request{}, nil)
	assert.ErrorIs(t, err, boom)

	_, err = Collect(context.Background(), m, Request{}, nil)
	assert.ErrorIs(t, err, ErrScriptExhausted)
}

type partialOnly struct{}

func (partialOnly) Info() Info { return Info{Name: "partial"} }
func (partialOnly) Generate(context.Context, Request) (<-chan Response, <-chan error) {
	out := make(chan Response, 2)
	errs := make(chan error)
	out <- Response{Partial: true, Content: core.AssistantText("a")}
	out <- Response{Partial: true, Content: core.AssistantText("b")}
	close(out)
	close(errs)
	return out, errs
}

func TestCollect_FoldsPartialOnlyStreams(t *testing.T) {
	resp, err := Collect(context.Background(), partialOnly{}, Request{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ab", resp.Content.Text())
}

func TestScriptedModel_ToolCallsAndRepeat(t *testing.T) {
	m := NewScriptedModel(Turn{ToolCalls: []core.FunctionCall{{ID: "1", Name: "math_add", Arguments: `{"a":1}`}}}).
		Repeat(Turn{Text: "again"})

	resp, err := Collect(context.Background(), m, Request{}, nil)
	require.NoError(t, err)
	assert.True(t, resp.Content.HasFunctionCalls())
	assert.Equal(t, "tool_calls", resp.FinishReason)

	for i := 0; i < 2; i++ {
		resp, err = Collect(context.Background(), m, Request{}, nil)
		require.NoError(t, err)
		assert.Equal(t, "again", resp.Content.Text())
	}
	assert.Equal(t, 3, m.CallCount())
	assert.Len(t, m.Requests(), 3)
}

func TestEchoModel(t *testing.T) {
	m := NewEchoModel()
	resp, err := Collect(context.Background(), m, Request{Contents: []core.Content{core.UserText("ping")}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Echo: ping", resp.Content.Text())

	_, err = Collect(context.Background(), m, Request{}, nil)
	assert.Error(t, err)

	out, err := Structured[planOut](context.Background(), m, "plan", "", []core.Content{core.UserText("ping")})
	require.NoError(t, err)
	assert.Equal(t, []string{"ping"}, out.Steps)
}

type planOut struct {
	Steps []string `json:"steps" jsonschema:"description=ordered steps"`
}

func TestSchemaFor(t *testing.T) {
	s := SchemaFor[planOut]()
	assert.Equal(t, "object", s["type"])
	assert.NotContains(t, s, "$schema")
	props, ok := s["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "steps")
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{`{"a":1}`, `{"a":1}`, true},
		{"```json\n{\"a\": {\"b\": 2}}\n```", `{"a": {"b": 2}}`, true},
		{`Sure! {"steps": ["x"]} hope this helps`, `{"steps": ["x"]}`, true},
		{`{broken} then {"ok": true}`, `{"ok": true}`, true},
		{"no json", "", false},
	}
	for _, tt := range tests {
		got, ok := ExtractJSON(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestDecodeStructured(t *testing.T) {
	schema := SchemaFor[planOut]()

	out, err := DecodeStructured[planOut](`{"steps": ["a", "b"]}`, schema)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, out.Steps)

	_, err = DecodeStructured[planOut](`{"steps": 3}`, schema)
	assert.ErrorIs(t, err, ErrInvalidStructuredOutput)

	_, err = DecodeStructured[planOut](`nothing`, schema)
	assert.ErrorIs(t, err, ErrInvalidStructuredOutput)
}

func TestStructured_AddsSchemaForPlainProviders(t *testing.T) {
	m := NewScriptedModel(Turn{Text: `{"steps": ["one"]}`})
	m.info.SupportsStructuredOutput = false

	out, err := Structured[planOut](context.Background(), m, "plan", "make a plan", []core.Content{core.UserText("q")})
	require.NoError(t, err)
	assert.Equal(t, []string{"one"}, out.Steps)

	req := m.Requests()[0]
	require.NotNil(t, req.ResponseFormat)
	assert.Equal(t, "plan", req.ResponseFormat.Name)
	assert.True(t, strings.Contains(req.Instructions, "JSON schema"))
}
