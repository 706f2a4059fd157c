package stepmesh

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/stepmesh/agent"
	"github.com/hupe1980/stepmesh/config"
	"github.com/hupe1980/stepmesh/core"
	"github.com/hupe1980/stepmesh/engine"
	"github.com/hupe1980/stepmesh/logging"
	"github.com/hupe1980/stepmesh/model"
	"github.com/hupe1980/stepmesh/stream"
	"github.com/hupe1980/stepmesh/tool"
)

func quiet(o *Options) { o.Logger = logging.NoOpLogger{} }

type addArgs struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

func newAddTool() tool.Tool {
	return tool.NewTypedTool("calc_add", "Add two numbers", func(_ context.Context, in addArgs) (any, error) {
		return in.A + in.B, nil
	})
}

func TestNew_EchoDefaults(t *testing.T) {
	mesh, err := New(quiet)
	require.NoError(t, err)

	res := mesh.Invoke(context.Background(), "t1", []core.Content{core.UserText("hello")})
	require.Empty(t, res.Error)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, "Echo: hello", res.Messages[0].Text())

	history, err := mesh.History("t1")
	require.NoError(t, err)
	assert.Len(t, history, 2)
	assert.Equal(t, core.PhaseReasoning, mesh.State("t1").Phase)
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(quiet, func(o *Options) { o.Config.Engine.Strategy = "swarm" })
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestNewModel(t *testing.T) {
	temp := 0.1
	for _, tc := range []struct {
		provider string
		name     string
		want     string
	}{
		{provider: "openai", name: "gpt-4o", want: "openai"},
		{provider: "anthropic", name: "claude-sonnet-4-5", want: "anthropic"},
		{provider: "echo", want: "echo"},
	} {
		t.Run(tc.provider, func(t *testing.T) {
			m, err := NewModel(config.ModelConfig{Provider: tc.provider, Name: tc.name, Temperature: &temp, MaxTokens: 512})
			require.NoError(t, err)
			assert.Equal(t, tc.want, m.Info().Provider)
			if tc.name != "" {
				assert.Equal(t, tc.name, m.Info().Name)
			}
		})
	}

	_, err := NewModel(config.ModelConfig{Provider: "bard"})
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestStepMesh_ToolsAndRestart(t *testing.T) {
	add := newAddTool()

	mesh, err := New(quiet, func(o *Options) {
		o.Tools = []tool.Tool{add}
		o.Config.Tools.RestartSettleDelay = time.Millisecond
	})
	require.NoError(t, err)

	ctx := context.Background()
	assert.Equal(t, 0, mesh.Tools(ctx).Len())

	require.NoError(t, mesh.Start(ctx))
	assert.Equal(t, 1, mesh.Tools(ctx).Len())

	res := mesh.RestartTools(ctx)
	assert.True(t, res.Success)
	assert.Contains(t, res.Message, "1개 서버와 1개 도구")

	require.NoError(t, mesh.Stop(ctx))
	assert.Equal(t, 0, mesh.Tools(ctx).Len())
}

func TestStepMesh_ReactToolCall(t *testing.T) {
	add := newAddTool()
	m := model.NewScriptedModel(
		model.Turn{ToolCalls: []core.FunctionCall{{ID: "c1", Name: "calc_add", Arguments: `{"a": 2, "b": 3}`}}},
		model.Turn{Text: "5입니다"},
	)

	mesh, err := New(quiet, func(o *Options) {
		o.Model = m
		o.Tools = []tool.Tool{add}
	})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, mesh.Start(ctx))

	frames, err := mesh.Stream(ctx, "t1", []core.Content{core.UserText("2 더하기 3은?")})
	require.NoError(t, err)

	var got []stream.Frame
	for f := range frames {
		got = append(got, f)
	}

	var toolUse, toolResult bool
	for _, f := range got {
		for _, it := range f.Chunk {
			switch it.Type {
			case stream.ItemToolUse:
				toolUse = true
				assert.Equal(t, "calc_add", it.Name)
				assert.Equal(t, `{"a":2,"b":3}`, it.Input)
			case stream.ItemToolResult:
				toolResult = true
				assert.Equal(t, "5", it.Text)
			}
		}
	}
	assert.True(t, toolUse)
	assert.True(t, toolResult)

	history, err := mesh.History("t1")
	require.NoError(t, err)
	assert.Equal(t, "5입니다", history[len(history)-1].Text())
}

func TestStepMesh_PlanExecuteResume(t *testing.T) {
	mesh, err := New(quiet, func(o *Options) { o.Config.Engine.AutoResume = false })
	require.NoError(t, err)
	ctx := context.Background()

	pe := func(o *engine.RunOptions) { o.Strategy = agent.StrategyPlanExecute }

	var interrupts int
	frames, err := mesh.Stream(ctx, "t1", []core.Content{core.UserText("9 빼기 4")}, pe)
	for {
		require.NoError(t, err)
		var suspended bool
		for f := range frames {
			if f.Interrupt != nil {
				suspended = true
				interrupts++
				assert.Equal(t, stream.TypeInterrupt, f.Metadata.Type)
			}
		}
		if !suspended {
			break
		}
		frames, err = mesh.Resume(ctx, "t1", "", pe)
	}

	assert.Equal(t, 2, interrupts)
	history, err := mesh.History("t1")
	require.NoError(t, err)
	assert.Equal(t, "결과: 5", history[len(history)-1].Text())
}
