package prompt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/stepmesh/core"
)

func fixedClock() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

func TestRender(t *testing.T) {
	out, err := Render("plain text", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain text", out)

	out, err = Render(`{{ .name | upper }} {{ .missing | default "n/a" }}`, map[string]any{"name": "go"})
	require.NoError(t, err)
	assert.Equal(t, "GO n/a", out)

	_, err = Render("{{ .broken ", nil)
	assert.Error(t, err)
}

func TestLibrary_MessagesInjectsDatetime(t *testing.T) {
	l := NewLibrary(func(o *Options) { o.Now = fixedClock })

	msgs, err := l.Messages(Planner, map[string]any{"messages": "2 더하기 3", "tool_desc": "math_add: adds"})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, core.RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Text(), "math_add: adds")
	assert.Contains(t, msgs[0].Text(), "2024-05-01T12:00:00Z")
	assert.Equal(t, core.RoleUser, msgs[1].Role)
	assert.Equal(t, "2 더하기 3", msgs[1].Text())
}

func TestLibrary_OverridesAndSystemPrompt(t *testing.T) {
	l := NewLibrary(func(o *Options) {
		o.Now = fixedClock
		o.Templates = map[string]Template{
			Execute:  {System: "exec at {{ .DATETIME }}"},
			"custom": {System: "hi {{ .who }}", User: "ask"},
		}
	})

	s, err := l.SystemPrompt(Execute, nil)
	require.NoError(t, err)
	assert.Equal(t, "exec at 2024-05-01T12:00:00Z", s)

	s, err = l.SystemPrompt(Execute, map[string]any{"DATETIME": "now"})
	require.NoError(t, err)
	assert.Equal(t, "exec at now", s)

	msgs, err := l.Messages("custom", map[string]any{"who": "there"})
	require.NoError(t, err)
	assert.Equal(t, "hi there", msgs[0].Text())

	l.Set("custom", Template{System: "only"})
	msgs, err = l.Messages("custom", nil)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	_, err = l.SystemPrompt("nope", nil)
	assert.Error(t, err)
	_, err = l.Messages("nope", nil)
	assert.Error(t, err)
}

func TestDefaults_AllRender(t *testing.T) {
	l := NewLibrary()
	for name := range Defaults() {
		_, err := l.Messages(name, map[string]any{"messages": "q", "plan": "1. a", "past_steps": "", "tool_desc": ""})
		assert.NoError(t, err, name)
	}
}
