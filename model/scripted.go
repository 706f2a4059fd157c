package model

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/hupe1980/stepmesh/core"
)

// ErrScriptExhausted is returned once a ScriptedModel has no turns left.
var ErrScriptExhausted = errors.New("scripted model: no turns left")

// Turn is one scripted model reply. Exactly one of Text/ToolCalls, Err or
// Handler is typically set; Text and ToolCalls may be combined.
type Turn struct {
	Text      string
	ToolCalls []core.FunctionCall
	Err       error
	// Handler computes the reply from the request.
	Handler func(req Request) Turn
}

// ScriptedModel replays a fixed sequence of turns and records every request.
// It is deterministic and safe for concurrent use.
type ScriptedModel struct {
	mu       sync.Mutex
	info     Info
	turns    []Turn
	requests []Request
	repeat   *Turn
}

// NewScriptedModel creates a model replying with turns in order.
func NewScriptedModel(turns ...Turn) *ScriptedModel {
	return &ScriptedModel{
		info:  Info{Name: "scripted", Provider: "test", SupportsTools: true, SupportsStructuredOutput: true},
		turns: turns,
	}
}

// Repeat makes the model answer every request after the script with t.
func (m *ScriptedModel) Repeat(t Turn) *ScriptedModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repeat = &t
	return m
}

// Requests returns the recorded requests.
func (m *ScriptedModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// CallCount returns the number of Generate calls.
func (m *ScriptedModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Info implements Model.
func (m *ScriptedModel) Info() Info { return m.info }

// Generate implements Model.
func (m *ScriptedModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	turn, ok := m.next(req)

	go func() {
		defer close(respCh)
		defer close(errCh)
		if !ok {
			errCh <- ErrScriptExhausted
			return
		}
		if turn.Handler != nil {
			turn = turn.Handler(req)
		}
		if turn.Err != nil {
			errCh <- turn.Err
			return
		}

		if req.Stream && turn.Text != "" {
			for _, w := range strings.SplitAfter(turn.Text, " ") {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{Partial: true, Content: core.AssistantText(w)}:
				}
			}
		}

		content := core.Content{Role: core.RoleAssistant}
		if turn.Text != "" {
			content.Parts = append(content.Parts, core.TextPart{Text: turn.Text})
		}
		for _, call := range turn.ToolCalls {
			content.Parts = append(content.Parts, core.FunctionCallPart{FunctionCall: call})
		}
		finish := "stop"
		if len(turn.ToolCalls) > 0 {
			finish = "tool_calls"
		}
		respCh <- Response{ID: core.NewID(), Content: content, FinishReason: finish}
	}()
	return respCh, errCh
}

func (m *ScriptedModel) next(req Request) (Turn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if len(m.turns) == 0 {
		if m.repeat != nil {
			return *m.repeat, true
		}
		return Turn{}, false
	}
	t := m.turns[0]
	m.turns = m.turns[1:]
	return t, true
}
