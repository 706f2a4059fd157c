package testutil

import (
	"github.com/hupe1980/stepmesh/core"
)

// EventBuilder provides a fluent helper for constructing events in tests.
// Example:
//
//	ev := NewEventBuilder("t1").Node("call_model").Step(1).AssistantText("hello").Build()
//
// Chain only the parts you need; sensible defaults are applied.
type EventBuilder struct {
	threadID      string
	node          string
	step          int
	phase         core.Phase
	id            string
	role          string
	textParts     []string
	funcCalls     []core.FunctionCall
	funcResponses []core.FunctionResponse
	customParts   []core.Part
	partial       bool
	image         *core.ImagePart
	errMsg        *string
	interrupt     *core.Interrupt
}

// NewEventBuilder creates a builder for threadID with default node
// "call_model" at step 1.
func NewEventBuilder(threadID string) *EventBuilder {
	return &EventBuilder{threadID: threadID, node: "call_model", step: 1}
}

// Node sets the emitting node (chainable).
func (b *EventBuilder) Node(n string) *EventBuilder { b.node = n; return b }

// Step sets the step counter (chainable).
func (b *EventBuilder) Step(s int) *EventBuilder { b.step = s; return b }

// Phase sets the execution phase (chainable).
func (b *EventBuilder) Phase(p core.Phase) *EventBuilder { b.phase = p; return b }

// ID overrides the auto-generated event ID (chainable). Use mainly in tests where determinism matters.
func (b *EventBuilder) ID(id string) *EventBuilder { b.id = id; return b }

// Partial appends a streaming text delta and marks the event partial (chainable).
func (b *EventBuilder) Partial(delta string) *EventBuilder {
	b.role = core.RoleAssistant
	b.partial = true
	b.textParts = append(b.textParts, delta)
	return b
}

// AssistantText appends an assistant role text part (chainable).
func (b *EventBuilder) AssistantText(t string) *EventBuilder {
	b.role = core.RoleAssistant
	b.textParts = append(b.textParts, t)
	return b
}

// ToolText appends a tool role text part (chainable).
func (b *EventBuilder) ToolText(t string) *EventBuilder {
	b.role = core.RoleTool
	b.textParts = append(b.textParts, t)
	return b
}

// AddPart appends a custom content part (chainable).
func (b *EventBuilder) AddPart(p core.Part) *EventBuilder {
	b.customParts = append(b.customParts, p)
	return b
}

// FunctionCall adds a function call part with the provided id, name and JSON argument string (chainable).
func (b *EventBuilder) FunctionCall(id, name, args string) *EventBuilder {
	b.role = core.RoleAssistant
	b.funcCalls = append(b.funcCalls, core.FunctionCall{ID: id, Name: name, Arguments: args})
	return b
}

// FunctionResponse adds a function response part representing tool execution output (chainable).
func (b *EventBuilder) FunctionResponse(id, name string, result any, err error) *EventBuilder {
	b.role = core.RoleTool
	fr := core.FunctionResponse{ID: id, Name: name, Response: result}
	if err != nil {
		fr.Error = err.Error()
	}
	b.funcResponses = append(b.funcResponses, fr)
	return b
}

// Image attaches an image artifact (chainable).
func (b *EventBuilder) Image(data, mimeType string) *EventBuilder {
	b.image = &core.ImagePart{Data: data, MimeType: mimeType}
	return b
}

// Error turns the event into a terminal error event (chainable).
func (b *EventBuilder) Error(msg string) *EventBuilder { b.errMsg = &msg; return b }

// Interrupt turns the event into an interrupt event (chainable).
func (b *EventBuilder) Interrupt(handleID, next string) *EventBuilder {
	b.interrupt = &core.Interrupt{HandleID: handleID, Next: next}
	return b
}

// Build constructs the core.Event value.
func (b *EventBuilder) Build() core.Event {
	var ev core.Event
	switch {
	case b.errMsg != nil:
		ev = core.NewErrorEvent(b.threadID, b.step, *b.errMsg)
	case b.interrupt != nil:
		ev = core.NewInterruptEvent(b.threadID, b.node, b.step, b.interrupt.HandleID, b.interrupt.Next)
	case b.image != nil:
		ev = core.NewImageEvent(b.threadID, b.node, b.step, *b.image)
	default:
		ev = core.NewEvent(b.threadID, b.node, b.step)
	}
	if b.id != "" {
		ev.ID = b.id
	}
	ev.Phase = b.phase
	ev.Partial = b.partial

	estimatedParts := len(b.textParts) + len(b.funcCalls) + len(b.funcResponses) + len(b.customParts)
	if estimatedParts == 0 || ev.IsError() {
		return ev
	}
	parts := make([]core.Part, 0, estimatedParts)
	for _, t := range b.textParts {
		parts = append(parts, core.TextPart{Text: t})
	}
	for _, fc := range b.funcCalls {
		parts = append(parts, core.FunctionCallPart{FunctionCall: fc})
	}
	for _, fr := range b.funcResponses {
		parts = append(parts, core.FunctionResponsePart{FunctionResponse: fr})
	}
	parts = append(parts, b.customParts...)
	ev.Content = &core.Content{Role: b.role, Parts: parts}
	return ev
}
