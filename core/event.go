package core

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType classifies an Event for downstream framing. The zero value means
// the type is derived from the emitting node.
type EventType string

const (
	EventTypeMessage   EventType = ""
	EventTypeError     EventType = "error"
	EventTypeInterrupt EventType = "interrupt"
)

// Interrupt describes a suspended run. HandleID is the resumable token.
type Interrupt struct {
	HandleID string `json:"handle_id"`
	Next     string `json:"next"`
}

// Event is one ordered unit of progress emitted by a running graph. After
// emission it should be treated as immutable. It captures:
//   - Correlation (RunID, ThreadID, ID)
//   - Origin (Node, Step, Phase)
//   - Conversational content (optional role based Parts)
//   - Error / interruption metadata
//
// Content may be nil for control or error-only events.
type Event struct {
	ID           string     `json:"id"`
	RunID        string     `json:"run_id,omitempty"`
	ThreadID     string     `json:"thread_id"`
	Node         string     `json:"node"`
	Step         int        `json:"step"`
	Phase        Phase      `json:"phase,omitempty"`
	Type         EventType  `json:"type,omitempty"`
	Content      *Content   `json:"content,omitempty"`
	Image        *ImagePart `json:"image,omitempty"`
	Partial      bool       `json:"partial,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Interrupt    *Interrupt `json:"interrupt,omitempty"`
	Timestamp    time.Time  `json:"timestamp"`
}

// NewEvent creates a bare event attributed to node at step.
func NewEvent(threadID, node string, step int) Event {
	return Event{
		ID:        NewID(),
		ThreadID:  threadID,
		Node:      node,
		Step:      step,
		Timestamp: time.Now().UTC(),
	}
}

// NewContentEvent creates an event carrying a copy of content.
func NewContentEvent(threadID, node string, step int, content Content) Event {
	e := NewEvent(threadID, node, step)
	c := content.Clone()
	e.Content = &c
	return e
}

// NewPartialEvent creates a streaming text fragment event.
func NewPartialEvent(threadID, node string, step int, delta string) Event {
	e := NewContentEvent(threadID, node, step, AssistantText(delta))
	e.Partial = true
	return e
}

// NewImageEvent creates an event carrying an image artifact produced by a tool.
func NewImageEvent(threadID, node string, step int, img ImagePart) Event {
	e := NewEvent(threadID, node, step)
	e.Image = &img
	return e
}

// NewErrorEvent creates a terminal error event. Error events are attributed
// to the synthetic "error" node.
func NewErrorEvent(threadID string, step int, message string) Event {
	e := NewEvent(threadID, "error", step)
	e.Type = EventTypeError
	e.ErrorMessage = message
	return e
}

// NewInterruptEvent signals that a run suspended at a declared boundary.
func NewInterruptEvent(threadID, node string, step int, handleID, next string) Event {
	e := NewEvent(threadID, node, step)
	e.Type = EventTypeInterrupt
	e.Interrupt = &Interrupt{HandleID: handleID, Next: next}
	return e
}

// NewID generates a new unique identifier for events, runs, checkpoints and handles.
func NewID() string { return uuid.NewString() }

// IsError reports whether the event signals a terminal failure.
func (e Event) IsError() bool { return e.Type == EventTypeError }

// GetFunctionCalls returns any FunctionCall parts contained within the event
// content preserving their original order.
func (e Event) GetFunctionCalls() []FunctionCall {
	if e.Content == nil {
		return nil
	}
	return e.Content.FunctionCalls()
}

// GetFunctionResponses returns any FunctionResponse parts contained within the
// event content preserving their original order.
func (e Event) GetFunctionResponses() []FunctionResponse {
	if e.Content == nil {
		return nil
	}
	return e.Content.FunctionResponses()
}

// UnixSeconds returns the timestamp as fractional seconds since epoch.
func (e Event) UnixSeconds() float64 {
	return float64(e.Timestamp.UnixNano()) / 1e9
}

func marshalText(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
