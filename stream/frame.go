// Package stream converts engine events into the client wire format: frames
// of typed chunk items with node/step metadata, framed as server-sent events.
package stream

import (
	"encoding/json"

	"github.com/hupe1980/stepmesh/core"
)

// Item types.
const (
	ItemText       = "text"
	ItemToolUse    = "tool_use"
	ItemToolResult = "tool_result"
	ItemImage      = "image"
)

// Metadata types.
const (
	TypeAIResponse = "ai_response"
	TypeToolResult = "tool_result"
	TypeToolUse    = "tool_use"
	TypeImage      = "image"
	TypeUnknown    = "unknown"
	TypeError      = "error"
	TypeInterrupt  = "interrupt"
)

// DefaultImageMimeType is used for images without a MIME type.
const DefaultImageMimeType = "image/png"

// ErrorNode is the node reported by error frames.
const ErrorNode = "error"

// Item is one element of a frame chunk.
type Item struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	Name      string `json:"name,omitempty"`
	Input     string `json:"input,omitempty"`
	ID        string `json:"id,omitempty"`
	ImageData string `json:"image_data,omitempty"`
	MimeType  string `json:"mime_type,omitempty"`
	Index     int    `json:"index"`
}

// Metadata attributes a frame to the node and step that produced it.
type Metadata struct {
	Node  string `json:"node"`
	Step  int    `json:"step"`
	Type  string `json:"type"`
	Phase string `json:"phase,omitempty"`
}

// Frame is one unit of the client stream.
type Frame struct {
	Chunk     []Item          `json:"chunk"`
	Error     string          `json:"error,omitempty"`
	Interrupt *core.Interrupt `json:"interrupt,omitempty"`
	Metadata  Metadata        `json:"metadata"`
}

// IsError reports whether f is the terminal error frame.
func (f Frame) IsError() bool { return f.Metadata.Type == TypeError }

// Text returns the concatenated text of the frame's text and tool result items.
func (f Frame) Text() string {
	var text string
	for _, it := range f.Chunk {
		text += it.Text
	}
	return text
}

// MarshalJSON renders content frames as {"chunk", "toolCalls": null,
// "metadata"} and error frames as {"error", "metadata"}.
func (f Frame) MarshalJSON() ([]byte, error) {
	if f.IsError() {
		return json.Marshal(struct {
			Error    string   `json:"error"`
			Metadata Metadata `json:"metadata"`
		}{f.Error, f.Metadata})
	}
	chunk := f.Chunk
	if chunk == nil {
		chunk = []Item{}
	}
	return json.Marshal(struct {
		Chunk     []Item          `json:"chunk"`
		ToolCalls any             `json:"toolCalls"`
		Interrupt *core.Interrupt `json:"interrupt,omitempty"`
		Metadata  Metadata        `json:"metadata"`
	}{chunk, nil, f.Interrupt, f.Metadata})
}

// ErrorFrame builds the terminal error frame.
func ErrorFrame(msg string, step int) Frame {
	return Frame{
		Error:    msg,
		Metadata: Metadata{Node: ErrorNode, Step: step, Type: TypeError},
	}
}
