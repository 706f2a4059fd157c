package core

import "strings"

// Conversation roles used in Content.Role.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Part represents a polymorphic segment of role-based content. Concrete part
// types implement the unexported isPart marker enabling a closed set.
type Part interface{ isPart() }

// TextPart is a plain text content segment.
type TextPart struct {
	Text string
}

// isPart implements the Part interface for TextPart.
func (TextPart) isPart() {}

// ImagePart is an inline image segment. Data holds base64 encoded bytes.
type ImagePart struct {
	Data     string
	MimeType string
}

// isPart implements the Part interface for ImagePart.
func (ImagePart) isPart() {}

// FunctionCall describes a tool/function invocation request.
type FunctionCall struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"` // Serialized JSON object
}

// FunctionCallPart wraps a FunctionCall as a content part.
type FunctionCallPart struct {
	FunctionCall FunctionCall
}

// isPart implements the Part interface for FunctionCallPart.
func (FunctionCallPart) isPart() {}

// FunctionResponse describes the outcome of a function call.
type FunctionResponse struct {
	ID       string      `json:"id,omitempty"` // Matches originating FunctionCall ID
	Name     string      `json:"name"`
	Response interface{} `json:"response,omitempty"`
	Error    string      `json:"error,omitempty"`
	// Images carries image artifacts produced by the tool.
	Images []ImagePart `json:"-"`
}

// Text renders the response as model-facing text.
func (r FunctionResponse) Text() string {
	if r.Error != "" {
		return "Error: " + r.Error
	}
	switch v := r.Response.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return marshalText(v)
	}
}

// FunctionResponsePart wraps a FunctionResponse as a content part.
type FunctionResponsePart struct {
	FunctionResponse FunctionResponse
}

// isPart implements the Part interface for FunctionResponsePart.
func (FunctionResponsePart) isPart() {}

// Content holds role + ordered parts.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// NewTextContent builds a single text part message.
func NewTextContent(role, text string) Content {
	return Content{Role: role, Parts: []Part{TextPart{Text: text}}}
}

// UserText is shorthand for NewTextContent(RoleUser, text).
func UserText(text string) Content { return NewTextContent(RoleUser, text) }

// AssistantText is shorthand for NewTextContent(RoleAssistant, text).
func AssistantText(text string) Content { return NewTextContent(RoleAssistant, text) }

// SystemText is shorthand for NewTextContent(RoleSystem, text).
func SystemText(text string) Content { return NewTextContent(RoleSystem, text) }

// Text returns the normalized string form of the content: all text parts
// joined in order without separator.
func (c Content) Text() string {
	var b strings.Builder
	for _, p := range c.Parts {
		if tp, ok := p.(TextPart); ok {
			b.WriteString(tp.Text)
		}
	}
	return b.String()
}

// FunctionCalls returns the function call parts preserving order.
func (c Content) FunctionCalls() []FunctionCall {
	var calls []FunctionCall
	for _, p := range c.Parts {
		if fc, ok := p.(FunctionCallPart); ok {
			calls = append(calls, fc.FunctionCall)
		}
	}
	return calls
}

// FunctionResponses returns the function response parts preserving order.
func (c Content) FunctionResponses() []FunctionResponse {
	var responses []FunctionResponse
	for _, p := range c.Parts {
		if fr, ok := p.(FunctionResponsePart); ok {
			responses = append(responses, fr.FunctionResponse)
		}
	}
	return responses
}

// Images returns inline image parts and images attached to function responses.
func (c Content) Images() []ImagePart {
	var images []ImagePart
	for _, p := range c.Parts {
		switch v := p.(type) {
		case ImagePart:
			images = append(images, v)
		case FunctionResponsePart:
			images = append(images, v.FunctionResponse.Images...)
		}
	}
	return images
}

// HasFunctionCalls reports whether the content requests any tool calls.
func (c Content) HasFunctionCalls() bool {
	for _, p := range c.Parts {
		if _, ok := p.(FunctionCallPart); ok {
			return true
		}
	}
	return false
}

// IsEmpty reports whether the content carries no parts.
func (c Content) IsEmpty() bool { return len(c.Parts) == 0 }

// Clone returns a copy with its own parts slice. Parts are values so a
// shallow copy of the slice is sufficient.
func (c Content) Clone() Content {
	parts := make([]Part, len(c.Parts))
	copy(parts, c.Parts)
	return Content{Role: c.Role, Parts: parts}
}

// CloneContents clones every content of the slice.
func CloneContents(contents []Content) []Content {
	if contents == nil {
		return nil
	}
	out := make([]Content, len(contents))
	for i, c := range contents {
		out[i] = c.Clone()
	}
	return out
}

// LastUserText returns the normalized text of the most recent user message.
func LastUserText(contents []Content) string {
	for i := len(contents) - 1; i >= 0; i-- {
		if contents[i].Role == RoleUser {
			if text := contents[i].Text(); text != "" {
				return text
			}
		}
	}
	return ""
}
