package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/hupe1980/stepmesh/core"
	"github.com/hupe1980/stepmesh/execution"
)

// Transcoder turns ordered events into frames. It keeps the text streamed per
// node key "{step}-{node}" so complete messages following their partials only
// contribute the part not yet sent. After an error frame it produces nothing.
type Transcoder struct {
	mu          sync.Mutex
	accumulated map[string]string
	pending     map[string]string
	lastStep    int
	failed      bool
}

// NewTranscoder creates a transcoder for one stream.
func NewTranscoder() *Transcoder {
	return &Transcoder{
		accumulated: map[string]string{},
		pending:     map[string]string{},
	}
}

// NodeKey returns the accumulation key of node at step.
func NodeKey(step int, node string) string { return fmt.Sprintf("%d-%s", step, node) }

// Accumulated returns the text streamed so far under key.
func (t *Transcoder) Accumulated(key string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.accumulated[key]
}

// Failed reports whether the error frame was produced.
func (t *Transcoder) Failed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failed
}

// Fail produces the error frame for a transport error, attributed to the
// last seen step. It returns false when an error frame was already produced.
func (t *Transcoder) Fail(msg string) (Frame, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failed {
		return Frame{}, false
	}
	t.failed = true
	return ErrorFrame(msg, t.lastStep), true
}

// Transcode converts one event into zero or more frames.
func (t *Transcoder) Transcode(ev core.Event) []Frame {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.failed {
		return nil
	}
	if ev.IsError() {
		t.failed = true
		return []Frame{ErrorFrame(ev.ErrorMessage, ev.Step)}
	}
	t.lastStep = ev.Step

	node := ev.Node
	if node == "" {
		node = TypeUnknown
	}
	meta := Metadata{Node: node, Step: ev.Step, Type: nodeType(node), Phase: string(ev.Phase)}
	key := NodeKey(ev.Step, node)

	switch {
	case ev.Type == core.EventTypeInterrupt:
		meta.Type = TypeInterrupt
		return []Frame{{Chunk: []Item{}, Interrupt: ev.Interrupt, Metadata: meta}}
	case ev.Image != nil:
		meta.Type = TypeImage
		mime := ev.Image.MimeType
		if mime == "" {
			mime = DefaultImageMimeType
		}
		return []Frame{{
			Chunk:    []Item{{Type: ItemImage, ImageData: ev.Image.Data, MimeType: mime}},
			Metadata: meta,
		}}
	case ev.Content == nil || ev.Content.IsEmpty():
		return []Frame{{Chunk: []Item{}, Metadata: meta}}
	case ev.Partial:
		delta := ev.Content.Text()
		if delta == "" {
			return nil
		}
		t.accumulated[key] += delta
		t.pending[key] += delta
		return []Frame{t.textFrame(node, delta, meta)}
	}

	return t.complete(*ev.Content, node, key, meta)
}

func (t *Transcoder) complete(c core.Content, node, key string, meta Metadata) []Frame {
	var frames []Frame

	if text := c.Text(); text != "" {
		delta := text
		if sent := t.pending[key]; sent != "" && strings.HasPrefix(text, sent) {
			delta = text[len(sent):]
		}
		if delta != "" {
			t.accumulated[key] += delta
			frames = append(frames, t.textFrame(node, delta, meta))
		}
	}
	t.pending[key] = ""

	if responses := c.FunctionResponses(); len(responses) > 0 {
		items := make([]Item, len(responses))
		for i, r := range responses {
			text := r.Text()
			t.accumulated[key] += text
			items[i] = Item{Type: ItemToolResult, Text: text, Index: i}
		}
		m := meta
		m.Type = TypeToolResult
		frames = append(frames, Frame{Chunk: items, Metadata: m})
	}

	if calls := c.FunctionCalls(); len(calls) > 0 {
		items := make([]Item, len(calls))
		for i, call := range calls {
			items[i] = Item{
				Type:  ItemToolUse,
				Name:  call.Name,
				Input: toolInput(call.Arguments),
				ID:    fmt.Sprintf("tooluse_%d", i),
				Index: i,
			}
		}
		m := meta
		m.Type = TypeToolUse
		frames = append(frames, Frame{Chunk: items, Metadata: m})
	}

	return frames
}

func (t *Transcoder) textFrame(node, text string, meta Metadata) Frame {
	if node == execution.NodeTools {
		meta.Type = TypeToolResult
		return Frame{Chunk: []Item{{Type: ItemToolResult, Text: text}}, Metadata: meta}
	}
	meta.Type = TypeAIResponse
	return Frame{Chunk: []Item{{Type: ItemText, Text: text}}, Metadata: meta}
}

// nodeType infers the metadata type from the node name.
func nodeType(node string) string {
	switch node {
	case "agent", execution.NodeCallModel:
		return TypeAIResponse
	case execution.NodeTools:
		return TypeToolResult
	default:
		return TypeUnknown
	}
}

// toolInput normalizes call arguments to a compact JSON object string.
func toolInput(args string) string {
	if strings.TrimSpace(args) == "" {
		return "{}"
	}
	if !gjson.Valid(args) {
		return args
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(args)); err != nil {
		return args
	}
	return buf.String()
}
