package model

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hupe1980/stepmesh/core"
)

// EchoModel is an offline Model that answers with the latest user text. It
// is the "echo" provider of the CLI and a convenient default for examples.
type EchoModel struct {
	info Info
}

// NewEchoModel constructs an EchoModel.
func NewEchoModel() *EchoModel {
	return &EchoModel{info: Info{Name: "echo", Provider: "echo"}}
}

// Generate implements Model; emits one partial chunk per word when streaming,
// then the final response.
func (m *EchoModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)
		if len(req.Contents) == 0 {
			errCh <- fmt.Errorf("no contents provided")
			return
		}
		input := core.LastUserText(req.Contents)
		if input == "" {
			input = req.Contents[len(req.Contents)-1].Text()
		}
		full := "Echo: " + input
		if req.ResponseFormat != nil {
			full = structuredEcho(req.ResponseFormat.Schema, input, full)
		}
		if req.Stream {
			words := strings.SplitAfter(full, " ")
			for _, w := range words {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{Partial: true, Content: core.AssistantText(w)}:
				}
			}
		}
		respCh <- Response{Content: core.AssistantText(full), FinishReason: "stop"}
	}()
	return respCh, errCh
}

// Info implements Model interface.
func (m *EchoModel) Info() Info { return m.info }

// structuredEcho fills the known top-level properties of schema: "steps"
// receives the input as a one-step plan, "action" a final response.
func structuredEcho(schema map[string]any, input, reply string) string {
	props, _ := schema["properties"].(map[string]any)
	var fields []string
	if _, ok := props["steps"]; ok {
		fields = append(fields, `"steps": [`+quote(input)+`]`)
	}
	if _, ok := props["action"]; ok {
		fields = append(fields, `"action": {"response": `+quote(reply)+`}`)
	}
	return "{" + strings.Join(fields, ", ") + "}"
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
