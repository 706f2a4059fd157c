package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/tidwall/gjson"
	"github.com/xeipuuv/gojsonschema"

	"github.com/hupe1980/stepmesh/core"
)

// ErrInvalidStructuredOutput is returned when the model output is not a JSON
// object matching the requested schema.
var ErrInvalidStructuredOutput = errors.New("invalid structured output")

// SchemaFor reflects the JSON schema of T. References are inlined so the
// schema can be handed to providers as a self-contained object.
func SchemaFor[T any]() map[string]any {
	r := &jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	var zero T
	s := r.Reflect(&zero)

	data, err := json.Marshal(s)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{"type": "object"}
	}
	delete(out, "$schema")
	delete(out, "$id")
	return out
}

// ExtractJSON returns the first JSON object embedded in text. Markdown code
// fences and surrounding prose are ignored.
func ExtractJSON(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if gjson.Valid(text) && gjson.Parse(text).IsObject() {
		return text, true
	}
	start := strings.Index(text, "{")
	for start >= 0 {
		end := strings.LastIndex(text, "}")
		for end > start {
			candidate := text[start : end+1]
			if gjson.Valid(candidate) {
				return candidate, true
			}
			end = strings.LastIndex(text[:end], "}")
		}
		next := strings.Index(text[start+1:], "{")
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

// DecodeStructured extracts a JSON object from text, validates it against
// schema (when non-nil) and unmarshals it into T.
func DecodeStructured[T any](text string, schema map[string]any) (T, error) {
	var out T

	raw, ok := ExtractJSON(text)
	if !ok {
		return out, fmt.Errorf("%w: no JSON object in model output", ErrInvalidStructuredOutput)
	}

	if schema != nil {
		result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewStringLoader(raw))
		if err != nil {
			return out, fmt.Errorf("%w: %v", ErrInvalidStructuredOutput, err)
		}
		if !result.Valid() {
			msgs := make([]string, 0, len(result.Errors()))
			for _, e := range result.Errors() {
				msgs = append(msgs, e.String())
			}
			return out, fmt.Errorf("%w: %s", ErrInvalidStructuredOutput, strings.Join(msgs, "; "))
		}
	}

	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidStructuredOutput, err)
	}
	return out, nil
}

// Structured asks m for a JSON object shaped like T and decodes it. Providers
// without native structured output receive the schema in their instructions.
func Structured[T any](ctx context.Context, m Model, name string, instructions string, contents []core.Content) (T, error) {
	var zero T

	schema := SchemaFor[T]()
	req := Request{
		Instructions: instructions,
		Contents:     contents,
		ResponseFormat: &ResponseFormat{
			Name:   name,
			Schema: schema,
		},
	}
	if !m.Info().SupportsStructuredOutput {
		encoded, err := json.Marshal(schema)
		if err != nil {
			return zero, err
		}
		req.Instructions = strings.TrimSpace(req.Instructions +
			"\n\nRespond only with a JSON object matching this JSON schema:\n" + string(encoded))
	}

	resp, err := Collect(ctx, m, req, nil)
	if err != nil {
		return zero, err
	}
	return DecodeStructured[T](resp.Content.Text(), schema)
}
