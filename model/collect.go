package model

import (
	"context"
	"errors"

	"github.com/hupe1980/stepmesh/core"
)

// ErrNoResponse is returned by Collect when the model closed its stream
// without a final response.
var ErrNoResponse = errors.New("model returned no response")

// Collect drives a Generate call to completion. Partial text deltas are
// passed to onPartial (may be nil) in arrival order; the final response is
// returned. The first error from the model aborts collection.
func Collect(ctx context.Context, m Model, req Request, onPartial func(delta string)) (Response, error) {
	respCh, errCh := m.Generate(ctx, req)

	var (
		final    *Response
		streamed []core.Part
	)
	for respCh != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return Response{}, err
			}
		case resp, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if resp.Partial {
				if text := resp.Content.Text(); text != "" {
					streamed = append(streamed, core.TextPart{Text: text})
					if onPartial != nil {
						onPartial(text)
					}
				}
				continue
			}
			r := resp
			final = &r
		}
	}

	if final == nil {
		if len(streamed) == 0 {
			return Response{}, ErrNoResponse
		}
		// Streams that only delivered deltas are folded into one message.
		text := core.Content{Parts: streamed}.Text()
		return Response{Content: core.AssistantText(text), FinishReason: "stop"}, nil
	}
	if final.Content.Role == "" {
		final.Content.Role = core.RoleAssistant
	}
	return *final, nil
}
