package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/stepmesh/core"
	"github.com/hupe1980/stepmesh/logging"
)

// ExecutorOptions configures the parallel call executor.
type ExecutorOptions struct {
	MaxParallel int // 0 or <1 => no explicit limit (len(calls))
	Logger      logging.Logger
}

// Executor runs a batch of function calls against a View.
//
// It never fails the batch: unknown tools, undecodable arguments, tool
// errors and panics all become error responses. Exactly one response is
// returned per call, in call order.
type Executor struct {
	opts ExecutorOptions
}

// NewExecutor constructs an Executor.
func NewExecutor(optFns ...func(o *ExecutorOptions)) *Executor {
	opts := ExecutorOptions{MaxParallel: 4, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	return &Executor{opts: opts}
}

// Execute runs calls and returns their responses in call order.
func (e *Executor) Execute(ctx context.Context, view *View, calls []core.FunctionCall) []core.FunctionResponse {
	n := len(calls)
	if n == 0 {
		return nil
	}

	responses := make([]core.FunctionResponse, n)

	// Fast path: single call, execute inline.
	if n == 1 {
		responses[0] = e.executeOne(ctx, view, calls[0])
		return responses
	}

	maxPar := e.opts.MaxParallel
	if maxPar <= 0 || maxPar > n {
		maxPar = n
	}

	batchStart := time.Now()

	var g errgroup.Group
	g.SetLimit(maxPar)
	for i := range calls {
		i := i
		g.Go(func() error {
			responses[i] = e.executeOne(ctx, view, calls[i])
			return nil
		})
	}
	_ = g.Wait()

	e.opts.Logger.Debug(
		"tool.batch.complete",
		"count", n,
		"parallelism", maxPar,
		"duration_ms", time.Since(batchStart).Milliseconds(),
	)

	return responses
}

func (e *Executor) executeOne(ctx context.Context, view *View, fc core.FunctionCall) (resp core.FunctionResponse) {
	resp = core.FunctionResponse{ID: fc.ID, Name: fc.Name}

	if err := ctx.Err(); err != nil {
		resp.Error = err.Error()
		return resp
	}

	start := time.Now()
	var (
		result any
		err    error
	)
	func() { // panic safety
		defer func() {
			if r := recover(); r != nil {
				err = &ToolError{Tool: fc.Name, Message: fmt.Sprintf("panic recovered: %v", r), Code: CodePanic, Details: string(debug.Stack())}
				e.opts.Logger.Error("tool.call.panic", "tool", fc.Name, "recover", r)
			}
		}()
		result, err = callTool(ctx, view, fc)
	}()

	e.opts.Logger.Info(
		"tool.call.executed",
		"tool", fc.Name,
		"call_id", fc.ID,
		"duration_ms", time.Since(start).Milliseconds(),
		"error", err != nil,
	)

	if err != nil {
		var toolErr *ToolError
		if errors.As(err, &toolErr) {
			resp.Error = toolErr.Message
		} else {
			resp.Error = err.Error()
		}
		return resp
	}

	resp.Response = result
	if img, ok := DetectImage(result); ok {
		resp.Images = []core.ImagePart{img}
	}
	return resp
}

// callTool centralizes tool lookup and argument decoding.
func callTool(ctx context.Context, view *View, fc core.FunctionCall) (any, error) {
	impl, ok := view.Lookup(fc.Name)
	if !ok {
		return nil, NewToolError(fc.Name, fmt.Sprintf("tool %s not found", fc.Name), CodeNotFound)
	}

	argMap := map[string]any{}
	if fc.Arguments != "" {
		if err := json.Unmarshal([]byte(fc.Arguments), &argMap); err != nil {
			return nil, NewToolError(fc.Name, fmt.Sprintf("failed to unmarshal args: %v", err), CodeValidation)
		}
	}

	return impl.Call(ctx, argMap)
}

// DetectImage reports whether a tool result carries an image artifact: an
// ImagePart value, or a JSON object with "is_image": true and "image_data".
func DetectImage(result any) (core.ImagePart, bool) {
	var raw string
	switch v := result.(type) {
	case core.ImagePart:
		return withDefaultMime(v), v.Data != ""
	case *core.ImagePart:
		if v == nil {
			return core.ImagePart{}, false
		}
		return withDefaultMime(*v), v.Data != ""
	case string:
		raw = v
	case []byte:
		raw = string(v)
	case nil:
		return core.ImagePart{}, false
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return core.ImagePart{}, false
		}
		raw = string(data)
	}

	if !gjson.Valid(raw) {
		return core.ImagePart{}, false
	}
	parsed := gjson.Parse(raw)
	if !parsed.Get("is_image").Bool() {
		return core.ImagePart{}, false
	}
	data := parsed.Get("image_data").String()
	if data == "" {
		return core.ImagePart{}, false
	}
	return withDefaultMime(core.ImagePart{Data: data, MimeType: parsed.Get("mime_type").String()}), true
}

func withDefaultMime(img core.ImagePart) core.ImagePart {
	if img.MimeType == "" {
		img.MimeType = "image/png"
	}
	return img
}
