package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/hupe1980/stepmesh/logging"
	"github.com/hupe1980/stepmesh/model"
)

// FunctionOptions configures a FunctionTool.
type FunctionOptions struct {
	// Server overrides the origin server derived from the tool name.
	Server string
	Logger logging.Logger
}

// FunctionTool exposes a plain Go function as a tool.
//
// Arguments are validated against the declared JSON schema before the
// function runs. Failures are normalized to *ToolError:
//
//	validation failure -> VALIDATION_ERROR
//	other error        -> EXECUTION_ERROR
//	*ToolError         -> forwarded unchanged
//
// A FunctionTool has no mutable state after construction and is safe for
// concurrent use.
type FunctionTool struct {
	name        string
	description string
	parameters  map[string]any
	schema      *gojsonschema.Schema
	fn          func(ctx context.Context, args map[string]any) (any, error)
	opts        FunctionOptions
}

// NewFunctionTool constructs a FunctionTool from an explicit schema and function.
//
// Example:
//
//	add := tool.NewFunctionTool(
//	  "math_add",
//	  "Add two numbers",
//	  map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	      "a": map[string]any{"type": "number"},
//	      "b": map[string]any{"type": "number"},
//	    },
//	    "required": []string{"a", "b"},
//	  },
//	  func(ctx context.Context, args map[string]any) (any, error) {
//	    return args["a"].(float64) + args["b"].(float64), nil
//	  },
//	)
func NewFunctionTool(
	name, description string,
	parameters map[string]any,
	fn func(ctx context.Context, args map[string]any) (any, error),
	optFns ...func(o *FunctionOptions),
) *FunctionTool {
	opts := FunctionOptions{Logger: logging.NoOpLogger{}}
	for _, o := range optFns {
		o(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)

	if parameters == nil {
		parameters = map[string]any{"type": "object", "properties": map[string]any{}}
	}

	t := &FunctionTool{
		name:        name,
		description: description,
		parameters:  parameters,
		fn:          fn,
		opts:        opts,
	}

	// A schema that fails to compile disables validation instead of the tool.
	if schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(parameters)); err == nil {
		t.schema = schema
	} else {
		opts.Logger.Warn("tool.schema.invalid", "tool", name, "error", err.Error())
	}

	return t
}

// NewTypedTool derives the parameter schema from T and decodes the arguments
// into T before calling fn.
//
// Example:
//
//	type addArgs struct {
//	  A float64 `json:"a" jsonschema:"description=First addend"`
//	  B float64 `json:"b" jsonschema:"description=Second addend"`
//	}
//
//	add := tool.NewTypedTool("math_add", "Add two numbers",
//	  func(ctx context.Context, in addArgs) (any, error) { return in.A + in.B, nil })
func NewTypedTool[T any](
	name, description string,
	fn func(ctx context.Context, in T) (any, error),
	optFns ...func(o *FunctionOptions),
) *FunctionTool {
	return NewFunctionTool(name, description, model.SchemaFor[T](), func(ctx context.Context, args map[string]any) (any, error) {
		var in T
		data, err := json.Marshal(args)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &in); err != nil {
			return nil, NewToolError(name, fmt.Sprintf("decode arguments: %v", err), CodeValidation)
		}
		return fn(ctx, in)
	}, optFns...)
}

// Name returns the unique tool name.
func (t *FunctionTool) Name() string { return t.name }

// Description returns the natural language description exposed to models.
func (t *FunctionTool) Description() string { return t.description }

// Parameters returns the JSON schema describing expected arguments.
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// Server returns the configured origin server, or the name-derived one.
func (t *FunctionTool) Server() string {
	if t.opts.Server != "" {
		return t.opts.Server
	}
	return ServerOf(t.name)
}

// Call validates args against the declared schema then invokes the function.
func (t *FunctionTool) Call(ctx context.Context, args map[string]any) (any, error) {
	logger := t.opts.Logger
	start := time.Now()

	logger.Debug("tool.call.start", "tool", t.name)

	if args == nil {
		args = map[string]any{}
	}

	if err := t.validate(args); err != nil {
		logger.Warn("tool.call.validation_failed", "tool", t.name, "error", err.Error())

		return nil, &ToolError{
			Tool:    t.name,
			Message: fmt.Sprintf("parameter validation failed: %v", err),
			Code:    CodeValidation,
			Details: err,
		}
	}

	result, err := t.fn(ctx, args)
	if err != nil {
		var toolErr *ToolError
		if errors.As(err, &toolErr) {
			logger.Error("tool.call.error", "tool", t.name, "error", toolErr.Message)

			return nil, toolErr
		}

		logger.Error("tool.call.error", "tool", t.name, "error", err.Error())

		return nil, &ToolError{
			Tool:    t.name,
			Message: err.Error(),
			Code:    CodeExecution,
		}
	}

	logger.Info("tool.call.success", "tool", t.name, "duration_ms", time.Since(start).Milliseconds())

	return result, nil
}

func (t *FunctionTool) validate(args map[string]any) error {
	if t.schema == nil {
		return nil
	}
	result, err := t.schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return err
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return errors.New(strings.Join(msgs, "; "))
}
