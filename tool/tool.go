// Package tool implements the tool catalog boundary used by the agents: the
// Tool contract, a read-only catalog view grouped by origin server, a service
// owning the tool source lifecycle, and a bounded parallel call executor.
package tool

import (
	"context"
	"errors"
	"fmt"
)

// Error codes carried by ToolError.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeExecution  = "EXECUTION_ERROR"
	CodeNotFound   = "NOT_FOUND"
	CodePanic      = "PANIC"
)

// ErrRestartInProgress is reported when a catalog restart is requested while
// another one is running.
var ErrRestartInProgress = errors.New("tool service restart in progress")

// Tool is a named, described capability the model can invoke.
//
// Implementations must be safe for concurrent use: the executor may run
// several calls of the same tool in parallel.
type Tool interface {
	// Name returns the unique identifier for this tool. Names of the form
	// "{server}_{function}" are grouped under their server.
	Name() string

	// Description returns a human-readable description shown to the model.
	Description() string

	// Parameters returns a JSON schema describing the expected arguments.
	Parameters() map[string]any

	// Call executes the tool with decoded arguments.
	Call(ctx context.Context, args map[string]any) (any, error)
}

// ServerTool is implemented by tools that know their origin server.
type ServerTool interface {
	Server() string
}

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}
