package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/stepmesh/core"
	"github.com/hupe1980/stepmesh/logging"
)

// CallbackType names a point in the run lifecycle where callbacks execute.
//
// Available callback types:
//   - BeforeRun: after the conversation is assembled, before the strategy runs
//   - AfterRun: after a run completed and its answer was folded into history
//   - OnError: when a run ends with an error
//   - OnInterrupt: when a run suspends and is not resumed automatically
//
// Callbacks run synchronously. A BeforeRun callback returning an error aborts
// the run; errors from the other types are logged.
type CallbackType string

const (
	// CallbackBeforeRun is triggered before the strategy starts.
	CallbackBeforeRun CallbackType = "before_run"

	// CallbackAfterRun is triggered after a successful run.
	CallbackAfterRun CallbackType = "after_run"

	// CallbackOnError is triggered when a run fails.
	CallbackOnError CallbackType = "on_error"

	// CallbackOnInterrupt is triggered when a run suspends.
	CallbackOnInterrupt CallbackType = "on_interrupt"
)

// CallbackContext describes the run a callback is executed for.
type CallbackContext struct {
	ThreadID string
	Strategy string

	// CallbackType indicates which callback type triggered this execution.
	CallbackType CallbackType

	// Messages is the assembled conversation (BeforeRun only).
	Messages []core.Content

	// Response is the final assistant message (AfterRun only).
	Response core.Content

	// Err is the run failure (OnError only).
	Err error

	// Interrupt describes the suspension (OnInterrupt only).
	Interrupt *core.Interrupt
}

// Callback is a run lifecycle hook.
type Callback interface {
	// Type returns the callback type this implementation handles.
	Type() CallbackType

	// Execute performs the callback logic.
	Execute(ctx context.Context, callbackCtx *CallbackContext) error
}

// FunctionCallback wraps a function as a callback implementation.
//
// Example:
//
//	audit := NewFunctionCallback(
//	    CallbackAfterRun,
//	    func(ctx context.Context, cc *CallbackContext) error {
//	        log.Printf("thread %s answered: %s", cc.ThreadID, cc.Response.Text())
//	        return nil
//	    },
//	)
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, callbackCtx *CallbackContext) error
}

// NewFunctionCallback creates a new function-based callback.
func NewFunctionCallback(
	callbackType CallbackType,
	fn func(ctx context.Context, callbackCtx *CallbackContext) error,
) *FunctionCallback {
	return &FunctionCallback{
		callbackType: callbackType,
		fn:           fn,
	}
}

// Type returns the callback type this function handles.
func (c *FunctionCallback) Type() CallbackType {
	return c.callbackType
}

// Execute calls the wrapped function with the provided context.
func (c *FunctionCallback) Execute(ctx context.Context, callbackCtx *CallbackContext) error {
	return c.fn(ctx, callbackCtx)
}

// CallbackManager holds callbacks by type and executes them in registration
// order. Execution stops at the first error. It is safe for concurrent use.
type CallbackManager struct {
	mu        sync.RWMutex
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates an empty callback manager.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{
		callbacks: make(map[CallbackType][]Callback),
	}
}

// RegisterCallback adds a callback for its type.
func (cm *CallbackManager) RegisterCallback(callback Callback) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	callbackType := callback.Type()
	cm.callbacks[callbackType] = append(cm.callbacks[callbackType], callback)
}

// ExecuteCallbacks executes all callbacks registered for callbackType and
// returns the first error.
func (cm *CallbackManager) ExecuteCallbacks(
	ctx context.Context,
	callbackType CallbackType,
	callbackCtx *CallbackContext,
) error {
	if cm == nil {
		return nil
	}
	cm.mu.RLock()
	callbacks := append([]Callback(nil), cm.callbacks[callbackType]...)
	cm.mu.RUnlock()

	callbackCtx.CallbackType = callbackType
	for _, callback := range callbacks {
		if err := callback.Execute(ctx, callbackCtx); err != nil {
			return fmt.Errorf("%s callback: %w", callbackType, err)
		}
	}
	return nil
}

// LoggingCallback writes one structured log entry per lifecycle event.
type LoggingCallback struct {
	callbackType CallbackType
	logger       logging.Logger
}

// NewLoggingCallback creates a logging callback for callbackType.
func NewLoggingCallback(callbackType CallbackType, logger logging.Logger) *LoggingCallback {
	return &LoggingCallback{
		callbackType: callbackType,
		logger:       logging.OrNoOp(logger),
	}
}

// Type returns the callback type this logger handles.
func (c *LoggingCallback) Type() CallbackType {
	return c.callbackType
}

// Execute logs the lifecycle event.
func (c *LoggingCallback) Execute(_ context.Context, cc *CallbackContext) error {
	args := []any{"thread_id", cc.ThreadID, "strategy", cc.Strategy}
	switch {
	case cc.Err != nil:
		c.logger.Error("engine.callback."+string(c.callbackType), append(args, "error", cc.Err.Error())...)
	case cc.Interrupt != nil:
		c.logger.Info("engine.callback."+string(c.callbackType), append(args, "handle_id", cc.Interrupt.HandleID, "next", cc.Interrupt.Next)...)
	default:
		c.logger.Info("engine.callback."+string(c.callbackType), append(args, "messages", len(cc.Messages))...)
	}
	return nil
}
