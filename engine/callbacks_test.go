package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallbackManager_StopsAtFirstError(t *testing.T) {
	cm := NewCallbackManager()
	var order []string

	cm.RegisterCallback(NewFunctionCallback(CallbackAfterRun, func(context.Context, *CallbackContext) error {
		order = append(order, "first")
		return errors.New("nope")
	}))
	cm.RegisterCallback(NewFunctionCallback(CallbackAfterRun, func(context.Context, *CallbackContext) error {
		order = append(order, "second")
		return nil
	}))

	cc := &CallbackContext{ThreadID: "t1"}
	err := cm.ExecuteCallbacks(context.Background(), CallbackAfterRun, cc)
	require.EqualError(t, err, "after_run callback: nope")
	assert.Equal(t, []string{"first"}, order)
	assert.Equal(t, CallbackAfterRun, cc.CallbackType)

	assert.NoError(t, cm.ExecuteCallbacks(context.Background(), CallbackOnError, cc))
}

func TestCallbackManager_NilSafe(t *testing.T) {
	var cm *CallbackManager
	assert.NoError(t, cm.ExecuteCallbacks(context.Background(), CallbackBeforeRun, &CallbackContext{}))
}

func TestLoggingCallback(t *testing.T) {
	cb := NewLoggingCallback(CallbackOnError, nil)
	assert.Equal(t, CallbackOnError, cb.Type())
	assert.NoError(t, cb.Execute(context.Background(), &CallbackContext{Err: errors.New("x")}))
}
