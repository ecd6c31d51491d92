package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/agentcrew/core"
)

// CallbackType defines the lifecycle points of a System where callbacks
// run.
//
// Callbacks hook into orchestration without changing it: they observe task
// creation, message routing and the explicit timeout policies. A callback
// error is logged and never changes the outcome of the operation that
// triggered it, so messages are never dropped because an observer failed.
type CallbackType string

const (
	// CallbackTaskCreated runs after the coordinator allocated a task.
	CallbackTaskCreated CallbackType = "task_created"

	// CallbackTargetFallback runs when an unknown target id was replaced by
	// the coordinator.
	CallbackTargetFallback CallbackType = "target_fallback"

	// CallbackMessageRouted runs after a message was handed to the bus.
	CallbackMessageRouted CallbackType = "message_routed"

	// CallbackRoutingFailed runs when the bus rejected a message.
	CallbackRoutingFailed CallbackType = "routing_failed"

	// CallbackTaskForced runs after a stale task was force-completed.
	CallbackTaskForced CallbackType = "task_forced"

	// CallbackTaskAbandoned runs when a wait gave up on a task.
	CallbackTaskAbandoned CallbackType = "task_abandoned"
)

// CallbackContext carries what a callback may inspect.
type CallbackContext struct {
	// Type indicates which lifecycle point triggered the callback.
	Type CallbackType

	// TaskID is set for task related callbacks.
	TaskID string

	// AgentID identifies the agent involved, if any.
	AgentID string

	// Message is the routed message for routing callbacks.
	Message *core.Message

	// Err is the failure for RoutingFailed and TaskAbandoned.
	Err error

	// Metadata provides extensible storage for custom callback data.
	Metadata map[string]any
}

// Callback defines the interface for lifecycle hooks.
//
// Implementations should be fast; callbacks run synchronously on the
// goroutine that triggered them (a worker or the waiting caller).
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
//	forced := NewFunctionCallback(
//	    CallbackTaskForced,
//	    func(ctx context.Context, cc *CallbackContext) error {
//	        metrics.Inc("tasks_forced")
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

// CallbackManager is a registry of callbacks keyed by type. Callbacks run
// in registration order. It is safe for concurrent use.
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

// ExecuteCallbacks runs every callback registered for callbackType. Unlike
// a pipeline, all callbacks run; their errors are joined. A panicking
// callback is reported as an error.
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

	callbackCtx.Type = callbackType
	var errs []error
	for _, callback := range callbacks {
		if err := runCallback(ctx, callback, callbackCtx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func runCallback(ctx context.Context, cb Callback, cc *CallbackContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s callback panicked: %v", cc.Type, r)
		}
	}()
	return cb.Execute(ctx, cc)
}
