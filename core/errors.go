package core

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTaskNotFound is returned when a task id is unknown to the coordinator.
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskTerminal is returned when a terminal task is asked to change.
	ErrTaskTerminal = errors.New("task already in terminal state")
	// ErrAgentExists is returned when registering an id twice.
	ErrAgentExists = errors.New("agent already registered")
	// ErrAgentNotFound is returned for operations on unknown agents.
	ErrAgentNotFound = errors.New("agent not found")
	// ErrPlanNotFound is returned by plan stores for unknown plan ids.
	ErrPlanNotFound = errors.New("plan not found")
	// ErrPlanTaskNotFound is returned by plan stores for unknown plan task ids.
	ErrPlanTaskNotFound = errors.New("plan task not found")
)

// ValidationError reports an unknown target, role or malformed payload.
// It is surfaced immediately and never retried.
type ValidationError struct {
	Field   string `json:"field"`
	Value   any    `json:"value,omitempty"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewValidationError builds a ValidationError for field.
func NewValidationError(field string, value any, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: fmt.Sprintf(format, args...)}
}

// RoutingError is returned when a message is addressed to an agent the bus
// does not know.
type RoutingError struct {
	MessageID string
	SenderID  string
	Receiver  string
}

// Error implements the error interface.
func (e *RoutingError) Error() string {
	return fmt.Sprintf("routing error: no agent %q for message %s from %q", e.Receiver, e.MessageID, e.SenderID)
}

// TransientCapabilityError wraps a failure of an external capability (model,
// tool) that may succeed when retried.
type TransientCapabilityError struct {
	Capability string
	Err        error
}

// Error implements the error interface.
func (e *TransientCapabilityError) Error() string {
	return fmt.Sprintf("transient %s failure: %v", e.Capability, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransientCapabilityError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or anything it wraps) is a TransientCapabilityError.
func IsTransient(err error) bool {
	var te *TransientCapabilityError
	return errors.As(err, &te)
}

// TaskFailure records a capability that answered with success=false.
type TaskFailure struct {
	TaskID string
	Reason string
}

// Error implements the error interface.
func (e *TaskFailure) Error() string {
	return fmt.Sprintf("task %s failed: %s", e.TaskID, e.Reason)
}

// OrchestrationTimeout is returned when a task neither completed nor was
// force-completed before its deadline.
type OrchestrationTimeout struct {
	TaskID     string
	Elapsed    time.Duration
	Iterations int
	Cause      error
}

// Error implements the error interface.
func (e *OrchestrationTimeout) Error() string {
	msg := fmt.Sprintf("task %s did not complete after %s (%d iterations)", e.TaskID, e.Elapsed.Round(time.Millisecond), e.Iterations)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the cancellation cause, if any.
func (e *OrchestrationTimeout) Unwrap() error { return e.Cause }

// DependencyFailure marks a plan task skipped because a dependency failed.
type DependencyFailure struct {
	TaskID       string
	DependencyID string
}

// Error implements the error interface.
func (e *DependencyFailure) Error() string {
	return fmt.Sprintf("plan task %s: dependency failed (%s)", e.TaskID, e.DependencyID)
}
