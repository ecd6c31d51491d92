package tool

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/agentcrew/internal/util"
)

// FunctionTool is a generic adapter that exposes a plain Go function as a tool.
//
// It validates arguments against its schema before execution and normalizes
// errors so callers receive *ToolError with consistent codes:
//
//	VALIDATION_ERROR  -> schema / argument mismatch
//	EXECUTION_ERROR   -> underlying function returned an error
//
// Custom codes are preserved if the function returns *ToolError directly, and
// transient capability errors pass through unchanged so the registry can
// retry them.
type FunctionTool struct {
	name        string
	description string
	parameters  map[string]any
	fn          func(ctx context.Context, args map[string]any) (any, error)
}

// NewFunctionTool constructs a FunctionTool from explicit schema and function.
func NewFunctionTool(
	name, description string,
	parameters map[string]any,
	fn func(ctx context.Context, args map[string]any) (any, error),
) *FunctionTool {
	return &FunctionTool{
		name:        name,
		description: description,
		parameters:  parameters,
		fn:          fn,
	}
}

// NewFunctionToolFromStruct derives the parameter schema from a struct using
// reflection (see util.CreateSchema).
//
// Example:
//
//	type searchArgs struct {
//	  Query string `json:"query" description:"Search terms"`
//	}
//
//	t := NewFunctionToolFromStruct("web_search", "Search the web", searchArgs{},
//	  func(ctx context.Context, args map[string]any) (any, error) { ... })
func NewFunctionToolFromStruct(
	name, description string,
	structType any,
	fn func(ctx context.Context, args map[string]any) (any, error),
) *FunctionTool {
	return NewFunctionTool(name, description, util.CreateSchema(structType), fn)
}

// Name returns the unique tool name.
func (t *FunctionTool) Name() string { return t.name }

// Description returns the short natural language description.
func (t *FunctionTool) Description() string { return t.description }

// Parameters returns the (minimal) JSON schema describing expected arguments.
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// Call validates args against the declared schema then invokes the function.
func (t *FunctionTool) Call(ctx context.Context, args map[string]any) (any, error) {
	if err := util.ValidateParameters(args, t.parameters); err != nil {
		return nil, &ToolError{
			Tool:    t.name,
			Message: fmt.Sprintf("parameter validation failed: %v", err),
			Code:    CodeValidation,
			Details: err,
		}
	}

	result, err := t.fn(ctx, args)
	if err == nil {
		return result, nil
	}
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return nil, toolErr
	}
	if isTransient(err) {
		return nil, err
	}
	return nil, &ToolError{Tool: t.name, Message: err.Error(), Code: CodeExecution, Details: err}
}
