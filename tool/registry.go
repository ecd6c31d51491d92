package tool

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/agentcrew/core"
	"github.com/hupe1980/agentcrew/internal/retry"
	"github.com/hupe1980/agentcrew/logging"
)

// RegistryOptions configure a Registry.
type RegistryOptions struct {
	Retry  retry.Policy
	Logger logging.Logger
}

// Registry holds the tools available to an agent and executes them with
// retries for transient failures.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	opts   RegistryOptions
	logger logging.Logger
}

// NewRegistry creates a registry with the given tools.
func NewRegistry(tools []Tool, optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{Retry: retry.DefaultPolicy}
	for _, fn := range optFns {
		fn(&opts)
	}
	r := &Registry{tools: make(map[string]Tool, len(tools)), opts: opts, logger: logging.OrNoOp(opts.Logger)}
	for _, t := range tools {
		r.tools[t.Name()] = t
	}
	return r
}

// Register adds or replaces a tool.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Execute runs the named tool. It never returns an error; failures are
// described by the Result.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) Result {
	t, ok := r.Get(name)
	if !ok {
		return Result{Error: NewToolError(name, "tool not registered", CodeNotFound).Error(), Code: CodeNotFound}
	}
	if args == nil {
		args = map[string]any{}
	}

	start := time.Now()
	out, err := retry.Do(ctx, r.opts.Retry, r.logger, "tool:"+name, func(ctx context.Context) (any, error) {
		return t.Call(ctx, args)
	})
	logging.ToolCall(r.logger, name, time.Since(start), err == nil, err)
	if err != nil {
		res := Result{Error: err.Error(), Code: CodeExecution}
		var toolErr *ToolError
		if errors.As(err, &toolErr) {
			res.Code = toolErr.Code
		}
		return res
	}
	return Result{Success: true, Output: out}
}

func isTransient(err error) bool { return core.IsTransient(err) }
