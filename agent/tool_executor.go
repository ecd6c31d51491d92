package agent

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/agentcrew/core"
	"github.com/hupe1980/agentcrew/internal/heuristic"
	"github.com/hupe1980/agentcrew/model"
	"github.com/hupe1980/agentcrew/tool"
)

// DefaultHistoryLimit bounds the execution history kept by agents.
const DefaultHistoryLimit = 100

// Execution is one tool call recorded by the ToolExecutor.
type Execution struct {
	TaskID   string         `json:"task_id,omitempty"`
	Tool     string         `json:"tool"`
	Params   map[string]any `json:"params,omitempty"`
	Success  bool           `json:"success"`
	Error    string         `json:"error,omitempty"`
	At       time.Time      `json:"at"`
	Duration time.Duration  `json:"duration"`
}

// ToolExecutor runs tools from a registry. The optional llm writes code for
// execute_task requests that need it.
type ToolExecutor struct {
	*Base
	tools *tool.Registry
	llm   model.LLM

	mu      sync.Mutex
	history []Execution
	limit   int
}

// NewToolExecutor creates a tool executor agent. llm may be nil.
func NewToolExecutor(tools *tool.Registry, llm model.LLM, optFns ...func(o *Options)) *ToolExecutor {
	t := &ToolExecutor{tools: tools, llm: llm, limit: DefaultHistoryLimit}
	t.Base = NewBase(core.RoleToolExecutor, t, append([]func(o *Options){func(o *Options) {
		o.Name = "Tool Executor Agent"
		o.Description = "Executes web search, fetch and code tools"
	}}, optFns...)...)
	return t
}

// History returns the recorded tool executions, oldest first.
func (t *ToolExecutor) History() []Execution {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Execution(nil), t.history...)
}

// Handle implements Handler.
func (t *ToolExecutor) Handle(ctx context.Context, msg core.Message, kind core.TaskKind) (core.Result, error) {
	taskID := msg.Metadata.TaskID
	switch k := kind.(type) {
	case core.ExecuteTool:
		return t.run(ctx, taskID, k.Tool, k.Params), nil
	case core.WebSearch:
		return t.run(ctx, taskID, tool.NameWebSearch, map[string]any{"query": k.Query, "max_results": k.MaxResults}), nil
	case core.FetchURL:
		return t.run(ctx, taskID, tool.NameFetchURL, map[string]any{"url": k.URL}), nil
	case core.ExecuteCode:
		return t.runCode(ctx, taskID, k.Code), nil
	case core.ExecuteTask:
		return t.execute(ctx, taskID, k)
	default:
		return core.Result{}, ErrUnsupportedTask
	}
}

func (t *ToolExecutor) execute(ctx context.Context, taskID string, k core.ExecuteTask) (core.Result, error) {
	needsSearch := k.Category == heuristic.CategoryWebSearch
	for _, tl := range k.RequiredTools {
		if tl == heuristic.ToolWebSearch {
			needsSearch = true
		}
	}
	if needsSearch {
		return t.run(ctx, taskID, tool.NameWebSearch, map[string]any{"query": k.Description}), nil
	}
	if t.llm == nil {
		return core.Failf("agent %s cannot write code without a language model", t.ID()), nil
	}
	code, err := t.llm.GenerateCode(ctx, k.Description)
	if err != nil {
		return core.Result{}, err
	}
	return t.runCode(ctx, taskID, code), nil
}

// runCode executes code and always reports it back so a failed run can be
// repaired.
func (t *ToolExecutor) runCode(ctx context.Context, taskID, code string) core.Result {
	res := t.run(ctx, taskID, tool.NameExecuteCode, map[string]any{"code": code})
	if res.Data == nil {
		res.Data = map[string]any{}
	}
	res.Data["code"] = code
	if out, ok := res.Data["output"].(map[string]any); ok {
		res.Data["output"] = out["output"]
	}
	return res
}

func (t *ToolExecutor) run(ctx context.Context, taskID, name string, params map[string]any) core.Result {
	start := time.Now()
	res := t.tools.Execute(ctx, name, params)
	t.record(Execution{
		TaskID:   taskID,
		Tool:     name,
		Params:   params,
		Success:  res.Success,
		Error:    res.Error,
		At:       start.UTC(),
		Duration: time.Since(start),
	})
	if !res.Success {
		r := core.Failf("tool %s failed: %s", name, res.Error)
		r.Data = map[string]any{"tool": name, "error_code": res.Code}
		return r
	}
	return core.OK(map[string]any{"tool": name, "output": res.Output})
}

func (t *ToolExecutor) record(e Execution) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.history = append(t.history, e)
	if len(t.history) > t.limit {
		t.history = t.history[len(t.history)-t.limit:]
	}
}

var _ core.Agent = (*ToolExecutor)(nil)
