package agent

import (
	"context"
	"strings"

	"github.com/hupe1980/agentcrew/core"
	"github.com/hupe1980/agentcrew/internal/heuristic"
	"github.com/hupe1980/agentcrew/model"
)

// Reasoning answers questions step by step, analyzes tasks, writes and
// repairs code.
type Reasoning struct {
	*Base
	llm model.LLM
}

// NewReasoning creates a reasoning agent backed by llm.
func NewReasoning(llm model.LLM, optFns ...func(o *Options)) *Reasoning {
	r := &Reasoning{llm: llm}
	r.Base = NewBase(core.RoleReasoning, r, append([]func(o *Options){func(o *Options) {
		o.Name = "Reasoning Agent"
		o.Description = "Performs step-by-step reasoning, task analysis and code generation"
	}}, optFns...)...)
	return r
}

// Handle implements Handler.
func (r *Reasoning) Handle(ctx context.Context, _ core.Message, kind core.TaskKind) (core.Result, error) {
	switch k := kind.(type) {
	case core.ReasoningChain:
		return r.reason(ctx, k.Question)
	case core.AnalyzeProblem:
		p, err := model.NewPrompt(model.PurposeReasoning, model.TemplateProblem, map[string]any{"problem": k.Problem})
		if err != nil {
			return core.Result{}, err
		}
		out, err := r.llm.Generate(ctx, p)
		if err != nil {
			return core.Result{}, err
		}
		return core.OK(map[string]any{"analysis": out}), nil
	case core.FixCode:
		fixed, err := r.llm.AnalyzeError(ctx, k.Error, k.Code)
		if err != nil {
			return core.Result{}, err
		}
		return core.OK(map[string]any{"fixed_code": fixed}), nil
	case core.AnalyzeTask:
		a, err := AnalyzeDescription(ctx, r.llm, k.Description)
		if err != nil {
			return core.Result{}, err
		}
		return core.OK(a.Data()), nil
	case core.GeneratePlan:
		steps, fallback, err := GeneratePlanSteps(ctx, r.llm, k.Goal, k.MaxTasks)
		if err != nil {
			return core.Result{}, err
		}
		return core.OK(map[string]any{"goal": k.Goal, "tasks": steps, "heuristic": fallback}), nil
	case core.RepairTask:
		return r.repair(ctx, k)
	case core.ExecuteTask:
		return r.execute(ctx, k)
	default:
		return core.Result{}, ErrUnsupportedTask
	}
}

func (r *Reasoning) reason(ctx context.Context, question string) (core.Result, error) {
	p, err := model.NewPrompt(model.PurposeReasoning, model.TemplateReasoning, map[string]any{"question": question})
	if err != nil {
		return core.Result{}, err
	}
	out, err := r.llm.Generate(ctx, p)
	if err != nil {
		return core.Result{}, err
	}
	return core.OK(map[string]any{"reasoning": out, "conclusion": conclusion(out)}), nil
}

// repair produces fixed code for a failed plan task. Without the failing
// code it writes fresh code for the description first.
func (r *Reasoning) repair(ctx context.Context, k core.RepairTask) (core.Result, error) {
	code := k.Code
	if strings.TrimSpace(code) == "" {
		generated, err := r.llm.GenerateCode(ctx, k.Description)
		if err != nil {
			return core.Result{}, err
		}
		code = generated
	}
	fixed, err := r.llm.AnalyzeError(ctx, k.Error, code)
	if err != nil {
		return core.Result{}, err
	}
	if strings.TrimSpace(fixed) == "" {
		return core.Failf("no fixed code produced for task %s", k.PlanTaskID), nil
	}
	return core.OK(map[string]any{"task_id": k.PlanTaskID, "fixed_code": fixed}), nil
}

// execute writes code for coding tasks and reasons about everything else.
func (r *Reasoning) execute(ctx context.Context, k core.ExecuteTask) (core.Result, error) {
	category := k.Category
	if category == "" {
		category = heuristic.Classify(k.Description).TaskType
	}
	if category != heuristic.CategoryCode {
		return r.reason(ctx, k.Description)
	}
	code, err := r.llm.GenerateCode(ctx, k.Description)
	if err != nil {
		return core.Result{}, err
	}
	return core.OK(map[string]any{"task_id": k.PlanTaskID, "code": code, "result": "code generated"}), nil
}

func conclusion(reasoning string) string {
	idx := strings.LastIndex(reasoning, "Conclusion:")
	if idx < 0 {
		return ""
	}
	return strings.TrimSpace(reasoning[idx+len("Conclusion:"):])
}

var _ core.Agent = (*Reasoning)(nil)
