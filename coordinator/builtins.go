package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/agentcrew/agent"
	"github.com/hupe1980/agentcrew/core"
	"github.com/hupe1980/agentcrew/model"
)

// roles maps task types to the role that handles them when a task names
// no targets.
var roles = map[core.TaskType]core.Role{
	core.TypeGeneratePlan:    core.RoleCoordinator,
	core.TypeGenerateSummary: core.RoleCoordinator,

	core.TypeAnalyzeTask:    core.RoleReasoning,
	core.TypeAnalyzeProblem: core.RoleReasoning,
	core.TypeReasoningChain: core.RoleReasoning,
	core.TypeFixCode:        core.RoleReasoning,
	core.TypeRepairTask:     core.RoleReasoning,
	core.TypeExecuteTask:    core.RoleReasoning,

	core.TypeAddKnowledge:     core.RoleKnowledge,
	core.TypeGetKnowledge:     core.RoleKnowledge,
	core.TypeSearchKnowledge:  core.RoleKnowledge,
	core.TypeAddTriple:        core.RoleKnowledge,
	core.TypeFindRelated:      core.RoleKnowledge,
	core.TypeExtractKnowledge: core.RoleKnowledge,

	core.TypeExecuteTool: core.RoleToolExecutor,
	core.TypeWebSearch:   core.RoleToolExecutor,
	core.TypeFetchURL:    core.RoleToolExecutor,
	core.TypeExecuteCode: core.RoleToolExecutor,

	core.TypeEvaluateText:     core.RoleEvaluation,
	core.TypeEvaluateCode:     core.RoleEvaluation,
	core.TypeEvaluatePlan:     core.RoleEvaluation,
	core.TypeCompareSolutions: core.RoleEvaluation,

	core.TypeProvideExpertise:    core.RoleDomainExpert,
	core.TypeEvaluateStatement:   core.RoleDomainExpert,
	core.TypeSuggestImprovements: core.RoleDomainExpert,
}

// RoleFor returns the role that handles t by default. Unknown types go to
// reasoning.
func RoleFor(t core.TaskType) core.Role {
	if role, ok := roles[t]; ok {
		return role
	}
	return core.RoleReasoning
}

// Handle implements agent.Handler for the built-in kinds: generate_plan,
// execute_task, analyze_task and generate_summary.
func (c *Coordinator) Handle(ctx context.Context, _ core.Message, kind core.TaskKind) (core.Result, error) {
	switch k := kind.(type) {
	case core.GeneratePlan:
		steps, fallback, err := agent.GeneratePlanSteps(ctx, c.llm, k.Goal, k.MaxTasks)
		if err != nil {
			return core.Result{}, err
		}
		if fallback {
			c.logger.Info("Plan generated by heuristic fallback", "goal", k.Goal, "tasks", len(steps))
		}
		return core.OK(map[string]any{"goal": k.Goal, "tasks": steps, "heuristic": fallback}), nil
	case core.ExecuteTask:
		p, err := model.NewPrompt(model.PurposeGeneral, model.TemplateTask, map[string]any{"description": k.Description})
		if err != nil {
			return core.Result{}, err
		}
		out, err := c.llm.Generate(ctx, p)
		if err != nil {
			return core.Result{}, err
		}
		return core.OK(map[string]any{"task_id": k.PlanTaskID, "result": out}), nil
	case core.AnalyzeTask:
		a, err := agent.AnalyzeDescription(ctx, c.llm, k.Description)
		if err != nil {
			return core.Result{}, err
		}
		return core.OK(a.Data()), nil
	case core.GenerateSummary:
		return c.summarize(ctx, k), nil
	default:
		return core.Result{}, agent.ErrUnsupportedTask
	}
}

// summarize never fails: without a usable model answer it reports the
// counts.
func (c *Coordinator) summarize(ctx context.Context, k core.GenerateSummary) core.Result {
	lines := make([]string, 0, len(k.TaskResults))
	for _, d := range k.TaskResults {
		line := fmt.Sprintf("%s [%s]", d.Description, d.Status)
		if d.Result != "" {
			line += ": " + d.Result
		}
		lines = append(lines, line)
	}
	p, err := model.NewPrompt(model.PurposeSummary, model.TemplateSummary, map[string]any{
		"goal":      k.Goal,
		"completed": k.CompletedTasks,
		"failed":    k.FailedTasks,
		"tasks":     lines,
	})
	if err == nil {
		out, genErr := c.llm.Generate(ctx, p)
		if genErr == nil && strings.TrimSpace(out) != "" {
			return core.OK(map[string]any{"plan_id": k.PlanID, "summary": out})
		}
		err = genErr
	}
	c.logger.Warn("Summary generation failed, using fallback", "plan_id", k.PlanID, "error", fmt.Sprint(err))
	return core.OK(map[string]any{
		"plan_id":   k.PlanID,
		"summary":   FallbackSummary(k),
		"heuristic": true,
	})
}

// FallbackSummary describes a plan run from its counts alone.
func FallbackSummary(k core.GenerateSummary) string {
	return fmt.Sprintf("Plan %s for goal %q finished: %d of %d tasks completed, %d failed.",
		k.PlanID, k.Goal, k.CompletedTasks, k.CompletedTasks+k.FailedTasks, k.FailedTasks)
}

// runBuiltin executes a self-targeted task and turns every failure into a
// failed result so the task always reaches a terminal state.
func (c *Coordinator) runBuiltin(ctx context.Context, taskID string, kind core.TaskKind) (res core.Result) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Built-in task panicked", "task_id", taskID, "panic", fmt.Sprint(r))
			res = core.Failf("coordinator panicked: %v", r)
		}
	}()
	res, err := c.Handle(ctx, core.Message{}, kind)
	switch {
	case errors.Is(err, agent.ErrUnsupportedTask):
		c.logger.Warn("Unsupported self-targeted task", "task_id", taskID, "task_type", string(kind.TaskType()))
		return core.Failf("%s: coordinator does not handle %s tasks", core.CodeUnsupportedTask, kind.TaskType())
	case err != nil:
		c.logger.Warn("Built-in task failed", "task_id", taskID, "error", err.Error())
		return core.Fail(err)
	}
	return res
}
