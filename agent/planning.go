package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hupe1980/agentcrew/core"
	"github.com/hupe1980/agentcrew/internal/heuristic"
	"github.com/hupe1980/agentcrew/model"
)

// DefaultMaxPlanTasks bounds generated plans when the request sets no limit.
const DefaultMaxPlanTasks = 10

// PlanStep is one generated plan entry. Dependencies are indices of earlier
// steps.
type PlanStep struct {
	Description  string `json:"description"`
	Dependencies []int  `json:"dependencies"`
}

// Analysis classifies a task description.
type Analysis struct {
	TaskType      string   `json:"task_type"`
	Complexity    string   `json:"complexity"`
	RequiredTools []string `json:"required_tools"`
	Heuristic     bool     `json:"heuristic,omitempty"`
}

// Data renders the analysis as result data.
func (a Analysis) Data() map[string]any {
	return map[string]any{
		"task_type":      a.TaskType,
		"complexity":     a.Complexity,
		"required_tools": a.RequiredTools,
		"heuristic":      a.Heuristic,
	}
}

// GeneratePlanSteps asks llm for a plan. An answer that does not parse falls
// back to the heuristic research, implement, verify plan.
func GeneratePlanSteps(ctx context.Context, llm model.LLM, goal string, maxTasks int) ([]PlanStep, bool, error) {
	if strings.TrimSpace(goal) == "" {
		return nil, false, core.NewValidationError("goal", goal, "must not be empty")
	}
	if maxTasks <= 0 {
		maxTasks = DefaultMaxPlanTasks
	}
	p, err := model.NewPrompt(model.PurposePlan, model.TemplatePlan, map[string]any{"goal": goal, "max_tasks": maxTasks})
	if err != nil {
		return nil, false, err
	}
	out, err := llm.Generate(ctx, p)
	if err != nil {
		return nil, false, fmt.Errorf("generate plan: %w", err)
	}
	steps, err := ParsePlanSteps(out)
	if err != nil || len(steps) == 0 {
		steps = nil
		for _, s := range heuristic.Plan(goal, maxTasks) {
			steps = append(steps, PlanStep{Description: s.Description, Dependencies: s.Dependencies})
		}
		return steps, true, nil
	}
	if len(steps) > maxTasks {
		steps = steps[:maxTasks]
	}
	return steps, false, nil
}

// ParsePlanSteps reads {"tasks":[...]} where each entry is either an object
// with description and dependencies or a plain string.
func ParsePlanSteps(text string) ([]PlanStep, error) {
	raw := heuristic.ExtractJSON(text)
	if raw == "" {
		return nil, fmt.Errorf("parse plan: no JSON object")
	}
	var doc struct {
		Tasks []json.RawMessage `json:"tasks"`
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	steps := make([]PlanStep, 0, len(doc.Tasks))
	for i, t := range doc.Tasks {
		var s PlanStep
		if err := json.Unmarshal(t, &s); err != nil {
			var text string
			if err := json.Unmarshal(t, &text); err != nil {
				return nil, fmt.Errorf("parse plan task %d: %w", i, err)
			}
			s.Description = text
		}
		if strings.TrimSpace(s.Description) == "" {
			continue
		}
		steps = append(steps, s)
	}
	return steps, nil
}

// AnalyzeDescription classifies a task description with llm, falling back to
// keyword classification when the answer does not parse.
func AnalyzeDescription(ctx context.Context, llm model.LLM, description string) (Analysis, error) {
	p, err := model.NewPrompt(model.PurposeAnalysis, model.TemplateAnalysis, map[string]any{"description": description})
	if err != nil {
		return Analysis{}, err
	}
	out, err := llm.Generate(ctx, p)
	if err != nil {
		return Analysis{}, fmt.Errorf("analyze task: %w", err)
	}
	var a Analysis
	if raw := heuristic.ExtractJSON(out); raw != "" && json.Unmarshal([]byte(raw), &a) == nil && a.TaskType != "" {
		if a.Complexity == "" {
			a.Complexity = "medium"
		}
		return a, nil
	}
	return Classify(description), nil
}

// Classify is the keyword fallback used when no model answer is usable.
func Classify(description string) Analysis {
	h := heuristic.Classify(description)
	return Analysis{TaskType: h.TaskType, Complexity: h.Complexity, RequiredTools: h.RequiredTools, Heuristic: true}
}

// RoleFor maps an analysis to the role best suited to execute the task.
// Tasks that fit no specialist role map to core.RoleCoordinator.
func RoleFor(a Analysis) core.Role {
	has := func(tool string) bool {
		for _, t := range a.RequiredTools {
			if t == tool {
				return true
			}
		}
		return false
	}
	switch {
	case has(heuristic.ToolWebSearch) || a.TaskType == heuristic.CategoryWebSearch:
		return core.RoleToolExecutor
	case has(heuristic.ToolKnowledgeGraph) || a.TaskType == heuristic.CategoryKnowledge:
		return core.RoleKnowledge
	case a.TaskType == heuristic.CategoryCode:
		return core.RoleReasoning
	case a.TaskType == heuristic.CategoryAnalysis:
		return core.RoleEvaluation
	default:
		return core.RoleCoordinator
	}
}
