package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/agentcrew/core"
	"github.com/hupe1980/agentcrew/evaluation"
	"github.com/hupe1980/agentcrew/model"
)

// Assessment is one entry of the Evaluation agent's history.
type Assessment struct {
	TaskID  string    `json:"task_id,omitempty"`
	Subject string    `json:"subject"`
	Overall int       `json:"overall"`
	At      time.Time `json:"at"`
}

// Evaluation scores text, code, plans and competing solutions.
type Evaluation struct {
	*Base
	evaluator *evaluation.LLMEvaluator

	mu      sync.Mutex
	history []Assessment
}

// NewEvaluation creates an evaluation agent backed by llm.
func NewEvaluation(llm model.LLM, optFns ...func(o *Options)) *Evaluation {
	e := &Evaluation{evaluator: evaluation.New(llm)}
	e.Base = NewBase(core.RoleEvaluation, e, append([]func(o *Options){func(o *Options) {
		o.Name = "Evaluation Agent"
		o.Description = "Evaluates outputs of other agents and gives feedback"
	}}, optFns...)...)
	return e
}

// History returns past assessments, oldest first.
func (e *Evaluation) History() []Assessment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Assessment(nil), e.history...)
}

// Handle implements Handler.
func (e *Evaluation) Handle(ctx context.Context, msg core.Message, kind core.TaskKind) (core.Result, error) {
	switch k := kind.(type) {
	case core.EvaluateText:
		return e.evaluate(ctx, msg, "text", k.Text, k.Criteria)
	case core.EvaluateCode:
		content := k.Code
		if k.Requirements != "" {
			content = fmt.Sprintf("%s\n\nRequirements: %s", k.Code, k.Requirements)
		}
		return e.evaluate(ctx, msg, "code", content, evaluation.CodeCriteria)
	case core.EvaluatePlan:
		var b strings.Builder
		fmt.Fprintf(&b, "Goal: %s\n", k.Goal)
		for i, s := range k.Steps {
			fmt.Fprintf(&b, "%d. %s\n", i+1, s)
		}
		return e.evaluate(ctx, msg, "plan", b.String(), evaluation.PlanCriteria)
	case core.CompareSolutions:
		cmp, err := e.evaluator.Compare(ctx, k.Problem, k.Solutions)
		if err != nil {
			return core.Result{}, err
		}
		e.record(msg.Metadata.TaskID, "comparison", cmp.Evaluations[cmp.Best].Overall)
		return core.OK(map[string]any{"comparison": cmp, "best_solution": cmp.Best}), nil
	case core.ExecuteTask:
		return e.evaluate(ctx, msg, "task", k.Description, evaluation.TextCriteria)
	default:
		return core.Result{}, ErrUnsupportedTask
	}
}

func (e *Evaluation) evaluate(ctx context.Context, msg core.Message, subject, content string, criteria []string) (core.Result, error) {
	ev, err := e.evaluator.Evaluate(ctx, subject, content, criteria)
	if err != nil {
		return core.Result{}, err
	}
	e.record(msg.Metadata.TaskID, subject, ev.Overall)
	return core.OK(map[string]any{"evaluation": ev, "overall": ev.Overall}), nil
}

func (e *Evaluation) record(taskID, subject string, overall int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = append(e.history, Assessment{TaskID: taskID, Subject: subject, Overall: overall, At: time.Now().UTC()})
	if len(e.history) > DefaultHistoryLimit {
		e.history = e.history[1:]
	}
}

var _ core.Agent = (*Evaluation)(nil)
