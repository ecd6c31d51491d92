// Package evaluation scores text, code and plans against named criteria on a
// 1..10 scale. Scores come from the language model when its answer parses and
// from a deterministic heuristic otherwise, so an evaluation always succeeds
// unless the model call itself fails.
package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hupe1980/agentcrew/internal/heuristic"
	"github.com/hupe1980/agentcrew/model"
)

// Score bounds.
const (
	MinScore = 1
	MaxScore = 10
)

// Default criteria per subject.
var (
	TextCriteria = []string{"clarity", "accuracy", "completeness", "relevance"}
	CodeCriteria = []string{"correctness", "efficiency", "readability", "style", "security"}
	PlanCriteria = []string{"feasibility", "completeness", "efficiency", "risk_management"}
)

// Evaluation is the scored assessment of one piece of content.
type Evaluation struct {
	Subject      string         `json:"subject"`
	Scores       map[string]int `json:"scores"`
	Overall      int            `json:"overall"`
	Feedback     string         `json:"feedback,omitempty"`
	Improvements []string       `json:"improvements,omitempty"`
	Heuristic    bool           `json:"heuristic,omitempty"`
}

// Comparison ranks several candidate solutions to one problem.
type Comparison struct {
	Evaluations []Evaluation `json:"evaluations"`
	Best        int          `json:"best_solution"`
	Reasoning   string       `json:"reasoning"`
}

// Evaluator scores content.
type Evaluator interface {
	Evaluate(ctx context.Context, subject, content string, criteria []string) (Evaluation, error)
}

// LLMEvaluator asks a language model for scores.
type LLMEvaluator struct {
	llm model.LLM
}

// New creates an LLMEvaluator.
func New(llm model.LLM) *LLMEvaluator {
	return &LLMEvaluator{llm: llm}
}

// Evaluate implements Evaluator. Criteria missing from the model answer are
// filled in heuristically; an unparsable answer falls back entirely.
func (e *LLMEvaluator) Evaluate(ctx context.Context, subject, content string, criteria []string) (Evaluation, error) {
	if len(criteria) == 0 {
		criteria = TextCriteria
	}
	p, err := model.NewPrompt(model.PurposeEvaluation, model.TemplateEvaluation, map[string]any{
		"subject":  subject,
		"criteria": criteria,
		"content":  content,
	})
	if err != nil {
		return Evaluation{}, err
	}
	out, err := e.llm.Generate(ctx, p)
	if err != nil {
		return Evaluation{}, fmt.Errorf("evaluate %s: %w", subject, err)
	}
	ev, err := Parse(out, criteria)
	if err != nil {
		ev = Heuristic(content, criteria)
	} else {
		for _, c := range criteria {
			if _, ok := ev.Scores[c]; !ok {
				ev.Scores[c] = heuristic.Score(content, c)
			}
		}
		if ev.Overall == 0 {
			ev.Overall = Overall(ev.Scores)
		}
	}
	ev.Subject = subject
	return ev, nil
}

// Compare evaluates every solution against the same criteria and picks the
// highest overall score. Ties go to the earlier solution.
func (e *LLMEvaluator) Compare(ctx context.Context, problem string, solutions []string) (Comparison, error) {
	if len(solutions) == 0 {
		return Comparison{}, fmt.Errorf("compare: no solutions")
	}
	cmp := Comparison{Evaluations: make([]Evaluation, 0, len(solutions))}
	for i, s := range solutions {
		ev, err := e.Evaluate(ctx, "solution to "+problem, s, []string{"correctness", "completeness", "efficiency"})
		if err != nil {
			return Comparison{}, err
		}
		cmp.Evaluations = append(cmp.Evaluations, ev)
		if ev.Overall > cmp.Evaluations[cmp.Best].Overall {
			cmp.Best = i
		}
	}
	cmp.Reasoning = fmt.Sprintf("solution %d has the highest overall score (%d/%d)", cmp.Best, cmp.Evaluations[cmp.Best].Overall, MaxScore)
	return cmp, nil
}

// Heuristic scores content without a model.
func Heuristic(content string, criteria []string) Evaluation {
	scores := make(map[string]int, len(criteria))
	for _, c := range criteria {
		scores[c] = heuristic.Score(content, c)
	}
	return Evaluation{Scores: scores, Overall: Overall(scores), Feedback: "heuristic evaluation", Heuristic: true}
}

// Overall is the rounded-down mean of scores, clamped to the score range.
func Overall(scores map[string]int) int {
	if len(scores) == 0 {
		return MinScore
	}
	total := 0
	for _, s := range scores {
		total += s
	}
	return Clamp(total / len(scores))
}

// Clamp bounds a score to [MinScore, MaxScore].
func Clamp(score int) int {
	return heuristic.Clamp(score, MinScore, MaxScore)
}

// Parse reads a model answer. Two shapes are accepted:
//
//	{"scores":{"clarity":8},"overall":7,"feedback":"..."}
//	{"criteria":{"clarity":{"score":8,"comment":"..."}},"overall":{"score":7,"comment":"..."}}
//
// Scores are clamped. Criteria not in the requested list are kept.
func Parse(text string, criteria []string) (Evaluation, error) {
	raw := heuristic.ExtractJSON(text)
	if raw == "" {
		return Evaluation{}, fmt.Errorf("parse evaluation: no JSON object")
	}
	var doc struct {
		Scores       map[string]json.Number     `json:"scores"`
		Criteria     map[string]json.RawMessage `json:"criteria"`
		Overall      json.RawMessage            `json:"overall"`
		Feedback     string                     `json:"feedback"`
		Improvements []string                   `json:"improvements"`
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return Evaluation{}, fmt.Errorf("parse evaluation: %w", err)
	}

	ev := Evaluation{Scores: make(map[string]int, len(criteria)), Feedback: doc.Feedback, Improvements: doc.Improvements}
	for name, n := range doc.Scores {
		if v, err := n.Float64(); err == nil {
			ev.Scores[name] = Clamp(int(v + 0.5))
		}
	}
	for name, rawScore := range doc.Criteria {
		if v, _, ok := scoreOf(rawScore); ok {
			ev.Scores[name] = Clamp(v)
		}
	}
	if len(ev.Scores) == 0 {
		return Evaluation{}, fmt.Errorf("parse evaluation: no scores")
	}
	if v, comment, ok := scoreOf(doc.Overall); ok {
		ev.Overall = Clamp(v)
		if ev.Feedback == "" {
			ev.Feedback = comment
		}
	}
	return ev, nil
}

// scoreOf decodes either a bare number or {"score":n,"comment":"..."}.
func scoreOf(raw json.RawMessage) (int, string, bool) {
	if len(raw) == 0 {
		return 0, "", false
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return int(n + 0.5), "", true
	}
	var obj struct {
		Score   *float64 `json:"score"`
		Comment string   `json:"comment"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Score != nil {
		return int(*obj.Score + 0.5), strings.TrimSpace(obj.Comment), true
	}
	return 0, "", false
}

var _ Evaluator = (*LLMEvaluator)(nil)
