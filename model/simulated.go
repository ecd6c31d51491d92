package model

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/hupe1980/agentcrew/internal/heuristic"
)

// Simulated is a deterministic LLM that never calls out. Structured purposes
// (plan, analysis, evaluation, extraction) answer with the same JSON shapes a
// live model is asked for.
type Simulated struct {
	mu        sync.Mutex
	responses map[string]string
	edits     map[string]string
}

// NewSimulated creates a Simulated capability.
func NewSimulated() *Simulated {
	return &Simulated{responses: map[string]string{}, edits: map[string]string{}}
}

// AddResponse registers a canned answer for an exact prompt text.
func (s *Simulated) AddResponse(promptText, response string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[promptText] = response
}

// Edits returns the facts edited so far keyed by subject.
func (s *Simulated) Edits() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.edits))
	for k, v := range s.edits {
		out[k] = v
	}
	return out
}

// Generate implements LLM.
func (s *Simulated) Generate(ctx context.Context, p Prompt) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	canned, ok := s.responses[p.Text]
	s.mu.Unlock()
	if ok {
		return canned, nil
	}

	switch p.Purpose {
	case PurposePlan:
		return toJSON(map[string]any{"tasks": heuristic.Plan(str(p.Vars, "goal"), intVar(p.Vars, "max_tasks"))})
	case PurposeAnalysis:
		return toJSON(heuristic.Classify(str(p.Vars, "description")))
	case PurposeReasoning:
		q := str(p.Vars, "question")
		if q == "" {
			q = str(p.Vars, "problem")
		}
		return fmt.Sprintf("1. Restate the question: %s\n2. Identify the known facts.\n3. Derive the answer from the facts.\nConclusion: %s can be answered from the derived facts.", q, q), nil
	case PurposeEvaluation:
		content := str(p.Vars, "content")
		criteria := strs(p.Vars, "criteria")
		scores := make(map[string]int, len(criteria))
		total := 0
		for _, c := range criteria {
			scores[c] = heuristic.Score(content, c)
			total += scores[c]
		}
		overall := 5
		if len(criteria) > 0 {
			overall = total / len(criteria)
		}
		return toJSON(map[string]any{"scores": scores, "overall": overall, "feedback": "Simulated evaluation."})
	case PurposeSummary:
		return fmt.Sprintf("Plan for %q finished: %v completed, %v failed.", str(p.Vars, "goal"), p.Vars["completed"], p.Vars["failed"]), nil
	case PurposeExpertise:
		return fmt.Sprintf("[%s] %s: %s", str(p.Vars, "domain"), str(p.Vars, "instruction"), str(p.Vars, "content")), nil
	case PurposeExtraction:
		return toJSON(map[string]any{"triples": heuristic.ExtractTriples(str(p.Vars, "text"))})
	default:
		return fmt.Sprintf("Simulated response to: %s", p.Text), nil
	}
}

// GenerateCode implements LLM.
func (s *Simulated) GenerateCode(ctx context.Context, description string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("# %s\nprint(%q)", oneLine(description), "done: "+oneLine(description)), nil
}

// AnalyzeError implements LLM by dropping the failing lines.
func (s *Simulated) AnalyzeError(ctx context.Context, errMsg, code string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fixed := heuristic.StripFailingLines(code)
	if strings.TrimSpace(fixed) == "" {
		fixed = "print(\"recovered\")"
	}
	return "# fixed: " + oneLine(errMsg) + "\n" + fixed, nil
}

// EditKnowledge implements LLM.
func (s *Simulated) EditKnowledge(ctx context.Context, subject, fact, _ string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edits[subject] = fact
	return true, nil
}

func toJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func str(vars map[string]any, key string) string {
	if v, ok := vars[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

func strs(vars map[string]any, key string) []string {
	v, _ := vars[key].([]string)
	return v
}

func intVar(vars map[string]any, key string) int {
	switch v := vars[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func oneLine(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > 120 {
		s = s[:120]
	}
	return s
}
