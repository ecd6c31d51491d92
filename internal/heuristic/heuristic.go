// Package heuristic holds the deterministic rules shared by the simulated
// capabilities and by the agents' fallbacks when model output is unusable.
package heuristic

import (
	"hash/fnv"
	"strings"
)

// Task categories produced by Classify.
const (
	CategoryWebSearch  = "web_search"
	CategoryKnowledge  = "knowledge_processing"
	CategoryCode       = "code_generation"
	CategoryAnalysis   = "analysis"
	CategoryGeneral    = "general"
	ToolWebSearch      = "web_search"
	ToolKnowledgeGraph = "knowledge_graph"
	ToolPython         = "python_execute"
)

// Analysis is the classification of a task description.
type Analysis struct {
	TaskType      string   `json:"task_type"`
	Complexity    string   `json:"complexity"`
	RequiredTools []string `json:"required_tools"`
}

var keywords = []struct {
	category string
	tools    []string
	words    []string
}{
	{CategoryWebSearch, []string{ToolWebSearch}, []string{"search", "web", "scrape", "crawl", "fetch", "url", "http", "browse", "download"}},
	{CategoryKnowledge, []string{ToolKnowledgeGraph}, []string{"knowledge", "fact", "graph", "relation", "entity", "ontology"}},
	{CategoryCode, []string{ToolPython}, []string{"code", "implement", "program", "script", "function", "compute", "calculate", "parse", "build", "write"}},
	{CategoryAnalysis, nil, []string{"analy", "evaluate", "assess", "review", "compare", "summar"}},
}

// Classify categorises a task description by keyword.
func Classify(description string) Analysis {
	lower := strings.ToLower(description)
	a := Analysis{TaskType: CategoryGeneral, Complexity: complexity(lower), RequiredTools: []string{ToolPython}}
	for _, k := range keywords {
		for _, w := range k.words {
			if strings.Contains(lower, w) {
				a.TaskType = k.category
				a.RequiredTools = append([]string{}, k.tools...)
				return a
			}
		}
	}
	return a
}

func complexity(s string) string {
	switch n := len(strings.Fields(s)); {
	case n < 8:
		return "low"
	case n < 20:
		return "medium"
	default:
		return "high"
	}
}

// Score derives a stable 1..10 score for text under a criterion.
func Score(text, criterion string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(criterion))
	words := len(strings.Fields(text))
	return Clamp(4+words/15+int(h.Sum32()%3), 1, 10)
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Triple is an extracted subject/predicate/object relation.
type Triple struct {
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Object    string `json:"object"`
}

var predicates = []string{" is ", " are ", " has ", " have ", " contains ", " uses "}

// ExtractTriples splits text into sentences and extracts "X <verb> Y" relations.
func ExtractTriples(text string) []Triple {
	var out []Triple
	for _, sentence := range splitSentences(text) {
		lower := strings.ToLower(sentence)
		for _, p := range predicates {
			idx := strings.Index(lower, p)
			if idx <= 0 {
				continue
			}
			subj := strings.TrimSpace(sentence[:idx])
			obj := strings.TrimSpace(sentence[idx+len(p):])
			if subj == "" || obj == "" {
				continue
			}
			out = append(out, Triple{Subject: subj, Predicate: strings.TrimSpace(p), Object: obj})
			break
		}
	}
	return out
}

func splitSentences(text string) []string {
	f := func(r rune) bool { return r == '.' || r == '!' || r == '?' || r == '\n' }
	var out []string
	for _, s := range strings.FieldsFunc(text, f) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// PlanStep is a synthesized plan entry.
type PlanStep struct {
	Description  string `json:"description"`
	Dependencies []int  `json:"dependencies"`
}

// Plan synthesizes a linear research, implement, verify plan for a goal.
func Plan(goal string, maxTasks int) []PlanStep {
	steps := []PlanStep{
		{Description: "Research requirements for: " + goal, Dependencies: []int{}},
		{Description: "Write code to implement: " + goal, Dependencies: []int{0}},
		{Description: "Evaluate and review the result of: " + goal, Dependencies: []int{1}},
	}
	if maxTasks > 0 && maxTasks < len(steps) {
		steps = steps[:maxTasks]
	}
	return steps
}

// StripFailingLines removes lines that raise or are marked as failing; it is
// the simulated repair of broken code.
func StripFailingLines(code string) string {
	var kept []string
	for _, line := range strings.Split(code, "\n") {
		t := strings.TrimSpace(line)
		if strings.HasPrefix(t, "raise ") || strings.Contains(t, "# fail") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// ExtractCode returns the body of the first fenced code block in text, or the
// trimmed text when there is none.
func ExtractCode(text string) string {
	start := strings.Index(text, "```")
	if start < 0 {
		return strings.TrimSpace(text)
	}
	rest := text[start+3:]
	if nl := strings.Index(rest, "\n"); nl >= 0 {
		rest = rest[nl+1:]
	}
	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

// ExtractJSON returns the outermost {...} object in text, or "".
func ExtractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}
