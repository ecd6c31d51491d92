package model

import "context"

// Purpose tells a capability what a prompt is for. Live implementations only
// see the rendered text; Simulated uses the purpose and vars to synthesize a
// well-formed answer.
type Purpose string

const (
	PurposeGeneral    Purpose = "general"
	PurposePlan       Purpose = "plan"
	PurposeAnalysis   Purpose = "analysis"
	PurposeReasoning  Purpose = "reasoning"
	PurposeEvaluation Purpose = "evaluation"
	PurposeSummary    Purpose = "summary"
	PurposeExpertise  Purpose = "expertise"
	PurposeExtraction Purpose = "extraction"
)

// Prompt is a rendered prompt plus the variables it was rendered from.
type Prompt struct {
	Purpose Purpose
	System  string
	Text    string
	Vars    map[string]any
}

// LLM is the language-model capability consumed by agents.
type LLM interface {
	Generate(ctx context.Context, p Prompt) (string, error)
	GenerateCode(ctx context.Context, description string) (string, error)
	// AnalyzeError returns corrected code for code that failed with errMsg.
	AnalyzeError(ctx context.Context, errMsg, code string) (string, error)
	// EditKnowledge edits a fact into the model. It reports false when the
	// backing model cannot be edited.
	EditKnowledge(ctx context.Context, subject, fact, original string) (bool, error)
}

// KnowledgeEditor performs model editing for Live. Hosted chat models cannot
// be edited, so Live reports false unless an editor is configured.
type KnowledgeEditor interface {
	Edit(ctx context.Context, subject, fact, original string) (bool, error)
}

var (
	_ LLM = (*Live)(nil)
	_ LLM = (*Simulated)(nil)
)
