package model

import (
	"fmt"

	"github.com/hupe1980/agentcrew/internal/util"
)

// Prompt templates shared by agents. Rendered with util.RenderTemplate.
const (
	SystemDefault = "You are a precise assistant inside a multi-agent system. Answer concisely."

	TemplatePlan = `Break the goal below into at most {{.max_tasks}} concrete tasks.
Answer with JSON only: {"tasks":[{"description":"...","dependencies":[<indices of earlier tasks>]}]}
Goal: {{.goal}}`

	TemplateAnalysis = `Classify the task below. Answer with JSON only:
{"task_type":"web_search|knowledge_processing|code_generation|analysis|general","complexity":"low|medium|high","required_tools":["..."]}
Task: {{.description}}`

	TemplateReasoning = `Think step by step and give a numbered reasoning chain ending with "Conclusion:".
Question: {{.question}}`

	TemplateProblem = `Analyze the problem below: restate it, list constraints, propose an approach.
Problem: {{.problem}}`

	TemplateEvaluation = `Evaluate the {{.subject}} below on each criterion from 1 to 10.
Answer with JSON only: {"scores":{"<criterion>":<int>},"overall":<int>,"feedback":"..."}
Criteria: {{join ", " .criteria}}
{{.content}}`

	TemplateSummary = `Summarize the execution of the plan for goal "{{.goal}}".
Completed tasks: {{.completed}}. Failed tasks: {{.failed}}.
{{numbered .tasks}}`

	TemplateExpertise = `As an expert in {{.domain}}, {{.instruction}}
{{.content}}`

	TemplateExtraction = `Extract facts and relations from the text. Answer with JSON only:
{"triples":[{"subject":"...","predicate":"...","object":"..."}]}
Text: {{.text}}`

	TemplateCode = `Write a self-contained Python 3 script for the task below. Reply with a single fenced code block.
Task: {{.description}}`

	TemplateFix = `The code below failed with the error shown. Reply with the corrected code in a single fenced code block.
Error: {{.error}}
Code:
{{.code}}`

	TemplateTask = `Complete the task below and report the result.
Task: {{.description}}`
)

// NewPrompt renders tmpl with vars into a Prompt for purpose.
func NewPrompt(purpose Purpose, tmpl string, vars map[string]any) (Prompt, error) {
	text, err := util.RenderTemplate(tmpl, vars)
	if err != nil {
		return Prompt{}, fmt.Errorf("render %s prompt: %w", purpose, err)
	}
	return Prompt{Purpose: purpose, System: SystemDefault, Text: text, Vars: vars}, nil
}
