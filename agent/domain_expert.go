package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hupe1980/agentcrew/core"
	"github.com/hupe1980/agentcrew/evaluation"
	"github.com/hupe1980/agentcrew/internal/heuristic"
	"github.com/hupe1980/agentcrew/model"
)

// DomainExpert answers questions, judges statements and suggests
// improvements within one domain.
type DomainExpert struct {
	*Base
	domain string
	llm    model.LLM
}

// DomainExpertID returns a fresh id of the form domain_expert_<domain>_<8 hex>.
func DomainExpertID(domain string) string {
	slug := strings.ToLower(strings.Join(strings.Fields(domain), "_"))
	return fmt.Sprintf("domain_expert_%s_%s", slug, core.NewID()[:8])
}

// NewDomainExpert creates an expert for domain.
func NewDomainExpert(domain string, llm model.LLM, optFns ...func(o *Options)) *DomainExpert {
	d := &DomainExpert{domain: domain, llm: llm}
	d.Base = NewBase(core.RoleDomainExpert, d, append([]func(o *Options){func(o *Options) {
		o.ID = DomainExpertID(domain)
		o.Name = fmt.Sprintf("%s Expert", domain)
		o.Description = fmt.Sprintf("Provides expertise in %s", domain)
	}}, optFns...)...)
	return d
}

// Domain returns the expert's domain.
func (d *DomainExpert) Domain() string { return d.domain }

// Handle implements Handler.
func (d *DomainExpert) Handle(ctx context.Context, _ core.Message, kind core.TaskKind) (core.Result, error) {
	switch k := kind.(type) {
	case core.ProvideExpertise:
		out, err := d.ask(ctx, "answer the question below.", k.Question)
		if err != nil {
			return core.Result{}, err
		}
		return core.OK(map[string]any{"domain": d.domain, "answer": out}), nil
	case core.EvaluateStatement:
		out, err := d.ask(ctx, `rate the accuracy of the statement below from 1 to 10. Answer with JSON only: {"accuracy":<int>,"explanation":"..."}`, k.Statement)
		if err != nil {
			return core.Result{}, err
		}
		accuracy, explanation := parseAccuracy(out, k.Statement)
		return core.OK(map[string]any{"domain": d.domain, "accuracy": accuracy, "explanation": explanation}), nil
	case core.SuggestImprovements:
		out, err := d.ask(ctx, "suggest concrete improvements for the content below.", k.Content)
		if err != nil {
			return core.Result{}, err
		}
		return core.OK(map[string]any{"domain": d.domain, "suggestions": out}), nil
	default:
		return core.Result{}, ErrUnsupportedTask
	}
}

func (d *DomainExpert) ask(ctx context.Context, instruction, content string) (string, error) {
	p, err := model.NewPrompt(model.PurposeExpertise, model.TemplateExpertise, map[string]any{
		"domain":      d.domain,
		"instruction": instruction,
		"content":     content,
	})
	if err != nil {
		return "", err
	}
	return d.llm.Generate(ctx, p)
}

// parseAccuracy reads the accuracy verdict and clamps it to 1..10. Answers
// without a usable score get a heuristic one.
func parseAccuracy(out, statement string) (int, string) {
	var doc struct {
		Accuracy    *float64 `json:"accuracy"`
		Explanation string   `json:"explanation"`
	}
	if raw := heuristic.ExtractJSON(out); raw != "" && json.Unmarshal([]byte(raw), &doc) == nil && doc.Accuracy != nil {
		return evaluation.Clamp(int(*doc.Accuracy + 0.5)), doc.Explanation
	}
	return evaluation.Clamp(heuristic.Score(statement, "accuracy")), strings.TrimSpace(out)
}

var _ core.Agent = (*DomainExpert)(nil)
