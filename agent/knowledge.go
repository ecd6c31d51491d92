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

// Knowledge maintains facts and relations in an injected store and keeps the
// language model in sync through knowledge editing.
type Knowledge struct {
	*Base
	llm   model.LLM
	store core.KnowledgeStore
}

// NewKnowledge creates a knowledge agent.
func NewKnowledge(llm model.LLM, store core.KnowledgeStore, optFns ...func(o *Options)) *Knowledge {
	k := &Knowledge{llm: llm, store: store}
	k.Base = NewBase(core.RoleKnowledge, k, append([]func(o *Options){func(o *Options) {
		o.Name = "Knowledge Agent"
		o.Description = "Stores, retrieves and extracts facts and relations"
	}}, optFns...)...)
	return k
}

// Handle implements Handler.
func (a *Knowledge) Handle(ctx context.Context, _ core.Message, kind core.TaskKind) (core.Result, error) {
	switch k := kind.(type) {
	case core.AddKnowledge:
		return a.add(ctx, k)
	case core.GetKnowledge:
		f, ok, err := a.store.GetFact(ctx, k.Subject)
		if err != nil {
			return core.Result{}, err
		}
		if !ok {
			return core.OK(map[string]any{"subject": k.Subject, "found": false}), nil
		}
		return core.OK(map[string]any{"subject": k.Subject, "found": true, "fact": f}), nil
	case core.SearchKnowledge:
		facts, err := a.store.SearchFacts(ctx, k.Query, k.Limit)
		if err != nil {
			return core.Result{}, err
		}
		return core.OK(map[string]any{"query": k.Query, "facts": facts, "count": len(facts)}), nil
	case core.AddTriple:
		if err := a.store.AddTriple(ctx, core.Triple{Subject: k.Subject, Predicate: k.Predicate, Object: k.Object}); err != nil {
			return core.Result{}, err
		}
		return core.OK(map[string]any{"added": true}), nil
	case core.FindRelated:
		triples, err := a.store.Related(ctx, k.Entity)
		if err != nil {
			return core.Result{}, err
		}
		return core.OK(map[string]any{"entity": k.Entity, "triples": triples, "count": len(triples)}), nil
	case core.ExtractKnowledge:
		triples, err := a.extract(ctx, k.Text)
		if err != nil {
			return core.Result{}, err
		}
		return core.OK(map[string]any{"triples": triples, "count": len(triples)}), nil
	case core.ExecuteTask:
		triples, err := a.extract(ctx, k.Description)
		if err != nil {
			return core.Result{}, err
		}
		facts, err := a.store.SearchFacts(ctx, firstWord(k.Description), 5)
		if err != nil {
			return core.Result{}, err
		}
		return core.OK(map[string]any{
			"task_id": k.PlanTaskID,
			"triples": triples,
			"facts":   facts,
			"result":  fmt.Sprintf("extracted %d relations, found %d related facts", len(triples), len(facts)),
		}), nil
	default:
		return core.Result{}, ErrUnsupportedTask
	}
}

func (a *Knowledge) add(ctx context.Context, k core.AddKnowledge) (core.Result, error) {
	if strings.TrimSpace(k.Subject) == "" || strings.TrimSpace(k.Fact) == "" {
		return core.Failf("subject and fact are required"), nil
	}
	edited, err := a.llm.EditKnowledge(ctx, k.Subject, k.Fact, k.Original)
	if err != nil {
		return core.Result{}, fmt.Errorf("edit knowledge: %w", err)
	}
	confidence := k.Confidence
	if confidence <= 0 {
		confidence = 1
	}
	if err := a.store.PutFact(ctx, core.Fact{Subject: k.Subject, Fact: k.Fact, Confidence: confidence, Source: a.ID()}); err != nil {
		return core.Result{}, err
	}
	return core.OK(map[string]any{"subject": k.Subject, "stored": true, "model_edited": edited}), nil
}

// extract asks the model for relations and stores them. Unparsable answers
// fall back to sentence based extraction.
func (a *Knowledge) extract(ctx context.Context, text string) ([]core.Triple, error) {
	p, err := model.NewPrompt(model.PurposeExtraction, model.TemplateExtraction, map[string]any{"text": text})
	if err != nil {
		return nil, err
	}
	out, err := a.llm.Generate(ctx, p)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Triples []core.Triple `json:"triples"`
	}
	raw := heuristic.ExtractJSON(out)
	if raw == "" || json.Unmarshal([]byte(raw), &doc) != nil {
		doc.Triples = nil
		for _, t := range heuristic.ExtractTriples(text) {
			doc.Triples = append(doc.Triples, core.Triple{Subject: t.Subject, Predicate: t.Predicate, Object: t.Object})
		}
	}
	stored := make([]core.Triple, 0, len(doc.Triples))
	for _, t := range doc.Triples {
		if t.Subject == "" || t.Predicate == "" || t.Object == "" {
			continue
		}
		if err := a.store.AddTriple(ctx, t); err != nil {
			return nil, err
		}
		stored = append(stored, t)
	}
	return stored, nil
}

func firstWord(s string) string {
	if f := strings.Fields(s); len(f) > 0 {
		return f[0]
	}
	return ""
}

var _ core.Agent = (*Knowledge)(nil)
