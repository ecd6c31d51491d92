package model

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/agentcrew/internal/heuristic"
	"github.com/hupe1980/agentcrew/internal/retry"
	"github.com/hupe1980/agentcrew/logging"
)

// LiveOptions configure a Live capability.
type LiveOptions struct {
	Retry       retry.Policy
	MaxCalls    int // 0 = unlimited
	Temperature *float64
	MaxTokens   int64
	Editor      KnowledgeEditor
	Logger      logging.Logger
}

// Live is the LLM capability backed by a vendor Model. Retries with
// exponential backoff happen here and nowhere else.
type Live struct {
	model   Model
	opts    LiveOptions
	budget  *callBudget
	logger  logging.Logger
}

// NewLive wraps m.
func NewLive(m Model, optFns ...func(o *LiveOptions)) *Live {
	opts := LiveOptions{Retry: retry.DefaultPolicy}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Live{
		model:   m,
		opts:    opts,
		budget:  newCallBudget(opts.MaxCalls),
		logger:  logging.OrNoOp(opts.Logger),
	}
}

// Info returns the wrapped model's info.
func (l *Live) Info() Info { return l.model.Info() }

// Calls returns how many vendor attempts were issued, retries included.
func (l *Live) Calls() int {
	spent, _ := l.budget.usage()
	return spent
}

// Retries returns how many of Calls were retries of a failed attempt.
func (l *Live) Retries() int {
	_, retries := l.budget.usage()
	return retries
}

// Generate implements LLM.
func (l *Live) Generate(ctx context.Context, p Prompt) (string, error) {
	if strings.TrimSpace(p.Text) == "" {
		return "", fmt.Errorf("generate: empty prompt")
	}
	req := Request{System: p.System, Prompt: p.Text, Temperature: l.opts.Temperature, MaxTokens: l.opts.MaxTokens}
	info := l.model.Info()
	attempt := 0
	return retry.Do(ctx, l.opts.Retry, l.logger, "llm:"+info.Provider, func(ctx context.Context) (string, error) {
		attempt++
		if err := l.budget.spend(attempt); err != nil {
			l.logger.Warn("Model call refused", "model", info.Name, "attempt", attempt, "error", err.Error())
			return "", err
		}
		start := time.Now()
		resp, err := l.model.Generate(ctx, req)
		tokens := 0
		if resp.Usage != nil {
			tokens = resp.Usage.TotalTokens
		}
		logging.LLMCall(l.logger, info.Name, tokens, time.Since(start), err)
		if err != nil {
			return "", err
		}
		return resp.Text, nil
	})
}

// GenerateCode implements LLM.
func (l *Live) GenerateCode(ctx context.Context, description string) (string, error) {
	p, err := NewPrompt(PurposeGeneral, TemplateCode, map[string]any{"description": description})
	if err != nil {
		return "", err
	}
	text, err := l.Generate(ctx, p)
	if err != nil {
		return "", err
	}
	return heuristic.ExtractCode(text), nil
}

// AnalyzeError implements LLM.
func (l *Live) AnalyzeError(ctx context.Context, errMsg, code string) (string, error) {
	p, err := NewPrompt(PurposeGeneral, TemplateFix, map[string]any{"error": errMsg, "code": code})
	if err != nil {
		return "", err
	}
	text, err := l.Generate(ctx, p)
	if err != nil {
		return "", err
	}
	return heuristic.ExtractCode(text), nil
}

// EditKnowledge implements LLM.
func (l *Live) EditKnowledge(ctx context.Context, subject, fact, original string) (bool, error) {
	if l.opts.Editor == nil {
		l.logger.Debug("Model editing not available", "subject", subject, "model", l.model.Info().Name)
		return false, nil
	}
	return l.opts.Editor.Edit(ctx, subject, fact, original)
}
