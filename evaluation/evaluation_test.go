package evaluation

import (
	"context"
	"errors"
	"testing"

	"github.com/hupe1980/agentcrew/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLLM struct {
	model.LLM
	answer string
	err    error
}

func (s stubLLM) Generate(context.Context, model.Prompt) (string, error) { return s.answer, s.err }

func TestParse_ScoresShape(t *testing.T) {
	ev, err := Parse("Here you go:\n{\"scores\":{\"clarity\":8,\"accuracy\":42},\"overall\":7,\"feedback\":\"good\"}", TextCriteria)
	require.NoError(t, err)
	assert.Equal(t, 8, ev.Scores["clarity"])
	assert.Equal(t, MaxScore, ev.Scores["accuracy"])
	assert.Equal(t, 7, ev.Overall)
	assert.Equal(t, "good", ev.Feedback)
}

func TestParse_CriteriaShape(t *testing.T) {
	raw := `{"criteria":{"correctness":{"score":0,"comment":"broken"},"style":{"score":9}},"overall":{"score":5,"comment":"mixed"},"improvements":["add tests"]}`
	ev, err := Parse(raw, CodeCriteria)
	require.NoError(t, err)
	assert.Equal(t, MinScore, ev.Scores["correctness"])
	assert.Equal(t, 9, ev.Scores["style"])
	assert.Equal(t, 5, ev.Overall)
	assert.Equal(t, "mixed", ev.Feedback)
	assert.Equal(t, []string{"add tests"}, ev.Improvements)
}

func TestParse_Rejects(t *testing.T) {
	_, err := Parse("no json here", TextCriteria)
	assert.Error(t, err)
	_, err = Parse(`{"feedback":"nothing scored"}`, TextCriteria)
	assert.Error(t, err)
}

func TestEvaluate_FillsMissingCriteria(t *testing.T) {
	e := New(stubLLM{answer: `{"scores":{"clarity":6}}`})
	ev, err := e.Evaluate(context.Background(), "text", "some content", TextCriteria)
	require.NoError(t, err)
	assert.Len(t, ev.Scores, len(TextCriteria))
	assert.Equal(t, 6, ev.Scores["clarity"])
	assert.Equal(t, Overall(ev.Scores), ev.Overall)
	assert.False(t, ev.Heuristic)
	assert.Equal(t, "text", ev.Subject)
}

func TestEvaluate_FallsBackToHeuristic(t *testing.T) {
	e := New(stubLLM{answer: "I refuse to answer in JSON"})
	ev, err := e.Evaluate(context.Background(), "code", "print(1)", nil)
	require.NoError(t, err)
	assert.True(t, ev.Heuristic)
	for _, c := range TextCriteria {
		assert.GreaterOrEqual(t, ev.Scores[c], MinScore)
		assert.LessOrEqual(t, ev.Scores[c], MaxScore)
	}
}

func TestEvaluate_ModelError(t *testing.T) {
	e := New(stubLLM{err: errors.New("down")})
	_, err := e.Evaluate(context.Background(), "plan", "x", PlanCriteria)
	assert.Error(t, err)
}

func TestCompare_Simulated(t *testing.T) {
	e := New(model.NewSimulated())
	short := "x"
	long := "a much longer and more detailed solution that covers the problem with many words " +
		"and explains every step in depth so the heuristic score is higher than for a single token " +
		"while still staying deterministic across runs of the simulated evaluator in tests"
	cmp, err := e.Compare(context.Background(), "sorting", []string{short, long})
	require.NoError(t, err)
	require.Len(t, cmp.Evaluations, 2)
	assert.Equal(t, 1, cmp.Best)
	assert.NotEmpty(t, cmp.Reasoning)

	_, err = e.Compare(context.Background(), "sorting", nil)
	assert.Error(t, err)
}

func TestOverallAndClamp(t *testing.T) {
	assert.Equal(t, MinScore, Overall(nil))
	assert.Equal(t, 5, Overall(map[string]int{"a": 4, "b": 7}))
	assert.Equal(t, MinScore, Clamp(-3))
	assert.Equal(t, MaxScore, Clamp(11))
}
