package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/hupe1980/agentcrew/core"
	"github.com/hupe1980/agentcrew/evaluation"
	"github.com/hupe1980/agentcrew/knowledge"
	"github.com/hupe1980/agentcrew/model"
	"github.com/hupe1980/agentcrew/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ask sends kind to a and returns the single reply.
func ask(t *testing.T, a core.Agent, kind core.TaskKind) core.Message {
	t.Helper()
	require.True(t, a.Receive(core.NewTaskMessage("coordinator", a.ID(), core.NewID(), kind)))
	out := a.Drain(context.Background())
	require.Len(t, out, 1)
	return out[0]
}

func result(t *testing.T, a core.Agent, kind core.TaskKind) core.Result {
	t.Helper()
	reply := ask(t, a, kind)
	require.Equal(t, core.MessageTaskResult, reply.Type, "reply: %+v", reply.Payload)
	return reply.Payload.(core.Result)
}

type cannedLLM struct {
	model.LLM
	answer string
}

func (c cannedLLM) Generate(context.Context, model.Prompt) (string, error) { return c.answer, nil }

func TestReasoning(t *testing.T) {
	r := NewReasoning(model.NewSimulated())

	chain := result(t, r, core.ReasoningChain{Question: "why is the sky blue"})
	require.True(t, chain.Success)
	assert.Contains(t, chain.String("conclusion"), "why is the sky blue")

	analysis := result(t, r, core.AnalyzeTask{Description: "search the web for Go release notes"})
	require.True(t, analysis.Success)
	assert.Equal(t, "web_search", analysis.String("task_type"))

	plan := result(t, r, core.GeneratePlan{Goal: "build a CLI", MaxTasks: 2})
	var steps []PlanStep
	require.NoError(t, plan.Decode("tasks", &steps))
	require.Len(t, steps, 2)
	assert.Equal(t, []int{0}, steps[1].Dependencies)

	repaired := result(t, r, core.RepairTask{PlanTaskID: "p1", Error: "ValueError", Code: "print(\"a\")\nraise ValueError()"})
	require.True(t, repaired.Success)
	assert.NotContains(t, repaired.String("fixed_code"), "raise ")

	code := result(t, r, core.ExecuteTask{Description: "write a script", Category: "code_generation"})
	assert.Contains(t, code.String("code"), "print(")

	reply := ask(t, r, core.WebSearch{Query: "x"})
	assert.Equal(t, core.MessageError, reply.Type)
	assert.Equal(t, core.CodeUnsupportedTask, reply.Payload.(core.ErrorPayload).Code)
}

func TestKnowledge(t *testing.T) {
	llm := model.NewSimulated()
	store := knowledge.NewInMemoryStore()
	k := NewKnowledge(llm, store)

	added := result(t, k, core.AddKnowledge{Subject: "Go", Fact: "Go was released in 2009"})
	require.True(t, added.Success)
	assert.Equal(t, true, added.Data["model_edited"])
	assert.Equal(t, "Go was released in 2009", llm.Edits()["Go"])

	got := result(t, k, core.GetKnowledge{Subject: "Go"})
	assert.Equal(t, true, got.Data["found"])
	missing := result(t, k, core.GetKnowledge{Subject: "Rust"})
	assert.Equal(t, false, missing.Data["found"])

	search := result(t, k, core.SearchKnowledge{Query: "2009"})
	assert.Equal(t, 1, search.Data["count"])

	extracted := result(t, k, core.ExtractKnowledge{Text: "Go is a language. Gophers have fun."})
	assert.Equal(t, 2, extracted.Data["count"])

	related := result(t, k, core.FindRelated{Entity: "Go"})
	var triples []core.Triple
	require.NoError(t, related.Decode("triples", &triples))
	require.Len(t, triples, 1)
	assert.Equal(t, "a language", triples[0].Object)

	invalid := result(t, k, core.AddKnowledge{Subject: "", Fact: "x"})
	assert.False(t, invalid.Success)
}

func TestToolExecutor(t *testing.T) {
	te := NewToolExecutor(tool.NewRegistry(tool.NewSimulatedTools()), model.NewSimulated())

	search := result(t, te, core.WebSearch{Query: "golang", MaxResults: 2})
	require.True(t, search.Success, search.Error)

	run := result(t, te, core.ExecuteTask{Description: "compute the answer", Category: "code_generation"})
	require.True(t, run.Success, run.Error)
	assert.Equal(t, "done: compute the answer\n", run.Data["output"])
	assert.Contains(t, run.String("code"), "print(")

	failed := result(t, te, core.ExecuteCode{Code: "raise RuntimeError('x')"})
	assert.False(t, failed.Success)
	assert.Equal(t, "raise RuntimeError('x')", failed.String("code"))

	unknown := result(t, te, core.ExecuteTool{Tool: "missing"})
	assert.False(t, unknown.Success)
	assert.Equal(t, tool.CodeNotFound, unknown.Data["error_code"])

	history := te.History()
	require.Len(t, history, 4)
	assert.Equal(t, tool.NameWebSearch, history[0].Tool)
	assert.False(t, history[2].Success)
}

func TestToolExecutor_WithoutModel(t *testing.T) {
	te := NewToolExecutor(tool.NewRegistry(tool.NewSimulatedTools()), nil)
	res := result(t, te, core.ExecuteTask{Description: "write code"})
	assert.False(t, res.Success)

	search := result(t, te, core.ExecuteTask{Description: "look it up", RequiredTools: []string{"web_search"}})
	assert.True(t, search.Success)
}

func TestEvaluation(t *testing.T) {
	e := NewEvaluation(model.NewSimulated())

	text := result(t, e, core.EvaluateText{Text: "A clear and short answer."})
	require.True(t, text.Success)
	var ev evaluation.Evaluation
	require.NoError(t, text.Decode("evaluation", &ev))
	assert.Len(t, ev.Scores, len(evaluation.TextCriteria))
	assert.GreaterOrEqual(t, ev.Overall, evaluation.MinScore)
	assert.LessOrEqual(t, ev.Overall, evaluation.MaxScore)

	plan := result(t, e, core.EvaluatePlan{Goal: "ship", Steps: []string{"build", "test"}})
	require.NoError(t, plan.Decode("evaluation", &ev))
	assert.Len(t, ev.Scores, len(evaluation.PlanCriteria))

	cmp := result(t, e, core.CompareSolutions{Problem: "p", Solutions: []string{"a", "b"}})
	require.True(t, cmp.Success)

	assert.Len(t, e.History(), 3)
}

func TestDomainExpert(t *testing.T) {
	d := NewDomainExpert("Machine Learning", model.NewSimulated())
	assert.True(t, strings.HasPrefix(d.ID(), "domain_expert_machine_learning_"))
	assert.Len(t, strings.TrimPrefix(d.ID(), "domain_expert_machine_learning_"), 8)
	assert.Equal(t, core.RoleDomainExpert, d.Role())

	answer := result(t, d, core.ProvideExpertise{Question: "what is overfitting"})
	assert.Contains(t, answer.String("answer"), "Machine Learning")

	verdict := result(t, d, core.EvaluateStatement{Statement: "More data always helps"})
	acc, _ := verdict.Data["accuracy"].(int)
	assert.GreaterOrEqual(t, acc, 1)
	assert.LessOrEqual(t, acc, 10)

	clamped := NewDomainExpert("physics", cannedLLM{answer: `{"accuracy": 15, "explanation": "very"}`})
	high := result(t, clamped, core.EvaluateStatement{Statement: "E=mc^2"})
	assert.Equal(t, 10, high.Data["accuracy"])
	low := NewDomainExpert("physics", cannedLLM{answer: `{"accuracy": -4}`})
	assert.Equal(t, 1, result(t, low, core.EvaluateStatement{Statement: "x"}).Data["accuracy"])
}

func TestRoleFor(t *testing.T) {
	assert.Equal(t, core.RoleToolExecutor, RoleFor(Analysis{TaskType: "general", RequiredTools: []string{"web_search"}}))
	assert.Equal(t, core.RoleKnowledge, RoleFor(Analysis{TaskType: "knowledge_processing"}))
	assert.Equal(t, core.RoleReasoning, RoleFor(Analysis{TaskType: "code_generation"}))
	assert.Equal(t, core.RoleEvaluation, RoleFor(Analysis{TaskType: "analysis"}))
	assert.Equal(t, core.RoleCoordinator, RoleFor(Analysis{TaskType: "general"}))
}

func TestParsePlanSteps(t *testing.T) {
	steps, err := ParsePlanSteps("plan:\n{\"tasks\":[\"first\",{\"description\":\"second\",\"dependencies\":[0]},{\"description\":\"  \"}]}")
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "first", steps[0].Description)
	assert.Equal(t, []int{0}, steps[1].Dependencies)

	_, err = ParsePlanSteps("no plan")
	assert.Error(t, err)
}
