package core

import (
	"encoding/json"
	"fmt"
)

// TaskType is the wire name of a task kind (metadata.task_type).
type TaskType string

const (
	TypeGeneratePlan        TaskType = "generate_plan"
	TypeExecuteTask         TaskType = "execute_task"
	TypeAnalyzeTask         TaskType = "analyze_task"
	TypeGenerateSummary     TaskType = "generate_summary"
	TypeRepairTask          TaskType = "repair_task"
	TypeExecuteCode         TaskType = "execute_code"
	TypeReasoningChain      TaskType = "reasoning_chain"
	TypeFixCode             TaskType = "fix_code"
	TypeAnalyzeProblem      TaskType = "analyze_problem"
	TypeAddKnowledge        TaskType = "add_knowledge"
	TypeGetKnowledge        TaskType = "get_knowledge"
	TypeSearchKnowledge     TaskType = "search_knowledge"
	TypeAddTriple           TaskType = "add_triple"
	TypeFindRelated         TaskType = "find_related"
	TypeExtractKnowledge    TaskType = "extract_knowledge"
	TypeExecuteTool         TaskType = "execute_tool"
	TypeWebSearch           TaskType = "web_search"
	TypeFetchURL            TaskType = "fetch_url"
	TypeEvaluateText        TaskType = "evaluate_text"
	TypeEvaluateCode        TaskType = "evaluate_code"
	TypeEvaluatePlan        TaskType = "evaluate_plan"
	TypeCompareSolutions    TaskType = "compare_solutions"
	TypeProvideExpertise    TaskType = "provide_expertise"
	TypeEvaluateStatement   TaskType = "evaluate_statement"
	TypeSuggestImprovements TaskType = "suggest_improvements"
)

// Payload is the content carried by a Message. Concrete payload types
// implement the unexported isPayload marker enabling a closed set.
type Payload interface{ isPayload() }

// TaskKind is a Payload describing a unit of work. Handlers switch over the
// concrete types; anything not matched is answered with an error response.
type TaskKind interface {
	Payload
	TaskType() TaskType
	isTaskKind()
}

// GeneratePlan asks for an ordered, dependency-annotated task list for a goal.
type GeneratePlan struct {
	Goal     string `json:"goal"`
	MaxTasks int    `json:"max_tasks,omitempty"`
}

// ExecuteTask runs one plan task on the selected agent.
type ExecuteTask struct {
	PlanID        string   `json:"plan_id,omitempty"`
	PlanTaskID    string   `json:"task_id,omitempty"`
	Description   string   `json:"description"`
	Category      string   `json:"task_type,omitempty"`
	RequiredTools []string `json:"required_tools,omitempty"`
}

// AnalyzeTask classifies a task description (category, complexity, tools).
type AnalyzeTask struct {
	Description string `json:"description"`
}

// TaskDigest is a plan task as reported to the summary step.
type TaskDigest struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Result      string `json:"result,omitempty"`
}

// GenerateSummary asks for a human readable summary of a plan run.
type GenerateSummary struct {
	PlanID         string       `json:"plan_id"`
	Goal           string       `json:"goal,omitempty"`
	CompletedTasks int          `json:"completed_tasks"`
	FailedTasks    int          `json:"failed_tasks"`
	TaskResults    []TaskDigest `json:"task_results,omitempty"`
}

// RepairTask asks for fixed code for a failed plan task.
type RepairTask struct {
	PlanTaskID  string `json:"task_id"`
	Description string `json:"description"`
	Error       string `json:"error"`
	Code        string `json:"code,omitempty"`
}

// ExecuteCode runs a code snippet through the code execution capability.
type ExecuteCode struct {
	PlanTaskID string `json:"task_id,omitempty"`
	Code       string `json:"code"`
	Language   string `json:"language,omitempty"`
}

// ReasoningChain asks for a step by step reasoning chain.
type ReasoningChain struct {
	Question string `json:"question"`
}

// FixCode asks for a corrected version of failing code.
type FixCode struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// AnalyzeProblem asks for a structured analysis of a problem statement.
type AnalyzeProblem struct {
	Problem string `json:"problem"`
}

// AddKnowledge records a fact and edits it into the model.
type AddKnowledge struct {
	Subject    string  `json:"subject"`
	Fact       string  `json:"fact"`
	Original   string  `json:"original,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// GetKnowledge looks up the fact stored for a subject.
type GetKnowledge struct {
	Subject string `json:"subject"`
}

// SearchKnowledge performs a case-insensitive substring search over facts.
type SearchKnowledge struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// AddTriple records a subject/predicate/object relation.
type AddTriple struct {
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Object    string `json:"object"`
}

// FindRelated returns relations touching an entity.
type FindRelated struct {
	Entity string `json:"entity"`
}

// ExtractKnowledge derives facts from free text.
type ExtractKnowledge struct {
	Text string `json:"text"`
}

// ExecuteTool calls a named tool with parameters.
type ExecuteTool struct {
	Tool   string         `json:"tool"`
	Params map[string]any `json:"params,omitempty"`
}

// WebSearch queries the web search tool.
type WebSearch struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results,omitempty"`
}

// FetchURL retrieves the content behind a URL.
type FetchURL struct {
	URL string `json:"url"`
}

// EvaluateText scores text against criteria.
type EvaluateText struct {
	Text     string   `json:"text"`
	Criteria []string `json:"criteria,omitempty"`
}

// EvaluateCode scores code against requirements.
type EvaluateCode struct {
	Code         string `json:"code"`
	Requirements string `json:"requirements,omitempty"`
}

// EvaluatePlan scores a plan against its goal.
type EvaluatePlan struct {
	Goal  string   `json:"goal"`
	Steps []string `json:"steps"`
}

// CompareSolutions ranks candidate solutions for a problem.
type CompareSolutions struct {
	Problem   string   `json:"problem"`
	Solutions []string `json:"solutions"`
}

// ProvideExpertise asks a domain expert a question.
type ProvideExpertise struct {
	Question string `json:"question"`
}

// EvaluateStatement asks a domain expert to judge a statement.
type EvaluateStatement struct {
	Statement string `json:"statement"`
}

// SuggestImprovements asks a domain expert to improve content.
type SuggestImprovements struct {
	Content string `json:"content"`
}

// Generic carries a task kind not known to this package (custom agents).
// Its Type travels in metadata.task_type; Data is the JSON content.
type Generic struct {
	Type TaskType
	Data map[string]any
}

// MarshalJSON encodes only Data; the type travels in message metadata. Nil
// and empty Data both encode as {} and decode back to nil.
func (g Generic) MarshalJSON() ([]byte, error) {
	if g.Data == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(g.Data)
}

func (GeneratePlan) TaskType() TaskType        { return TypeGeneratePlan }
func (ExecuteTask) TaskType() TaskType         { return TypeExecuteTask }
func (AnalyzeTask) TaskType() TaskType         { return TypeAnalyzeTask }
func (GenerateSummary) TaskType() TaskType     { return TypeGenerateSummary }
func (RepairTask) TaskType() TaskType          { return TypeRepairTask }
func (ExecuteCode) TaskType() TaskType         { return TypeExecuteCode }
func (ReasoningChain) TaskType() TaskType      { return TypeReasoningChain }
func (FixCode) TaskType() TaskType             { return TypeFixCode }
func (AnalyzeProblem) TaskType() TaskType      { return TypeAnalyzeProblem }
func (AddKnowledge) TaskType() TaskType        { return TypeAddKnowledge }
func (GetKnowledge) TaskType() TaskType        { return TypeGetKnowledge }
func (SearchKnowledge) TaskType() TaskType     { return TypeSearchKnowledge }
func (AddTriple) TaskType() TaskType           { return TypeAddTriple }
func (FindRelated) TaskType() TaskType         { return TypeFindRelated }
func (ExtractKnowledge) TaskType() TaskType    { return TypeExtractKnowledge }
func (ExecuteTool) TaskType() TaskType         { return TypeExecuteTool }
func (WebSearch) TaskType() TaskType           { return TypeWebSearch }
func (FetchURL) TaskType() TaskType            { return TypeFetchURL }
func (EvaluateText) TaskType() TaskType        { return TypeEvaluateText }
func (EvaluateCode) TaskType() TaskType        { return TypeEvaluateCode }
func (EvaluatePlan) TaskType() TaskType        { return TypeEvaluatePlan }
func (CompareSolutions) TaskType() TaskType    { return TypeCompareSolutions }
func (ProvideExpertise) TaskType() TaskType    { return TypeProvideExpertise }
func (EvaluateStatement) TaskType() TaskType   { return TypeEvaluateStatement }
func (SuggestImprovements) TaskType() TaskType { return TypeSuggestImprovements }
func (g Generic) TaskType() TaskType           { return g.Type }

func (GeneratePlan) isTaskKind()        {}
func (ExecuteTask) isTaskKind()         {}
func (AnalyzeTask) isTaskKind()         {}
func (GenerateSummary) isTaskKind()     {}
func (RepairTask) isTaskKind()          {}
func (ExecuteCode) isTaskKind()         {}
func (ReasoningChain) isTaskKind()      {}
func (FixCode) isTaskKind()             {}
func (AnalyzeProblem) isTaskKind()      {}
func (AddKnowledge) isTaskKind()        {}
func (GetKnowledge) isTaskKind()        {}
func (SearchKnowledge) isTaskKind()     {}
func (AddTriple) isTaskKind()           {}
func (FindRelated) isTaskKind()         {}
func (ExtractKnowledge) isTaskKind()    {}
func (ExecuteTool) isTaskKind()         {}
func (WebSearch) isTaskKind()           {}
func (FetchURL) isTaskKind()            {}
func (EvaluateText) isTaskKind()        {}
func (EvaluateCode) isTaskKind()        {}
func (EvaluatePlan) isTaskKind()        {}
func (CompareSolutions) isTaskKind()    {}
func (ProvideExpertise) isTaskKind()    {}
func (EvaluateStatement) isTaskKind()   {}
func (SuggestImprovements) isTaskKind() {}
func (Generic) isTaskKind()             {}

func (GeneratePlan) isPayload()        {}
func (ExecuteTask) isPayload()         {}
func (AnalyzeTask) isPayload()         {}
func (GenerateSummary) isPayload()     {}
func (RepairTask) isPayload()          {}
func (ExecuteCode) isPayload()         {}
func (ReasoningChain) isPayload()      {}
func (FixCode) isPayload()             {}
func (AnalyzeProblem) isPayload()      {}
func (AddKnowledge) isPayload()        {}
func (GetKnowledge) isPayload()        {}
func (SearchKnowledge) isPayload()     {}
func (AddTriple) isPayload()           {}
func (FindRelated) isPayload()         {}
func (ExtractKnowledge) isPayload()    {}
func (ExecuteTool) isPayload()         {}
func (WebSearch) isPayload()           {}
func (FetchURL) isPayload()            {}
func (EvaluateText) isPayload()        {}
func (EvaluateCode) isPayload()        {}
func (EvaluatePlan) isPayload()        {}
func (CompareSolutions) isPayload()    {}
func (ProvideExpertise) isPayload()    {}
func (EvaluateStatement) isPayload()   {}
func (SuggestImprovements) isPayload() {}
func (Generic) isPayload()             {}

func decodeKind[T TaskKind](data []byte) (TaskKind, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

var kindDecoders = map[TaskType]func([]byte) (TaskKind, error){
	TypeGeneratePlan:        decodeKind[GeneratePlan],
	TypeExecuteTask:         decodeKind[ExecuteTask],
	TypeAnalyzeTask:         decodeKind[AnalyzeTask],
	TypeGenerateSummary:     decodeKind[GenerateSummary],
	TypeRepairTask:          decodeKind[RepairTask],
	TypeExecuteCode:         decodeKind[ExecuteCode],
	TypeReasoningChain:      decodeKind[ReasoningChain],
	TypeFixCode:             decodeKind[FixCode],
	TypeAnalyzeProblem:      decodeKind[AnalyzeProblem],
	TypeAddKnowledge:        decodeKind[AddKnowledge],
	TypeGetKnowledge:        decodeKind[GetKnowledge],
	TypeSearchKnowledge:     decodeKind[SearchKnowledge],
	TypeAddTriple:           decodeKind[AddTriple],
	TypeFindRelated:         decodeKind[FindRelated],
	TypeExtractKnowledge:    decodeKind[ExtractKnowledge],
	TypeExecuteTool:         decodeKind[ExecuteTool],
	TypeWebSearch:           decodeKind[WebSearch],
	TypeFetchURL:            decodeKind[FetchURL],
	TypeEvaluateText:        decodeKind[EvaluateText],
	TypeEvaluateCode:        decodeKind[EvaluateCode],
	TypeEvaluatePlan:        decodeKind[EvaluatePlan],
	TypeCompareSolutions:    decodeKind[CompareSolutions],
	TypeProvideExpertise:    decodeKind[ProvideExpertise],
	TypeEvaluateStatement:   decodeKind[EvaluateStatement],
	TypeSuggestImprovements: decodeKind[SuggestImprovements],
}

// DecodeTaskKind decodes JSON content into the variant registered for t.
// Unknown types decode into Generic so custom agents keep working.
func DecodeTaskKind(t TaskType, data []byte) (TaskKind, error) {
	if t == "" {
		return nil, NewValidationError("task_type", t, "task type is required")
	}
	if dec, ok := kindDecoders[t]; ok {
		k, err := dec(data)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", t, err)
		}
		return k, nil
	}
	g := Generic{Type: t}
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &g.Data); err != nil {
			return nil, fmt.Errorf("decode %s: %w", t, err)
		}
	}
	if len(g.Data) == 0 {
		g.Data = nil
	}
	return g, nil
}

// IsBuiltinType reports whether t has a dedicated variant in this package.
func IsBuiltinType(t TaskType) bool {
	_, ok := kindDecoders[t]
	return ok
}
