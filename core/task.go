package core

import (
	"sort"
	"time"
)

// TaskStatus is the lifecycle state of a coordinator task.
type TaskStatus string

const (
	TaskCreated    TaskStatus = "created"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s TaskStatus) IsTerminal() bool { return s == TaskCompleted || s == TaskFailed }

// CanTransition reports whether s -> to is a forward transition.
// Created may skip Processing only towards Failed (dispatch failure).
func (s TaskStatus) CanTransition(to TaskStatus) bool {
	switch s {
	case TaskCreated:
		return to == TaskProcessing || to == TaskFailed
	case TaskProcessing:
		return to == TaskCompleted || to == TaskFailed
	default:
		return false
	}
}

// Task is a unit of work tracked by the coordinator. Values returned from the
// coordinator are snapshots; mutating them has no effect on the task table.
type Task struct {
	ID          string            `json:"id"`
	Type        TaskType          `json:"type"`
	Kind        TaskKind          `json:"-"`
	Targets     []string          `json:"target_agents"`
	Status      TaskStatus        `json:"status"`
	Results     map[string]Result `json:"results"`
	RequesterID string            `json:"requester_id,omitempty"`
	Forced      bool              `json:"forced,omitempty"`
	Abandoned   bool              `json:"abandoned,omitempty"`
	Error       string            `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// HasTarget reports whether id is one of the task's targets.
func (t Task) HasTarget(id string) bool {
	for _, target := range t.Targets {
		if target == id {
			return true
		}
	}
	return false
}

// Covered reports whether every target has reported a result.
func (t Task) Covered() bool {
	for _, target := range t.Targets {
		if _, ok := t.Results[target]; !ok {
			return false
		}
	}
	return true
}

// Missing returns the targets that have not reported yet.
func (t Task) Missing() []string {
	var out []string
	for _, target := range t.Targets {
		if _, ok := t.Results[target]; !ok {
			out = append(out, target)
		}
	}
	return out
}

// Clone returns a deep copy of the task's mutable collections.
func (t Task) Clone() Task {
	c := t
	c.Targets = append([]string(nil), t.Targets...)
	c.Results = make(map[string]Result, len(t.Results))
	for k, v := range t.Results {
		c.Results[k] = v
	}
	return c
}

// TaskRequest describes a task to create. Empty Targets resolve by role.
type TaskRequest struct {
	Kind        TaskKind
	Targets     []string
	RequesterID string
}

// NormalizeTargets de-duplicates and sorts target ids.
func NormalizeTargets(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Outcome is the structured answer to waiting on a task. It is always
// returned; failures are described by its fields instead of escaping as errors.
type Outcome struct {
	TaskID    string            `json:"task_id"`
	Status    TaskStatus        `json:"status"`
	Success   bool              `json:"success"`
	Result    Result            `json:"result"`
	Results   map[string]Result `json:"results,omitempty"`
	Error     string            `json:"error,omitempty"`
	Err       error             `json:"-"`
	Partial   bool              `json:"partial,omitempty"`
	Forced    bool              `json:"forced,omitempty"`
	Abandoned bool              `json:"abandoned,omitempty"`
}

// OutcomeOf builds an outcome from a terminal task snapshot. Result is the
// first successful result in target order, or the first result at all.
func OutcomeOf(t Task) Outcome {
	o := Outcome{
		TaskID:    t.ID,
		Status:    t.Status,
		Results:   t.Clone().Results,
		Forced:    t.Forced,
		Abandoned: t.Abandoned,
	}
	var first *Result
	for _, target := range t.Targets {
		r, ok := t.Results[target]
		if !ok {
			continue
		}
		if first == nil {
			rr := r
			first = &rr
		}
		if r.Success {
			o.Result = r
			first = nil
			break
		}
	}
	if first != nil {
		o.Result = *first
	}
	o.Success = t.Status == TaskCompleted && o.Result.Success
	switch {
	case t.Status == TaskFailed && t.Error != "":
		o.Error = t.Error
	case !o.Success && o.Result.Error != "":
		o.Error = o.Result.Error
	}
	if o.Error != "" && t.Status == TaskFailed {
		o.Err = &TaskFailure{TaskID: t.ID, Reason: o.Error}
	}
	return o
}
