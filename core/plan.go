package core

import (
	"context"
	"time"
)

// PlanTaskStatus is the lifecycle state of a plan task.
type PlanTaskStatus string

const (
	PlanTaskPending   PlanTaskStatus = "pending"
	PlanTaskRunning   PlanTaskStatus = "running"
	PlanTaskCompleted PlanTaskStatus = "completed"
	PlanTaskFailed    PlanTaskStatus = "failed"
)

// IsTerminal reports whether the plan task finished.
func (s PlanTaskStatus) IsTerminal() bool {
	return s == PlanTaskCompleted || s == PlanTaskFailed
}

// PlanEvent is one entry in a plan task's history.
type PlanEvent struct {
	At     time.Time      `json:"at" yaml:"at"`
	Status PlanTaskStatus `json:"status" yaml:"status"`
	Note   string         `json:"note,omitempty" yaml:"note,omitempty"`
}

// PlanTask is a node in a plan's dependency DAG. Dependencies only ever
// reference tasks created earlier in the same plan.
type PlanTask struct {
	ID            string         `json:"id" yaml:"id"`
	PlanID        string         `json:"plan_id" yaml:"plan_id"`
	Position      int            `json:"position" yaml:"position"`
	Description   string         `json:"description" yaml:"description"`
	Dependencies  []string       `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Status        PlanTaskStatus `json:"status" yaml:"status"`
	Result        string         `json:"result,omitempty" yaml:"result,omitempty"`
	GeneratedCode string         `json:"generated_code,omitempty" yaml:"generated_code,omitempty"`
	History       []PlanEvent    `json:"history,omitempty" yaml:"history,omitempty"`
	CreatedAt     time.Time      `json:"created_at" yaml:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at" yaml:"updated_at"`
}

// Plan is an ordered collection of plan tasks derived from a goal.
type Plan struct {
	ID        string     `json:"id" yaml:"id"`
	Goal      string     `json:"goal" yaml:"goal"`
	Tasks     []PlanTask `json:"tasks" yaml:"tasks"`
	CreatedAt time.Time  `json:"created_at" yaml:"created_at"`
}

// PlanStore persists plans and their tasks. Implementations must survive
// process restarts (in-memory variants exist for tests) and must reject
// dependencies that do not reference an earlier task of the same plan.
type PlanStore interface {
	CreatePlan(ctx context.Context, goal string) (Plan, error)
	GetPlan(ctx context.Context, planID string) (Plan, error)
	AddTask(ctx context.Context, planID, description string, dependencies []string) (string, error)
	GetTask(ctx context.Context, taskID string) (PlanTask, error)
	// UpdateTask sets status and result and appends a history entry.
	UpdateTask(ctx context.Context, taskID string, status PlanTaskStatus, result string) error
	SetTaskCode(ctx context.Context, taskID, code string) error
	GetTasksByPlan(ctx context.Context, planID string) ([]PlanTask, error)
}
