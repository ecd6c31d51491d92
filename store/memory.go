package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/agentcrew/core"
)

// InMemoryPlanStore is a process-local PlanStore protected by a RWMutex.
// Returned plans and tasks are copies.
type InMemoryPlanStore struct {
	mu     sync.RWMutex
	plans  map[string]*core.Plan
	tasks  map[string]*core.PlanTask
	byPlan map[string][]string
	now    func() time.Time
}

// NewInMemoryPlanStore creates an empty plan store.
func NewInMemoryPlanStore() *InMemoryPlanStore {
	return &InMemoryPlanStore{
		plans:  make(map[string]*core.Plan),
		tasks:  make(map[string]*core.PlanTask),
		byPlan: make(map[string][]string),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CreatePlan stores a new empty plan for goal.
func (s *InMemoryPlanStore) CreatePlan(_ context.Context, goal string) (core.Plan, error) {
	if strings.TrimSpace(goal) == "" {
		return core.Plan{}, core.NewValidationError("goal", goal, "must not be empty")
	}
	p := &core.Plan{ID: core.NewID(), Goal: goal, Tasks: []core.PlanTask{}, CreatedAt: s.now()}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[p.ID] = p
	return *p, nil
}

// GetPlan returns the plan with its tasks in creation order.
func (s *InMemoryPlanStore) GetPlan(_ context.Context, planID string) (core.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[planID]
	if !ok {
		return core.Plan{}, fmt.Errorf("plan %s: %w", planID, core.ErrPlanNotFound)
	}
	out := *p
	out.Tasks = s.tasksLocked(planID)
	return out, nil
}

// AddTask appends a task to the plan. Every dependency must be an earlier
// task of the same plan.
func (s *InMemoryPlanStore) AddTask(_ context.Context, planID, description string, dependencies []string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plans[planID]; !ok {
		return "", fmt.Errorf("plan %s: %w", planID, core.ErrPlanNotFound)
	}
	if err := ValidateDependencies(s.byPlan[planID], dependencies); err != nil {
		return "", err
	}
	now := s.now()
	t := &core.PlanTask{
		ID:           core.NewID(),
		PlanID:       planID,
		Position:     len(s.byPlan[planID]),
		Description:  description,
		Dependencies: append([]string(nil), dependencies...),
		Status:       core.PlanTaskPending,
		History:      []core.PlanEvent{{At: now, Status: core.PlanTaskPending}},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.tasks[t.ID] = t
	s.byPlan[planID] = append(s.byPlan[planID], t.ID)
	return t.ID, nil
}

// GetTask returns a copy of the plan task.
func (s *InMemoryPlanStore) GetTask(_ context.Context, taskID string) (core.PlanTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return core.PlanTask{}, fmt.Errorf("plan task %s: %w", taskID, core.ErrPlanTaskNotFound)
	}
	return clonePlanTask(t), nil
}

// UpdateTask sets status and result and appends a history entry.
func (s *InMemoryPlanStore) UpdateTask(_ context.Context, taskID string, status core.PlanTaskStatus, result string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("plan task %s: %w", taskID, core.ErrPlanTaskNotFound)
	}
	now := s.now()
	t.Status = status
	t.Result = result
	t.UpdatedAt = now
	t.History = append(t.History, core.PlanEvent{At: now, Status: status, Note: result})
	return nil
}

// SetTaskCode stores the code generated for a task.
func (s *InMemoryPlanStore) SetTaskCode(_ context.Context, taskID, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("plan task %s: %w", taskID, core.ErrPlanTaskNotFound)
	}
	t.GeneratedCode = code
	t.UpdatedAt = s.now()
	return nil
}

// GetTasksByPlan returns the plan's tasks in creation order.
func (s *InMemoryPlanStore) GetTasksByPlan(_ context.Context, planID string) ([]core.PlanTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.plans[planID]; !ok {
		return nil, fmt.Errorf("plan %s: %w", planID, core.ErrPlanNotFound)
	}
	return s.tasksLocked(planID), nil
}

func (s *InMemoryPlanStore) tasksLocked(planID string) []core.PlanTask {
	ids := s.byPlan[planID]
	out := make([]core.PlanTask, 0, len(ids))
	for _, id := range ids {
		out = append(out, clonePlanTask(s.tasks[id]))
	}
	return out
}

func clonePlanTask(t *core.PlanTask) core.PlanTask {
	c := *t
	c.Dependencies = append([]string(nil), t.Dependencies...)
	c.History = append([]core.PlanEvent(nil), t.History...)
	return c
}

// ValidateDependencies checks that every dependency is one of the earlier
// task ids and that none repeats.
func ValidateDependencies(earlier []string, dependencies []string) error {
	known := make(map[string]struct{}, len(earlier))
	for _, id := range earlier {
		known[id] = struct{}{}
	}
	seen := make(map[string]struct{}, len(dependencies))
	for _, dep := range dependencies {
		if _, ok := known[dep]; !ok {
			return core.NewValidationError("dependencies", dep, "must reference an earlier task of the same plan")
		}
		if _, dup := seen[dep]; dup {
			return core.NewValidationError("dependencies", dep, "duplicate dependency")
		}
		seen[dep] = struct{}{}
	}
	return nil
}

var _ core.PlanStore = (*InMemoryPlanStore)(nil)
