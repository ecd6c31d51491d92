package store

import (
	"context"
	"errors"
	"testing"

	"github.com/hupe1980/agentcrew/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryPlanStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryPlanStore()

	plan, err := s.CreatePlan(ctx, "build a CLI")
	require.NoError(t, err)

	first, err := s.AddTask(ctx, plan.ID, "research", nil)
	require.NoError(t, err)
	second, err := s.AddTask(ctx, plan.ID, "implement", []string{first})
	require.NoError(t, err)

	require.NoError(t, s.UpdateTask(ctx, first, core.PlanTaskRunning, ""))
	require.NoError(t, s.UpdateTask(ctx, first, core.PlanTaskCompleted, "done"))
	require.NoError(t, s.SetTaskCode(ctx, second, `print("x")`))

	got, err := s.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	require.Len(t, got.Tasks, 2)
	assert.Equal(t, 0, got.Tasks[0].Position)
	assert.Equal(t, core.PlanTaskCompleted, got.Tasks[0].Status)
	assert.Equal(t, "done", got.Tasks[0].Result)
	assert.Len(t, got.Tasks[0].History, 3)
	assert.Equal(t, []string{first}, got.Tasks[1].Dependencies)
	assert.Equal(t, `print("x")`, got.Tasks[1].GeneratedCode)
}

func TestInMemoryPlanStore_RejectsForwardDependencies(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryPlanStore()
	plan, _ := s.CreatePlan(ctx, "goal")
	other, _ := s.CreatePlan(ctx, "other")
	foreign, _ := s.AddTask(ctx, other.ID, "elsewhere", nil)

	_, err := s.AddTask(ctx, plan.ID, "a", []string{"missing"})
	var vErr *core.ValidationError
	assert.ErrorAs(t, err, &vErr)

	_, err = s.AddTask(ctx, plan.ID, "a", []string{foreign})
	assert.ErrorAs(t, err, &vErr)

	first, _ := s.AddTask(ctx, plan.ID, "a", nil)
	_, err = s.AddTask(ctx, plan.ID, "b", []string{first, first})
	assert.ErrorAs(t, err, &vErr)
}

func TestInMemoryPlanStore_NotFound(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryPlanStore()

	_, err := s.GetPlan(ctx, "nope")
	assert.True(t, errors.Is(err, core.ErrPlanNotFound))
	_, err = s.GetTask(ctx, "nope")
	assert.True(t, errors.Is(err, core.ErrPlanTaskNotFound))
	assert.True(t, errors.Is(s.UpdateTask(ctx, "nope", core.PlanTaskFailed, ""), core.ErrPlanTaskNotFound))
	_, err = s.CreatePlan(ctx, "  ")
	assert.Error(t, err)
}

func TestInMemoryPlanStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryPlanStore()
	plan, _ := s.CreatePlan(ctx, "goal")
	id, _ := s.AddTask(ctx, plan.ID, "a", nil)

	task, _ := s.GetTask(ctx, id)
	task.History[0].Note = "mutated"
	again, _ := s.GetTask(ctx, id)
	assert.Empty(t, again.History[0].Note)
}
