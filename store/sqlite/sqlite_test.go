package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/hupe1980/agentcrew/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a new temporary database for testing.
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "crew.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_MigrateIsIdempotent(t *testing.T) {
	s := setupTestStore(t)
	require.NoError(t, s.Migrate())

	var version int
	require.NoError(t, s.conn.QueryRow("SELECT MAX(version) FROM schema_version").Scan(&version))
	assert.Equal(t, 2, version)
}

func TestPlanLifecycle(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	plan, err := s.CreatePlan(ctx, "ship a release")
	require.NoError(t, err)
	first, err := s.AddTask(ctx, plan.ID, "research", nil)
	require.NoError(t, err)
	second, err := s.AddTask(ctx, plan.ID, "implement", []string{first})
	require.NoError(t, err)

	require.NoError(t, s.UpdateTask(ctx, first, core.PlanTaskRunning, ""))
	require.NoError(t, s.UpdateTask(ctx, first, core.PlanTaskCompleted, "notes"))
	require.NoError(t, s.SetTaskCode(ctx, second, `print("ok")`))

	got, err := s.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, "ship a release", got.Goal)
	require.Len(t, got.Tasks, 2)

	assert.Equal(t, first, got.Tasks[0].ID)
	assert.Equal(t, core.PlanTaskCompleted, got.Tasks[0].Status)
	assert.Equal(t, "notes", got.Tasks[0].Result)
	require.Len(t, got.Tasks[0].History, 3)
	assert.Equal(t, core.PlanTaskRunning, got.Tasks[0].History[1].Status)
	assert.Nil(t, got.Tasks[0].Dependencies)

	assert.Equal(t, 1, got.Tasks[1].Position)
	assert.Equal(t, []string{first}, got.Tasks[1].Dependencies)
	assert.Equal(t, `print("ok")`, got.Tasks[1].GeneratedCode)

	task, err := s.GetTask(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, plan.ID, task.PlanID)
}

func TestPlanTask_DependencyValidation(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	plan, _ := s.CreatePlan(ctx, "goal")

	_, err := s.AddTask(ctx, plan.ID, "a", []string{"unknown"})
	var vErr *core.ValidationError
	assert.ErrorAs(t, err, &vErr)

	tasks, err := s.GetTasksByPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestPlan_NotFound(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	_, err := s.GetPlan(ctx, "missing")
	assert.True(t, errors.Is(err, core.ErrPlanNotFound))
	_, err = s.AddTask(ctx, "missing", "x", nil)
	assert.True(t, errors.Is(err, core.ErrPlanNotFound))
	_, err = s.GetTask(ctx, "missing")
	assert.True(t, errors.Is(err, core.ErrPlanTaskNotFound))
	assert.True(t, errors.Is(s.SetTaskCode(ctx, "missing", "x"), core.ErrPlanTaskNotFound))
	assert.True(t, errors.Is(s.UpdateTask(ctx, "missing", core.PlanTaskFailed, ""), core.ErrPlanTaskNotFound))
}

func TestPlan_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "crew.db")

	s, err := Open(path)
	require.NoError(t, err)
	plan, _ := s.CreatePlan(ctx, "persist me")
	_, _ = s.AddTask(ctx, plan.ID, "only task", nil)
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.Len(t, got.Tasks, 1)
}

func TestFacts(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	require.NoError(t, s.PutFact(ctx, core.Fact{Subject: "go", Fact: "Go has goroutines", Confidence: 0.9}))
	require.NoError(t, s.PutFact(ctx, core.Fact{Subject: "rust", Fact: "Rust has 100% ownership"}))
	require.NoError(t, s.PutFact(ctx, core.Fact{Subject: "go", Fact: "Go has channels", Confidence: 0.8}))

	f, ok, err := s.GetFact(ctx, "go")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Go has channels", f.Fact)
	assert.InDelta(t, 0.8, f.Confidence, 1e-9)

	_, ok, err = s.GetFact(ctx, "python")
	require.NoError(t, err)
	assert.False(t, ok)

	hits, err := s.SearchFacts(ctx, "HAS", 0)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
	assert.Equal(t, "go", hits[0].Subject)

	literal, err := s.SearchFacts(ctx, "100%", 10)
	require.NoError(t, err)
	require.Len(t, literal, 1)
	assert.Equal(t, "rust", literal[0].Subject)

	limited, err := s.SearchFacts(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestTriples(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	require.NoError(t, s.AddTriple(ctx, core.Triple{Subject: "Go", Predicate: "has", Object: "goroutines"}))
	require.NoError(t, s.AddTriple(ctx, core.Triple{Subject: "Go", Predicate: "has", Object: "goroutines"}))
	require.NoError(t, s.AddTriple(ctx, core.Triple{Subject: "runtime", Predicate: "schedules", Object: "Go"}))
	require.NoError(t, s.AddTriple(ctx, core.Triple{Subject: "Rust", Predicate: "is", Object: "fast"}))

	rel, err := s.Related(ctx, "Go")
	require.NoError(t, err)
	require.Len(t, rel, 2)
	assert.Equal(t, "goroutines", rel[0].Object)
	assert.Equal(t, "runtime", rel[1].Subject)

	var vErr *core.ValidationError
	assert.ErrorAs(t, s.AddTriple(ctx, core.Triple{Subject: "x"}), &vErr)
}
