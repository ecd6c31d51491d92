package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentcrew/coordinator"
	"github.com/hupe1980/agentcrew/core"
	"github.com/hupe1980/agentcrew/internal/testutil"
	"github.com/hupe1980/agentcrew/model"
)

func newSystem(t *testing.T, cfg func(c *Config), agents ...core.Agent) *System {
	t.Helper()
	coord := coordinator.New(model.NewSimulated())
	s := New(coord, func(o *Options) {
		o.Config.PollInterval = time.Millisecond
		if cfg != nil {
			cfg(&o.Config)
		}
	})
	for _, a := range agents {
		require.NoError(t, s.AddAgent(a))
	}
	return s
}

// assertCompletionInvariant checks Completed => results cover targets or forced.
func assertCompletionInvariant(t *testing.T, s *System) {
	t.Helper()
	for _, task := range s.Coordinator().Tasks() {
		for id := range task.Results {
			assert.True(t, task.HasTarget(id), "task %s has result from non-target %s", task.ID, id)
		}
		if task.Status == core.TaskCompleted {
			assert.True(t, task.Covered() || task.Forced, "task %s completed without coverage", task.ID)
		}
	}
}

func TestSingleTickCompletes(t *testing.T) {
	a1 := testutil.NewScriptedAgent("a1", core.RoleReasoning)
	s := newSystem(t, nil, a1)

	id, err := s.CreateTask(context.Background(), core.TaskRequest{Kind: core.Generic{Type: "echo"}, Targets: []string{"a1"}})
	require.NoError(t, err)

	_, err = s.Tick(context.Background())
	require.NoError(t, err)

	task, ok := s.Coordinator().Task(id)
	require.True(t, ok)
	assert.Equal(t, core.TaskCompleted, task.Status)
	require.Contains(t, task.Results, "a1")
	assert.Equal(t, "echo", task.Results["a1"].String("echo"))
	assertCompletionInvariant(t, s)
}

func TestForceCompleteAfterStaleness(t *testing.T) {
	a1 := testutil.NewScriptedAgent("a1", core.RoleReasoning)
	a2 := testutil.NewScriptedAgent("a2", core.RoleReasoning).Silent()
	s := newSystem(t, func(c *Config) {
		c.StaleAfter = 30 * time.Millisecond
		c.ForceComplete = true
	}, a1, a2)

	var forced []string
	cbs := NewCallbackManager()
	cbs.RegisterCallback(NewFunctionCallback(CallbackTaskForced, func(_ context.Context, cc *CallbackContext) error {
		forced = append(forced, cc.TaskID)
		return nil
	}))
	s.callbacks = cbs

	id, err := s.CreateTask(context.Background(), core.TaskRequest{Kind: core.Generic{Type: "x"}, Targets: []string{"a1", "a2"}})
	require.NoError(t, err)

	o := s.WaitForCompletion(context.Background(), id, WaitOptions{MaxIterations: -1, Timeout: 5 * time.Second})
	assert.Equal(t, core.TaskCompleted, o.Status)
	assert.True(t, o.Forced)
	assert.True(t, o.Success)
	assert.False(t, o.Partial)
	assert.Len(t, o.Results, 1)
	assert.Equal(t, []string{id}, forced)

	task, _ := s.Coordinator().Task(id)
	assert.True(t, task.Forced)
	assert.Len(t, task.Results, 1)
	assertCompletionInvariant(t, s)
}

func TestDefaultConfigForcesStaleTaskInTickMode(t *testing.T) {
	a1 := testutil.NewScriptedAgent("a1", core.RoleReasoning)
	a2 := testutil.NewScriptedAgent("a2", core.RoleReasoning).Silent()

	// The clock runs ahead so the partial result turns stale after well
	// over a hundred idle poll intervals.
	ahead := DefaultConfig.StaleAfter - 1500*time.Millisecond
	s := New(coordinator.New(model.NewSimulated()), func(o *Options) {
		o.Now = func() time.Time { return time.Now().Add(ahead) }
	})
	require.NoError(t, s.AddAgent(a1))
	require.NoError(t, s.AddAgent(a2))

	id, err := s.CreateTask(context.Background(), core.TaskRequest{Kind: core.Generic{Type: "x"}, Targets: []string{"a1", "a2"}})
	require.NoError(t, err)

	o := s.WaitForCompletion(context.Background(), id, WaitOptions{})
	require.NoError(t, o.Err)
	assert.Equal(t, core.TaskCompleted, o.Status)
	assert.True(t, o.Forced)
	assert.False(t, o.Partial)
	assert.Len(t, o.Results, 1)
}

func TestForceCompleteDisabledTimesOutWithPartial(t *testing.T) {
	a1 := testutil.NewScriptedAgent("a1", core.RoleReasoning)
	a2 := testutil.NewScriptedAgent("a2", core.RoleReasoning).Silent()
	s := newSystem(t, func(c *Config) {
		c.StaleAfter = time.Millisecond
		c.ForceComplete = false
	}, a1, a2)

	id, err := s.CreateTask(context.Background(), core.TaskRequest{Kind: core.Generic{Type: "x"}, Targets: []string{"a1", "a2"}})
	require.NoError(t, err)

	o := s.WaitForCompletion(context.Background(), id, WaitOptions{MaxIterations: 20})
	assert.Equal(t, core.TaskProcessing, o.Status)
	assert.True(t, o.Partial)
	assert.True(t, o.Abandoned)
	assert.False(t, o.Success)
	assert.Len(t, o.Results, 1)

	var timeout *core.OrchestrationTimeout
	require.ErrorAs(t, o.Err, &timeout)
	assert.Equal(t, 20, timeout.Iterations)

	task, _ := s.Coordinator().Task(id)
	assert.True(t, task.Abandoned)
	assert.False(t, task.Forced)
}

func TestZeroResultTaskIsNeverForced(t *testing.T) {
	silent := testutil.NewScriptedAgent("a1", core.RoleReasoning).Silent()
	s := newSystem(t, func(c *Config) {
		c.StaleAfter = time.Millisecond
		c.ForceComplete = true
	}, silent)

	id, err := s.CreateTask(context.Background(), core.TaskRequest{Kind: core.Generic{Type: "x"}, Targets: []string{"a1"}})
	require.NoError(t, err)

	o := s.WaitForCompletion(context.Background(), id, WaitOptions{MaxIterations: -1, Timeout: 50 * time.Millisecond})
	assert.True(t, o.Partial)
	assert.False(t, o.Forced)
	assert.Empty(t, o.Results)

	var timeout *core.OrchestrationTimeout
	require.ErrorAs(t, o.Err, &timeout)
	assert.ErrorIs(t, o.Err, context.DeadlineExceeded)

	task, _ := s.Coordinator().Task(id)
	assert.Equal(t, core.TaskProcessing, task.Status)
	assert.True(t, task.Abandoned)
}

func TestWaitHonoursCancellation(t *testing.T) {
	silent := testutil.NewScriptedAgent("a1", core.RoleReasoning).Silent()
	s := newSystem(t, nil, silent)
	id, err := s.CreateTask(context.Background(), core.TaskRequest{Kind: core.Generic{Type: "x"}, Targets: []string{"a1"}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o := s.WaitForCompletion(ctx, id, WaitOptions{MaxIterations: -1})
	assert.True(t, o.Partial)
	assert.ErrorIs(t, o.Err, context.Canceled)
}

func TestBroadcastReachesEveryoneElseOnce(t *testing.T) {
	x := testutil.NewScriptedAgent("x", core.RoleReasoning)
	y := testutil.NewScriptedAgent("y", core.RoleKnowledge)
	z := testutil.NewScriptedAgent("z", core.RoleEvaluation)
	s := newSystem(t, nil, x, y, z)

	var mu sync.Mutex
	received := map[string]int{}
	cbs := NewCallbackManager()
	cbs.RegisterCallback(NewFunctionCallback(CallbackMessageRouted, func(_ context.Context, cc *CallbackContext) error {
		mu.Lock()
		defer mu.Unlock()
		received[cc.Message.SenderID]++
		return nil
	}))
	s.callbacks = cbs

	require.NoError(t, s.Broadcast("x", core.Text{Text: "hello crew"}))
	assert.Equal(t, 0, x.Pending())
	assert.Equal(t, 1, y.Pending())
	assert.Equal(t, 1, z.Pending())
	assert.Equal(t, 1, s.Coordinator().Pending())

	routed, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, routed, "broadcasts are not answered")
	assert.Equal(t, 1, received["x"])
}

func TestUnknownTargetFallsBackToCoordinator(t *testing.T) {
	s := newSystem(t, nil)
	var fallbacks []string
	cbs := NewCallbackManager()
	cbs.RegisterCallback(NewFunctionCallback(CallbackTargetFallback, func(_ context.Context, cc *CallbackContext) error {
		fallbacks = append(fallbacks, cc.AgentID)
		return nil
	}))
	s.callbacks = cbs

	o := s.Run(context.Background(), core.TaskRequest{
		Kind:    core.AnalyzeTask{Description: "write a python script"},
		Targets: []string{"ghost"},
	}, WaitOptions{})
	require.True(t, o.Success, o.Error)
	assert.Equal(t, "code_generation", o.Result.String("task_type"))
	assert.Equal(t, []string{"ghost"}, fallbacks)

	task, _ := s.Coordinator().Task(o.TaskID)
	assert.Equal(t, []string{"coordinator"}, task.Targets)
}

func TestUnknownTargetRejectedWithoutFallback(t *testing.T) {
	s := newSystem(t, func(c *Config) { c.FallbackToCoordinator = false })
	_, err := s.CreateTask(context.Background(), core.TaskRequest{Kind: core.Generic{Type: "x"}, Targets: []string{"ghost"}})
	var verr *core.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestResultIdempotence(t *testing.T) {
	a1 := testutil.NewScriptedAgent("a1", core.RoleReasoning)
	s := newSystem(t, nil, a1)
	o := s.Run(context.Background(), core.TaskRequest{Kind: core.Generic{Type: "echo"}, Targets: []string{"a1"}}, WaitOptions{})
	require.True(t, o.Success)
	before, _ := s.Coordinator().Task(o.TaskID)

	dup := testutil.NewMessageBuilder().From("a1").To(s.Coordinator().ID()).Task(o.TaskID, "echo").
		Result(core.Failf("again")).Build()
	require.NoError(t, s.Send(dup))
	require.NoError(t, s.Send(dup))
	_, err := s.Tick(context.Background())
	require.NoError(t, err)

	after, _ := s.Coordinator().Task(o.TaskID)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.Results, after.Results)
}

func TestRemovedTargetFailsTaskInsteadOfDropping(t *testing.T) {
	a1 := testutil.NewScriptedAgent("a1", core.RoleReasoning)
	s := newSystem(t, nil, a1)
	s.Bus().Detach("a1")

	id, err := s.CreateTask(context.Background(), core.TaskRequest{Kind: core.Generic{Type: "x"}, Targets: []string{"a1"}})
	var rerr *core.RoutingError
	require.ErrorAs(t, err, &rerr)

	task, ok := s.Coordinator().Task(id)
	require.True(t, ok)
	assert.Equal(t, core.TaskFailed, task.Status)
}

func TestSendUnknownReceiverIsRoutingError(t *testing.T) {
	s := newSystem(t, nil)
	err := s.Send(core.NewMessage("coordinator", "nobody", core.MessageText, core.Text{Text: "?"}, core.Metadata{}))
	var rerr *core.RoutingError
	assert.True(t, errors.As(err, &rerr))
}

func TestAgentManagement(t *testing.T) {
	s := newSystem(t, nil)
	expert, err := s.AddDomainExpert("Quantum Physics", model.NewSimulated())
	require.NoError(t, err)
	assert.Regexp(t, `^domain_expert_quantum_physics_[0-9a-f]{8}$`, expert.ID())
	assert.Equal(t, []string{expert.ID()}, s.Coordinator().AgentsByRole(core.RoleDomainExpert))

	_, err = s.AddDomainExpert("", model.NewSimulated())
	assert.Error(t, err)

	dup := testutil.NewScriptedAgent(expert.ID(), core.RoleDomainExpert)
	assert.ErrorIs(t, s.AddAgent(dup), core.ErrAgentExists)

	var verr *core.ValidationError
	assert.ErrorAs(t, s.RemoveAgent("coordinator"), &verr)
	require.NoError(t, s.RemoveAgent(expert.ID()))
	assert.False(t, s.Bus().Has(expert.ID()))
	assert.ErrorIs(t, s.RemoveAgent(expert.ID()), core.ErrAgentNotFound)
	assert.Equal(t, []string{"coordinator"}, s.AgentIDs())
}

func TestWorkerMode(t *testing.T) {
	a1 := testutil.NewScriptedAgent("a1", core.RoleReasoning)
	a2 := testutil.NewScriptedAgent("a2", core.RoleReasoning)
	s := newSystem(t, func(c *Config) { c.HeartbeatInterval = 5 * time.Millisecond }, a1, a2)

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrRunning)
	defer func() { require.NoError(t, s.Stop()) }()

	for i := 0; i < 10; i++ {
		o := s.Run(context.Background(), core.TaskRequest{Kind: core.Generic{Type: "echo"}, Targets: []string{"a1", "a2"}}, WaitOptions{Timeout: 5 * time.Second})
		require.True(t, o.Success, o.Error)
		assert.Len(t, o.Results, 2)
	}

	late := testutil.NewScriptedAgent("late", core.RoleKnowledge)
	require.NoError(t, s.AddAgent(late))
	o := s.Run(context.Background(), core.TaskRequest{Kind: core.SearchKnowledge{Query: "go"}}, WaitOptions{Timeout: 5 * time.Second})
	require.True(t, o.Success, o.Error)
	assert.Equal(t, 1, late.Count(core.TypeSearchKnowledge))

	// Workers heartbeat, so nobody turns inactive.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"a1", "a2"}, s.Coordinator().AgentsByRole(core.RoleReasoning))
	assertCompletionInvariant(t, s)
}

func TestWorkerModeForceComplete(t *testing.T) {
	a1 := testutil.NewScriptedAgent("a1", core.RoleReasoning)
	a2 := testutil.NewScriptedAgent("a2", core.RoleReasoning).Silent()
	s := newSystem(t, func(c *Config) {
		c.StaleAfter = 20 * time.Millisecond
		c.HeartbeatInterval = 0
	}, a1, a2)
	require.NoError(t, s.Start(context.Background()))
	defer func() { require.NoError(t, s.Stop()) }()

	o := s.Run(context.Background(), core.TaskRequest{Kind: core.Generic{Type: "x"}, Targets: []string{"a1", "a2"}}, WaitOptions{Timeout: 5 * time.Second})
	assert.True(t, o.Forced)
	assert.Equal(t, core.TaskCompleted, o.Status)
}

func TestWaitUnknownTask(t *testing.T) {
	s := newSystem(t, nil)
	o := s.WaitForCompletion(context.Background(), "missing", WaitOptions{})
	assert.False(t, o.Success)
	assert.ErrorIs(t, o.Err, core.ErrTaskNotFound)
}

func TestCallbackErrorsDoNotChangeOutcome(t *testing.T) {
	a1 := testutil.NewScriptedAgent("a1", core.RoleReasoning)
	s := newSystem(t, nil, a1)
	cbs := NewCallbackManager()
	cbs.RegisterCallback(NewFunctionCallback(CallbackMessageRouted, func(context.Context, *CallbackContext) error {
		return errors.New("observer down")
	}))
	cbs.RegisterCallback(NewFunctionCallback(CallbackMessageRouted, func(context.Context, *CallbackContext) error {
		panic("boom")
	}))
	s.callbacks = cbs

	o := s.Run(context.Background(), core.TaskRequest{Kind: core.Generic{Type: "echo"}, Targets: []string{"a1"}}, WaitOptions{})
	assert.True(t, o.Success)

	err := cbs.ExecuteCallbacks(context.Background(), CallbackMessageRouted, &CallbackContext{})
	assert.ErrorContains(t, err, "observer down")
	assert.ErrorContains(t, err, "panicked")
}
