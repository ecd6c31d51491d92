package testutil

import (
	"context"
	"sync"

	"github.com/hupe1980/agentcrew/agent"
	"github.com/hupe1980/agentcrew/core"
)

// Step is one scripted answer to a task.
type Step struct {
	Result core.Result
	// NoReply swallows the task without answering.
	NoReply bool
}

// Succeed answers with a successful result carrying data.
func Succeed(data map[string]any) Step { return Step{Result: core.OK(data)} }

// FailWith answers with a failed result.
func FailWith(format string, args ...any) Step { return Step{Result: core.Failf(format, args...)} }

// NoReply never answers.
func NoReply() Step { return Step{NoReply: true} }

// ScriptedAgent answers tasks from a per type script. Steps are consumed in
// order and the last one repeats. Unscripted types use the default step,
// which echoes the task type. Every received task kind is recorded.
//
// Example:
//
//	a := NewScriptedAgent("a1", core.RoleReasoning).
//	    On(core.TypeExecuteTask, FailWith("boom"), Succeed(nil))
type ScriptedAgent struct {
	*agent.Base

	mu       sync.Mutex
	script   map[core.TaskType][]Step
	fallback *Step
	received []core.TaskKind
}

// NewScriptedAgent creates a scripted agent with id and role.
func NewScriptedAgent(id string, role core.Role) *ScriptedAgent {
	s := &ScriptedAgent{script: map[core.TaskType][]Step{}}
	s.Base = agent.NewBase(role, agent.HandlerFunc(func(context.Context, core.Message, core.TaskKind) (core.Result, error) {
		return core.Result{}, agent.ErrUnsupportedTask
	}), func(o *agent.Options) {
		o.ID = id
		o.Intercept = s.intercept
	})
	return s
}

// On scripts the answers for t (chainable).
func (s *ScriptedAgent) On(t core.TaskType, steps ...Step) *ScriptedAgent {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script[t] = append(s.script[t], steps...)
	return s
}

// Default sets the answer for unscripted types (chainable).
func (s *ScriptedAgent) Default(step Step) *ScriptedAgent {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = &step
	return s
}

// Silent makes the agent swallow every unscripted task (chainable).
func (s *ScriptedAgent) Silent() *ScriptedAgent { return s.Default(NoReply()) }

// Received returns the task kinds seen so far.
func (s *ScriptedAgent) Received() []core.TaskKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.TaskKind(nil), s.received...)
}

// Count returns how many tasks of type t were received.
func (s *ScriptedAgent) Count(t core.TaskType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, k := range s.received {
		if k.TaskType() == t {
			n++
		}
	}
	return n
}

func (s *ScriptedAgent) intercept(_ context.Context, msg core.Message) ([]core.Message, bool) {
	if msg.Type != core.MessageTask {
		return nil, false
	}
	kind, ok := msg.Payload.(core.TaskKind)
	if !ok {
		return nil, false
	}
	step := s.next(kind)
	if step.NoReply {
		return nil, true
	}
	return []core.Message{msg.Reply(s.ID(), core.MessageTaskResult, step.Result)}, true
}

func (s *ScriptedAgent) next(kind core.TaskKind) Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, kind)
	steps := s.script[kind.TaskType()]
	switch {
	case len(steps) > 1:
		s.script[kind.TaskType()] = steps[1:]
		return steps[0]
	case len(steps) == 1:
		return steps[0]
	case s.fallback != nil:
		return *s.fallback
	default:
		return Succeed(map[string]any{"echo": string(kind.TaskType()), "agent": s.ID()})
	}
}

var _ core.Agent = (*ScriptedAgent)(nil)
