package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/agentcrew/agent"
	"github.com/hupe1980/agentcrew/core"
	"github.com/hupe1980/agentcrew/logging"
	"github.com/hupe1980/agentcrew/model"
)

// ErrNoResults is returned by ForceComplete for tasks nobody answered yet.
var ErrNoResults = errors.New("task has no results")

// Config holds the coordinator's tunables.
type Config struct {
	// ID is the coordinator's agent id.
	ID string
	// InactiveAfter marks agents inactive when no heartbeat arrived for this
	// long.
	InactiveAfter time.Duration
}

// DefaultConfig returns the default coordinator configuration.
func DefaultConfig() Config {
	return Config{ID: "coordinator", InactiveAfter: 60 * time.Second}
}

// Options configures a Coordinator.
type Options struct {
	Config Config
	Logger logging.Logger
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

type taskEntry struct {
	task core.Task
	done chan struct{}
}

// Coordinator owns the agent directory and the task table. Every task
// mutation goes through its methods; callers only ever see snapshots.
type Coordinator struct {
	*agent.Base
	llm    model.LLM
	cfg    Config
	logger logging.Logger
	now    func() time.Time

	mu     sync.RWMutex
	agents map[string]*core.AgentRecord
	tasks  map[string]*taskEntry
}

// New creates a coordinator whose built-in task kinds run on llm. The
// coordinator registers itself in its own directory.
func New(llm model.LLM, optFns ...func(o *Options)) *Coordinator {
	opts := Options{Config: DefaultConfig()}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Config.ID == "" {
		opts.Config.ID = DefaultConfig().ID
	}
	if opts.Config.InactiveAfter <= 0 {
		opts.Config.InactiveAfter = DefaultConfig().InactiveAfter
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Coordinator{
		llm:    llm,
		cfg:    opts.Config,
		logger: logging.OrNoOp(opts.Logger),
		now:    opts.Now,
		agents: make(map[string]*core.AgentRecord),
		tasks:  make(map[string]*taskEntry),
	}
	c.Base = agent.NewBase(core.RoleCoordinator, c, func(o *agent.Options) {
		o.ID = opts.Config.ID
		o.Name = "Coordinator"
		o.Description = "Routes tasks to agents and tracks their completion"
		o.Logger = opts.Logger
		o.Intercept = c.intercept
	})

	now := c.now()
	c.agents[c.ID()] = &core.AgentRecord{
		ID:            c.ID(),
		Role:          core.RoleCoordinator,
		Name:          c.Name(),
		Description:   c.Description(),
		Status:        core.AgentActive,
		RegisteredAt:  now,
		LastHeartbeat: now,
	}
	return c
}

// Config returns the coordinator configuration.
func (c *Coordinator) Config() Config { return c.cfg }

// RegisterAgent adds an agent to the directory as active.
func (c *Coordinator) RegisterAgent(id string, role core.Role, name, description string) error {
	if id == "" {
		return core.NewValidationError("id", id, "agent id must not be empty")
	}
	if id == core.Broadcast {
		return core.NewValidationError("id", id, "%q is reserved", core.Broadcast)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.agents[id]; ok {
		return fmt.Errorf("register %s: %w", id, core.ErrAgentExists)
	}
	now := c.now()
	c.agents[id] = &core.AgentRecord{
		ID:            id,
		Role:          role,
		Name:          name,
		Description:   description,
		Status:        core.AgentActive,
		RegisteredAt:  now,
		LastHeartbeat: now,
	}
	c.logger.Info("Agent registered", "agent_id", id, "role", string(role))
	return nil
}

// UnregisterAgent removes an agent from the directory. The coordinator
// cannot remove itself.
func (c *Coordinator) UnregisterAgent(id string) error {
	if id == c.ID() {
		return core.NewValidationError("id", id, "the coordinator cannot be unregistered")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.agents[id]; !ok {
		return fmt.Errorf("unregister %s: %w", id, core.ErrAgentNotFound)
	}
	delete(c.agents, id)
	c.logger.Info("Agent unregistered", "agent_id", id)
	return nil
}

// Heartbeat refreshes an agent's liveness and reactivates it.
func (c *Coordinator) Heartbeat(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.agents[id]
	if !ok {
		return fmt.Errorf("heartbeat %s: %w", id, core.ErrAgentNotFound)
	}
	rec.LastHeartbeat = c.now()
	if rec.Status != core.AgentActive {
		rec.Status = core.AgentActive
		c.logger.Info("Agent reactivated", "agent_id", id)
	}
	return nil
}

// CheckAgentStatus marks agents without a heartbeat for InactiveAfter as
// inactive and returns their ids. The coordinator itself stays active.
func (c *Coordinator) CheckAgentStatus(now time.Time) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var changed []string
	for id, rec := range c.agents {
		if id == c.ID() || rec.Status != core.AgentActive {
			continue
		}
		if now.Sub(rec.LastHeartbeat) > c.cfg.InactiveAfter {
			rec.Status = core.AgentInactive
			changed = append(changed, id)
			c.logger.Warn("Agent marked inactive", "agent_id", id, "last_heartbeat", rec.LastHeartbeat)
		}
	}
	sort.Strings(changed)
	return changed
}

// Agent returns a copy of the directory entry for id.
func (c *Coordinator) Agent(id string) (core.AgentRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.agents[id]
	if !ok {
		return core.AgentRecord{}, false
	}
	return *rec, true
}

// Agents returns every directory entry sorted by id.
func (c *Coordinator) Agents() []core.AgentRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]core.AgentRecord, 0, len(c.agents))
	for _, rec := range c.agents {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AgentsByRole returns the ids of active agents with role, sorted.
func (c *Coordinator) AgentsByRole(role core.Role) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.agentsByRoleLocked(role)
}

func (c *Coordinator) agentsByRoleLocked(role core.Role) []string {
	var ids []string
	for id, rec := range c.agents {
		if rec.Role == role && rec.Status == core.AgentActive {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// CreateTask allocates a task and returns the messages that dispatch it.
//
// Empty targets resolve by role (see RoleFor). A task targeting exactly the
// coordinator is processed inline: it goes straight to Processing, the
// built-in runs, and its result is recorded through AddTaskResult. The
// returned messages then hold the completion notification, if any.
// Otherwise the task stays Created until MarkDispatched and one task
// message per target is returned.
func (c *Coordinator) CreateTask(ctx context.Context, req core.TaskRequest) (string, []core.Message, error) {
	if req.Kind == nil {
		return "", nil, core.NewValidationError("kind", nil, "task kind is required")
	}
	if req.Kind.TaskType() == "" {
		return "", nil, core.NewValidationError("kind", req.Kind, "task type is required")
	}

	c.mu.Lock()
	targets := core.NormalizeTargets(req.Targets)
	for _, id := range targets {
		if _, ok := c.agents[id]; !ok {
			c.mu.Unlock()
			return "", nil, core.NewValidationError("targets", id, "unknown agent %q", id)
		}
	}
	if len(targets) == 0 {
		targets = c.resolveTargetsLocked(req.Kind.TaskType())
	}

	now := c.now()
	id := core.NewID()
	entry := &taskEntry{
		task: core.Task{
			ID:          id,
			Type:        req.Kind.TaskType(),
			Kind:        req.Kind,
			Targets:     targets,
			Status:      core.TaskCreated,
			Results:     make(map[string]core.Result, len(targets)),
			RequesterID: req.RequesterID,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		done: make(chan struct{}),
	}
	c.tasks[id] = entry

	selfTarget := len(targets) == 1 && targets[0] == c.ID()
	if selfTarget {
		entry.task.Status = core.TaskProcessing
	}
	c.mu.Unlock()

	c.logger.Info("Task created", "task_id", id, "task_type", string(req.Kind.TaskType()), "targets", targets, "requester_id", req.RequesterID)

	if selfTarget {
		logging.TaskTransition(c.logger, id, string(core.TaskCreated), string(core.TaskProcessing), false)
		c.logger.Info("Self-targeted task processed inline", "task_id", id, "task_type", string(req.Kind.TaskType()))
		res := c.runBuiltin(ctx, id, req.Kind)
		out, err := c.AddTaskResult(id, c.ID(), res)
		return id, out, err
	}

	msgs := make([]core.Message, 0, len(targets))
	for _, target := range targets {
		msgs = append(msgs, core.NewTaskMessage(c.ID(), target, id, req.Kind))
	}
	return id, msgs, nil
}

// resolveTargetsLocked picks the active agents for the role handling t and
// falls back to the coordinator when none is active.
func (c *Coordinator) resolveTargetsLocked(t core.TaskType) []string {
	role := RoleFor(t)
	if role == core.RoleCoordinator {
		return []string{c.ID()}
	}
	ids := c.agentsByRoleLocked(role)
	if len(ids) == 0 {
		c.logger.Warn("No active agent for role, using coordinator", "role", string(role), "task_type", string(t))
		return []string{c.ID()}
	}
	return ids
}

// MarkDispatched moves a Created task to Processing once its messages are
// on the bus. Tasks past Created are left unchanged.
func (c *Coordinator) MarkDispatched(taskID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.tasks[taskID]
	if !ok {
		return fmt.Errorf("dispatch %s: %w", taskID, core.ErrTaskNotFound)
	}
	if e.task.Status != core.TaskCreated {
		return nil
	}
	c.transitionLocked(e, core.TaskProcessing, false)
	return nil
}

// AddTaskResult records agentID's result. Results from agents outside the
// target set are rejected. Results for terminal tasks are ignored, so a
// duplicate delivery changes nothing. The task completes when every target
// reported: Failed when all results failed, Completed otherwise. The
// returned messages hold the requester's task_completed notification.
func (c *Coordinator) AddTaskResult(taskID, agentID string, r core.Result) ([]core.Message, error) {
	c.mu.Lock()
	e, ok := c.tasks[taskID]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("add result to %s: %w", taskID, core.ErrTaskNotFound)
	}
	t := &e.task
	if !t.HasTarget(agentID) {
		c.mu.Unlock()
		return nil, core.NewValidationError("agent_id", agentID, "agent is not a target of task %s", taskID)
	}
	if t.Status.IsTerminal() {
		abandoned := t.Abandoned
		status := t.Status
		c.mu.Unlock()
		if abandoned {
			c.logger.Warn("Late result for abandoned task ignored", "task_id", taskID, "agent_id", agentID, "status", string(status))
		} else {
			c.logger.Debug("Result for terminal task ignored", "task_id", taskID, "agent_id", agentID, "status", string(status))
		}
		return nil, nil
	}
	if _, dup := t.Results[agentID]; dup {
		c.mu.Unlock()
		c.logger.Debug("Duplicate result ignored", "task_id", taskID, "agent_id", agentID)
		return nil, nil
	}
	if t.Abandoned {
		c.logger.Warn("Late result for abandoned task", "task_id", taskID, "agent_id", agentID)
	}

	// Results may overtake MarkDispatched in worker mode.
	if t.Status == core.TaskCreated {
		c.transitionLocked(e, core.TaskProcessing, false)
	}
	t.Results[agentID] = r
	t.UpdatedAt = c.now()
	c.logger.Debug("Task result recorded", "task_id", taskID, "agent_id", agentID, "success", r.Success, "missing", t.Missing())

	if !t.Covered() {
		c.mu.Unlock()
		return nil, nil
	}
	out := c.completeLocked(e, false)
	c.mu.Unlock()
	return out, nil
}

// ForceComplete finishes a Processing task that has at least one result
// without waiting for the remaining targets and sets Forced.
func (c *Coordinator) ForceComplete(taskID, reason string) ([]core.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("force-complete %s: %w", taskID, core.ErrTaskNotFound)
	}
	switch {
	case e.task.Status.IsTerminal():
		return nil, fmt.Errorf("force-complete %s: %w", taskID, core.ErrTaskTerminal)
	case e.task.Status != core.TaskProcessing:
		return nil, fmt.Errorf("force-complete %s: task is %s", taskID, e.task.Status)
	case len(e.task.Results) == 0:
		return nil, fmt.Errorf("force-complete %s: %w", taskID, ErrNoResults)
	}
	c.logger.Warn("Task force-completed", "task_id", taskID, "reason", reason, "missing", e.task.Missing())
	return c.completeLocked(e, true), nil
}

// FailTask moves a non-terminal task to Failed.
func (c *Coordinator) FailTask(taskID string, cause error) ([]core.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("fail %s: %w", taskID, core.ErrTaskNotFound)
	}
	if e.task.Status.IsTerminal() {
		return nil, fmt.Errorf("fail %s: %w", taskID, core.ErrTaskTerminal)
	}
	reason := "task failed"
	if cause != nil {
		reason = cause.Error()
	}
	e.task.Error = reason
	c.transitionLocked(e, core.TaskFailed, false)
	return c.finishLocked(e), nil
}

// MarkAbandoned flags a task nobody waits for anymore. It does not change
// the status; late results stay observable through the logs.
func (c *Coordinator) MarkAbandoned(taskID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.tasks[taskID]
	if !ok {
		return fmt.Errorf("abandon %s: %w", taskID, core.ErrTaskNotFound)
	}
	if e.task.Abandoned {
		return nil
	}
	e.task.Abandoned = true
	e.task.UpdatedAt = c.now()
	c.logger.Warn("Task abandoned", "task_id", taskID, "status", string(e.task.Status), "results", len(e.task.Results), "missing", e.task.Missing())
	return nil
}

// Task returns a snapshot of the task.
func (c *Coordinator) Task(taskID string) (core.Task, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.tasks[taskID]
	if !ok {
		return core.Task{}, false
	}
	return e.task.Clone(), true
}

// Tasks returns snapshots of every task ordered by creation time.
func (c *Coordinator) Tasks() []core.Task {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]core.Task, 0, len(c.tasks))
	for _, e := range c.tasks {
		out = append(out, e.task.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Done returns a channel closed when the task reaches a terminal state, or
// nil for unknown tasks.
func (c *Coordinator) Done(taskID string) <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.tasks[taskID]
	if !ok {
		return nil
	}
	return e.done
}

// Broadcast builds a broadcast message from the coordinator.
func (c *Coordinator) Broadcast(payload core.Payload) core.Message {
	return core.NewMessage(c.ID(), core.Broadcast, core.MessageBroadcast, payload, core.Metadata{})
}

func (c *Coordinator) completeLocked(e *taskEntry, forced bool) []core.Message {
	t := &e.task
	status := core.TaskFailed
	var firstErr string
	for _, target := range t.Targets {
		r, ok := t.Results[target]
		if !ok {
			continue
		}
		if r.Success {
			status = core.TaskCompleted
			break
		}
		if firstErr == "" {
			firstErr = r.Error
		}
	}
	if status == core.TaskFailed {
		if firstErr == "" {
			firstErr = "every target failed"
		}
		t.Error = firstErr
	}
	t.Forced = forced
	c.transitionLocked(e, status, forced)
	return c.finishLocked(e)
}

// finishLocked closes the completion future and builds the requester
// notification.
func (c *Coordinator) finishLocked(e *taskEntry) []core.Message {
	close(e.done)
	t := e.task
	if t.RequesterID == "" {
		return nil
	}
	completion := core.Completion{TaskID: t.ID, Status: t.Status, Results: t.Clone().Results, Forced: t.Forced}
	return []core.Message{core.NewMessage(c.ID(), t.RequesterID, core.MessageTaskCompleted, completion,
		core.Metadata{TaskID: t.ID, TaskType: t.Type})}
}

func (c *Coordinator) transitionLocked(e *taskEntry, to core.TaskStatus, forced bool) {
	from := e.task.Status
	if !from.CanTransition(to) {
		c.logger.Error("Illegal task transition", "task_id", e.task.ID, "from", string(from), "to", string(to))
		return
	}
	e.task.Status = to
	e.task.UpdatedAt = c.now()
	logging.TaskTransition(c.logger, e.task.ID, string(from), string(to), forced)
}

// intercept handles the coordinator specific messages before the shared
// agent handling sees them.
func (c *Coordinator) intercept(_ context.Context, msg core.Message) ([]core.Message, bool) {
	switch msg.Type {
	case core.MessageTaskResult:
		r, ok := msg.Payload.(core.Result)
		if !ok {
			return []core.Message{agent.ErrorReply(c.ID(), msg, core.CodeInvalidPayload,
				fmt.Sprintf("task_result carries %T", msg.Payload))}, true
		}
		out, err := c.AddTaskResult(msg.Metadata.TaskID, msg.SenderID, r)
		if err != nil {
			c.logger.Warn("Task result rejected", "task_id", msg.Metadata.TaskID, "agent_id", msg.SenderID, "error", err.Error())
		}
		return out, true
	case core.MessageError:
		e, _ := msg.Payload.(core.ErrorPayload)
		if msg.Metadata.TaskID == "" {
			return nil, false
		}
		t, ok := c.Task(msg.Metadata.TaskID)
		if !ok || !t.HasTarget(msg.SenderID) {
			return nil, false
		}
		c.logger.Warn("Error response recorded as failed result", "task_id", t.ID, "agent_id", msg.SenderID, "code", e.Code)
		out, err := c.AddTaskResult(t.ID, msg.SenderID, core.Failf("%s: %s", e.Code, e.Message))
		if err != nil {
			c.logger.Warn("Error response rejected", "task_id", t.ID, "agent_id", msg.SenderID, "error", err.Error())
		}
		return out, true
	case core.MessageRegister:
		reg, ok := msg.Payload.(core.Registration)
		if !ok {
			return []core.Message{agent.ErrorReply(c.ID(), msg, core.CodeInvalidPayload,
				fmt.Sprintf("register carries %T", msg.Payload))}, true
		}
		if err := c.RegisterAgent(msg.SenderID, reg.Role, reg.Name, reg.Description); err != nil {
			return []core.Message{agent.ErrorReply(c.ID(), msg, core.CodeRegistration, err.Error())}, true
		}
		return nil, true
	case core.MessageHeartbeat:
		if err := c.Heartbeat(msg.SenderID); err != nil {
			c.logger.Warn("Heartbeat from unknown agent", "agent_id", msg.SenderID)
		}
		return nil, true
	default:
		return nil, false
	}
}

var _ core.Agent = (*Coordinator)(nil)
