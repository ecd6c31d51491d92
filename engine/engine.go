package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/agentcrew/agent"
	"github.com/hupe1980/agentcrew/bus"
	"github.com/hupe1980/agentcrew/coordinator"
	"github.com/hupe1980/agentcrew/core"
	"github.com/hupe1980/agentcrew/logging"
	"github.com/hupe1980/agentcrew/model"
)

// ErrRunning is returned by Start when the workers already run.
var ErrRunning = errors.New("engine already running")

// Config defines the orchestration policies of a System.
//
// Configuration values:
//   - MaxIterations: 0, waits are bounded by Timeout only
//   - Timeout: 30s per wait
//   - StaleAfter: 10s without progress before a partial task may be forced
//   - ForceComplete: true
//   - PollInterval: 10ms between idle iterations
//   - FallbackToCoordinator: true
//   - HeartbeatInterval: 15s between worker heartbeats and status checks
type Config struct {
	// MaxIterations bounds a wait. Zero or less means only Timeout applies.
	MaxIterations int

	// Timeout bounds a wait in wall clock time.
	Timeout time.Duration

	// StaleAfter is how long a Processing task with partial results may go
	// without progress before it is force-completed.
	StaleAfter time.Duration

	// ForceComplete enables the force-complete policy. Tasks without any
	// result are never force-completed regardless of this flag.
	ForceComplete bool

	// PollInterval is the pause between iterations that made no progress.
	PollInterval time.Duration

	// FallbackToCoordinator replaces unknown target ids with the
	// coordinator. When false unknown targets are a ValidationError.
	FallbackToCoordinator bool

	// HeartbeatInterval paces worker heartbeats and the coordinator's
	// liveness check in worker mode. Zero disables both.
	HeartbeatInterval time.Duration
}

// DefaultConfig provides the default orchestration policies.
var DefaultConfig = Config{
	MaxIterations:         0,
	Timeout:               30 * time.Second,
	StaleAfter:            10 * time.Second,
	ForceComplete:         true,
	PollInterval:          10 * time.Millisecond,
	FallbackToCoordinator: true,
	HeartbeatInterval:     15 * time.Second,
}

// Options configures a System using the functional options pattern.
type Options struct {
	// Config contains the orchestration policies.
	// Defaults to DefaultConfig if not specified.
	Config Config

	// Bus routes messages. Defaults to a fresh bus.
	Bus *bus.Bus

	// Callbacks observes the lifecycle. Optional.
	Callbacks *CallbackManager

	// Logger provides structured logging.
	// Defaults to NoOp logger if nil.
	Logger logging.Logger

	// Now is the clock used for staleness. Defaults to time.Now.
	Now func() time.Time
}

// WaitOptions override Config for a single wait. Zero fields use Config; a
// negative MaxIterations removes the iteration bound.
type WaitOptions struct {
	MaxIterations int
	Timeout       time.Duration
	StaleAfter    time.Duration
}

// System owns the agent set, the coordinator and the bus, and drives
// delivery either by explicit ticks or by one worker goroutine per agent.
//
// Concurrency Model:
//   - The coordinator's task table is the only shared task state; it is
//     mutated exclusively through coordinator methods
//   - Each agent inbox is FIFO; there is no ordering across agents
//   - Waiting blocks the caller only, never the workers
type System struct {
	coord     *coordinator.Coordinator
	bus       *bus.Bus
	cfg       Config
	callbacks *CallbackManager
	logger    logging.Logger
	now       func() time.Time

	mu     sync.RWMutex
	agents map[string]core.Agent

	runMu   sync.Mutex
	running bool
	runCtx  context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group
	workers map[string]context.CancelFunc
}

// New creates a System around coord. The coordinator is attached to the bus
// immediately.
//
// Examples:
//
//	// Tick mode with defaults
//	sys := New(coord)
//
//	// Aggressive force-complete for tests
//	sys := New(coord, func(o *Options) {
//	    o.Config.StaleAfter = 50 * time.Millisecond
//	    o.Logger = logger
//	})
func New(coord *coordinator.Coordinator, optFns ...func(o *Options)) *System {
	opts := Options{
		Config: DefaultConfig,
		Logger: logging.NoOpLogger{},
		Now:    time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Bus == nil {
		opts.Bus = bus.New(func(o *bus.Options) { o.Logger = opts.Logger })
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Config.PollInterval <= 0 {
		opts.Config.PollInterval = DefaultConfig.PollInterval
	}
	if opts.Config.Timeout <= 0 {
		opts.Config.Timeout = DefaultConfig.Timeout
	}

	s := &System{
		coord:     coord,
		bus:       opts.Bus,
		cfg:       opts.Config,
		callbacks: opts.Callbacks,
		logger:    logging.OrNoOp(opts.Logger),
		now:       opts.Now,
		agents:    map[string]core.Agent{coord.ID(): coord},
		workers:   make(map[string]context.CancelFunc),
	}
	s.bus.Attach(coord)
	return s
}

// Coordinator returns the system's coordinator.
func (s *System) Coordinator() *coordinator.Coordinator { return s.coord }

// CoordinatorID returns the coordinator's agent id.
func (s *System) CoordinatorID() string { return s.coord.ID() }

// AgentsByRole returns the active agents with role, sorted.
func (s *System) AgentsByRole(role core.Role) []string { return s.coord.AgentsByRole(role) }

// Bus returns the system's bus.
func (s *System) Bus() *bus.Bus { return s.bus }

// Config returns the orchestration policies.
func (s *System) Config() Config { return s.cfg }

// AddAgent registers a with the coordinator and attaches its inbox. In
// worker mode a worker starts for it right away.
func (s *System) AddAgent(a core.Agent) error {
	if err := s.coord.RegisterAgent(a.ID(), a.Role(), a.Name(), a.Description()); err != nil {
		return err
	}
	s.mu.Lock()
	s.agents[a.ID()] = a
	s.mu.Unlock()
	s.bus.Attach(a)

	s.runMu.Lock()
	if s.running {
		s.startWorkerLocked(a)
	}
	s.runMu.Unlock()
	return nil
}

// AddDomainExpert creates and adds an expert for domain.
func (s *System) AddDomainExpert(domain string, llm model.LLM, optFns ...func(o *agent.Options)) (*agent.DomainExpert, error) {
	if domain == "" {
		return nil, core.NewValidationError("domain", domain, "must not be empty")
	}
	expert := agent.NewDomainExpert(domain, llm, append([]func(o *agent.Options){func(o *agent.Options) {
		o.Logger = s.logger
	}}, optFns...)...)
	if err := s.AddAgent(expert); err != nil {
		return nil, err
	}
	return expert, nil
}

// RemoveAgent detaches and unregisters an agent. The coordinator cannot be
// removed.
func (s *System) RemoveAgent(id string) error {
	if id == s.coord.ID() {
		return core.NewValidationError("id", id, "the coordinator cannot be removed")
	}
	if err := s.coord.UnregisterAgent(id); err != nil {
		return err
	}
	s.bus.Detach(id)
	s.mu.Lock()
	delete(s.agents, id)
	s.mu.Unlock()

	s.runMu.Lock()
	if cancel, ok := s.workers[id]; ok {
		cancel()
		delete(s.workers, id)
	}
	s.runMu.Unlock()
	return nil
}

// Agent returns the agent with id.
func (s *System) Agent(id string) (core.Agent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	return a, ok
}

// AgentIDs returns every agent id, coordinator included, sorted.
func (s *System) AgentIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.agents))
	for id := range s.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CreateTask validates the requested targets, lets the coordinator create
// the task and delivers its messages. An unknown target is replaced by the
// coordinator when FallbackToCoordinator is set. A task whose dispatch
// fails is marked Failed and the routing error returned along with its id.
func (s *System) CreateTask(ctx context.Context, req core.TaskRequest) (string, error) {
	if len(req.Targets) > 0 {
		targets := make([]string, 0, len(req.Targets))
		for _, id := range req.Targets {
			if _, ok := s.Agent(id); ok {
				targets = append(targets, id)
				continue
			}
			if !s.cfg.FallbackToCoordinator {
				return "", core.NewValidationError("targets", id, "unknown agent %q", id)
			}
			s.logger.Warn("Unknown target replaced by coordinator", "target", id, "coordinator_id", s.coord.ID())
			s.fire(ctx, CallbackTargetFallback, &CallbackContext{AgentID: id})
			targets = append(targets, s.coord.ID())
		}
		req.Targets = targets
	}

	taskID, msgs, err := s.coord.CreateTask(ctx, req)
	if err != nil {
		return "", err
	}
	s.fire(ctx, CallbackTaskCreated, &CallbackContext{TaskID: taskID, AgentID: req.RequesterID})

	task, _ := s.coord.Task(taskID)
	if task.Status.IsTerminal() {
		s.route(ctx, msgs)
		return taskID, nil
	}

	for _, m := range msgs {
		m := m
		if err := s.bus.Deliver(m); err != nil {
			s.fire(ctx, CallbackRoutingFailed, &CallbackContext{TaskID: taskID, AgentID: m.ReceiverID, Message: &m, Err: err})
			out, failErr := s.coord.FailTask(taskID, err)
			if failErr != nil {
				s.logger.Warn("Failing undeliverable task", "task_id", taskID, "error", failErr.Error())
			}
			s.route(ctx, out)
			return taskID, fmt.Errorf("dispatch task %s: %w", taskID, err)
		}
		s.fire(ctx, CallbackMessageRouted, &CallbackContext{TaskID: taskID, AgentID: m.ReceiverID, Message: &m})
	}
	if err := s.coord.MarkDispatched(taskID); err != nil {
		return taskID, err
	}
	return taskID, nil
}

// Send routes a message through the bus.
func (s *System) Send(msg core.Message) error {
	return s.deliver(context.Background(), msg)
}

// Broadcast sends payload from sender to every other agent.
func (s *System) Broadcast(sender string, payload core.Payload) error {
	return s.Send(core.NewMessage(sender, core.Broadcast, core.MessageBroadcast, payload, core.Metadata{}))
}

// Tick drains every agent once and forwards what they produced. Agents
// drain in id order with the coordinator last, so results produced in a
// tick are recorded in the same tick. It returns the number of messages
// routed and the joined routing errors.
func (s *System) Tick(ctx context.Context) (int, error) {
	routed := 0
	var errs []error
	ids := s.AgentIDs()
	order := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != s.coord.ID() {
			order = append(order, id)
		}
	}
	order = append(order, s.coord.ID())

	for _, id := range order {
		if ctx.Err() != nil {
			break
		}
		a, ok := s.Agent(id)
		if !ok {
			continue
		}
		for _, m := range a.Drain(ctx) {
			if err := s.deliver(ctx, m); err != nil {
				errs = append(errs, err)
				continue
			}
			routed++
		}
	}
	return routed, errors.Join(errs...)
}

// Start runs one worker goroutine per agent until ctx is done or Stop is
// called. Workers wake on their agent's notify signal.
func (s *System) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return ErrRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	s.running = true
	s.runCtx = gctx
	s.cancel = cancel
	s.group = g

	s.mu.RLock()
	agents := make([]core.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		agents = append(agents, a)
	}
	s.mu.RUnlock()
	for _, a := range agents {
		s.startWorkerLocked(a)
	}
	if s.cfg.HeartbeatInterval > 0 {
		g.Go(func() error { return s.monitor(gctx) })
	}
	s.logger.Info("Workers started", "agents", len(agents))
	return nil
}

// Stop cancels the workers and waits for them to return.
func (s *System) Stop() error {
	s.runMu.Lock()
	if !s.running {
		s.runMu.Unlock()
		return nil
	}
	s.cancel()
	g := s.group
	s.running = false
	s.workers = make(map[string]context.CancelFunc)
	s.runMu.Unlock()

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	s.logger.Info("Workers stopped")
	return err
}

// Running reports whether worker mode is active.
func (s *System) Running() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.running
}

func (s *System) startWorkerLocked(a core.Agent) {
	wctx, cancel := context.WithCancel(s.runCtx)
	s.workers[a.ID()] = cancel
	s.group.Go(func() error {
		s.work(wctx, a)
		return nil
	})
}

// work drains a whenever it is notified. Messages queued before the worker
// started are picked up by the first drain.
func (s *System) work(ctx context.Context, a core.Agent) {
	var heartbeat <-chan time.Time
	if s.cfg.HeartbeatInterval > 0 && a.ID() != s.coord.ID() {
		t := time.NewTicker(s.cfg.HeartbeatInterval)
		defer t.Stop()
		heartbeat = t.C
	}
	s.drainAndRoute(ctx, a)
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.Notify():
			s.drainAndRoute(ctx, a)
		case <-heartbeat:
			hb := core.NewMessage(a.ID(), s.coord.ID(), core.MessageHeartbeat, core.Heartbeat{}, core.Metadata{})
			if err := s.deliver(ctx, hb); err != nil {
				s.logger.Warn("Heartbeat not delivered", "agent_id", a.ID(), "error", err.Error())
			}
		}
	}
}

func (s *System) drainAndRoute(ctx context.Context, a core.Agent) {
	for _, m := range a.Drain(ctx) {
		if err := s.deliver(ctx, m); err != nil {
			s.logger.Warn("Message not routed", "agent_id", a.ID(), "message_id", m.ID, "error", err.Error())
		}
	}
}

// monitor runs the coordinator's liveness check in worker mode.
func (s *System) monitor(ctx context.Context) error {
	t := time.NewTicker(s.cfg.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if inactive := s.coord.CheckAgentStatus(s.now()); len(inactive) > 0 {
				s.logger.Warn("Agents inactive", "agent_ids", inactive)
			}
		}
	}
}

// deliver routes m. A task message that cannot be routed is recorded as a
// failed result of its target so the task still terminates.
func (s *System) deliver(ctx context.Context, m core.Message) error {
	err := s.bus.Deliver(m)
	if err == nil {
		s.fire(ctx, CallbackMessageRouted, &CallbackContext{TaskID: m.Metadata.TaskID, AgentID: m.ReceiverID, Message: &m})
		return nil
	}
	s.fire(ctx, CallbackRoutingFailed, &CallbackContext{TaskID: m.Metadata.TaskID, AgentID: m.ReceiverID, Message: &m, Err: err})

	if m.Type == core.MessageTask && m.SenderID == s.coord.ID() && m.Metadata.TaskID != "" {
		out, addErr := s.coord.AddTaskResult(m.Metadata.TaskID, m.ReceiverID, core.Fail(err))
		if addErr != nil {
			s.logger.Warn("Recording undeliverable task failed", "task_id", m.Metadata.TaskID, "error", addErr.Error())
		}
		s.route(ctx, out)
	}
	return err
}

// route delivers messages whose loss does not affect any task, logging
// failures.
func (s *System) route(ctx context.Context, msgs []core.Message) {
	for _, m := range msgs {
		if err := s.deliver(ctx, m); err != nil {
			s.logger.Warn("Notification not routed", "message_id", m.ID, "receiver_id", m.ReceiverID, "error", err.Error())
		}
	}
}

func (s *System) fire(ctx context.Context, t CallbackType, cc *CallbackContext) {
	if s.callbacks == nil {
		return
	}
	if err := s.callbacks.ExecuteCallbacks(ctx, t, cc); err != nil {
		s.logger.Warn("Callback failed", "callback", string(t), "task_id", cc.TaskID, "error", err.Error())
	}
}
