package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/agentcrew/agent"
	"github.com/hupe1980/agentcrew/coordinator"
	"github.com/hupe1980/agentcrew/core"
	"github.com/hupe1980/agentcrew/engine"
	"github.com/hupe1980/agentcrew/logging"
)

// NoteDependencyFailed is the result recorded on plan tasks skipped because
// a dependency failed.
const NoteDependencyFailed = "dependency failed"

// Orchestrator is what the executor needs from the engine.
type Orchestrator interface {
	Run(ctx context.Context, req core.TaskRequest, wo engine.WaitOptions) core.Outcome
	AgentsByRole(role core.Role) []string
	CoordinatorID() string
}

// Options configures an Executor.
type Options struct {
	// MaxTasks bounds generated plans. Defaults to agent.DefaultMaxPlanTasks.
	MaxTasks int
	// Wait applies to every task the executor dispatches.
	Wait   engine.WaitOptions
	Logger logging.Logger
	Now    func() time.Time
}

// Report is the structured result of a plan run.
type Report struct {
	PlanID    string          `json:"plan_id" yaml:"plan_id"`
	Goal      string          `json:"goal" yaml:"goal"`
	Success   bool            `json:"success" yaml:"success"`
	Completed int             `json:"completed_count" yaml:"completed_count"`
	Failed    int             `json:"failed_count" yaml:"failed_count"`
	Summary   string          `json:"summary" yaml:"summary"`
	Tasks     []core.PlanTask `json:"tasks" yaml:"tasks"`
	Duration  time.Duration   `json:"duration" yaml:"duration"`
	Error     string          `json:"error,omitempty" yaml:"error,omitempty"`
}

// YAML renders the report as YAML.
func (r Report) YAML() ([]byte, error) {
	return yaml.Marshal(r)
}

// Executor turns goals into stored plans and walks them in order. Dependency
// failures are propagated without dispatch and every failed task gets
// exactly one repair attempt.
type Executor struct {
	orch   Orchestrator
	store  core.PlanStore
	opts   Options
	logger logging.Logger
}

// New creates an Executor persisting plans in store.
func New(orch Orchestrator, store core.PlanStore, optFns ...func(o *Options)) *Executor {
	opts := Options{MaxTasks: agent.DefaultMaxPlanTasks, Now: time.Now}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxTasks <= 0 {
		opts.MaxTasks = agent.DefaultMaxPlanTasks
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Executor{
		orch:   orch,
		store:  store,
		opts:   opts,
		logger: logging.OrNoOp(opts.Logger),
	}
}

// GeneratePlan asks the coordinator for a plan and persists it. Dependency
// indices that do not point at an earlier step are dropped.
func (e *Executor) GeneratePlan(ctx context.Context, goal string) (core.Plan, error) {
	if strings.TrimSpace(goal) == "" {
		return core.Plan{}, core.NewValidationError("goal", goal, "must not be empty")
	}
	defer logging.Timer(e.logger, "generate_plan")()

	o := e.orch.Run(ctx, core.TaskRequest{
		Kind:    core.GeneratePlan{Goal: goal, MaxTasks: e.opts.MaxTasks},
		Targets: []string{e.orch.CoordinatorID()},
	}, e.opts.Wait)

	res, ok := planResult(o)
	if !ok {
		return core.Plan{}, fmt.Errorf("generate plan: %w", outcomeErr(o))
	}
	if o.Partial {
		e.logger.Warn("Using partial plan result", "goal", goal, "task_id", o.TaskID)
	}
	var steps []agent.PlanStep
	if err := res.Decode("tasks", &steps); err != nil {
		return core.Plan{}, fmt.Errorf("generate plan: %w", err)
	}
	if len(steps) == 0 {
		return core.Plan{}, fmt.Errorf("generate plan: no tasks for goal %q", goal)
	}
	if len(steps) > e.opts.MaxTasks {
		steps = steps[:e.opts.MaxTasks]
	}
	return e.persist(ctx, goal, steps)
}

func (e *Executor) persist(ctx context.Context, goal string, steps []agent.PlanStep) (core.Plan, error) {
	plan, err := e.store.CreatePlan(ctx, goal)
	if err != nil {
		return core.Plan{}, fmt.Errorf("create plan: %w", err)
	}
	ids := make([]string, 0, len(steps))
	for i, step := range steps {
		deps := make([]string, 0, len(step.Dependencies))
		seen := make(map[int]struct{}, len(step.Dependencies))
		for _, d := range step.Dependencies {
			if d < 0 || d >= i {
				e.logger.Warn("Dropping invalid plan dependency", "plan_id", plan.ID, "step", i, "dependency", d)
				continue
			}
			if _, dup := seen[d]; dup {
				continue
			}
			seen[d] = struct{}{}
			deps = append(deps, ids[d])
		}
		id, err := e.store.AddTask(ctx, plan.ID, step.Description, deps)
		if err != nil {
			return core.Plan{}, fmt.Errorf("add plan task %d: %w", i, err)
		}
		ids = append(ids, id)
	}
	e.logger.Info("Plan generated", "plan_id", plan.ID, "goal", goal, "tasks", len(ids))
	return e.store.GetPlan(ctx, plan.ID)
}

// ExecutePlan runs every pending task of the plan in stored order and ends
// with a summary. Tasks already terminal from an earlier run are counted but
// not run again.
func (e *Executor) ExecutePlan(ctx context.Context, planID string) (Report, error) {
	start := e.opts.Now()
	plan, err := e.store.GetPlan(ctx, planID)
	if err != nil {
		return Report{PlanID: planID, Error: err.Error()}, err
	}
	e.logger.Info("Executing plan", "plan_id", plan.ID, "goal", plan.Goal, "tasks", len(plan.Tasks))

	statuses := make(map[string]core.PlanTaskStatus, len(plan.Tasks))
	var runErr error
	for _, pt := range plan.Tasks {
		if pt.Status.IsTerminal() {
			statuses[pt.ID] = pt.Status
			continue
		}
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		if dep := failedDependency(pt, statuses); dep != "" {
			df := &core.DependencyFailure{TaskID: pt.ID, DependencyID: dep}
			e.logger.Warn("Skipping plan task", "plan_id", plan.ID, "task_id", pt.ID, "error", df.Error())
			if err := e.store.UpdateTask(ctx, pt.ID, core.PlanTaskFailed, NoteDependencyFailed); err != nil {
				runErr = err
				break
			}
			statuses[pt.ID] = core.PlanTaskFailed
			continue
		}
		status, err := e.runTask(ctx, plan, pt)
		if err != nil {
			runErr = err
			break
		}
		statuses[pt.ID] = status
	}

	report := e.report(ctx, plan.ID, plan.Goal, start)
	if runErr != nil {
		report.Success = false
		report.Error = runErr.Error()
	}
	logging.PlanExecution(e.logger, plan.ID, report.Completed, report.Failed, report.Duration, runErr)
	return report, runErr
}

// Execute generates a plan for goal and executes it.
func (e *Executor) Execute(ctx context.Context, goal string) (Report, error) {
	plan, err := e.GeneratePlan(ctx, goal)
	if err != nil {
		return Report{Goal: goal, Error: err.Error()}, err
	}
	return e.ExecutePlan(ctx, plan.ID)
}

// runTask analyzes, dispatches and, on failure, repairs one plan task. The
// returned error is only set for store failures.
func (e *Executor) runTask(ctx context.Context, plan core.Plan, pt core.PlanTask) (core.PlanTaskStatus, error) {
	if err := e.store.UpdateTask(ctx, pt.ID, core.PlanTaskRunning, ""); err != nil {
		return "", err
	}

	analysis := e.analyze(ctx, pt)
	target := e.selectAgent(analysis)
	e.logger.Info("Dispatching plan task", "plan_id", plan.ID, "task_id", pt.ID, "category", analysis.TaskType, "agent_id", target)

	o := e.orch.Run(ctx, core.TaskRequest{
		Kind: core.ExecuteTask{
			PlanID:        plan.ID,
			PlanTaskID:    pt.ID,
			Description:   pt.Description,
			Category:      analysis.TaskType,
			RequiredTools: analysis.RequiredTools,
		},
		Targets: []string{target},
	}, e.opts.Wait)

	code := o.Result.String("code")
	if code != "" {
		if err := e.store.SetTaskCode(ctx, pt.ID, code); err != nil {
			return "", err
		}
	}
	if o.Success {
		if err := e.store.UpdateTask(ctx, pt.ID, core.PlanTaskCompleted, ResultText(o.Result)); err != nil {
			return "", err
		}
		return core.PlanTaskCompleted, nil
	}

	reason := failureReason(o)
	e.logger.Warn("Plan task failed", "plan_id", plan.ID, "task_id", pt.ID, "error", reason)
	if err := e.store.UpdateTask(ctx, pt.ID, core.PlanTaskFailed, reason); err != nil {
		return "", err
	}
	return e.repair(ctx, plan, pt, reason, code)
}

// repair runs the single repair cycle: fixed code from the reasoning
// capability, executed by the tool executor.
func (e *Executor) repair(ctx context.Context, plan core.Plan, pt core.PlanTask, reason, code string) (core.PlanTaskStatus, error) {
	log := logging.ForTask(e.logger, pt.ID)
	if err := e.store.UpdateTask(ctx, pt.ID, core.PlanTaskRunning, "repair attempt"); err != nil {
		return "", err
	}
	fail := func(note string) (core.PlanTaskStatus, error) {
		log.Warn("Plan task repair failed", "plan_id", plan.ID, "error", note)
		if err := e.store.UpdateTask(ctx, pt.ID, core.PlanTaskFailed, note); err != nil {
			return "", err
		}
		return core.PlanTaskFailed, nil
	}

	fix := e.orch.Run(ctx, core.TaskRequest{
		Kind:    core.RepairTask{PlanTaskID: pt.ID, Description: pt.Description, Error: reason, Code: code},
		Targets: e.roleTargets(core.RoleReasoning),
	}, e.opts.Wait)
	fixed := fix.Result.String("fixed_code")
	if !fix.Success || strings.TrimSpace(fixed) == "" {
		return fail("repair failed: " + failureReason(fix))
	}
	if err := e.store.SetTaskCode(ctx, pt.ID, fixed); err != nil {
		return "", err
	}

	run := e.orch.Run(ctx, core.TaskRequest{
		Kind:    core.ExecuteCode{PlanTaskID: pt.ID, Code: fixed},
		Targets: e.roleTargets(core.RoleToolExecutor),
	}, e.opts.Wait)
	if !run.Success {
		return fail("repaired code failed: " + failureReason(run))
	}
	if err := e.store.UpdateTask(ctx, pt.ID, core.PlanTaskCompleted, "repaired: "+ResultText(run.Result)); err != nil {
		return "", err
	}
	log.Info("Plan task repaired", "plan_id", plan.ID)
	return core.PlanTaskCompleted, nil
}

// analyze classifies the task, falling back to keywords when the analysis
// task does not succeed.
func (e *Executor) analyze(ctx context.Context, pt core.PlanTask) agent.Analysis {
	o := e.orch.Run(ctx, core.TaskRequest{
		Kind:    core.AnalyzeTask{Description: pt.Description},
		Targets: e.roleTargets(core.RoleReasoning),
	}, e.opts.Wait)
	if o.Success {
		var a agent.Analysis
		if raw, err := json.Marshal(o.Result.Data); err == nil && json.Unmarshal(raw, &a) == nil && a.TaskType != "" {
			return a
		}
	}
	e.logger.Debug("Task analysis unavailable, classifying by keyword", "task_id", pt.ID, "error", o.Error)
	return agent.Classify(pt.Description)
}

// selectAgent picks the first active agent of the role suited to the
// analysis, or the coordinator.
func (e *Executor) selectAgent(a agent.Analysis) string {
	return e.roleTargets(agent.RoleFor(a))[0]
}

// roleTargets returns a single target for role so that repair and analysis
// results come from one agent.
func (e *Executor) roleTargets(role core.Role) []string {
	if role != core.RoleCoordinator {
		if ids := e.orch.AgentsByRole(role); len(ids) > 0 {
			return ids[:1]
		}
	}
	return []string{e.orch.CoordinatorID()}
}

func (e *Executor) report(ctx context.Context, planID, goal string, start time.Time) Report {
	r := Report{PlanID: planID, Goal: goal}
	tasks, err := e.store.GetTasksByPlan(ctx, planID)
	if err != nil {
		r.Error = err.Error()
	}
	r.Tasks = tasks

	digests := make([]core.TaskDigest, 0, len(tasks))
	for _, t := range tasks {
		switch t.Status {
		case core.PlanTaskCompleted:
			r.Completed++
		case core.PlanTaskFailed:
			r.Failed++
		}
		digests = append(digests, core.TaskDigest{ID: t.ID, Description: t.Description, Status: string(t.Status), Result: t.Result})
	}
	r.Success = r.Failed == 0 && r.Completed == len(tasks)

	k := core.GenerateSummary{PlanID: planID, Goal: goal, CompletedTasks: r.Completed, FailedTasks: r.Failed, TaskResults: digests}
	o := e.orch.Run(ctx, core.TaskRequest{Kind: k, Targets: []string{e.orch.CoordinatorID()}}, e.opts.Wait)
	r.Summary = o.Result.String("summary")
	if !o.Success || r.Summary == "" {
		e.logger.Warn("Summary unavailable, using fallback", "plan_id", planID, "error", o.Error)
		r.Summary = coordinator.FallbackSummary(k)
	}
	r.Duration = e.opts.Now().Sub(start)
	return r
}

func failedDependency(pt core.PlanTask, statuses map[string]core.PlanTaskStatus) string {
	for _, dep := range pt.Dependencies {
		if statuses[dep] == core.PlanTaskFailed {
			return dep
		}
	}
	return ""
}

// planResult returns the result carrying a plan, accepting a partial
// outcome when one of its results has tasks.
func planResult(o core.Outcome) (core.Result, bool) {
	if o.Success {
		return o.Result, true
	}
	if !o.Partial {
		return core.Result{}, false
	}
	for _, r := range o.Results {
		if _, ok := r.Data["tasks"]; r.Success && ok {
			return r, true
		}
	}
	return core.Result{}, false
}

func outcomeErr(o core.Outcome) error {
	if o.Err != nil {
		return o.Err
	}
	if o.Error != "" {
		return errors.New(o.Error)
	}
	return fmt.Errorf("task %s ended %s", o.TaskID, o.Status)
}

func failureReason(o core.Outcome) string {
	if o.Error != "" {
		return o.Error
	}
	if o.Result.Error != "" {
		return o.Result.Error
	}
	return fmt.Sprintf("task %s ended %s", o.TaskID, o.Status)
}

// ResultText picks the human readable part of a result.
func ResultText(r core.Result) string {
	for _, key := range []string{"result", "output", "conclusion", "answer", "summary", "analysis"} {
		if s := r.String(key); s != "" {
			return s
		}
	}
	if len(r.Data) == 0 {
		return ""
	}
	b, err := json.Marshal(r.Data)
	if err != nil {
		return fmt.Sprint(r.Data)
	}
	return string(b)
}
