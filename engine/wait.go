package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/agentcrew/core"
)

// WaitForCompletion blocks the caller until the task is terminal, has been
// force-completed, or the wait ran out of iterations or time. It always
// returns an Outcome.
//
// In tick mode every iteration runs Tick; in worker mode the wait sleeps on
// the task's completion future and only wakes up to apply the
// force-complete policy. A task that is Processing, has at least one
// result and made no progress for StaleAfter is force-completed when
// Config.ForceComplete is set. A task without any result is never forced:
// it runs into the timeout, is marked abandoned and the Outcome is flagged
// Partial with a *core.OrchestrationTimeout.
func (s *System) WaitForCompletion(ctx context.Context, taskID string, wo WaitOptions) core.Outcome {
	wo = s.waitOptions(wo)

	if _, ok := s.coord.Task(taskID); !ok {
		err := fmt.Errorf("wait for %s: %w", taskID, core.ErrTaskNotFound)
		return core.Outcome{TaskID: taskID, Error: err.Error(), Err: err}
	}
	done := s.coord.Done(taskID)

	waitCtx, cancel := context.WithTimeout(ctx, wo.Timeout)
	defer cancel()

	start := s.now()
	iterations := 0
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for wo.MaxIterations <= 0 || iterations < wo.MaxIterations {
		iterations++
		progressed := false
		if !s.Running() {
			routed, err := s.Tick(waitCtx)
			if err != nil {
				s.logger.Warn("Tick routing errors", "task_id", taskID, "error", err.Error())
			}
			progressed = routed > 0
		}

		task, _ := s.coord.Task(taskID)
		if task.Status.IsTerminal() {
			return core.OutcomeOf(task)
		}
		if o, ok := s.maybeForce(waitCtx, task, wo); ok {
			return o
		}
		if progressed {
			continue
		}

		timer.Reset(s.nextWake(task, wo))
		select {
		case <-done:
		case <-timer.C:
		case <-waitCtx.Done():
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			return s.abandon(ctx, taskID, start, iterations, waitCtx)
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}

	if task, _ := s.coord.Task(taskID); task.Status.IsTerminal() {
		return core.OutcomeOf(task)
	}
	return s.abandon(ctx, taskID, start, iterations, waitCtx)
}

// Run creates a task and waits for it.
func (s *System) Run(ctx context.Context, req core.TaskRequest, wo WaitOptions) core.Outcome {
	taskID, err := s.CreateTask(ctx, req)
	if err != nil {
		if task, ok := s.coord.Task(taskID); ok {
			return core.OutcomeOf(task)
		}
		return core.Outcome{TaskID: taskID, Error: err.Error(), Err: err}
	}
	return s.WaitForCompletion(ctx, taskID, wo)
}

func (s *System) waitOptions(wo WaitOptions) WaitOptions {
	if wo.MaxIterations == 0 {
		wo.MaxIterations = s.cfg.MaxIterations
	}
	if wo.Timeout <= 0 {
		wo.Timeout = s.cfg.Timeout
	}
	if wo.StaleAfter <= 0 {
		wo.StaleAfter = s.cfg.StaleAfter
	}
	return wo
}

// nextWake is the poll interval in tick mode. In worker mode the future
// wakes the wait, so it only needs to come back when the task may turn
// stale.
func (s *System) nextWake(task core.Task, wo WaitOptions) time.Duration {
	if !s.Running() {
		return s.cfg.PollInterval
	}
	if !s.cfg.ForceComplete {
		return wo.Timeout
	}
	// Partial results do not close the future; recheck for staleness.
	if len(task.Results) == 0 {
		return wo.StaleAfter
	}
	d := wo.StaleAfter - s.now().Sub(task.UpdatedAt)
	if d < s.cfg.PollInterval {
		d = s.cfg.PollInterval
	}
	return d
}

func (s *System) maybeForce(ctx context.Context, task core.Task, wo WaitOptions) (core.Outcome, bool) {
	if !s.cfg.ForceComplete || task.Status != core.TaskProcessing || len(task.Results) == 0 {
		return core.Outcome{}, false
	}
	idle := s.now().Sub(task.UpdatedAt)
	if idle < wo.StaleAfter {
		return core.Outcome{}, false
	}
	out, err := s.coord.ForceComplete(task.ID, fmt.Sprintf("no progress for %s", idle.Round(time.Millisecond)))
	if err != nil {
		// A result raced in and completed the task.
		s.logger.Debug("Force-complete skipped", "task_id", task.ID, "error", err.Error())
		if t, _ := s.coord.Task(task.ID); t.Status.IsTerminal() {
			return core.OutcomeOf(t), true
		}
		return core.Outcome{}, false
	}
	s.route(ctx, out)
	forced, _ := s.coord.Task(task.ID)
	s.fire(ctx, CallbackTaskForced, &CallbackContext{TaskID: task.ID, Metadata: map[string]any{"missing": task.Missing()}})
	return core.OutcomeOf(forced), true
}

// abandon marks the task abandoned and returns the partial outcome.
func (s *System) abandon(ctx context.Context, taskID string, start time.Time, iterations int, waitCtx context.Context) core.Outcome {
	timeout := &core.OrchestrationTimeout{
		TaskID:     taskID,
		Elapsed:    s.now().Sub(start),
		Iterations: iterations,
	}
	switch {
	case ctx.Err() != nil:
		timeout.Cause = ctx.Err()
	case errors.Is(waitCtx.Err(), context.DeadlineExceeded):
		timeout.Cause = context.DeadlineExceeded
	}

	if err := s.coord.MarkAbandoned(taskID); err != nil {
		s.logger.Warn("Marking task abandoned failed", "task_id", taskID, "error", err.Error())
	}
	task, _ := s.coord.Task(taskID)
	s.fire(ctx, CallbackTaskAbandoned, &CallbackContext{TaskID: taskID, Err: timeout})

	o := core.OutcomeOf(task)
	o.Success = false
	o.Partial = true
	o.Abandoned = true
	o.Error = timeout.Error()
	o.Err = timeout
	return o
}
