// Package coordinator implements the agent that owns the task table and the
// agent directory.
//
// The coordinator resolves default targets by role, dispatches one task
// message per target and completes a task once every target reported
// through AddTaskResult. Tasks that resolve to the coordinator alone are
// processed inline, which keeps the coordinator from waiting on its own
// inbox. Each task carries a completion future (Done) closed on the
// terminal transition, so waiters are signalled instead of polling.
//
// The coordinator itself handles the built-in kinds generate_plan,
// execute_task, analyze_task and generate_summary.
package coordinator
