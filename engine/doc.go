// Package engine implements the orchestration layer of agentcrew.
//
// A System owns the coordinator, every agent and the message bus. It
// validates and dispatches tasks, drives message delivery and waits for
// task completion under explicit, configurable policies.
//
// # Delivery Modes
//
// Tick mode (default): nothing runs in the background. Tick drains every
// agent once, coordinator last, and forwards what they produced, including
// broadcast fan-out. WaitForCompletion ticks on the caller's goroutine.
//
// Worker mode: Start runs one goroutine per agent (golang.org/x/sync/errgroup)
// that wakes on the agent's notify signal. Workers also send heartbeats and
// a monitor marks silent agents inactive. WaitForCompletion then sleeps on
// the task's completion future.
//
//	┌──────────┐ task  ┌─────────┐ task   ┌────────┐
//	│  caller  │──────▶│ System  │───────▶│ agents │
//	└──────────┘       │  + bus  │◀───────└────────┘
//	     ▲  Outcome    └────┬────┘ result
//	     └──────────────────┤
//	                  ┌─────▼──────┐
//	                  │coordinator │ task table, completion futures
//	                  └────────────┘
//
// # Policies
//
//   - Unknown target ids are replaced by the coordinator and logged
//     (FallbackToCoordinator), or rejected with a ValidationError
//   - A Processing task with partial results and no progress for
//     StaleAfter is force-completed with Forced set (ForceComplete)
//   - A task without results is never forced; the wait times out, the task
//     is marked abandoned and the Outcome carries Partial and a
//     *core.OrchestrationTimeout
//   - Undeliverable task messages are recorded as failed results
//
// Lifecycle hooks are available through CallbackManager.
package engine
