// Package planner builds dependency-annotated plans from goals and executes
// them through an engine.
//
// Plans are persisted in a core.PlanStore so that their state survives the
// process even though the coordinator's task table does not. Execution walks
// the stored order: a task whose dependency failed is marked failed without
// being dispatched, every other task is analyzed, routed to the agent best
// suited for it and, when it fails, repaired exactly once.
package planner
