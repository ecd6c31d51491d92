// Package core provides the foundational domain types and interfaces shared by
// every agentcrew package. It defines:
//
//   - Messages and their JSON wire format
//   - Task kinds as a closed sum type (TaskKind) plus the other payloads
//   - Tasks, task status transitions and the structured Outcome of a wait
//   - Plans and plan tasks together with the PlanStore contract
//   - The KnowledgeStore contract
//   - The Agent interface and the coordinator's AgentRecord
//   - The error taxonomy (validation, routing, transient capability,
//     task failure, orchestration timeout, dependency failure)
//
// Implementation concerns (routing, scheduling, persistence, concrete agents)
// live in other packages; core only holds small types and interfaces.
package core
