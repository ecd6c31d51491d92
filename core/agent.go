package core

import (
	"context"
	"time"
)

// Role classifies what an agent is able to do. The coordinator resolves
// default task targets by role.
type Role string

const (
	RoleCoordinator  Role = "coordinator"
	RoleReasoning    Role = "reasoning"
	RoleKnowledge    Role = "knowledge"
	RoleToolExecutor Role = "tool_executor"
	RoleEvaluation   Role = "evaluation"
	RoleDomainExpert Role = "domain_expert"
)

// Agent defines the contract every participant in a crew implements.
//
// Agents own an inbox. Receive enqueues a message (ignoring ids that were
// already seen) and Drain processes every queued message in FIFO order,
// returning the outbound messages produced. Agents never deliver messages
// themselves; routing is the job of the bus owner.
//
// Implementations must:
//   - Be safe for a concurrent Receive while a Drain is running
//   - Answer every unrecognised message with a typed error response
//   - Correlate every task response through Metadata.TaskID
type Agent interface {
	ID() string
	Role() Role
	Name() string
	Description() string
	Receive(msg Message) bool
	Drain(ctx context.Context) []Message
	Pending() int
	// Notify is signalled (non-blocking) whenever a new message is queued.
	Notify() <-chan struct{}
}

// AgentStatus reports the liveness of a registered agent.
type AgentStatus string

const (
	AgentActive   AgentStatus = "active"
	AgentInactive AgentStatus = "inactive"
)

// AgentRecord is the coordinator's directory entry for an agent.
type AgentRecord struct {
	ID            string      `json:"id"`
	Role          Role        `json:"role"`
	Name          string      `json:"name"`
	Description   string      `json:"description"`
	Status        AgentStatus `json:"status"`
	RegisteredAt  time.Time   `json:"registered_at"`
	LastHeartbeat time.Time   `json:"last_heartbeat"`
}
