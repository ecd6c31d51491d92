// Package agent contains the crew's agent implementations and the plumbing
// they share. The package focuses on two concerns:
//
//  1. Inbox and protocol handling (Base): duplicate detection, FIFO drain,
//     typed error responses for anything a handler does not support
//  2. Specialised agents (Reasoning, Knowledge, ToolExecutor, Evaluation,
//     DomainExpert), each a Handler switching over core.TaskKind
//
// Design principles:
//   - Capabilities (model.LLM, tool.Registry, core.KnowledgeStore) are
//     injected; agents never choose between live and simulated backends
//   - Agents never route messages; Drain returns them to the bus owner
//   - Every task message yields exactly one reply carrying its task id
//
// Execution Model:
//   - Receive is safe to call while Drain runs on another goroutine
//   - Drain processes messages received during the drain in the same call
//   - A handler error becomes a failed result; ErrUnsupportedTask becomes an
//     error message with code unsupported_task
package agent
