// Package store contains core.PlanStore implementations. The in-memory store
// lives here; the durable SQLite store, which also implements
// core.KnowledgeStore, lives in store/sqlite.
package store
