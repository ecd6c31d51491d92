// Package knowledge contains concrete core.KnowledgeStore implementations.
// The store interface and the Fact and Triple types reside in the core
// package; depend on core.KnowledgeStore and select an implementation (like
// the in-memory store below or store/sqlite) at wiring time.
package knowledge
