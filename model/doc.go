// Package model defines the language-model capability consumed by agents and
// its two interchangeable implementations.
//
//   - LLM is the narrow capability contract: Generate, GenerateCode,
//     AnalyzeError and EditKnowledge.
//   - Live drives a vendor Model (see the openai and anthropic sub packages)
//     and owns retries with exponential backoff for transient failures.
//   - Simulated produces deterministic synthetic output without any external
//     call, shaped so the orchestration logic is identical under both.
//
// Model is the small provider interface vendor adapters implement so agents
// remain decoupled from SDKs. MockModel is a canned Model for tests.
package model
