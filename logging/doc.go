// Package logging provides a tiny abstraction over slog so downstream code can
// depend on a minimal interface (Logger) while allowing users to plug any
// structured logger.
//
// The package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping *slog.Logger
//   - CrewLogger with contextual helpers (component, agent, task) and domain
//     helpers for model calls, tool calls, task transitions and plan runs
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	sys := engine.New(coord, func(o *engine.Options) { o.Logger = logger })
//
// Arguments after the message are slog style key/value pairs.
package logging
