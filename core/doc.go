// Package core provides the foundational domain types, interfaces and error
// taxonomy used by TeamFlow. It defines the core abstractions for:
//
//   - Workflow definitions (declarative multi-agent team descriptions)
//   - Execution plans (validated, ordered forms ready to run)
//   - Team executions and per-step agent execution records
//   - Messages exchanged between participating agents
//   - Pluggable contracts for agent dispatch and durable persistence
//
// The package intentionally keeps implementation concerns (compilation,
// strategy scheduling, context storage, transport) out of scope, exposing
// small interfaces to enable custom backends and extensions.
package core
