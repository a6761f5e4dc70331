// Package runner contains the execution coordinator that owns the full
// lifecycle of a team execution: it compiles the workflow, provisions the
// per-run shared context and message bus, drives the selected strategy in a
// background goroutine and finalizes state, persistence and monitoring
// events exactly once. It is the only component allowed to transition a
// TeamExecution between lifecycle states.
package runner
