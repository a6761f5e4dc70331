// Package sharedstate implements the versioned, per-execution shared context
// visible to all participating agents.
//
// Every context carries a named variable map, an append-only entry log, a
// monotonically increasing version and the actor of the last write. Mutation
// goes through an optimistic-concurrency API: callers that supply an expected
// version receive a VersionConflictError when the context has moved on, while
// callers that pass NoVersionCheck get last-writer-wins semantics. Change
// notification fans out to subscribers on bounded channels; slow subscribers
// lose changes rather than blocking writers.
package sharedstate
