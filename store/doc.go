// Package store provides persistence backends for the core.ExecutionStore
// contract. The in-memory implementation in this package is the default used
// by the runner; the redis subpackage offers a durable backend for
// deployments that need executions to survive a process restart.
package store
