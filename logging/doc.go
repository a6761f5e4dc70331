// Package logging provides a minimal logging interface and adapters for TeamFlow.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the coordinator, strategies and stores use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - NoOpLogger for silent operation (testing, minimal setups)
//   - TeamFlowLogger with execution-scoped contextual helpers
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	tf := teamflow.New(dispatcher, func(o *teamflow.Options) {
//		o.Logger = logger
//	})
//
// The design intentionally keeps the interface minimal to avoid vendor lock-in
// while supporting structured logging where available.
package logging
