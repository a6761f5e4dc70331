// Package status fans execution, agent, progress, result and error events out
// to any number of live observers, independent of persistence.
//
// Subscribers receive events on bounded channels; a slow or disconnected
// subscriber loses events rather than blocking publication to others or the
// coordinator. A subscriber joining mid-run receives only events from its
// join point forward. Events carry a per-execution monotonic sequence number
// so observers can detect gaps.
package status
