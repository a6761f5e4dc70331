// Package strategy implements the four execution strategies that drive a
// compiled plan: sequential, parallel, pipeline and conditional.
//
// All strategies share one dispatch primitive that resolves the step input,
// opens an agent execution record, applies the step's timeout and retry
// policy through the dispatch layer, closes the record exactly once and
// publishes status events. Strategy-specific behavior is limited to ordering,
// concurrency and context visibility:
//
//   - Sequential: strict plan order, later steps see earlier writes, no
//     partial continuation after a failure.
//   - Parallel: all steps concurrently against the same initial snapshot,
//     results merged only after all settle, partial success preserved.
//   - Pipeline: strict order, each input is the prior step's raw output,
//     abort on failure with the partial chain retained.
//   - Conditional: rounds of concurrently dispatched predicate-eligible
//     steps until none remain; an empty eligible set terminates the loop as
//     a normal outcome.
package strategy
