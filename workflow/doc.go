// Package workflow compiles declarative workflow definitions into validated
// execution plans and provides runtime evaluation of step predicates.
//
// Compilation is a pure function: it performs dependency validation,
// topological ordering with cycle detection, and input source resolution
// without side effects or I/O. All failures surface as typed compile errors
// before any execution starts.
package workflow
