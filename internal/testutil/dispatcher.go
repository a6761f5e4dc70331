package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/teamflow/core"
)

// Behavior scripts the outcome of dispatches for one agent reference.
type Behavior struct {
	// Output is returned on success.
	Output string
	// Err, when non-nil, fails the dispatch.
	Err error
	// FailuresBeforeSuccess makes the first N dispatches return Err before
	// Output starts succeeding, for exercising retry paths.
	FailuresBeforeSuccess int
	// Delay blocks the dispatch until elapsed or the context is done.
	Delay func(ctx context.Context) error
	// Usage is attached to successful outcomes.
	Usage core.Usage
}

// ScriptedDispatcher is a deterministic core.Dispatcher for tests. Each
// agent reference maps to a scripted behavior; unscripted references echo
// their input. All calls are recorded in order.
type ScriptedDispatcher struct {
	mu        sync.Mutex
	behaviors map[string]*Behavior
	calls     []core.DispatchRequest
	attempts  map[string]int
}

// NewScriptedDispatcher constructs an empty scripted dispatcher.
func NewScriptedDispatcher() *ScriptedDispatcher {
	return &ScriptedDispatcher{
		behaviors: make(map[string]*Behavior),
		attempts:  make(map[string]int),
	}
}

// Script registers the behavior for an agent reference (chainable).
func (d *ScriptedDispatcher) Script(agentRef string, b Behavior) *ScriptedDispatcher {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.behaviors[agentRef] = &b
	return d
}

// Dispatch implements core.Dispatcher.
func (d *ScriptedDispatcher) Dispatch(ctx context.Context, req core.DispatchRequest) (*core.DispatchOutcome, error) {
	d.mu.Lock()
	d.calls = append(d.calls, req)
	d.attempts[req.AgentRef]++
	attempt := d.attempts[req.AgentRef]
	b := d.behaviors[req.AgentRef]
	d.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if b == nil {
		return &core.DispatchOutcome{Output: fmt.Sprintf("echo: %s", req.Input)}, nil
	}

	if b.Delay != nil {
		if err := b.Delay(ctx); err != nil {
			return nil, err
		}
	}

	if b.Err != nil && (b.FailuresBeforeSuccess == 0 || attempt <= b.FailuresBeforeSuccess) {
		return nil, b.Err
	}

	return &core.DispatchOutcome{Output: b.Output, Usage: b.Usage}, nil
}

// Calls returns a copy of all recorded dispatch requests in call order.
func (d *ScriptedDispatcher) Calls() []core.DispatchRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	calls := make([]core.DispatchRequest, len(d.calls))
	copy(calls, d.calls)
	return calls
}

// Attempts returns how many times the given agent reference was dispatched.
func (d *ScriptedDispatcher) Attempts(agentRef string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts[agentRef]
}
