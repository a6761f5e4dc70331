package testutil

import (
	"time"

	"github.com/hupe1980/teamflow/core"
)

// WorkflowBuilder helps construct workflow definitions with fluent chaining
// for tests.
// Example:
//
//	def := NewWorkflowBuilder(core.StrategySequential).
//		Step("researcher").
//		PipedStep("writer", "researcher").
//		Build()
type WorkflowBuilder struct {
	name     string
	strategy core.StrategyKind
	steps    []core.StepSpec
}

// NewWorkflowBuilder creates a builder for a definition with the given
// strategy. Use chainable methods then call Build.
func NewWorkflowBuilder(strategy core.StrategyKind) *WorkflowBuilder {
	return &WorkflowBuilder{strategy: strategy}
}

// Name sets the team name (chainable).
func (b *WorkflowBuilder) Name(name string) *WorkflowBuilder {
	b.name = name
	return b
}

// Step appends a step fed by the initial prompt (chainable).
func (b *WorkflowBuilder) Step(agentRef string) *WorkflowBuilder {
	b.steps = append(b.steps, core.StepSpec{
		AgentRef: agentRef,
		Order:    len(b.steps),
	})
	return b
}

// PipedStep appends a step that depends on and consumes the output of a
// prior step (chainable).
func (b *WorkflowBuilder) PipedStep(agentRef, source string) *WorkflowBuilder {
	b.steps = append(b.steps, core.StepSpec{
		AgentRef:  agentRef,
		Order:     len(b.steps),
		Input:     core.InputSource{Kind: core.InputAgentResult, Refs: []string{source}},
		DependsOn: []string{source},
	})
	return b
}

// CombinedStep appends a step consuming the concatenated outputs of several
// prior steps (chainable).
func (b *WorkflowBuilder) CombinedStep(agentRef string, sources ...string) *WorkflowBuilder {
	b.steps = append(b.steps, core.StepSpec{
		AgentRef:  agentRef,
		Order:     len(b.steps),
		Input:     core.InputSource{Kind: core.InputCombined, Refs: sources},
		DependsOn: sources,
	})
	return b
}

// ConditionalStep appends a step guarded by a shared context predicate
// (chainable).
func (b *WorkflowBuilder) ConditionalStep(agentRef string, cond core.Condition) *WorkflowBuilder {
	c := cond
	b.steps = append(b.steps, core.StepSpec{
		AgentRef:  agentRef,
		Order:     len(b.steps),
		Condition: &c,
	})
	return b
}

// Spec appends a fully specified step verbatim (chainable).
func (b *WorkflowBuilder) Spec(s core.StepSpec) *WorkflowBuilder {
	b.steps = append(b.steps, s)
	return b
}

// Timeout sets the timeout of the most recently added step (chainable).
func (b *WorkflowBuilder) Timeout(d time.Duration) *WorkflowBuilder {
	if len(b.steps) > 0 {
		b.steps[len(b.steps)-1].Timeout = d
	}
	return b
}

// Retry sets the retry policy of the most recently added step (chainable).
func (b *WorkflowBuilder) Retry(policy core.RetryPolicy) *WorkflowBuilder {
	if len(b.steps) > 0 {
		b.steps[len(b.steps)-1].Retry = policy
	}
	return b
}

// Refs returns the agent references of all added steps, which doubles as
// the registered agent list in most tests.
func (b *WorkflowBuilder) Refs() []string {
	refs := make([]string, 0, len(b.steps))
	for _, s := range b.steps {
		refs = append(refs, s.AgentRef)
	}
	return refs
}

// Build returns the workflow definition.
func (b *WorkflowBuilder) Build() core.WorkflowDefinition {
	return core.WorkflowDefinition{
		Name:     b.name,
		Strategy: b.strategy,
		Steps:    append([]core.StepSpec{}, b.steps...),
	}
}
