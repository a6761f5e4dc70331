package core

import "time"

// StrategyKind selects the dispatch ordering / concurrency algorithm applied
// to an execution's steps.
type StrategyKind string

const (
	// StrategySequential executes steps strictly in plan order, each step
	// seeing the context writes of all earlier steps.
	StrategySequential StrategyKind = "sequential"
	// StrategyParallel dispatches all steps concurrently against the same
	// initial context snapshot, merging results after all settle.
	StrategyParallel StrategyKind = "parallel"
	// StrategyPipeline executes steps in order, feeding each step the prior
	// step's raw output.
	StrategyPipeline StrategyKind = "pipeline"
	// StrategyConditional repeatedly dispatches the set of eligible steps
	// (predicate true against the current context) until none remain.
	StrategyConditional StrategyKind = "conditional"
)

// Valid reports whether k names a known strategy.
func (k StrategyKind) Valid() bool {
	switch k {
	case StrategySequential, StrategyParallel, StrategyPipeline, StrategyConditional:
		return true
	}
	return false
}

// InputSourceKind identifies where a step's input is resolved from.
type InputSourceKind string

const (
	// InputInitialPrompt feeds the caller supplied starting input to the step.
	InputInitialPrompt InputSourceKind = "initial_prompt"
	// InputAgentResult feeds another step's output to the step. The source
	// step must be a declared dependency of the consumer.
	InputAgentResult InputSourceKind = "agent_result"
	// InputCombined concatenates the outputs of several other steps, all of
	// which must be declared dependencies of the consumer.
	InputCombined InputSourceKind = "combined"
)

// InputSource declares how a step's input is computed at dispatch time.
// Refs names the source steps for agent_result (exactly one) and combined
// (one or more); it is empty for initial_prompt.
type InputSource struct {
	Kind InputSourceKind `json:"kind"`
	Refs []string        `json:"refs,omitempty"`
}

// ConditionOp is a comparison operator usable in step predicates.
type ConditionOp string

const (
	// OpEq tests for equality.
	OpEq ConditionOp = "eq"
	// OpNe tests for inequality.
	OpNe ConditionOp = "ne"
	// OpGt tests numeric greater-than.
	OpGt ConditionOp = "gt"
	// OpGte tests numeric greater-or-equal.
	OpGte ConditionOp = "gte"
	// OpLt tests numeric less-than.
	OpLt ConditionOp = "lt"
	// OpLte tests numeric less-or-equal.
	OpLte ConditionOp = "lte"
	// OpContains tests substring containment on string values.
	OpContains ConditionOp = "contains"
	// OpExists tests for presence of the field regardless of value.
	OpExists ConditionOp = "exists"
)

// Valid reports whether op belongs to the supported operator set.
func (op ConditionOp) Valid() bool {
	switch op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpContains, OpExists:
		return true
	}
	return false
}

// Condition is a predicate over the shared context / prior results that
// gates a step under the conditional strategy. The compiler validates the
// operator; evaluation happens at run time.
type Condition struct {
	Field string      `json:"field"`
	Op    ConditionOp `json:"op"`
	Value any         `json:"value,omitempty"`
}

// RetryPolicy bounds automatic retries of transient dispatch failures.
// Attempt N waits BaseWait * Multiplier^(N-1) (plus jitter) before running.
// MaxAttempts includes the initial attempt; MaxAttempts <= 1 disables retry.
type RetryPolicy struct {
	MaxAttempts int           `json:"max_attempts"`
	BaseWait    time.Duration `json:"base_wait"`
	Multiplier  float64       `json:"multiplier"`
}

// StepSpec declares one agent step within a workflow definition.
type StepSpec struct {
	AgentRef  string        `json:"agent_ref"`
	Role      string        `json:"role,omitempty"`
	Order     int           `json:"order"`
	Input     InputSource   `json:"input"`
	DependsOn []string      `json:"depends_on,omitempty"`
	Condition *Condition    `json:"condition,omitempty"`
	Timeout   time.Duration `json:"timeout,omitempty"`
	Retry     RetryPolicy   `json:"retry,omitempty"`
}

// WorkflowDefinition is the immutable, caller supplied description of a
// multi-agent team workflow. DependsOn references must name steps within the
// same definition and must not form a cycle; both are validated at compile
// time by the workflow package.
type WorkflowDefinition struct {
	Name     string       `json:"name,omitempty"`
	Strategy StrategyKind `json:"strategy"`
	Steps    []StepSpec   `json:"steps"`
}
