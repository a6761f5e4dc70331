package core

import "time"

// PlanStep is the validated, dependency-ordered form of a StepSpec. Input
// references have been checked against the step's dependency set and default
// timeout / retry values have been filled in.
type PlanStep struct {
	AgentRef  string        `json:"agent_ref"`
	Role      string        `json:"role,omitempty"`
	Order     int           `json:"order"`
	Input     InputSource   `json:"input"`
	DependsOn []string      `json:"depends_on,omitempty"`
	Condition *Condition    `json:"condition,omitempty"`
	Timeout   time.Duration `json:"timeout,omitempty"`
	Retry     RetryPolicy   `json:"retry,omitempty"`
}

// PlanEstimate carries coarse resource estimates derived at compile time.
// MaxConcurrent is the widest set of steps the selected strategy may have in
// flight at once; MaxDispatches bounds total dispatch attempts including
// retries.
type PlanEstimate struct {
	StepCount     int `json:"step_count"`
	MaxConcurrent int `json:"max_concurrent"`
	MaxDispatches int `json:"max_dispatches"`
}

// ExecutionPlan is the immutable output of the workflow compiler: a
// topologically ordered step list ready for a strategy to drive. It is owned
// exclusively by the coordinator of one run and never mutated after build.
type ExecutionPlan struct {
	Strategy StrategyKind `json:"strategy"`
	Steps    []PlanStep   `json:"steps"`
	Estimate PlanEstimate `json:"estimate"`
}

// Step returns the plan step with the given agent reference, or nil if the
// plan does not contain it.
func (p *ExecutionPlan) Step(agentRef string) *PlanStep {
	for i := range p.Steps {
		if p.Steps[i].AgentRef == agentRef {
			return &p.Steps[i]
		}
	}
	return nil
}
