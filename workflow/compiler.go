package workflow

import (
	"fmt"
	"sort"

	"github.com/hupe1980/teamflow/core"
)

// Compile turns a WorkflowDefinition plus the caller-resolved agent reference
// set into an ExecutionPlan, or a compile error. It validates that:
//
//   - every step references a known agent
//   - every dependsOn entry names a step within the same definition
//   - the dependency graph is acyclic (CyclicDependencyError otherwise)
//   - every input source step is a declared dependency of the consumer
//     (UnresolvableInputError otherwise)
//   - conditional predicates use a supported comparison operator
//
// Compile is deterministic: the same definition always yields the same plan.
// Ties in the topological order are broken by step Order, then AgentRef.
func Compile(def core.WorkflowDefinition, agentRefs []string) (*core.ExecutionPlan, error) {
	if !def.Strategy.Valid() {
		return nil, fmt.Errorf("%w: unknown strategy %q", core.ErrCompile, def.Strategy)
	}
	if len(def.Steps) == 0 {
		return nil, fmt.Errorf("%w: definition has no steps", core.ErrCompile)
	}

	known := make(map[string]bool, len(agentRefs))
	for _, ref := range agentRefs {
		known[ref] = true
	}

	steps := make(map[string]core.StepSpec, len(def.Steps))
	for _, s := range def.Steps {
		if s.AgentRef == "" {
			return nil, fmt.Errorf("%w: step with empty agent reference", core.ErrCompile)
		}
		if _, dup := steps[s.AgentRef]; dup {
			return nil, fmt.Errorf("%w: duplicate step %q", core.ErrCompile, s.AgentRef)
		}
		if !known[s.AgentRef] {
			return nil, &core.UnknownAgentError{StepRef: s.AgentRef, AgentRef: s.AgentRef}
		}
		steps[s.AgentRef] = s
	}

	for _, s := range def.Steps {
		for _, dep := range s.DependsOn {
			if _, ok := steps[dep]; !ok {
				return nil, &core.UnknownAgentError{StepRef: s.AgentRef, AgentRef: dep}
			}
		}
		if err := validateInput(s); err != nil {
			return nil, err
		}
		if err := validateCondition(s); err != nil {
			return nil, err
		}
	}

	ordered, err := topoSort(def.Steps, steps)
	if err != nil {
		return nil, err
	}

	planSteps := make([]core.PlanStep, 0, len(ordered))
	for _, ref := range ordered {
		s := steps[ref]
		deps := make([]string, len(s.DependsOn))
		copy(deps, s.DependsOn)
		sort.Strings(deps)
		planSteps = append(planSteps, core.PlanStep{
			AgentRef:  s.AgentRef,
			Role:      s.Role,
			Order:     s.Order,
			Input:     s.Input,
			DependsOn: deps,
			Condition: s.Condition,
			Timeout:   s.Timeout,
			Retry:     s.Retry,
		})
	}

	return &core.ExecutionPlan{
		Strategy: def.Strategy,
		Steps:    planSteps,
		Estimate: estimate(def.Strategy, planSteps),
	}, nil
}

func validateInput(s core.StepSpec) error {
	deps := make(map[string]bool, len(s.DependsOn))
	for _, d := range s.DependsOn {
		deps[d] = true
	}

	switch s.Input.Kind {
	case core.InputInitialPrompt, "":
		if len(s.Input.Refs) > 0 {
			return fmt.Errorf("%w: step %q declares initial_prompt input with source refs", core.ErrCompile, s.AgentRef)
		}
	case core.InputAgentResult:
		if len(s.Input.Refs) != 1 {
			return fmt.Errorf("%w: step %q agent_result input requires exactly one source", core.ErrCompile, s.AgentRef)
		}
		if !deps[s.Input.Refs[0]] {
			return &core.UnresolvableInputError{StepRef: s.AgentRef, SourceRef: s.Input.Refs[0]}
		}
	case core.InputCombined:
		if len(s.Input.Refs) == 0 {
			return fmt.Errorf("%w: step %q combined input requires at least one source", core.ErrCompile, s.AgentRef)
		}
		for _, ref := range s.Input.Refs {
			if !deps[ref] {
				return &core.UnresolvableInputError{StepRef: s.AgentRef, SourceRef: ref}
			}
		}
	default:
		return fmt.Errorf("%w: step %q has unknown input source %q", core.ErrCompile, s.AgentRef, s.Input.Kind)
	}

	return nil
}

func validateCondition(s core.StepSpec) error {
	if s.Condition == nil {
		return nil
	}
	if s.Condition.Field == "" {
		return &core.InvalidConditionError{StepRef: s.AgentRef, Reason: "empty field"}
	}
	if !s.Condition.Op.Valid() {
		return &core.InvalidConditionError{StepRef: s.AgentRef, Reason: fmt.Sprintf("unsupported operator %q", s.Condition.Op)}
	}
	return nil
}

// topoSort orders step references so that every dependency precedes its
// dependents, using iterative DFS. A back edge aborts compilation with
// CyclicDependencyError carrying the offending cycle.
func topoSort(declared []core.StepSpec, steps map[string]core.StepSpec) ([]string, error) {
	roots := make([]string, 0, len(declared))
	for _, s := range declared {
		roots = append(roots, s.AgentRef)
	}
	sort.SliceStable(roots, func(i, j int) bool {
		si, sj := steps[roots[i]], steps[roots[j]]
		if si.Order != sj.Order {
			return si.Order < sj.Order
		}
		return si.AgentRef < sj.AgentRef
	})

	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(steps))
	order := make([]string, 0, len(steps))
	var stack []string

	var visit func(ref string) error
	visit = func(ref string) error {
		color[ref] = gray
		stack = append(stack, ref)

		deps := make([]string, len(steps[ref].DependsOn))
		copy(deps, steps[ref].DependsOn)
		sort.Strings(deps)

		for _, dep := range deps {
			switch color[dep] {
			case gray:
				return &core.CyclicDependencyError{Cycle: cycleFrom(stack, dep)}
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[ref] = black
		order = append(order, ref)
		return nil
	}

	for _, ref := range roots {
		if color[ref] == white {
			if err := visit(ref); err != nil {
				return nil, err
			}
		}
	}

	return order, nil
}

// cycleFrom extracts the cycle path from the DFS stack starting at the first
// occurrence of ref and closes it back on ref.
func cycleFrom(stack []string, ref string) []string {
	for i, r := range stack {
		if r == ref {
			cycle := make([]string, 0, len(stack)-i+1)
			cycle = append(cycle, stack[i:]...)
			return append(cycle, ref)
		}
	}
	return []string{ref, ref}
}

func estimate(strategy core.StrategyKind, steps []core.PlanStep) core.PlanEstimate {
	maxConcurrent := 1
	if strategy == core.StrategyParallel || strategy == core.StrategyConditional {
		maxConcurrent = len(steps)
	}
	dispatches := 0
	for _, s := range steps {
		attempts := s.Retry.MaxAttempts
		if attempts < 1 {
			attempts = 1
		}
		dispatches += attempts
	}
	return core.PlanEstimate{
		StepCount:     len(steps),
		MaxConcurrent: maxConcurrent,
		MaxDispatches: dispatches,
	}
}
