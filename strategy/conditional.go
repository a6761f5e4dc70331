package strategy

import (
	"fmt"

	"github.com/hupe1980/teamflow/core"
	"github.com/hupe1980/teamflow/workflow"
)

// Conditional repeats rounds of dispatch until all steps have executed or no
// further step is eligible. Each round computes the not-yet-executed steps
// whose predicate holds against the current context, dispatches that whole
// set concurrently with parallel semantics, merges the round's outputs, and
// repeats. The loop terminating with unexecuted steps is a normal outcome,
// reported through SkippedSteps rather than as an error.
type Conditional struct{}

// Kind implements Strategy.
func (c *Conditional) Kind() core.StrategyKind { return core.StrategyConditional }

// Execute implements Strategy. The round loop is bounded by the plan size:
// every round executes at least one step or terminates, so at most
// len(Steps) rounds run.
func (c *Conditional) Execute(ec *ExecutionContext) (*Result, error) {
	result := &Result{}
	executed := make(map[string]bool, len(ec.Plan.Steps))

	for len(executed) < len(ec.Plan.Steps) {
		if ec.Err() != nil {
			break
		}

		vars, err := ec.Variables()
		if err != nil {
			return nil, err
		}

		var eligible []core.PlanStep
		for _, step := range ec.Plan.Steps {
			if executed[step.AgentRef] {
				continue
			}
			if workflow.EvalCondition(step.Condition, vars) {
				eligible = append(eligible, step)
			}
		}
		if len(eligible) == 0 {
			break
		}

		records := dispatchRound(ec, eligible, vars)
		for _, record := range records {
			executed[record.AgentRef] = true
			result.Usage.Add(record.Usage)
			result.ExecutedSteps = append(result.ExecutedSteps, record.AgentRef)
			switch record.Status {
			case core.StepCompleted:
				result.FinalOutput = record.Output
			case core.StepFailed:
				result.Failed = true
				if result.ErrorMessage == "" {
					result.ErrorMessage = fmt.Sprintf("step %s failed: %s", record.AgentRef, record.ErrorMessage)
				}
			}
		}

		if err := ec.MergeOutputs(records, "conditional"); err != nil {
			return nil, err
		}
	}

	for _, step := range ec.Plan.Steps {
		if executed[step.AgentRef] {
			continue
		}
		if ec.Err() != nil {
			ec.CancelStep(step, "execution stopped")
		} else {
			ec.SkipStep(step, "predicate never eligible")
		}
		result.SkippedSteps = append(result.SkippedSteps, step.AgentRef)
	}

	result.Records = ec.Records()
	return result, nil
}
