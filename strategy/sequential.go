package strategy

import (
	"fmt"

	"github.com/hupe1980/teamflow/core"
)

// Sequential executes plan steps strictly in order with state propagation:
// each step's input is resolved against the current shared context snapshot,
// so later steps see the writes of all earlier ones. The first step failure
// marks the run failed and skips all remaining steps; there is no partial
// continuation.
type Sequential struct{}

// Kind implements Strategy.
func (s *Sequential) Kind() core.StrategyKind { return core.StrategySequential }

// Execute implements Strategy. Step N+1 is never dispatched before step N's
// record is closed.
func (s *Sequential) Execute(ec *ExecutionContext) (*Result, error) {
	result := &Result{}
	aborted := false

	for _, step := range ec.Plan.Steps {
		if aborted {
			ec.SkipStep(step, "skipped after upstream failure")
			result.SkippedSteps = append(result.SkippedSteps, step.AgentRef)
			continue
		}
		if ec.Err() != nil {
			ec.CancelStep(step, "execution stopped")
			result.SkippedSteps = append(result.SkippedSteps, step.AgentRef)
			continue
		}

		vars, err := ec.Variables()
		if err != nil {
			return nil, err
		}

		input, err := ec.ResolveInput(step, vars)
		if err != nil {
			record := ec.failStep(step, err)
			result.Failed = true
			result.ErrorMessage = record.ErrorMessage
			aborted = true
			continue
		}

		record := ec.DispatchStep(step, input, vars)
		result.Usage.Add(record.Usage)

		switch record.Status {
		case core.StepCompleted:
			if err := ec.PublishOutput(step.AgentRef, record.Output, true); err != nil {
				return nil, err
			}
			result.ExecutedSteps = append(result.ExecutedSteps, step.AgentRef)
			result.FinalOutput = record.Output
		case core.StepCancelled:
			result.ExecutedSteps = append(result.ExecutedSteps, step.AgentRef)
			aborted = true
		default:
			result.ExecutedSteps = append(result.ExecutedSteps, step.AgentRef)
			result.Failed = true
			result.ErrorMessage = fmt.Sprintf("step %s failed: %s", step.AgentRef, record.ErrorMessage)
			aborted = true
		}
	}

	result.Records = ec.Records()
	return result, nil
}
