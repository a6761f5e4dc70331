package strategy

import (
	"fmt"

	"github.com/hupe1980/teamflow/core"
)

// Pipeline executes plan steps strictly in order, feeding each step exactly
// the prior step's raw output rather than the merged context; the first step
// receives the caller's initial input. A step failure aborts the pipeline;
// the partial chain of outputs stays available in the records and the shared
// context for diagnostics.
type Pipeline struct{}

// Kind implements Strategy.
func (p *Pipeline) Kind() core.StrategyKind { return core.StrategyPipeline }

// Execute implements Strategy. Step N+1 is never dispatched before step N's
// record is closed.
func (p *Pipeline) Execute(ec *ExecutionContext) (*Result, error) {
	result := &Result{}
	carry := ec.InitialInput
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

		record := ec.DispatchStep(step, carry, vars)
		result.Usage.Add(record.Usage)
		result.ExecutedSteps = append(result.ExecutedSteps, step.AgentRef)

		switch record.Status {
		case core.StepCompleted:
			// Keep the chain inspectable via last-writer-wins merges.
			if err := ec.PublishOutput(step.AgentRef, record.Output, false); err != nil {
				return nil, err
			}
			carry = record.Output
			result.FinalOutput = record.Output
		case core.StepCancelled:
			aborted = true
		default:
			result.Failed = true
			result.ErrorMessage = fmt.Sprintf("step %s failed: %s", step.AgentRef, record.ErrorMessage)
			aborted = true
		}
	}

	result.Records = ec.Records()
	return result, nil
}
