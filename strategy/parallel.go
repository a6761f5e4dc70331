package strategy

import (
	"fmt"
	"sync"

	"github.com/hupe1980/teamflow/core"
)

// Parallel dispatches all plan steps concurrently against the same initial
// context snapshot; steps do not see each other's writes mid-run by design.
// Outputs are merged into the shared context only after all dispatches
// settle. The run completes only if every step succeeded, but all outcomes
// (successes included) are recorded even on overall failure.
type Parallel struct{}

// Kind implements Strategy.
func (p *Parallel) Kind() core.StrategyKind { return core.StrategyParallel }

// Execute implements Strategy.
func (p *Parallel) Execute(ec *ExecutionContext) (*Result, error) {
	vars, err := ec.Variables()
	if err != nil {
		return nil, err
	}

	records := dispatchRound(ec, ec.Plan.Steps, vars)

	if err := ec.MergeOutputs(records, "parallel"); err != nil {
		return nil, err
	}

	result := &Result{Records: ec.Records()}
	for _, step := range ec.Plan.Steps {
		record := findRecord(records, step.AgentRef)
		if record == nil {
			continue
		}
		result.Usage.Add(record.Usage)
		result.ExecutedSteps = append(result.ExecutedSteps, record.AgentRef)
		switch record.Status {
		case core.StepCompleted:
			if result.FinalOutput != "" {
				result.FinalOutput += "\n\n"
			}
			result.FinalOutput += fmt.Sprintf("[%s]\n%s", record.AgentRef, record.Output)
		case core.StepFailed:
			result.Failed = true
			if result.ErrorMessage == "" {
				result.ErrorMessage = fmt.Sprintf("step %s failed: %s", record.AgentRef, record.ErrorMessage)
			}
		}
	}

	return result, nil
}

// dispatchRound dispatches the given steps concurrently against one shared
// snapshot and blocks until every dispatch settled. No ordering is
// guaranteed among the steps of a round.
func dispatchRound(ec *ExecutionContext, steps []core.PlanStep, vars map[string]any) []core.AgentExecutionRecord {
	var wg sync.WaitGroup
	var mu sync.Mutex
	records := make([]core.AgentExecutionRecord, 0, len(steps))

	for _, step := range steps {
		wg.Add(1)
		go func(step core.PlanStep) {
			defer wg.Done()

			var record core.AgentExecutionRecord
			if ec.Err() != nil {
				record = ec.CancelStep(step, "execution stopped")
			} else if input, err := ec.ResolveInput(step, vars); err != nil {
				record = ec.failStep(step, err)
			} else {
				record = ec.DispatchStep(step, input, vars)
			}

			mu.Lock()
			records = append(records, record)
			mu.Unlock()
		}(step)
	}

	wg.Wait()
	return records
}

func findRecord(records []core.AgentExecutionRecord, agentRef string) *core.AgentExecutionRecord {
	for i := range records {
		if records[i].AgentRef == agentRef {
			return &records[i]
		}
	}
	return nil
}
