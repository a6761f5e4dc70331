package strategy

import (
	"fmt"

	"github.com/hupe1980/teamflow/core"
)

// Result aggregates one strategy run. Records always contains one closed
// record per plan step (dispatched or skipped); partial success information
// survives overall failure. ExecutedSteps and SkippedSteps let callers
// distinguish "every step ran" from "the strategy stopped with work left",
// which for the conditional strategy is a normal, non-error outcome.
type Result struct {
	Records       []core.AgentExecutionRecord
	FinalOutput   string
	Failed        bool
	ErrorMessage  string
	ExecutedSteps []string
	SkippedSteps  []string
	Usage         core.Usage
}

// Strategy drives an execution plan through the dispatch contract. Execute
// returns an error only for infrastructural problems (lost shared context);
// step failures are reported through the Result so the coordinator alone
// decides run-level consequences.
type Strategy interface {
	Kind() core.StrategyKind
	Execute(ec *ExecutionContext) (*Result, error)
}

// ForKind selects the strategy implementation for a plan.
func ForKind(kind core.StrategyKind) (Strategy, error) {
	switch kind {
	case core.StrategySequential:
		return &Sequential{}, nil
	case core.StrategyParallel:
		return &Parallel{}, nil
	case core.StrategyPipeline:
		return &Pipeline{}, nil
	case core.StrategyConditional:
		return &Conditional{}, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", kind)
	}
}
