package core

import "time"

// ExecutionStatus is the lifecycle state of a TeamExecution. The state
// machine is pending -> running -> {completed | failed | cancelled}; the
// three terminal states are absorbing.
type ExecutionStatus string

const (
	// ExecutionPending means the run was submitted but the strategy has not
	// started dispatching yet.
	ExecutionPending ExecutionStatus = "pending"
	// ExecutionRunning means the strategy is actively dispatching steps.
	ExecutionRunning ExecutionStatus = "running"
	// ExecutionCompleted means every dispatched step succeeded.
	ExecutionCompleted ExecutionStatus = "completed"
	// ExecutionFailed means at least one step failure was escalated to the
	// run level by the strategy.
	ExecutionFailed ExecutionStatus = "failed"
	// ExecutionCancelled means an explicit stop request terminated the run.
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status is absorbing.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled:
		return true
	}
	return false
}

// StepStatus is the lifecycle state of one dispatched step.
type StepStatus string

const (
	// StepPending means the step has not been dispatched yet.
	StepPending StepStatus = "pending"
	// StepRunning means the dispatch is in flight.
	StepRunning StepStatus = "running"
	// StepCompleted means the dispatch returned an output.
	StepCompleted StepStatus = "completed"
	// StepFailed means the dispatch failed terminally (retries exhausted or
	// permanent failure).
	StepFailed StepStatus = "failed"
	// StepSkipped means the strategy never dispatched the step (upstream
	// failure or predicate never eligible).
	StepSkipped StepStatus = "skipped"
	// StepCancelled means the run was stopped while the dispatch was in flight.
	StepCancelled StepStatus = "cancelled"
)

// Closed reports whether the step status permits no further mutation of its
// record.
func (s StepStatus) Closed() bool {
	switch s {
	case StepCompleted, StepFailed, StepSkipped, StepCancelled:
		return true
	}
	return false
}

// Usage captures raw metering counters for one or more dispatches. The core
// emits these for an external metering collaborator; it performs no billing
// computation itself.
type Usage struct {
	TokensIn  int64   `json:"tokens_in"`
	TokensOut int64   `json:"tokens_out"`
	CostUnits float64 `json:"cost_units"`
}

// Add accumulates other into u.
func (u *Usage) Add(other Usage) {
	u.TokensIn += other.TokensIn
	u.TokensOut += other.TokensOut
	u.CostUnits += other.CostUnits
}

// AgentExecutionRecord is the log entry for one dispatched step. It is
// created at dispatch time and closed exactly once on completion, failure,
// skip or cancellation; after closure it must be treated as immutable.
type AgentExecutionRecord struct {
	ExecutionID  string     `json:"execution_id"`
	AgentRef     string     `json:"agent_ref"`
	StepOrder    int        `json:"step_order"`
	Status       StepStatus `json:"status"`
	Input        string     `json:"input"`
	Output       string     `json:"output,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Usage        Usage      `json:"usage"`
}

// TeamExecution is the root aggregate for one run. It is created when a run
// is submitted and mutated only by the coordinator; once Status reaches a
// terminal state no further mutation is permitted.
type TeamExecution struct {
	ExecutionID  string          `json:"execution_id"`
	TeamName     string          `json:"team_name,omitempty"`
	Strategy     StrategyKind    `json:"strategy"`
	Status       ExecutionStatus `json:"status"`
	Progress     float64         `json:"progress"`
	CurrentStep  int             `json:"current_step"`
	TotalSteps   int             `json:"total_steps"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	FinalResult  string          `json:"final_result,omitempty"`
}

// Clone returns a copy safe for handing to callers.
func (e *TeamExecution) Clone() *TeamExecution {
	c := *e
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// TeamExecutionResult aggregates the outcome of a terminal run. Records
// always contains one closed record per dispatched or skipped step, so
// partial results from failed parallel / conditional runs are never
// discarded. SkippedSteps lists steps that were never dispatched, which for
// the conditional strategy distinguishes "no further progress" from full
// completion.
type TeamExecutionResult struct {
	ExecutionID   string                 `json:"execution_id"`
	Status        ExecutionStatus        `json:"status"`
	FinalOutput   string                 `json:"final_output,omitempty"`
	ErrorMessage  string                 `json:"error_message,omitempty"`
	Records       []AgentExecutionRecord `json:"records"`
	ExecutedSteps []string               `json:"executed_steps,omitempty"`
	SkippedSteps  []string               `json:"skipped_steps,omitempty"`
	Usage         Usage                  `json:"usage"`
}
