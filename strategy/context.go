package strategy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/teamflow/bus"
	"github.com/hupe1980/teamflow/core"
	"github.com/hupe1980/teamflow/dispatch"
	"github.com/hupe1980/teamflow/internal/util"
	"github.com/hupe1980/teamflow/logging"
	"github.com/hupe1980/teamflow/sharedstate"
	"github.com/hupe1980/teamflow/status"
)

// ExecutionContext carries the per-run execution scope passed to a
// strategy's Execute method. It aggregates:
//
//   - The ambient cancellation Context
//   - The compiled plan and the caller's initial input
//   - Backing services (shared context, bus, status publisher, persistence)
//   - The retry-wrapped dispatcher all step dispatches go through
//
// The settle helpers are the single place where agent execution records are
// closed, persisted and announced; strategies never touch those concerns
// directly.
type ExecutionContext struct {
	Context        context.Context
	ExecutionID    string
	Plan           *core.ExecutionPlan
	InitialInput   string
	Credentials    core.Credentials
	Shared         *sharedstate.Store
	Bus            *bus.Bus
	Status         *status.Publisher
	Retryer        *dispatch.Retryer
	Store          core.ExecutionStore
	Logger         logging.Logger
	DefaultTimeout time.Duration

	// OnSettled, when set, is invoked after every record closure with the
	// closed record and the settled/total counters. The coordinator uses it
	// for progress accounting and periodic context snapshots.
	OnSettled func(record core.AgentExecutionRecord, settled, total int)

	mu      sync.Mutex
	records []core.AgentExecutionRecord
	settled int
}

// Err mirrors the underlying context's Err.
func (ec *ExecutionContext) Err() error { return ec.Context.Err() }

// Variables returns a snapshot of the live shared context's variable map.
func (ec *ExecutionContext) Variables() (map[string]any, error) {
	ctx, err := ec.Shared.Get(ec.ExecutionID)
	if err != nil {
		return nil, err
	}
	return ctx.VariablesSnapshot(), nil
}

// ResolveInput computes a step's input from the given context snapshot per
// its declared input source. Referenced source outputs were validated as
// dependencies at compile time; a missing output at run time (source step
// failed or has not run) resolves to an error the caller records as a step
// failure.
func (ec *ExecutionContext) ResolveInput(step core.PlanStep, vars map[string]any) (string, error) {
	switch step.Input.Kind {
	case core.InputInitialPrompt, "":
		return ec.InitialInput, nil
	case core.InputAgentResult:
		ref := step.Input.Refs[0]
		v, ok := vars[ref]
		if !ok {
			return "", fmt.Errorf("no output of %q available for step %q", ref, step.AgentRef)
		}
		return asString(v), nil
	case core.InputCombined:
		var b strings.Builder
		for i, ref := range step.Input.Refs {
			v, ok := vars[ref]
			if !ok {
				return "", fmt.Errorf("no output of %q available for step %q", ref, step.AgentRef)
			}
			if i > 0 {
				b.WriteString("\n\n")
			}
			fmt.Fprintf(&b, "[%s]\n%s", ref, asString(v))
		}
		return b.String(), nil
	default:
		return "", fmt.Errorf("step %q has unknown input source %q", step.AgentRef, step.Input.Kind)
	}
}

// DispatchStep performs one step dispatch end to end: it opens a record,
// applies the step timeout and retry policy, and closes the record as
// completed, failed or cancelled. The returned record is closed and must not
// be mutated further.
func (ec *ExecutionContext) DispatchStep(step core.PlanStep, input string, snapshot map[string]any) core.AgentExecutionRecord {
	record := core.AgentExecutionRecord{
		ExecutionID: ec.ExecutionID,
		AgentRef:    step.AgentRef,
		StepOrder:   step.Order,
		Status:      core.StepRunning,
		Input:       input,
		StartedAt:   time.Now().UTC(),
	}

	ec.Status.Publish(ec.ExecutionID, status.Event{
		Type:       status.EventAgentStatusUpdate,
		AgentRef:   step.AgentRef,
		StepStatus: core.StepRunning,
	})

	timeout := step.Timeout
	if timeout <= 0 {
		timeout = ec.DefaultTimeout
	}
	dispatchCtx := ec.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		dispatchCtx, cancel = context.WithTimeout(ec.Context, timeout)
		defer cancel()
	}

	role, err := util.RenderTemplate(step.Role, snapshot)
	if err != nil {
		ec.Logger.Warn("role template failed execution_id=%s agent_ref=%s: %v", ec.ExecutionID, step.AgentRef, err)
		role = step.Role
	}

	started := time.Now()
	outcome, err := ec.Retryer.Dispatch(dispatchCtx, core.DispatchRequest{
		ExecutionID:     ec.ExecutionID,
		AgentRef:        step.AgentRef,
		Role:            role,
		Input:           input,
		ContextSnapshot: snapshot,
		Credentials:     ec.Credentials,
	}, step.Retry)

	now := time.Now().UTC()
	record.CompletedAt = &now

	switch {
	case err == nil:
		record.Status = core.StepCompleted
		record.Output = outcome.Output
		record.Usage = outcome.Usage
	case ec.Context.Err() != nil:
		record.Status = core.StepCancelled
		record.ErrorMessage = ec.Context.Err().Error()
	case errors.Is(err, context.DeadlineExceeded):
		record.Status = core.StepFailed
		record.ErrorMessage = fmt.Sprintf("step timed out after %s", timeout)
	default:
		record.Status = core.StepFailed
		record.ErrorMessage = err.Error()
	}

	ec.Logger.Debug("step dispatch settled execution_id=%s agent_ref=%s status=%s duration=%s",
		ec.ExecutionID, step.AgentRef, record.Status, time.Since(started))

	ec.settle(record)

	if record.Status == core.StepFailed {
		ec.Status.Publish(ec.ExecutionID, status.Event{
			Type:     status.EventErrorUpdate,
			AgentRef: step.AgentRef,
			Message:  record.ErrorMessage,
		})
	}

	return record
}

// SkipStep closes a record for a step that will never be dispatched.
func (ec *ExecutionContext) SkipStep(step core.PlanStep, reason string) core.AgentExecutionRecord {
	now := time.Now().UTC()
	record := core.AgentExecutionRecord{
		ExecutionID:  ec.ExecutionID,
		AgentRef:     step.AgentRef,
		StepOrder:    step.Order,
		Status:       core.StepSkipped,
		StartedAt:    now,
		CompletedAt:  &now,
		ErrorMessage: reason,
	}
	ec.settle(record)
	return record
}

// failStep closes a record for a step that failed before dispatch (input
// resolution) and publishes the corresponding error event.
func (ec *ExecutionContext) failStep(step core.PlanStep, cause error) core.AgentExecutionRecord {
	now := time.Now().UTC()
	record := core.AgentExecutionRecord{
		ExecutionID:  ec.ExecutionID,
		AgentRef:     step.AgentRef,
		StepOrder:    step.Order,
		Status:       core.StepFailed,
		StartedAt:    now,
		CompletedAt:  &now,
		ErrorMessage: cause.Error(),
	}
	ec.settle(record)
	ec.Status.Publish(ec.ExecutionID, status.Event{
		Type:     status.EventErrorUpdate,
		AgentRef: step.AgentRef,
		Message:  record.ErrorMessage,
	})
	return record
}

// CancelStep closes a record for a step whose dispatch was abandoned by an
// explicit stop request before it produced an outcome.
func (ec *ExecutionContext) CancelStep(step core.PlanStep, reason string) core.AgentExecutionRecord {
	now := time.Now().UTC()
	record := core.AgentExecutionRecord{
		ExecutionID:  ec.ExecutionID,
		AgentRef:     step.AgentRef,
		StepOrder:    step.Order,
		Status:       core.StepCancelled,
		StartedAt:    now,
		CompletedAt:  &now,
		ErrorMessage: reason,
	}
	ec.settle(record)
	return record
}

// PublishOutput writes a completed step's output into the shared context
// under the step's agent reference. checked selects optimistic concurrency:
// the write retries on version conflicts by re-reading, which sequential and
// conditional flows use to detect concurrent interference, while parallel
// merges go through ApplyDelta's last-writer-wins path instead.
func (ec *ExecutionContext) PublishOutput(agentRef, output string, checked bool) error {
	if !checked {
		_, err := ec.Shared.SetVariable(ec.ExecutionID, agentRef, output, agentRef, sharedstate.NoVersionCheck)
		return err
	}

	for {
		ctx, err := ec.Shared.Get(ec.ExecutionID)
		if err != nil {
			return err
		}
		_, err = ec.Shared.SetVariable(ec.ExecutionID, agentRef, output, agentRef, ctx.CurrentVersion())
		if err == nil {
			return nil
		}
		var conflict *core.VersionConflictError
		if !errors.As(err, &conflict) {
			return err
		}
		// Context moved on; re-read and retry.
	}
}

// MergeOutputs merges a settled round's outputs into the shared context with
// last-writer-wins semantics, in one pass after the whole round settled.
func (ec *ExecutionContext) MergeOutputs(records []core.AgentExecutionRecord, actor string) error {
	delta := make(map[string]any)
	for _, record := range records {
		if record.Status == core.StepCompleted {
			delta[record.AgentRef] = record.Output
		}
	}
	if len(delta) == 0 {
		return nil
	}
	_, err := ec.Shared.ApplyDelta(ec.ExecutionID, delta, actor)
	return err
}

// Records returns a copy of all closed records in settle order.
func (ec *ExecutionContext) Records() []core.AgentExecutionRecord {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	records := make([]core.AgentExecutionRecord, len(ec.records))
	copy(records, ec.records)
	return records
}

// settle appends the closed record, persists it and publishes agent status
// and progress events. It is the only mutation path for record bookkeeping.
func (ec *ExecutionContext) settle(record core.AgentExecutionRecord) {
	ec.mu.Lock()
	ec.records = append(ec.records, record)
	ec.settled++
	settled := ec.settled
	ec.mu.Unlock()

	if ec.Store != nil {
		if err := ec.Store.SaveRecord(record); err != nil {
			ec.Logger.Warn("failed to persist record execution_id=%s agent_ref=%s: %v", ec.ExecutionID, record.AgentRef, err)
		}
	}

	total := len(ec.Plan.Steps)
	var usage *core.Usage
	if record.Usage != (core.Usage{}) {
		u := record.Usage
		usage = &u
	}
	ec.Status.Publish(ec.ExecutionID, status.Event{
		Type:       status.EventAgentStatusUpdate,
		AgentRef:   record.AgentRef,
		StepStatus: record.Status,
		Message:    record.ErrorMessage,
		Usage:      usage,
	})
	ec.Status.Publish(ec.ExecutionID, status.Event{
		Type:        status.EventProgressUpdate,
		Progress:    float64(settled) / float64(total),
		CurrentStep: settled,
		TotalSteps:  total,
	})

	if ec.OnSettled != nil {
		ec.OnSettled(record, settled, total)
	}
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
