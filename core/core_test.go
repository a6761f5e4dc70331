package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewID(t *testing.T) {
	id := NewID()
	assert.NotEmpty(t, id)
	assert.Len(t, id, 36) // UUID length
	assert.NotEqual(t, id, NewID())
}

func TestExecutionStatus_Terminal(t *testing.T) {
	assert.False(t, ExecutionPending.Terminal())
	assert.False(t, ExecutionRunning.Terminal())
	assert.True(t, ExecutionCompleted.Terminal())
	assert.True(t, ExecutionFailed.Terminal())
	assert.True(t, ExecutionCancelled.Terminal())
}

func TestStepStatus_Closed(t *testing.T) {
	assert.False(t, StepPending.Closed())
	assert.False(t, StepRunning.Closed())
	assert.True(t, StepCompleted.Closed())
	assert.True(t, StepFailed.Closed())
	assert.True(t, StepSkipped.Closed())
	assert.True(t, StepCancelled.Closed())
}

func TestStrategyKind_Valid(t *testing.T) {
	assert.True(t, StrategySequential.Valid())
	assert.True(t, StrategyParallel.Valid())
	assert.True(t, StrategyPipeline.Valid())
	assert.True(t, StrategyConditional.Valid())
	assert.False(t, StrategyKind("round_robin").Valid())
}

func TestUsage_Add(t *testing.T) {
	u := Usage{TokensIn: 10, TokensOut: 20, CostUnits: 0.5}
	u.Add(Usage{TokensIn: 5, TokensOut: 1, CostUnits: 0.25})

	assert.Equal(t, int64(15), u.TokensIn)
	assert.Equal(t, int64(21), u.TokensOut)
	assert.InDelta(t, 0.75, u.CostUnits, 1e-9)
}

func TestTeamExecution_Clone(t *testing.T) {
	now := time.Now().UTC()
	exec := &TeamExecution{
		ExecutionID: "exec-1",
		Status:      ExecutionCompleted,
		CompletedAt: &now,
	}

	clone := exec.Clone()
	clone.Status = ExecutionFailed
	*clone.CompletedAt = now.Add(time.Hour)

	assert.Equal(t, ExecutionCompleted, exec.Status)
	assert.Equal(t, now, *exec.CompletedAt)
}

func TestMessage_NewResponse(t *testing.T) {
	req := NewMessage("exec-1", "planner", "researcher", MessageRequest, "need sources")
	resp := NewResponse(req, "researcher", "here you go")

	assert.Equal(t, "exec-1", resp.ExecutionID)
	assert.Equal(t, "researcher", resp.From)
	assert.Equal(t, "planner", resp.To)
	assert.Equal(t, MessageResponse, resp.Kind)
	assert.Equal(t, req.MessageID, resp.CorrelatesWith)
	assert.False(t, resp.IsBroadcast())
}

func TestMessage_IsBroadcast(t *testing.T) {
	msg := NewMessage("exec-1", "planner", "", MessageInfo, "round done")
	assert.True(t, msg.IsBroadcast())
}

func TestLogFilter_Matches(t *testing.T) {
	cutoff := time.Now().UTC()
	msg := NewMessage("exec-1", "planner", "", MessageInfo, "hello")

	assert.True(t, LogFilter{}.Matches(msg))
	assert.True(t, LogFilter{From: "planner", Kind: MessageInfo}.Matches(msg))
	assert.False(t, LogFilter{From: "writer"}.Matches(msg))
	assert.False(t, LogFilter{Kind: MessageError}.Matches(msg))
	assert.False(t, LogFilter{Since: cutoff.Add(time.Hour)}.Matches(msg))
}

func TestExecutionPlan_Step(t *testing.T) {
	plan := &ExecutionPlan{Steps: []PlanStep{
		{AgentRef: "researcher"},
		{AgentRef: "writer"},
	}}

	assert.Equal(t, "writer", plan.Step("writer").AgentRef)
	assert.Nil(t, plan.Step("editor"))
}
