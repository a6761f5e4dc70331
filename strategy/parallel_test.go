package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/teamflow/core"
	"github.com/hupe1980/teamflow/internal/testutil"
)

func TestParallel_Execute_Success(t *testing.T) {
	builder := testutil.NewWorkflowBuilder(core.StrategyParallel).
		Step("researcher").
		Step("analyst").
		Step("critic")
	dispatcher := testutil.NewScriptedDispatcher().
		Script("researcher", testutil.Behavior{Output: "sources"}).
		Script("analyst", testutil.Behavior{Output: "figures"}).
		Script("critic", testutil.Behavior{Output: "objections"})

	ec := newTestContext(t, builder.Build(), builder.Refs(), dispatcher, "evaluate the proposal")

	result, err := (&Parallel{}).Execute(ec)
	require.NoError(t, err)

	assert.False(t, result.Failed)
	assert.Len(t, result.Records, 3)
	assert.ElementsMatch(t, []string{"researcher", "analyst", "critic"}, result.ExecutedSteps)
	assert.Contains(t, result.FinalOutput, "[researcher]\nsources")
	assert.Contains(t, result.FinalOutput, "[analyst]\nfigures")
	assert.Contains(t, result.FinalOutput, "[critic]\nobjections")

	// All outputs were merged after the round settled.
	ctx, err := ec.Shared.Get(ec.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), ctx.CurrentVersion())
}

func TestParallel_Execute_StepsShareOneSnapshot(t *testing.T) {
	builder := testutil.NewWorkflowBuilder(core.StrategyParallel).
		Step("researcher").
		Step("analyst")
	dispatcher := testutil.NewScriptedDispatcher().
		Script("researcher", testutil.Behavior{Output: "sources"}).
		Script("analyst", testutil.Behavior{Output: "figures"})

	ec := newTestContext(t, builder.Build(), builder.Refs(), dispatcher, "go")

	_, err := (&Parallel{}).Execute(ec)
	require.NoError(t, err)

	// No step saw another step's output mid-run.
	for _, call := range dispatcher.Calls() {
		assert.NotContains(t, call.ContextSnapshot, "researcher")
		assert.NotContains(t, call.ContextSnapshot, "analyst")
		assert.Contains(t, call.ContextSnapshot, "initial_prompt")
	}
}

func TestParallel_Execute_PartialFailureKeepsAllRecords(t *testing.T) {
	builder := testutil.NewWorkflowBuilder(core.StrategyParallel).
		Step("researcher").
		Step("analyst").
		Step("critic")
	dispatcher := testutil.NewScriptedDispatcher().
		Script("researcher", testutil.Behavior{Output: "sources"}).
		Script("analyst", testutil.Behavior{Err: &core.PermanentDispatchError{Reason: "rejected"}}).
		Script("critic", testutil.Behavior{Output: "objections"})

	ec := newTestContext(t, builder.Build(), builder.Refs(), dispatcher, "go")

	result, err := (&Parallel{}).Execute(ec)
	require.NoError(t, err)

	assert.True(t, result.Failed)
	assert.Contains(t, result.ErrorMessage, "analyst")
	require.Len(t, result.Records, 3)

	statuses := recordStatuses(result.Records)
	assert.Equal(t, core.StepCompleted, statuses["researcher"])
	assert.Equal(t, core.StepFailed, statuses["analyst"])
	assert.Equal(t, core.StepCompleted, statuses["critic"])

	// Successful outputs were still merged.
	sources, err := ec.Shared.GetVariable(ec.ExecutionID, "researcher")
	require.NoError(t, err)
	assert.Equal(t, "sources", sources)
	_, err = ec.Shared.GetVariable(ec.ExecutionID, "analyst")
	assert.ErrorIs(t, err, core.ErrNotFound)
}
