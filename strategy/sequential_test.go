package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/teamflow/core"
	"github.com/hupe1980/teamflow/internal/testutil"
)

func TestSequential_Execute_Success(t *testing.T) {
	builder := testutil.NewWorkflowBuilder(core.StrategySequential).
		Step("researcher").
		PipedStep("writer", "researcher").
		PipedStep("editor", "writer")
	dispatcher := testutil.NewScriptedDispatcher().
		Script("researcher", testutil.Behavior{Output: "sources", Usage: core.Usage{TokensIn: 10, TokensOut: 5}}).
		Script("writer", testutil.Behavior{Output: "draft", Usage: core.Usage{TokensIn: 20, TokensOut: 15}}).
		Script("editor", testutil.Behavior{Output: "final article"})

	ec := newTestContext(t, builder.Build(), builder.Refs(), dispatcher, "write about solar sails")

	result, err := (&Sequential{}).Execute(ec)
	require.NoError(t, err)

	assert.False(t, result.Failed)
	assert.Equal(t, "final article", result.FinalOutput)
	assert.Equal(t, []string{"researcher", "writer", "editor"}, result.ExecutedSteps)
	assert.Empty(t, result.SkippedSteps)
	require.Len(t, result.Records, 3)
	assert.Equal(t, int64(30), result.Usage.TokensIn)

	// Later steps consumed the upstream outputs, not the initial prompt.
	calls := dispatcher.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, "write about solar sails", calls[0].Input)
	assert.Equal(t, "sources", calls[1].Input)
	assert.Equal(t, "draft", calls[2].Input)

	// Outputs were published into the shared context step by step.
	draft, err := ec.Shared.GetVariable(ec.ExecutionID, "writer")
	require.NoError(t, err)
	assert.Equal(t, "draft", draft)
}

func TestSequential_Execute_CombinedInput(t *testing.T) {
	builder := testutil.NewWorkflowBuilder(core.StrategySequential).
		Step("researcher").
		Step("critic").
		CombinedStep("writer", "researcher", "critic")
	dispatcher := testutil.NewScriptedDispatcher().
		Script("researcher", testutil.Behavior{Output: "sources"}).
		Script("critic", testutil.Behavior{Output: "objections"}).
		Script("writer", testutil.Behavior{Output: "balanced article"})

	ec := newTestContext(t, builder.Build(), builder.Refs(), dispatcher, "cover both sides")

	result, err := (&Sequential{}).Execute(ec)
	require.NoError(t, err)

	assert.False(t, result.Failed)
	assert.Equal(t, "balanced article", result.FinalOutput)
	assert.Equal(t, []string{"researcher", "critic", "writer"}, result.ExecutedSteps)

	// The combined step received both upstream outputs, labeled per source.
	calls := dispatcher.Calls()
	require.Len(t, calls, 3)
	assert.Contains(t, calls[2].Input, "[researcher]\nsources")
	assert.Contains(t, calls[2].Input, "[critic]\nobjections")

	for _, ref := range []string{"researcher", "critic", "writer"} {
		v, err := ec.Shared.GetVariable(ec.ExecutionID, ref)
		require.NoError(t, err)
		assert.NotEmpty(t, v)
	}
}

func TestSequential_Execute_FailureSkipsRemaining(t *testing.T) {
	builder := testutil.NewWorkflowBuilder(core.StrategySequential).
		Step("researcher").
		PipedStep("writer", "researcher").
		PipedStep("editor", "writer")
	dispatcher := testutil.NewScriptedDispatcher().
		Script("researcher", testutil.Behavior{Output: "sources"}).
		Script("writer", testutil.Behavior{Err: &core.PermanentDispatchError{Reason: "rejected input"}})

	ec := newTestContext(t, builder.Build(), builder.Refs(), dispatcher, "go")

	result, err := (&Sequential{}).Execute(ec)
	require.NoError(t, err)

	assert.True(t, result.Failed)
	assert.Contains(t, result.ErrorMessage, "writer")
	assert.Equal(t, []string{"researcher", "writer"}, result.ExecutedSteps)
	assert.Equal(t, []string{"editor"}, result.SkippedSteps)

	statuses := recordStatuses(result.Records)
	assert.Equal(t, core.StepCompleted, statuses["researcher"])
	assert.Equal(t, core.StepFailed, statuses["writer"])
	assert.Equal(t, core.StepSkipped, statuses["editor"])

	// The editor was never dispatched.
	assert.Zero(t, dispatcher.Attempts("editor"))

	// The successful step's output survived the failure.
	sources, err := ec.Shared.GetVariable(ec.ExecutionID, "researcher")
	require.NoError(t, err)
	assert.Equal(t, "sources", sources)
}

func TestSequential_Execute_StepTimeout(t *testing.T) {
	builder := testutil.NewWorkflowBuilder(core.StrategySequential).
		Step("slow").Timeout(20 * time.Millisecond)
	dispatcher := testutil.NewScriptedDispatcher().
		Script("slow", testutil.Behavior{Delay: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}})

	ec := newTestContext(t, builder.Build(), builder.Refs(), dispatcher, "go")

	result, err := (&Sequential{}).Execute(ec)
	require.NoError(t, err)

	assert.True(t, result.Failed)
	require.Len(t, result.Records, 1)
	assert.Equal(t, core.StepFailed, result.Records[0].Status)
	assert.Contains(t, result.Records[0].ErrorMessage, "timed out")
}

func TestSequential_Execute_CancelledBeforeStart(t *testing.T) {
	builder := testutil.NewWorkflowBuilder(core.StrategySequential).
		Step("researcher").
		Step("writer")
	dispatcher := testutil.NewScriptedDispatcher()

	ec := newTestContext(t, builder.Build(), builder.Refs(), dispatcher, "go")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ec.Context = ctx

	result, err := (&Sequential{}).Execute(ec)
	require.NoError(t, err)

	assert.False(t, result.Failed)
	statuses := recordStatuses(result.Records)
	assert.Equal(t, core.StepCancelled, statuses["researcher"])
	assert.Equal(t, core.StepCancelled, statuses["writer"])
	assert.Empty(t, dispatcher.Calls())
}
