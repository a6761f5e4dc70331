package runner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/teamflow/core"
	"github.com/hupe1980/teamflow/internal/testutil"
	"github.com/hupe1980/teamflow/status"
	"github.com/hupe1980/teamflow/store"
)

func TestRunner_Submit_CompletesSequentialRun(t *testing.T) {
	builder := testutil.NewWorkflowBuilder(core.StrategySequential).
		Name("editorial").
		Step("researcher").
		PipedStep("writer", "researcher")
	dispatcher := testutil.NewScriptedDispatcher().
		Script("researcher", testutil.Behavior{Output: "sources", Usage: core.Usage{TokensIn: 10}}).
		Script("writer", testutil.Behavior{Output: "article", Usage: core.Usage{TokensIn: 20}})

	r := New(dispatcher)

	executionID, err := r.Submit(context.Background(), builder.Build(), builder.Refs(), "write a solar sails brief")
	require.NoError(t, err)
	require.NotEmpty(t, executionID)

	result, err := r.Wait(context.Background(), executionID)
	require.NoError(t, err)

	assert.Equal(t, core.ExecutionCompleted, result.Status)
	assert.Equal(t, "article", result.FinalOutput)
	assert.Equal(t, []string{"researcher", "writer"}, result.ExecutedSteps)
	assert.Equal(t, int64(30), result.Usage.TokensIn)

	execution, err := r.GetStatus(executionID)
	require.NoError(t, err)
	assert.Equal(t, core.ExecutionCompleted, execution.Status)
	assert.Equal(t, "editorial", execution.TeamName)
	assert.Equal(t, 2, execution.CurrentStep)
	assert.InDelta(t, 1.0, execution.Progress, 1e-9)
	assert.NotNil(t, execution.CompletedAt)
}

func TestRunner_Submit_CompileErrorRegistersNothing(t *testing.T) {
	def := core.WorkflowDefinition{
		Strategy: core.StrategySequential,
		Steps: []core.StepSpec{
			{AgentRef: "a", DependsOn: []string{"b"}},
			{AgentRef: "b", DependsOn: []string{"a"}},
		},
	}

	r := New(testutil.NewScriptedDispatcher())

	_, err := r.Submit(context.Background(), def, []string{"a", "b"}, "go")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrCompile)
}

func TestRunner_FailedRunKeepsPartialResults(t *testing.T) {
	builder := testutil.NewWorkflowBuilder(core.StrategyParallel).
		Step("researcher").
		Step("analyst")
	dispatcher := testutil.NewScriptedDispatcher().
		Script("researcher", testutil.Behavior{Output: "sources"}).
		Script("analyst", testutil.Behavior{Err: &core.PermanentDispatchError{Reason: "rejected"}})

	r := New(dispatcher)

	executionID, err := r.Submit(context.Background(), builder.Build(), builder.Refs(), "go")
	require.NoError(t, err)

	result, err := r.Wait(context.Background(), executionID)
	require.NoError(t, err)

	assert.Equal(t, core.ExecutionFailed, result.Status)
	assert.Contains(t, result.ErrorMessage, "analyst")
	require.Len(t, result.Records, 2)
}

func TestRunner_Stop_IsIdempotent(t *testing.T) {
	release := make(chan struct{})
	builder := testutil.NewWorkflowBuilder(core.StrategySequential).Step("slow")
	dispatcher := testutil.NewScriptedDispatcher().
		Script("slow", testutil.Behavior{Delay: func(ctx context.Context) error {
			select {
			case <-release:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}})

	r := New(dispatcher)

	executionID, err := r.Submit(context.Background(), builder.Build(), builder.Refs(), "go")
	require.NoError(t, err)

	events, err := r.Watch(executionID)
	require.NoError(t, err)

	require.NoError(t, r.Stop(executionID))

	result, err := r.Wait(context.Background(), executionID)
	require.NoError(t, err)
	assert.Equal(t, core.ExecutionCancelled, result.Status)

	// A second stop on the terminal run is acknowledged without effect.
	require.NoError(t, r.Stop(executionID))

	var terminalEvents int
	for evt := range events {
		if evt.Type == status.EventStatusUpdate && evt.Status.Terminal() {
			terminalEvents++
		}
	}
	assert.Equal(t, 1, terminalEvents)
	close(release)
}

func TestRunner_Stop_Unknown(t *testing.T) {
	r := New(testutil.NewScriptedDispatcher())
	assert.ErrorIs(t, r.Stop("missing"), core.ErrNotFound)
}

func TestRunner_GetResult_BeforeTerminalFails(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	builder := testutil.NewWorkflowBuilder(core.StrategySequential).Step("slow")
	dispatcher := testutil.NewScriptedDispatcher().
		Script("slow", testutil.Behavior{Delay: func(ctx context.Context) error {
			select {
			case <-release:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}})

	r := New(dispatcher)

	executionID, err := r.Submit(context.Background(), builder.Build(), builder.Refs(), "go")
	require.NoError(t, err)

	_, err = r.GetResult(executionID)
	assert.Error(t, err)

	require.NoError(t, r.Stop(executionID))
	_, err = r.Wait(context.Background(), executionID)
	require.NoError(t, err)
}

func TestRunner_Watch_StreamsOrderedEvents(t *testing.T) {
	builder := testutil.NewWorkflowBuilder(core.StrategySequential).Step("researcher")
	dispatcher := testutil.NewScriptedDispatcher().
		Script("researcher", testutil.Behavior{Output: "sources"})

	r := New(dispatcher)

	executionID, err := r.Submit(context.Background(), builder.Build(), builder.Refs(), "go")
	require.NoError(t, err)

	events, err := r.Watch(executionID)
	require.NoError(t, err)

	_, err = r.Wait(context.Background(), executionID)
	require.NoError(t, err)

	var lastSeq uint64
	var sawTerminal bool
	first := true
	for evt := range events {
		if !first {
			assert.Greater(t, evt.Seq, lastSeq)
		}
		first = false
		lastSeq = evt.Seq
		if evt.Type == status.EventStatusUpdate && evt.Status.Terminal() {
			sawTerminal = true
			assert.Equal(t, core.ExecutionCompleted, evt.Status)
		}
	}
	assert.True(t, sawTerminal)
}

func TestRunner_GetLogs_ServedFromStoreAfterFinalization(t *testing.T) {
	builder := testutil.NewWorkflowBuilder(core.StrategySequential).Step("researcher")
	dispatcher := testutil.NewScriptedDispatcher().
		Script("researcher", testutil.Behavior{Output: "sources"})

	persisted := store.NewInMemoryStore()
	r := New(dispatcher, func(o *Options) { o.Store = persisted })

	executionID, err := r.Submit(context.Background(), builder.Build(), builder.Refs(), "go")
	require.NoError(t, err)

	// Agents exchange a message while the run is live.
	require.NoError(t, r.Bus().Send(executionID,
		core.NewMessage(executionID, "researcher", "", core.MessageInfo, "starting lookup")))

	_, err = r.Wait(context.Background(), executionID)
	require.NoError(t, err)

	logs, err := r.GetLogs(executionID, core.LogFilter{From: "researcher"})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "starting lookup", logs[0].Payload)

	// Persistence captured the execution, its records and snapshots.
	stored, err := persisted.GetExecution(executionID)
	require.NoError(t, err)
	assert.Equal(t, core.ExecutionCompleted, stored.Status)

	records, err := persisted.ListRecords(executionID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, core.StepCompleted, records[0].Status)

	snapshots, err := persisted.ListSnapshots(executionID)
	require.NoError(t, err)
	assert.NotEmpty(t, snapshots)
	final := snapshots[len(snapshots)-1]
	assert.Equal(t, "sources", final.Variables["researcher"])
}

func TestRunner_MaxConcurrentExecutions(t *testing.T) {
	release := make(chan struct{})
	builder := testutil.NewWorkflowBuilder(core.StrategySequential).Step("slow")
	dispatcher := testutil.NewScriptedDispatcher().
		Script("slow", testutil.Behavior{Delay: func(ctx context.Context) error {
			select {
			case <-release:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}})

	r := New(dispatcher, func(o *Options) { o.MaxConcurrentExecutions = 1 })

	first, err := r.Submit(context.Background(), builder.Build(), builder.Refs(), "go")
	require.NoError(t, err)
	second, err := r.Submit(context.Background(), builder.Build(), builder.Refs(), "go")
	require.NoError(t, err)

	// The second run queues behind the limiter and never starts dispatching.
	require.Eventually(t, func() bool {
		execution, err := r.GetStatus(first)
		return err == nil && execution.Status == core.ExecutionRunning
	}, time.Second, 5*time.Millisecond)

	execution, err := r.GetStatus(second)
	require.NoError(t, err)
	assert.Equal(t, core.ExecutionPending, execution.Status)

	close(release)

	for _, id := range []string{first, second} {
		result, err := r.Wait(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, core.ExecutionCompleted, result.Status)
	}
}

func TestRunner_CancelledWhilePending(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	builder := testutil.NewWorkflowBuilder(core.StrategySequential).Step("slow")
	dispatcher := testutil.NewScriptedDispatcher().
		Script("slow", testutil.Behavior{Delay: func(ctx context.Context) error {
			select {
			case <-release:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}})

	r := New(dispatcher, func(o *Options) { o.MaxConcurrentExecutions = 1 })

	first, err := r.Submit(context.Background(), builder.Build(), builder.Refs(), "go")
	require.NoError(t, err)
	second, err := r.Submit(context.Background(), builder.Build(), builder.Refs(), "go")
	require.NoError(t, err)

	// Stop the queued run before it ever acquired a slot.
	require.NoError(t, r.Stop(second))

	result, err := r.Wait(context.Background(), second)
	require.NoError(t, err)
	assert.Equal(t, core.ExecutionCancelled, result.Status)
	assert.Empty(t, result.Records)

	require.NoError(t, r.Stop(first))
	_, err = r.Wait(context.Background(), first)
	require.NoError(t, err)
}

func TestRunner_FailedRunEmitsResultEvent(t *testing.T) {
	builder := testutil.NewWorkflowBuilder(core.StrategySequential).Step("researcher")
	dispatcher := testutil.NewScriptedDispatcher().
		Script("researcher", testutil.Behavior{Err: &core.PermanentDispatchError{Reason: "rejected"}})

	r := New(dispatcher)

	executionID, err := r.Submit(context.Background(), builder.Build(), builder.Refs(), "go")
	require.NoError(t, err)

	events, err := r.Watch(executionID)
	require.NoError(t, err)

	_, err = r.Wait(context.Background(), executionID)
	require.NoError(t, err)

	// A run without a final output still reports its result on the
	// monitoring channel.
	var results []status.Event
	for evt := range events {
		if evt.Type == status.EventResultUpdate {
			results = append(results, evt)
		}
	}
	require.Len(t, results, 1)
	require.NotNil(t, results[0].Result)
	assert.Equal(t, core.ExecutionFailed, results[0].Result.Status)
	assert.Empty(t, results[0].Result.FinalOutput)
	require.Len(t, results[0].Result.Records, 1)
}

// journalStore records the order of persistence calls on top of the
// in-memory store.
type journalStore struct {
	*store.InMemoryStore
	mu  sync.Mutex
	ops []string
}

func (j *journalStore) log(op string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ops = append(j.ops, op)
}

func (j *journalStore) SaveExecution(execution *core.TeamExecution) error {
	if execution.Status.Terminal() {
		j.log("save_terminal_execution")
	}
	return j.InMemoryStore.SaveExecution(execution)
}

func (j *journalStore) AppendMessage(msg core.Message) error {
	j.log("append_message")
	return j.InMemoryStore.AppendMessage(msg)
}

func TestRunner_Finalize_PersistsLogBeforeTerminalStatus(t *testing.T) {
	release := make(chan struct{})
	builder := testutil.NewWorkflowBuilder(core.StrategySequential).Step("researcher")
	dispatcher := testutil.NewScriptedDispatcher().
		Script("researcher", testutil.Behavior{Output: "sources", Delay: func(ctx context.Context) error {
			select {
			case <-release:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}})

	journal := &journalStore{InMemoryStore: store.NewInMemoryStore()}
	r := New(dispatcher, func(o *Options) { o.Store = journal })

	executionID, err := r.Submit(context.Background(), builder.Build(), builder.Refs(), "go")
	require.NoError(t, err)

	// Exchange a message while the step is still running, then let the run
	// finish.
	require.NoError(t, r.Bus().Send(executionID,
		core.NewMessage(executionID, "researcher", "", core.MessageInfo, "starting lookup")))
	close(release)

	_, err = r.Wait(context.Background(), executionID)
	require.NoError(t, err)

	// The message log must be in the store before the run reads as
	// terminal, so GetLogs never observes a gap when it switches from the
	// live bus to the store.
	journal.mu.Lock()
	defer journal.mu.Unlock()
	appendIdx, terminalIdx := -1, -1
	for i, op := range journal.ops {
		switch op {
		case "append_message":
			appendIdx = i
		case "save_terminal_execution":
			terminalIdx = i
		}
	}
	require.NotEqual(t, -1, appendIdx)
	require.NotEqual(t, -1, terminalIdx)
	assert.Less(t, appendIdx, terminalIdx)
}
