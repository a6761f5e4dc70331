package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/teamflow/core"
)

func TestInMemoryStore_SaveAndGetExecution(t *testing.T) {
	s := NewInMemoryStore()

	execution := &core.TeamExecution{
		ExecutionID: "exec-1",
		Strategy:    core.StrategySequential,
		Status:      core.ExecutionRunning,
	}
	require.NoError(t, s.SaveExecution(execution))

	// Mutating the original must not leak into the store.
	execution.Status = core.ExecutionFailed

	got, err := s.GetExecution("exec-1")
	require.NoError(t, err)
	assert.Equal(t, core.ExecutionRunning, got.Status)
}

func TestInMemoryStore_GetExecution_Unknown(t *testing.T) {
	s := NewInMemoryStore()

	_, err := s.GetExecution("missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestInMemoryStore_Records(t *testing.T) {
	s := NewInMemoryStore()

	require.NoError(t, s.SaveRecord(core.AgentExecutionRecord{ExecutionID: "exec-1", AgentRef: "a", Status: core.StepCompleted}))
	require.NoError(t, s.SaveRecord(core.AgentExecutionRecord{ExecutionID: "exec-1", AgentRef: "b", Status: core.StepFailed}))
	require.NoError(t, s.SaveRecord(core.AgentExecutionRecord{ExecutionID: "exec-2", AgentRef: "x", Status: core.StepCompleted}))

	records, err := s.ListRecords("exec-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].AgentRef)
	assert.Equal(t, "b", records[1].AgentRef)
}

func TestInMemoryStore_Messages_Filtered(t *testing.T) {
	s := NewInMemoryStore()

	require.NoError(t, s.AppendMessage(core.NewMessage("exec-1", "planner", "writer", core.MessageInfo, "one")))
	require.NoError(t, s.AppendMessage(core.NewMessage("exec-1", "writer", "planner", core.MessageError, "two")))

	messages, err := s.ListMessages("exec-1", core.LogFilter{Kind: core.MessageError})
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "two", messages[0].Payload)

	limited, err := s.ListMessages("exec-1", core.LogFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestInMemoryStore_Snapshots(t *testing.T) {
	s := NewInMemoryStore()

	require.NoError(t, s.SaveSnapshot(core.ContextSnapshot{ExecutionID: "exec-1", Version: 1, TakenAt: time.Now().UTC()}))
	require.NoError(t, s.SaveSnapshot(core.ContextSnapshot{ExecutionID: "exec-1", Version: 2, TakenAt: time.Now().UTC()}))

	snapshots, err := s.ListSnapshots("exec-1")
	require.NoError(t, err)
	require.Len(t, snapshots, 2)
	assert.Equal(t, int64(2), snapshots[1].Version)
}
