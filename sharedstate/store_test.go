package sharedstate

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/teamflow/core"
)

func TestStore_CreateAndGet(t *testing.T) {
	store := NewStore()

	ctx, err := store.Create("exec-1", map[string]any{"initial_prompt": "write a brief"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), ctx.CurrentVersion())

	got, err := store.Get("exec-1")
	require.NoError(t, err)
	v, ok := got.GetVariable("initial_prompt")
	assert.True(t, ok)
	assert.Equal(t, "write a brief", v)
}

func TestStore_CreateDuplicate(t *testing.T) {
	store := NewStore()

	_, err := store.Create("exec-1", nil)
	require.NoError(t, err)

	_, err = store.Create("exec-1", nil)
	assert.Error(t, err)
}

func TestStore_GetUnknown(t *testing.T) {
	store := NewStore()

	_, err := store.Get("missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestStore_SetVariable_IncrementsVersion(t *testing.T) {
	store := NewStore()
	_, err := store.Create("exec-1", nil)
	require.NoError(t, err)

	v1, err := store.SetVariable("exec-1", "draft", "v1", "writer", NoVersionCheck)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v1)

	v2, err := store.SetVariable("exec-1", "draft", "v2", "writer", NoVersionCheck)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v2)

	value, err := store.GetVariable("exec-1", "draft")
	require.NoError(t, err)
	assert.Equal(t, "v2", value)
}

func TestStore_SetVariable_StaleVersionDoesNotMutate(t *testing.T) {
	store := NewStore()
	_, err := store.Create("exec-1", nil)
	require.NoError(t, err)

	_, err = store.SetVariable("exec-1", "draft", "first", "writer", 0)
	require.NoError(t, err)

	// Context is now at version 1; a write expecting version 0 is stale.
	_, err = store.SetVariable("exec-1", "draft", "second", "editor", 0)
	require.Error(t, err)

	var conflict *core.VersionConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(0), conflict.Expected)
	assert.Equal(t, int64(1), conflict.Actual)

	value, err := store.GetVariable("exec-1", "draft")
	require.NoError(t, err)
	assert.Equal(t, "first", value)

	ctx, err := store.Get("exec-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), ctx.CurrentVersion())
}

func TestStore_ApplyDelta(t *testing.T) {
	store := NewStore()
	_, err := store.Create("exec-1", nil)
	require.NoError(t, err)

	version, err := store.ApplyDelta("exec-1", map[string]any{
		"researcher": "sources",
		"analyst":    "figures",
	}, "parallel")
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)

	value, err := store.GetVariable("exec-1", "analyst")
	require.NoError(t, err)
	assert.Equal(t, "figures", value)
}

func TestStore_ApplyDelta_Empty(t *testing.T) {
	store := NewStore()
	_, err := store.Create("exec-1", nil)
	require.NoError(t, err)

	version, err := store.ApplyDelta("exec-1", nil, "parallel")
	require.NoError(t, err)
	assert.Equal(t, int64(0), version)
}

func TestStore_Subscribe_ReceivesChanges(t *testing.T) {
	store := NewStore()
	_, err := store.Create("exec-1", nil)
	require.NoError(t, err)

	ch := store.Subscribe("exec-1")

	_, err = store.SetVariable("exec-1", "draft", "v1", "writer", NoVersionCheck)
	require.NoError(t, err)

	change := <-ch
	assert.Equal(t, "exec-1", change.ExecutionID)
	assert.Equal(t, "draft", change.Key)
	assert.Equal(t, "v1", change.Value)
	assert.Equal(t, "writer", change.Actor)
	assert.Equal(t, int64(1), change.Version)

	store.Unsubscribe("exec-1", ch)
	_, open := <-ch
	assert.False(t, open)
}

func TestStore_Subscribe_SlowSubscriberDropsChanges(t *testing.T) {
	store := NewStore(func(o *Options) { o.ChangeBufferSize = 1 })
	_, err := store.Create("exec-1", nil)
	require.NoError(t, err)

	ch := store.Subscribe("exec-1")

	for i := 0; i < 5; i++ {
		_, err := store.SetVariable("exec-1", "draft", i, "writer", NoVersionCheck)
		require.NoError(t, err)
	}

	// Only the first change fit the buffer; the writer never blocked.
	change := <-ch
	assert.Equal(t, int64(1), change.Version)
	assert.Empty(t, ch)
}

func TestStore_AppendEntryAndSnapshot(t *testing.T) {
	store := NewStore()
	_, err := store.Create("exec-1", map[string]any{"initial_prompt": "go"})
	require.NoError(t, err)

	err = store.AppendEntry("exec-1", NewEntry("writer", "note", "drafting section 2"))
	require.NoError(t, err)

	_, err = store.SetVariable("exec-1", "draft", "v1", "writer", NoVersionCheck)
	require.NoError(t, err)

	snapshot, err := store.Snapshot("exec-1")
	require.NoError(t, err)
	assert.Equal(t, "exec-1", snapshot.ExecutionID)
	assert.Equal(t, int64(1), snapshot.Version)
	assert.Equal(t, "writer", snapshot.LastUpdatedBy)
	assert.Equal(t, "v1", snapshot.Variables["draft"])

	// Snapshot is a copy; mutating it leaves the live context untouched.
	snapshot.Variables["draft"] = "tampered"
	value, err := store.GetVariable("exec-1", "draft")
	require.NoError(t, err)
	assert.Equal(t, "v1", value)

	ctx, err := store.Get("exec-1")
	require.NoError(t, err)
	assert.Len(t, ctx.GetEntries(), 1)
}

func TestStore_Destroy(t *testing.T) {
	store := NewStore()
	_, err := store.Create("exec-1", nil)
	require.NoError(t, err)

	ch := store.Subscribe("exec-1")
	store.Destroy("exec-1")

	_, open := <-ch
	assert.False(t, open)

	_, err = store.Get("exec-1")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestStore_Notify_SurvivesSubscriberChurn(t *testing.T) {
	store := NewStore()
	_, err := store.Create("exec-1", nil)
	require.NoError(t, err)

	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
					_, _ = store.SetVariable("exec-1", "k", "v", "writer", NoVersionCheck)
				}
			}
		}()
	}

	// Detach subscribers while writes are notifying; no notification may
	// land on a closed channel.
	for i := 0; i < 500; i++ {
		ch := store.Subscribe("exec-1")
		store.Unsubscribe("exec-1", ch)
	}
	close(done)
	wg.Wait()

	store.Destroy("exec-1")
}
