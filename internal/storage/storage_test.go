package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obra/lace-sub014/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lace.db")
	s := Open(path)
	t.Cleanup(func() { s.Close() })
	require.False(t, s.Degraded(), "expected a real sqlite file to open cleanly")
	return s
}

func TestSaveEventDuplicateApprovalResponseIsNoop(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SaveThread(ctx, types.Thread{ID: "lace_20250731_abc123"}))

	req := types.Event{
		ID: "ev1", ThreadID: "lace_20250731_abc123", Tag: types.TagToolApprovalRequest,
		Payload: types.ToolApprovalRequestPayload{CallID: "call_1"},
	}
	ok, err := s.SaveEvent(ctx, req)
	require.NoError(t, err)
	assert.True(t, ok)

	resp1 := types.Event{
		ID: "ev2", ThreadID: "lace_20250731_abc123", Tag: types.TagToolApprovalResponse,
		Payload: types.ToolApprovalResponsePayload{CallID: "call_1", Decision: types.ApprovalDeny},
	}
	ok, err = s.SaveEvent(ctx, resp1)
	require.NoError(t, err)
	assert.True(t, ok)

	resp2 := types.Event{
		ID: "ev3", ThreadID: "lace_20250731_abc123", Tag: types.TagToolApprovalResponse,
		Payload: types.ToolApprovalResponsePayload{CallID: "call_1", Decision: types.ApprovalAllowOnce},
	}
	ok, err = s.SaveEvent(ctx, resp2)
	require.NoError(t, err)
	assert.False(t, ok, "a second approval response for the same call must be a no-op")

	decision, found, err := s.ApprovalDecision(ctx, "lace_20250731_abc123", "call_1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, types.ApprovalDeny, decision, "the first recorded decision wins")

	pending, err := s.PendingApprovals(ctx, "lace_20250731_abc123")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestLoadEventsIsChronological(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.SaveThread(ctx, types.Thread{ID: "t1"}))

	for i, text := range []string{"a", "b", "c"} {
		_, err := s.SaveEvent(ctx, types.Event{
			ID: "ev" + text, ThreadID: "t1", Tag: types.TagUserMessage, Timestamp: int64(i),
			Payload: types.UserMessagePayload{Text: text},
		})
		require.NoError(t, err)
	}

	events, err := s.LoadEvents(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, text := range []string{"a", "b", "c"} {
		p, ok := events[i].Payload.(types.UserMessagePayload)
		require.True(t, ok)
		assert.Equal(t, text, p.Text)
	}
}

func TestConcurrentAppendsKeepEveryEvent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.SaveThread(ctx, types.Thread{ID: "t1"}))

	// Concurrent writers to one thread must each claim a distinct
	// sequence; a lost insert here means two reads of the same
	// MAX(sequence) escaped the transaction.
	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := s.SaveEvent(ctx, types.Event{
				ID: fmt.Sprintf("ev%d", i), ThreadID: "t1", Tag: types.TagUserMessage,
				Payload: types.UserMessagePayload{Text: fmt.Sprintf("msg %d", i)},
			})
			assert.NoError(t, err)
			assert.True(t, ok)
		}(i)
	}
	wg.Wait()

	events, err := s.LoadEvents(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, events, writers)

	seen := make(map[string]bool)
	for _, ev := range events {
		assert.False(t, seen[ev.ID], "event %s appeared twice", ev.ID)
		seen[ev.ID] = true
	}
}

func TestDeleteSessionCascades(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SaveSession(ctx, types.Session{ID: "sess1", Status: types.SessionActive}))
	require.NoError(t, s.SaveThread(ctx, types.Thread{ID: "lace_x", SessionID: "sess1"}))
	_, err := s.SaveEvent(ctx, types.Event{ID: "ev1", ThreadID: "lace_x", Tag: types.TagUserMessage,
		Payload: types.UserMessagePayload{Text: "hi"}})
	require.NoError(t, err)
	require.NoError(t, s.SaveTask(ctx, types.Task{ID: "task1", SessionID: "sess1", Status: types.TaskPending, Priority: types.TaskPriorityMedium}))

	require.NoError(t, s.DeleteSession(ctx, "sess1"))

	_, err = s.LoadSession(ctx, "sess1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.LoadThread(ctx, "lace_x")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.LoadTask(ctx, "task1")
	assert.ErrorIs(t, err, ErrNotFound)

	events, err := s.LoadEvents(ctx, "lace_x")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestAddTaskNoteOrdering(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.SaveSession(ctx, types.Session{ID: "sess1", Status: types.SessionActive}))
	require.NoError(t, s.SaveTask(ctx, types.Task{ID: "task1", SessionID: "sess1", Status: types.TaskPending, Priority: types.TaskPriorityLow}))

	for i, content := range []string{"first", "second"} {
		ok, err := s.AddTaskNote(ctx, "task1", types.TaskNote{Author: "agent", Content: content, Timestamp: int64(i)})
		require.NoError(t, err)
		require.True(t, ok)
	}

	task, err := s.LoadTask(ctx, "task1")
	require.NoError(t, err)
	require.Len(t, task.Notes, 2)
	assert.Equal(t, "first", task.Notes[0].Content)
	assert.Equal(t, "second", task.Notes[1].Content)
}

func TestDegradedModePreservesApprovalUniqueness(t *testing.T) {
	ctx := context.Background()
	s := &Store{degraded: true, mem: newMemoryFallback()}

	ok, err := s.SaveEvent(ctx, types.Event{ID: "e1", ThreadID: "t1", Tag: types.TagToolApprovalResponse,
		Payload: types.ToolApprovalResponsePayload{CallID: "c1", Decision: types.ApprovalAllowOnce}})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SaveEvent(ctx, types.Event{ID: "e2", ThreadID: "t1", Tag: types.TagToolApprovalResponse,
		Payload: types.ToolApprovalResponsePayload{CallID: "c1", Decision: types.ApprovalDeny}})
	require.NoError(t, err)
	assert.False(t, ok)
}
