package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"actcore/internal/types"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	st, err := NewLocalStore(filepath.Join(t.TempDir(), "actcore.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestNewLocalStore(t *testing.T) {
	// Use in-memory database
	store, err := NewLocalStore(":memory:")
	if err != nil {
		t.Fatalf("Failed to create local store: %v", err)
	}
	defer store.Close()

	if store.GetDB() == nil {
		t.Error("GetDB returned nil")
	}

	stats, err := store.GetStats()
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}
	for _, table := range []string{"tasks", "thoughts", "correlations"} {
		if _, ok := stats[table]; !ok {
			t.Errorf("Stats missing table: %s", table)
		}
	}

	for _, m := range pendingMigrations {
		if !columnExists(store.db, m.Table, m.Column) {
			t.Errorf("migration not applied: %s.%s", m.Table, m.Column)
		}
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, RunMigrations(st.db))
	require.NoError(t, RunMigrations(st.db))
}

func TestTaskLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	task := &types.Task{
		ID:          "task-1",
		ChannelID:   "chan-1",
		Description: "answer the user",
		Status:      types.TaskStatusActive,
		Priority:    5,
		Context: &types.TaskContext{
			ChannelContext: &types.ChannelContext{ChannelID: "chan-1", ChannelType: "discord"},
			AuthorID:       "user-1",
		},
	}
	require.NoError(t, st.AddTask(ctx, task))

	got, err := st.GetTask(ctx, "task-1")
	require.NoError(t, err)
	if diff := cmp.Diff(task, got, cmpopts.EquateApproxTime(time.Millisecond)); diff != "" {
		t.Errorf("task mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, st.UpdateTaskStatus(ctx, "task-1", types.TaskStatusDeferred))
	got, err = st.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusDeferred, got.Status)

	err = st.UpdateTaskStatus(ctx, "missing", types.TaskStatusFailed)
	assert.True(t, errors.Is(err, ErrNotFound))

	err = st.UpdateTaskStatus(ctx, "task-1", types.TaskStatus("paused"))
	assert.Error(t, err)

	_, err = st.GetTask(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	deferred, err := st.ListTasks(ctx, types.TaskStatusDeferred, 10)
	require.NoError(t, err)
	require.Len(t, deferred, 1)
}

func TestThoughtLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.AddTask(ctx, &types.Task{ID: "task-1", Status: types.TaskStatusActive}))

	thought := &types.Thought{
		ID:           "th-1",
		SourceTaskID: "task-1",
		ChannelID:    "chan-1",
		Content:      "what should I do?",
		Depth:        2,
		Context: &types.ThoughtContext{
			AuthorID:       "user-1",
			SystemSnapshot: &types.SystemSnapshot{ChannelContext: &types.ChannelContext{ChannelID: "snap"}},
		},
	}
	require.NoError(t, st.AddThought(ctx, thought))
	assert.Equal(t, types.ThoughtStatusPending, thought.Status)
	assert.Equal(t, types.ThoughtTypeStandard, thought.ThoughtType)

	final := &types.FinalAction{ActionType: types.ActionPonder, Parameters: map[string]any{"questions": []any{"why?"}}}
	require.NoError(t, st.UpdateThoughtStatus(ctx, "th-1", types.ThoughtStatusCompleted, final))
	require.NoError(t, st.AppendPonderNotes(ctx, "th-1", []string{"why?"}))
	require.NoError(t, st.AppendPonderNotes(ctx, "th-1", []string{"how?"}))

	got, err := st.GetThought(ctx, "th-1")
	require.NoError(t, err)
	assert.Equal(t, types.ThoughtStatusCompleted, got.Status)
	assert.Equal(t, 2, got.Depth)
	assert.Equal(t, []string{"why?", "how?"}, got.PonderNotes)
	require.NotNil(t, got.FinalAction)
	assert.Equal(t, types.ActionPonder, got.FinalAction.ActionType)
	assert.Equal(t, "snap", got.Context.SystemSnapshot.ChannelContext.ChannelID)

	require.NoError(t, st.AddThought(ctx, &types.Thought{ID: "th-2", SourceTaskID: "task-1", ParentThoughtID: "th-1", Depth: 3}))
	thoughts, err := st.ThoughtsForTask(ctx, "task-1")
	require.NoError(t, err)
	require.Len(t, thoughts, 2)
	assert.Equal(t, "th-1", thoughts[0].ID)
	assert.Equal(t, "th-1", thoughts[1].ParentThoughtID)

	assert.ErrorIs(t, st.UpdateThoughtStatus(ctx, "nope", types.ThoughtStatusFailed, nil), ErrNotFound)
	assert.ErrorIs(t, st.AppendPonderNotes(ctx, "nope", []string{"x"}), ErrNotFound)
	_, err = st.GetThought(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCorrelations_AppendOnly(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	c := &types.Correlation{ID: "corr-1", TaskID: "task-1", ThoughtID: "th-1", Handler: "ToolHandler", ActionType: "tool"}
	require.NoError(t, st.AddCorrelation(ctx, c))
	assert.Equal(t, types.CorrelationPending, c.Status)

	require.NoError(t, st.UpdateCorrelation(ctx, "corr-1", types.CorrelationUpdate{Status: types.CorrelationCompleted, DurationMS: 12}))

	// A closed record cannot be rewritten
	err := st.UpdateCorrelation(ctx, "corr-1", types.CorrelationUpdate{Status: types.CorrelationFailed})
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := st.Correlations(ctx, "th-1", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, types.CorrelationCompleted, got[0].Status)
	assert.Equal(t, int64(12), got[0].DurationMS)
	assert.False(t, got[0].EndedAt.IsZero())
}

func TestTimestampOrdering_SubSecond(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	early := base.Add(100 * time.Millisecond)
	late := base.Add(120 * time.Millisecond)

	require.NoError(t, st.AddTask(ctx, &types.Task{ID: "task-old", ChannelID: "c", Description: "old", CreatedAt: early}))
	require.NoError(t, st.AddTask(ctx, &types.Task{ID: "task-new", ChannelID: "c", Description: "new", CreatedAt: late}))

	tasks, err := st.ListTasks(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "task-new", tasks[0].ID)
	assert.Equal(t, "task-old", tasks[1].ID)

	// Inserted newest first so rowid cannot mask a wrong text order.
	require.NoError(t, st.AddThought(ctx, &types.Thought{ID: "th-late", SourceTaskID: "task-new", Content: "b", CreatedAt: late}))
	require.NoError(t, st.AddThought(ctx, &types.Thought{ID: "th-early", SourceTaskID: "task-new", Content: "a", CreatedAt: early}))

	thoughts, err := st.ThoughtsForTask(ctx, "task-new")
	require.NoError(t, err)
	require.Len(t, thoughts, 2)
	assert.Equal(t, "th-early", thoughts[0].ID)
	assert.Equal(t, "th-late", thoughts[1].ID)

	require.NoError(t, st.AddCorrelation(ctx, &types.Correlation{ID: "corr-late", ThoughtID: "th-1", StartedAt: late}))
	require.NoError(t, st.AddCorrelation(ctx, &types.Correlation{ID: "corr-early", ThoughtID: "th-1", StartedAt: early}))

	corrs, err := st.Correlations(ctx, "th-1", 10)
	require.NoError(t, err)
	require.Len(t, corrs, 2)
	assert.Equal(t, "corr-late", corrs[0].ID)
	assert.True(t, corrs[0].StartedAt.Equal(late))
}

func TestFormatTime(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 100_000_000, time.FixedZone("CEST", 2*60*60))
	assert.Equal(t, "2025-06-01T10:00:00.100000000Z", FormatTime(ts))
	assert.Len(t, FormatTime(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)), len(FormatTime(ts)))

	// Rows written with a trimmed fraction still read back.
	assert.True(t, ParseTime("2025-06-01T10:00:00.1Z").Equal(ts))
	assert.True(t, ParseTime(FormatTime(ts)).Equal(ts))
	assert.True(t, ParseTime("yesterday").IsZero())
}
