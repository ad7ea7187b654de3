package dispatch

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"actcore/internal/audit"
	"actcore/internal/handlers"
	"actcore/internal/memory"
	"actcore/internal/shutdown"
	"actcore/internal/store"
	"actcore/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubHandler struct {
	action types.ActionType
	seen   []types.DispatchContext
	err    error
}

func (s *stubHandler) Name() string             { return "Stub" + s.action.Upper() }
func (s *stubHandler) Action() types.ActionType { return s.action }

func (s *stubHandler) Handle(_ context.Context, _ *types.ActionResult, _ *types.Thought, dc types.DispatchContext) (string, error) {
	s.seen = append(s.seen, dc)
	if s.err != nil {
		return "", s.err
	}
	return "follow-up-1", nil
}

func TestDispatchRoutesAndFillsContext(t *testing.T) {
	d := New(nil)
	stub := &stubHandler{action: types.ActionSpeak}
	d.Register(stub)

	thought := &types.Thought{ID: "th-1", SourceTaskID: "task-1"}
	id, err := d.Dispatch(context.Background(), &types.ActionResult{SelectedAction: types.ActionSpeak}, thought, types.DispatchContext{AuthorID: "u"})
	require.NoError(t, err)
	assert.Equal(t, "follow-up-1", id)

	require.Len(t, stub.seen, 1)
	dc := stub.seen[0]
	assert.Equal(t, "StubSPEAK", dc.HandlerName)
	assert.Equal(t, types.ActionSpeak, dc.ActionType)
	assert.Equal(t, "task-1", dc.TaskID)
	assert.Equal(t, "th-1", dc.ThoughtID)
	assert.NotEmpty(t, dc.CorrelationID)
	assert.False(t, dc.EventTimestamp.IsZero())
	assert.Equal(t, "u", dc.AuthorID)
}

func TestDispatchKeepsCallerCorrelationID(t *testing.T) {
	d := New(nil)
	stub := &stubHandler{action: types.ActionPonder}
	d.Register(stub)

	_, err := d.Dispatch(context.Background(), &types.ActionResult{SelectedAction: types.ActionPonder},
		&types.Thought{ID: "th-1"}, types.DispatchContext{CorrelationID: "corr-9"})
	require.NoError(t, err)
	assert.Equal(t, "corr-9", stub.seen[0].CorrelationID)
}

func TestDispatchUnknownAction(t *testing.T) {
	d := New(nil)
	_, err := d.Dispatch(context.Background(), &types.ActionResult{SelectedAction: "dance"}, &types.Thought{ID: "th-1"}, types.DispatchContext{})
	require.Error(t, err)
	assert.Equal(t, types.ErrKindValidation, types.KindOf(err))
	assert.Contains(t, err.Error(), "unknown action type: dance")
}

func TestDispatchRequiresResultAndThought(t *testing.T) {
	d := New(nil)
	_, err := d.Dispatch(context.Background(), nil, &types.Thought{ID: "th-1"}, types.DispatchContext{})
	assert.Equal(t, types.ErrKindValidation, types.KindOf(err))

	_, err = d.Dispatch(context.Background(), &types.ActionResult{SelectedAction: types.ActionSpeak}, nil, types.DispatchContext{})
	assert.Equal(t, types.ErrKindValidation, types.KindOf(err))
}

func TestDispatchReturnsHandlerErrorUnchanged(t *testing.T) {
	d := New(nil)
	fatal := &types.FollowUpCreationError{ThoughtID: "th-1", Err: errors.New("disk full")}
	d.Register(&stubHandler{action: types.ActionTool, err: fatal})

	_, err := d.Dispatch(context.Background(), &types.ActionResult{SelectedAction: types.ActionTool}, &types.Thought{ID: "th-1"}, types.DispatchContext{})
	assert.Same(t, fatal, err)
}

func TestDispatchRefusesAfterShutdown(t *testing.T) {
	coord := shutdown.New()
	d := New(coord)
	stub := &stubHandler{action: types.ActionSpeak}
	d.Register(stub)

	coord.RequestShutdown("operator stop")
	_, err := d.Dispatch(context.Background(), &types.ActionResult{SelectedAction: types.ActionSpeak}, &types.Thought{ID: "th-1"}, types.DispatchContext{})
	assert.ErrorIs(t, err, shutdown.ErrShuttingDown)
	assert.Empty(t, stub.seen)
}

func TestRegisterReplaces(t *testing.T) {
	d := New(nil)
	first := &stubHandler{action: types.ActionSpeak}
	second := &stubHandler{action: types.ActionSpeak}
	d.Register(first)
	d.Register(second)

	h, ok := d.Handler(types.ActionSpeak)
	require.True(t, ok)
	assert.Same(t, second, h)
}

func TestNewDefaultRegistersEveryAction(t *testing.T) {
	d := NewDefault(handlers.Dependencies{})
	assert.ElementsMatch(t, types.AllActionTypes, d.Actions())
}

// TestMemorizeThenRecallAgainstSQLite runs two actions end to end against
// the sqlite-backed store, memory graph and audit log.
func TestMemorizeThenRecallAgainstSQLite(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	st, err := store.NewLocalStore(filepath.Join(dir, "actcore.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	graph, err := memory.Open(filepath.Join(dir, "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { graph.Close() })
	auditLog, err := audit.Open(filepath.Join(dir, "audit.db"), []byte("signing-key"))
	require.NoError(t, err)
	t.Cleanup(func() { auditLog.Close() })

	require.NoError(t, st.AddTask(ctx, &types.Task{ID: "task-1", ChannelID: "cli", Status: types.TaskStatusActive}))
	first := &types.Thought{ID: "th-1", SourceTaskID: "task-1", Status: types.ThoughtStatusProcessing, Content: "remember the sky"}
	require.NoError(t, st.AddThought(ctx, first))

	d := NewDefault(handlers.Dependencies{
		Persistence: st,
		Memory:      graph,
		Audit:       auditLog,
		Now:         func() time.Time { return time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC) },
	})

	followUp, err := d.Dispatch(ctx, &types.ActionResult{
		SelectedAction: types.ActionMemorize,
		Parameters: map[string]any{"node": map[string]any{
			"id": "sky", "type": "concept", "scope": "local",
			"attributes": map[string]any{"color": "blue"},
		}},
	}, first, types.DispatchContext{AuthorID: "user-1"})
	require.NoError(t, err)
	require.NotEmpty(t, followUp)

	second, err := st.GetThought(ctx, followUp)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Depth)

	recallID, err := d.Dispatch(ctx, &types.ActionResult{
		SelectedAction: types.ActionRecall,
		Parameters:     map[string]any{"node_id": "sky"},
	}, second, types.DispatchContext{AuthorID: "user-1"})
	require.NoError(t, err)

	recalled, err := st.GetThought(ctx, recallID)
	require.NoError(t, err)
	assert.Contains(t, recalled.Content, `"color": "blue"`)
	assert.Equal(t, 2, recalled.Depth)

	report, err := auditLog.Verify(ctx)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, 4, report.Entries)
}
