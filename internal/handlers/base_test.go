package handlers

import (
	"context"
	"errors"
	"strings"
	"testing"

	"actcore/internal/shutdown"
	"actcore/internal/tracing"
	"actcore/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFollowUpDepthIncrements(t *testing.T) {
	for _, depth := range []int{0, 1, 5, 6} {
		parent := &types.Thought{ID: "p", SourceTaskID: "task-1", Depth: depth}
		child := NewFollowUpThought(parent, "next")

		assert.Equal(t, depth+1, child.Depth)
		assert.Equal(t, "p", child.ParentThoughtID)
		assert.Equal(t, "task-1", child.SourceTaskID)
		assert.Equal(t, types.ThoughtStatusPending, child.Status)
		assert.Equal(t, types.ThoughtTypeFollowUp, child.ThoughtType)
		assert.True(t, strings.HasPrefix(child.ID, "th_followup_"))
		assert.NotContains(t, child.Content, "FINAL ACTION REQUIRED")
	}
}

func TestFollowUpAtMaxDepthStaysCapped(t *testing.T) {
	parent := &types.Thought{ID: "p", SourceTaskID: "task-1", Depth: types.MaxThoughtDepth}
	child := NewFollowUpThought(parent, "next")

	assert.Equal(t, types.MaxThoughtDepth, child.Depth)
	assert.True(t, strings.HasPrefix(child.Content, "next"))
	assert.Contains(t, child.Content, LastChanceGuidance)
}

func TestFollowUpClonesContext(t *testing.T) {
	parent := &types.Thought{
		ID:      "p",
		Context: &types.ThoughtContext{AuthorID: "user-1", InitialTaskContext: &types.TaskContext{ChannelContext: &types.ChannelContext{ChannelID: "c"}}},
	}
	child := NewFollowUpThought(parent, "next")
	child.Context.InitialTaskContext.ChannelContext.ChannelID = "changed"

	assert.Equal(t, "c", parent.Context.InitialTaskContext.ChannelContext.ChannelID)
	assert.Equal(t, "user-1", child.Context.AuthorID)
}

func TestFollowUpsHaveUniqueIDs(t *testing.T) {
	parent := &types.Thought{ID: "p"}
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewFollowUpThought(parent, "x").ID
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestSuccessfulHandlerCreatesFollowUpOneDeeper(t *testing.T) {
	f := newFixture(t)
	f.thought.Depth = 3
	h := NewSpeakHandler(f.deps)

	id, err := h.Handle(context.Background(), action(types.ActionSpeak, map[string]any{"content": "hello"}), f.thought, dispatchCtx(false))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	child := f.store.thought(id)
	require.NotNil(t, child)
	assert.Equal(t, 4, child.Depth)
	assert.Equal(t, "th-1", child.ParentThoughtID)
	assert.Equal(t, types.ThoughtStatusCompleted, f.store.thought("th-1").Status)
	assert.Equal(t, []sentMessage{{"chan-1", "hello"}}, f.comm.sent)
}

func TestHandlerAtMaxDepthAppendsGuidance(t *testing.T) {
	f := newFixture(t)
	f.thought.Depth = types.MaxThoughtDepth
	h := NewSpeakHandler(f.deps)

	id, err := h.Handle(context.Background(), action(types.ActionSpeak, map[string]any{"content": "hello"}), f.thought, dispatchCtx(false))
	require.NoError(t, err)

	child := f.store.thought(id)
	assert.Equal(t, types.MaxThoughtDepth, child.Depth)
	assert.Contains(t, child.Content, "FINAL ACTION REQUIRED")
}

func TestFollowUpPersistenceFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	f.store.addErr = errors.New("disk full")
	h := NewSpeakHandler(f.deps)

	id, err := h.Handle(context.Background(), action(types.ActionSpeak, map[string]any{"content": "hello"}), f.thought, dispatchCtx(false))
	assert.Empty(t, id)
	var fe *types.FollowUpCreationError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "th-1", fe.ThoughtID)
	assert.Equal(t, types.ErrKindFollowUpCreation, types.KindOf(err))

	outcomes := f.audit.outcomes("handler_action_speak")
	assert.Equal(t, []string{OutcomeStart, "follow_up_creation_failed"}, outcomes)
}

func TestFollowUpPersistenceFailureRequestsShutdown(t *testing.T) {
	f := newFixture(t)
	f.store.addErr = errors.New("disk full")
	f.deps.Shutdown = shutdown.New()
	h := NewPonderHandler(f.deps)

	_, err := h.Handle(context.Background(), action(types.ActionPonder, map[string]any{"questions": []any{"why?"}}), f.thought, dispatchCtx(false))
	require.Error(t, err)
	assert.True(t, f.deps.Shutdown.IsShutdownRequested())
	assert.Contains(t, f.deps.Shutdown.Reason(), "PonderHandler")
}

func TestFailurePathFollowUpFailureIsAlsoFatal(t *testing.T) {
	f := newFixture(t)
	f.store.addErr = errors.New("disk full")
	h := NewMemorizeHandler(f.deps)

	_, err := h.Handle(context.Background(), action(types.ActionMemorize, map[string]any{
		"node": map[string]any{"id": "x", "type": "concept", "scope": "identity"},
	}), f.thought, dispatchCtx(false))

	var fe *types.FollowUpCreationError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, types.ThoughtStatusFailed, f.store.thought("th-1").Status)
}

func TestAuditWritesStartAndExactlyOneOutcome(t *testing.T) {
	cases := []struct {
		name   string
		result *types.ActionResult
		want   string
	}{
		{"success", action(types.ActionSpeak, map[string]any{"content": "hi"}), OutcomeSuccess},
		{"validation", action(types.ActionSpeak, map[string]any{}), "validation_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			h := NewSpeakHandler(f.deps)
			_, err := h.Handle(context.Background(), tc.result, f.thought, dispatchCtx(false))
			require.NoError(t, err)

			outcomes := f.audit.outcomes("handler_action_speak")
			require.Len(t, outcomes, 2)
			assert.Equal(t, OutcomeStart, outcomes[0])
			assert.Equal(t, tc.want, outcomes[1])
		})
	}
}

func TestAuditEventCarriesActorAndDuration(t *testing.T) {
	f := newFixture(t)
	h := NewTaskCompleteHandler(f.deps)
	dc := dispatchCtx(true)
	dc.WAID = "wa-7"

	_, err := h.Handle(context.Background(), action(types.ActionTaskComplete, nil), f.thought, dc)
	require.NoError(t, err)

	require.Len(t, f.audit.events, 2)
	last := f.audit.events[1]
	assert.Equal(t, "wa-7", last.Actor)
	assert.Equal(t, "TaskCompleteHandler", last.Handler)
	assert.Equal(t, "task-1", last.TaskID)
	assert.True(t, last.WAAuthorized)
	assert.Contains(t, last.Data, "duration_ms")
	assert.Equal(t, "Task completed successfully", last.Data["completion_reason"])
}

func TestAuditFailureDoesNotAbortHandler(t *testing.T) {
	f := newFixture(t)
	f.audit.err = errors.New("audit offline")
	h := NewTaskCompleteHandler(f.deps)

	_, err := h.Handle(context.Background(), action(types.ActionTaskComplete, nil), f.thought, dispatchCtx(false))
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusCompleted, f.store.task("task-1").Status)
}

func TestResolveChannelIDOrder(t *testing.T) {
	f := newFixture(t)
	h := NewSpeakHandler(f.deps)
	ctx := context.Background()

	full := &types.Thought{
		ID:           "t",
		SourceTaskID: "task-1",
		ChannelID:    "thought-channel",
		Context: &types.ThoughtContext{
			ChannelID:          "context-channel",
			InitialTaskContext: &types.TaskContext{ChannelContext: &types.ChannelContext{ChannelID: "initial-channel"}},
			SystemSnapshot:     &types.SystemSnapshot{ChannelContext: &types.ChannelContext{ChannelID: "snapshot-channel"}},
		},
	}

	assert.Equal(t, "chan-1", h.ResolveChannelID(ctx, full, dispatchCtx(false)))

	dc := types.DispatchContext{}
	assert.Equal(t, "thought-channel", h.ResolveChannelID(ctx, full, dc))

	full.ChannelID = ""
	assert.Equal(t, "context-channel", h.ResolveChannelID(ctx, full, dc))

	full.Context.ChannelID = ""
	assert.Equal(t, "initial-channel", h.ResolveChannelID(ctx, full, dc))

	full.Context.InitialTaskContext = nil
	assert.Equal(t, "snapshot-channel", h.ResolveChannelID(ctx, full, dc))
	assert.Zero(t, f.store.getTaskCalls)

	full.Context.SystemSnapshot = nil
	assert.Equal(t, "task-channel", h.ResolveChannelID(ctx, full, dc))
	assert.Equal(t, 1, f.store.getTaskCalls)

	full.SourceTaskID = "missing"
	assert.Empty(t, h.ResolveChannelID(ctx, full, dc))
}

func TestDecapsulationReplacesParamsButNotFinalAction(t *testing.T) {
	f := newFixture(t)
	f.tools.result = &types.ToolExecutionResult{Status: types.ToolStatusCompleted, Success: true}
	f.deps.Secrets = &fakeSecrets{replace: map[string]any{
		"parameters": map[string]any{"token": "plaintext"},
	}}
	h := NewToolHandler(f.deps)

	params := map[string]any{"name": "api", "parameters": map[string]any{"token": "{SECRET:abc:api token}"}}
	_, err := h.Handle(context.Background(), action(types.ActionTool, params), f.thought, dispatchCtx(false))
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"token": "plaintext"}, f.tools.lastParams)
	final := f.store.thought("th-1").FinalAction
	require.NotNil(t, final)
	assert.Equal(t, params, final.Parameters)
}

func TestDecapsulationFailureFallsBackToOriginalParams(t *testing.T) {
	f := newFixture(t)
	f.tools.result = &types.ToolExecutionResult{Status: types.ToolStatusCompleted, Success: true}
	f.deps.Secrets = &fakeSecrets{err: errors.New("store locked")}
	h := NewToolHandler(f.deps)

	params := map[string]any{"name": "api", "parameters": map[string]any{"token": "{SECRET:abc:api token}"}}
	_, err := h.Handle(context.Background(), action(types.ActionTool, params), f.thought, dispatchCtx(false))
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"token": "{SECRET:abc:api token}"}, f.tools.lastParams)
}

func TestNilThoughtIsRejected(t *testing.T) {
	f := newFixture(t)
	_, err := NewSpeakHandler(f.deps).Handle(context.Background(), action(types.ActionSpeak, nil), nil, dispatchCtx(false))
	assert.Equal(t, types.ErrKindValidation, types.KindOf(err))
}

func TestInvalidParamsFailThoughtWithGuidance(t *testing.T) {
	f := newFixture(t)
	h := NewPonderHandler(f.deps)

	id, err := h.Handle(context.Background(), action(types.ActionPonder, map[string]any{"questions": []any{" "}}), f.thought, dispatchCtx(false))
	require.NoError(t, err)

	assert.Equal(t, types.ThoughtStatusFailed, f.store.thought("th-1").Status)
	assert.Contains(t, f.store.thought(id).Content, "PONDER action failed")
}

func TestTrackerRecordsCorrelationPerInvocation(t *testing.T) {
	f := newFixture(t)
	f.tools.err = errors.New("boom")
	f.deps.Tracker = tracing.NewTracker(f.store)
	h := NewToolHandler(f.deps)

	_, err := h.Handle(context.Background(), action(types.ActionTool, map[string]any{"name": "calculator"}), f.thought, dispatchCtx(false))
	require.NoError(t, err)

	require.Len(t, f.store.correlations, 1)
	for _, c := range f.store.correlations {
		assert.Equal(t, "ToolHandler", c.Handler)
		assert.Equal(t, "th-1", c.ThoughtID)
		assert.Equal(t, types.CorrelationFailed, c.Status)
		assert.Contains(t, c.Error, "boom")
	}
}
