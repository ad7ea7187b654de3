package handlers

import (
	"context"
	"errors"
	"testing"

	"actcore/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeferEscalatesAndDefersBoth(t *testing.T) {
	f := newFixture(t)
	h := NewDeferHandler(f.deps)

	id, err := h.Handle(context.Background(), action(types.ActionDefer, map[string]any{
		"reason":  "needs human judgment",
		"context": map[string]any{"priority": "high"},
	}), f.thought, dispatchCtx(false))
	require.NoError(t, err)
	assert.Empty(t, id)

	assert.Equal(t, types.ThoughtStatusDeferred, f.store.thought("th-1").Status)
	assert.Equal(t, types.TaskStatusDeferred, f.store.task("task-1").Status)
	assert.Empty(t, f.store.added)
	assert.Empty(t, f.sched.calls)

	require.Len(t, f.wa.requests, 1)
	req := f.wa.requests[0]
	assert.Equal(t, "task-1", req.TaskID)
	assert.Equal(t, "th-1", req.ThoughtID)
	assert.Equal(t, "needs human judgment", req.Reason)
	assert.Equal(t, "medium", req.Priority)
	assert.Equal(t, "chan-1", req.Context["channel_id"])
	assert.Equal(t, map[string]any{"priority": "high"}, req.Metadata["original_context"])

	assert.Equal(t, []string{OutcomeStart, OutcomeDeferred}, f.audit.outcomes("handler_action_defer"))
}

func TestDeferPassesTimestampVerbatimToScheduler(t *testing.T) {
	for _, ts := range []string{"2026-12-01T09:00:00Z", "2026-12-01T10:00:00+01:00", "2026-12-01T09:00:00.5Z"} {
		t.Run(ts, func(t *testing.T) {
			f := newFixture(t)
			h := NewDeferHandler(f.deps)

			_, err := h.Handle(context.Background(), action(types.ActionDefer, map[string]any{
				"reason":      "wait for release",
				"defer_until": ts,
			}), f.thought, dispatchCtx(false))
			require.NoError(t, err)

			require.Len(t, f.sched.calls, 1)
			assert.Equal(t, scheduleCall{"task-1", "th-1", ts, "wait for release"}, f.sched.calls[0])
			require.Len(t, f.wa.requests, 1)
			assert.Equal(t, ts, f.wa.requests[0].DeferUntil)
		})
	}
}

func TestDeferSucceedsWhenEscalationFails(t *testing.T) {
	f := newFixture(t)
	f.wa.err = errors.New("authority offline")
	h := NewDeferHandler(f.deps)

	id, err := h.Handle(context.Background(), action(types.ActionDefer, map[string]any{"reason": "unsure"}), f.thought, dispatchCtx(false))
	require.NoError(t, err)
	assert.Empty(t, id)

	assert.Equal(t, types.ThoughtStatusDeferred, f.store.thought("th-1").Status)
	assert.Equal(t, types.TaskStatusDeferred, f.store.task("task-1").Status)
	last := f.audit.events[len(f.audit.events)-1]
	assert.Equal(t, OutcomeDeferred, last.Outcome)
	assert.Contains(t, last.Data["escalation_error"], "authority offline")
}

func TestDeferSucceedsWithoutCollaborators(t *testing.T) {
	f := newFixture(t)
	f.deps.WiseAuthority = nil
	f.deps.Scheduler = nil
	h := NewDeferHandler(f.deps)

	_, err := h.Handle(context.Background(), action(types.ActionDefer, map[string]any{
		"reason":      "later",
		"defer_until": "2026-12-01T09:00:00Z",
	}), f.thought, dispatchCtx(false))
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusDeferred, f.store.task("task-1").Status)
}

func TestDeferSchedulerFailureStillDefers(t *testing.T) {
	f := newFixture(t)
	f.sched.err = errors.New("scheduler stopped")
	h := NewDeferHandler(f.deps)

	_, err := h.Handle(context.Background(), action(types.ActionDefer, map[string]any{
		"reason":      "later",
		"defer_until": "2026-12-01T09:00:00Z",
	}), f.thought, dispatchCtx(false))
	require.NoError(t, err)
	assert.Equal(t, types.ThoughtStatusDeferred, f.store.thought("th-1").Status)
	assert.Len(t, f.wa.requests, 1)
}

func TestDeferWithInvalidParamsStillDefers(t *testing.T) {
	f := newFixture(t)
	h := NewDeferHandler(f.deps)

	_, err := h.Handle(context.Background(), action(types.ActionDefer, map[string]any{
		"reason":      "later",
		"defer_until": "next tuesday",
	}), f.thought, dispatchCtx(false))
	require.NoError(t, err)

	assert.Equal(t, types.ThoughtStatusDeferred, f.store.thought("th-1").Status)
	assert.Equal(t, types.TaskStatusDeferred, f.store.task("task-1").Status)
	assert.Empty(t, f.sched.calls)
	require.Len(t, f.wa.requests, 1)
	assert.Contains(t, f.wa.requests[0].Reason, "Deferred with invalid parameters")
	assert.Equal(t, []string{OutcomeStart, "validation_error"}, f.audit.outcomes("handler_action_defer"))
}
