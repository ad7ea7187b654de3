package handlers

import (
	"context"

	"actcore/internal/types"
)

// TaskCompleteHandler closes the thought and its task.
type TaskCompleteHandler struct {
	BaseHandler
}

// NewTaskCompleteHandler creates the TASK_COMPLETE handler.
func NewTaskCompleteHandler(deps Dependencies) *TaskCompleteHandler {
	return &TaskCompleteHandler{BaseHandler: newBase(deps, "TaskCompleteHandler", types.ActionTaskComplete)}
}

// Handle marks the thought and task COMPLETED. No follow-up is created.
func (h *TaskCompleteHandler) Handle(ctx context.Context, result *types.ActionResult, thought *types.Thought, dc types.DispatchContext) (string, error) {
	return h.run(ctx, result, thought, dc, h.handle)
}

func (h *TaskCompleteHandler) handle(ctx context.Context, inv *invocation) (outcome, error) {
	p, err := types.DecodeParams[types.TaskCompleteParams](inv.params)
	if err != nil {
		return h.invalidParams(ctx, inv, err)
	}
	h.setThoughtStatus(ctx, inv, types.ThoughtStatusCompleted)
	h.setTaskStatus(ctx, inv, types.TaskStatusCompleted)
	return outcome{data: map[string]any{"completion_reason": p.CompletionReason}}, nil
}
