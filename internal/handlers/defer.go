package handlers

import (
	"context"
	"fmt"

	"actcore/internal/logging"
	"actcore/internal/types"
)

// deferralPriority is used for every escalation; priority hints in the
// reasoner's context are kept as metadata only.
const deferralPriority = "medium"

// DeferHandler suspends a decision pending Wise-Authority input.
type DeferHandler struct {
	BaseHandler
}

// NewDeferHandler creates the DEFER handler.
func NewDeferHandler(deps Dependencies) *DeferHandler {
	return &DeferHandler{BaseHandler: newBase(deps, "DeferHandler", types.ActionDefer)}
}

// Handle defers the thought and its task. It never creates a follow-up.
func (h *DeferHandler) Handle(ctx context.Context, result *types.ActionResult, thought *types.Thought, dc types.DispatchContext) (string, error) {
	return h.run(ctx, result, thought, dc, h.handle)
}

func (h *DeferHandler) handle(ctx context.Context, inv *invocation) (outcome, error) {
	out := outcome{status: OutcomeDeferred, data: map[string]any{}}

	p, err := types.DecodeParams[types.DeferParams](inv.params)
	if err != nil {
		// A malformed deferral is still a deferral
		out.kind = types.ErrKindValidation
		out.err = err
		out.status = ""
		p = &types.DeferParams{Reason: fmt.Sprintf("Deferred with invalid parameters: %v", err)}
	}
	out.data["reason"] = p.Reason

	if p.DeferUntil != "" {
		if h.deps.Scheduler == nil {
			logging.Get(logging.CategoryHandlers).Warn("defer_until %s ignored for task %s: no scheduler", p.DeferUntil, inv.thought.SourceTaskID)
		} else if scheduledID, err := h.deps.Scheduler.ScheduleDeferredTask(ctx, inv.thought.SourceTaskID, inv.thought.ID, p.DeferUntil, p.Reason); err != nil {
			logging.Get(logging.CategoryHandlers).Warn("Failed to schedule reactivation of task %s at %s: %v", inv.thought.SourceTaskID, p.DeferUntil, err)
			out.data["schedule_error"] = err.Error()
		} else {
			logging.Handlers("Task %s will reactivate at %s (schedule %s)", inv.thought.SourceTaskID, p.DeferUntil, scheduledID)
			out.data["scheduled_task_id"] = scheduledID
		}
		out.data["defer_until"] = p.DeferUntil
	}

	if err := h.escalate(ctx, inv, p); err != nil {
		logging.Get(logging.CategoryHandlers).Warn("Wise Authority escalation for thought %s failed; deferring anyway: %v", inv.thought.ID, err)
		out.data["escalation_error"] = err.Error()
	}

	h.setThoughtStatus(ctx, inv, types.ThoughtStatusDeferred)
	// No task is exempt, including system and root tasks
	h.setTaskStatus(ctx, inv, types.TaskStatusDeferred)
	return out, nil
}

func (h *DeferHandler) escalate(ctx context.Context, inv *invocation, p *types.DeferParams) error {
	if h.deps.WiseAuthority == nil {
		return &types.HandlerError{Kind: types.ErrKindEscalationFailed, Action: types.ActionDefer, Op: "escalate", Err: fmt.Errorf("wise authority bus not available")}
	}

	req := types.DeferralRequest{
		TaskID:     inv.thought.SourceTaskID,
		ThoughtID:  inv.thought.ID,
		Reason:     p.Reason,
		DeferUntil: p.DeferUntil,
		Priority:   deferralPriority,
		Context: map[string]string{
			"channel_id": h.ResolveChannelID(ctx, inv.thought, inv.dc),
			"actor":      inv.dc.Actor(),
		},
		Metadata: map[string]any{
			"rationale":        inv.result.Rationale,
			"thought_depth":    inv.thought.Depth,
			"original_context": p.Context,
		},
	}
	if err := h.deps.WiseAuthority.SendDeferral(ctx, req); err != nil {
		return &types.HandlerError{Kind: types.ErrKindEscalationFailed, Action: types.ActionDefer, Op: "escalate", Err: err}
	}
	logging.Handlers("Escalated thought %s to Wise Authority: %s", inv.thought.ID, p.Reason)
	return nil
}
