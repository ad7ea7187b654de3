package handlers

import (
	"context"
	"fmt"

	"actcore/internal/logging"
	"actcore/internal/types"
)

// RejectHandler terminates a task. It never creates a follow-up.
type RejectHandler struct {
	BaseHandler
}

// NewRejectHandler creates the REJECT handler.
func NewRejectHandler(deps Dependencies) *RejectHandler {
	return &RejectHandler{BaseHandler: newBase(deps, "RejectHandler", types.ActionReject)}
}

// Handle rejects the thought's task and always returns "".
func (h *RejectHandler) Handle(ctx context.Context, result *types.ActionResult, thought *types.Thought, dc types.DispatchContext) (string, error) {
	return h.run(ctx, result, thought, dc, h.handle)
}

func (h *RejectHandler) handle(ctx context.Context, inv *invocation) (outcome, error) {
	out := outcome{status: OutcomeRejected, data: map[string]any{}}

	p, err := types.DecodeParams[types.RejectParams](inv.params)
	if err != nil {
		out.kind = types.ErrKindValidation
		out.err = err
		out.status = ""
		p = &types.RejectParams{Reason: "request could not be processed"}
	}
	out.data["reason"] = p.Reason

	if channelID := h.ResolveChannelID(ctx, inv.thought, inv.dc); channelID != "" && h.deps.Communication != nil {
		msg := fmt.Sprintf("Unable to proceed: %s", p.Reason)
		if err := h.deps.Communication.SendMessage(ctx, channelID, msg); err != nil {
			logging.Get(logging.CategoryHandlers).Warn("Failed to notify channel %s of rejection: %v", channelID, err)
			out.data["notify_error"] = err.Error()
		}
	} else {
		logging.HandlersDebug("Rejection of thought %s not announced: no channel or communication bus", inv.thought.ID)
	}

	h.setThoughtStatus(ctx, inv, types.ThoughtStatusFailed)
	h.setTaskStatus(ctx, inv, types.TaskStatusRejected)

	if p.CreateFilter {
		if id, err := h.createFilter(ctx, inv, p); err != nil {
			logging.Get(logging.CategoryHandlers).Warn("Failed to create adaptive filter for rejected thought %s: %v", inv.thought.ID, err)
			out.data["filter_error"] = err.Error()
		} else {
			out.data["filter_id"] = id
		}
	}
	return out, nil
}

func (h *RejectHandler) createFilter(ctx context.Context, inv *invocation, p *types.RejectParams) (string, error) {
	if h.deps.Filter == nil {
		return "", fmt.Errorf("filter service not available")
	}
	req := types.FilterRequest{
		Pattern:     p.FilterPattern,
		Type:        p.FilterType,
		Priority:    p.FilterPriority,
		Description: fmt.Sprintf("Created from rejection: %s", p.Reason),
		SourceID:    inv.thought.ID,
	}
	if req.Pattern == "" {
		req.Pattern = inv.thought.Content
	}
	if req.Type == "" {
		req.Type = "keyword"
	}
	if req.Priority == "" {
		req.Priority = "medium"
	}
	return h.deps.Filter.CreateFilter(ctx, req)
}
