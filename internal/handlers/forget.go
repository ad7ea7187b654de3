package handlers

import (
	"context"
	"errors"
	"fmt"

	"actcore/internal/logging"
	"actcore/internal/types"
)

// ForgetHandler deletes a node from the memory graph.
type ForgetHandler struct {
	BaseHandler
}

// NewForgetHandler creates the FORGET handler.
func NewForgetHandler(deps Dependencies) *ForgetHandler {
	return &ForgetHandler{BaseHandler: newBase(deps, "ForgetHandler", types.ActionForget)}
}

// Handle deletes the node, subject to the scope authorization gate.
func (h *ForgetHandler) Handle(ctx context.Context, result *types.ActionResult, thought *types.Thought, dc types.DispatchContext) (string, error) {
	return h.run(ctx, result, thought, dc, h.handle)
}

func (h *ForgetHandler) handle(ctx context.Context, inv *invocation) (outcome, error) {
	p, err := types.DecodeParams[types.ForgetParams](inv.params)
	if err != nil {
		return h.invalidParams(ctx, inv, err)
	}
	node := p.Node
	data := map[string]any{"node_id": node.ID, "scope": string(node.Scope)}

	if err := h.authorizeScope(node.Scope, inv.dc); err != nil {
		// Denied locally; this is not escalated to the Wise Authority
		logging.Handlers("FORGET of %s in %s scope denied for thought %s: not WA authorized", node.ID, node.Scope, inv.thought.ID)
		h.auditForget(ctx, inv, p, "denied")
		out, ferr := h.fail(ctx, inv, types.ErrKindAuthorizationDenied, err, fmt.Sprintf(
			"FORGET action denied: removing '%s' from %s scope requires Wise Authority authorization. "+
				"The node was not removed.", node.ID, node.Scope.Upper()))
		out.data = data
		return out, ferr
	}
	if h.deps.Memory == nil {
		return h.missingBus(ctx, inv, "memory")
	}

	res, err := h.deps.Memory.Forget(ctx, node)
	if err == nil && res.Status != types.MemoryOpOK {
		err = errors.New(res.Describe())
	}
	if err != nil {
		h.auditForget(ctx, inv, p, "failed")
		cause := &types.HandlerError{Kind: types.ErrKindExecutionFailed, Action: types.ActionForget, Op: "forget", Err: err}
		out, ferr := h.fail(ctx, inv, types.ErrKindExecutionFailed, cause,
			fmt.Sprintf("FORGET action failed for node '%s' in %s scope: %v", node.ID, node.Scope.Upper(), err))
		out.data = data
		return out, ferr
	}

	h.auditForget(ctx, inv, p, OutcomeSuccess)
	content := fmt.Sprintf("FORGET action completed: removed node '%s' from %s scope (reason: %s).",
		node.ID, node.Scope.Upper(), p.Reason)
	id, err := h.completeWithFollowUp(ctx, inv, types.ThoughtStatusCompleted, content)
	return outcome{followUpID: id, data: data}, err
}

// auditForget records the forget-specific event unless no_audit is set.
// The handler start and outcome events are always written.
func (h *ForgetHandler) auditForget(ctx context.Context, inv *invocation, p *types.ForgetParams, result string) {
	if p.NoAudit {
		return
	}
	h.emitAudit(ctx, types.AuditEvent{
		EventType:    "memory_forget",
		Actor:        inv.dc.Actor(),
		Handler:      h.name,
		ThoughtID:    inv.thought.ID,
		TaskID:       inv.thought.SourceTaskID,
		ActionType:   types.ActionForget,
		WAAuthorized: inv.dc.WAAuthorized,
		Outcome:      result,
		Timestamp:    h.deps.Now(),
		Data: map[string]any{
			"node_id": p.Node.ID,
			"scope":   string(p.Node.Scope),
			"reason":  p.Reason,
		},
	})
}
