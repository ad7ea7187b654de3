package handlers

import (
	"context"
	"errors"
	"fmt"

	"actcore/internal/types"
)

// MemorizeHandler writes a node to the memory graph.
type MemorizeHandler struct {
	BaseHandler
}

// NewMemorizeHandler creates the MEMORIZE handler.
func NewMemorizeHandler(deps Dependencies) *MemorizeHandler {
	return &MemorizeHandler{BaseHandler: newBase(deps, "MemorizeHandler", types.ActionMemorize)}
}

// Handle stores the node, subject to the scope authorization gate.
func (h *MemorizeHandler) Handle(ctx context.Context, result *types.ActionResult, thought *types.Thought, dc types.DispatchContext) (string, error) {
	return h.run(ctx, result, thought, dc, h.handle)
}

func (h *MemorizeHandler) handle(ctx context.Context, inv *invocation) (outcome, error) {
	p, err := types.DecodeParams[types.MemorizeParams](inv.params)
	if err != nil {
		return h.invalidParams(ctx, inv, err)
	}
	node := p.Node
	data := map[string]any{"node_id": node.ID, "scope": string(node.Scope)}

	if err := h.authorizeScope(node.Scope, inv.dc); err != nil {
		out, ferr := h.fail(ctx, inv, types.ErrKindAuthorizationDenied, err, fmt.Sprintf(
			"MEMORIZE action denied: writing to %s scope requires Wise Authority authorization. "+
				"Node '%s' was not stored. Do not retry without authorization.", node.Scope.Upper(), node.ID))
		out.data = data
		return out, ferr
	}
	if h.deps.Memory == nil {
		return h.missingBus(ctx, inv, "memory")
	}

	node.UpdatedBy = inv.dc.Actor()
	res, err := h.deps.Memory.Memorize(ctx, node)
	if err == nil && res.Status != types.MemoryOpOK {
		err = errors.New(res.Describe())
	}
	if err != nil {
		kind := types.ErrKindExecutionFailed
		if res.Status == types.MemoryOpDenied {
			kind = types.ErrKindAuthorizationDenied
		}
		cause := &types.HandlerError{Kind: kind, Action: types.ActionMemorize, Op: "memorize", Err: err}
		out, ferr := h.fail(ctx, inv, kind, cause,
			fmt.Sprintf("MEMORIZE action failed for node '%s' in %s scope: %v", node.ID, node.Scope.Upper(), err))
		out.data = data
		return out, ferr
	}

	content := fmt.Sprintf("MEMORIZE action completed: stored %s node '%s' in %s scope. "+
		"The memory is saved; do not memorize it again. Acknowledge the user if appropriate, then mark the task complete with TASK_COMPLETE.",
		node.Type, node.ID, node.Scope.Upper())
	id, err := h.completeWithFollowUp(ctx, inv, types.ThoughtStatusCompleted, content)
	return outcome{followUpID: id, data: data}, err
}
