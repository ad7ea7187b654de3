package handlers

import (
	"context"
	"fmt"
	"strings"

	"actcore/internal/logging"
	"actcore/internal/types"
)

// PonderHandler records questions for further reflection.
type PonderHandler struct {
	BaseHandler
}

// NewPonderHandler creates the PONDER handler.
func NewPonderHandler(deps Dependencies) *PonderHandler {
	return &PonderHandler{BaseHandler: newBase(deps, "PonderHandler", types.ActionPonder)}
}

// Handle appends the questions to the thought and continues with them.
func (h *PonderHandler) Handle(ctx context.Context, result *types.ActionResult, thought *types.Thought, dc types.DispatchContext) (string, error) {
	return h.run(ctx, result, thought, dc, h.handle)
}

func (h *PonderHandler) handle(ctx context.Context, inv *invocation) (outcome, error) {
	p, err := types.DecodeParams[types.PonderParams](inv.params)
	if err != nil {
		return h.invalidParams(ctx, inv, err)
	}

	if err := h.deps.Persistence.AppendPonderNotes(ctx, inv.thought.ID, p.Questions); err != nil {
		logging.Get(logging.CategoryHandlers).Warn("Failed to record ponder notes on thought %s: %v", inv.thought.ID, err)
	}

	var sb strings.Builder
	sb.WriteString("PONDER: reflect on the following before choosing the next action:")
	for i, q := range p.Questions {
		fmt.Fprintf(&sb, "\n%d. %s", i+1, q)
	}
	id, err := h.completeWithFollowUp(ctx, inv, types.ThoughtStatusCompleted, sb.String())
	return outcome{followUpID: id, data: map[string]any{"questions": len(p.Questions)}}, err
}
