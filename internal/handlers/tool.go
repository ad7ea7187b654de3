package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"actcore/internal/types"

	"github.com/google/uuid"
)

// ToolHandler runs a named tool through the tool bus.
type ToolHandler struct {
	BaseHandler
}

// NewToolHandler creates the TOOL handler.
func NewToolHandler(deps Dependencies) *ToolHandler {
	return &ToolHandler{BaseHandler: newBase(deps, "ToolHandler", types.ActionTool)}
}

// Handle executes the tool and reports its result in a follow-up.
func (h *ToolHandler) Handle(ctx context.Context, result *types.ActionResult, thought *types.Thought, dc types.DispatchContext) (string, error) {
	return h.run(ctx, result, thought, dc, h.handle)
}

func (h *ToolHandler) handle(ctx context.Context, inv *invocation) (outcome, error) {
	p, err := types.DecodeParams[types.ToolParams](inv.params)
	if err != nil {
		return h.invalidParams(ctx, inv, err)
	}
	if h.deps.Tools == nil {
		return h.missingBus(ctx, inv, "tool")
	}

	correlationID := uuid.New().String()
	data := map[string]any{"tool_name": p.Name, "tool_correlation_id": correlationID}

	res, err := h.deps.Tools.ExecuteTool(ctx, p.Name, p.Parameters, correlationID)
	if err != nil {
		cause := &types.HandlerError{Kind: types.ErrKindExecutionFailed, Action: types.ActionTool, Op: p.Name, Err: err}
		out, ferr := h.fail(ctx, inv, types.ErrKindExecutionFailed, cause,
			fmt.Sprintf("TOOL action failed: tool '%s' raised an error: %v", p.Name, err))
		out.data = data
		return out, ferr
	}
	if res == nil {
		res = &types.ToolExecutionResult{ToolName: p.Name, Status: types.ToolStatusFailed, Error: "tool returned no result"}
	}
	data["tool_status"] = string(res.Status)

	if !res.Success || res.Status != types.ToolStatusCompleted {
		reason := res.Error
		if reason == "" {
			reason = "no error details returned"
		}
		cause := &types.HandlerError{Kind: types.ErrKindExecutionFailed, Action: types.ActionTool, Op: p.Name, Err: fmt.Errorf("%s: %s", res.Status, reason)}
		out, ferr := h.fail(ctx, inv, types.ErrKindExecutionFailed, cause,
			fmt.Sprintf("TOOL action failed: tool '%s' finished with status %s: %s", p.Name, res.Status, reason))
		out.data = data
		return out, ferr
	}

	content := fmt.Sprintf("TOOL action executed successfully: tool '%s' returned %s. "+
		"The tool has already run for this request; do not invoke it again. Use the result to continue.",
		p.Name, renderToolData(res.Data))
	id, err := h.completeWithFollowUp(ctx, inv, types.ThoughtStatusCompleted, content)
	return outcome{followUpID: id, data: data}, err
}

func renderToolData(data map[string]any) string {
	if len(data) == 0 {
		return "no data"
	}
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(b)
}
