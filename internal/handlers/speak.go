package handlers

import (
	"context"
	"fmt"

	"actcore/internal/types"
)

// SpeakHandler sends a message to the resolved channel.
type SpeakHandler struct {
	BaseHandler
}

// NewSpeakHandler creates the SPEAK handler.
func NewSpeakHandler(deps Dependencies) *SpeakHandler {
	return &SpeakHandler{BaseHandler: newBase(deps, "SpeakHandler", types.ActionSpeak)}
}

// Handle delivers the message and asks the reasoner what comes next.
func (h *SpeakHandler) Handle(ctx context.Context, result *types.ActionResult, thought *types.Thought, dc types.DispatchContext) (string, error) {
	return h.run(ctx, result, thought, dc, h.handle)
}

func (h *SpeakHandler) handle(ctx context.Context, inv *invocation) (outcome, error) {
	p, err := types.DecodeParams[types.SpeakParams](inv.params)
	if err != nil {
		return h.invalidParams(ctx, inv, err)
	}

	channelID := p.ChannelID
	if channelID == "" {
		channelID = h.ResolveChannelID(ctx, inv.thought, inv.dc)
	}
	if channelID == "" {
		cause := &types.HandlerError{Kind: types.ErrKindValidation, Action: types.ActionSpeak, Op: "resolve channel", Err: fmt.Errorf("no channel could be resolved")}
		return h.fail(ctx, inv, types.ErrKindValidation, cause,
			"SPEAK action failed: no channel could be resolved for this thought. Specify channel_id or choose a different action.")
	}
	if h.deps.Communication == nil {
		return h.missingBus(ctx, inv, "communication")
	}
	data := map[string]any{"channel_id": channelID}

	if err := h.deps.Communication.SendMessage(ctx, channelID, p.Content); err != nil {
		cause := &types.HandlerError{Kind: types.ErrKindExecutionFailed, Action: types.ActionSpeak, Op: "send", Err: err}
		out, ferr := h.fail(ctx, inv, types.ErrKindExecutionFailed, cause,
			fmt.Sprintf("SPEAK action failed: could not deliver the message to channel %s: %v", channelID, err))
		out.data = data
		return out, ferr
	}

	content := fmt.Sprintf("SPEAK action completed: message delivered to channel %s. "+
		"If the task is now resolved use TASK_COMPLETE; otherwise decide the next action.", channelID)
	id, err := h.completeWithFollowUp(ctx, inv, types.ThoughtStatusCompleted, content)
	return outcome{followUpID: id, data: data}, err
}
