package handlers

import (
	"context"
	"fmt"
	"sync/atomic"

	"actcore/internal/logging"
	"actcore/internal/types"

	"golang.org/x/sync/errgroup"
)

// observeScopes are searched for every channel and author seen.
var observeScopes = []types.GraphScope{types.ScopeLocal, types.ScopeIdentity, types.ScopeEnvironment}

// ObserveHandler fetches channel history (active) or just acknowledges the
// thought (passive).
type ObserveHandler struct {
	BaseHandler
}

// NewObserveHandler creates the OBSERVE handler.
func NewObserveHandler(deps Dependencies) *ObserveHandler {
	return &ObserveHandler{BaseHandler: newBase(deps, "ObserveHandler", types.ActionObserve)}
}

// Handle runs a passive or active observation.
func (h *ObserveHandler) Handle(ctx context.Context, result *types.ActionResult, thought *types.Thought, dc types.DispatchContext) (string, error) {
	return h.run(ctx, result, thought, dc, h.handle)
}

func (h *ObserveHandler) handle(ctx context.Context, inv *invocation) (outcome, error) {
	p, err := types.DecodeParams[types.ObserveParams](inv.params)
	if err != nil {
		return h.invalidParams(ctx, inv, err)
	}

	if !p.Active {
		h.setThoughtStatus(ctx, inv, types.ThoughtStatusCompleted)
		return outcome{data: map[string]any{"mode": "passive"}}, nil
	}

	channelID := p.ChannelID
	if channelID == "" {
		channelID = h.ResolveChannelID(ctx, inv.thought, inv.dc)
	}
	if channelID == "" {
		cause := &types.HandlerError{Kind: types.ErrKindValidation, Action: types.ActionObserve, Op: "resolve channel", Err: fmt.Errorf("no channel could be resolved")}
		return h.fail(ctx, inv, types.ErrKindValidation, cause,
			"OBSERVE action failed: no channel could be resolved for this thought. Specify channel_id or choose a different action.")
	}
	if h.deps.Communication == nil {
		return h.missingBus(ctx, inv, "communication")
	}

	messages, err := h.deps.Communication.FetchMessages(ctx, channelID, h.deps.Config.ObserveMessageLimit)
	if err != nil {
		cause := &types.HandlerError{Kind: types.ErrKindExecutionFailed, Action: types.ActionObserve, Op: "fetch messages", Err: err}
		return h.fail(ctx, inv, types.ErrKindExecutionFailed, cause,
			fmt.Sprintf("OBSERVE action failed: could not fetch messages from channel %s: %v", channelID, err))
	}
	if len(messages) > h.deps.Config.ObserveMessageLimit {
		messages = messages[:h.deps.Config.ObserveMessageLimit]
	}

	recalled := h.recallContext(ctx, channelID, messages)

	content := fmt.Sprintf("OBSERVE action completed: fetched %d messages from channel %s (%d related memories recalled). Review what was observed and decide the next action.",
		len(messages), channelID, recalled)
	id, err := h.completeWithFollowUp(ctx, inv, types.ThoughtStatusCompleted, content)
	return outcome{followUpID: id, data: map[string]any{
		"mode":          "active",
		"channel_id":    channelID,
		"message_count": len(messages),
		"recalled":      recalled,
	}}, err
}

// recallContext warms memory for the channel and every distinct author.
// Individual query failures are ignored.
func (h *ObserveHandler) recallContext(ctx context.Context, channelID string, messages []types.Message) int {
	if h.deps.Memory == nil {
		return 0
	}

	ids := []string{"channel/" + channelID}
	seen := make(map[string]bool)
	for _, m := range messages {
		if m.AuthorID == "" || seen[m.AuthorID] {
			continue
		}
		seen[m.AuthorID] = true
		ids = append(ids, "user/"+m.AuthorID)
	}

	var found atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.deps.Config.ObserveRecallWorkers)
	for _, id := range ids {
		for _, scope := range observeScopes {
			g.Go(func() error {
				nodes, err := h.deps.Memory.Recall(gctx, types.RecallQuery{NodeID: id, Scope: scope})
				if err != nil {
					logging.HandlersDebug("observe recall %s/%s failed: %v", scope, id, err)
					return nil
				}
				found.Add(int64(len(nodes)))
				return nil
			})
		}
	}
	_ = g.Wait()
	return int(found.Load())
}
