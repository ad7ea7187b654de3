package handlers

import (
	"time"

	"actcore/internal/types"

	"github.com/google/uuid"
)

// LastChanceGuidance is appended to follow-ups created at maximum depth.
const LastChanceGuidance = "\n\nFINAL ACTION REQUIRED: this reasoning chain has reached its maximum depth. " +
	"This is your last opportunity to act before a terminal action is forced. " +
	"Choose TASK_COMPLETE, DEFER or REJECT now."

// NewFollowUpThought builds a PENDING child of parent that inherits its
// task, channel and context. Depth is min(parent+1, MaxThoughtDepth).
func NewFollowUpThought(parent *types.Thought, content string) *types.Thought {
	return newFollowUp(parent, content, types.MaxThoughtDepth, time.Now())
}

func newFollowUp(parent *types.Thought, content string, maxDepth int, now time.Time) *types.Thought {
	if parent.Depth >= maxDepth {
		content += LastChanceGuidance
	}
	return &types.Thought{
		ID:              "th_followup_" + uuid.New().String(),
		SourceTaskID:    parent.SourceTaskID,
		ChannelID:       parent.ChannelID,
		ThoughtType:     types.ThoughtTypeFollowUp,
		Status:          types.ThoughtStatusPending,
		Content:         content,
		Depth:           min(parent.Depth+1, maxDepth),
		ParentThoughtID: parent.ID,
		Context:         parent.Context.Clone(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}
