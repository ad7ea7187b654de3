package types

import (
	"fmt"
	"strings"
	"time"
)

// ActionType identifies the action selected by the reasoner.
type ActionType string

const (
	ActionSpeak        ActionType = "speak"
	ActionObserve      ActionType = "observe"
	ActionTool         ActionType = "tool"
	ActionMemorize     ActionType = "memorize"
	ActionRecall       ActionType = "recall"
	ActionForget       ActionType = "forget"
	ActionDefer        ActionType = "defer"
	ActionReject       ActionType = "reject"
	ActionPonder       ActionType = "ponder"
	ActionTaskComplete ActionType = "task_complete"
)

// AllActionTypes lists every action type in dispatch order.
var AllActionTypes = []ActionType{
	ActionSpeak, ActionObserve, ActionTool, ActionMemorize, ActionRecall,
	ActionForget, ActionDefer, ActionReject, ActionPonder, ActionTaskComplete,
}

// Valid reports whether a is a known action type.
func (a ActionType) Valid() bool {
	for _, known := range AllActionTypes {
		if a == known {
			return true
		}
	}
	return false
}

// Upper returns the action name as shown to the reasoner ("DEFER").
func (a ActionType) Upper() string {
	return strings.ToUpper(string(a))
}

// ParseActionType accepts any casing ("DEFER", "defer").
func ParseActionType(s string) (ActionType, error) {
	a := ActionType(strings.ToLower(strings.TrimSpace(s)))
	if !a.Valid() {
		return "", fmt.Errorf("unknown action type %q", s)
	}
	return a, nil
}

// ActionResult is the reasoner's selected action plus its parameters.
// Handlers treat it as read-only.
type ActionResult struct {
	SelectedAction ActionType     `json:"selected_action" yaml:"selected_action"`
	Parameters     map[string]any `json:"action_parameters" yaml:"action_parameters"`
	Rationale      string         `json:"rationale" yaml:"rationale"`
}

// DispatchContext is the per-invocation record of who, where and whether
// the call carries Wise-Authority approval. Passed by value; never mutated
// by handlers.
type DispatchContext struct {
	ChannelContext *ChannelContext `json:"channel_context,omitempty"`
	AuthorID       string          `json:"author_id,omitempty"`
	AuthorName     string          `json:"author_name,omitempty"`
	OriginService  string          `json:"origin_service,omitempty"`
	HandlerName    string          `json:"handler_name,omitempty"`
	ActionType     ActionType      `json:"action_type,omitempty"`
	TaskID         string          `json:"task_id,omitempty"`
	ThoughtID      string          `json:"thought_id,omitempty"`
	CorrelationID  string          `json:"correlation_id,omitempty"`
	WAAuthorized   bool            `json:"wa_authorized"`
	WAID           string          `json:"wa_id,omitempty"`
	EventTimestamp time.Time       `json:"event_timestamp"`
}

// ChannelID returns the dispatch channel id or "".
func (dc DispatchContext) ChannelID() string {
	if dc.ChannelContext == nil {
		return ""
	}
	return dc.ChannelContext.ChannelID
}

// Actor returns the identity that audit entries are attributed to.
func (dc DispatchContext) Actor() string {
	switch {
	case dc.WAID != "":
		return dc.WAID
	case dc.AuthorID != "":
		return dc.AuthorID
	case dc.OriginService != "":
		return dc.OriginService
	}
	return "system"
}
