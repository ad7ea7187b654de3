package types

import (
	"context"
	"time"
)

// Persistence is the task/thought/correlation store contract.
type Persistence interface {
	GetTask(ctx context.Context, taskID string) (*Task, error)
	UpdateTaskStatus(ctx context.Context, taskID string, status TaskStatus) error
	GetThought(ctx context.Context, thoughtID string) (*Thought, error)
	AddThought(ctx context.Context, thought *Thought) error
	UpdateThoughtStatus(ctx context.Context, thoughtID string, status ThoughtStatus, final *FinalAction) error
	AppendPonderNotes(ctx context.Context, thoughtID string, notes []string) error
	AddCorrelation(ctx context.Context, c *Correlation) error
	UpdateCorrelation(ctx context.Context, correlationID string, update CorrelationUpdate) error
}

// Message is one message fetched from a channel.
type Message struct {
	ID         string    `json:"message_id"`
	ChannelID  string    `json:"channel_id"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name"`
	Content    string    `json:"content"`
	IsBot      bool      `json:"is_bot,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// CommunicationBus sends and fetches channel messages.
type CommunicationBus interface {
	SendMessage(ctx context.Context, channelID, content string) error
	FetchMessages(ctx context.Context, channelID string, limit int) ([]Message, error)
}

// MemoryBus reads and writes the memory graph.
type MemoryBus interface {
	Memorize(ctx context.Context, node GraphNode) (MemoryOpResult, error)
	Recall(ctx context.Context, q RecallQuery) ([]GraphNode, error)
	Search(ctx context.Context, q SearchQuery) ([]GraphNode, error)
	// ListByType returns every node of nodeType in scope, up to limit.
	ListByType(ctx context.Context, scope GraphScope, nodeType string, limit int) ([]GraphNode, error)
	Forget(ctx context.Context, node GraphNode) (MemoryOpResult, error)
	// Edges returns edges where nodeID is either endpoint.
	Edges(ctx context.Context, nodeID string, scope GraphScope) ([]GraphEdge, error)
}

// ToolExecutionStatus is the structured outcome of a tool run.
type ToolExecutionStatus string

const (
	ToolStatusCompleted    ToolExecutionStatus = "completed"
	ToolStatusFailed       ToolExecutionStatus = "failed"
	ToolStatusTimeout      ToolExecutionStatus = "timeout"
	ToolStatusUnauthorized ToolExecutionStatus = "unauthorized"
	ToolStatusNotFound     ToolExecutionStatus = "not_found"
)

// ToolExecutionResult is returned by the ToolBus.
type ToolExecutionResult struct {
	ToolName      string              `json:"tool_name"`
	Status        ToolExecutionStatus `json:"status"`
	Success       bool                `json:"success"`
	Data          map[string]any      `json:"data,omitempty"`
	Error         string              `json:"error,omitempty"`
	CorrelationID string              `json:"correlation_id"`
}

// ToolBus executes named tools.
type ToolBus interface {
	ExecuteTool(ctx context.Context, name string, params map[string]any, correlationID string) (*ToolExecutionResult, error)
}

// DeferralRequest is the escalation handed to the Wise Authority.
type DeferralRequest struct {
	TaskID     string            `json:"task_id"`
	ThoughtID  string            `json:"thought_id"`
	Reason     string            `json:"reason"`
	DeferUntil string            `json:"defer_until,omitempty"`
	Priority   string            `json:"priority"`
	Context    map[string]string `json:"context,omitempty"`
	Metadata   map[string]any    `json:"metadata,omitempty"`
}

// WiseAuthorityBus escalates decisions to a human.
type WiseAuthorityBus interface {
	SendDeferral(ctx context.Context, req DeferralRequest) error
}

// AuditEvent is one entry handed to the AuditBus.
type AuditEvent struct {
	EventType    string         `json:"event_type"`
	Actor        string         `json:"actor"`
	Handler      string         `json:"handler"`
	ThoughtID    string         `json:"thought_id,omitempty"`
	TaskID       string         `json:"task_id,omitempty"`
	ActionType   ActionType     `json:"action_type,omitempty"`
	WAAuthorized bool           `json:"wa_authorized"`
	Outcome      string         `json:"outcome"`
	Timestamp    time.Time      `json:"timestamp"`
	Data         map[string]any `json:"data,omitempty"`
}

// AuditBus records audit events.
type AuditBus interface {
	LogEvent(ctx context.Context, event AuditEvent) error
}

// TaskScheduler reactivates deferred tasks at a future time.
type TaskScheduler interface {
	// ScheduleDeferredTask receives deferUntil exactly as the reasoner
	// supplied it and returns the scheduled task id.
	ScheduleDeferredTask(ctx context.Context, taskID, thoughtID, deferUntil, reason string) (string, error)
}

// FilterRequest asks the adaptive filter to start matching a pattern.
type FilterRequest struct {
	Pattern     string `json:"pattern"`
	Type        string `json:"type"`
	Priority    string `json:"priority"`
	Description string `json:"description,omitempty"`
	SourceID    string `json:"source_id,omitempty"`
}

// FilterService creates adaptive filters.
type FilterService interface {
	CreateFilter(ctx context.Context, req FilterRequest) (string, error)
}

// SecretsDecapsulator replaces secret references the action is allowed
// to see with their plaintext.
type SecretsDecapsulator interface {
	DecapsulateParameters(ctx context.Context, action ActionType, params map[string]any, accessor string) (map[string]any, error)
}
