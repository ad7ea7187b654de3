// Package types provides shared type definitions used across actcore packages.
// This package exists to break import cycles between handlers, dispatch and the
// collaborators they drive (store, memory, audit, scheduler, secrets).
// Types in this package should be foundational data structures with no complex dependencies.
package types

import "time"

// MaxThoughtDepth caps follow-up lineage depth.
const MaxThoughtDepth = 7

// =============================================================================
// TASKS
// =============================================================================

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusActive    TaskStatus = "active"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusDeferred  TaskStatus = "deferred"
	TaskStatusRejected  TaskStatus = "rejected"
	TaskStatusFailed    TaskStatus = "failed"
)

// Valid reports whether s is a known task status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusActive, TaskStatusCompleted,
		TaskStatusDeferred, TaskStatusRejected, TaskStatusFailed:
		return true
	}
	return false
}

// ChannelContext describes where an interaction happens.
type ChannelContext struct {
	ChannelID   string `json:"channel_id" yaml:"channel_id"`
	ChannelName string `json:"channel_name,omitempty" yaml:"channel_name,omitempty"`
	ChannelType string `json:"channel_type,omitempty" yaml:"channel_type,omitempty"`
}

// TaskContext is the context a task was created with.
type TaskContext struct {
	ChannelContext *ChannelContext `json:"channel_context,omitempty" yaml:"channel_context,omitempty"`
	AuthorID       string          `json:"author_id,omitempty" yaml:"author_id,omitempty"`
	AuthorName     string          `json:"author_name,omitempty" yaml:"author_name,omitempty"`
}

// SystemSnapshot is the subset of the system snapshot the handlers read.
type SystemSnapshot struct {
	ChannelContext *ChannelContext `json:"channel_context,omitempty" yaml:"channel_context,omitempty"`
}

// Task is a unit of work. It is never deleted by actcore.
type Task struct {
	ID           string       `json:"task_id" yaml:"task_id"`
	ChannelID    string       `json:"channel_id" yaml:"channel_id"`
	Description  string       `json:"description" yaml:"description"`
	Status       TaskStatus   `json:"status" yaml:"status"`
	Priority     int          `json:"priority" yaml:"priority"`
	ParentTaskID string       `json:"parent_task_id,omitempty" yaml:"parent_task_id,omitempty"`
	Context      *TaskContext `json:"context,omitempty" yaml:"context,omitempty"`
	CreatedAt    time.Time    `json:"created_at" yaml:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at" yaml:"updated_at"`
}

// =============================================================================
// THOUGHTS
// =============================================================================

// ThoughtStatus is the lifecycle state of a Thought.
type ThoughtStatus string

const (
	ThoughtStatusPending    ThoughtStatus = "pending"
	ThoughtStatusProcessing ThoughtStatus = "processing"
	ThoughtStatusCompleted  ThoughtStatus = "completed"
	ThoughtStatusFailed     ThoughtStatus = "failed"
	ThoughtStatusDeferred   ThoughtStatus = "deferred"
)

// IsTerminal reports whether no further handler may act on the thought.
func (s ThoughtStatus) IsTerminal() bool {
	return s == ThoughtStatusCompleted || s == ThoughtStatusFailed || s == ThoughtStatusDeferred
}

// ThoughtType classifies where a thought came from.
type ThoughtType string

const (
	ThoughtTypeStandard    ThoughtType = "standard"
	ThoughtTypeFollowUp    ThoughtType = "follow_up"
	ThoughtTypeObservation ThoughtType = "observation"
)

// ThoughtContext carries the identity and channel data a thought inherits.
type ThoughtContext struct {
	ChannelID          string          `json:"channel_id,omitempty" yaml:"channel_id,omitempty"`
	AuthorID           string          `json:"author_id,omitempty" yaml:"author_id,omitempty"`
	AuthorName         string          `json:"author_name,omitempty" yaml:"author_name,omitempty"`
	CorrelationID      string          `json:"correlation_id,omitempty" yaml:"correlation_id,omitempty"`
	InitialTaskContext *TaskContext    `json:"initial_task_context,omitempty" yaml:"initial_task_context,omitempty"`
	SystemSnapshot     *SystemSnapshot `json:"system_snapshot,omitempty" yaml:"system_snapshot,omitempty"`
}

// Clone returns a deep copy of the context.
func (c *ThoughtContext) Clone() *ThoughtContext {
	if c == nil {
		return nil
	}
	out := *c
	if c.InitialTaskContext != nil {
		tc := *c.InitialTaskContext
		if tc.ChannelContext != nil {
			cc := *tc.ChannelContext
			tc.ChannelContext = &cc
		}
		out.InitialTaskContext = &tc
	}
	if c.SystemSnapshot != nil {
		ss := *c.SystemSnapshot
		if ss.ChannelContext != nil {
			cc := *ss.ChannelContext
			ss.ChannelContext = &cc
		}
		out.SystemSnapshot = &ss
	}
	return &out
}

// FinalAction records the action a handler took on a thought.
type FinalAction struct {
	ActionType ActionType     `json:"action_type"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Rationale  string         `json:"rationale,omitempty"`
}

// Thought is one reasoning step belonging to exactly one Task.
type Thought struct {
	ID              string          `json:"thought_id" yaml:"thought_id"`
	SourceTaskID    string          `json:"source_task_id" yaml:"source_task_id"`
	ChannelID       string          `json:"channel_id,omitempty" yaml:"channel_id,omitempty"`
	ThoughtType     ThoughtType     `json:"thought_type" yaml:"thought_type"`
	Status          ThoughtStatus   `json:"status" yaml:"status"`
	Content         string          `json:"content" yaml:"content"`
	Depth           int             `json:"thought_depth" yaml:"thought_depth"`
	ParentThoughtID string          `json:"parent_thought_id,omitempty" yaml:"parent_thought_id,omitempty"`
	PonderNotes     []string        `json:"ponder_notes,omitempty" yaml:"ponder_notes,omitempty"`
	FinalAction     *FinalAction    `json:"final_action,omitempty" yaml:"-"`
	Context         *ThoughtContext `json:"context,omitempty" yaml:"context,omitempty"`
	CreatedAt       time.Time       `json:"created_at" yaml:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" yaml:"updated_at"`
}

// Correlation is a persisted trace record for one handler invocation.
type Correlation struct {
	ID         string    `json:"correlation_id"`
	TaskID     string    `json:"task_id"`
	ThoughtID  string    `json:"thought_id"`
	Handler    string    `json:"handler_name"`
	ActionType string    `json:"action_type"`
	TraceID    string    `json:"trace_id,omitempty"`
	SpanID     string    `json:"span_id,omitempty"`
	Status     string    `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}

// Correlation statuses.
const (
	CorrelationPending   = "pending"
	CorrelationCompleted = "completed"
	CorrelationFailed    = "failed"
)

// CorrelationUpdate closes a correlation record.
type CorrelationUpdate struct {
	Status     string
	EndedAt    time.Time
	DurationMS int64
	Error      string
}
