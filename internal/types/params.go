package types

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"
)

// Params is implemented by every typed action parameter shape.
type Params interface {
	Validate() error
}

// DecodeParams converts the reasoner's generic parameter map into the
// typed shape T and validates it. Any mismatch is a *ParameterValidationError.
func DecodeParams[T any, PT interface {
	*T
	Params
}](raw map[string]any) (*T, error) {
	var p T
	expected := reflect.TypeOf(p).Name()

	if raw == nil {
		raw = map[string]any{}
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, &ParameterValidationError{Expected: expected, Err: err}
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, &ParameterValidationError{Expected: expected, Err: err}
	}
	if err := PT(&p).Validate(); err != nil {
		return nil, &ParameterValidationError{Expected: expected, Err: err}
	}
	return &p, nil
}

// ToMap converts typed parameters back into the generic map form.
func ToMap(p any) map[string]any {
	data, err := json.Marshal(p)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

// SpeakParams sends content to a channel.
type SpeakParams struct {
	Content   string `json:"content"`
	ChannelID string `json:"channel_id,omitempty"`
}

func (p *SpeakParams) Validate() error {
	if strings.TrimSpace(p.Content) == "" {
		return fmt.Errorf("content is required")
	}
	return nil
}

// ObserveParams selects passive or active observation.
type ObserveParams struct {
	Active    bool   `json:"active"`
	ChannelID string `json:"channel_id,omitempty"`
}

func (p *ObserveParams) Validate() error { return nil }

// ToolParams names a tool and its arguments.
type ToolParams struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters"`
}

func (p *ToolParams) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("tool name is required")
	}
	if p.Parameters == nil {
		p.Parameters = map[string]any{}
	}
	return nil
}

// MemorizeParams writes a node to the memory graph.
type MemorizeParams struct {
	Node GraphNode `json:"node"`
}

func (p *MemorizeParams) Validate() error {
	if p.Node.Scope == "" {
		p.Node.Scope = ScopeLocal
	}
	if strings.TrimSpace(p.Node.Type) == "" {
		return fmt.Errorf("node type is required")
	}
	return p.Node.Validate()
}

// RecallParams queries the memory graph.
type RecallParams struct {
	Query    string     `json:"query,omitempty"`
	NodeID   string     `json:"node_id,omitempty"`
	NodeType string     `json:"node_type,omitempty"`
	Scope    GraphScope `json:"scope,omitempty"`
	Limit    int        `json:"limit,omitempty"`
}

func (p *RecallParams) Validate() error {
	if p.Scope == "" {
		p.Scope = ScopeLocal
	}
	if !p.Scope.Valid() {
		return fmt.Errorf("invalid scope %q", p.Scope)
	}
	if p.Query == "" && p.NodeID == "" && p.NodeType == "" {
		return fmt.Errorf("one of query, node_id or node_type is required")
	}
	if p.Limit < 0 {
		return fmt.Errorf("limit must be >= 0")
	}
	return nil
}

// Describe returns the human-readable query used in follow-ups.
func (p *RecallParams) Describe() string {
	switch {
	case p.Query != "":
		return p.Query
	case p.NodeID != "":
		return p.NodeID
	case p.NodeType != "":
		return p.NodeType + " nodes"
	}
	return "recall query"
}

// ForgetParams deletes a node from the memory graph.
type ForgetParams struct {
	Node    GraphNode `json:"node"`
	Reason  string    `json:"reason"`
	NoAudit bool      `json:"no_audit,omitempty"`
}

func (p *ForgetParams) Validate() error {
	if p.Node.Scope == "" {
		p.Node.Scope = ScopeLocal
	}
	if strings.TrimSpace(p.Reason) == "" {
		return fmt.Errorf("reason is required")
	}
	return p.Node.Validate()
}

// DeferParams suspends a decision pending Wise-Authority input.
type DeferParams struct {
	Reason     string         `json:"reason"`
	DeferUntil string         `json:"defer_until,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
}

func (p *DeferParams) Validate() error {
	if strings.TrimSpace(p.Reason) == "" {
		return fmt.Errorf("reason is required")
	}
	if p.DeferUntil != "" {
		if _, err := ParseDeferUntil(p.DeferUntil); err != nil {
			return err
		}
	}
	return nil
}

// ParseDeferUntil parses an RFC3339 reactivation time. A trailing "Z" and
// explicit offsets are both accepted.
func ParseDeferUntil(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("defer_until must be RFC3339: %w", err)
	}
	return t, nil
}

// RejectParams terminates the task, optionally adding an adaptive filter.
type RejectParams struct {
	Reason         string `json:"reason"`
	CreateFilter   bool   `json:"create_filter,omitempty"`
	FilterPattern  string `json:"filter_pattern,omitempty"`
	FilterType     string `json:"filter_type,omitempty"`
	FilterPriority string `json:"filter_priority,omitempty"`
}

func (p *RejectParams) Validate() error {
	if strings.TrimSpace(p.Reason) == "" {
		return fmt.Errorf("reason is required")
	}
	return nil
}

// PonderParams asks the reasoner to reflect further.
type PonderParams struct {
	Questions []string `json:"questions"`
}

func (p *PonderParams) Validate() error {
	kept := p.Questions[:0]
	for _, q := range p.Questions {
		if q = strings.TrimSpace(q); q != "" {
			kept = append(kept, q)
		}
	}
	p.Questions = kept
	if len(p.Questions) == 0 {
		return fmt.Errorf("at least one question is required")
	}
	return nil
}

// TaskCompleteParams closes the task.
type TaskCompleteParams struct {
	CompletionReason string `json:"completion_reason,omitempty"`
}

func (p *TaskCompleteParams) Validate() error {
	if p.CompletionReason == "" {
		p.CompletionReason = "Task completed successfully"
	}
	return nil
}
