package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// GraphScope is the visibility/ownership tier of a memory node.
type GraphScope string

const (
	ScopeLocal       GraphScope = "local"
	ScopeIdentity    GraphScope = "identity"
	ScopeEnvironment GraphScope = "environment"
	ScopeCommunity   GraphScope = "community"
)

// Valid reports whether s is a known scope.
func (s GraphScope) Valid() bool {
	switch s {
	case ScopeLocal, ScopeIdentity, ScopeEnvironment, ScopeCommunity:
		return true
	}
	return false
}

// RequiresWAAuthorization reports whether writes and deletes in this scope
// need wa_authorized on the dispatch context.
func (s GraphScope) RequiresWAAuthorization() bool {
	return s == ScopeIdentity || s == ScopeEnvironment
}

// Upper returns the scope as shown to the reasoner ("IDENTITY").
func (s GraphScope) Upper() string {
	return strings.ToUpper(string(s))
}

// ParseGraphScope accepts any casing; empty means local.
func ParseGraphScope(s string) (GraphScope, error) {
	if strings.TrimSpace(s) == "" {
		return ScopeLocal, nil
	}
	scope := GraphScope(strings.ToLower(strings.TrimSpace(s)))
	if !scope.Valid() {
		return "", fmt.Errorf("unknown graph scope %q", s)
	}
	return scope, nil
}

// UnmarshalJSON accepts the reasoner's upper-case scope names.
func (s *GraphScope) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	scope, err := ParseGraphScope(raw)
	if err != nil {
		return err
	}
	*s = scope
	return nil
}

// Common node types.
const (
	NodeTypeConcept = "concept"
	NodeTypeUser    = "user"
	NodeTypeChannel = "channel"
	NodeTypeConfig  = "config"
)

// GraphNode is a memory-graph entity.
type GraphNode struct {
	ID         string         `json:"id" yaml:"id"`
	Type       string         `json:"type" yaml:"type"`
	Scope      GraphScope     `json:"scope" yaml:"scope"`
	Attributes map[string]any `json:"attributes,omitempty" yaml:"attributes,omitempty"`
	Version    int            `json:"version,omitempty" yaml:"version,omitempty"`
	UpdatedBy  string         `json:"updated_by,omitempty" yaml:"updated_by,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at" yaml:"updated_at,omitempty"`
}

// Validate checks the fields every write or delete needs.
func (n GraphNode) Validate() error {
	if strings.TrimSpace(n.ID) == "" {
		return fmt.Errorf("node id is required")
	}
	if !n.Scope.Valid() {
		return fmt.Errorf("invalid node scope %q", n.Scope)
	}
	return nil
}

// GraphEdge links two nodes in the same scope.
type GraphEdge struct {
	Source       string     `json:"source"`
	Target       string     `json:"target"`
	Scope        GraphScope `json:"scope"`
	Relationship string     `json:"relationship"`
	Weight       float64    `json:"weight"`
}

// MemoryOpStatus is the outcome of a memory write or delete.
type MemoryOpStatus string

const (
	MemoryOpOK     MemoryOpStatus = "ok"
	MemoryOpDenied MemoryOpStatus = "denied"
	MemoryOpError  MemoryOpStatus = "error"
)

// MemoryOpResult is returned by MemoryBus writes and deletes.
type MemoryOpResult struct {
	Status MemoryOpStatus `json:"status"`
	Reason string         `json:"reason,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Describe returns the most useful failure text.
func (r MemoryOpResult) Describe() string {
	switch {
	case r.Reason != "" && r.Error != "":
		return r.Reason + ": " + r.Error
	case r.Reason != "":
		return r.Reason
	case r.Error != "":
		return r.Error
	}
	return string(r.Status)
}

// RecallQuery is an exact node lookup.
type RecallQuery struct {
	NodeID string
	Scope  GraphScope
	Type   string
}

// SearchQuery is a fuzzy lookup over node ids and attributes.
type SearchQuery struct {
	Text  string
	Scope GraphScope
	Type  string
	Limit int
}
