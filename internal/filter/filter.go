// Package filter holds the adaptive message filter. Triggers are created at
// runtime (for example when a request is rejected with create_filter) and
// matched against incoming text.
package filter

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"actcore/internal/logging"
	"actcore/internal/types"

	"github.com/google/uuid"
)

// Trigger types.
const (
	TypeRegex   = "regex"
	TypeKeyword = "keyword"
)

// Priority of a trigger.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// ParsePriority accepts any casing; empty means medium.
func ParsePriority(s string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case "":
		return PriorityMedium, nil
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return p, nil
	}
	return "", fmt.Errorf("unknown filter priority %q", s)
}

// Trigger is one registered filter.
type Trigger struct {
	ID           string    `json:"trigger_id"`
	Pattern      string    `json:"pattern"`
	Type         string    `json:"pattern_type"`
	Priority     Priority  `json:"priority"`
	Description  string    `json:"description"`
	SourceID     string    `json:"source_id,omitempty"`
	Enabled      bool      `json:"enabled"`
	CreatedAt    time.Time `json:"created_at"`
	TriggerCount int       `json:"true_positive_count"`

	re *regexp.Regexp
}

// Match is a trigger that fired on a piece of text.
type Match struct {
	TriggerID string   `json:"trigger_id"`
	Priority  Priority `json:"priority"`
	Pattern   string   `json:"pattern"`
}

// Stats summarizes filter activity.
type Stats struct {
	TotalFilters  int              `json:"total_filters"`
	TotalChecks   int              `json:"total_messages_processed"`
	TotalMatches  int              `json:"total_filtered"`
	ByPriority    map[Priority]int `json:"by_priority"`
	LastCheckedAt *time.Time       `json:"last_checked_at,omitempty"`
}

// Service is an in-memory filter registry.
type Service struct {
	mu       sync.RWMutex
	triggers []*Trigger
	checks   int
	matches  int
	lastAt   *time.Time
	now      func() time.Time
}

// New creates an empty filter service.
func New() *Service {
	return &Service{now: time.Now}
}

// CreateFilter registers a new trigger and returns its id.
func (s *Service) CreateFilter(ctx context.Context, req types.FilterRequest) (string, error) {
	pattern := strings.TrimSpace(req.Pattern)
	if pattern == "" {
		return "", errors.New("filter pattern is required")
	}
	priority, err := ParsePriority(req.Priority)
	if err != nil {
		return "", err
	}

	t := &Trigger{
		ID:          "filter_" + uuid.New().String()[:8],
		Pattern:     pattern,
		Type:        strings.ToLower(strings.TrimSpace(req.Type)),
		Priority:    priority,
		Description: req.Description,
		SourceID:    req.SourceID,
		Enabled:     true,
		CreatedAt:   s.now(),
	}
	switch t.Type {
	case "", TypeKeyword:
		t.Type = TypeKeyword
	case TypeRegex:
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return "", fmt.Errorf("invalid filter regex %q: %w", pattern, err)
		}
		t.re = re
	default:
		return "", fmt.Errorf("unknown filter type %q", req.Type)
	}

	s.mu.Lock()
	s.triggers = append(s.triggers, t)
	s.mu.Unlock()

	logging.Get(logging.CategoryFilter).Info("Created %s filter %s (%s): %q", t.Type, t.ID, t.Priority, t.Pattern)
	return t.ID, nil
}

// Check returns every enabled trigger matching text, highest priority first.
func (s *Service) Check(text string) []Match {
	lower := strings.ToLower(text)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.checks++
	s.lastAt = &now

	var out []Match
	for _, t := range s.triggers {
		if !t.Enabled || !t.matches(text, lower) {
			continue
		}
		t.TriggerCount++
		out = append(out, Match{TriggerID: t.ID, Priority: t.Priority, Pattern: t.Pattern})
	}
	if len(out) > 0 {
		s.matches++
		sort.SliceStable(out, func(i, j int) bool { return rank(out[i].Priority) < rank(out[j].Priority) })
		logging.Get(logging.CategoryFilter).Debug("%d filters matched", len(out))
	}
	return out
}

// Disable turns a trigger off without removing it.
func (s *Service) Disable(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.triggers {
		if t.ID == id {
			t.Enabled = false
			return true
		}
	}
	return false
}

// Triggers returns copies of all registered triggers.
func (s *Service) Triggers() []Trigger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Trigger, len(s.triggers))
	for i, t := range s.triggers {
		out[i] = *t
	}
	return out
}

// Stats returns counters for all triggers.
func (s *Service) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		TotalFilters:  len(s.triggers),
		TotalChecks:   s.checks,
		TotalMatches:  s.matches,
		ByPriority:    make(map[Priority]int),
		LastCheckedAt: s.lastAt,
	}
	for _, t := range s.triggers {
		st.ByPriority[t.Priority]++
	}
	return st
}

func (t *Trigger) matches(text, lower string) bool {
	if t.re != nil {
		return t.re.MatchString(text)
	}
	return strings.Contains(lower, strings.ToLower(t.Pattern))
}

func rank(p Priority) int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	}
	return 3
}

var _ types.FilterService = (*Service)(nil)
