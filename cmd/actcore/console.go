package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"actcore/internal/types"

	"gopkg.in/yaml.v3"
)

// consoleBus prints outgoing messages and deferrals to a terminal. It keeps
// what it sent so OBSERVE has history to read back.
type consoleBus struct {
	mu   sync.Mutex
	out  io.Writer
	sent map[string][]types.Message
	now  func() time.Time
}

func newConsoleBus(out io.Writer) *consoleBus {
	return &consoleBus{out: out, sent: make(map[string][]types.Message), now: time.Now}
}

func (c *consoleBus) SendMessage(_ context.Context, channelID, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent[channelID] = append(c.sent[channelID], types.Message{
		ID:         fmt.Sprintf("%s-%d", channelID, len(c.sent[channelID])+1),
		ChannelID:  channelID,
		AuthorID:   "actcore",
		AuthorName: "actcore",
		Content:    content,
		IsBot:      true,
		Timestamp:  c.now(),
	})
	_, err := fmt.Fprintf(c.out, "[%s] %s\n", channelID, content)
	return err
}

func (c *consoleBus) FetchMessages(_ context.Context, channelID string, limit int) ([]types.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := c.sent[channelID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]types.Message(nil), msgs...), nil
}

// SendDeferral prints the escalation for a human to pick up.
func (c *consoleBus) SendDeferral(_ context.Context, req types.DeferralRequest) error {
	data, err := yaml.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to render deferral: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err = fmt.Fprintf(c.out, "--- deferral for Wise Authority review ---\n%s", data)
	return err
}

var (
	_ types.CommunicationBus = (*consoleBus)(nil)
	_ types.WiseAuthorityBus = (*consoleBus)(nil)
)

// localTools is the built-in tool bus available to CLI dispatches.
type localTools struct {
	now func() time.Time
}

func (t localTools) ExecuteTool(_ context.Context, name string, params map[string]any, correlationID string) (*types.ToolExecutionResult, error) {
	res := &types.ToolExecutionResult{ToolName: name, CorrelationID: correlationID}
	switch name {
	case "echo":
		res.Status, res.Success, res.Data = types.ToolStatusCompleted, true, params
	case "time":
		res.Status, res.Success = types.ToolStatusCompleted, true
		res.Data = map[string]any{"now": t.now().UTC().Format(time.RFC3339)}
	default:
		res.Status = types.ToolStatusNotFound
		res.Error = fmt.Sprintf("unknown tool %q (available: echo, time)", name)
	}
	return res, nil
}

var _ types.ToolBus = localTools{}
