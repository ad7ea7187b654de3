package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeParams_Defer(t *testing.T) {
	p, err := DecodeParams[DeferParams](map[string]any{
		"reason":      "needs human review",
		"defer_until": "2025-01-20T15:00:00Z",
		"context":     map[string]any{"priority": "high"},
	})
	require.NoError(t, err)
	assert.Equal(t, "needs human review", p.Reason)
	assert.Equal(t, "2025-01-20T15:00:00Z", p.DeferUntil)
	assert.Equal(t, "high", p.Context["priority"])
}

func TestDecodeParams_ValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		decode func() error
		want   string
	}{
		{"defer without reason", func() error {
			_, err := DecodeParams[DeferParams](map[string]any{})
			return err
		}, "DeferParams"},
		{"defer bad timestamp", func() error {
			_, err := DecodeParams[DeferParams](map[string]any{"reason": "x", "defer_until": "tomorrow"})
			return err
		}, "RFC3339"},
		{"tool without name", func() error {
			_, err := DecodeParams[ToolParams](map[string]any{"parameters": map[string]any{}})
			return err
		}, "tool name"},
		{"tool wrong shape", func() error {
			_, err := DecodeParams[ToolParams](map[string]any{"name": 12})
			return err
		}, "ToolParams"},
		{"memorize bad scope", func() error {
			_, err := DecodeParams[MemorizeParams](map[string]any{
				"node": map[string]any{"id": "n", "type": "concept", "scope": "galaxy"},
			})
			return err
		}, "scope"},
		{"recall empty", func() error {
			_, err := DecodeParams[RecallParams](map[string]any{"scope": "local"})
			return err
		}, "query, node_id or node_type"},
		{"ponder blank questions", func() error {
			_, err := DecodeParams[PonderParams](map[string]any{"questions": []any{" ", ""}})
			return err
		}, "question"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.decode()
			require.Error(t, err)

			var pve *ParameterValidationError
			require.True(t, errors.As(err, &pve), "expected ParameterValidationError, got %T", err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Equal(t, ErrKindValidation, KindOf(err))
		})
	}
}

func TestDecodeParams_Defaults(t *testing.T) {
	recall, err := DecodeParams[RecallParams](map[string]any{"node_type": "user"})
	require.NoError(t, err)
	assert.Equal(t, ScopeLocal, recall.Scope)
	assert.Equal(t, "user nodes", recall.Describe())

	tool, err := DecodeParams[ToolParams](map[string]any{"name": "calculator"})
	require.NoError(t, err)
	assert.NotNil(t, tool.Parameters)

	done, err := DecodeParams[TaskCompleteParams](nil)
	require.NoError(t, err)
	assert.NotEmpty(t, done.CompletionReason)

	forget, err := DecodeParams[ForgetParams](map[string]any{
		"node":   map[string]any{"id": "n1"},
		"reason": "stale",
	})
	require.NoError(t, err)
	assert.Equal(t, ScopeLocal, forget.Node.Scope)
}

func TestToMap(t *testing.T) {
	m := ToMap(&RejectParams{Reason: "no", CreateFilter: true})
	assert.Equal(t, "no", m["reason"])
	assert.Equal(t, true, m["create_filter"])
	_, hasPattern := m["filter_pattern"]
	assert.False(t, hasPattern)
}

func TestGraphScope(t *testing.T) {
	for _, s := range []GraphScope{ScopeIdentity, ScopeEnvironment} {
		if !s.RequiresWAAuthorization() {
			t.Errorf("%s should require WA authorization", s)
		}
	}
	for _, s := range []GraphScope{ScopeLocal, ScopeCommunity} {
		if s.RequiresWAAuthorization() {
			t.Errorf("%s should not require WA authorization", s)
		}
	}

	scope, err := ParseGraphScope("IDENTITY")
	require.NoError(t, err)
	assert.Equal(t, ScopeIdentity, scope)

	scope, err = ParseGraphScope("")
	require.NoError(t, err)
	assert.Equal(t, ScopeLocal, scope)

	_, err = ParseGraphScope("orbit")
	assert.Error(t, err)
}

func TestDecodeParams_ScopeCasing(t *testing.T) {
	p, err := DecodeParams[MemorizeParams](map[string]any{
		"node": map[string]any{"id": "user/alice", "type": NodeTypeUser, "scope": "IDENTITY"},
	})
	require.NoError(t, err)
	assert.Equal(t, ScopeIdentity, p.Node.Scope)

	r, err := DecodeParams[RecallParams](map[string]any{"node_id": "user/alice", "scope": " Community "})
	require.NoError(t, err)
	assert.Equal(t, ScopeCommunity, r.Scope)

	f, err := DecodeParams[ForgetParams](map[string]any{
		"node":   map[string]any{"id": "user/alice", "type": NodeTypeUser, "scope": ""},
		"reason": "user asked",
	})
	require.NoError(t, err)
	assert.Equal(t, ScopeLocal, f.Node.Scope)

	_, err = DecodeParams[MemorizeParams](map[string]any{
		"node": map[string]any{"id": "user/alice", "type": NodeTypeUser, "scope": "ORBIT"},
	})
	var pve *ParameterValidationError
	require.True(t, errors.As(err, &pve))
	assert.Contains(t, err.Error(), "unknown graph scope")
}

func TestParseActionType(t *testing.T) {
	a, err := ParseActionType("TASK_COMPLETE")
	require.NoError(t, err)
	assert.Equal(t, ActionTaskComplete, a)
	assert.Equal(t, "TASK_COMPLETE", a.Upper())

	_, err = ParseActionType("dance")
	assert.Error(t, err)
}
