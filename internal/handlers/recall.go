package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"actcore/internal/logging"
	"actcore/internal/types"
)

// RecallHandler reads from the memory graph.
type RecallHandler struct {
	BaseHandler
}

// NewRecallHandler creates the RECALL handler.
func NewRecallHandler(deps Dependencies) *RecallHandler {
	return &RecallHandler{BaseHandler: newBase(deps, "RecallHandler", types.ActionRecall)}
}

// Handle looks up memories and reports them in a follow-up.
func (h *RecallHandler) Handle(ctx context.Context, result *types.ActionResult, thought *types.Thought, dc types.DispatchContext) (string, error) {
	return h.run(ctx, result, thought, dc, h.handle)
}

type connectedNode struct {
	NodeID       string  `json:"node_id"`
	Relationship string  `json:"relationship"`
	Direction    string  `json:"direction"`
	Weight       float64 `json:"weight,omitempty"`
}

type recalledNode struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Scope      string          `json:"scope"`
	Attributes map[string]any  `json:"attributes,omitempty"`
	Connected  []connectedNode `json:"connected_nodes,omitempty"`
}

func (h *RecallHandler) handle(ctx context.Context, inv *invocation) (outcome, error) {
	p, err := types.DecodeParams[types.RecallParams](inv.params)
	if err != nil {
		return h.invalidParams(ctx, inv, err)
	}
	if h.deps.Memory == nil {
		return h.missingBus(ctx, inv, "memory")
	}

	limit := p.Limit
	if limit <= 0 {
		limit = h.deps.Config.RecallDefaultLimit
	}
	query := p.Describe()
	data := map[string]any{"query": query, "scope": string(p.Scope)}

	nodes := h.lookup(ctx, p, limit)
	data["result_count"] = len(nodes)

	if len(nodes) == 0 {
		content := fmt.Sprintf("RECALL action completed: no memories found for query '%s' in %s scope. "+
			"Try a different query or scope, or continue without this information.", query, p.Scope.Upper())
		id, err := h.completeWithFollowUp(ctx, inv, types.ThoughtStatusCompleted, content)
		return outcome{followUpID: id, data: data}, err
	}

	payload, truncated := h.render(ctx, nodes)
	content := fmt.Sprintf("RECALL action completed: found %d memories for query '%s' in %s scope:\n%s",
		len(nodes), query, p.Scope.Upper(), payload)
	if truncated {
		content += fmt.Sprintf("\n[results truncated to %d characters]", h.deps.Config.RecallMaxPayload)
		data["truncated"] = true
	}
	id, err := h.completeWithFollowUp(ctx, inv, types.ThoughtStatusCompleted, content)
	return outcome{followUpID: id, data: data}, err
}

// lookup tries an exact id match, then a fuzzy search, then (for a bare
// node type) a list of every node of that type.
func (h *RecallHandler) lookup(ctx context.Context, p *types.RecallParams, limit int) []types.GraphNode {
	log := logging.Get(logging.CategoryHandlers)

	if p.NodeID != "" {
		nodes, err := h.deps.Memory.Recall(ctx, types.RecallQuery{NodeID: p.NodeID, Scope: p.Scope, Type: p.NodeType})
		if err != nil {
			log.Warn("recall %s/%s failed: %v", p.Scope, p.NodeID, err)
		} else if len(nodes) > 0 {
			return nodes
		}
	}

	text := p.Query
	if text == "" {
		text = p.NodeID
	}
	if text == "" {
		text = p.NodeType
	}
	nodes, err := h.deps.Memory.Search(ctx, types.SearchQuery{Text: text, Scope: p.Scope, Type: p.NodeType, Limit: limit})
	if err != nil {
		log.Warn("memory search %q in %s failed: %v", text, p.Scope, err)
	} else if len(nodes) > 0 {
		return nodes
	}

	if p.NodeType != "" && p.NodeID == "" && p.Query == "" {
		nodes, err := h.deps.Memory.ListByType(ctx, p.Scope, p.NodeType, limit)
		if err != nil {
			log.Warn("list %s nodes in %s failed: %v", p.NodeType, p.Scope, err)
			return nil
		}
		if len(nodes) > limit {
			nodes = nodes[:limit]
		}
		return nodes
	}
	return nil
}

// render serializes nodes with their edges, truncating to the configured
// payload size.
func (h *RecallHandler) render(ctx context.Context, nodes []types.GraphNode) (string, bool) {
	out := make([]recalledNode, 0, len(nodes))
	for _, n := range nodes {
		rn := recalledNode{ID: n.ID, Type: n.Type, Scope: string(n.Scope), Attributes: n.Attributes}
		edges, err := h.deps.Memory.Edges(ctx, n.ID, n.Scope)
		if err != nil {
			logging.HandlersDebug("edges for %s unavailable: %v", n.ID, err)
		}
		for _, e := range edges {
			cn := connectedNode{Relationship: e.Relationship, Weight: e.Weight}
			if e.Source == n.ID {
				cn.NodeID, cn.Direction = e.Target, "outgoing"
			} else {
				cn.NodeID, cn.Direction = e.Source, "incoming"
			}
			rn.Connected = append(rn.Connected, cn)
		}
		out = append(out, rn)
	}

	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", out), false
	}
	return truncateChars(string(b), h.deps.Config.RecallMaxPayload)
}

func truncateChars(s string, limit int) (string, bool) {
	if utf8.RuneCountInString(s) <= limit {
		return s, false
	}
	return string([]rune(s)[:limit]), true
}
