// Package memory implements the memory graph behind the MemoryBus: scoped
// nodes with JSON attributes and weighted edges, stored in SQLite.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"actcore/internal/logging"
	"actcore/internal/store"
	"actcore/internal/types"
)

const defaultLimit = 10

// Graph is a SQLite-backed memory graph. Nodes are keyed by (id, scope).
type Graph struct {
	db  *sql.DB
	mu  sync.RWMutex
	now func() time.Time
}

// Open opens (creating if needed) the memory graph at path.
func Open(path string) (*Graph, error) {
	timer := logging.StartTimer(logging.CategoryMemory, "Open")
	defer timer.Stop()

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := store.OpenSQLite(path)
	if err != nil {
		return nil, err
	}

	g := &Graph{db: db, now: time.Now}
	if err := g.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Memory("Memory graph ready at %s", path)
	return g, nil
}

func (g *Graph) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS graph_nodes (
		node_id TEXT NOT NULL,
		scope TEXT NOT NULL,
		node_type TEXT NOT NULL,
		attributes TEXT NOT NULL DEFAULT '{}',
		version INTEGER NOT NULL DEFAULT 1,
		updated_by TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL,
		PRIMARY KEY (node_id, scope)
	);
	CREATE INDEX IF NOT EXISTS idx_nodes_type ON graph_nodes(scope, node_type);

	CREATE TABLE IF NOT EXISTS graph_edges (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		scope TEXT NOT NULL,
		relationship TEXT NOT NULL,
		weight REAL NOT NULL DEFAULT 1.0,
		created_at TEXT NOT NULL,
		UNIQUE(source_id, target_id, scope, relationship)
	);
	CREATE INDEX IF NOT EXISTS idx_edges_source ON graph_edges(source_id, scope);
	CREATE INDEX IF NOT EXISTS idx_edges_target ON graph_edges(target_id, scope);
	`
	if _, err := g.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create memory schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (g *Graph) Close() error {
	return g.db.Close()
}

// SetClock overrides the clock used for timestamps.
func (g *Graph) SetClock(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
}

// Memorize upserts a node, bumping its version on every write.
func (g *Graph) Memorize(ctx context.Context, node types.GraphNode) (types.MemoryOpResult, error) {
	timer := logging.StartTimer(logging.CategoryMemory, "Memorize")
	defer timer.Stop()

	if err := node.Validate(); err != nil {
		return types.MemoryOpResult{Status: types.MemoryOpError, Reason: "invalid node", Error: err.Error()}, nil
	}
	if node.Type == "" {
		node.Type = types.NodeTypeConcept
	}

	attrs, err := json.Marshal(nonNil(node.Attributes))
	if err != nil {
		return types.MemoryOpResult{Status: types.MemoryOpError, Reason: "attributes not serializable", Error: err.Error()}, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	_, err = g.db.ExecContext(ctx, `
		INSERT INTO graph_nodes (node_id, scope, node_type, attributes, version, updated_by, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(node_id, scope) DO UPDATE SET
			node_type = excluded.node_type,
			attributes = excluded.attributes,
			version = graph_nodes.version + 1,
			updated_by = excluded.updated_by,
			updated_at = excluded.updated_at`,
		node.ID, string(node.Scope), node.Type, string(attrs), node.UpdatedBy, store.FormatTime(g.now()))
	if err != nil {
		logging.Get(logging.CategoryMemory).Error("Failed to memorize %s/%s: %v", node.Scope, node.ID, err)
		return types.MemoryOpResult{}, fmt.Errorf("failed to memorize node %s: %w", node.ID, err)
	}

	logging.MemoryDebug("Memorized %s node %s in %s scope", node.Type, node.ID, node.Scope)
	return types.MemoryOpResult{Status: types.MemoryOpOK}, nil
}

// Recall returns the node with the exact id in scope, optionally
// constrained to a type. No match is an empty slice, not an error.
func (g *Graph) Recall(ctx context.Context, q types.RecallQuery) ([]types.GraphNode, error) {
	if q.NodeID == "" {
		return nil, nil
	}

	query := nodeSelect + ` WHERE node_id = ? AND scope = ?`
	args := []interface{}{q.NodeID, string(scopeOrLocal(q.Scope))}
	if q.Type != "" {
		query += ` AND node_type = ?`
		args = append(args, q.Type)
	}
	return g.queryNodes(ctx, query, args...)
}

// Search matches text against node ids and serialized attributes.
func (g *Graph) Search(ctx context.Context, q types.SearchQuery) ([]types.GraphNode, error) {
	timer := logging.StartTimer(logging.CategoryMemory, "Search")
	defer timer.Stop()

	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	query := nodeSelect + ` WHERE scope = ?`
	args := []interface{}{string(scopeOrLocal(q.Scope))}
	if text := strings.TrimSpace(q.Text); text != "" {
		pattern := "%" + escapeLike(strings.ToLower(text)) + "%"
		query += ` AND (lower(node_id) LIKE ? ESCAPE '\' OR lower(attributes) LIKE ? ESCAPE '\')`
		args = append(args, pattern, pattern)
	}
	if q.Type != "" {
		query += ` AND node_type = ?`
		args = append(args, q.Type)
	}
	query += ` ORDER BY updated_at DESC LIMIT ?`
	args = append(args, limit)

	nodes, err := g.queryNodes(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	logging.MemoryDebug("Search %q in %s returned %d nodes", q.Text, q.Scope, len(nodes))
	return nodes, nil
}

// ListByType returns every node of nodeType in scope, up to limit.
func (g *Graph) ListByType(ctx context.Context, scope types.GraphScope, nodeType string, limit int) ([]types.GraphNode, error) {
	if nodeType == "" {
		return nil, errors.New("node type is required")
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	return g.queryNodes(ctx, nodeSelect+` WHERE scope = ? AND node_type = ? ORDER BY node_id LIMIT ?`,
		string(scopeOrLocal(scope)), nodeType, limit)
}

// Forget deletes a node and every edge touching it in the same scope.
func (g *Graph) Forget(ctx context.Context, node types.GraphNode) (types.MemoryOpResult, error) {
	timer := logging.StartTimer(logging.CategoryMemory, "Forget")
	defer timer.Stop()

	if err := node.Validate(); err != nil {
		return types.MemoryOpResult{Status: types.MemoryOpError, Reason: "invalid node", Error: err.Error()}, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return types.MemoryOpResult{}, fmt.Errorf("failed to begin forget: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM graph_nodes WHERE node_id = ? AND scope = ?`, node.ID, string(node.Scope))
	if err != nil {
		return types.MemoryOpResult{}, fmt.Errorf("failed to forget node %s: %w", node.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.MemoryOpResult{Status: types.MemoryOpError, Reason: "node not found"}, nil
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM graph_edges WHERE scope = ? AND (source_id = ? OR target_id = ?)`,
		string(node.Scope), node.ID, node.ID); err != nil {
		return types.MemoryOpResult{}, fmt.Errorf("failed to remove edges of %s: %w", node.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return types.MemoryOpResult{}, fmt.Errorf("failed to commit forget: %w", err)
	}

	logging.Memory("Forgot node %s in %s scope", node.ID, node.Scope)
	return types.MemoryOpResult{Status: types.MemoryOpOK}, nil
}

// AddEdge stores a relationship between two nodes.
func (g *Graph) AddEdge(ctx context.Context, edge types.GraphEdge) error {
	if edge.Source == "" || edge.Target == "" || edge.Relationship == "" {
		return fmt.Errorf("invalid edge: source/target/relationship must be non-empty")
	}
	if math.IsNaN(edge.Weight) || math.IsInf(edge.Weight, 0) {
		return fmt.Errorf("invalid edge weight: %v", edge.Weight)
	}
	if edge.Weight == 0 {
		edge.Weight = 1.0
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	_, err := g.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO graph_edges (source_id, target_id, scope, relationship, weight, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		edge.Source, edge.Target, string(scopeOrLocal(edge.Scope)), edge.Relationship, edge.Weight,
		store.FormatTime(g.now()))
	if err != nil {
		return fmt.Errorf("failed to store edge: %w", err)
	}
	logging.MemoryDebug("Stored edge %s -[%s]-> %s", edge.Source, edge.Relationship, edge.Target)
	return nil
}

// Edges returns edges where nodeID is either endpoint.
func (g *Graph) Edges(ctx context.Context, nodeID string, scope types.GraphScope) ([]types.GraphEdge, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	rows, err := g.db.QueryContext(ctx, `
		SELECT source_id, target_id, scope, relationship, weight FROM graph_edges
		WHERE scope = ? AND (source_id = ? OR target_id = ?) ORDER BY id`,
		string(scopeOrLocal(scope)), nodeID, nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer rows.Close()

	var edges []types.GraphEdge
	for rows.Next() {
		var e types.GraphEdge
		var sc string
		if err := rows.Scan(&e.Source, &e.Target, &sc, &e.Relationship, &e.Weight); err != nil {
			logging.Get(logging.CategoryMemory).Warn("Edge row scan failed: %v", err)
			continue
		}
		e.Scope = types.GraphScope(sc)
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

const nodeSelect = `SELECT node_id, scope, node_type, attributes, version, updated_by, updated_at FROM graph_nodes`

func (g *Graph) queryNodes(ctx context.Context, query string, args ...interface{}) ([]types.GraphNode, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("memory query failed: %w", err)
	}
	defer rows.Close()

	var nodes []types.GraphNode
	for rows.Next() {
		var n types.GraphNode
		var scope, attrs, updated string
		if err := rows.Scan(&n.ID, &scope, &n.Type, &attrs, &n.Version, &n.UpdatedBy, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		n.Scope = types.GraphScope(scope)
		n.UpdatedAt = store.ParseTime(updated)
		if err := json.Unmarshal([]byte(attrs), &n.Attributes); err != nil {
			// Don't fail the whole query on one corrupted row
			logging.Get(logging.CategoryMemory).Warn("Attributes unmarshal failed for %s: %v", n.ID, err)
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func scopeOrLocal(s types.GraphScope) types.GraphScope {
	if s == "" {
		return types.ScopeLocal
	}
	return s
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

var _ types.MemoryBus = (*Graph)(nil)
