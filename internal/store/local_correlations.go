package store

import (
	"context"
	"database/sql"
	"fmt"

	"actcore/internal/logging"
	"actcore/internal/types"
)

// AddCorrelation appends a correlation record.
func (s *LocalStore) AddCorrelation(ctx context.Context, c *types.Correlation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.StartedAt.IsZero() {
		c.StartedAt = s.now()
	}
	if c.Status == "" {
		c.Status = types.CorrelationPending
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO correlations (correlation_id, task_id, thought_id, handler_name, action_type,
			trace_id, span_id, status, started_at, duration_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.TaskID, c.ThoughtID, c.Handler, c.ActionType, c.TraceID, c.SpanID,
		c.Status, FormatTime(c.StartedAt), c.DurationMS, c.Error)
	if err != nil {
		return fmt.Errorf("failed to add correlation %s: %w", c.ID, err)
	}
	return nil
}

// UpdateCorrelation closes a correlation record. Only pending records may
// be closed, so a finished record is never rewritten.
func (s *LocalStore) UpdateCorrelation(ctx context.Context, correlationID string, update types.CorrelationUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ended := update.EndedAt
	if ended.IsZero() {
		ended = s.now()
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE correlations SET status = ?, ended_at = ?, duration_ms = ?, error = ?
		WHERE correlation_id = ? AND status = ?`,
		update.Status, FormatTime(ended), update.DurationMS, update.Error,
		correlationID, types.CorrelationPending)
	if err != nil {
		return fmt.Errorf("failed to update correlation %s: %w", correlationID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("pending correlation %s: %w", correlationID, ErrNotFound)
	}
	logging.StoreDebug("Correlation %s closed as %s (%dms)", correlationID, update.Status, update.DurationMS)
	return nil
}

// Correlations returns the most recent correlation records, optionally
// for one thought.
func (s *LocalStore) Correlations(ctx context.Context, thoughtID string, limit int) ([]*types.Correlation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	query := `SELECT correlation_id, task_id, thought_id, handler_name, action_type, trace_id, span_id,
		status, started_at, ended_at, duration_ms, error FROM correlations`
	args := []interface{}{}
	if thoughtID != "" {
		query += " WHERE thought_id = ?"
		args = append(args, thoughtID)
	}
	query += " ORDER BY started_at DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query correlations: %w", err)
	}
	defer rows.Close()

	var out []*types.Correlation
	for rows.Next() {
		var c types.Correlation
		var started string
		var ended sql.NullString
		if err := rows.Scan(&c.ID, &c.TaskID, &c.ThoughtID, &c.Handler, &c.ActionType, &c.TraceID,
			&c.SpanID, &c.Status, &started, &ended, &c.DurationMS, &c.Error); err != nil {
			return nil, fmt.Errorf("failed to scan correlation: %w", err)
		}
		c.StartedAt = ParseTime(started)
		if ended.Valid {
			c.EndedAt = ParseTime(ended.String)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}
