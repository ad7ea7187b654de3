package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"actcore/internal/logging"
	"actcore/internal/types"
)

// =============================================================================
// TASKS
// =============================================================================

// AddTask inserts a task. Missing timestamps are filled in.
func (s *LocalStore) AddTask(ctx context.Context, task *types.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	if task.Status == "" {
		task.Status = types.TaskStatusPending
	}

	taskCtx, err := marshalNullable(task.Context)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (task_id, channel_id, description, status, priority, parent_task_id, context, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.ChannelID, task.Description, string(task.Status), task.Priority,
		task.ParentTaskID, taskCtx, FormatTime(task.CreatedAt), FormatTime(task.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to add task %s: %w", task.ID, err)
	}
	logging.StoreDebug("Added task %s (%s)", task.ID, task.Status)
	return nil
}

// GetTask returns the task or ErrNotFound.
func (s *LocalStore) GetTask(ctx context.Context, taskID string) (*types.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT task_id, channel_id, description, status, priority, parent_task_id, context, created_at, updated_at
		FROM tasks WHERE task_id = ?`, taskID)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	return task, err
}

// ListTasks returns tasks, optionally filtered by status, newest first.
func (s *LocalStore) ListTasks(ctx context.Context, status types.TaskStatus, limit int) ([]*types.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	query := `SELECT task_id, channel_id, description, status, priority, parent_task_id, context, created_at, updated_at FROM tasks`
	args := []interface{}{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var out []*types.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

// UpdateTaskStatus sets a task's status.
func (s *LocalStore) UpdateTaskStatus(ctx context.Context, taskID string, status types.TaskStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid task status %q", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET status = ?, updated_at = ? WHERE task_id = ?`,
		string(status), FormatTime(s.now()), taskID)
	if err != nil {
		return fmt.Errorf("failed to update task %s: %w", taskID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	logging.StoreDebug("Task %s -> %s", taskID, status)
	return nil
}

// =============================================================================
// THOUGHTS
// =============================================================================

// AddThought inserts a thought.
func (s *LocalStore) AddThought(ctx context.Context, thought *types.Thought) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if thought.CreatedAt.IsZero() {
		thought.CreatedAt = now
	}
	thought.UpdatedAt = now
	if thought.Status == "" {
		thought.Status = types.ThoughtStatusPending
	}
	if thought.ThoughtType == "" {
		thought.ThoughtType = types.ThoughtTypeStandard
	}

	thoughtCtx, err := marshalNullable(thought.Context)
	if err != nil {
		return err
	}
	final, err := marshalNullable(thought.FinalAction)
	if err != nil {
		return err
	}
	notes, err := json.Marshal(thought.PonderNotes)
	if err != nil {
		return fmt.Errorf("failed to marshal ponder notes: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO thoughts (thought_id, source_task_id, channel_id, thought_type, status, content,
			thought_depth, parent_thought_id, ponder_notes, final_action, context, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		thought.ID, thought.SourceTaskID, thought.ChannelID, string(thought.ThoughtType),
		string(thought.Status), thought.Content, thought.Depth, thought.ParentThoughtID,
		string(notes), final, thoughtCtx, FormatTime(thought.CreatedAt), FormatTime(thought.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to add thought %s: %w", thought.ID, err)
	}
	logging.StoreDebug("Added thought %s (task=%s depth=%d)", thought.ID, thought.SourceTaskID, thought.Depth)
	return nil
}

// GetThought returns the thought or ErrNotFound.
func (s *LocalStore) GetThought(ctx context.Context, thoughtID string) (*types.Thought, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, thoughtSelect+` WHERE thought_id = ?`, thoughtID)
	thought, err := scanThought(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("thought %s: %w", thoughtID, ErrNotFound)
	}
	return thought, err
}

// ThoughtsForTask returns a task's thoughts in creation order.
func (s *LocalStore) ThoughtsForTask(ctx context.Context, taskID string) ([]*types.Thought, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, thoughtSelect+` WHERE source_task_id = ? ORDER BY created_at ASC, rowid ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list thoughts: %w", err)
	}
	defer rows.Close()

	var out []*types.Thought
	for rows.Next() {
		thought, err := scanThought(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, thought)
	}
	return out, rows.Err()
}

// UpdateThoughtStatus sets a thought's status and, when given, its final action.
func (s *LocalStore) UpdateThoughtStatus(ctx context.Context, thoughtID string, status types.ThoughtStatus, final *types.FinalAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		res sql.Result
		err error
	)
	if final != nil {
		data, merr := marshalNullable(final)
		if merr != nil {
			return merr
		}
		res, err = s.db.ExecContext(ctx, `UPDATE thoughts SET status = ?, final_action = ?, updated_at = ? WHERE thought_id = ?`,
			string(status), data, FormatTime(s.now()), thoughtID)
	} else {
		res, err = s.db.ExecContext(ctx, `UPDATE thoughts SET status = ?, updated_at = ? WHERE thought_id = ?`,
			string(status), FormatTime(s.now()), thoughtID)
	}
	if err != nil {
		return fmt.Errorf("failed to update thought %s: %w", thoughtID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("thought %s: %w", thoughtID, ErrNotFound)
	}
	logging.StoreDebug("Thought %s -> %s", thoughtID, status)
	return nil
}

// AppendPonderNotes adds reflection notes to a thought.
func (s *LocalStore) AppendPonderNotes(ctx context.Context, thoughtID string, notes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT ponder_notes FROM thoughts WHERE thought_id = ?`, thoughtID).Scan(&existing)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("thought %s: %w", thoughtID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read ponder notes: %w", err)
	}

	var all []string
	if existing.Valid && existing.String != "" {
		if err := json.Unmarshal([]byte(existing.String), &all); err != nil {
			logging.Get(logging.CategoryStore).Warn("Discarding corrupt ponder notes on %s: %v", thoughtID, err)
			all = nil
		}
	}
	all = append(all, notes...)
	data, err := json.Marshal(all)
	if err != nil {
		return fmt.Errorf("failed to marshal ponder notes: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `UPDATE thoughts SET ponder_notes = ?, updated_at = ? WHERE thought_id = ?`,
		string(data), FormatTime(s.now()), thoughtID); err != nil {
		return fmt.Errorf("failed to update ponder notes: %w", err)
	}
	return nil
}

// =============================================================================
// SCANNING
// =============================================================================

const thoughtSelect = `SELECT thought_id, source_task_id, channel_id, thought_type, status, content,
	thought_depth, parent_thought_id, ponder_notes, final_action, context, created_at, updated_at FROM thoughts`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(sc rowScanner) (*types.Task, error) {
	var t types.Task
	var status, created, updated string
	var taskCtx sql.NullString
	if err := sc.Scan(&t.ID, &t.ChannelID, &t.Description, &status, &t.Priority, &t.ParentTaskID,
		&taskCtx, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}
	t.Status = types.TaskStatus(status)
	t.CreatedAt = ParseTime(created)
	t.UpdatedAt = ParseTime(updated)
	if taskCtx.Valid && taskCtx.String != "" {
		t.Context = &types.TaskContext{}
		if err := json.Unmarshal([]byte(taskCtx.String), t.Context); err != nil {
			return nil, fmt.Errorf("failed to decode task context: %w", err)
		}
	}
	return &t, nil
}

func scanThought(sc rowScanner) (*types.Thought, error) {
	var t types.Thought
	var thoughtType, status, created, updated string
	var notes, final, thoughtCtx sql.NullString
	if err := sc.Scan(&t.ID, &t.SourceTaskID, &t.ChannelID, &thoughtType, &status, &t.Content,
		&t.Depth, &t.ParentThoughtID, &notes, &final, &thoughtCtx, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan thought: %w", err)
	}
	t.ThoughtType = types.ThoughtType(thoughtType)
	t.Status = types.ThoughtStatus(status)
	t.CreatedAt = ParseTime(created)
	t.UpdatedAt = ParseTime(updated)

	if notes.Valid && notes.String != "" && notes.String != "null" {
		if err := json.Unmarshal([]byte(notes.String), &t.PonderNotes); err != nil {
			return nil, fmt.Errorf("failed to decode ponder notes: %w", err)
		}
	}
	if final.Valid && final.String != "" {
		t.FinalAction = &types.FinalAction{}
		if err := json.Unmarshal([]byte(final.String), t.FinalAction); err != nil {
			return nil, fmt.Errorf("failed to decode final action: %w", err)
		}
	}
	if thoughtCtx.Valid && thoughtCtx.String != "" {
		t.Context = &types.ThoughtContext{}
		if err := json.Unmarshal([]byte(thoughtCtx.String), t.Context); err != nil {
			return nil, fmt.Errorf("failed to decode thought context: %w", err)
		}
	}
	return &t, nil
}

// marshalNullable encodes v as JSON, mapping nil pointers to SQL NULL.
func marshalNullable[T any](v *T) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal %T: %w", v, err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
