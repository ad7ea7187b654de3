package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"actcore/internal/logging"
	"actcore/internal/types"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a task, thought or correlation does not exist.
var ErrNotFound = errors.New("not found")

// TimeLayout is the fixed-width UTC layout every actcore table stores
// timestamps in. The fraction is always nine digits so that text order
// matches time order in ORDER BY and range comparisons.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// LocalStore persists tasks, thoughts and correlation records in SQLite.
// It implements types.Persistence.
//
// Usage Example:
//
//	st, _ := store.NewLocalStore("data/actcore.db")
//	defer st.Close()
//
//	_ = st.AddTask(ctx, &types.Task{ID: "task-1", Status: types.TaskStatusActive})
//	_ = st.AddThought(ctx, &types.Thought{ID: "th-1", SourceTaskID: "task-1"})
//	_ = st.UpdateThoughtStatus(ctx, "th-1", types.ThoughtStatusCompleted, nil)
type LocalStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
	now    func() time.Time
}

// NewLocalStore initializes the SQLite database at the given path.
func NewLocalStore(path string) (*LocalStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewLocalStore")
	defer timer.Stop()

	logging.Store("Initializing LocalStore at path: %s", path)

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			logging.Get(logging.CategoryStore).Error("Failed to create directory %s: %v", dir, err)
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := OpenSQLite(path)
	if err != nil {
		return nil, err
	}

	store := &LocalStore{db: db, dbPath: path, now: time.Now}
	if err := store.initialize(); err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to initialize schema: %v", err)
		db.Close()
		return nil, err
	}
	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	logging.Store("LocalStore initialization complete (tasks, thoughts, correlations ready)")
	return store, nil
}

// OpenSQLite opens a single-connection SQLite handle with the pragmas every
// actcore database uses.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to open database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	// synchronous=NORMAL is safe with WAL
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}
	logging.StoreDebug("Opened SQLite database connection")
	return db, nil
}

// initialize creates the required tables.
func (s *LocalStore) initialize() error {
	tasksTable := `
	CREATE TABLE IF NOT EXISTS tasks (
		task_id TEXT PRIMARY KEY,
		channel_id TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		priority INTEGER NOT NULL DEFAULT 0,
		parent_task_id TEXT NOT NULL DEFAULT '',
		context TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	`

	thoughtsTable := `
	CREATE TABLE IF NOT EXISTS thoughts (
		thought_id TEXT PRIMARY KEY,
		source_task_id TEXT NOT NULL,
		channel_id TEXT NOT NULL DEFAULT '',
		thought_type TEXT NOT NULL DEFAULT 'standard',
		status TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		thought_depth INTEGER NOT NULL DEFAULT 0,
		parent_thought_id TEXT NOT NULL DEFAULT '',
		final_action TEXT,
		context TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_thoughts_task ON thoughts(source_task_id);
	CREATE INDEX IF NOT EXISTS idx_thoughts_status ON thoughts(status);
	`

	correlationsTable := `
	CREATE TABLE IF NOT EXISTS correlations (
		correlation_id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL DEFAULT '',
		thought_id TEXT NOT NULL DEFAULT '',
		handler_name TEXT NOT NULL,
		action_type TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		started_at TEXT NOT NULL,
		ended_at TEXT,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_correlations_thought ON correlations(thought_id);
	`

	for _, ddl := range []string{tasksTable, thoughtsTable, correlationsTable} {
		if _, err := s.db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *LocalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// GetDB returns the underlying database handle.
func (s *LocalStore) GetDB() *sql.DB {
	return s.db
}

// SetClock overrides the clock used for timestamps.
func (s *LocalStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// GetStats returns row counts per table.
func (s *LocalStore) GetStats() (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]int)
	for _, table := range []string{"tasks", "thoughts", "correlations"} {
		var n int
		if err := s.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		stats[table] = n
	}
	return stats, nil
}

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime reads a stored timestamp. Rows written with a variable-width
// fraction still parse. Unparseable values yield the zero time.
func ParseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

var _ types.Persistence = (*LocalStore)(nil)
