// Package audit keeps the append-only audit trail. Each entry is chained to
// its predecessor by SHA-256 and, when a signing key is configured, signed
// with HMAC-SHA256 so that edits or deletions are detectable by Verify.
package audit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"actcore/internal/logging"
	"actcore/internal/store"
	"actcore/internal/types"

	"github.com/google/uuid"
)

// GenesisHash is the prev_hash of the first entry.
var GenesisHash = strings.Repeat("0", 64)

// Entry is one persisted audit record.
type Entry struct {
	Seq          int64            `json:"seq"`
	EventID      string           `json:"event_id"`
	EventType    string           `json:"event_type"`
	Actor        string           `json:"actor"`
	Handler      string           `json:"handler"`
	ThoughtID    string           `json:"thought_id,omitempty"`
	TaskID       string           `json:"task_id,omitempty"`
	ActionType   types.ActionType `json:"action_type,omitempty"`
	WAAuthorized bool             `json:"wa_authorized"`
	Outcome      string           `json:"outcome"`
	Timestamp    time.Time        `json:"timestamp"`
	Data         map[string]any   `json:"data,omitempty"`
	PrevHash     string           `json:"prev_hash"`
	EntryHash    string           `json:"entry_hash"`
	Signature    string           `json:"signature,omitempty"`
}

// Filter narrows Query results. Zero fields match everything.
type Filter struct {
	EventType string
	Actor     string
	ThoughtID string
	TaskID    string
	Since     time.Time
	Limit     int
}

// VerifyReport is the result of walking the chain.
type VerifyReport struct {
	Entries  int    `json:"entries"`
	Valid    bool   `json:"valid"`
	BrokenAt int64  `json:"broken_at,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Signed   bool   `json:"signed"`
}

// Log is a SQLite-backed hash-chained audit log.
type Log struct {
	db       *sql.DB
	mu       sync.Mutex
	key      []byte
	lastHash string
	now      func() time.Time
}

// Open opens the audit log at path. An empty signingKey disables signatures
// but keeps the hash chain.
func Open(path string, signingKey []byte) (*Log, error) {
	timer := logging.StartTimer(logging.CategoryAudit, "Open")
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

	l := &Log{db: db, key: signingKey, now: time.Now}
	if err := l.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	if err := l.loadHead(); err != nil {
		db.Close()
		return nil, err
	}
	if len(signingKey) == 0 {
		logging.Get(logging.CategoryAudit).Warn("Audit signing key not configured; entries will be chained but unsigned")
	}
	return l, nil
}

func (l *Log) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_log (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id TEXT NOT NULL UNIQUE,
		event_type TEXT NOT NULL,
		actor TEXT NOT NULL,
		handler TEXT NOT NULL DEFAULT '',
		thought_id TEXT NOT NULL DEFAULT '',
		task_id TEXT NOT NULL DEFAULT '',
		action_type TEXT NOT NULL DEFAULT '',
		wa_authorized INTEGER NOT NULL DEFAULT 0,
		outcome TEXT NOT NULL DEFAULT '',
		timestamp TEXT NOT NULL,
		data TEXT NOT NULL DEFAULT '{}',
		prev_hash TEXT NOT NULL,
		entry_hash TEXT NOT NULL,
		signature TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_audit_thought ON audit_log(thought_id);
	CREATE INDEX IF NOT EXISTS idx_audit_type ON audit_log(event_type);
	`
	if _, err := l.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create audit schema: %w", err)
	}
	return nil
}

func (l *Log) loadHead() error {
	err := l.db.QueryRow(`SELECT entry_hash FROM audit_log ORDER BY seq DESC LIMIT 1`).Scan(&l.lastHash)
	if errors.Is(err, sql.ErrNoRows) {
		l.lastHash = GenesisHash
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load audit head: %w", err)
	}
	return nil
}

// Close closes the database.
func (l *Log) Close() error {
	return l.db.Close()
}

// SetClock overrides the clock used when an event carries no timestamp.
func (l *Log) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// LogEvent appends an event to the chain.
func (l *Log) LogEvent(ctx context.Context, event types.AuditEvent) error {
	if event.EventType == "" {
		return errors.New("audit event type is required")
	}
	if event.Actor == "" {
		event.Actor = "system"
	}

	data, err := json.Marshal(nonNil(event.Data))
	if err != nil {
		return fmt.Errorf("audit data not serializable: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ts := event.Timestamp
	if ts.IsZero() {
		ts = l.now()
	}
	row := canonicalEntry{
		EventID:      uuid.New().String(),
		EventType:    event.EventType,
		Actor:        event.Actor,
		Handler:      event.Handler,
		ThoughtID:    event.ThoughtID,
		TaskID:       event.TaskID,
		ActionType:   string(event.ActionType),
		WAAuthorized: event.WAAuthorized,
		Outcome:      event.Outcome,
		Timestamp:    store.FormatTime(ts),
		Data:         string(data),
		PrevHash:     l.lastHash,
	}
	hash, err := row.hash()
	if err != nil {
		return err
	}
	sig := l.sign(hash)

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO audit_log (event_id, event_type, actor, handler, thought_id, task_id, action_type,
			wa_authorized, outcome, timestamp, data, prev_hash, entry_hash, signature)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.EventID, row.EventType, row.Actor, row.Handler, row.ThoughtID, row.TaskID, row.ActionType,
		row.WAAuthorized, row.Outcome, row.Timestamp, row.Data, row.PrevHash, hash, sig)
	if err != nil {
		logging.Get(logging.CategoryAudit).Error("Failed to append audit event %s: %v", event.EventType, err)
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	l.lastHash = hash

	logging.Get(logging.CategoryAudit).Debug("audit %s actor=%s thought=%s outcome=%s",
		event.EventType, event.Actor, event.ThoughtID, event.Outcome)
	return nil
}

// Query returns entries matching f, oldest first.
func (l *Log) Query(ctx context.Context, f Filter) ([]Entry, error) {
	var where []string
	var args []interface{}
	if f.EventType != "" {
		where = append(where, "event_type = ?")
		args = append(args, f.EventType)
	}
	if f.Actor != "" {
		where = append(where, "actor = ?")
		args = append(args, f.Actor)
	}
	if f.ThoughtID != "" {
		where = append(where, "thought_id = ?")
		args = append(args, f.ThoughtID)
	}
	if f.TaskID != "" {
		where = append(where, "task_id = ?")
		args = append(args, f.TaskID)
	}
	if !f.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, store.FormatTime(f.Since))
	}

	query := entrySelect
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return l.queryEntries(ctx, query, args...)
}

// Tail returns the last n entries, oldest first.
func (l *Log) Tail(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		n = 20
	}
	entries, err := l.queryEntries(ctx, entrySelect+" ORDER BY seq DESC LIMIT ?", n)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// Verify walks the whole chain and reports the first entry whose hash,
// link, or signature does not check out.
func (l *Log) Verify(ctx context.Context) (VerifyReport, error) {
	timer := logging.StartTimer(logging.CategoryAudit, "Verify")
	defer timer.Stop()

	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := l.db.QueryContext(ctx, `
		SELECT seq, event_id, event_type, actor, handler, thought_id, task_id, action_type,
			wa_authorized, outcome, timestamp, data, prev_hash, entry_hash, signature
		FROM audit_log ORDER BY seq ASC`)
	if err != nil {
		return VerifyReport{}, fmt.Errorf("failed to read audit log: %w", err)
	}
	defer rows.Close()

	report := VerifyReport{Valid: true, Signed: len(l.key) > 0}
	prev := GenesisHash
	for rows.Next() {
		var seq int64
		var row canonicalEntry
		var stored, sig string
		if err := rows.Scan(&seq, &row.EventID, &row.EventType, &row.Actor, &row.Handler, &row.ThoughtID,
			&row.TaskID, &row.ActionType, &row.WAAuthorized, &row.Outcome, &row.Timestamp, &row.Data,
			&row.PrevHash, &stored, &sig); err != nil {
			return report, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		report.Entries++

		reason := ""
		switch hash, err := row.hash(); {
		case err != nil:
			reason = err.Error()
		case row.PrevHash != prev:
			reason = "prev_hash does not link to preceding entry"
		case hash != stored:
			reason = "entry_hash mismatch"
		case report.Signed && !hmac.Equal([]byte(sig), []byte(l.sign(stored))):
			reason = "signature mismatch"
		}
		if reason != "" {
			report.Valid = false
			report.BrokenAt = seq
			report.Reason = reason
			logging.Get(logging.CategoryAudit).Error("Audit chain broken at seq %d: %s", seq, reason)
			return report, nil
		}
		prev = stored
	}
	if err := rows.Err(); err != nil {
		return report, err
	}
	if prev != l.lastHash {
		report.Valid = false
		report.Reason = "chain head does not match last appended entry"
	}
	return report, nil
}

const entrySelect = `SELECT seq, event_id, event_type, actor, handler, thought_id, task_id, action_type,
	wa_authorized, outcome, timestamp, data, prev_hash, entry_hash, signature FROM audit_log`

func (l *Log) queryEntries(ctx context.Context, query string, args ...interface{}) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit query failed: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var action, ts, data string
		if err := rows.Scan(&e.Seq, &e.EventID, &e.EventType, &e.Actor, &e.Handler, &e.ThoughtID, &e.TaskID,
			&action, &e.WAAuthorized, &e.Outcome, &ts, &data, &e.PrevHash, &e.EntryHash, &e.Signature); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.ActionType = types.ActionType(action)
		e.Timestamp = store.ParseTime(ts)
		if err := json.Unmarshal([]byte(data), &e.Data); err != nil {
			logging.Get(logging.CategoryAudit).Warn("Audit data unmarshal failed for seq %d: %v", e.Seq, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (l *Log) sign(hash string) string {
	if len(l.key) == 0 {
		return ""
	}
	mac := hmac.New(sha256.New, l.key)
	mac.Write([]byte(hash))
	return hex.EncodeToString(mac.Sum(nil))
}

// canonicalEntry is the hashed form of a row. Field order is fixed by the
// struct, so the JSON encoding is stable.
type canonicalEntry struct {
	EventID      string `json:"event_id"`
	EventType    string `json:"event_type"`
	Actor        string `json:"actor"`
	Handler      string `json:"handler"`
	ThoughtID    string `json:"thought_id"`
	TaskID       string `json:"task_id"`
	ActionType   string `json:"action_type"`
	WAAuthorized bool   `json:"wa_authorized"`
	Outcome      string `json:"outcome"`
	Timestamp    string `json:"timestamp"`
	Data         string `json:"data"`
	PrevHash     string `json:"prev_hash"`
}

func (c canonicalEntry) hash() (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to encode audit entry: %w", err)
	}
	sum := sha256.Sum256(append([]byte(c.PrevHash), b...))
	return hex.EncodeToString(sum[:]), nil
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

var _ types.AuditBus = (*Log)(nil)
