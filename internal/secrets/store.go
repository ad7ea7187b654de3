package secrets

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"actcore/internal/logging"
	"actcore/internal/metrics"
	"actcore/internal/store"
	"actcore/internal/types"

	"github.com/google/uuid"
)


// Store persists encrypted secrets and their access log in SQLite.
// Every operation holds one mutex, so store, retrieve, delete, list and
// rotation serialize against each other together with the rate limiter.
type Store struct {
	mu      sync.Mutex
	db      *sql.DB
	path    string
	enc     *Encryptor
	limiter *RateLimiter
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for timestamps and rate limiting.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithMetrics records every operation in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithRateLimits replaces the default 10/minute, 100/hour limits.
func WithRateLimits(perMinute, perHour int) Option {
	return func(s *Store) { s.limiter = NewRateLimiter(perMinute, perHour) }
}

// NewStore opens (creating if needed) the secrets database at path.
func NewStore(path string, enc *Encryptor, opts ...Option) (*Store, error) {
	timer := logging.StartTimer(logging.CategorySecrets, "NewStore")
	defer timer.Stop()

	if enc == nil {
		return nil, errors.New("secrets store requires an encryptor")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := store.OpenSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open secrets database: %w", err)
	}

	s := &Store{
		db:      db,
		path:    path,
		enc:     enc,
		limiter: NewRateLimiter(10, 100),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Secrets("Secrets store ready at %s (key_ref=%s)", path, enc.KeyRef())
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS secrets (
		secret_id TEXT PRIMARY KEY,
		encrypted_value BLOB NOT NULL,
		salt BLOB NOT NULL,
		nonce BLOB NOT NULL,
		key_ref TEXT NOT NULL,
		description TEXT NOT NULL,
		sensitivity TEXT NOT NULL,
		detected_pattern TEXT NOT NULL,
		context_hint TEXT NOT NULL DEFAULT '',
		source_id TEXT NOT NULL DEFAULT '',
		auto_decapsulate_for TEXT NOT NULL DEFAULT '[]',
		manual_access_only INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		last_accessed TEXT,
		access_count INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_secrets_sensitivity ON secrets(sensitivity);
	CREATE INDEX IF NOT EXISTS idx_secrets_created ON secrets(created_at);

	CREATE TABLE IF NOT EXISTS secret_access_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		secret_id TEXT NOT NULL,
		action TEXT NOT NULL,
		accessor TEXT NOT NULL,
		purpose TEXT NOT NULL DEFAULT '',
		timestamp TEXT NOT NULL,
		success INTEGER NOT NULL,
		failure_reason TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_access_log_secret ON secret_access_log(secret_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create secrets schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// KeyRef returns the reference of the current master key.
func (s *Store) KeyRef() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.KeyRef()
}

// StoreSecret encrypts and persists a detected secret.
func (s *Store) StoreSecret(ctx context.Context, secret DetectedSecret, sourceID string) (*SecretRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if secret.ID == "" {
		secret.ID = uuid.New().String()
	}
	if secret.Sensitivity == "" {
		secret.Sensitivity = SensitivityHigh
	}

	ciphertext, salt, nonce, err := s.enc.Encrypt([]byte(secret.OriginalValue))
	if err != nil {
		s.logAccessLocked(ctx, secret.ID, AccessStore, "system", "store", false, err.Error())
		return nil, fmt.Errorf("failed to encrypt secret: %w", err)
	}

	policy := DefaultPolicy(secret.Sensitivity)
	rec := &SecretRecord{
		SecretInfo: SecretInfo{
			ID:                 secret.ID,
			Description:        secret.Description,
			Sensitivity:        secret.Sensitivity,
			DetectedPattern:    secret.Pattern,
			ContextHint:        secret.ContextHint,
			SourceID:           sourceID,
			AutoDecapsulateFor: policy,
			ManualAccessOnly:   secret.Sensitivity == SensitivityCritical,
			CreatedAt:          s.now().UTC(),
		},
		EncryptedValue: ciphertext,
		Salt:           salt,
		Nonce:          nonce,
		KeyRef:         s.enc.KeyRef(),
	}

	policyJSON, _ := json.Marshal(policy)
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO secrets (
			secret_id, encrypted_value, salt, nonce, key_ref, description, sensitivity,
			detected_pattern, context_hint, source_id, auto_decapsulate_for,
			manual_access_only, created_at, access_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		rec.ID, rec.EncryptedValue, rec.Salt, rec.Nonce, rec.KeyRef, rec.Description,
		string(rec.Sensitivity), rec.DetectedPattern, rec.ContextHint, rec.SourceID,
		string(policyJSON), boolToInt(rec.ManualAccessOnly), store.FormatTime(rec.CreatedAt))
	if err != nil {
		s.logAccessLocked(ctx, secret.ID, AccessStore, "system", "store", false, err.Error())
		s.metrics.SecretAccess("store", "failure")
		return nil, fmt.Errorf("failed to store secret: %w", err)
	}

	s.logAccessLocked(ctx, rec.ID, AccessStore, "system", "store "+sourceID, true, "")
	s.metrics.SecretAccess("store", "success")
	logging.SecretsDebug("Stored secret %s (%s, %s)", rec.ID, rec.Sensitivity, rec.DetectedPattern)
	return rec, nil
}

// Retrieve returns a stored record for accessor. Retrievals are rate limited
// per accessor; a denied request is logged as a failed VIEW without touching
// the secrets table. decrypt only changes how the access is logged: callers
// pass the record to DecryptSecretValue.
func (s *Store) Retrieve(ctx context.Context, id, accessor, purpose string, decrypt bool) (*SecretRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if !s.limiter.Allow(accessor, now) {
		s.logAccessLocked(ctx, id, AccessView, accessor, purpose, false, "rate limit exceeded")
		s.metrics.SecretAccess("view", "rate_limited")
		logging.Get(logging.CategorySecrets).Warn("Rate limit exceeded for accessor %s on secret %s", accessor, id)
		return nil, ErrRateLimited
	}

	action, label := AccessView, "view"
	if decrypt {
		action, label = AccessDecrypt, "decrypt"
	}

	rec, err := s.getLocked(ctx, id)
	if err != nil {
		s.logAccessLocked(ctx, id, action, accessor, purpose, false, err.Error())
		s.metrics.SecretAccess(label, "failure")
		return nil, err
	}

	accessed := now.UTC()
	if _, err := s.db.ExecContext(ctx,
		`UPDATE secrets SET last_accessed = ?, access_count = access_count + 1 WHERE secret_id = ?`,
		store.FormatTime(accessed), id); err != nil {
		logging.Get(logging.CategorySecrets).Warn("Failed to update access counters for %s: %v", id, err)
	} else {
		rec.LastAccessed = &accessed
		rec.AccessCount++
	}

	s.logAccessLocked(ctx, id, action, accessor, purpose, true, "")
	s.metrics.SecretAccess(label, "success")
	return rec, nil
}

// Info returns metadata for id without counting as an access.
func (s *Store) Info(ctx context.Context, id string) (*SecretInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.getLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	info := rec.SecretInfo
	return &info, nil
}

// DecryptSecretValue decrypts a retrieved record. Failures are logged and
// reported as ok=false.
func (s *Store) DecryptSecretValue(rec *SecretRecord) (string, bool) {
	if rec == nil {
		return "", false
	}

	s.mu.Lock()
	enc := s.enc
	s.mu.Unlock()

	if rec.KeyRef != "" && rec.KeyRef != enc.KeyRef() {
		logging.Get(logging.CategorySecrets).Error("Secret %s was encrypted under key %s, current key is %s", rec.ID, rec.KeyRef, enc.KeyRef())
		return "", false
	}

	plaintext, err := enc.Decrypt(rec.EncryptedValue, rec.Salt, rec.Nonce)
	if err != nil {
		logging.Get(logging.CategorySecrets).Error("Failed to decrypt secret %s: %v", rec.ID, err)
		return "", false
	}
	return string(plaintext), true
}

// Delete removes a secret. The boolean reports whether it existed.
func (s *Store) Delete(ctx context.Context, id, accessor string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM secrets WHERE secret_id = ?`, id)
	if err != nil {
		s.logAccessLocked(ctx, id, AccessDelete, accessor, "delete", false, err.Error())
		s.metrics.SecretAccess("delete", "failure")
		return false, fmt.Errorf("failed to delete secret: %w", err)
	}

	n, _ := res.RowsAffected()
	if n == 0 {
		s.logAccessLocked(ctx, id, AccessDelete, accessor, "delete", false, ErrNotFound.Error())
		s.metrics.SecretAccess("delete", "failure")
		return false, nil
	}

	s.logAccessLocked(ctx, id, AccessDelete, accessor, "delete", true, "")
	s.metrics.SecretAccess("delete", "success")
	logging.Secrets("Deleted secret %s", id)
	return true, nil
}

// List returns secret metadata, newest first.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]SecretInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT secret_id, description, sensitivity, detected_pattern, context_hint, source_id,
		auto_decapsulate_for, manual_access_only, created_at, last_accessed, access_count
		FROM secrets`
	var where []string
	var args []interface{}
	if filter.Sensitivity != "" {
		where = append(where, "sensitivity = ?")
		args = append(args, string(filter.Sensitivity))
	}
	if filter.Pattern != "" {
		where = append(where, "detected_pattern = ?")
		args = append(args, filter.Pattern)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list secrets: %w", err)
	}
	defer rows.Close()

	var out []SecretInfo
	for rows.Next() {
		var info SecretInfo
		if err := scanInfo(rows, &info); err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// ReencryptAll rotates every secret to newEnc. Every record is decrypted
// under the current key before anything is written; a single failure
// aborts the rotation with no record modified.
func (s *Store) ReencryptAll(ctx context.Context, newEnc *Encryptor) error {
	timer := logging.StartTimer(logging.CategorySecrets, "ReencryptAll")
	defer timer.Stop()

	if newEnc == nil {
		return errors.New("new encryptor is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT secret_id, encrypted_value, salt, nonce FROM secrets`)
	if err != nil {
		return fmt.Errorf("failed to load secrets for rotation: %w", err)
	}
	type rotated struct {
		id                      string
		ciphertext, salt, nonce []byte
	}
	var pending []rotated
	for rows.Next() {
		var r rotated
		if err := rows.Scan(&r.id, &r.ciphertext, &r.salt, &r.nonce); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan secret: %w", err)
		}
		pending = append(pending, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for i, r := range pending {
		plaintext, err := s.enc.Decrypt(r.ciphertext, r.salt, r.nonce)
		if err != nil {
			s.logAccessLocked(ctx, r.id, AccessRotate, "system", "key rotation", false, err.Error())
			s.metrics.SecretAccess("rotate", "failure")
			return fmt.Errorf("rotation aborted, secret %s failed to decrypt: %w", r.id, err)
		}
		ct, salt, nonce, err := newEnc.Encrypt(plaintext)
		if err != nil {
			s.metrics.SecretAccess("rotate", "failure")
			return fmt.Errorf("rotation aborted, secret %s failed to encrypt: %w", r.id, err)
		}
		pending[i].ciphertext, pending[i].salt, pending[i].nonce = ct, salt, nonce
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin rotation: %w", err)
	}
	for _, r := range pending {
		if _, err := tx.ExecContext(ctx,
			`UPDATE secrets SET encrypted_value = ?, salt = ?, nonce = ?, key_ref = ? WHERE secret_id = ?`,
			r.ciphertext, r.salt, r.nonce, newEnc.KeyRef(), r.id); err != nil {
			tx.Rollback()
			s.metrics.SecretAccess("rotate", "failure")
			return fmt.Errorf("failed to rewrite secret %s: %w", r.id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		s.metrics.SecretAccess("rotate", "failure")
		return fmt.Errorf("failed to commit rotation: %w", err)
	}

	old := s.enc.KeyRef()
	s.enc = newEnc
	for _, r := range pending {
		s.logAccessLocked(ctx, r.id, AccessRotate, "system", "key rotation", true, "")
	}
	s.metrics.SecretAccess("rotate", "success")
	logging.Secrets("Rotated %d secrets from key %s to %s", len(pending), old, newEnc.KeyRef())
	return nil
}

// AccessLogs returns the access log newest first, optionally for one secret.
func (s *Store) AccessLogs(ctx context.Context, secretID string, limit int) ([]AccessLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, secret_id, action, accessor, purpose, timestamp, success, failure_reason
		FROM secret_access_log`
	var args []interface{}
	if secretID != "" {
		query += " WHERE secret_id = ?"
		args = append(args, secretID)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query access log: %w", err)
	}
	defer rows.Close()

	var out []AccessLogEntry
	for rows.Next() {
		var e AccessLogEntry
		var action, ts string
		var success int
		if err := rows.Scan(&e.ID, &e.SecretID, &action, &e.Accessor, &e.Purpose, &ts, &success, &e.FailureReason); err != nil {
			return nil, fmt.Errorf("failed to scan access log: %w", err)
		}
		e.Action = AccessAction(action)
		e.Success = success != 0
		e.Timestamp = store.ParseTime(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Stats summarizes the store contents.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &Stats{BySensitivity: make(map[Sensitivity]int), KeyRef: s.enc.KeyRef()}
	rows, err := s.db.QueryContext(ctx, `SELECT sensitivity, COUNT(*) FROM secrets GROUP BY sensitivity`)
	if err != nil {
		return nil, fmt.Errorf("failed to count secrets: %w", err)
	}
	for rows.Next() {
		var sens string
		var n int
		if err := rows.Scan(&sens, &n); err != nil {
			rows.Close()
			return nil, err
		}
		stats.BySensitivity[Sensitivity(sens)] = n
		stats.Total += n
	}
	rows.Close()

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), 0) FROM secret_access_log`,
	).Scan(&stats.AccessLogSize, &stats.FailedAccess); err != nil {
		return nil, fmt.Errorf("failed to count access log: %w", err)
	}
	return stats, nil
}

func (s *Store) getLocked(ctx context.Context, id string) (*SecretRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT secret_id, description, sensitivity, detected_pattern, context_hint, source_id,
			auto_decapsulate_for, manual_access_only, created_at, last_accessed, access_count,
			encrypted_value, salt, nonce, key_ref
		FROM secrets WHERE secret_id = ?`, id)

	var rec SecretRecord
	err := scanInfo(row, &rec.SecretInfo, &rec.EncryptedValue, &rec.Salt, &rec.Nonce, &rec.KeyRef)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanInfo(sc scanner, info *SecretInfo, extra ...interface{}) error {
	var sens, policy, created string
	var lastAccessed sql.NullString
	var manual int
	dest := []interface{}{
		&info.ID, &info.Description, &sens, &info.DetectedPattern, &info.ContextHint, &info.SourceID,
		&policy, &manual, &created, &lastAccessed, &info.AccessCount,
	}
	if err := sc.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return fmt.Errorf("failed to scan secret: %w", err)
	}

	info.Sensitivity = Sensitivity(sens)
	info.ManualAccessOnly = manual != 0
	info.CreatedAt = store.ParseTime(created)
	if lastAccessed.Valid {
		if t := store.ParseTime(lastAccessed.String); !t.IsZero() {
			info.LastAccessed = &t
		}
	}
	info.AutoDecapsulateFor = []types.ActionType{}
	if err := json.Unmarshal([]byte(policy), &info.AutoDecapsulateFor); err != nil {
		logging.Get(logging.CategorySecrets).Warn("Corrupt decapsulation policy on %s: %v", info.ID, err)
	}
	return nil
}

// logAccessLocked appends to the access log. Failures are logged only.
func (s *Store) logAccessLocked(ctx context.Context, id string, action AccessAction, accessor, purpose string, success bool, reason string) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO secret_access_log (secret_id, action, accessor, purpose, timestamp, success, failure_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, string(action), accessor, purpose, store.FormatTime(s.now()), boolToInt(success), reason)
	if err != nil {
		logging.Get(logging.CategorySecrets).Error("Failed to write access log for %s: %v", id, err)
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
