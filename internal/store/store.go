// Package store persists staging ground sessions in SQLite.
// One row per session key plus one row per staged file. Every write bumps a
// per-key revision counter so concurrent writers to the same database can be
// detected by readers instead of silently overwriting each other.
package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"dakbench/internal/logging"
)

// SchemaVersion is written with every session blob. Sessions persisted with a
// different version load as empty rather than being misinterpreted.
const SchemaVersion = 1

// PersistedFile is one staged file as stored on disk.
type PersistedFile struct {
	Path      string            `json:"path"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// PersistedSession is the on-disk form of a staging ground session.
type PersistedSession struct {
	SchemaVersion int             `json:"schema_version"`
	Message       string          `json:"message"`
	Revision      int64           `json:"revision"`
	Files         []PersistedFile `json:"files"`
}

// Signal is the payload dropped into the signals directory after each write.
// Watchers in other processes compare Revision against their own view.
type Signal struct {
	Key      string `json:"key"`
	Revision int64  `json:"revision"`
	Writer   string `json:"writer"`
}

// Store is the SQLite-backed persistence layer for staging sessions.
type Store struct {
	db         *sql.DB
	mu         sync.RWMutex
	dbPath     string
	signalsDir string
	writerID   string
}

// NewStore opens (or creates) the staging database at path. signalsDir may be
// empty, in which case no cross-process signals are emitted.
func NewStore(path, signalsDir string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && path != ":memory:" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{
		db:         db,
		dbPath:     path,
		signalsDir: signalsDir,
		writerID:   uuid.NewString(),
	}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	if signalsDir != "" {
		if err := os.MkdirAll(signalsDir, 0755); err != nil {
			logging.StoreWarn("signals dir unavailable, cross-process invalidation disabled: %v", err)
			s.signalsDir = ""
		}
	}

	return s, nil
}

// initialize creates the required tables.
func (s *Store) initialize() error {
	sessionTable := `
	CREATE TABLE IF NOT EXISTS staging_sessions (
		session_key TEXT PRIMARY KEY,
		schema_version INTEGER NOT NULL,
		revision INTEGER NOT NULL DEFAULT 1,
		message TEXT NOT NULL DEFAULT '',
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	filesTable := `
	CREATE TABLE IF NOT EXISTS staged_files (
		session_key TEXT NOT NULL,
		path TEXT NOT NULL,
		content TEXT NOT NULL,
		metadata TEXT,
		updated_at INTEGER,
		PRIMARY KEY (session_key, path)
	);
	CREATE INDEX IF NOT EXISTS idx_staged_files_key ON staged_files(session_key);
	`

	for _, table := range []string{sessionTable, filesTable} {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// WriterID identifies this store instance in emitted signals.
func (s *Store) WriterID() string {
	return s.writerID
}

// ReadSession loads the persisted session for key. A missing key, a corrupt
// row, or a schema version this build does not understand all report
// (nil, false); callers never see storage errors on the read path.
func (s *Store) ReadSession(key string) (*PersistedSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var version int
	var revision int64
	var message string
	err := s.db.QueryRow(
		"SELECT schema_version, revision, message FROM staging_sessions WHERE session_key = ?",
		key,
	).Scan(&version, &revision, &message)
	if err != nil {
		if err != sql.ErrNoRows {
			logging.StoreWarn("read of session %s failed: %v", key, err)
		}
		return nil, false
	}

	if version != SchemaVersion {
		logging.StoreWarn("session %s has schema version %d (want %d), loading empty", key, version, SchemaVersion)
		return nil, false
	}

	rows, err := s.db.Query(
		"SELECT path, content, metadata, updated_at FROM staged_files WHERE session_key = ? ORDER BY path",
		key,
	)
	if err != nil {
		logging.StoreWarn("read of staged files for %s failed: %v", key, err)
		return nil, false
	}
	defer rows.Close()

	session := &PersistedSession{
		SchemaVersion: version,
		Revision:      revision,
		Message:       message,
	}
	for rows.Next() {
		var f PersistedFile
		var metaJSON sql.NullString
		var updatedAt sql.NullInt64
		if err := rows.Scan(&f.Path, &f.Content, &metaJSON, &updatedAt); err != nil {
			logging.StoreWarn("skipping corrupt staged file row in %s: %v", key, err)
			continue
		}
		if metaJSON.Valid && metaJSON.String != "" {
			if err := json.Unmarshal([]byte(metaJSON.String), &f.Metadata); err != nil {
				logging.StoreWarn("metadata for %s/%s is corrupt, dropping: %v", key, f.Path, err)
				f.Metadata = nil
			}
		}
		if updatedAt.Valid {
			f.UpdatedAt = time.Unix(0, updatedAt.Int64)
		}
		session.Files = append(session.Files, f)
	}

	return session, true
}

// WriteSession replaces the persisted state for key with the given session
// and returns the new revision. The stored revision counter always moves
// forward regardless of what the caller supplies.
func (s *Store) WriteSession(key string, session *PersistedSession) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin write: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO staging_sessions (session_key, schema_version, revision, message, updated_at)
		 VALUES (?, ?, 1, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(session_key) DO UPDATE SET
		   schema_version = excluded.schema_version,
		   revision = staging_sessions.revision + 1,
		   message = excluded.message,
		   updated_at = CURRENT_TIMESTAMP`,
		key, SchemaVersion, session.Message,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert session: %w", err)
	}

	var revision int64
	if err := tx.QueryRow(
		"SELECT revision FROM staging_sessions WHERE session_key = ?", key,
	).Scan(&revision); err != nil {
		return 0, fmt.Errorf("failed to read back revision: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM staged_files WHERE session_key = ?", key); err != nil {
		return 0, fmt.Errorf("failed to clear staged files: %w", err)
	}

	for _, f := range session.Files {
		metaJSON := ""
		if len(f.Metadata) > 0 {
			data, err := json.Marshal(f.Metadata)
			if err != nil {
				return 0, fmt.Errorf("failed to marshal metadata for %s: %w", f.Path, err)
			}
			metaJSON = string(data)
		}
		if _, err := tx.Exec(
			"INSERT INTO staged_files (session_key, path, content, metadata, updated_at) VALUES (?, ?, ?, ?, ?)",
			key, f.Path, f.Content, metaJSON, f.UpdatedAt.UnixNano(),
		); err != nil {
			return 0, fmt.Errorf("failed to insert staged file %s: %w", f.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit write: %w", err)
	}

	logging.StoreDebug("wrote session %s: revision=%d files=%d", key, revision, len(session.Files))
	s.emitSignal(key, revision)
	return revision, nil
}

// Revision reports the current persisted revision for key.
func (s *Store) Revision(key string) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var revision int64
	err := s.db.QueryRow(
		"SELECT revision FROM staging_sessions WHERE session_key = ?", key,
	).Scan(&revision)
	if err != nil {
		return 0, false
	}
	return revision, true
}

// DeleteSession removes all persisted state for key. Deleting a key that was
// never written is not an error.
func (s *Store) DeleteSession(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM staged_files WHERE session_key = ?", key); err != nil {
		return fmt.Errorf("failed to delete staged files: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM staging_sessions WHERE session_key = ?", key); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}

	logging.StoreDebug("deleted session %s", key)
	return nil
}

// SignalPath returns the signal file path for key, or "" when signals are
// disabled.
func (s *Store) SignalPath(key string) string {
	if s.signalsDir == "" {
		return ""
	}
	return filepath.Join(s.signalsDir, KeyHash(key)+".rev")
}

// emitSignal drops a revision marker for key into the signals directory.
// Failures are logged and swallowed; signals are advisory.
func (s *Store) emitSignal(key string, revision int64) {
	path := s.SignalPath(key)
	if path == "" {
		return
	}

	sig := Signal{Key: key, Revision: revision, Writer: s.writerID}
	data, err := json.Marshal(sig)
	if err != nil {
		logging.StoreWarn("failed to marshal signal for %s: %v", key, err)
		return
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		logging.StoreWarn("failed to write signal for %s: %v", key, err)
	}
}

// ReadSignal parses a signal file. ok is false when the file is missing or
// unreadable.
func ReadSignal(path string) (Signal, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Signal{}, false
	}
	var sig Signal
	if err := json.Unmarshal(data, &sig); err != nil {
		return Signal{}, false
	}
	return sig, true
}

// KeyHash maps a session key to a stable filename-safe token.
func KeyHash(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:8])
}
