// Package store provides the durable local store for the NoteVerse sync core.
//
// The store is an embedded SQLite database (ncruces/go-sqlite3) opened in
// WAL mode. It holds four tables:
//   - notes: the note records with sync bookkeeping (status, version, device)
//   - attachments: external references, cascading with their owning note
//   - mutation_log: append-only record of local create/update/delete actions
//   - settings: arbitrary key/value state (sync timestamps, device id, queue)
//
// Every mutating call commits synchronously before returning, so a crash
// between calls never loses an already-acknowledged state. Note mutations and
// their mutation_log entries are written in a single transaction.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/noteverse/noteverse/internal/schema"
)

// ErrNotFound is returned when an operation targets a note that does not
// exist locally. It never crosses the sync boundary.
var ErrNotFound = errors.New("note not found")

// Store wraps the SQLite connection with note-store functionality.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates a new store at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// If it doesn't exist it is created; call InitSchema before first use.
// The caller MUST call Close() when done.
//
// Example:
//
//	st, err := store.Open(".noteverse/notes.db")
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	st := &Store{conn: conn, path: path}

	// WAL for concurrent reads
	if _, err := st.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := st.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	// Attachment cascade depends on foreign keys being enforced
	if _, err := st.conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return st, nil
}

// RawDB returns the underlying sql.DB connection.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Close closes the database connection after checkpointing the WAL.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
// Idempotent - safe to call multiple times.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS notes (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT 'ideas',
		tags TEXT,  -- JSON array
		background_ref TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		sync_status TEXT NOT NULL DEFAULT 'pending',
		version INTEGER NOT NULL DEFAULT 1,
		device_id TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS attachments (
		id TEXT PRIMARY KEY,
		note_id TEXT NOT NULL,
		source_type TEXT NOT NULL,
		source_id TEXT NOT NULL,
		title TEXT,
		url TEXT,
		attached_at TEXT NOT NULL,
		FOREIGN KEY (note_id) REFERENCES notes(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS mutation_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		note_id TEXT NOT NULL,
		action TEXT NOT NULL,  -- create, update, delete
		device_id TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		data_snapshot TEXT,
		attempts INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	-- Indexes for the sync work queue and joins
	CREATE INDEX IF NOT EXISTS idx_notes_sync_status ON notes(sync_status);
	CREATE INDEX IF NOT EXISTS idx_notes_category ON notes(category);
	CREATE INDEX IF NOT EXISTS idx_attachments_note ON attachments(note_id);
	CREATE INDEX IF NOT EXISTS idx_mutation_log_note ON mutation_log(note_id);
	CREATE INDEX IF NOT EXISTS idx_mutation_log_time ON mutation_log(timestamp);
	`

	if _, err := s.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// CreateNote stores a new locally-authored note.
//
// The id (when empty), timestamps, version=1, sync_status=pending and the
// owning device id are assigned here. A create entry is appended to the
// mutation log in the same transaction. Returns the stored note.
func (s *Store) CreateNote(draft *schema.Note) (*schema.Note, error) {
	return s.CreateNoteContext(context.Background(), draft)
}

// CreateNoteContext stores a new note with context support.
func (s *Store) CreateNoteContext(ctx context.Context, draft *schema.Note) (*schema.Note, error) {
	deviceID, err := s.DeviceIDContext(ctx)
	if err != nil {
		return nil, err
	}

	note := draft.Clone()
	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	now := time.Now()
	note.CreatedAt = now
	note.UpdatedAt = now
	note.SyncStatus = schema.StatusPending
	note.Version = 1
	note.DeviceID = deviceID
	note.SetDefaults()

	if err := note.Validate(); err != nil {
		return nil, fmt.Errorf("invalid note: %w", err)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertNote(ctx, tx, note); err != nil {
		return nil, err
	}
	if err := appendLog(ctx, tx, note, schema.ActionCreate); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit note create: %w", err)
	}

	return note, nil
}

// GetNote retrieves a single note by id, joined with its attachments.
// Returns ErrNotFound if the note does not exist.
func (s *Store) GetNote(id string) (*schema.Note, error) {
	return s.GetNoteContext(context.Background(), id)
}

// GetNoteContext retrieves a note with context support.
func (s *Store) GetNoteContext(ctx context.Context, id string) (*schema.Note, error) {
	row := s.conn.QueryRowContext(ctx, selectNoteColumns+" FROM notes WHERE id = ?", id)

	note, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	attachments, err := s.AttachmentsContext(ctx, id)
	if err != nil {
		return nil, err
	}
	note.Attachments = attachments

	return note, nil
}

// ListNotes returns all notes in insertion order.
func (s *Store) ListNotes() ([]*schema.Note, error) {
	return s.ListNotesContext(context.Background())
}

// ListNotesContext returns all notes with context support.
func (s *Store) ListNotesContext(ctx context.Context) ([]*schema.Note, error) {
	rows, err := s.conn.QueryContext(ctx, selectNoteColumns+" FROM notes ORDER BY rowid ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	defer rows.Close()

	return scanNotes(rows)
}

// UpdateNote merges a partial update into an existing note.
//
// The updated timestamp is refreshed, version incremented, sync_status reset
// to pending, and an update entry appended to the mutation log. Returns
// ErrNotFound if the note does not exist.
func (s *Store) UpdateNote(id string, patch *schema.NotePatch) (*schema.Note, error) {
	return s.UpdateNoteContext(context.Background(), id, patch)
}

// UpdateNoteContext merges a partial update with context support.
func (s *Store) UpdateNoteContext(ctx context.Context, id string, patch *schema.NotePatch) (*schema.Note, error) {
	note, err := s.GetNoteContext(ctx, id)
	if err != nil {
		return nil, err
	}

	patch.Apply(note)
	note.UpdatedAt = time.Now()
	note.Version++
	note.SyncStatus = schema.StatusPending

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := updateNoteRow(ctx, tx, note); err != nil {
		return nil, err
	}
	if err := appendLog(ctx, tx, note, schema.ActionUpdate); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit note update: %w", err)
	}

	return note, nil
}

// DeleteNote removes a note and cascades its attachments.
//
// A delete entry is appended to the mutation log before removal. Returns
// false without error if the note does not exist.
func (s *Store) DeleteNote(id string) (bool, error) {
	return s.DeleteNoteContext(context.Background(), id)
}

// DeleteNoteContext removes a note with context support.
func (s *Store) DeleteNoteContext(ctx context.Context, id string) (bool, error) {
	note, err := s.GetNoteContext(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := appendLog(ctx, tx, note, schema.ActionDelete); err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM notes WHERE id = ?", id); err != nil {
		return false, fmt.Errorf("failed to delete note %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit note delete: %w", err)
	}

	return true, nil
}

// MarkSynced flips a note's sync_status to synced without touching version
// or content. Used exclusively by the sync engine after a confirmed round
// trip. The version guard keeps the transition tied to the exact version
// that round-tripped: a note edited past that version (another process
// sharing the WAL database, a CLI edit racing the daemon) stays pending so
// the newer edit is pushed on the next cycle. Idempotent; a missing note or
// a moved-on version is a no-op.
func (s *Store) MarkSynced(id string, version int) error {
	return s.MarkSyncedContext(context.Background(), id, version)
}

// MarkSyncedContext marks a note synced with context support.
func (s *Store) MarkSyncedContext(ctx context.Context, id string, version int) error {
	_, err := s.conn.ExecContext(ctx,
		"UPDATE notes SET sync_status = ? WHERE id = ? AND version = ?",
		schema.StatusSynced, id, version)
	if err != nil {
		return fmt.Errorf("failed to mark note %s synced: %w", id, err)
	}
	return nil
}

// PendingNotes returns all notes with sync_status=pending in insertion
// order. This is the outbound work queue for the push phase.
func (s *Store) PendingNotes() ([]*schema.Note, error) {
	return s.PendingNotesContext(context.Background())
}

// PendingNotesContext returns pending notes with context support.
func (s *Store) PendingNotesContext(ctx context.Context) ([]*schema.Note, error) {
	rows, err := s.conn.QueryContext(ctx,
		selectNoteColumns+" FROM notes WHERE sync_status = ? ORDER BY rowid ASC",
		schema.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending notes: %w", err)
	}
	defer rows.Close()

	return scanNotes(rows)
}

// PutSynced upserts a remote note verbatim with sync_status=synced.
//
// This is how the sync engine materializes pulled changes and how the
// resolver commits a surviving note. No mutation log entry is written: the
// change did not originate on this device.
func (s *Store) PutSynced(note *schema.Note) error {
	return s.PutSyncedContext(context.Background(), note)
}

// PutSyncedContext upserts a remote note with context support.
func (s *Store) PutSyncedContext(ctx context.Context, note *schema.Note) error {
	n := note.Clone()
	n.SyncStatus = schema.StatusSynced
	n.SetDefaults()
	if err := n.Validate(); err != nil {
		return fmt.Errorf("invalid remote note: %w", err)
	}

	tagsJSON, err := json.Marshal(n.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	query := `
	INSERT INTO notes (
		id, title, content, category, tags, background_ref,
		created_at, updated_at, sync_status, version, device_id
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		content = excluded.content,
		category = excluded.category,
		tags = excluded.tags,
		background_ref = excluded.background_ref,
		updated_at = excluded.updated_at,
		sync_status = excluded.sync_status,
		version = excluded.version,
		device_id = excluded.device_id
	`

	_, err = s.conn.ExecContext(ctx, query,
		n.ID, n.Title, n.Content, n.Category, string(tagsJSON),
		nullString(n.BackgroundRef),
		n.CreatedAt.Format(schema.TimeFormat),
		n.UpdatedAt.Format(schema.TimeFormat),
		n.SyncStatus, n.Version, n.DeviceID,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert note %s: %w", n.ID, err)
	}

	return nil
}

// insertNote writes a fresh note row inside a transaction.
func insertNote(ctx context.Context, tx *sql.Tx, n *schema.Note) error {
	tagsJSON, err := json.Marshal(n.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	query := `
	INSERT INTO notes (
		id, title, content, category, tags, background_ref,
		created_at, updated_at, sync_status, version, device_id
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = tx.ExecContext(ctx, query,
		n.ID, n.Title, n.Content, n.Category, string(tagsJSON),
		nullString(n.BackgroundRef),
		n.CreatedAt.Format(schema.TimeFormat),
		n.UpdatedAt.Format(schema.TimeFormat),
		n.SyncStatus, n.Version, n.DeviceID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert note %s: %w", n.ID, err)
	}
	return nil
}

// updateNoteRow rewrites an existing note row inside a transaction.
func updateNoteRow(ctx context.Context, tx *sql.Tx, n *schema.Note) error {
	tagsJSON, err := json.Marshal(n.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	query := `
	UPDATE notes SET
		title = ?, content = ?, category = ?, tags = ?, background_ref = ?,
		updated_at = ?, sync_status = ?, version = ?
	WHERE id = ?
	`

	_, err = tx.ExecContext(ctx, query,
		n.Title, n.Content, n.Category, string(tagsJSON),
		nullString(n.BackgroundRef),
		n.UpdatedAt.Format(schema.TimeFormat),
		n.SyncStatus, n.Version, n.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update note %s: %w", n.ID, err)
	}
	return nil
}

// appendLog writes a mutation log entry for a note inside the same
// transaction as the note change itself.
func appendLog(ctx context.Context, tx *sql.Tx, n *schema.Note, action string) error {
	snapshot, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal note snapshot: %w", err)
	}

	query := `
	INSERT INTO mutation_log (note_id, action, device_id, timestamp, data_snapshot)
	VALUES (?, ?, ?, ?, ?)
	`

	_, err = tx.ExecContext(ctx, query,
		n.ID, action, n.DeviceID,
		time.Now().Format(schema.TimeFormat),
		string(snapshot),
	)
	if err != nil {
		return fmt.Errorf("failed to append mutation log entry: %w", err)
	}
	return nil
}

const selectNoteColumns = `SELECT id, title, content, category, tags, background_ref,
	created_at, updated_at, sync_status, version, device_id`

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanNote scans a single note row.
func scanNote(row rowScanner) (*schema.Note, error) {
	var note schema.Note
	var tagsJSON sql.NullString
	var backgroundRef sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&note.ID,
		&note.Title,
		&note.Content,
		&note.Category,
		&tagsJSON,
		&backgroundRef,
		&createdAt,
		&updatedAt,
		&note.SyncStatus,
		&note.Version,
		&note.DeviceID,
	)
	if err != nil {
		return nil, err
	}

	if t, err := time.Parse(schema.TimeFormat, createdAt); err == nil {
		note.CreatedAt = t
	}
	if t, err := time.Parse(schema.TimeFormat, updatedAt); err == nil {
		note.UpdatedAt = t
	}

	if tagsJSON.Valid && tagsJSON.String != "" && tagsJSON.String != "null" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &note.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	} else {
		note.Tags = []string{}
	}

	if backgroundRef.Valid {
		note.BackgroundRef = backgroundRef.String
	}

	return &note, nil
}

// scanNotes is a helper to scan multiple notes from query results.
func scanNotes(rows *sql.Rows) ([]*schema.Note, error) {
	var notes []*schema.Note

	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		notes = append(notes, note)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notes: %w", err)
	}

	return notes, nil
}

// nullString converts an optional string column value.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}
