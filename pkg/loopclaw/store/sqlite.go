// Package store – sqlite.go implements ThreadStore backed by the central
// loopclaw.db SQLite database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists conversation metadata in the "threads" table.
type SQLiteStore struct {
	db *sql.DB
}

const threadsSchema = `
CREATE TABLE IF NOT EXISTS threads (
	conversation_id TEXT PRIMARY KEY,
	title           TEXT NOT NULL DEFAULT '',
	workspace       TEXT NOT NULL DEFAULT '',
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL,
	loop            TEXT
);`

// OpenSQLite opens (creating if needed) the database at path and ensures the
// schema exists. WAL mode keeps reader latency low while runs persist status.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec(threadsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating threads table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// GetMetadata returns the metadata for a conversation, or ErrNotFound.
func (s *SQLiteStore) GetMetadata(ctx context.Context, id string) (*Metadata, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT conversation_id, title, workspace, created_at, updated_at, loop
		FROM threads WHERE conversation_id = ?`, id)
	return scanMetadata(row)
}

// SaveMetadata inserts or replaces a full metadata record.
func (s *SQLiteStore) SaveMetadata(ctx context.Context, md *Metadata) error {
	now := time.Now().UTC()
	if md.CreatedAt.IsZero() {
		md.CreatedAt = now
	}
	md.UpdatedAt = now

	var loopCol sql.NullString
	if len(md.Loop) > 0 && !isNullJSON(md.Loop) {
		loopCol = sql.NullString{String: string(md.Loop), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO threads
			(conversation_id, title, workspace, created_at, updated_at, loop)
		VALUES (?, ?, ?, ?, ?, ?)`,
		md.ConversationID,
		md.Title,
		md.Workspace,
		md.CreatedAt.Format(time.RFC3339),
		md.UpdatedAt.Format(time.RFC3339),
		loopCol,
	)
	if err != nil {
		return fmt.Errorf("save thread %q: %w", md.ConversationID, err)
	}
	return nil
}

// UpdateMetadata applies a partial update inside a transaction so concurrent
// status writes from different runners cannot interleave half-applied.
func (s *SQLiteStore) UpdateMetadata(ctx context.Context, id string, patch Patch) (*Metadata, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT conversation_id, title, workspace, created_at, updated_at, loop
		FROM threads WHERE conversation_id = ?`, id)
	md, err := scanMetadata(row)
	if err != nil {
		return nil, err
	}

	if patch.Title != nil {
		md.Title = *patch.Title
	}
	if patch.Workspace != nil {
		md.Workspace = *patch.Workspace
	}
	if patch.Loop != nil {
		if isNullJSON(patch.Loop) {
			md.Loop = nil
		} else {
			md.Loop = append(json.RawMessage(nil), patch.Loop...)
		}
	}
	md.UpdatedAt = time.Now().UTC()

	var loopCol sql.NullString
	if len(md.Loop) > 0 {
		loopCol = sql.NullString{String: string(md.Loop), Valid: true}
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE threads SET title = ?, workspace = ?, updated_at = ?, loop = ?
		WHERE conversation_id = ?`,
		md.Title, md.Workspace, md.UpdatedAt.Format(time.RFC3339), loopCol, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update thread %q: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}
	return md, nil
}

// List returns all conversations ordered by last update.
func (s *SQLiteStore) List(ctx context.Context) ([]*Metadata, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id, title, workspace, created_at, updated_at, loop
		FROM threads ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	var out []*Metadata
	for rows.Next() {
		md, err := scanMetadata(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, md)
	}
	return out, rows.Err()
}

// Delete removes a conversation's metadata.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM threads WHERE conversation_id = ?", id)
	if err != nil {
		return fmt.Errorf("delete thread %q: %w", id, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMetadata(row rowScanner) (*Metadata, error) {
	var (
		md        Metadata
		createdAt string
		updatedAt string
		loopCol   sql.NullString
	)
	err := row.Scan(&md.ConversationID, &md.Title, &md.Workspace, &createdAt, &updatedAt, &loopCol)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan thread: %w", err)
	}
	md.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	md.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	if loopCol.Valid {
		md.Loop = json.RawMessage(loopCol.String)
	}
	return &md, nil
}
