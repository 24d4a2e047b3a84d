// Package sqlite implements the storage backend on an embedded SQLite
// database. Payloads persist in a single memories table with the metadata
// map serialized as JSON.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/google/uuid"
	"github.com/steveyegge/engram/internal/storage"
	"github.com/steveyegge/engram/internal/storage/memory"
)

const schema = `
CREATE TABLE IF NOT EXISTS memories (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    text TEXT NOT NULL,
    metadata TEXT,
    score REAL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_memories_user ON memories(user_id);
`

// Store is the embedded-SQL backend. Mutations are serialized by a single
// mutex; the connection tolerates use from multiple goroutines.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
}

// New opens (or creates) the database at path and initializes the schema.
// Initialization is idempotent.
func New(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create memories db dir: %w", err)
	}

	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open memories db: %w", err)
	}

	// SQLite supports one writer; a small pool avoids write-lock pile-up.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping memories db: %w", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init memories schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}
	return tx.Commit()
}

// Add inserts a payload with a fresh random id.
func (s *Store) Add(ctx context.Context, userID, text string, metadata map[string]any) (storage.Payload, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	id := uuid.NewString()
	s.mu.Lock()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO memories (id, user_id, text, metadata, score) VALUES (?, ?, ?, ?, ?)`,
		id, userID, text, string(metadataJSON), 1.0)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("insert memory: %w", err)
	}

	return storage.Payload{
		"id":       id,
		"user_id":  userID,
		"text":     text,
		"metadata": metadata,
		"score":    1.0,
	}, nil
}

// Query returns payloads for userID whose text contains the query
// substring, case-insensitively, newest first.
func (s *Store) Query(ctx context.Context, userID, query string, limit int) ([]storage.Payload, error) {
	pattern := "%" + strings.ToLower(query) + "%"
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, text, metadata, score
		 FROM memories
		 WHERE user_id = ? AND lower(text) LIKE ?
		 ORDER BY rowid DESC
		 LIMIT ?`,
		userID, pattern, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()
	return scanPayloads(rows)
}

// List returns up to limit payloads newest first, optionally filtered by
// userID.
func (s *Store) List(ctx context.Context, userID string, limit int) ([]storage.Payload, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if userID == "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, user_id, text, metadata, score FROM memories ORDER BY rowid DESC LIMIT ?`,
			normalizeLimit(limit))
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, user_id, text, metadata, score FROM memories WHERE user_id = ? ORDER BY rowid DESC LIMIT ?`,
			userID, normalizeLimit(limit))
	}
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()
	return scanPayloads(rows)
}

// Delete removes a memory by id.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete memory: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Summarize joins the texts and truncates to maxLength.
func (s *Store) Summarize(_ context.Context, texts []string, maxLength int) (string, error) {
	return memory.Truncate(strings.Join(texts, " "), maxLength), nil
}

// Name identifies the backend variant.
func (s *Store) Name() string { return "sqlite" }

// Path returns the database file path.
func (s *Store) Path() string { return s.dbPath }

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func scanPayloads(rows *sql.Rows) ([]storage.Payload, error) {
	var out []storage.Payload
	for rows.Next() {
		var (
			id, userID, text string
			metadataJSON     sql.NullString
			score            sql.NullFloat64
		)
		if err := rows.Scan(&id, &userID, &text, &metadataJSON, &score); err != nil {
			return nil, fmt.Errorf("scan memory row: %w", err)
		}

		metadata := map[string]any{}
		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &metadata); err != nil {
				metadata = map[string]any{"raw": metadataJSON.String}
			}
		}

		payload := storage.Payload{
			"id":       id,
			"user_id":  userID,
			"text":     text,
			"metadata": metadata,
		}
		if score.Valid {
			payload["score"] = score.Float64
		}
		out = append(out, payload)
	}
	return out, rows.Err()
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}
