// Package working implements the TTL-bounded short-term observation store
// backed by an embedded SQLite database (state.db). It owns event dedupe
// and the per-scope consolidation cursor.
package working

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/steveyegge/engram/internal/policy"
	"github.com/steveyegge/engram/internal/types"
)

// dedupeWindow is how far back the per-user normalized-text dedupe looks.
const dedupeWindow = 24 * time.Hour

const schema = `
CREATE TABLE IF NOT EXISTS working_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    source TEXT,
    user_id TEXT,
    text TEXT,
    normalized_text TEXT,
    ts INTEGER,
    scope_key TEXT,
    scope_kind TEXT,
    scope_id TEXT,
    event_id TEXT,
    metadata TEXT,
    inserted_at INTEGER DEFAULT (strftime('%s','now')),
    consolidated INTEGER DEFAULT 0
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_working_event
    ON working_events(source, event_id) WHERE event_id IS NOT NULL AND event_id != '';
CREATE INDEX IF NOT EXISTS idx_working_norm
    ON working_events(user_id, normalized_text, ts);
CREATE INDEX IF NOT EXISTS idx_working_scope
    ON working_events(scope_kind, scope_id, ts DESC);
CREATE TABLE IF NOT EXISTS consolidation_state (
    scope_key TEXT PRIMARY KEY,
    last_ts INTEGER
);
`

// Store is the working-memory store. One mutex serializes all mutations.
type Store struct {
	db      *sql.DB
	dbPath  string
	ttl     time.Duration
	mu      sync.Mutex
	nowFunc func() time.Time
}

// Open opens (or creates) the working store at dbPath with the given event
// TTL. Schema initialization is idempotent, and the normalized_text column
// is added to pre-existing databases that lack it.
func Open(dbPath string, ttlHours int) (*Store, error) {
	if ttlHours <= 0 {
		ttlHours = 24
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open working db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping working db: %w", err)
	}

	s := &Store{
		db:      db,
		dbPath:  dbPath,
		ttl:     time.Duration(ttlHours) * time.Hour,
		nowFunc: time.Now,
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init working schema: %w", err)
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
	if err := tx.Commit(); err != nil {
		return err
	}

	// Databases created before normalized_text existed get the column via
	// an additive migration. Fresh databases already carry it, so the
	// duplicate-column error is the expected steady state.
	if _, err := s.db.Exec(`ALTER TABLE working_events ADD COLUMN normalized_text TEXT`); err != nil &&
		!strings.Contains(err.Error(), "duplicate column") {
		return fmt.Errorf("migrate working schema: %w", err)
	}
	return nil
}

// Add inserts an observation, returning false when it is rejected by
// dedupe: either (source, event_id) already exists, or another event from
// the same user carries the same normalized text within the last 24 hours.
func (s *Store) Add(ctx context.Context, event *types.WorkingEvent) (bool, error) {
	if event.Timestamp == 0 {
		event.Timestamp = s.nowFunc().Unix()
	}
	normalized := policy.Normalize(event.Text)
	event.NormalizedText = normalized

	metadataJSON, err := json.Marshal(event.Metadata)
	if err != nil {
		return false, fmt.Errorf("marshal event metadata: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	if event.EventID != "" {
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM working_events WHERE source = ? AND event_id = ? LIMIT 1`,
			event.Source, event.EventID).Scan(&exists)
		if err == nil {
			return false, nil
		}
		if err != sql.ErrNoRows {
			return false, fmt.Errorf("dedupe by event id: %w", err)
		}
	}

	cutoff := event.Timestamp - int64(dedupeWindow/time.Second)
	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM working_events WHERE user_id = ? AND normalized_text = ? AND ts >= ? LIMIT 1`,
		event.UserID, normalized, cutoff).Scan(&exists)
	if err == nil {
		return false, nil
	}
	if err != sql.ErrNoRows {
		return false, fmt.Errorf("dedupe by normalized text: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO working_events
		 (source, user_id, text, normalized_text, ts, scope_key, scope_kind, scope_id, event_id, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.Source, event.UserID, event.Text, normalized, event.Timestamp,
		event.Scope.Key(), string(event.Scope.Kind), event.Scope.ID, event.EventID, string(metadataJSON))
	if err != nil {
		return false, fmt.Errorf("insert working event: %w", err)
	}
	return true, tx.Commit()
}

// RecentForScope returns the limit most recent events for the scope,
// newest first.
func (s *Store) RecentForScope(ctx context.Context, scope types.Scope, limit int) ([]types.WorkingEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, user_id, text, normalized_text, ts, scope_kind, scope_id, event_id, metadata, inserted_at, consolidated
		 FROM working_events
		 WHERE scope_kind = ? AND scope_id = ?
		 ORDER BY ts DESC
		 LIMIT ?`,
		string(scope.Kind), scope.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent for scope: %w", err)
	}
	defer rows.Close()

	var events []types.WorkingEvent
	for rows.Next() {
		var (
			evt          types.WorkingEvent
			scopeKind    string
			eventID      sql.NullString
			metadataJSON sql.NullString
			consolidated int
		)
		if err := rows.Scan(&evt.ID, &evt.Source, &evt.UserID, &evt.Text, &evt.NormalizedText,
			&evt.Timestamp, &scopeKind, &evt.Scope.ID, &eventID, &metadataJSON,
			&evt.InsertedAt, &consolidated); err != nil {
			return nil, fmt.Errorf("scan working event: %w", err)
		}
		evt.Scope.Kind = types.ScopeKind(scopeKind)
		evt.EventID = eventID.String
		evt.Consolidated = consolidated != 0
		if metadataJSON.Valid && metadataJSON.String != "" {
			_ = json.Unmarshal([]byte(metadataJSON.String), &evt.Metadata)
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

// MarkConsolidated advances the consolidation cursor for the scope. The
// cursor never decreases.
func (s *Store) MarkConsolidated(ctx context.Context, scope types.Scope, upToTS int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO consolidation_state (scope_key, last_ts) VALUES (?, ?)
		 ON CONFLICT(scope_key) DO UPDATE SET last_ts = MAX(last_ts, excluded.last_ts)`,
		scope.Key(), upToTS)
	if err != nil {
		return fmt.Errorf("mark consolidated: %w", err)
	}
	return nil
}

// Cursor returns the consolidation watermark for the scope, or 0 when no
// pass has run.
func (s *Store) Cursor(ctx context.Context, scope types.Scope) (int64, error) {
	var ts int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_ts FROM consolidation_state WHERE scope_key = ?`, scope.Key()).Scan(&ts)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read cursor: %w", err)
	}
	return ts, nil
}

// Cleanup deletes events older than the TTL. Called at startup and
// periodically.
func (s *Store) Cleanup(ctx context.Context) error {
	cutoff := s.nowFunc().Add(-s.ttl).Unix()
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM working_events WHERE ts < ?`, cutoff); err != nil {
		return fmt.Errorf("cleanup working events: %w", err)
	}
	return nil
}

// Count returns the number of stored events (for /doctor).
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM working_events`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
