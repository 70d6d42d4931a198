package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/wavelinehq/waveline-go/internal/cache"
)

// ErrNotFound is returned when a cached row does not exist.
var ErrNotFound = errors.New("not found in cache")

// SQLiteCache implements cache.Cache for SQLite.
type SQLiteCache struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL DEFAULT '',
	display_name    TEXT NOT NULL DEFAULT '',
	sequence_number INTEGER NOT NULL DEFAULT 0,
	updated_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS events (
	id              INTEGER NOT NULL,
	conversation_id TEXT NOT NULL,
	type            TEXT NOT NULL,
	sender          TEXT NOT NULL DEFAULT '',
	body            BLOB,
	created_at      DATETIME NOT NULL,
	PRIMARY KEY (conversation_id, id)
);
`

// New creates a new SQLite cache at dbPath and applies the schema.
func New(dbPath string) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteCache{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteCache) Close() error {
	return s.db.Close()
}

// UpsertConversation inserts or refreshes a conversation row.
func (s *SQLiteCache) UpsertConversation(ctx context.Context, conv *cache.Conversation) error {
	query := `
		INSERT INTO conversations (id, name, display_name, sequence_number, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			display_name = excluded.display_name,
			sequence_number = excluded.sequence_number,
			updated_at = CURRENT_TIMESTAMP
	`
	if _, err := s.db.ExecContext(ctx, query, conv.ID, conv.Name, conv.DisplayName, conv.SequenceNumber); err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}
	return nil
}

// GetConversation retrieves a cached conversation by id.
func (s *SQLiteCache) GetConversation(ctx context.Context, id string) (*cache.Conversation, error) {
	query := `
		SELECT id, name, display_name, sequence_number, updated_at
		FROM conversations
		WHERE id = ?
	`
	conv := &cache.Conversation{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&conv.ID, &conv.Name, &conv.DisplayName, &conv.SequenceNumber, &conv.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}

// AppendEvent records one event-log entry. Replaying the same event id is a
// no-op so reprocessing after reconnect stays idempotent.
func (s *SQLiteCache) AppendEvent(ctx context.Context, ev *cache.Event) error {
	query := `
		INSERT OR IGNORE INTO events (id, conversation_id, type, sender, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, ev.ID, ev.ConversationID, ev.Type, ev.From, ev.Body, ev.Timestamp); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListEvents returns up to limit most recent events for a conversation,
// oldest first.
func (s *SQLiteCache) ListEvents(ctx context.Context, conversationID string, limit int) ([]*cache.Event, error) {
	query := `
		SELECT id, conversation_id, type, sender, body, created_at
		FROM (
			SELECT * FROM events
			WHERE conversation_id = ?
			ORDER BY id DESC
			LIMIT ?
		)
		ORDER BY id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []*cache.Event
	for rows.Next() {
		ev := &cache.Event{}
		if err := rows.Scan(&ev.ID, &ev.ConversationID, &ev.Type, &ev.From, &ev.Body, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

var _ cache.Cache = (*SQLiteCache)(nil)
