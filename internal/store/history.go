package store

import (
	"context"
	"fmt"
	"time"

	"github.com/soyeahso/chatterbox/internal/llm"
)

// SQLiteHistoryStore keeps per-conversation message history in SQLite so
// sessions survive restarts.
type SQLiteHistoryStore struct {
	db *DB
}

// NewSQLiteHistoryStore creates a history store using the given database.
func NewSQLiteHistoryStore(db *DB) *SQLiteHistoryStore {
	return &SQLiteHistoryStore{db: db}
}

// Load returns the stored messages for a conversation in insertion order.
// An unknown conversation has no messages.
func (s *SQLiteHistoryStore) Load(ctx context.Context, conversationID string) ([]llm.Message, error) {
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT role, content FROM messages WHERE conversation_id = ? ORDER BY id`, conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("loading history %s: %w", conversationID, err)
	}
	defer rows.Close()

	var msgs []llm.Message
	for rows.Next() {
		var m llm.Message
		if err := rows.Scan(&m.Role, &m.Content); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Append adds messages to a conversation atomically, creating it if needed.
func (s *SQLiteHistoryStore) Append(ctx context.Context, conversationID string, msgs ...llm.Message) error {
	now := time.Now().UTC().Format(time.DateTime)

	tx, err := s.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO conversations (id, created_at, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at`,
		conversationID, now, now,
	); err != nil {
		return fmt.Errorf("upserting conversation %s: %w", conversationID, err)
	}

	for _, m := range msgs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (conversation_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
			conversationID, m.Role, m.Content, now,
		); err != nil {
			return fmt.Errorf("appending message to %s: %w", conversationID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

// Delete removes a conversation and its messages. Deleting an unknown
// conversation is not an error.
func (s *SQLiteHistoryStore) Delete(ctx context.Context, conversationID string) error {
	tx, err := s.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("deleting messages of %s: %w", conversationID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, conversationID); err != nil {
		return fmt.Errorf("deleting conversation %s: %w", conversationID, err)
	}
	return tx.Commit()
}

// DeleteAll removes every conversation.
func (s *SQLiteHistoryStore) DeleteAll(ctx context.Context) error {
	tx, err := s.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete all: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages`); err != nil {
		return fmt.Errorf("deleting messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations`); err != nil {
		return fmt.Errorf("deleting conversations: %w", err)
	}
	return tx.Commit()
}

// Count returns the number of stored conversations.
func (s *SQLiteHistoryStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting conversations: %w", err)
	}
	return n, nil
}

// IDs returns conversation ids, most recently updated first.
func (s *SQLiteHistoryStore) IDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.sql.QueryContext(ctx, `SELECT id FROM conversations ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
