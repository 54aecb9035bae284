// Package history stores conversation transcripts in SQLite so follow-up
// questions can carry prior turns into the pipeline as rewrite context.
package history

import (
	"context"
	"database/sql"
	"fmt"

	sift "github.com/quellen/sift"
	_ "modernc.org/sqlite"
)

// Store persists conversation messages keyed by conversation ID.
type Store struct {
	db *sql.DB
}

// New creates a history store using a local SQLite file. The same file can
// be shared with the chunk store.
func New(dbPath string) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only validates arguments; a bad driver name is a
		// programming error.
		panic(fmt.Sprintf("history: open sqlite: %v", err))
	}
	db.SetMaxOpenConns(1)
	return &Store{db: db}
}

// Init creates the messages table. Safe to call multiple times.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS conversation_messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("history: init: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON conversation_messages(conversation_id, created_at)`)
	if err != nil {
		return fmt.Errorf("history: init index: %w", err)
	}
	return nil
}

// Append records one message at the end of a conversation.
func (s *Store) Append(ctx context.Context, conversationID string, msg sift.Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_messages (id, conversation_id, role, content, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		sift.NewID(), conversationID, msg.Role, msg.Content, sift.NowUnix())
	if err != nil {
		return fmt.Errorf("history: append: %w", err)
	}
	return nil
}

// Recent returns the last limit messages of a conversation in chronological
// order. limit <= 0 returns all messages.
func (s *Store) Recent(ctx context.Context, conversationID string, limit int) ([]sift.Message, error) {
	q := `SELECT role, content FROM conversation_messages
		WHERE conversation_id = ? ORDER BY created_at DESC, id DESC`
	args := []any{conversationID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	defer rows.Close()

	var msgs []sift.Message
	for rows.Next() {
		var m sift.Message
		if err := rows.Scan(&m.Role, &m.Content); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Rows came newest-first; flip to chronological.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// Clear deletes all messages of a conversation.
func (s *Store) Clear(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM conversation_messages WHERE conversation_id = ?`, conversationID)
	return err
}

// Prune deletes messages older than the cutoff unix timestamp across all
// conversations.
func (s *Store) Prune(ctx context.Context, cutoffUnix int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM conversation_messages WHERE created_at < ?`, cutoffUnix)
	return err
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
