// Package sqlite implements store.Store on a local SQLite file via the pure-Go
// modernc driver. Default persistent backend for standalone deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/openmentor/mentorgate/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id           TEXT PRIMARY KEY,
    display_name TEXT NOT NULL DEFAULT '',
    source       TEXT NOT NULL DEFAULT '',
    tokens       INTEGER NOT NULL DEFAULT 0,
    created_at   TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS sessions (
    id         TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL,
    channel    TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
    id         TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    user_id    TEXT NOT NULL,
    role       TEXT NOT NULL,
    content    TEXT NOT NULL,
    message_id TEXT NOT NULL DEFAULT '',
    is_reply   INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);
`

// SQLiteStore implements store.Store on a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (and if needed initializes) the SQLite database at path.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent consumers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetOrCreateUser(ctx context.Context, id, displayName, source string) (*store.User, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO users (id, display_name, source, tokens, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		id, displayName, source, store.DefaultInitialTokens, time.Now())
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return s.GetUser(ctx, id)
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*store.User, error) {
	u := &store.User{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, source, tokens, created_at FROM users WHERE id = ?`,
		id).Scan(&u.ID, &u.DisplayName, &u.Source, &u.Tokens, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select user: %w", err)
	}
	return u, nil
}

func (s *SQLiteStore) GetOrCreateSession(ctx context.Context, id, userID, channel string) (*store.Session, error) {
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sessions (id, user_id, channel, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		id, userID, channel, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return s.GetSession(ctx, id)
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*store.Session, error) {
	sess := &store.Session{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, channel, created_at, updated_at FROM sessions WHERE id = ?`,
		id).Scan(&sess.ID, &sess.UserID, &sess.Channel, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select session: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) AppendMessages(ctx context.Context, entries []store.MessageEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO messages (id, session_id, user_id, role, content, message_id, is_reply, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.SessionID, e.UserID, e.Role, e.Content, e.MessageID, e.IsReply, e.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE id = ?`, now, entries[0].SessionID); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetMessages(ctx context.Context, sessionID string, limit int) ([]store.MessageEntry, error) {
	query := `SELECT id, session_id, user_id, role, content, message_id, is_reply, created_at
	          FROM messages WHERE session_id = ? ORDER BY created_at DESC`
	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select messages: %w", err)
	}
	defer rows.Close()

	var out []store.MessageEntry
	for rows.Next() {
		var e store.MessageEntry
		if err := rows.Scan(&e.ID, &e.SessionID, &e.UserID, &e.Role, &e.Content,
			&e.MessageID, &e.IsReply, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *SQLiteStore) TokenBalance(ctx context.Context, userID string) (int64, error) {
	var tokens int64
	err := s.db.QueryRowContext(ctx,
		`SELECT tokens FROM users WHERE id = ?`, userID).Scan(&tokens)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, store.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("select balance: %w", err)
	}
	return tokens, nil
}

func (s *SQLiteStore) ConsumeTokens(ctx context.Context, userID string, amount int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET tokens = tokens - ? WHERE id = ? AND tokens >= ?`,
		amount, userID, amount)
	if err != nil {
		return fmt.Errorf("consume tokens: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		if _, err := s.GetUser(ctx, userID); err != nil {
			return err
		}
		return store.ErrInsufficientTokens
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
