// Package pg implements store.Store backed by Postgres via the pgx stdlib
// driver. Used in managed deployments; schema is applied by `mentorgate
// migrate` from the migrations/ directory.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/openmentor/mentorgate/internal/store"
)

// OpenDB opens a Postgres pool with sane defaults for a chat gateway:
// few long-lived connections, short idle reap.
func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// PGStore implements store.Store on Postgres.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) GetOrCreateUser(ctx context.Context, id, displayName, source string) (*store.User, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, display_name, source, tokens, created_at)
		 VALUES ($1, $2, $3, $4, $5) ON CONFLICT (id) DO NOTHING`,
		id, displayName, source, store.DefaultInitialTokens, time.Now())
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return s.GetUser(ctx, id)
}

func (s *PGStore) GetUser(ctx context.Context, id string) (*store.User, error) {
	u := &store.User{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, source, tokens, created_at FROM users WHERE id = $1`,
		id).Scan(&u.ID, &u.DisplayName, &u.Source, &u.Tokens, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select user: %w", err)
	}
	return u, nil
}

func (s *PGStore) GetOrCreateSession(ctx context.Context, id, userID, channel string) (*store.Session, error) {
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, channel, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5) ON CONFLICT (id) DO NOTHING`,
		id, userID, channel, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return s.GetSession(ctx, id)
}

func (s *PGStore) GetSession(ctx context.Context, id string) (*store.Session, error) {
	sess := &store.Session{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, channel, created_at, updated_at FROM sessions WHERE id = $1`,
		id).Scan(&sess.ID, &sess.UserID, &sess.Channel, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select session: %w", err)
	}
	return sess, nil
}

func (s *PGStore) AppendMessages(ctx context.Context, entries []store.MessageEntry) error {
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
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			e.ID, e.SessionID, e.UserID, e.Role, e.Content, e.MessageID, e.IsReply, e.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at = $1 WHERE id = $2`, now, entries[0].SessionID); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return tx.Commit()
}

func (s *PGStore) GetMessages(ctx context.Context, sessionID string, limit int) ([]store.MessageEntry, error) {
	query := `SELECT id, session_id, user_id, role, content, message_id, is_reply, created_at
	          FROM messages WHERE session_id = $1 ORDER BY created_at DESC`
	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT $2`
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

	// Query is newest-first for the LIMIT; callers expect chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *PGStore) TokenBalance(ctx context.Context, userID string) (int64, error) {
	var tokens int64
	err := s.db.QueryRowContext(ctx,
		`SELECT tokens FROM users WHERE id = $1`, userID).Scan(&tokens)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, store.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("select balance: %w", err)
	}
	return tokens, nil
}

func (s *PGStore) ConsumeTokens(ctx context.Context, userID string, amount int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET tokens = tokens - $1 WHERE id = $2 AND tokens >= $1`,
		amount, userID)
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

func (s *PGStore) Close() error { return s.db.Close() }
