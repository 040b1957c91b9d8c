package store

import (
	"context"
	"errors"
	"time"
)

// Message roles as persisted.
const (
	RoleHuman = "human"
	RoleAI    = "ai"
)

var (
	// ErrNotFound is returned when a user or session does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrInsufficientTokens is returned by ConsumeTokens when the balance
	// cannot cover the requested amount.
	ErrInsufficientTokens = errors.New("store: insufficient tokens")
)

// User is a canonical platform user. ID is always source-prefixed
// (e.g. "telegram:12345").
type User struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName,omitempty"`
	Source      string    `json:"source"`
	Tokens      int64     `json:"tokens"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Session is one conversation thread owned by a user.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Channel   string    `json:"channel,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// MessageEntry is one persisted conversation message.
type MessageEntry struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	MessageID string    `json:"messageId,omitempty"` // platform message id
	IsReply   bool      `json:"isReply,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store is the persistence contract shared by all backends.
//
// GetOrCreate* calls are idempotent: repeated calls with the same id return
// the existing record without mutating it.
type Store interface {
	GetOrCreateUser(ctx context.Context, id, displayName, source string) (*User, error)
	GetUser(ctx context.Context, id string) (*User, error)

	GetOrCreateSession(ctx context.Context, id, userID, channel string) (*Session, error)
	GetSession(ctx context.Context, id string) (*Session, error)

	AppendMessages(ctx context.Context, entries []MessageEntry) error
	GetMessages(ctx context.Context, sessionID string, limit int) ([]MessageEntry, error)

	TokenBalance(ctx context.Context, userID string) (int64, error)
	ConsumeTokens(ctx context.Context, userID string, amount int64) error

	Close() error
}
