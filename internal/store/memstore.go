package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultInitialTokens is the balance granted to a newly created user.
const DefaultInitialTokens int64 = 100000

// MemoryStore is the in-process Store used in standalone mode and in tests.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]*User
	sessions map[string]*Session
	messages map[string][]MessageEntry // keyed by session id

	initialTokens int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]*User),
		sessions:      make(map[string]*Session),
		messages:      make(map[string][]MessageEntry),
		initialTokens: DefaultInitialTokens,
	}
}

func (m *MemoryStore) GetOrCreateUser(_ context.Context, id, displayName, source string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if u, ok := m.users[id]; ok {
		return cloneUser(u), nil
	}
	u := &User{
		ID:          id,
		DisplayName: displayName,
		Source:      source,
		Tokens:      m.initialTokens,
		CreatedAt:   time.Now(),
	}
	m.users[id] = u
	return cloneUser(u), nil
}

func (m *MemoryStore) GetUser(_ context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

func (m *MemoryStore) GetOrCreateSession(_ context.Context, id, userID, channel string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok {
		return cloneSession(s), nil
	}
	now := time.Now()
	s := &Session{
		ID:        id,
		UserID:    userID,
		Channel:   channel,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.sessions[id] = s
	return cloneSession(s), nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(s), nil
}

func (m *MemoryStore) AppendMessages(_ context.Context, entries []MessageEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		m.messages[e.SessionID] = append(m.messages[e.SessionID], e)
		if s, ok := m.sessions[e.SessionID]; ok {
			s.UpdatedAt = now
		}
	}
	return nil
}

func (m *MemoryStore) GetMessages(_ context.Context, sessionID string, limit int) ([]MessageEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.messages[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]MessageEntry, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (m *MemoryStore) TokenBalance(_ context.Context, userID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userID]
	if !ok {
		return 0, ErrNotFound
	}
	return u.Tokens, nil
}

func (m *MemoryStore) ConsumeTokens(_ context.Context, userID string, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	if u.Tokens < amount {
		return ErrInsufficientTokens
	}
	u.Tokens -= amount
	return nil
}

func (m *MemoryStore) Close() error { return nil }

// DeleteUser removes a user record. Used in tests to simulate stores losing
// records between deploys.
func (m *MemoryStore) DeleteUser(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, id)
}

// DeleteSession removes a session record. Test helper, see DeleteUser.
func (m *MemoryStore) DeleteSession(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

func cloneUser(u *User) *User {
	c := *u
	return &c
}

func cloneSession(s *Session) *Session {
	c := *s
	return &c
}
