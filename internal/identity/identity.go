// Package identity normalizes platform-specific sender and chat identifiers
// into canonical (userID, sessionID) pairs and guarantees the backing user
// and session records exist before a turn is processed.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openmentor/mentorgate/internal/bus"
	"github.com/openmentor/mentorgate/internal/store"
)

var (
	// ErrAuthRequired is returned when a delegated channel supplies no usable
	// user identity. Turns are never processed anonymously.
	ErrAuthRequired = errors.New("identity: authentication required")

	// ErrMalformedChannelID is returned when a composite channel id does not
	// parse into its expected fields.
	ErrMalformedChannelID = errors.New("identity: malformed channel id")
)

// Identity is the canonical identity attached to every processed turn.
// UserID and SessionID are always source-prefixed.
type Identity struct {
	UserID      string
	SessionID   string
	DisplayName string
	Source      string
}

// maxTrackedUsers caps the in-memory idle-tracking map. Past it the entry
// with the oldest activity is evicted.
const maxTrackedUsers = 8192

// Normalizer resolves inbound events to canonical identities and ensures
// their store records exist.
type Normalizer struct {
	store        store.Store
	deploymentID string
	idle         time.Duration

	mu       sync.Mutex
	sessions map[string]*sessionActivity
}

// sessionActivity tracks one user's current session against the idle window.
// base is the platform-derived id; active differs from it once a roll has
// happened.
type sessionActivity struct {
	base     string
	active   string
	lastSeen time.Time
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithIdleTimeout expires a user's session when more than d elapses between
// their messages: the next inbound message silently starts a fresh session
// id. d <= 0 disables idle expiry.
func WithIdleTimeout(d time.Duration) Option {
	return func(n *Normalizer) { n.idle = d }
}

func NewNormalizer(st store.Store, deploymentID string, opts ...Option) *Normalizer {
	n := &Normalizer{
		store:        st,
		deploymentID: deploymentID,
		sessions:     make(map[string]*sessionActivity),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize maps an inbound message to a canonical Identity and ensures the
// user and session records exist. Idempotent: an already-canonical id passes
// through unchanged.
func (n *Normalizer) Normalize(ctx context.Context, msg bus.InboundMessage) (Identity, error) {
	var ident Identity
	var err error

	switch msg.Channel {
	case bus.SourceTelegram, bus.SourceDiscord:
		ident = n.platformIdentity(msg)
	case bus.SourceWebApp:
		ident, err = n.webappIdentity(msg)
	case bus.SourceAPI:
		ident = n.apiIdentity(msg)
	default:
		return Identity{}, fmt.Errorf("identity: unknown source %q", msg.Channel)
	}
	if err != nil {
		return Identity{}, err
	}

	ident.SessionID = n.activeSession(ident)

	if err := n.ensure(ctx, ident); err != nil {
		return Identity{}, err
	}
	return ident, nil
}

// platformIdentity handles sources whose sender ids are trusted platform ids
// (telegram, discord). userID = <source>:<senderID>, session keyed by chat so
// group members share a thread per chat but not an identity.
func (n *Normalizer) platformIdentity(msg bus.InboundMessage) Identity {
	return Identity{
		UserID:    Canonical(msg.Channel, msg.SenderID),
		SessionID: Canonical(msg.Channel, msg.ChatID),
		Source:    msg.Channel,
	}
}

// webappIdentity parses the delegated composite channel id
// "webapp|<rawUserId>|<displayName>|<sessionId>".
func (n *Normalizer) webappIdentity(msg bus.InboundMessage) (Identity, error) {
	parts := strings.Split(msg.ChatID, "|")
	if len(parts) != 4 || parts[0] != bus.SourceWebApp {
		return Identity{}, fmt.Errorf("%w: %q", ErrMalformedChannelID, msg.ChatID)
	}
	rawUser, displayName, rawSession := parts[1], parts[2], parts[3]
	if rawUser == "" {
		return Identity{}, ErrAuthRequired
	}
	if rawSession == "" {
		return Identity{}, fmt.Errorf("%w: empty session in %q", ErrMalformedChannelID, msg.ChatID)
	}
	return Identity{
		UserID:      Canonical(bus.SourceWebApp, rawUser),
		SessionID:   Canonical(bus.SourceWebApp, rawSession),
		DisplayName: displayName,
		Source:      bus.SourceWebApp,
	}, nil
}

// apiIdentity uses the caller-supplied user id when present, otherwise a
// synthetic per-deployment identity so programmatic calls share one thread.
func (n *Normalizer) apiIdentity(msg bus.InboundMessage) Identity {
	if msg.UserID != "" {
		return Identity{
			UserID:    Canonical(bus.SourceAPI, msg.UserID),
			SessionID: Canonical(bus.SourceAPI, msg.ChatID),
			Source:    bus.SourceAPI,
		}
	}
	return Identity{
		UserID:    fmt.Sprintf("%s:%s-user", bus.SourceAPI, n.deploymentID),
		SessionID: fmt.Sprintf("%s:%s-session", bus.SourceAPI, n.deploymentID),
		Source:    bus.SourceAPI,
	}
}

// ensure creates the user and session records if absent, then verifies by
// reading them back. Stores can lose records between deploys; a missing
// record on verification is recreated rather than failed.
func (n *Normalizer) ensure(ctx context.Context, ident Identity) error {
	if _, err := n.store.GetOrCreateUser(ctx, ident.UserID, ident.DisplayName, ident.Source); err != nil {
		return fmt.Errorf("ensure user %s: %w", ident.UserID, err)
	}
	if _, err := n.store.GetUser(ctx, ident.UserID); errors.Is(err, store.ErrNotFound) {
		slog.Warn("user record missing after create, recreating", "user_id", ident.UserID)
		if _, err := n.store.GetOrCreateUser(ctx, ident.UserID, ident.DisplayName, ident.Source); err != nil {
			return fmt.Errorf("recreate user %s: %w", ident.UserID, err)
		}
	} else if err != nil {
		return fmt.Errorf("verify user %s: %w", ident.UserID, err)
	}

	if _, err := n.store.GetOrCreateSession(ctx, ident.SessionID, ident.UserID, ident.Source); err != nil {
		return fmt.Errorf("ensure session %s: %w", ident.SessionID, err)
	}
	if _, err := n.store.GetSession(ctx, ident.SessionID); errors.Is(err, store.ErrNotFound) {
		slog.Warn("session record missing after create, recreating", "session_id", ident.SessionID)
		if _, err := n.store.GetOrCreateSession(ctx, ident.SessionID, ident.UserID, ident.Source); err != nil {
			return fmt.Errorf("recreate session %s: %w", ident.SessionID, err)
		}
	} else if err != nil {
		return fmt.Errorf("verify session %s: %w", ident.SessionID, err)
	}
	return nil
}

// activeSession applies the idle window. A user returning after more than
// the idle timeout gets a rolled session id; within the window the current
// (possibly already rolled) id is reused. A changed platform session id
// (webapp starting a new thread) resets tracking for the user.
func (n *Normalizer) activeSession(ident Identity) string {
	if n.idle <= 0 {
		return ident.SessionID
	}
	now := time.Now()

	n.mu.Lock()
	defer n.mu.Unlock()

	st, ok := n.sessions[ident.UserID]
	if !ok || st.base != ident.SessionID {
		n.evictOldestLocked()
		n.sessions[ident.UserID] = &sessionActivity{
			base:     ident.SessionID,
			active:   ident.SessionID,
			lastSeen: now,
		}
		return ident.SessionID
	}

	if now.Sub(st.lastSeen) > n.idle {
		st.active = rolledSessionID(ident.SessionID)
		slog.Info("session expired after idle window",
			"user_id", ident.UserID, "session_id", st.active)
	}
	st.lastSeen = now
	return st.active
}

// evictOldestLocked drops the least recently seen entry once the map is at
// capacity. Caller holds n.mu.
func (n *Normalizer) evictOldestLocked() {
	if len(n.sessions) < maxTrackedUsers {
		return
	}
	var oldestKey string
	var oldest time.Time
	for key, st := range n.sessions {
		if oldestKey == "" || st.lastSeen.Before(oldest) {
			oldestKey, oldest = key, st.lastSeen
		}
	}
	delete(n.sessions, oldestKey)
}

func rolledSessionID(base string) string {
	return fmt.Sprintf("%s#%s", base, uuid.NewString()[:8])
}

// Canonical prefixes a raw platform id with its source. Already-prefixed ids
// pass through unchanged, so normalization is idempotent.
func Canonical(source, raw string) string {
	if strings.HasPrefix(raw, source+":") {
		return raw
	}
	return source + ":" + raw
}
