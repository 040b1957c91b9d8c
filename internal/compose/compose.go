package compose

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openmentor/mentorgate/internal/agent"
)

// DefaultPlaceholderLifetime bounds how long a transient "please wait"
// message may live before it is deleted regardless of turn outcome.
const DefaultPlaceholderLifetime = 2 * time.Minute

// DefaultPatternTTL bounds how long a cached pattern keyboard waits for the
// next send before it is dropped.
const DefaultPatternTTL = 5 * time.Minute

// PatternCache holds at most one pending pattern keyboard per chat, consumed
// on read.
type PatternCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]patternEntry
}

type patternEntry struct {
	keyboard [][]agent.Button
	stored   time.Time
}

func NewPatternCache(ttl time.Duration) *PatternCache {
	if ttl <= 0 {
		ttl = DefaultPatternTTL
	}
	return &PatternCache{ttl: ttl, entries: make(map[string]patternEntry)}
}

func (c *PatternCache) Put(chatKey string, keyboard [][]agent.Button) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[chatKey] = patternEntry{keyboard: keyboard, stored: time.Now()}
}

// Consume returns and removes the pending keyboard for chatKey, or nil.
func (c *PatternCache) Consume(chatKey string) [][]agent.Button {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[chatKey]
	if !ok {
		return nil
	}
	delete(c.entries, chatKey)
	if time.Since(e.stored) > c.ttl {
		return nil
	}
	return e.keyboard
}

// Composer delivers response envelopes through channel adapters.
type Composer struct {
	pagers              *PagerRegistry
	patterns            *PatternCache
	chunkLimit          int
	placeholderLifetime time.Duration
}

type ComposerOption func(*Composer)

func WithChunkLimit(n int) ComposerOption {
	return func(c *Composer) {
		if n > 0 {
			c.chunkLimit = n
		}
	}
}

func WithPlaceholderLifetime(d time.Duration) ComposerOption {
	return func(c *Composer) {
		if d > 0 {
			c.placeholderLifetime = d
		}
	}
}

func New(pagers *PagerRegistry, opts ...ComposerOption) *Composer {
	c := &Composer{
		pagers:              pagers,
		patterns:            NewPatternCache(DefaultPatternTTL),
		chunkLimit:          PlatformMessageLimit,
		placeholderLifetime: DefaultPlaceholderLifetime,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Pagers exposes the registry so channels can dispatch pager callbacks.
func (c *Composer) Pagers() *PagerRegistry { return c.pagers }

// Patterns exposes the pattern cache (primarily for tests).
func (c *Composer) Patterns() *PatternCache { return c.patterns }

// Deliver sends one response envelope and returns the id of the delivered
// message. progressID, when set, is a placeholder message deleted before
// delivery. Precedence: already-delivered game responses send nothing; game
// keyboards win over cached pattern keyboards (which stay cached for the
// next non-game turn); otherwise the text goes out in platform-sized chunks
// followed by citation and follow-up pagers.
func (c *Composer) Deliver(ctx context.Context, adapter Adapter, chatID string, resp *agent.EnhancedResponse, progressID string) (string, error) {
	if progressID != "" {
		if err := adapter.DeleteMessage(ctx, chatID, progressID); err != nil {
			slog.Debug("placeholder delete failed", "chat_id", chatID, "error", err)
		}
	}

	if resp.Pattern != nil {
		c.patterns.Put(chatID, resp.Pattern.Keyboard)
	}

	if resp.Game != nil {
		return c.deliverGame(ctx, adapter, chatID, resp)
	}

	primary := resp.PrimaryText()
	pending := c.patterns.Consume(chatID)

	var lastID string
	chunks := SplitMessage(primary, c.chunkLimit)
	for i, chunk := range chunks {
		var (
			id  string
			err error
		)
		if i == len(chunks)-1 && pending != nil {
			id, err = adapter.SendKeyboard(ctx, chatID, chunk, pending)
		} else {
			id, err = adapter.SendText(ctx, chatID, chunk)
		}
		if err != nil {
			return lastID, fmt.Errorf("deliver chunk %d/%d: %w", i+1, len(chunks), err)
		}
		lastID = id
	}

	if len(resp.Citations) > 0 {
		items := make([]PagerItem, len(resp.Citations))
		for i, cit := range resp.Citations {
			body := cit.Snippet
			if cit.URL != "" {
				body += "\n" + cit.URL
			}
			items[i] = PagerItem{Title: cit.Title, Body: body}
		}
		id, err := c.pagers.Open(ctx, adapter, chatID, KindCitations, items)
		if err != nil {
			return lastID, err
		}
		if lastID == "" {
			lastID = id
		}
	}

	if len(resp.FollowUps) > 0 {
		items := make([]PagerItem, len(resp.FollowUps))
		for i, fu := range resp.FollowUps {
			items[i] = PagerItem{Title: fu.Text}
		}
		id, err := c.pagers.Open(ctx, adapter, chatID, KindQuestions, items)
		if err != nil {
			return lastID, err
		}
		if lastID == "" {
			lastID = id
		}
	}

	return lastID, nil
}

func (c *Composer) deliverGame(ctx context.Context, adapter Adapter, chatID string, resp *agent.EnhancedResponse) (string, error) {
	if resp.Game.AlreadyDelivered {
		return resp.Game.MessageID, nil
	}

	primary := resp.PrimaryText()
	if len(resp.Game.Keyboard) > 0 {
		id, err := adapter.SendKeyboard(ctx, chatID, primary, resp.Game.Keyboard)
		if err != nil {
			return "", fmt.Errorf("deliver game turn: %w", err)
		}
		return id, nil
	}
	id, err := adapter.SendText(ctx, chatID, primary)
	if err != nil {
		return "", fmt.Errorf("deliver game turn: %w", err)
	}
	return id, nil
}

// TrackPlaceholder schedules deletion of a transient placeholder message
// after the fixed lifetime, independent of how the turn resolves.
func (c *Composer) TrackPlaceholder(adapter Adapter, chatID, messageID string) {
	if messageID == "" {
		return
	}
	time.AfterFunc(c.placeholderLifetime, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := adapter.DeleteMessage(ctx, chatID, messageID); err != nil {
			slog.Debug("placeholder lifetime delete failed", "chat_id", chatID, "error", err)
		}
	})
}
