// Package memory persists each turn's input/output pair as provenance-tagged
// history entries. Game turns are never written; the game owns its own state.
package memory

import (
	"context"
	"log/slog"
	"time"

	"github.com/openmentor/mentorgate/internal/agent"
	"github.com/openmentor/mentorgate/internal/bus"
	"github.com/openmentor/mentorgate/internal/identity"
	"github.com/openmentor/mentorgate/internal/store"
)

// DefaultChunkSize is the largest entry text handed to storage in one piece.
const DefaultChunkSize = 4000

// Writer commits turn history to the store.
type Writer struct {
	store      store.Store
	gameActive func(userID string) bool
	chunkSize  int
}

type WriterOption func(*Writer)

func WithChunkSize(n int) WriterOption {
	return func(w *Writer) {
		if n > 0 {
			w.chunkSize = n
		}
	}
}

// NewWriter creates a Writer. gameActive is read at commit time so a game
// started mid-turn still suppresses the write.
func NewWriter(st store.Store, gameActive func(userID string) bool, opts ...WriterOption) *Writer {
	w := &Writer{
		store:      st,
		gameActive: gameActive,
		chunkSize:  DefaultChunkSize,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Commit writes the human entry then the AI entry for one turn, splitting
// overlong text into bounded chunks. Turns resolved inside a game write
// nothing. Storage failures are logged and swallowed: the response has
// already been delivered, so the turn must not fail retroactively.
func (w *Writer) Commit(ctx context.Context, ident identity.Identity, input bus.InboundMessage, resp *agent.EnhancedResponse, deliveredID string) {
	if resp != nil && resp.Game != nil {
		return
	}
	if w.gameActive != nil && w.gameActive(ident.UserID) {
		return
	}

	now := time.Now()
	var entries []store.MessageEntry

	for _, chunk := range splitChunks(input.Content, w.chunkSize) {
		entries = append(entries, store.MessageEntry{
			SessionID: ident.SessionID,
			UserID:    ident.UserID,
			Role:      store.RoleHuman,
			Content:   chunk,
			MessageID: input.MessageID,
			IsReply:   input.IsReply,
			CreatedAt: now,
		})
	}

	var output string
	if resp != nil {
		output = resp.PrimaryText()
	}
	for _, chunk := range splitChunks(output, w.chunkSize) {
		entries = append(entries, store.MessageEntry{
			SessionID: ident.SessionID,
			UserID:    ident.UserID,
			Role:      store.RoleAI,
			Content:   chunk,
			MessageID: deliveredID,
			IsReply:   input.MessageID != "",
			CreatedAt: now,
		})
	}

	if len(entries) == 0 {
		return
	}
	if err := w.store.AppendMessages(ctx, entries); err != nil {
		slog.Error("memory commit failed",
			"user_id", ident.UserID, "session_id", ident.SessionID,
			"entries", len(entries), "error", err)
	}
}

// splitChunks cuts text at rune boundaries into pieces of at most size runes.
func splitChunks(text string, size int) []string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}
	var out []string
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}
