// Package agent defines the upstream agent-manager contract the pipeline
// orchestrates around, and a default provider-backed implementation.
package agent

import (
	"context"
	"strings"

	"github.com/openmentor/mentorgate/internal/store"
)

// Button is one interactive control in a rendered keyboard. Data is the
// callback payload sent back when pressed; channels render it natively
// (inline keyboard, message component, JSON action).
type Button struct {
	Text string `json:"text"`
	Data string `json:"data"`
}

// Citation is one retrieval source attached to a RAG answer.
type Citation struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet,omitempty"`
	URL     string `json:"url,omitempty"`
}

// FollowUp is one suggested follow-up question.
type FollowUp struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// GameMeta carries the interactive surface of a game turn. When
// AlreadyDelivered is set the composer returns MessageID without sending.
type GameMeta struct {
	Phase            string     `json:"phase"`
	Keyboard         [][]Button `json:"keyboard,omitempty"`
	AlreadyDelivered bool       `json:"alreadyDelivered,omitempty"`
	MessageID        string     `json:"messageId,omitempty"`
}

// PatternMeta is a keyboard produced by a matched response pattern, cached
// briefly and attached to the next plain send.
type PatternMeta struct {
	Name     string     `json:"name"`
	Keyboard [][]Button `json:"keyboard"`
}

// EnhancedResponse is the structured result of one agent turn. At most one
// of Game or a cached pattern keyboard drives delivery; game wins.
type EnhancedResponse struct {
	Segments  []string     `json:"segments"`
	Citations []Citation   `json:"citations,omitempty"`
	FollowUps []FollowUp   `json:"followUps,omitempty"`
	Game      *GameMeta    `json:"game,omitempty"`
	Pattern   *PatternMeta `json:"pattern,omitempty"`
}

// PrimaryText joins the response segments into the text actually sent.
func (r *EnhancedResponse) PrimaryText() string {
	return strings.Join(r.Segments, "\n\n")
}

// TextResponse wraps plain text in a response envelope.
func TextResponse(text string) *EnhancedResponse {
	return &EnhancedResponse{Segments: []string{text}}
}

// TurnRequest is the input to one agent call.
type TurnRequest struct {
	UserID    string
	SessionID string
	Input     string
	History   []store.MessageEntry
}

// Manager is the agent collaborator consumed by the router. Mode state is
// owned here; the router reads it fresh every turn and never mutates game
// internals directly.
type Manager interface {
	// Chat handles a plain conversational turn.
	Chat(ctx context.Context, req TurnRequest) (*EnhancedResponse, error)
	// ChatRAG handles a retrieval-augmented turn.
	ChatRAG(ctx context.Context, req TurnRequest) (*EnhancedResponse, error)
	// GameTurn advances the user's active game with their input.
	GameTurn(ctx context.Context, req TurnRequest) (*EnhancedResponse, error)
	// InitGame starts a new game for the user.
	InitGame(ctx context.Context, req TurnRequest) (*EnhancedResponse, error)

	// IsRAGEnabled reports whether retrieval mode is on for the user.
	IsRAGEnabled(userID string) bool
	// SetRAG switches retrieval mode for the user.
	SetRAG(userID string, enabled bool)
	// IsRAGPending reports whether a RAG continuation question awaits a
	// yes/no answer from the user.
	IsRAGPending(userID string) bool
	// ClearRAGPending resets the continuation flag.
	ClearRAGPending(userID string)

	// GameState returns whether a game is active and its phase.
	GameState(userID string) (active bool, phase string)
	// EndGame abandons the user's active game, if any.
	EndGame(userID string)
	// RecordGameMessage stores the delivered message id of the latest game
	// turn for stale-press handling.
	RecordGameMessage(userID, messageID string)
}
