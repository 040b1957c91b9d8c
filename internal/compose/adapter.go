// Package compose turns agent response envelopes into channel sends and owns
// the ephemeral UI state around them: paginated citation/question sessions,
// short-lived pattern keyboards, and transient placeholders.
package compose

import (
	"context"

	"github.com/openmentor/mentorgate/internal/agent"
)

// Adapter is the thin send surface a channel exposes to the composer.
// Implementations translate keyboards into the platform's native controls.
type Adapter interface {
	// SendText sends plain text and returns the platform message id.
	SendText(ctx context.Context, chatID, text string) (string, error)
	// SendKeyboard sends text with an attached keyboard.
	SendKeyboard(ctx context.Context, chatID, text string, keyboard [][]agent.Button) (string, error)
	// EditMessage replaces an existing message's text and keyboard.
	EditMessage(ctx context.Context, chatID, messageID, text string, keyboard [][]agent.Button) error
	// DeleteMessage removes a message. Best-effort; callers swallow errors.
	DeleteMessage(ctx context.Context, chatID, messageID string) error
	// Notify shows a transient notice tied to an interaction (toast on
	// platforms that have one, otherwise a plain send).
	Notify(ctx context.Context, chatID, text string) error
}
