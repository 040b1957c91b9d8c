package telegram

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/openmentor/mentorgate/internal/agent"
)

// The channel doubles as the composer send surface (compose.Adapter).
// Message IDs cross the boundary as decimal strings.

// SendText sends plain text and returns the platform message ID.
func (c *Channel) SendText(ctx context.Context, chatID, text string) (string, error) {
	id, err := parseChatID(chatID)
	if err != nil {
		return "", fmt.Errorf("invalid chat ID %q: %w", chatID, err)
	}

	sent, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(id), text))
	if err != nil {
		return "", fmt.Errorf("send telegram message: %w", err)
	}
	return fmt.Sprintf("%d", sent.MessageID), nil
}

// SendKeyboard sends text with an attached inline keyboard.
func (c *Channel) SendKeyboard(ctx context.Context, chatID, text string, keyboard [][]agent.Button) (string, error) {
	id, err := parseChatID(chatID)
	if err != nil {
		return "", fmt.Errorf("invalid chat ID %q: %w", chatID, err)
	}

	msg := tu.Message(tu.ID(id), text)
	if markup := renderKeyboard(keyboard); markup != nil {
		msg = msg.WithReplyMarkup(markup)
	}

	sent, err := c.bot.SendMessage(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("send telegram keyboard message: %w", err)
	}
	return fmt.Sprintf("%d", sent.MessageID), nil
}

// EditMessage replaces a message's text and keyboard. An edit is the normal
// outcome of a page flip, so any parked callback query is acked silently here
// to clear the client-side spinner.
func (c *Channel) EditMessage(ctx context.Context, chatID, messageID, text string, keyboard [][]agent.Button) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return fmt.Errorf("invalid chat ID %q: %w", chatID, err)
	}
	msgID, err := parseMessageID(messageID)
	if err != nil {
		return fmt.Errorf("invalid message ID %q: %w", messageID, err)
	}

	_, err = c.bot.EditMessageText(ctx, &telego.EditMessageTextParams{
		ChatID:      tu.ID(id),
		MessageID:   msgID,
		Text:        text,
		ReplyMarkup: renderKeyboard(keyboard),
	})
	if err != nil {
		return fmt.Errorf("edit telegram message: %w", err)
	}

	c.AckCallback(ctx, chatID, "")
	return nil
}

// DeleteMessage removes a message. Callers treat failures as best-effort.
func (c *Channel) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return fmt.Errorf("invalid chat ID %q: %w", chatID, err)
	}
	msgID, err := parseMessageID(messageID)
	if err != nil {
		return fmt.Errorf("invalid message ID %q: %w", messageID, err)
	}

	if err := c.bot.DeleteMessage(ctx, &telego.DeleteMessageParams{
		ChatID:    tu.ID(id),
		MessageID: msgID,
	}); err != nil {
		return fmt.Errorf("delete telegram message: %w", err)
	}
	return nil
}

// Notify shows a transient notice. When a callback query is parked for the
// chat it becomes a toast via answerCallbackQuery; otherwise it falls back
// to a plain send.
func (c *Channel) Notify(ctx context.Context, chatID, text string) error {
	if c.AckCallback(ctx, chatID, text) {
		return nil
	}
	_, err := c.SendText(ctx, chatID, text)
	return err
}

// AckCallback answers the parked callback query for a chat, if any.
// Telegram shows a spinner on the pressed button until the query is answered.
func (c *Channel) AckCallback(ctx context.Context, chatID, text string) bool {
	val, ok := c.pendingCallbacks.LoadAndDelete(chatID)
	if !ok {
		return false
	}

	err := c.bot.AnswerCallbackQuery(ctx, &telego.AnswerCallbackQueryParams{
		CallbackQueryID: val.(string),
		Text:            text,
	})
	if err != nil {
		slog.Debug("answer callback query failed", "chat_id", chatID, "error", err)
	}
	return true
}

// renderKeyboard converts pipeline button rows into Telegram inline keyboard
// markup. Returns nil for an empty keyboard so edits can strip the markup.
func renderKeyboard(rows [][]agent.Button) *telego.InlineKeyboardMarkup {
	if len(rows) == 0 {
		return nil
	}

	keyboard := make([][]telego.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		buttons := make([]telego.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tu.InlineKeyboardButton(b.Text).WithCallbackData(b.Data))
		}
		keyboard = append(keyboard, buttons)
	}
	if len(keyboard) == 0 {
		return nil
	}
	return &telego.InlineKeyboardMarkup{InlineKeyboard: keyboard}
}

// parseMessageID converts a string message ID to int.
func parseMessageID(messageIDStr string) (int, error) {
	var id int
	_, err := fmt.Sscanf(messageIDStr, "%d", &id)
	return id, err
}
