package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/openmentor/mentorgate/internal/bus"
	"github.com/openmentor/mentorgate/internal/channels"
)

// handleMessage processes an incoming Telegram message update.
func (c *Channel) handleMessage(ctx context.Context, message *telego.Message) {
	// Skip service messages (member added/removed, title changed, etc.).
	// These have no text/caption and no meaningful media.
	if isServiceMessage(message) {
		slog.Debug("telegram service message skipped", "chat_id", message.Chat.ID)
		return
	}

	user := message.From
	if user == nil {
		return
	}

	userID := fmt.Sprintf("%d", user.ID)
	senderID := userID
	if user.Username != "" {
		senderID = fmt.Sprintf("%s|%s", userID, user.Username)
	}

	chatIDStr := fmt.Sprintf("%d", message.Chat.ID)

	// Extract text content
	content := message.Text
	if message.Caption != "" {
		if content != "" {
			content += "\n"
		}
		content += message.Caption
	}

	// Media is referenced by file ID; the pipeline does not download files.
	var media []string
	switch {
	case len(message.Photo) > 0:
		media = append(media, message.Photo[len(message.Photo)-1].FileID)
	case message.Document != nil:
		media = append(media, message.Document.FileID)
	case message.Voice != nil:
		media = append(media, message.Voice.FileID)
	case message.Audio != nil:
		media = append(media, message.Audio.FileID)
	}

	slog.Debug("telegram message received",
		"sender_id", senderID,
		"chat_id", chatIDStr,
		"preview", channels.Truncate(content, 50),
	)

	// Handle commands answered locally (/help). Everything else, including
	// /start, /game, /rag and /reset, flows through to the consumer.
	if c.handleLocalCommand(ctx, message, content) {
		return
	}

	// Typing indicator while the turn is being processed. The consumer sends
	// the "Thinking..." placeholder once a buffered burst actually flushes.
	_ = c.bot.SendChatAction(ctx, tu.ChatAction(tu.ID(message.Chat.ID), telego.ChatActionTyping))

	isReply := message.ReplyToMessage != nil
	replyToID := ""
	if isReply {
		replyToID = fmt.Sprintf("%d", message.ReplyToMessage.MessageID)
	}

	c.HandleMessage(bus.InboundMessage{
		SenderID:  senderID,
		ChatID:    chatIDStr,
		MessageID: fmt.Sprintf("%d", message.MessageID),
		Content:   content,
		Media:     media,
		IsReply:   isReply,
		ReplyToID: replyToID,
		UserID:    userID,
		Metadata: map[string]string{
			"username":   user.Username,
			"first_name": user.FirstName,
			"chat_type":  message.Chat.Type,
		},
	})
}

// handleCallbackQuery publishes an inline button press to the bus.
// The query ID is parked so the adapter can answer it with a toast or an
// empty ack once the press has been handled.
func (c *Channel) handleCallbackQuery(_ context.Context, query *telego.CallbackQuery) {
	message := query.Message
	if message == nil {
		return
	}

	chatIDStr := fmt.Sprintf("%d", message.GetChat().ID)
	userID := fmt.Sprintf("%d", query.From.ID)
	senderID := userID
	if query.From.Username != "" {
		senderID = fmt.Sprintf("%s|%s", userID, query.From.Username)
	}

	slog.Debug("telegram callback query",
		"sender_id", senderID,
		"chat_id", chatIDStr,
		"data", query.Data,
	)

	c.pendingCallbacks.Store(chatIDStr, query.ID)

	c.HandleMessage(bus.InboundMessage{
		SenderID:     senderID,
		ChatID:       chatIDStr,
		MessageID:    fmt.Sprintf("%d", message.GetMessageID()),
		CallbackData: query.Data,
		UserID:       userID,
		Metadata: map[string]string{
			"username":          query.From.Username,
			"callback_query_id": query.ID,
		},
	})
}

// handleLocalCommand answers commands that need no pipeline round-trip.
// Returns true if the message was fully handled here.
func (c *Channel) handleLocalCommand(ctx context.Context, message *telego.Message, content string) bool {
	if len(content) == 0 || content[0] != '/' {
		return false
	}

	// Extract command (strip @botname suffix if present)
	cmd := strings.SplitN(content, " ", 2)[0]
	cmd = strings.SplitN(cmd, "@", 2)[0]
	cmd = strings.ToLower(cmd)

	if cmd != "/help" {
		return false
	}

	helpText := "Available commands:\n" +
		"/start — Start chatting with the mentor\n" +
		"/help — Show this help message\n" +
		"/game — Start a quiz game\n" +
		"/rag — Toggle knowledge retrieval mode\n" +
		"/reset — Reset conversation history\n" +
		"\nJust send a message to chat."
	if _, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(message.Chat.ID), helpText)); err != nil {
		slog.Warn("failed to send help message", "chat_id", message.Chat.ID, "error", err)
	}
	return true
}

// isServiceMessage returns true if the Telegram message is a service/system
// message (member added/removed, title changed, pinned, etc.) rather than a
// user-sent message. Service messages have no text, caption, or media content.
func isServiceMessage(msg *telego.Message) bool {
	if msg.Text != "" || msg.Caption != "" {
		return false
	}

	if msg.Photo != nil || msg.Audio != nil || msg.Video != nil ||
		msg.Document != nil || msg.Voice != nil || msg.VideoNote != nil ||
		msg.Sticker != nil || msg.Animation != nil || msg.Contact != nil ||
		msg.Location != nil || msg.Venue != nil || msg.Poll != nil {
		return false
	}

	// No user content — likely new_chat_members, left_chat_member,
	// new_chat_title, pinned_message, etc.
	return true
}
