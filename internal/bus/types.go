package bus

import "context"

// Source identifiers for inbound events. Telegram and Discord are
// platform-native sources; "api" is the programmatic HTTP channel and
// "webapp" is the delegated web application channel.
const (
	SourceTelegram = "telegram"
	SourceDiscord  = "discord"
	SourceAPI      = "api"
	SourceWebApp   = "webapp"
)

// InboundMessage represents one event received from a channel.
// It is the wire form of a MessageContext: downstream stages derive new
// values from it but never mutate it — with one exception, the inbound
// debouncer, which rewrites Content on the base fragment of a merged burst
// before the message is forwarded.
type InboundMessage struct {
	Channel      string            `json:"channel"` // source tag (telegram, discord, api, webapp)
	SenderID     string            `json:"sender_id"`
	ChatID       string            `json:"chat_id"`
	MessageID    string            `json:"message_id,omitempty"`
	Content      string            `json:"content"`
	Media        []string          `json:"media,omitempty"`
	CallbackData string            `json:"callback_data,omitempty"` // interaction payload (inline button press)
	IsReply      bool              `json:"is_reply,omitempty"`
	ReplyToID    string            `json:"reply_to_id,omitempty"`
	UserID       string            `json:"user_id,omitempty"` // external user ID before normalization
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// IsCommand reports whether the message is a slash command.
// Commands bypass fragment buffering and are forwarded immediately.
func (m InboundMessage) IsCommand() bool {
	return len(m.Content) > 0 && m.Content[0] == '/'
}

// IsText reports whether the message carries plain text to buffer.
// Callback interactions and media-only events are not buffered.
func (m InboundMessage) IsText() bool {
	return m.CallbackData == "" && len(m.Media) == 0 && m.Content != ""
}

// OutboundMessage represents a message to be sent to a channel.
type OutboundMessage struct {
	Channel  string            `json:"channel"`
	ChatID   string            `json:"chat_id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"` // channel-specific metadata
}

// Event represents a server-side event to broadcast to WebSocket clients.
type Event struct {
	Name    string      `json:"name"`
	Payload interface{} `json:"payload,omitempty"`
}

// EventHandler handles a broadcast event.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast + subscription.
// Used by the gateway server and webapp channel to decouple from the
// concrete MessageBus.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}

// MessageRouter abstracts inbound/outbound message routing between channels
// and the orchestrator runtime.
type MessageRouter interface {
	PublishInbound(msg InboundMessage)
	ConsumeInbound(ctx context.Context) (InboundMessage, bool)
	PublishOutbound(msg OutboundMessage)
	SubscribeOutbound(ctx context.Context) (OutboundMessage, bool)
}
