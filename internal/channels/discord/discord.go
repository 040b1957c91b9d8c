// Package discord connects the pipeline to Discord via gateway events.
package discord

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/openmentor/mentorgate/internal/bus"
	"github.com/openmentor/mentorgate/internal/channels"
	"github.com/openmentor/mentorgate/internal/config"
)

// Channel connects to Discord via the Bot API using gateway events.
type Channel struct {
	*channels.BaseChannel
	session   *discordgo.Session
	config    config.DiscordConfig
	botUserID string // populated on start
}

// New creates a new Discord channel from config.
func New(cfg config.DiscordConfig, msgBus *bus.MessageBus) (*Channel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}

	// Request necessary intents
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	return &Channel{
		BaseChannel: channels.NewBaseChannel("discord", msgBus, nil),
		session:     session,
		config:      cfg,
	}, nil
}

// Start opens the Discord gateway connection and begins receiving events.
func (c *Channel) Start(_ context.Context) error {
	slog.Info("starting discord bot")

	c.session.AddHandler(c.handleMessage)
	c.session.AddHandler(c.handleInteraction)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	// Fetch bot identity
	user, err := c.session.User("@me")
	if err != nil {
		c.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	c.botUserID = user.ID

	c.SetRunning(true)
	slog.Info("discord bot connected", "username", user.Username, "id", user.ID)

	return nil
}

// Stop closes the Discord gateway connection.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping discord bot")
	c.SetRunning(false)
	return c.session.Close()
}

// Send delivers an outbound message to a Discord channel. Used by the bus
// dispatcher for plain notifications; turn responses go through the
// composer adapter methods instead.
func (c *Channel) Send(_ context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("discord bot not running")
	}
	if msg.ChatID == "" {
		return fmt.Errorf("empty chat ID for discord send")
	}
	if msg.Content == "" {
		return nil
	}
	return c.sendChunked(msg.ChatID, msg.Content)
}

// sendChunked sends a message, splitting into multiple messages if over
// Discord's 2000 character limit.
func (c *Channel) sendChunked(channelID, content string) error {
	for len(content) > 0 {
		chunk := content
		if len(chunk) > discordMessageLimit {
			// Try to break at a newline
			cutAt := discordMessageLimit
			if idx := lastIndexByte(content[:discordMessageLimit], '\n'); idx > discordMessageLimit/2 {
				cutAt = idx + 1
			}
			chunk = content[:cutAt]
			content = content[cutAt:]
		} else {
			content = ""
		}

		if _, err := c.session.ChannelMessageSend(channelID, chunk); err != nil {
			return fmt.Errorf("send discord message: %w", err)
		}
	}

	return nil
}

// handleMessage processes incoming Discord messages.
func (c *Channel) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	// Ignore bot's own messages and other bots
	if m.Author == nil || m.Author.ID == c.botUserID || m.Author.Bot {
		return
	}

	senderID := m.Author.ID
	channelID := m.ChannelID

	// Build content
	content := m.Content

	var media []string
	for _, att := range m.Attachments {
		media = append(media, att.URL)
	}

	if content == "" && len(media) == 0 {
		return
	}

	slog.Debug("discord message received",
		"sender_id", senderID,
		"channel_id", channelID,
		"is_dm", m.GuildID == "",
		"preview", channels.Truncate(content, 50),
	)

	// Typing indicator while the turn is being processed.
	_ = c.session.ChannelTyping(channelID)

	isReply := m.MessageReference != nil
	replyToID := ""
	if isReply {
		replyToID = m.MessageReference.MessageID
	}

	c.HandleMessage(bus.InboundMessage{
		SenderID:  senderID,
		ChatID:    channelID,
		MessageID: m.ID,
		Content:   content,
		Media:     media,
		IsReply:   isReply,
		ReplyToID: replyToID,
		UserID:    senderID,
		Metadata: map[string]string{
			"username":     m.Author.Username,
			"display_name": resolveDisplayName(m),
			"guild_id":     m.GuildID,
		},
	})
}

// handleInteraction publishes component button presses to the bus.
// The interaction is acked immediately with a deferred update so Discord
// does not show an "interaction failed" error while the turn is processed.
func (c *Channel) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent {
		return
	}

	user := i.User
	if user == nil && i.Member != nil {
		user = i.Member.User
	}
	if user == nil || user.Bot {
		return
	}

	data := i.MessageComponentData()

	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	}); err != nil {
		slog.Debug("discord interaction ack failed", "error", err)
	}

	messageID := ""
	if i.Message != nil {
		messageID = i.Message.ID
	}

	slog.Debug("discord component pressed",
		"sender_id", user.ID,
		"channel_id", i.ChannelID,
		"data", data.CustomID,
	)

	c.HandleMessage(bus.InboundMessage{
		SenderID:     user.ID,
		ChatID:       i.ChannelID,
		MessageID:    messageID,
		CallbackData: data.CustomID,
		UserID:       user.ID,
		Metadata: map[string]string{
			"username": user.Username,
		},
	})
}

// resolveDisplayName returns the best available display name for a Discord
// message author. Priority: server nickname > global display name > username.
func resolveDisplayName(m *discordgo.MessageCreate) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}

// lastIndexByte returns the last index of byte c in s, or -1.
func lastIndexByte(s string, c byte) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == c {
			return i
		}
	}
	return -1
}
