package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/openmentor/mentorgate/internal/agent"
)

// discordMessageLimit is Discord's hard per-message character limit.
const discordMessageLimit = 2000

// The channel doubles as the composer send surface (compose.Adapter).

// SendText sends plain text and returns the platform message ID.
func (c *Channel) SendText(_ context.Context, chatID, text string) (string, error) {
	sent, err := c.session.ChannelMessageSend(chatID, text)
	if err != nil {
		return "", fmt.Errorf("send discord message: %w", err)
	}
	return sent.ID, nil
}

// SendKeyboard sends text with button components attached.
func (c *Channel) SendKeyboard(_ context.Context, chatID, text string, keyboard [][]agent.Button) (string, error) {
	sent, err := c.session.ChannelMessageSendComplex(chatID, &discordgo.MessageSend{
		Content:    text,
		Components: renderComponents(keyboard),
	})
	if err != nil {
		return "", fmt.Errorf("send discord keyboard message: %w", err)
	}
	return sent.ID, nil
}

// EditMessage replaces a message's text and components.
func (c *Channel) EditMessage(_ context.Context, chatID, messageID, text string, keyboard [][]agent.Button) error {
	components := renderComponents(keyboard)
	_, err := c.session.ChannelMessageEditComplex(&discordgo.MessageEdit{
		Channel:    chatID,
		ID:         messageID,
		Content:    &text,
		Components: &components,
	})
	if err != nil {
		return fmt.Errorf("edit discord message: %w", err)
	}
	return nil
}

// DeleteMessage removes a message. Callers treat failures as best-effort.
func (c *Channel) DeleteMessage(_ context.Context, chatID, messageID string) error {
	if err := c.session.ChannelMessageDelete(chatID, messageID); err != nil {
		return fmt.Errorf("delete discord message: %w", err)
	}
	return nil
}

// Notify shows a transient notice. Discord has no toast outside an
// interaction response lifecycle, so this is a plain send.
func (c *Channel) Notify(ctx context.Context, chatID, text string) error {
	_, err := c.SendText(ctx, chatID, text)
	return err
}

// renderComponents converts pipeline button rows into Discord action rows.
// Discord caps rows at 5 buttons; longer rows are truncated.
func renderComponents(rows [][]agent.Button) []discordgo.MessageComponent {
	components := make([]discordgo.MessageComponent, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		if len(row) > 5 {
			row = row[:5]
		}
		buttons := make([]discordgo.MessageComponent, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, discordgo.Button{
				Label:    b.Text,
				Style:    discordgo.SecondaryButton,
				CustomID: b.Data,
			})
		}
		components = append(components, discordgo.ActionsRow{Components: buttons})
	}
	return components
}
