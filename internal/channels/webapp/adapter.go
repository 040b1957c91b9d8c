package webapp

import (
	"context"
	"fmt"

	"github.com/openmentor/mentorgate/internal/agent"
)

// The channel doubles as the composer send surface (compose.Adapter).
// Message IDs are synthetic ("w1", "w2", ...) since the web client renders
// whatever the server assigns.

// SendText sends plain text and returns the assigned message ID.
func (c *Channel) SendText(_ context.Context, chatID, text string) (string, error) {
	cl, err := c.lookup(chatID)
	if err != nil {
		return "", err
	}

	id := fmt.Sprintf("w%d", c.msgSeq.Add(1))
	if err := cl.writeJSON(outboundFrame{Type: "message", ID: id, Text: text}); err != nil {
		return "", fmt.Errorf("write webapp message: %w", err)
	}
	return id, nil
}

// SendKeyboard sends text with attached buttons.
func (c *Channel) SendKeyboard(_ context.Context, chatID, text string, keyboard [][]agent.Button) (string, error) {
	cl, err := c.lookup(chatID)
	if err != nil {
		return "", err
	}

	id := fmt.Sprintf("w%d", c.msgSeq.Add(1))
	if err := cl.writeJSON(outboundFrame{
		Type:    "message",
		ID:      id,
		Text:    text,
		Buttons: renderButtons(keyboard),
	}); err != nil {
		return "", fmt.Errorf("write webapp keyboard message: %w", err)
	}
	return id, nil
}

// EditMessage replaces a previously sent message's text and buttons.
func (c *Channel) EditMessage(_ context.Context, chatID, messageID, text string, keyboard [][]agent.Button) error {
	cl, err := c.lookup(chatID)
	if err != nil {
		return err
	}

	if err := cl.writeJSON(outboundFrame{
		Type:    "edit",
		ID:      messageID,
		Text:    text,
		Buttons: renderButtons(keyboard),
	}); err != nil {
		return fmt.Errorf("write webapp edit: %w", err)
	}
	return nil
}

// DeleteMessage removes a previously sent message.
func (c *Channel) DeleteMessage(_ context.Context, chatID, messageID string) error {
	cl, err := c.lookup(chatID)
	if err != nil {
		return err
	}

	if err := cl.writeJSON(outboundFrame{Type: "delete", ID: messageID}); err != nil {
		return fmt.Errorf("write webapp delete: %w", err)
	}
	return nil
}

// Notify shows a transient notice; the web client renders it as a toast.
func (c *Channel) Notify(_ context.Context, chatID, text string) error {
	cl, err := c.lookup(chatID)
	if err != nil {
		return err
	}

	if err := cl.writeJSON(outboundFrame{Type: "notice", Text: text}); err != nil {
		return fmt.Errorf("write webapp notice: %w", err)
	}
	return nil
}

func renderButtons(rows [][]agent.Button) [][]buttonFrame {
	if len(rows) == 0 {
		return nil
	}
	out := make([][]buttonFrame, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		frameRow := make([]buttonFrame, 0, len(row))
		for _, b := range row {
			frameRow = append(frameRow, buttonFrame{Text: b.Text, Data: b.Data})
		}
		out = append(out, frameRow)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
