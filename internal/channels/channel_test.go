package channels

import (
	"context"
	"testing"
	"time"

	"github.com/openmentor/mentorgate/internal/bus"
)

func TestIsAllowed(t *testing.T) {
	tests := []struct {
		name      string
		allowList []string
		senderID  string
		want      bool
	}{
		{"empty list allows all", nil, "12345", true},
		{"exact id match", []string{"12345"}, "12345", true},
		{"id part of compound sender", []string{"12345"}, "12345|alice", true},
		{"username part of compound sender", []string{"alice"}, "12345|alice", true},
		{"at-prefixed username", []string{"@alice"}, "12345|alice", true},
		{"compound allowlist entry", []string{"12345|alice"}, "12345|alice", true},
		{"not in list", []string{"99999"}, "12345", false},
		{"wrong username", []string{"@bob"}, "12345|alice", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewBaseChannel("test", bus.New(), tt.allowList)
			if got := c.IsAllowed(tt.senderID); got != tt.want {
				t.Errorf("IsAllowed(%q) = %v, want %v", tt.senderID, got, tt.want)
			}
		})
	}
}

func TestHandleMessagePublishes(t *testing.T) {
	msgBus := bus.New()
	c := NewBaseChannel("telegram", msgBus, nil)

	c.HandleMessage(bus.InboundMessage{
		SenderID: "100|alice",
		ChatID:   "200",
		Content:  "hello",
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := msgBus.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("expected a published inbound message")
	}
	if msg.Channel != "telegram" {
		t.Errorf("channel = %q, want telegram", msg.Channel)
	}
	if msg.UserID != "100" {
		t.Errorf("userID = %q, want 100 (compound suffix stripped)", msg.UserID)
	}
}

func TestHandleMessageDropsDisallowed(t *testing.T) {
	msgBus := bus.New()
	c := NewBaseChannel("telegram", msgBus, []string{"555"})

	c.HandleMessage(bus.InboundMessage{SenderID: "100", ChatID: "200", Content: "hi"})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, ok := msgBus.ConsumeInbound(ctx); ok {
		t.Fatal("disallowed sender should not be published")
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("hello world", 5); got != "hello..." {
		t.Errorf("Truncate = %q", got)
	}
	if got := Truncate("hi", 5); got != "hi" {
		t.Errorf("Truncate short = %q", got)
	}
}
