package webapp

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openmentor/mentorgate/internal/agent"
	"github.com/openmentor/mentorgate/internal/bus"
	"github.com/openmentor/mentorgate/internal/config"
)

func dialTestClient(t *testing.T, ch *Channel, query string) (*websocket.Conn, func()) {
	t.Helper()

	srv := httptest.NewServer(ch)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?" + query

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}

	// Consume the connected frame.
	var hello outboundFrame
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("read connected frame: %v", err)
	}
	if hello.Type != "connected" || hello.SessionID == "" {
		t.Fatalf("connected frame = %+v", hello)
	}

	return conn, func() {
		conn.Close()
		srv.Close()
	}
}

func TestWebSocketMessagePublishesComposite(t *testing.T) {
	msgBus := bus.New()
	ch := New(config.WebAppConfig{Enabled: true}, msgBus)
	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ch.Stop(context.Background())

	conn, cleanup := dialTestClient(t, ch, "user_id=u1&display_name=Ada&session_id=s9")
	defer cleanup()

	if err := conn.WriteJSON(inboundFrame{Type: "message", Text: "hello"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, ok := msgBus.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("no inbound message published")
	}
	if msg.Channel != "webapp" {
		t.Errorf("channel = %q", msg.Channel)
	}
	if msg.ChatID != "webapp|u1|Ada|s9" {
		t.Errorf("chat id = %q, want composite", msg.ChatID)
	}
	if msg.Content != "hello" || msg.SenderID != "u1" {
		t.Errorf("content/sender = %q/%q", msg.Content, msg.SenderID)
	}
}

func TestWebSocketCallbackFrame(t *testing.T) {
	msgBus := bus.New()
	ch := New(config.WebAppConfig{Enabled: true}, msgBus)
	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ch.Stop(context.Background())

	conn, cleanup := dialTestClient(t, ch, "user_id=u1&session_id=s1")
	defer cleanup()

	if err := conn.WriteJSON(inboundFrame{Type: "callback", Callback: "quick:yes"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, ok := msgBus.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("no inbound message published")
	}
	if msg.CallbackData != "quick:yes" {
		t.Errorf("callback data = %q", msg.CallbackData)
	}
}

func TestAdapterRoundTrip(t *testing.T) {
	msgBus := bus.New()
	ch := New(config.WebAppConfig{Enabled: true}, msgBus)
	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ch.Stop(context.Background())

	conn, cleanup := dialTestClient(t, ch, "user_id=u1&display_name=Ada&session_id=s9")
	defer cleanup()

	chatID := CompositeID("u1", "Ada", "s9")

	id, err := ch.SendKeyboard(context.Background(), chatID, "pick one", [][]agent.Button{
		{{Text: "Yes", Data: "quick:yes"}, {Text: "No", Data: "quick:no"}},
	})
	if err != nil {
		t.Fatalf("SendKeyboard: %v", err)
	}
	if id == "" {
		t.Fatal("empty message id")
	}

	var frame outboundFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if frame.Type != "message" || frame.ID != id || frame.Text != "pick one" {
		t.Errorf("frame = %+v", frame)
	}
	if len(frame.Buttons) != 1 || len(frame.Buttons[0]) != 2 {
		t.Fatalf("buttons = %+v", frame.Buttons)
	}
	if frame.Buttons[0][1].Data != "quick:no" {
		t.Errorf("button data = %q", frame.Buttons[0][1].Data)
	}

	if err := ch.EditMessage(context.Background(), chatID, id, "updated", nil); err != nil {
		t.Fatalf("EditMessage: %v", err)
	}
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read edit frame: %v", err)
	}
	if frame.Type != "edit" || frame.ID != id || frame.Text != "updated" {
		t.Errorf("edit frame = %+v", frame)
	}

	if err := ch.Notify(context.Background(), chatID, "heads up"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read notice frame: %v", err)
	}
	if frame.Type != "notice" || frame.Text != "heads up" {
		t.Errorf("notice frame = %+v", frame)
	}
}

func TestAdapterUnknownClient(t *testing.T) {
	ch := New(config.WebAppConfig{Enabled: true}, bus.New())
	if _, err := ch.SendText(context.Background(), "webapp|ghost||s1", "hi"); err == nil {
		t.Fatal("expected error for disconnected client")
	}
}

func TestRejectsMissingUserID(t *testing.T) {
	ch := New(config.WebAppConfig{Enabled: true}, bus.New())
	srv := httptest.NewServer(ch)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected dial to fail without user_id")
	}
	if resp == nil || resp.StatusCode != 401 {
		t.Fatalf("status = %v", resp)
	}
}
