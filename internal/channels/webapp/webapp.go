// Package webapp serves the delegated web application channel over
// WebSocket. The web front-end authenticates users itself and hands their
// identity over as a composite channel id
// "webapp|<rawUserId>|<displayName>|<sessionId>"; the pipeline trusts those
// fields and normalizes them downstream.
package webapp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/openmentor/mentorgate/internal/bus"
	"github.com/openmentor/mentorgate/internal/channels"
	"github.com/openmentor/mentorgate/internal/config"
)

// inboundFrame is one JSON frame read from a web client.
type inboundFrame struct {
	Type     string `json:"type"` // "message" or "callback"
	Text     string `json:"text,omitempty"`
	Callback string `json:"callback,omitempty"`
	ReplyTo  string `json:"reply_to,omitempty"`
}

// outboundFrame is one JSON frame written to a web client.
type outboundFrame struct {
	Type      string          `json:"type"` // connected, message, edit, delete, notice, error
	ID        string          `json:"id,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Text      string          `json:"text,omitempty"`
	Buttons   [][]buttonFrame `json:"buttons,omitempty"`
}

type buttonFrame struct {
	Text string `json:"text"`
	Data string `json:"data"`
}

// client is one connected WebSocket session. Writes are serialized: gorilla
// allows at most one concurrent writer per connection.
type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *client) writeJSON(frame outboundFrame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(frame)
}

// Channel serves web application clients over WebSocket. The HTTP handler is
// mounted on the gateway mux; Start/Stop only manage connection lifecycle.
type Channel struct {
	*channels.BaseChannel
	config   config.WebAppConfig
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client // composite chat id → connection

	msgSeq  atomic.Int64 // outbound message id sequence
	inSeq   atomic.Int64 // inbound message id sequence
	stopped atomic.Bool
}

// New creates the webapp channel.
func New(cfg config.WebAppConfig, msgBus *bus.MessageBus) *Channel {
	c := &Channel{
		BaseChannel: channels.NewBaseChannel("webapp", msgBus, nil),
		config:      cfg,
		clients:     make(map[string]*client),
	}
	c.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// Non-browser clients send no Origin header; browser origins are
		// expected to be enforced by the fronting proxy.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	return c
}

// Start marks the channel running. Connections arrive through ServeHTTP,
// which the gateway mounts on its mux.
func (c *Channel) Start(_ context.Context) error {
	slog.Info("webapp channel ready")
	c.SetRunning(true)
	return nil
}

// Stop closes all live client connections.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping webapp channel")
	c.SetRunning(false)
	c.stopped.Store(true)

	c.mu.Lock()
	defer c.mu.Unlock()
	for key, cl := range c.clients {
		cl.conn.Close()
		delete(c.clients, key)
	}
	return nil
}

// ServeHTTP upgrades the request to a WebSocket session and pumps frames
// until the client disconnects.
func (c *Channel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if c.stopped.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusUnauthorized)
		return
	}
	displayName := r.URL.Query().Get("display_name")
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("webapp websocket upgrade failed", "error", err)
		return
	}

	composite := CompositeID(userID, displayName, sessionID)
	cl := &client{conn: conn}
	c.register(composite, cl)
	defer c.unregister(composite, cl)

	if err := cl.writeJSON(outboundFrame{Type: "connected", SessionID: sessionID}); err != nil {
		slog.Debug("webapp connected frame failed", "error", err)
		return
	}

	slog.Info("webapp client connected", "user_id", userID, "session_id", sessionID)

	for {
		var frame inboundFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("webapp websocket closed unexpectedly", "error", err)
			}
			return
		}
		c.handleFrame(userID, composite, frame, cl)
	}
}

// handleFrame maps one client frame to a bus message.
func (c *Channel) handleFrame(userID, composite string, frame inboundFrame, cl *client) {
	switch frame.Type {
	case "message":
		if frame.Text == "" {
			return
		}
		c.HandleMessage(bus.InboundMessage{
			SenderID:  userID,
			ChatID:    composite,
			MessageID: fmt.Sprintf("c%d", c.inSeq.Add(1)),
			Content:   frame.Text,
			IsReply:   frame.ReplyTo != "",
			ReplyToID: frame.ReplyTo,
			UserID:    userID,
		})

	case "callback":
		if frame.Callback == "" {
			return
		}
		c.HandleMessage(bus.InboundMessage{
			SenderID:     userID,
			ChatID:       composite,
			CallbackData: frame.Callback,
			UserID:       userID,
		})

	default:
		_ = cl.writeJSON(outboundFrame{
			Type: "error",
			Text: "Invalid frame. Send JSON with type \"message\" or \"callback\".",
		})
	}
}

// Send delivers an outbound message to a web client.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if msg.Content == "" {
		return nil
	}
	_, err := c.SendText(ctx, msg.ChatID, msg.Content)
	return err
}

func (c *Channel) register(composite string, cl *client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.clients[composite]; ok {
		old.conn.Close()
	}
	c.clients[composite] = cl
}

func (c *Channel) unregister(composite string, cl *client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.clients[composite] == cl {
		delete(c.clients, composite)
	}
	cl.conn.Close()
}

func (c *Channel) lookup(composite string) (*client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cl, ok := c.clients[composite]
	if !ok {
		return nil, fmt.Errorf("webapp client %q not connected", composite)
	}
	return cl, nil
}

// CompositeID builds the delegated channel id the identity layer parses.
func CompositeID(userID, displayName, sessionID string) string {
	return strings.Join([]string{"webapp", userID, displayName, sessionID}, "|")
}
