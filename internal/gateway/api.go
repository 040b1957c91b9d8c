package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/openmentor/mentorgate/internal/agent"
	"github.com/openmentor/mentorgate/internal/bus"
	"github.com/openmentor/mentorgate/internal/config"
	"github.com/openmentor/mentorgate/internal/identity"
)

// messageRequest is the POST /v1/messages body.
type messageRequest struct {
	Input     string `json:"input"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
}

// messageResponse is the synchronous reply envelope.
type messageResponse struct {
	Reply     string           `json:"reply"`
	Citations []agent.Citation `json:"citations,omitempty"`
	FollowUps []agent.FollowUp `json:"follow_ups,omitempty"`
	SessionID string           `json:"session_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// MessagesHandler serves the programmatic turn endpoint. Auth is a static
// bearer token; rate limiting is per caller identity.
type MessagesHandler struct {
	cfg      *config.Config
	consumer *Consumer
	limiter  *RateLimiter
}

func NewMessagesHandler(cfg *config.Config, consumer *Consumer) *MessagesHandler {
	snap := cfg.Snapshot()
	return &MessagesHandler{
		cfg:      cfg,
		consumer: consumer,
		limiter:  NewRateLimiter(snap.Gateway.RateLimitRPM, 5),
	}
}

func (h *MessagesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}
	if !h.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		return
	}

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	if strings.TrimSpace(req.Input) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "input is required"})
		return
	}
	if req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "user_id is required"})
		return
	}

	if h.limiter.Enabled() && !h.limiter.Allow(h.limitKey(r, req.UserID)) {
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	msg := bus.InboundMessage{
		Channel:  bus.SourceAPI,
		SenderID: req.UserID,
		UserID:   req.UserID,
		ChatID:   sessionID,
		Content:  req.Input,
	}

	resp, ident, err := h.consumer.RunAPITurn(r.Context(), msg)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrAuthRequired):
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "authentication required"})
		case errors.Is(err, identity.ErrMalformedChannelID):
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed identity"})
		default:
			slog.Error("api turn failed", "user_id", req.UserID, "error", err)
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "turn failed"})
		}
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{
		Reply:     resp.PrimaryText(),
		Citations: resp.Citations,
		FollowUps: resp.FollowUps,
		SessionID: ident.SessionID,
	})
}

func (h *MessagesHandler) authorized(r *http.Request) bool {
	token := h.cfg.Snapshot().Gateway.Token
	if token == "" {
		return true
	}
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return false
	}
	return auth[len(prefix):] == token
}

// limitKey buckets authenticated callers by user, anonymous ones by host.
func (h *MessagesHandler) limitKey(r *http.Request, userID string) string {
	if userID != "" {
		return "u:" + userID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "h:" + host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("api: response encode failed", "error", err)
	}
}
