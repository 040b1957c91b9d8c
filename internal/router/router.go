// Package router decides which interaction mode handles a turn. Precedence:
// an active game beats retrieval mode beats plain chat, with mode flags read
// fresh from the agent manager on every turn.
package router

import (
	"context"
	"log/slog"
	"strings"

	"github.com/openmentor/mentorgate/internal/agent"
)

// Router dispatches normalized turns to the agent manager.
type Router struct {
	mgr agent.Manager
}

func New(mgr agent.Manager) *Router {
	return &Router{mgr: mgr}
}

// Route handles one turn and returns the response envelope. All three paths
// return the same envelope shape so the composer stays state-agnostic.
func (r *Router) Route(ctx context.Context, req agent.TurnRequest) (*agent.EnhancedResponse, error) {
	// A pending retrieval continuation intercepts yes/no before any routing;
	// the confirmation is resolved locally and never reaches the agent.
	if r.mgr.IsRAGPending(req.UserID) {
		if answer, ok := parseYesNo(req.Input); ok {
			return r.confirmRAG(req.UserID, answer), nil
		}
		// Any other input abandons the continuation question.
		r.mgr.ClearRAGPending(req.UserID)
	}

	if active, phase := r.mgr.GameState(req.UserID); active {
		slog.Debug("routing to game turn", "user_id", req.UserID, "phase", phase)
		return r.mgr.GameTurn(ctx, req)
	}
	if r.mgr.IsRAGEnabled(req.UserID) {
		slog.Debug("routing to retrieval turn", "user_id", req.UserID)
		return r.mgr.ChatRAG(ctx, req)
	}
	return r.mgr.Chat(ctx, req)
}

// confirmRAG resolves the continuation answer: yes leaves retrieval mode,
// no stays in it. Both clear the pending flag.
func (r *Router) confirmRAG(userID string, leave bool) *agent.EnhancedResponse {
	r.mgr.ClearRAGPending(userID)
	if leave {
		r.mgr.SetRAG(userID, false)
		return agent.TextResponse("Okay, retrieval mode is off. Back to regular chat.")
	}
	return agent.TextResponse("Staying in retrieval mode.")
}

// parseYesNo interprets trimmed, case-insensitive yes/y/no/n.
func parseYesNo(input string) (yes, ok bool) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "yes", "y":
		return true, true
	case "no", "n":
		return false, true
	}
	return false, false
}
