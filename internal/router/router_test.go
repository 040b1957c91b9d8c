package router

import (
	"context"
	"strings"
	"testing"

	"github.com/openmentor/mentorgate/internal/agent"
)

// fakeManager counts which path each turn took.
type fakeManager struct {
	ragEnabled map[string]bool
	ragPending map[string]bool
	gameActive map[string]bool

	chatCalls, ragCalls, gameCalls int
}

func newFakeManager() *fakeManager {
	return &fakeManager{
		ragEnabled: make(map[string]bool),
		ragPending: make(map[string]bool),
		gameActive: make(map[string]bool),
	}
}

func (f *fakeManager) Chat(context.Context, agent.TurnRequest) (*agent.EnhancedResponse, error) {
	f.chatCalls++
	return agent.TextResponse("plain"), nil
}

func (f *fakeManager) ChatRAG(context.Context, agent.TurnRequest) (*agent.EnhancedResponse, error) {
	f.ragCalls++
	return agent.TextResponse("rag"), nil
}

func (f *fakeManager) GameTurn(context.Context, agent.TurnRequest) (*agent.EnhancedResponse, error) {
	f.gameCalls++
	return agent.TextResponse("game"), nil
}

func (f *fakeManager) InitGame(context.Context, agent.TurnRequest) (*agent.EnhancedResponse, error) {
	return agent.TextResponse("init"), nil
}

func (f *fakeManager) IsRAGEnabled(u string) bool  { return f.ragEnabled[u] }
func (f *fakeManager) SetRAG(u string, on bool)    { f.ragEnabled[u] = on }
func (f *fakeManager) IsRAGPending(u string) bool  { return f.ragPending[u] }
func (f *fakeManager) ClearRAGPending(u string)    { f.ragPending[u] = false }
func (f *fakeManager) EndGame(u string)            { f.gameActive[u] = false }
func (f *fakeManager) RecordGameMessage(_, _ string) {}

func (f *fakeManager) GameState(u string) (bool, string) {
	if f.gameActive[u] {
		return true, "question"
	}
	return false, ""
}

func TestRoutePrecedence(t *testing.T) {
	tests := []struct {
		name       string
		rag, game  bool
		wantText   string
	}{
		{"plain", false, false, "plain"},
		{"rag beats plain", true, false, "rag"},
		{"game beats rag", true, true, "game"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFakeManager()
			f.ragEnabled["u1"] = tc.rag
			f.gameActive["u1"] = tc.game
			r := New(f)

			resp, err := r.Route(context.Background(), agent.TurnRequest{UserID: "u1", Input: "hello"})
			if err != nil {
				t.Fatal(err)
			}
			if resp.PrimaryText() != tc.wantText {
				t.Errorf("routed to %q, want %q", resp.PrimaryText(), tc.wantText)
			}
		})
	}
}

func TestRouteRAGConfirmation(t *testing.T) {
	tests := []struct {
		input       string
		wantEnabled bool
		intercepted bool
	}{
		{"yes", false, true},
		{"YES", false, true},
		{" y ", false, true},
		{"no", true, true},
		{"N", true, true},
		{"maybe", true, false},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			f := newFakeManager()
			f.ragEnabled["u1"] = true
			f.ragPending["u1"] = true
			r := New(f)

			resp, err := r.Route(context.Background(), agent.TurnRequest{UserID: "u1", Input: tc.input})
			if err != nil {
				t.Fatal(err)
			}

			if tc.intercepted {
				if f.chatCalls+f.ragCalls+f.gameCalls != 0 {
					t.Error("confirmation reached the agent")
				}
				if resp.PrimaryText() == "" {
					t.Error("no confirmation text")
				}
			} else if f.ragCalls != 1 {
				t.Errorf("non-yes/no input should route normally, ragCalls=%d", f.ragCalls)
			}

			if f.ragEnabled["u1"] != tc.wantEnabled {
				t.Errorf("rag enabled = %v, want %v", f.ragEnabled["u1"], tc.wantEnabled)
			}
			if f.ragPending["u1"] {
				t.Error("pending flag not cleared")
			}
		})
	}
}

func TestRouteGameShortCircuitsPending(t *testing.T) {
	// An active game wins even while a continuation is pending, except for
	// the yes/no interception which happens first by contract.
	f := newFakeManager()
	f.gameActive["u1"] = true
	r := New(f)

	resp, err := r.Route(context.Background(), agent.TurnRequest{UserID: "u1", Input: "game:answer:0:1"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(resp.PrimaryText(), "game") {
		t.Errorf("expected game path, got %q", resp.PrimaryText())
	}
	if f.gameCalls != 1 {
		t.Errorf("gameCalls = %d", f.gameCalls)
	}
}
