package agent

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/openmentor/mentorgate/internal/providers"
	"github.com/openmentor/mentorgate/internal/store"
)

const defaultSystemPrompt = "You are a helpful study mentor. Answer concisely and clearly."

// ragContinuationQuestion is appended after every retrieval answer; the
// router intercepts the yes/no reply before it reaches the agent.
const ragContinuationQuestion = "Would you like to leave retrieval mode? (yes/no)"

// ResponsePattern attaches a quick-reply keyboard when generated text matches.
type ResponsePattern struct {
	Name     string
	Match    *regexp.Regexp
	Keyboard [][]Button
}

func defaultPatterns() []ResponsePattern {
	return []ResponsePattern{
		{
			Name:  "yes-no-question",
			Match: regexp.MustCompile(`(?i)\b(yes or no|y/n)\b`),
			Keyboard: [][]Button{
				{{Text: "Yes", Data: "quick:yes"}, {Text: "No", Data: "quick:no"}},
			},
		},
	}
}

// userState is the per-user interaction state owned by the manager.
type userState struct {
	ragEnabled bool
	ragPending bool
	game       *quizGame
}

// LLMManager is the default Manager: provider-backed chat, keyword retrieval
// for RAG turns, and a built-in quiz game.
type LLMManager struct {
	provider     providers.Provider
	retriever    Retriever
	systemPrompt string
	patterns     []ResponsePattern
	questions    []QuizQuestion

	mu     sync.Mutex
	states map[string]*userState
}

type ManagerOption func(*LLMManager)

func WithSystemPrompt(prompt string) ManagerOption {
	return func(m *LLMManager) {
		if prompt != "" {
			m.systemPrompt = prompt
		}
	}
}

func WithRetriever(r Retriever) ManagerOption {
	return func(m *LLMManager) { m.retriever = r }
}

func WithQuestions(qs []QuizQuestion) ManagerOption {
	return func(m *LLMManager) {
		if len(qs) > 0 {
			m.questions = qs
		}
	}
}

func NewLLMManager(p providers.Provider, opts ...ManagerOption) *LLMManager {
	m := &LLMManager{
		provider:     p,
		retriever:    NewKeywordRetriever(nil),
		systemPrompt: defaultSystemPrompt,
		patterns:     defaultPatterns(),
		questions:    defaultQuestions(),
		states:       make(map[string]*userState),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *LLMManager) state(userID string) *userState {
	s, ok := m.states[userID]
	if !ok {
		s = &userState{}
		m.states[userID] = s
	}
	return s
}

func (m *LLMManager) Chat(ctx context.Context, req TurnRequest) (*EnhancedResponse, error) {
	msgs := m.buildMessages(m.systemPrompt, req)
	resp, err := m.provider.Chat(ctx, providers.ChatRequest{Messages: msgs})
	if err != nil {
		return nil, fmt.Errorf("chat turn: %w", err)
	}

	text := SanitizeModelText(resp.Content)
	out := TextResponse(text)
	for _, p := range m.patterns {
		if p.Match.MatchString(text) {
			out.Pattern = &PatternMeta{Name: p.Name, Keyboard: p.Keyboard}
			break
		}
	}
	return out, nil
}

func (m *LLMManager) ChatRAG(ctx context.Context, req TurnRequest) (*EnhancedResponse, error) {
	docs, err := m.retriever.Retrieve(ctx, req.Input, 3)
	if err != nil {
		slog.Warn("retrieval failed, falling back to plain generation", "error", err)
		docs = nil
	}

	prompt := m.systemPrompt
	if len(docs) > 0 {
		var sb strings.Builder
		sb.WriteString(prompt)
		sb.WriteString("\n\nGround your answer in these sources:\n")
		for i, d := range docs {
			fmt.Fprintf(&sb, "[%d] %s: %s\n", i+1, d.Title, d.Body)
		}
		prompt = sb.String()
	}

	resp, err := m.provider.Chat(ctx, providers.ChatRequest{Messages: m.buildMessages(prompt, req)})
	if err != nil {
		return nil, fmt.Errorf("rag turn: %w", err)
	}

	out := &EnhancedResponse{
		Segments: []string{SanitizeModelText(resp.Content), ragContinuationQuestion},
	}
	for i, d := range docs {
		out.Citations = append(out.Citations, Citation{
			Title:   d.Title,
			Snippet: d.Snippet,
			URL:     d.URL,
		})
		out.FollowUps = append(out.FollowUps, FollowUp{
			ID:   fmt.Sprintf("fu-%d", i),
			Text: fmt.Sprintf("Tell me more about %s", d.Title),
		})
	}

	m.mu.Lock()
	m.state(req.UserID).ragPending = true
	m.mu.Unlock()

	return out, nil
}

func (m *LLMManager) buildMessages(systemPrompt string, req TurnRequest) []providers.Message {
	msgs := make([]providers.Message, 0, len(req.History)+2)
	msgs = append(msgs, providers.Message{Role: "system", Content: systemPrompt})
	for _, e := range req.History {
		role := "user"
		if e.Role == store.RoleAI {
			role = "assistant"
		}
		msgs = append(msgs, providers.Message{Role: role, Content: e.Content})
	}
	msgs = append(msgs, providers.Message{Role: "user", Content: req.Input})
	return msgs
}

func (m *LLMManager) InitGame(_ context.Context, req TurnRequest) (*EnhancedResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.state(req.UserID)
	s.game = newQuizGame(m.questions)
	return s.game.currentQuestionResponse(), nil
}

func (m *LLMManager) GameTurn(_ context.Context, req TurnRequest) (*EnhancedResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.state(req.UserID)
	if s.game == nil {
		return TextResponse("No game in progress. Send /game to start one."), nil
	}
	resp := s.game.advance(req.Input)
	if s.game.finished() {
		s.game = nil
	}
	return resp, nil
}

func (m *LLMManager) IsRAGEnabled(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state(userID).ragEnabled
}

func (m *LLMManager) SetRAG(userID string, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state(userID)
	s.ragEnabled = enabled
	if !enabled {
		s.ragPending = false
	}
}

func (m *LLMManager) IsRAGPending(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state(userID).ragPending
}

func (m *LLMManager) ClearRAGPending(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state(userID).ragPending = false
}

func (m *LLMManager) GameState(userID string) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state(userID)
	if s.game == nil {
		return false, ""
	}
	return true, s.game.phase()
}

func (m *LLMManager) EndGame(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state(userID).game = nil
}

// RecordGameMessage stores the delivered message id of the latest game turn
// so stale keyboard presses can be answered without a duplicate send.
func (m *LLMManager) RecordGameMessage(userID, messageID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state(userID)
	if s.game != nil {
		s.game.lastMessageID = messageID
	}
}
