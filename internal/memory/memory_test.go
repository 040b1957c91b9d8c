package memory

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/openmentor/mentorgate/internal/agent"
	"github.com/openmentor/mentorgate/internal/bus"
	"github.com/openmentor/mentorgate/internal/identity"
	"github.com/openmentor/mentorgate/internal/store"
)

var testIdent = identity.Identity{
	UserID:    "telegram:1",
	SessionID: "telegram:2",
	Source:    bus.SourceTelegram,
}

func setup(t *testing.T, gameActive bool, opts ...WriterOption) (*Writer, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	ctx := context.Background()
	if _, err := st.GetOrCreateUser(ctx, testIdent.UserID, "", testIdent.Source); err != nil {
		t.Fatal(err)
	}
	if _, err := st.GetOrCreateSession(ctx, testIdent.SessionID, testIdent.UserID, testIdent.Source); err != nil {
		t.Fatal(err)
	}
	w := NewWriter(st, func(string) bool { return gameActive }, opts...)
	return w, st
}

func TestCommitWritesHumanThenAI(t *testing.T) {
	w, st := setup(t, false)
	ctx := context.Background()

	input := bus.InboundMessage{Content: "what is recall?", MessageID: "in-1", IsReply: true}
	resp := agent.TextResponse("Active recall is retrieving from memory.")

	w.Commit(ctx, testIdent, input, resp, "out-1")

	got, err := st.GetMessages(ctx, testIdent.SessionID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("entries = %d, want 2", len(got))
	}
	if got[0].Role != store.RoleHuman || got[1].Role != store.RoleAI {
		t.Errorf("order = %s,%s; want human,ai", got[0].Role, got[1].Role)
	}
	if got[0].MessageID != "in-1" || !got[0].IsReply {
		t.Errorf("human provenance = %+v", got[0])
	}
	if got[1].MessageID != "out-1" || !got[1].IsReply {
		t.Errorf("ai provenance = %+v", got[1])
	}
}

func TestCommitSkipsDuringActiveGame(t *testing.T) {
	w, st := setup(t, true)
	ctx := context.Background()

	w.Commit(ctx, testIdent, bus.InboundMessage{Content: "answer"}, agent.TextResponse("Correct!"), "")

	got, _ := st.GetMessages(ctx, testIdent.SessionID, 0)
	if len(got) != 0 {
		t.Errorf("game turn wrote %d entries", len(got))
	}
}

func TestCommitSkipsGameResponses(t *testing.T) {
	// The final game turn deactivates the game before commit runs; the game
	// metadata on the response still suppresses the write.
	w, st := setup(t, false)
	ctx := context.Background()

	resp := &agent.EnhancedResponse{
		Segments: []string{"Game over!"},
		Game:     &agent.GameMeta{Phase: agent.PhaseFinished},
	}
	w.Commit(ctx, testIdent, bus.InboundMessage{Content: "final answer"}, resp, "m1")

	got, _ := st.GetMessages(ctx, testIdent.SessionID, 0)
	if len(got) != 0 {
		t.Errorf("final game turn wrote %d entries", len(got))
	}
}

func TestCommitChunksLongText(t *testing.T) {
	w, st := setup(t, false, WithChunkSize(5))
	ctx := context.Background()

	w.Commit(ctx, testIdent, bus.InboundMessage{Content: "abcdefghij"}, agent.TextResponse("xy"), "")

	got, _ := st.GetMessages(ctx, testIdent.SessionID, 0)
	if len(got) != 3 {
		t.Fatalf("entries = %d, want 3 (2 human chunks + 1 ai)", len(got))
	}
	if got[0].Content != "abcde" || got[1].Content != "fghij" {
		t.Errorf("chunks = %q, %q", got[0].Content, got[1].Content)
	}
	for _, e := range got {
		if len([]rune(e.Content)) > 5 {
			t.Errorf("chunk %q exceeds size", e.Content)
		}
	}
}

// failStore wraps MemoryStore and fails AppendMessages.
type failStore struct {
	*store.MemoryStore
}

func (f *failStore) AppendMessages(context.Context, []store.MessageEntry) error {
	return errors.New("disk on fire")
}

func TestCommitSwallowsStorageFailure(t *testing.T) {
	st := &failStore{MemoryStore: store.NewMemoryStore()}
	w := NewWriter(st, func(string) bool { return false })

	// Must not panic and must not propagate the error.
	w.Commit(context.Background(), testIdent, bus.InboundMessage{Content: "hi"}, agent.TextResponse("yo"), "")
}

func TestSplitChunksBoundaries(t *testing.T) {
	if got := splitChunks("", 5); got != nil {
		t.Errorf("empty input produced %v", got)
	}
	got := splitChunks(strings.Repeat("é", 7), 3)
	if len(got) != 3 {
		t.Fatalf("chunks = %d, want 3", len(got))
	}
	if got[2] != "é" {
		t.Errorf("tail chunk = %q", got[2])
	}
}
