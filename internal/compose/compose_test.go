package compose

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/openmentor/mentorgate/internal/agent"
)

// fakeAdapter records every send for assertions.
type fakeAdapter struct {
	mu       sync.Mutex
	nextID   int
	sends    []sentMessage
	edits    []sentMessage
	deleted  []string
	notices  []string
	sendErr  error
}

type sentMessage struct {
	chatID   string
	text     string
	keyboard [][]agent.Button
	id       string
}

func (f *fakeAdapter) SendText(_ context.Context, chatID, text string) (string, error) {
	return f.record(chatID, text, nil)
}

func (f *fakeAdapter) SendKeyboard(_ context.Context, chatID, text string, kb [][]agent.Button) (string, error) {
	return f.record(chatID, text, kb)
}

func (f *fakeAdapter) record(chatID, text string, kb [][]agent.Button) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.nextID++
	id := fmt.Sprintf("m%d", f.nextID)
	f.sends = append(f.sends, sentMessage{chatID: chatID, text: text, keyboard: kb, id: id})
	return id, nil
}

func (f *fakeAdapter) EditMessage(_ context.Context, chatID, messageID, text string, kb [][]agent.Button) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, sentMessage{chatID: chatID, id: messageID, text: text, keyboard: kb})
	return nil
}

func (f *fakeAdapter) DeleteMessage(_ context.Context, _, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeAdapter) Notify(_ context.Context, _, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, text)
	return nil
}

func newComposer(opts ...ComposerOption) *Composer {
	return New(NewPagerRegistry(), opts...)
}

func TestDeliverPlainText(t *testing.T) {
	c := newComposer()
	a := &fakeAdapter{}

	id, err := c.Deliver(context.Background(), a, "c1", agent.TextResponse("hello"), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(a.sends) != 1 || a.sends[0].text != "hello" {
		t.Fatalf("sends = %+v", a.sends)
	}
	if id != a.sends[0].id {
		t.Errorf("returned id %q, want %q", id, a.sends[0].id)
	}
}

func TestDeliverChunksLongText(t *testing.T) {
	c := newComposer(WithChunkLimit(10))
	a := &fakeAdapter{}

	resp := agent.TextResponse("aaaa bbbb cccc dddd")
	if _, err := c.Deliver(context.Background(), a, "c1", resp, ""); err != nil {
		t.Fatal(err)
	}
	if len(a.sends) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(a.sends))
	}
	for _, s := range a.sends {
		if len([]rune(s.text)) > 10 {
			t.Errorf("chunk %q exceeds limit", s.text)
		}
	}
}

func TestDeliverGameAlreadyDelivered(t *testing.T) {
	c := newComposer()
	a := &fakeAdapter{}

	resp := &agent.EnhancedResponse{
		Game: &agent.GameMeta{AlreadyDelivered: true, MessageID: "m99"},
	}
	id, err := c.Deliver(context.Background(), a, "c1", resp, "")
	if err != nil {
		t.Fatal(err)
	}
	if id != "m99" {
		t.Errorf("id = %q, want m99", id)
	}
	if len(a.sends) != 0 {
		t.Errorf("already-delivered response caused %d sends", len(a.sends))
	}
}

func TestDeliverGameBeatsPatternKeyboard(t *testing.T) {
	c := newComposer()
	a := &fakeAdapter{}
	gameKB := [][]agent.Button{{{Text: "A", Data: "game:answer:0:0"}}}
	patternKB := [][]agent.Button{{{Text: "Yes", Data: "quick:yes"}}}

	resp := &agent.EnhancedResponse{
		Segments: []string{"Question"},
		Game:     &agent.GameMeta{Phase: agent.PhaseQuestion, Keyboard: gameKB},
		Pattern:  &agent.PatternMeta{Name: "p", Keyboard: patternKB},
	}
	if _, err := c.Deliver(context.Background(), a, "c1", resp, ""); err != nil {
		t.Fatal(err)
	}
	if len(a.sends) != 1 || a.sends[0].keyboard[0][0].Data != "game:answer:0:0" {
		t.Fatalf("game keyboard not delivered: %+v", a.sends)
	}

	// The pattern keyboard stays cached for the next non-game turn.
	if _, err := c.Deliver(context.Background(), a, "c1", agent.TextResponse("next"), ""); err != nil {
		t.Fatal(err)
	}
	last := a.sends[len(a.sends)-1]
	if last.keyboard == nil || last.keyboard[0][0].Data != "quick:yes" {
		t.Errorf("cached pattern keyboard not attached on next turn: %+v", last)
	}
}

func TestPatternCacheDeleteOnRead(t *testing.T) {
	cache := NewPatternCache(0)
	kb := [][]agent.Button{{{Text: "Yes", Data: "quick:yes"}}}
	cache.Put("c1", kb)

	if got := cache.Consume("c1"); got == nil {
		t.Fatal("first consume returned nil")
	}
	if got := cache.Consume("c1"); got != nil {
		t.Error("second consume should return nil")
	}
}

func TestDeliverOpensPagers(t *testing.T) {
	c := newComposer()
	a := &fakeAdapter{}

	resp := &agent.EnhancedResponse{
		Segments:  []string{"answer"},
		Citations: []agent.Citation{{Title: "Doc A"}, {Title: "Doc B"}},
		FollowUps: []agent.FollowUp{{ID: "f1", Text: "More about A?"}},
	}
	if _, err := c.Deliver(context.Background(), a, "c1", resp, ""); err != nil {
		t.Fatal(err)
	}

	// 1 text + 1 citation pager + 1 question pager.
	if len(a.sends) != 3 {
		t.Fatalf("sends = %d, want 3", len(a.sends))
	}
	if c.Pagers().Len() != 2 {
		t.Errorf("live pager sessions = %d, want 2", c.Pagers().Len())
	}
	if !strings.Contains(a.sends[1].text, "1/2") {
		t.Errorf("citation pager missing counter: %q", a.sends[1].text)
	}
}

func TestDeliverDeletesPlaceholder(t *testing.T) {
	c := newComposer()
	a := &fakeAdapter{}

	if _, err := c.Deliver(context.Background(), a, "c1", agent.TextResponse("hi"), "ph1"); err != nil {
		t.Fatal(err)
	}
	if len(a.deleted) != 1 || a.deleted[0] != "ph1" {
		t.Errorf("placeholder not deleted: %v", a.deleted)
	}
}
