package bus

import (
	"sync"
	"testing"
	"time"
)

// collector is a thread-safe flush sink for debouncer tests.
type collector struct {
	mu   sync.Mutex
	msgs []InboundMessage
}

func (c *collector) flush(msg InboundMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
}

func (c *collector) all() []InboundMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]InboundMessage, len(c.msgs))
	copy(out, c.msgs)
	return out
}

func textMsg(chatID, sender, content string) InboundMessage {
	return InboundMessage{
		Channel:  SourceTelegram,
		ChatID:   chatID,
		SenderID: sender,
		Content:  content,
	}
}

func TestDebouncerJoinsFragments(t *testing.T) {
	c := &collector{}
	d := NewInboundDebouncer(50*time.Millisecond, c.flush)
	defer d.Stop()

	d.Push(textMsg("c1", "u1", "Hello"))
	d.Push(textMsg("c1", "u1", "...continued"))
	d.Push(textMsg("c1", "u1", "...world"))

	time.Sleep(150 * time.Millisecond)

	got := c.all()
	if len(got) != 1 {
		t.Fatalf("expected 1 merged message, got %d", len(got))
	}
	want := "Hello\n\ncontinued\n\nworld"
	if got[0].Content != want {
		t.Errorf("merged content = %q, want %q", got[0].Content, want)
	}
	if got[0].ChatID != "c1" {
		t.Errorf("merged ChatID = %q, want c1", got[0].ChatID)
	}
}

func TestDebouncerTimerResetsOnAppend(t *testing.T) {
	c := &collector{}
	d := NewInboundDebouncer(80*time.Millisecond, c.flush)
	defer d.Stop()

	d.Push(textMsg("c1", "u1", "first"))
	time.Sleep(50 * time.Millisecond)
	d.Push(textMsg("c1", "u1", "second"))
	time.Sleep(50 * time.Millisecond)

	// 100ms elapsed since the first push but only 50ms since the last;
	// the window was reset so nothing should have flushed yet.
	if n := len(c.all()); n != 0 {
		t.Fatalf("flushed %d messages before quiet window elapsed", n)
	}

	time.Sleep(80 * time.Millisecond)
	got := c.all()
	if len(got) != 1 {
		t.Fatalf("expected 1 merged message, got %d", len(got))
	}
	if got[0].Content != "first\n\nsecond" {
		t.Errorf("merged content = %q", got[0].Content)
	}
}

func TestDebouncerExpireReArmsAfterRecentAppend(t *testing.T) {
	c := &collector{}
	d := NewInboundDebouncer(time.Second, c.flush)
	defer d.Stop()

	msg := textMsg("c1", "u1", "fresh fragment")
	d.Push(msg)

	// Simulate a stale timer firing right after the append: the key was
	// updated inside the quiet window, so the burst must stay buffered.
	d.expire(BufferKey(msg))

	if got := c.all(); len(got) != 0 {
		t.Fatalf("expected no flush for freshly appended key, got %d", len(got))
	}
	if d.PendingKeys() != 1 {
		t.Errorf("PendingKeys() = %d, want 1", d.PendingKeys())
	}
}

func TestDebouncerSeparateKeys(t *testing.T) {
	c := &collector{}
	d := NewInboundDebouncer(40*time.Millisecond, c.flush)
	defer d.Stop()

	d.Push(textMsg("c1", "alice", "from alice"))
	d.Push(textMsg("c1", "bob", "from bob"))
	d.Push(textMsg("c2", "alice", "other chat"))

	time.Sleep(120 * time.Millisecond)

	got := c.all()
	if len(got) != 3 {
		t.Fatalf("expected 3 independent messages, got %d", len(got))
	}
	for _, m := range got {
		if m.Content == "" {
			t.Error("empty content in flushed message")
		}
	}
}

func TestDebouncerFragmentCapFlushesImmediately(t *testing.T) {
	c := &collector{}
	d := NewInboundDebouncer(time.Hour, c.flush)
	defer d.Stop()
	d.SetFragmentCap(3)

	d.Push(textMsg("c1", "u1", "a"))
	d.Push(textMsg("c1", "u1", "b"))
	if n := len(c.all()); n != 0 {
		t.Fatalf("flushed early with %d messages", n)
	}
	d.Push(textMsg("c1", "u1", "c"))

	got := c.all()
	if len(got) != 1 {
		t.Fatalf("expected cap flush, got %d messages", len(got))
	}
	if got[0].Content != "a\n\nb\n\nc" {
		t.Errorf("merged content = %q", got[0].Content)
	}
	if d.PendingKeys() != 0 {
		t.Errorf("buffer not cleared after cap flush")
	}
}

func TestDebouncerBypass(t *testing.T) {
	tests := []struct {
		name string
		msg  InboundMessage
	}{
		{"command", textMsg("c1", "u1", "/start")},
		{"callback", InboundMessage{ChatID: "c1", SenderID: "u1", CallbackData: "pager:next"}},
		{"media", InboundMessage{ChatID: "c1", SenderID: "u1", Media: []string{"photo.jpg"}}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := &collector{}
			d := NewInboundDebouncer(time.Hour, c.flush)
			defer d.Stop()

			d.Push(tc.msg)

			if n := len(c.all()); n != 1 {
				t.Fatalf("expected immediate forward, got %d messages", n)
			}
			if d.PendingKeys() != 0 {
				t.Error("bypass message was buffered")
			}
		})
	}
}

func TestDebouncerDisabledWindow(t *testing.T) {
	c := &collector{}
	d := NewInboundDebouncer(0, c.flush)
	defer d.Stop()

	d.Push(textMsg("c1", "u1", "hi"))
	if n := len(c.all()); n != 1 {
		t.Fatalf("window<=0 should forward immediately, got %d", n)
	}
}

func TestDebouncerSurvivesFlushPanic(t *testing.T) {
	calls := 0
	d := NewInboundDebouncer(20*time.Millisecond, func(InboundMessage) {
		calls++
		panic("boom")
	})
	defer d.Stop()

	d.Push(textMsg("c1", "u1", "one"))
	time.Sleep(80 * time.Millisecond)
	d.Push(textMsg("c1", "u1", "two"))
	time.Sleep(80 * time.Millisecond)

	if calls < 2 {
		t.Fatalf("debouncer stopped flushing after panic, calls=%d", calls)
	}
}

func TestJoinFragments(t *testing.T) {
	tests := []struct {
		name  string
		parts []string
		want  string
	}{
		{"plain", []string{"a", "b"}, "a\n\nb"},
		{"trailing ellipsis stripped", []string{"a...", "b"}, "a\n\nb"},
		{"leading ellipsis stripped", []string{"a", "...b"}, "a\n\nb"},
		{"unicode ellipsis", []string{"a…", "…b"}, "a\n\nb"},
		{"final trailing kept", []string{"a", "b..."}, "a\n\nb..."},
		{"empty fragment dropped", []string{"a", "", "b"}, "a\n\nb"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			frags := make([]InboundMessage, len(tc.parts))
			for i, p := range tc.parts {
				frags[i] = textMsg("c", "u", p)
			}
			if got := JoinFragments(frags); got != tc.want {
				t.Errorf("JoinFragments = %q, want %q", got, tc.want)
			}
		})
	}
}
