package telegram

import (
	"testing"

	"github.com/openmentor/mentorgate/internal/agent"
)

func TestRenderKeyboard(t *testing.T) {
	rows := [][]agent.Button{
		{{Text: "◀", Data: "pager:ab12:prev"}, {Text: "▶", Data: "pager:ab12:next"}},
		{{Text: "Ask this", Data: "pager:ab12:select"}, {Text: "Close", Data: "pager:ab12:close"}},
	}

	markup := renderKeyboard(rows)
	if markup == nil {
		t.Fatal("expected markup")
	}
	if len(markup.InlineKeyboard) != 2 {
		t.Fatalf("rows = %d, want 2", len(markup.InlineKeyboard))
	}
	if got := markup.InlineKeyboard[0][1].CallbackData; got != "pager:ab12:next" {
		t.Errorf("callback data = %q", got)
	}
	if got := markup.InlineKeyboard[1][0].Text; got != "Ask this" {
		t.Errorf("button text = %q", got)
	}
}

func TestRenderKeyboardEmpty(t *testing.T) {
	if renderKeyboard(nil) != nil {
		t.Error("nil rows should render no markup")
	}
	if renderKeyboard([][]agent.Button{{}}) != nil {
		t.Error("empty row should render no markup")
	}
}

func TestParseIDs(t *testing.T) {
	chat, err := parseChatID("-100123")
	if err != nil || chat != -100123 {
		t.Errorf("parseChatID = %d, %v", chat, err)
	}
	if _, err := parseChatID("abc"); err == nil {
		t.Error("expected error for non-numeric chat ID")
	}

	msg, err := parseMessageID("42")
	if err != nil || msg != 42 {
		t.Errorf("parseMessageID = %d, %v", msg, err)
	}
}
