package discord

import (
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/openmentor/mentorgate/internal/agent"
)

func TestRenderComponents(t *testing.T) {
	rows := [][]agent.Button{
		{{Text: "◀", Data: "pager:ab12:prev"}, {Text: "▶", Data: "pager:ab12:next"}},
		{{Text: "Close", Data: "pager:ab12:close"}},
	}

	components := renderComponents(rows)
	if len(components) != 2 {
		t.Fatalf("rows = %d, want 2", len(components))
	}

	row, ok := components[0].(discordgo.ActionsRow)
	if !ok {
		t.Fatalf("component type = %T, want ActionsRow", components[0])
	}
	btn, ok := row.Components[1].(discordgo.Button)
	if !ok {
		t.Fatalf("button type = %T", row.Components[1])
	}
	if btn.CustomID != "pager:ab12:next" {
		t.Errorf("custom id = %q", btn.CustomID)
	}
	if btn.Label != "▶" {
		t.Errorf("label = %q", btn.Label)
	}
}

func TestRenderComponentsTruncatesWideRows(t *testing.T) {
	row := make([]agent.Button, 8)
	for i := range row {
		row[i] = agent.Button{Text: "b", Data: "d"}
	}

	components := renderComponents([][]agent.Button{row})
	if len(components) != 1 {
		t.Fatalf("rows = %d, want 1", len(components))
	}
	actions := components[0].(discordgo.ActionsRow)
	if len(actions.Components) != 5 {
		t.Errorf("buttons = %d, want 5", len(actions.Components))
	}
}

func TestRenderComponentsEmpty(t *testing.T) {
	if got := renderComponents(nil); len(got) != 0 {
		t.Errorf("expected no components, got %d", len(got))
	}
	if got := renderComponents([][]agent.Button{{}}); len(got) != 0 {
		t.Errorf("empty row should be skipped, got %d", len(got))
	}
}

func TestLastIndexByte(t *testing.T) {
	if got := lastIndexByte("a\nb\nc", '\n'); got != 3 {
		t.Errorf("lastIndexByte = %d, want 3", got)
	}
	if got := lastIndexByte("abc", '\n'); got != -1 {
		t.Errorf("lastIndexByte = %d, want -1", got)
	}
}
