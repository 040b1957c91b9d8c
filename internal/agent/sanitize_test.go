package agent

import (
	"context"
	"testing"
)

func TestSanitizeModelText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "clean text passes through",
			in:   "The mitochondria is the powerhouse of the cell.",
			want: "The mitochondria is the powerhouse of the cell.",
		},
		{
			name: "reasoning tags stripped",
			in:   "<think>let me work this out</think>The answer is 42.",
			want: "The answer is 42.",
		},
		{
			name: "reasoning tags case insensitive across lines",
			in:   "<Thinking>\nstep one\nstep two\n</Thinking>\nDone.",
			want: "Done.",
		},
		{
			name: "tool call xml stripped",
			in:   "<tool_call><parameter name=\"q\">x</parameter></tool_call>Here you go.",
			want: "Here you go.",
		},
		{
			name: "tool call text blocks dropped",
			in:   "[Tool Call: search]\nActual answer here.\n[Tool Result: ok]",
			want: "Actual answer here.",
		},
		{
			name: "repeated paragraph collapsed",
			in:   "Same answer.\n\nSame answer.\n\nNext point.",
			want: "Same answer.\n\nNext point.",
		},
		{
			name: "whitespace trimmed",
			in:   "\n\n  hello  \n",
			want: "hello",
		},
		{
			name: "empty stays empty",
			in:   "",
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeModelText(tt.in); got != tt.want {
				t.Errorf("SanitizeModelText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestChatSanitizesProviderOutput(t *testing.T) {
	p := &scriptProvider{content: "<think>hidden</think>visible reply"}
	m := NewLLMManager(p)

	resp, err := m.Chat(context.Background(), TurnRequest{UserID: "u1", Input: "hi"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got := resp.PrimaryText(); got != "visible reply" {
		t.Errorf("PrimaryText() = %q, want %q", got, "visible reply")
	}
}
