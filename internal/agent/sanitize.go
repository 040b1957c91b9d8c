package agent

import (
	"log/slog"
	"regexp"
	"strings"
)

// SanitizeModelText cleans raw provider output before it enters a response
// envelope. Models occasionally leak reasoning tags, tool-call XML fragments
// or repeated paragraphs into the text channel; none of that should reach a
// chat surface or the session history.
func SanitizeModelText(text string) string {
	if text == "" {
		return text
	}
	original := text

	text = stripReasoningTags(text)
	text = stripToolCallArtifacts(text)
	text = collapseRepeatedParagraphs(text)
	text = strings.TrimSpace(text)

	if text != original {
		slog.Debug("sanitized model output",
			"raw_len", len(original), "clean_len", len(text))
	}
	return text
}

// Reasoning spans some models emit inline. Go regexp has no backreferences,
// so each tag pair gets its own pattern.
var reasoningTagPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<think>.*?</think>`),
	regexp.MustCompile(`(?is)<thinking>.*?</thinking>`),
	regexp.MustCompile(`(?is)<thought>.*?</thought>`),
	regexp.MustCompile(`(?is)<reasoning>.*?</reasoning>`),
}

func stripReasoningTags(text string) string {
	lower := strings.ToLower(text)
	if !strings.Contains(lower, "<think") && !strings.Contains(lower, "<thought") &&
		!strings.Contains(lower, "<reasoning") {
		return text
	}
	for _, pat := range reasoningTagPatterns {
		text = pat.ReplaceAllString(text, "")
	}
	return strings.TrimSpace(text)
}

// toolCallXMLPattern matches XML-ish tool invocation tags that some models
// write into text content instead of issuing a structured call.
var toolCallXMLPattern = regexp.MustCompile(
	`(?s)</?(?:function_call|tool_call|tool_use|invoke|parameter)[^>]*>`,
)

var toolCallIndicators = []string{
	"<function_call",
	"<tool_call",
	"<tool_use",
	"<invoke",
	"<parameter name=",
}

// stripToolCallArtifacts removes leaked tool-call markup. Line blocks of the
// form "[Tool Call: ...]" / "[Tool Result ...]" are dropped whole.
func stripToolCallArtifacts(text string) string {
	lower := strings.ToLower(text)
	for _, ind := range toolCallIndicators {
		if strings.Contains(lower, ind) {
			text = toolCallXMLPattern.ReplaceAllString(text, "")
			break
		}
	}

	if strings.Contains(text, "[Tool Call:") || strings.Contains(text, "[Tool Result") {
		var kept []string
		for _, line := range strings.Split(text, "\n") {
			trimmed := strings.TrimSpace(line)
			if strings.HasPrefix(trimmed, "[Tool Call:") || strings.HasPrefix(trimmed, "[Tool Result") {
				continue
			}
			kept = append(kept, line)
		}
		text = strings.Join(kept, "\n")
	}
	return strings.TrimSpace(text)
}

// collapseRepeatedParagraphs drops a paragraph that exactly repeats the one
// before it, a common decode-loop artifact.
func collapseRepeatedParagraphs(text string) string {
	blocks := strings.Split(text, "\n\n")
	if len(blocks) <= 1 {
		return text
	}
	var kept []string
	for _, block := range blocks {
		trimmed := strings.TrimSpace(block)
		if trimmed == "" {
			continue
		}
		if len(kept) > 0 && trimmed == strings.TrimSpace(kept[len(kept)-1]) {
			continue
		}
		kept = append(kept, block)
	}
	return strings.Join(kept, "\n\n")
}
