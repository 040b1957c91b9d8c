package compose

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// PlatformMessageLimit is the largest text one send may carry. Matches the
// strictest supported platform (Telegram).
const PlatformMessageLimit = 4096

// SplitMessage breaks text into chunks of at most limit runes, preferring
// paragraph then line then word boundaries, and falling back to a hard rune
// cut for unbroken runs. Display width is measured with runewidth so
// double-width scripts don't overshoot platform rendering limits.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 {
		limit = PlatformMessageLimit
	}
	if fits(text, limit) {
		if text == "" {
			return nil
		}
		return []string{text}
	}

	var chunks []string
	var current strings.Builder

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
	}

	for _, para := range strings.Split(text, "\n\n") {
		candidate := para
		if current.Len() > 0 {
			candidate = current.String() + "\n\n" + para
		}
		if fits(candidate, limit) {
			if current.Len() > 0 {
				current.WriteString("\n\n")
			}
			current.WriteString(para)
			continue
		}
		flush()

		if fits(para, limit) {
			current.WriteString(para)
			continue
		}
		for _, piece := range splitLong(para, limit) {
			chunks = append(chunks, piece)
		}
	}
	flush()
	return chunks
}

// splitLong breaks a single overlong paragraph at line, then word, then rune
// boundaries.
func splitLong(para string, limit int) []string {
	var out []string
	var current strings.Builder

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			out = append(out, s)
		}
		current.Reset()
	}

	words := strings.FieldsFunc(para, func(r rune) bool { return r == ' ' || r == '\n' })
	for _, w := range words {
		if !fits(w, limit) {
			flush()
			out = append(out, hardCut(w, limit)...)
			continue
		}
		candidate := w
		if current.Len() > 0 {
			candidate = current.String() + " " + w
		}
		if !fits(candidate, limit) {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(w)
	}
	flush()
	return out
}

// hardCut slices an unbroken run into width-bounded pieces.
func hardCut(s string, limit int) []string {
	var out []string
	var current strings.Builder
	width := 0
	for _, r := range s {
		w := runewidth.RuneWidth(r)
		if width+w > limit && current.Len() > 0 {
			out = append(out, current.String())
			current.Reset()
			width = 0
		}
		current.WriteRune(r)
		width += w
	}
	if current.Len() > 0 {
		out = append(out, current.String())
	}
	return out
}

func fits(s string, limit int) bool {
	return runewidth.StringWidth(s) <= limit
}
