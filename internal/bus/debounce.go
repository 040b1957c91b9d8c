package bus

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// DefaultFragmentCap is the hard limit on buffered fragments per key.
// Reaching it forces an immediate flush even if the quiet window has not
// elapsed.
const DefaultFragmentCap = 10

// InboundDebouncer merges rapid-fire text fragments from the same chat+user
// pair into one logical message before processing. Some platforms split long
// human-typed messages into several updates delivered milliseconds apart;
// buffering them inside a quiet window and joining on flush gives the
// orchestrator one turn instead of several partial ones.
//
// Commands and non-text events (callback interactions, media) bypass the
// buffer and are forwarded immediately.
type InboundDebouncer struct {
	window time.Duration
	cap    int
	flush  func(InboundMessage)

	mu      sync.Mutex
	entries map[string]*bufferEntry
	stopped bool
}

// bufferEntry holds the buffered fragments for one chat+user key.
// Invariant: at most one live timer per key at any instant.
type bufferEntry struct {
	fragments []InboundMessage
	timer     *time.Timer
	updated   time.Time
}

// NewInboundDebouncer creates a debouncer that calls flush with each merged
// (or bypassed) message. window <= 0 disables buffering entirely.
func NewInboundDebouncer(window time.Duration, flush func(InboundMessage)) *InboundDebouncer {
	return &InboundDebouncer{
		window:  window,
		cap:     DefaultFragmentCap,
		flush:   flush,
		entries: make(map[string]*bufferEntry),
	}
}

// SetFragmentCap overrides the hard cap on buffered fragments per key.
func (d *InboundDebouncer) SetFragmentCap(n int) {
	if n > 0 {
		d.cap = n
	}
}

// BufferKey builds the buffer key for a message: chatID:userID, so separate
// senders in the same group chat never have their fragments interleaved.
func BufferKey(msg InboundMessage) string {
	return fmt.Sprintf("%s:%s", msg.ChatID, msg.SenderID)
}

// Push routes a message through the debouncer. Text fragments are buffered
// per key with reset-on-append timer semantics; everything else is forwarded
// immediately.
func (d *InboundDebouncer) Push(msg InboundMessage) {
	if d.window <= 0 || msg.IsCommand() || !msg.IsText() {
		d.safeFlush(msg)
		return
	}

	key := BufferKey(msg)

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		d.safeFlush(msg)
		return
	}

	e, ok := d.entries[key]
	if !ok {
		e = &bufferEntry{}
		d.entries[key] = e
	}
	e.fragments = append(e.fragments, msg)
	e.updated = time.Now()

	if len(e.fragments) >= d.cap {
		frags := d.takeLocked(key)
		d.mu.Unlock()
		d.flushFragments(frags)
		return
	}

	// Restart the quiet-window timer. Stop-then-replace rather than Reset so
	// a timer that already fired and is waiting on the lock cannot double-flush.
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(d.window, func() { d.expire(key) })
	d.mu.Unlock()
}

// expire flushes a key when its quiet window elapses. A Push that appended
// while this timer was already firing re-arms instead of flushing, so a
// reset-then-fire race cannot cut the burst short.
func (d *InboundDebouncer) expire(key string) {
	d.mu.Lock()
	if e, ok := d.entries[key]; ok && !d.stopped {
		if remaining := d.window - time.Since(e.updated); remaining > 0 {
			e.timer = time.AfterFunc(remaining, func() { d.expire(key) })
			d.mu.Unlock()
			return
		}
	}
	frags := d.takeLocked(key)
	d.mu.Unlock()
	d.flushFragments(frags)
}

// takeLocked removes and returns the buffered fragments for key, clearing the
// timer. Caller holds d.mu.
func (d *InboundDebouncer) takeLocked(key string) []InboundMessage {
	e, ok := d.entries[key]
	if !ok {
		return nil
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(d.entries, key)
	return e.fragments
}

// flushFragments joins buffered fragments into one message and forwards it.
// The base (first) fragment's Content is rewritten to the joined text so the
// platform payload is not duplicated. If joining or downstream processing
// panics, the first raw fragment is forwarded unmodified rather than the
// turn being dropped.
func (d *InboundDebouncer) flushFragments(frags []InboundMessage) {
	if len(frags) == 0 {
		return
	}
	if len(frags) == 1 {
		d.safeFlush(frags[0])
		return
	}

	base := frags[0]
	defer func() {
		if r := recover(); r != nil {
			slog.Error("fragment join failed, forwarding first fragment",
				"chat_id", base.ChatID, "fragments", len(frags), "panic", r)
			d.safeFlush(base)
		}
	}()

	merged := frags[0]
	merged.Content = JoinFragments(frags)

	slog.Debug("merged message fragments",
		"chat_id", merged.ChatID, "sender", merged.SenderID, "fragments", len(frags))

	d.flush(merged)
}

// safeFlush invokes the flush callback, logging instead of propagating panics
// so one bad turn cannot kill the consumer loop.
func (d *InboundDebouncer) safeFlush(msg InboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("inbound flush panicked",
				"channel", msg.Channel, "chat_id", msg.ChatID, "panic", r)
		}
	}()
	d.flush(msg)
}

// Stop cancels all pending timers. Buffered fragments are discarded; callers
// stop the debouncer only on shutdown.
func (d *InboundDebouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for key, e := range d.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(d.entries, key)
	}
}

// PendingKeys returns the number of keys currently buffered (for tests and
// status reporting).
func (d *InboundDebouncer) PendingKeys() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// continuation markers platforms insert between split fragments.
var continuationMarkers = []string{"...", "…"}

// JoinFragments concatenates fragment texts in arrival order, removing
// duplicated continuation markers at fragment boundaries: a trailing ellipsis
// on a non-final fragment and a leading ellipsis on a non-first fragment are
// both artifacts of the split, not content.
func JoinFragments(frags []InboundMessage) string {
	parts := make([]string, 0, len(frags))
	for i, f := range frags {
		text := f.Content
		if i > 0 {
			text = trimLeadingMarker(text)
		}
		if i < len(frags)-1 {
			text = trimTrailingMarker(text)
		}
		text = strings.TrimSpace(text)
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n")
}

func trimLeadingMarker(s string) string {
	for _, m := range continuationMarkers {
		if strings.HasPrefix(s, m) {
			return s[len(m):]
		}
	}
	return s
}

func trimTrailingMarker(s string) string {
	for _, m := range continuationMarkers {
		if strings.HasSuffix(s, m) {
			return s[:len(s)-len(m)]
		}
	}
	return s
}
