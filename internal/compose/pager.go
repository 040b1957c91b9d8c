package compose

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"github.com/openmentor/mentorgate/internal/agent"
)

// Pager kinds.
const (
	KindCitations = "citations"
	KindQuestions = "questions"
)

// PagerPrefix marks callback payloads routed to the pager registry:
// "pager:<setID>:<action>".
const PagerPrefix = "pager:"

const (
	actionPrev   = "prev"
	actionNext   = "next"
	actionSelect = "select"
	actionClose  = "close"
)

// Defaults for pager session lifecycle.
const (
	DefaultPagerTTL      = 10 * time.Minute
	DefaultTapCooldown   = 700 * time.Millisecond
	DefaultSweepSchedule = "* * * * *"
)

const expiredNotice = "This list has expired. Ask again to get a fresh one."
const cooldownNotice = "One tap at a time, please."

// PagerItem is one entry shown a page at a time.
type PagerItem struct {
	Title string
	Body  string
}

// pagerSession is the server-held cursor state behind one paginated display.
type pagerSession struct {
	chatKey    string
	setID      string
	kind       string
	items      []PagerItem
	page       int
	created    time.Time
	expiresAt  time.Time
	messageID  string
	lastAction time.Time

	adapter Adapter
	chatID  string
}

// ActionResult is the outcome of one pager interaction. SelectedInput, when
// set, is fed back into the pipeline as a new user turn.
type ActionResult struct {
	Notice        string
	SelectedInput string
	Closed        bool
}

// PagerRegistry owns all live pager sessions for a deployment.
type PagerRegistry struct {
	mu       sync.Mutex
	sessions map[string]*pagerSession

	ttl      time.Duration
	cooldown time.Duration
	schedule string
}

type PagerOption func(*PagerRegistry)

func WithPagerTTL(ttl time.Duration) PagerOption {
	return func(r *PagerRegistry) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

func WithTapCooldown(d time.Duration) PagerOption {
	return func(r *PagerRegistry) {
		if d > 0 {
			r.cooldown = d
		}
	}
}

func WithSweepSchedule(expr string) PagerOption {
	return func(r *PagerRegistry) {
		if expr != "" {
			r.schedule = expr
		}
	}
}

func NewPagerRegistry(opts ...PagerOption) *PagerRegistry {
	r := &PagerRegistry{
		sessions: make(map[string]*pagerSession),
		ttl:      DefaultPagerTTL,
		cooldown: DefaultTapCooldown,
		schedule: DefaultSweepSchedule,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func sessionKey(chatKey, setID string) string { return chatKey + "/" + setID }

// Open creates a pager session and sends its first page. Returns the id of
// the rendered message.
func (r *PagerRegistry) Open(ctx context.Context, adapter Adapter, chatID, kind string, items []PagerItem) (string, error) {
	if len(items) == 0 {
		return "", nil
	}

	now := time.Now()
	s := &pagerSession{
		chatKey:   chatID,
		setID:     uuid.NewString()[:8],
		kind:      kind,
		items:     items,
		created:   now,
		expiresAt: now.Add(r.ttl),
		adapter:   adapter,
		chatID:    chatID,
	}

	msgID, err := adapter.SendKeyboard(ctx, chatID, s.renderText(), s.renderKeyboard())
	if err != nil {
		return "", fmt.Errorf("open %s pager: %w", kind, err)
	}
	s.messageID = msgID

	r.mu.Lock()
	r.sessions[sessionKey(chatID, s.setID)] = s
	r.mu.Unlock()

	return msgID, nil
}

// HandleAction processes one pager callback ("pager:<setID>:<action>") for a
// chat. Expired sessions answer with a notice and are purged. Taps inside the
// cooldown window are rejected without mutating the session.
func (r *PagerRegistry) HandleAction(ctx context.Context, chatKey, data string) (*ActionResult, error) {
	rest := strings.TrimPrefix(data, PagerPrefix)
	parts := strings.SplitN(rest, ":", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("pager: malformed action %q", data)
	}
	setID, action := parts[0], parts[1]

	r.mu.Lock()
	s, ok := r.sessions[sessionKey(chatKey, setID)]
	if !ok {
		r.mu.Unlock()
		return &ActionResult{Notice: expiredNotice, Closed: true}, nil
	}

	now := time.Now()
	if now.After(s.expiresAt) {
		delete(r.sessions, sessionKey(chatKey, setID))
		r.mu.Unlock()
		r.deleteRendered(ctx, s)
		return &ActionResult{Notice: expiredNotice, Closed: true}, nil
	}
	if !s.lastAction.IsZero() && now.Sub(s.lastAction) < r.cooldown {
		r.mu.Unlock()
		return &ActionResult{Notice: cooldownNotice}, nil
	}
	s.lastAction = now

	switch action {
	case actionPrev, actionNext:
		delta := 1
		if action == actionPrev {
			delta = len(s.items) - 1
		}
		s.page = (s.page + delta) % len(s.items)
		text, kb := s.renderText(), s.renderKeyboard()
		r.mu.Unlock()

		if err := s.adapter.EditMessage(ctx, s.chatID, s.messageID, text, kb); err != nil {
			slog.Warn("pager edit failed", "set_id", setID, "error", err)
		}
		return &ActionResult{}, nil

	case actionSelect:
		item := s.items[s.page]
		kind := s.kind
		r.mu.Unlock()

		if kind == KindQuestions {
			return &ActionResult{SelectedInput: item.Title}, nil
		}
		return &ActionResult{Notice: item.Title + "\n" + item.Body}, nil

	case actionClose:
		delete(r.sessions, sessionKey(chatKey, setID))
		r.mu.Unlock()
		r.deleteRendered(ctx, s)
		return &ActionResult{Closed: true}, nil

	default:
		r.mu.Unlock()
		return nil, fmt.Errorf("pager: unknown action %q", action)
	}
}

// deleteRendered best-effort removes the pager's message. Delete failures are
// logged and swallowed, never surfaced to the user.
func (r *PagerRegistry) deleteRendered(ctx context.Context, s *pagerSession) {
	if s.messageID == "" {
		return
	}
	if err := s.adapter.DeleteMessage(ctx, s.chatID, s.messageID); err != nil {
		slog.Debug("pager message delete failed", "set_id", s.setID, "error", err)
	}
}

// PurgeExpired removes every expired session and best-effort deletes its
// rendered message.
func (r *PagerRegistry) PurgeExpired(ctx context.Context) int {
	now := time.Now()

	r.mu.Lock()
	var expired []*pagerSession
	for key, s := range r.sessions {
		if now.After(s.expiresAt) {
			expired = append(expired, s)
			delete(r.sessions, key)
		}
	}
	r.mu.Unlock()

	for _, s := range expired {
		r.deleteRendered(ctx, s)
	}
	if len(expired) > 0 {
		slog.Debug("purged expired pager sessions", "count", len(expired))
	}
	return len(expired)
}

// Len reports the number of live sessions.
func (r *PagerRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// StartSweeper runs the expiry sweep on the registry's cron schedule until
// ctx is cancelled. The schedule is validated up front.
func (r *PagerRegistry) StartSweeper(ctx context.Context) error {
	g := gronx.New()
	if !g.IsValid(r.schedule) {
		return fmt.Errorf("pager: invalid sweep schedule %q", r.schedule)
	}

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				due, err := g.IsDue(r.schedule, now)
				if err != nil {
					slog.Warn("pager sweep schedule check failed", "error", err)
					continue
				}
				if due {
					r.PurgeExpired(ctx)
				}
			}
		}
	}()
	return nil
}

func (s *pagerSession) renderText() string {
	item := s.items[s.page]
	header := "Sources"
	if s.kind == KindQuestions {
		header = "Suggested questions"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s (%d/%d)\n\n%s", header, s.page+1, len(s.items), item.Title)
	if item.Body != "" {
		sb.WriteString("\n")
		sb.WriteString(item.Body)
	}
	return sb.String()
}

func (s *pagerSession) renderKeyboard() [][]agent.Button {
	selectLabel := "Open"
	if s.kind == KindQuestions {
		selectLabel = "Ask this"
	}
	return [][]agent.Button{
		{
			{Text: "◀", Data: PagerPrefix + s.setID + ":" + actionPrev},
			{Text: "▶", Data: PagerPrefix + s.setID + ":" + actionNext},
		},
		{
			{Text: selectLabel, Data: PagerPrefix + s.setID + ":" + actionSelect},
			{Text: "Close", Data: PagerPrefix + s.setID + ":" + actionClose},
		},
	}
}
