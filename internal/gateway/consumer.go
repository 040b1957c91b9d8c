package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openmentor/mentorgate/internal/agent"
	"github.com/openmentor/mentorgate/internal/bus"
	"github.com/openmentor/mentorgate/internal/compose"
	"github.com/openmentor/mentorgate/internal/config"
	"github.com/openmentor/mentorgate/internal/identity"
	"github.com/openmentor/mentorgate/internal/registry"
	"github.com/openmentor/mentorgate/internal/store"
	"github.com/openmentor/mentorgate/internal/tracing"
)

// historyLimit bounds how many prior messages are loaded into a turn.
const historyLimit = 20

const thinkingText = "Thinking..."

// AdapterSource resolves the composer send surface for a channel.
// *channels.Manager satisfies this.
type AdapterSource interface {
	Adapter(name string) (compose.Adapter, bool)
}

// callbackAcker is implemented by channels that park an interaction token
// (Telegram callback queries) needing an explicit ack after handling.
type callbackAcker interface {
	AckCallback(ctx context.Context, chatID, text string) bool
}

// Consumer drains the inbound bus and drives turns through the pipeline:
// dedupe, command handling, fragment debounce, identity normalization, mode
// routing, response delivery and memory commit.
type Consumer struct {
	cfg       *config.Config
	bus       *bus.MessageBus
	registry  *registry.Registry
	adapters  AdapterSource
	dedupe    *bus.DedupeCache
	debouncer *bus.InboundDebouncer

	// runCtx is the lifecycle context captured by Run; debouncer flushes
	// fire from timer goroutines and need it for downstream calls.
	runCtx context.Context
}

// NewConsumer wires a consumer over the shared bus and instance registry.
func NewConsumer(cfg *config.Config, msgBus *bus.MessageBus, reg *registry.Registry, adapters AdapterSource) *Consumer {
	c := &Consumer{
		cfg:      cfg,
		bus:      msgBus,
		registry: reg,
		adapters: adapters,
		// Prevents webhook retries / double-taps from duplicating turns.
		dedupe: bus.NewDedupeCache(20*time.Minute, 5000),
	}

	snap := cfg.Snapshot()
	debounceMs := snap.Gateway.InboundDebounceMs
	c.debouncer = bus.NewInboundDebouncer(time.Duration(debounceMs)*time.Millisecond, c.flushTurn)
	if snap.Gateway.FragmentCap > 0 {
		c.debouncer.SetFragmentCap(snap.Gateway.FragmentCap)
	}
	return c
}

// Run consumes inbound messages until ctx is cancelled. Blocking; callers
// run it in a goroutine.
func (c *Consumer) Run(ctx context.Context) {
	slog.Info("inbound consumer started")
	defer c.debouncer.Stop()

	c.runCtx = ctx

	for {
		msg, ok := c.bus.ConsumeInbound(ctx)
		if !ok {
			slog.Info("inbound consumer stopped")
			return
		}

		// Callbacks skip dedupe: repeat taps reuse the keyboard message's
		// ID and are already throttled by the pager cooldown.
		if msg.MessageID != "" && msg.CallbackData == "" {
			dedupeKey := fmt.Sprintf("%s|%s|%s|%s", msg.Channel, msg.SenderID, msg.ChatID, msg.MessageID)
			if c.dedupe.IsDuplicate(dedupeKey) {
				slog.Debug("dedup: skipping duplicate message", "key", dedupeKey)
				continue
			}
		}

		switch {
		case msg.CallbackData != "":
			go c.handleCallback(ctx, msg)
		case msg.IsCommand():
			go c.handleCommand(ctx, msg)
		case msg.Channel == bus.SourceWebApp:
			// Delegated webapp turns arrive whole; only platform-native
			// text goes through the fragment buffer.
			go c.flushTurn(msg)
		default:
			c.debouncer.Push(msg)
		}
	}
}

// flushTurn is the debouncer flush callback: one merged (or bypassed)
// message becomes one turn.
func (c *Consumer) flushTurn(msg bus.InboundMessage) {
	ctx := c.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	c.processTurn(ctx, msg, msg.Content, true)
}

// processTurn runs one full conversational turn and delivers the response.
// withPlaceholder controls the transient "Thinking..." message; callback
// re-injections skip it.
func (c *Consumer) processTurn(ctx context.Context, msg bus.InboundMessage, input string, withPlaceholder bool) {
	ctx, span := tracing.Tracer().Start(ctx, "gateway.turn", trace.WithAttributes(
		attribute.String("channel", msg.Channel),
		attribute.String("chat_id", msg.ChatID),
	))
	defer span.End()

	inst, adapter, err := c.resolve(ctx, msg.Channel, msg.ChatID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		slog.Warn("turn: resolve failed", "channel", msg.Channel, "error", err)
		return
	}

	progressID := ""
	if withPlaceholder {
		if id, err := adapter.SendText(ctx, msg.ChatID, thinkingText); err == nil {
			progressID = id
			inst.Composer.TrackPlaceholder(adapter, msg.ChatID, id)
		}
	}

	resp, ident, err := c.runTurn(ctx, inst, msg, input)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		c.reportTurnError(ctx, adapter, msg.ChatID, progressID, err)
		return
	}

	deliveredID, err := inst.Composer.Deliver(ctx, adapter, msg.ChatID, resp, progressID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		slog.Error("turn: delivery failed", "channel", msg.Channel, "chat_id", msg.ChatID, "error", err)
		return
	}

	if resp.Game != nil && deliveredID != "" {
		inst.Manager.RecordGameMessage(ident.UserID, deliveredID)
	}

	inst.Memory.Commit(ctx, ident, msg, resp, deliveredID)
}

// runTurn normalizes identity, loads history and routes the turn. Shared by
// the channel path and the synchronous HTTP API.
func (c *Consumer) runTurn(ctx context.Context, inst *registry.Instance, msg bus.InboundMessage, input string) (*agent.EnhancedResponse, identity.Identity, error) {
	ident, err := inst.Normalizer.Normalize(ctx, msg)
	if err != nil {
		return nil, identity.Identity{}, fmt.Errorf("normalize: %w", err)
	}

	if cost := int64(c.cfg.Snapshot().Gateway.TurnTokenCost); cost > 0 {
		if err := inst.Store.ConsumeTokens(ctx, ident.UserID, cost); err != nil {
			if errors.Is(err, store.ErrInsufficientTokens) {
				return agent.TextResponse("You've run out of message credits. Ask an administrator to top up your balance."), ident, nil
			}
			// Quota bookkeeping never blocks a turn on storage blips.
			slog.Warn("token charge failed", "user_id", ident.UserID, "error", err)
		}
	}

	history, err := inst.Store.GetMessages(ctx, ident.SessionID, historyLimit)
	if err != nil {
		slog.Warn("turn: history load failed", "session_id", ident.SessionID, "error", err)
	}

	resp, err := inst.Router.Route(ctx, agent.TurnRequest{
		UserID:    ident.UserID,
		SessionID: ident.SessionID,
		Input:     input,
		History:   history,
	})
	if err != nil {
		return nil, ident, fmt.Errorf("route: %w", err)
	}
	return resp, ident, nil
}

// RunAPITurn handles a synchronous programmatic turn: no adapter, no
// delivery, the caller receives the envelope directly. Memory is still
// committed so API conversations have history.
func (c *Consumer) RunAPITurn(ctx context.Context, msg bus.InboundMessage) (*agent.EnhancedResponse, identity.Identity, error) {
	ctx, span := tracing.Tracer().Start(ctx, "gateway.api_turn")
	defer span.End()

	inst, err := c.instance(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, identity.Identity{}, err
	}

	resp, ident, err := c.runTurn(ctx, inst, msg, msg.Content)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, ident, err
	}

	inst.Memory.Commit(ctx, ident, msg, resp, "")
	return resp, ident, nil
}

// handleCallback dispatches an inline button press. Pager actions are
// resolved against the composer's pager registry; quiz answers and quick
// yes/no replies become regular turns.
func (c *Consumer) handleCallback(ctx context.Context, msg bus.InboundMessage) {
	inst, adapter, err := c.resolve(ctx, msg.Channel, msg.ChatID)
	if err != nil {
		slog.Warn("callback: resolve failed", "channel", msg.Channel, "error", err)
		return
	}
	// Clear any parked interaction token once the press is fully handled.
	defer func() {
		if acker, ok := adapter.(callbackAcker); ok {
			acker.AckCallback(ctx, msg.ChatID, "")
		}
	}()

	data := msg.CallbackData
	switch {
	case strings.HasPrefix(data, compose.PagerPrefix):
		result, err := inst.Composer.Pagers().HandleAction(ctx, msg.ChatID, data)
		if err != nil {
			slog.Warn("callback: pager action failed", "data", data, "error", err)
			return
		}
		if result.Notice != "" {
			if err := adapter.Notify(ctx, msg.ChatID, result.Notice); err != nil {
				slog.Debug("callback: notice failed", "chat_id", msg.ChatID, "error", err)
			}
		}
		if result.SelectedInput != "" {
			c.processTurn(ctx, msg, result.SelectedInput, true)
		}

	case strings.HasPrefix(data, agent.GameAnswerPrefix):
		c.processTurn(ctx, msg, data, false)

	case data == "quick:yes":
		c.processTurn(ctx, msg, "yes", false)

	case data == "quick:no":
		c.processTurn(ctx, msg, "no", false)

	default:
		slog.Debug("callback: unrecognized payload", "data", data)
	}
}

// handleCommand executes slash commands. Mode switches are answered
// immediately; unknown commands become regular turns so the agent can
// respond to them.
func (c *Consumer) handleCommand(ctx context.Context, msg bus.InboundMessage) {
	cmd := strings.SplitN(msg.Content, " ", 2)[0]
	cmd = strings.SplitN(cmd, "@", 2)[0]
	cmd = strings.ToLower(cmd)

	inst, adapter, err := c.resolve(ctx, msg.Channel, msg.ChatID)
	if err != nil {
		slog.Warn("command: resolve failed", "channel", msg.Channel, "error", err)
		return
	}

	ident, err := inst.Normalizer.Normalize(ctx, msg)
	if err != nil {
		slog.Warn("command: normalize failed", "channel", msg.Channel, "error", err)
		return
	}

	reply := func(text string) {
		if _, err := adapter.SendText(ctx, msg.ChatID, text); err != nil {
			slog.Debug("command reply failed", "chat_id", msg.ChatID, "error", err)
		}
	}

	switch cmd {
	case "/start":
		reply("Hi! I'm your study mentor. Ask me anything, or try /game for a quiz and /rag to search the knowledge base.")

	case "/game":
		resp, err := inst.Manager.InitGame(ctx, agent.TurnRequest{
			UserID:    ident.UserID,
			SessionID: ident.SessionID,
			Input:     msg.Content,
		})
		if err != nil {
			c.reportTurnError(ctx, adapter, msg.ChatID, "", err)
			return
		}
		deliveredID, err := inst.Composer.Deliver(ctx, adapter, msg.ChatID, resp, "")
		if err != nil {
			slog.Error("command: game delivery failed", "chat_id", msg.ChatID, "error", err)
			return
		}
		if resp.Game != nil && deliveredID != "" {
			inst.Manager.RecordGameMessage(ident.UserID, deliveredID)
		}

	case "/rag":
		enabled := !inst.Manager.IsRAGEnabled(ident.UserID)
		inst.Manager.SetRAG(ident.UserID, enabled)
		if enabled {
			reply("Retrieval mode is on. I'll ground answers in the knowledge base.")
		} else {
			reply("Retrieval mode is off. Back to regular chat.")
		}

	case "/reset":
		inst.Manager.EndGame(ident.UserID)
		inst.Manager.SetRAG(ident.UserID, false)
		inst.Manager.ClearRAGPending(ident.UserID)
		reply("Conversation state has been reset.")

	default:
		c.processTurn(ctx, msg, msg.Content, true)
	}
}

// ErrNotReady is returned while the deployment instance cannot be
// constructed yet. Users get a generic try-again reply instead of silence.
var ErrNotReady = errors.New("gateway: instance not ready")

// resolve fetches the channel's send surface and the deployment instance.
// An instance construction failure with a reachable adapter still tells the
// user something, instead of dropping the turn silently.
func (c *Consumer) resolve(ctx context.Context, channel, chatID string) (*registry.Instance, compose.Adapter, error) {
	adapter, ok := c.adapters.Adapter(channel)
	if !ok {
		return nil, nil, fmt.Errorf("no adapter for channel %q", channel)
	}
	inst, err := c.instance(ctx)
	if err != nil {
		if _, sendErr := adapter.SendText(ctx, chatID, "I'm not ready yet. Please try again in a moment."); sendErr != nil {
			slog.Debug("not-ready reply failed", "chat_id", chatID, "error", sendErr)
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrNotReady, err)
	}
	return inst, adapter, nil
}

func (c *Consumer) instance(ctx context.Context) (*registry.Instance, error) {
	snap := c.cfg.Snapshot()
	inst, err := c.registry.GetOrCreate(ctx, snap.Deployment.ID)
	if err != nil {
		return nil, fmt.Errorf("instance %q: %w", snap.Deployment.ID, err)
	}
	return inst, nil
}

// reportTurnError cleans up the placeholder and tells the user the turn
// failed. Identity failures get their own wording; everything else collapses
// into a generic apology without leaking internals.
func (c *Consumer) reportTurnError(ctx context.Context, adapter compose.Adapter, chatID, progressID string, err error) {
	slog.Error("turn failed", "chat_id", chatID, "error", err)
	if progressID != "" {
		_ = adapter.DeleteMessage(ctx, chatID, progressID)
	}
	text := "Sorry, something went wrong handling that. Please try again."
	switch {
	case errors.Is(err, identity.ErrAuthRequired):
		text = "Authentication required. Please sign in and try again."
	case errors.Is(err, identity.ErrMalformedChannelID):
		text = "I couldn't read where that message came from. Please reconnect and try again."
	}
	if _, sendErr := adapter.SendText(ctx, chatID, text); sendErr != nil {
		slog.Debug("error reply failed", "chat_id", chatID, "error", sendErr)
	}
}
