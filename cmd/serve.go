package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openmentor/mentorgate/internal/agent"
	"github.com/openmentor/mentorgate/internal/bus"
	"github.com/openmentor/mentorgate/internal/channels"
	"github.com/openmentor/mentorgate/internal/channels/discord"
	"github.com/openmentor/mentorgate/internal/channels/telegram"
	"github.com/openmentor/mentorgate/internal/channels/webapp"
	"github.com/openmentor/mentorgate/internal/compose"
	"github.com/openmentor/mentorgate/internal/config"
	"github.com/openmentor/mentorgate/internal/gateway"
	"github.com/openmentor/mentorgate/internal/identity"
	"github.com/openmentor/mentorgate/internal/memory"
	"github.com/openmentor/mentorgate/internal/providers"
	"github.com/openmentor/mentorgate/internal/registry"
	"github.com/openmentor/mentorgate/internal/router"
	"github.com/openmentor/mentorgate/internal/store"
	"github.com/openmentor/mentorgate/internal/store/pg"
	"github.com/openmentor/mentorgate/internal/store/sqlite"
	"github.com/openmentor/mentorgate/internal/tracing"
)

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	traceShutdown, err := tracing.Setup(ctx, cfg.Snapshot().Telemetry)
	if err != nil {
		slog.Warn("tracing setup failed", "error", err)
	} else {
		defer func() {
			shutdownCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			traceShutdown(shutdownCtx)
		}()
	}

	st, closeStore, err := buildStore(cfg)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	msgBus := bus.New()
	reg := registry.New(makeInstanceFactory(cfg, st))

	channelMgr := channels.NewManager(msgBus)
	registerChannels(channelMgr, cfg, msgBus)

	consumer := gateway.NewConsumer(cfg, msgBus, reg, channelMgr)
	server := gateway.NewServer(cfg, consumer)
	if web, ok := channelMgr.GetChannel("webapp"); ok {
		if h, ok := web.(http.Handler); ok {
			server.SetWebSocketHandler(h)
		}
	}

	if err := channelMgr.StartAll(ctx); err != nil {
		slog.Error("failed to start channels", "error", err)
	}

	// Pre-build the instance so pager sweeping starts with the process, not
	// on the first message.
	snap := cfg.Snapshot()
	if inst, err := reg.GetOrCreate(ctx, snap.Deployment.ID); err != nil {
		slog.Error("failed to build instance", "deployment", snap.Deployment.ID, "error", err)
	} else if err := inst.Composer.Pagers().StartSweeper(ctx); err != nil {
		slog.Warn("pager sweeper failed to start", "error", err)
	}

	go consumer.Run(ctx)

	if err := config.Watch(ctx, cfgPath, func(next *config.Config) {
		cfg.Apply(next)
	}); err != nil {
		slog.Warn("config watcher unavailable", "error", err)
	}

	go func() {
		sig := <-sigCh
		slog.Info("graceful shutdown initiated", "signal", sig)
		channelMgr.StopAll(context.Background())
		cancel()
	}()

	slog.Info("mentorgate starting",
		"version", Version,
		"deployment", snap.Deployment.ID,
		"backend", snap.Database.Backend,
		"channels", channelMgr.GetEnabledChannels(),
	)

	if err := server.Start(ctx); err != nil {
		slog.Error("gateway error", "error", err)
		os.Exit(1)
	}
}

// buildStore opens the configured storage backend.
func buildStore(cfg *config.Config) (store.Store, func(), error) {
	snap := cfg.Snapshot()
	switch snap.Database.Backend {
	case "", "memory":
		return store.NewMemoryStore(), func() {}, nil

	case "sqlite":
		path := snap.Database.SQLitePath
		if path == "" {
			path = "mentorgate.db"
		}
		s, err := sqlite.Open(config.ExpandHome(path))
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite %s: %w", path, err)
		}
		return s, func() { s.Close() }, nil

	case "postgres":
		dsn := snap.Database.PostgresDSN
		if dsn == "" {
			return nil, nil, fmt.Errorf("postgres backend requires MENTORGATE_POSTGRES_DSN")
		}
		db, err := pg.OpenDB(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		return pg.NewPGStore(db), func() { db.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown database backend %q", snap.Database.Backend)
	}
}

// makeInstanceFactory wires one deployment's pipeline: provider, agent
// manager, router, composer, memory writer and identity normalizer, all
// sharing the given store.
func makeInstanceFactory(cfg *config.Config, st store.Store) registry.Factory {
	return func(ctx context.Context, key string) (*registry.Instance, error) {
		snap := cfg.Snapshot()

		provider := providers.New(snap.Agent.Provider, snap.Agent.APIKey, snap.Agent.APIBase, snap.Agent.Model)
		mgrOpts := []agent.ManagerOption{
			agent.WithSystemPrompt(snap.Agent.SystemPrompt),
		}
		if len(snap.Agent.Knowledge) > 0 {
			mgrOpts = append(mgrOpts, agent.WithRetriever(agent.NewKeywordRetriever(snap.Agent.Knowledge)))
		}
		mgr := agent.NewLLMManager(provider, mgrOpts...)

		var pagerOpts []compose.PagerOption
		if snap.Compose.PagerTTLMinutes > 0 {
			pagerOpts = append(pagerOpts, compose.WithPagerTTL(time.Duration(snap.Compose.PagerTTLMinutes)*time.Minute))
		}
		if snap.Compose.TapCooldownMs > 0 {
			pagerOpts = append(pagerOpts, compose.WithTapCooldown(time.Duration(snap.Compose.TapCooldownMs)*time.Millisecond))
		}
		if snap.Compose.SweepSchedule != "" {
			pagerOpts = append(pagerOpts, compose.WithSweepSchedule(snap.Compose.SweepSchedule))
		}
		pagers := compose.NewPagerRegistry(pagerOpts...)

		var composerOpts []compose.ComposerOption
		if snap.Compose.ChunkLimit > 0 {
			composerOpts = append(composerOpts, compose.WithChunkLimit(snap.Compose.ChunkLimit))
		}
		if snap.Compose.PlaceholderLifetimeSec > 0 {
			composerOpts = append(composerOpts, compose.WithPlaceholderLifetime(time.Duration(snap.Compose.PlaceholderLifetimeSec)*time.Second))
		}
		composer := compose.New(pagers, composerOpts...)

		var memOpts []memory.WriterOption
		if snap.Memory.ChunkSize > 0 {
			memOpts = append(memOpts, memory.WithChunkSize(snap.Memory.ChunkSize))
		}
		writer := memory.NewWriter(st, func(userID string) bool {
			active, _ := mgr.GameState(userID)
			return active
		}, memOpts...)

		var identOpts []identity.Option
		if snap.Gateway.SessionIdleMinutes > 0 {
			identOpts = append(identOpts, identity.WithIdleTimeout(time.Duration(snap.Gateway.SessionIdleMinutes)*time.Minute))
		}

		return &registry.Instance{
			Manager:    mgr,
			Router:     router.New(mgr),
			Composer:   composer,
			Memory:     writer,
			Normalizer: identity.NewNormalizer(st, key, identOpts...),
			Store:      st,
		}, nil
	}
}

// registerChannels adds every enabled channel to the manager.
func registerChannels(mgr *channels.Manager, cfg *config.Config, msgBus *bus.MessageBus) {
	snap := cfg.Snapshot()

	if snap.Channels.Telegram.Enabled {
		ch, err := telegram.New(snap.Channels.Telegram, msgBus)
		if err != nil {
			slog.Error("telegram channel init failed", "error", err)
		} else {
			mgr.RegisterChannel("telegram", ch)
		}
	}

	if snap.Channels.Discord.Enabled {
		ch, err := discord.New(snap.Channels.Discord, msgBus)
		if err != nil {
			slog.Error("discord channel init failed", "error", err)
		} else {
			mgr.RegisterChannel("discord", ch)
		}
	}

	if snap.Channels.WebApp.Enabled {
		mgr.RegisterChannel("webapp", webapp.New(snap.Channels.WebApp, msgBus))
	}
}
