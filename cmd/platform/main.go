// Package main boots the SoulLink platform service and wires application dependencies.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/easeaico/soullink/internal/api"
	"github.com/easeaico/soullink/internal/auth"
	"github.com/easeaico/soullink/internal/cache"
	"github.com/easeaico/soullink/internal/chat"
	"github.com/easeaico/soullink/internal/chronicle"
	"github.com/easeaico/soullink/internal/config"
	"github.com/easeaico/soullink/internal/emotion"
	"github.com/easeaico/soullink/internal/linkstate"
	"github.com/easeaico/soullink/internal/location"
	"github.com/easeaico/soullink/internal/memory"
	"github.com/easeaico/soullink/internal/models"
	"github.com/easeaico/soullink/internal/realtime"
	"github.com/easeaico/soullink/internal/routine"
	"github.com/easeaico/soullink/internal/seed"
	"github.com/easeaico/soullink/internal/stability"
	"github.com/easeaico/soullink/internal/storage"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg := config.Load()
	setupLogger(cfg)
	slog.Info("configuration loaded",
		"environment", cfg.Environment,
		"provider", cfg.CompletionProvider,
		"chat_model", cfg.ChatModel,
		"narrator_model", cfg.NarratorModel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer store.Close()
	if err := store.AutoMigrate(); err != nil {
		log.Fatalf("failed to migrate schema: %v", err)
	}

	chatModel, err := models.NewCompletionClient(cfg.CompletionProvider, cfg.CompletionAPIKey, cfg.CompletionBaseURL, cfg.ChatModel, cfg.CompletionTimeout)
	if err != nil {
		log.Fatalf("failed to create chat model: %v", err)
	}
	narratorModel, err := models.NewCompletionClient(cfg.CompletionProvider, cfg.CompletionAPIKey, cfg.CompletionBaseURL, cfg.NarratorModel, cfg.NarratorTimeout)
	if err != nil {
		log.Fatalf("failed to create narrator model: %v", err)
	}

	var summarizer *memory.Summarizer
	if cfg.GeminiAPIKey != "" {
		gemini, err := models.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			log.Fatalf("failed to create gemini client: %v", err)
		}
		summarizer = memory.NewSummarizer(gemini, store, cfg.MemorySummaryEvery)
		slog.Info("soul memory enabled", "model", gemini.Model(), "every", cfg.MemorySummaryEvery)
	}

	library := routine.Default()
	if cfg.RoutineTemplatesPath != "" {
		if library, err = routine.Load(cfg.RoutineTemplatesPath); err != nil {
			log.Fatalf("failed to load routine templates: %v", err)
		}
	}

	resolver := location.NewResolver(store, library, cache.New[map[string]string](time.Hour, 256))
	if err := resolver.Warm(ctx); err != nil {
		slog.Warn("world state warm-up failed", "error", err)
	}

	var validator auth.Validator
	if cfg.SupabaseJWTSecret != "" {
		validator = auth.NewJWTValidator(cfg.SupabaseJWTSecret)
	} else {
		validator = auth.NewSupabaseValidator(cfg.SupabaseURL, cfg.SupabaseAnonKey)
	}

	hub := realtime.NewHub(cfg.WSMaxPerUser).WithHeartbeat(cfg.WSHeartbeat)
	links := linkstate.NewService(store, cfg.ArchitectUUID)
	engine := stability.NewEngine(store, links, stability.Config{
		DecayRate:       cfg.StabilityDecayRate,
		Secret:          cfg.AdSSVSecret,
		OverdriveWindow: cfg.OverdriveWindow,
		Cooldown:        cfg.AdCooldown,
		MaxAge:          time.Hour,
	})

	var analyzer *emotion.Analyzer
	if cfg.EmotionAnalysis {
		analyzer = emotion.NewAnalyzer(narratorModel)
	}

	deps := chat.Deps{
		Store:     store,
		Links:     links,
		Locator:   resolver,
		Stability: engine,
		Narrator:  chronicle.NewNarrator(narratorModel, cfg.ChronicleGap, cfg.NarratorTimeout),
		Emotion:   emotion.NewService(emotion.NewStateMachine(cfg.IntimacyDelta), analyzer),
		Model:     models.Retry(chatModel),
		Notifier:  hub,
		Timeout:   cfg.CompletionTimeout,
	}
	if summarizer != nil {
		deps.Memory = summarizer
	}
	pipeline := chat.New(deps)

	server := api.NewServer(api.Deps{
		Store:     store,
		Auth:      auth.NewAuthenticator(validator, store),
		Links:     links,
		Chat:      pipeline,
		Resolver:  resolver,
		World:     location.NewWorld(store, resolver),
		Stability: engine,
		Hub:       hub,
		Memory:    summarizer,
	}, api.Options{
		Production:     cfg.IsProduction(),
		Version:        seed.DefaultVersion,
		ArchitectUUID:  cfg.ArchitectUUID,
		RateLimit:      cfg.RateLimitEnabled,
		AllowedOrigins: cfg.AllowedOrigins(),
		MaxConnections: cfg.MaxConnections,
		Ads: api.AdKeys{
			AppLovinSDKKey: cfg.AppLovinSDKKey,
			TapjoySDKKey:   cfg.TapjoySDKKey,
			TapjoyAppID:    cfg.TapjoyAppID,
		},
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", "addr", cfg.HTTPAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server failed: %v", err)
		}
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	hub.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown failed", "error", err)
	}
	slog.Info("platform shutdown complete")
}

func setupLogger(cfg config.Config) {
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if cfg.IsProduction() {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("slog logger initialized", "level", level.String())
}
