package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/shsh-tutor/internal/api"
	"github.com/ashureev/shsh-tutor/internal/chat"
	"github.com/ashureev/shsh-tutor/internal/config"
	"github.com/ashureev/shsh-tutor/internal/graph"
	"github.com/ashureev/shsh-tutor/internal/identity"
	"github.com/ashureev/shsh-tutor/internal/middleware"
	"github.com/ashureev/shsh-tutor/internal/reasoning"
	"github.com/ashureev/shsh-tutor/internal/store"
	"github.com/ashureev/shsh-tutor/internal/tools"
	"github.com/ashureev/shsh-tutor/internal/topic"
	"github.com/ashureev/shsh-tutor/internal/tutor"
	"github.com/ashureev/shsh-tutor/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

// openStore opens the durable store selected by DB_DRIVER.
func openStore(cfg *config.Config) (*store.SQLStore, error) {
	switch cfg.DBDriver {
	case "postgres":
		return store.NewPostgres(cfg.DatabaseURL)
	default:
		return store.NewSQLite(cfg.DBPath)
	}
}

// sessionStore is the session backend together with its sweeper.
type sessionStore interface {
	store.SessionStore
	store.SessionSweeper
}

//nolint:gocognit,funlen // Startup wiring is intentionally sequential to keep dependency setup explicit.
func serve(ctx context.Context, cfg *config.Config) error {
	logger := slog.Default()
	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	db, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("Failed to close store", "error", closeErr)
		}
	}()
	slog.Info("Database connected", "driver", cfg.DBDriver)

	var sessions sessionStore = db
	if cfg.SessionStore == "memory" {
		sessions = store.NewMemoryStore()
	}
	slog.Info("Session store ready", "backend", cfg.SessionStore, "ttl", cfg.Learning.SessionTTL)

	// Topic catalogue.
	catalogue := topic.DefaultTopics()
	if cfg.Tools.TopicsFile != "" {
		catalogue, err = topic.LoadTopics(cfg.Tools.TopicsFile)
		if err != nil {
			return fmt.Errorf("load topics: %w", err)
		}
	}
	detector := topic.NewKeywordDetector(catalogue)
	slog.Info("Topic catalogue loaded", "topics", len(catalogue))

	// Tools.
	docs := tools.DefaultKnowledge()
	if cfg.Tools.KnowledgeFile != "" {
		docs, err = tools.LoadKnowledge(cfg.Tools.KnowledgeFile)
		if err != nil {
			return fmt.Errorf("load knowledge: %w", err)
		}
	}
	embed := tools.NewEmbedding(cfg.Tools.EmbeddingProvider, cfg.Tools.EmbeddingModel, cfg.Tools.EmbeddingURL)
	kb, err := tools.NewKnowledgeBase(ctx, docs, embed)
	if err != nil {
		return fmt.Errorf("index knowledge: %w", err)
	}

	analytics, err := tools.NewAnalyticsLog(tools.AnalyticsLogConfig{
		Enabled:       cfg.AnalyticsLog.Enabled,
		Dir:           cfg.AnalyticsLog.Dir,
		GlobalEnabled: cfg.AnalyticsLog.GlobalEnabled,
		GlobalPath:    cfg.AnalyticsLog.GlobalPath,
		QueueSize:     cfg.AnalyticsLog.QueueSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize analytics log: %w", err)
	}
	defer func() {
		if closeErr := analytics.Close(); closeErr != nil {
			slog.Error("Failed to close analytics log", "error", closeErr)
		}
	}()

	registered := []tools.Tool{kb, analytics}
	if cfg.Tools.WebLookupEnabled {
		registered = append(registered, tools.NewWebSearch(cfg.Tools.BraveAPIKey, logger))
	}
	registry := tools.NewRegistry(registered...)
	dispatcher := tools.NewDispatcher(registry, tools.DispatcherConfig{
		Timeout:    cfg.Tools.Timeout,
		MaxPerTurn: cfg.Tools.MaxPerTurn,
	}, logger)
	// Registered after analytics.Close so background records finish first.
	defer dispatcher.Wait()
	slog.Info("Tools registered", "tools", registry.Names())

	// Reasoning backend.
	backend, err := reasoning.New(ctx, reasoning.Config{
		Provider: cfg.Reasoning.Provider,
		Addr:     cfg.Reasoning.Addr,
		Model:    cfg.Reasoning.Model,
		APIKey:   cfg.Reasoning.APIKey,
		BaseURL:  cfg.Reasoning.BaseURL,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize reasoning backend: %w", err)
	}
	reasoner := reasoning.NewRetrying(backend, reasoning.RetryConfig{
		MaxAttempts: cfg.Reasoning.MaxAttempts,
		Timeout:     cfg.Reasoning.Timeout,
		Backoff:     cfg.Reasoning.Backoff,
	}, logger)
	defer func() {
		if closeErr := reasoner.Close(); closeErr != nil {
			slog.Error("Failed to close reasoning backend", "error", closeErr)
		}
	}()
	slog.Info("Reasoning backend ready", "provider", cfg.Reasoning.Provider)

	// Orchestrator.
	aggregator := graph.NewAggregator(db, cfg.Location(), logger)
	orch, err := tutor.New(tutor.Config{
		SessionWindow:      cfg.Learning.SessionWindow,
		SessionTTL:         cfg.Learning.SessionTTL,
		RecentTurns:        cfg.Learning.RecentTurns,
		ContextBudgetChars: cfg.Learning.ContextBudgetChars,
		ProgressIncrement:  cfg.Learning.ProgressIncrement,
		MasteryRate:        cfg.Learning.MasteryRate,
		LowMastery:         cfg.Learning.LowMastery,
		MasteredThreshold:  cfg.Learning.MasteredThreshold,
		AllowWebLookup:     cfg.Tools.WebLookupEnabled,
		Location:           cfg.Location(),
	}, tutor.Deps{
		Sessions:   sessions,
		Profiles:   db,
		Graph:      aggregator,
		Detector:   detector,
		Dispatcher: dispatcher,
		Reasoner:   reasoner,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("initialize orchestrator: %w", err)
	}

	// Handlers.
	limiter := api.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	defer limiter.Stop()

	conns := chat.NewConnManager()
	defer conns.CloseAll()

	tutorHandler := api.NewTutorHandler(orch, aggregator, detector, limiter)
	healthHandler := api.NewHealthHandler(db, reasoner, cfg.Timeout.HealthCheck)
	chatHandler := chat.NewHandler(orch, conns, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(allowedOrigins(cfg)))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	healthHandler.RegisterHealth(r)
	tutorHandler.RegisterRoutes(r)
	chatHandler.RegisterRoutes(r)

	// Serve the embedded chat page (catch-all).
	r.Handle("/*", web.Handler())

	// WebSocket chats hold their connection open, so no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	sweepDone := store.StartSweeper(sweepCtx, sessions, cfg.Learning.SweepInterval, func(learnerID string) {
		conns.CloseLearner(learnerID, "session expired")
	})
	defer func() {
		stopSweep()
		<-sweepDone
	}()

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for shutdown signal.
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeout.Shutdown)
	defer cancel()

	conns.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("Server stopped successfully")
	return nil
}

func allowedOrigins(cfg *config.Config) []string {
	if cfg.IsDevelopment() || cfg.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}
