// agentchat - multi-tenant chat server with self-improving agents
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ashureev/agentchat/internal/api"
	"github.com/ashureev/agentchat/internal/chat"
	"github.com/ashureev/agentchat/internal/config"
	"github.com/ashureev/agentchat/internal/domain"
	"github.com/ashureev/agentchat/internal/identity"
	"github.com/ashureev/agentchat/internal/llm"
	"github.com/ashureev/agentchat/internal/middleware"
	"github.com/ashureev/agentchat/internal/notify"
	"github.com/ashureev/agentchat/internal/selfimprove"
	"github.com/ashureev/agentchat/internal/shared"
	"github.com/ashureev/agentchat/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := cfg.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath, shared.RetryPolicy{
		MaxRetries: cfg.Retry.DatabaseMaxRetries,
		BaseDelay:  cfg.Retry.DatabaseRetryBaseDelay,
	})
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	seeded, err := repo.SeedDefaultAgents(context.Background(), domain.DefaultAgents())
	if err != nil {
		slog.Error("Failed to seed default agents", "error", err)
		os.Exit(1)
	}
	if seeded > 0 {
		slog.Info("Default agents seeded", "count", seeded)
	}

	completer, err := llm.NewFromConfig(context.Background(), cfg.LLM, logger)
	if err != nil {
		slog.Error("Failed to initialize LLM providers", "error", err)
		os.Exit(1)
	}

	// Initialize services.
	hub := notify.NewHub(256, 100, logger)
	svc := selfimprove.NewService(repo, completer, cfg.SelfImprove, logger)
	orchestrator := selfimprove.NewOrchestrator(svc, hub, logger)
	chatSvc := chat.NewService(repo, completer, orchestrator, logger)
	analyzeLimiter := api.NewRateLimiter(cfg.RateLimit.AnalyzeRequests, cfg.RateLimit.AnalyzeWindow)

	// Initialize handlers.
	healthHandler := api.NewHealthHandler(repo)
	selfImproveHandler := api.NewSelfImproveHandler(svc, analyzeLimiter, notify.NewStreamHandler(hub, logger), logger)
	agentHandler := api.NewAgentHandler(repo, logger)
	conversationHandler := api.NewConversationHandler(repo, chatSvc, logger)
	wsHandler := notify.NewWebSocketHandler(hub, wsOriginPatterns(cfg), logger)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.CORSOrigins))

	// Public routes.
	healthHandler.RegisterHealth(r)

	// Everything else is scoped to the anonymous device identity.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))
		selfImproveHandler.RegisterRoutes(r)
		agentHandler.RegisterRoutes(r)
		conversationHandler.RegisterRoutes(r)
		r.Get("/ws/approvals", wsHandler.ServeHTTP)
	})

	// Note: SSE connections require long timeouts (no WriteTimeout)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error { return analyzeLimiter.Run(gctx) })
	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server stopped with error", "error", err)
		orchestrator.Wait()
		os.Exit(1)
	}

	// Let in-flight analyses finish before the database closes.
	orchestrator.Wait()
	slog.Info("Server stopped successfully")
}

// wsOriginPatterns maps CORS origins to websocket host patterns.
func wsOriginPatterns(cfg *config.Config) []string {
	if cfg.IsDevelopment() {
		return []string{"*"}
	}
	patterns := make([]string, 0, len(cfg.CORSOrigins))
	for _, origin := range cfg.CORSOrigins {
		if origin == "*" {
			return []string{"*"}
		}
		origin = strings.TrimPrefix(origin, "https://")
		origin = strings.TrimPrefix(origin, "http://")
		patterns = append(patterns, origin)
	}
	return patterns
}
