// Package main is the entrypoint for the AdScope API server.
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

	"github.com/joho/godotenv"

	"github.com/adscope/adscope/internal/api"
	"github.com/adscope/adscope/internal/api/handler"
	mw "github.com/adscope/adscope/internal/api/middleware"
	"github.com/adscope/adscope/internal/config"
	"github.com/adscope/adscope/internal/engine"
	"github.com/adscope/adscope/internal/poll"
	"github.com/adscope/adscope/internal/scheduler"
	"github.com/adscope/adscope/internal/session"
	"github.com/adscope/adscope/internal/store"
	"github.com/adscope/adscope/internal/track"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config — .env for local development, then fail fast on
	// invalid values
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "engine", cfg.Engine.BaseURL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis-backed session store
	sessions, err := session.NewRedisStore(cfg.Redis.URL, cfg.Redis.SessionTTL)
	if err != nil {
		return fmt.Errorf("create session store: %w", err)
	}
	defer sessions.Close()

	if err := sessions.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Create engine client and stores
	engineClient := engine.NewHTTPClient(cfg.Engine.BaseURL, cfg.Engine.AuthToken, cfg.Engine.Timeout)
	pgStore := store.NewPostgresStore(pool)

	// 6. Tracking service owns the task watches
	tracker := track.NewService(engineClient, pgStore, sessions, poll.Config{
		Interval:             cfg.Poll.Interval,
		MaxWait:              cfg.Poll.MaxWait,
		MaxAttempts:          cfg.Poll.MaxAttempts,
		MaxConsecutiveErrors: cfg.Poll.MaxConsecutiveErrors,
	})
	defer tracker.Close()

	// 7. Recurring scrape refresh
	if cfg.Scheduler.Enabled {
		refresh, err := scheduler.New(pgStore, tracker, cfg.Scheduler.CronSpec)
		if err != nil {
			return fmt.Errorf("create scheduler: %w", err)
		}
		refresh.Start()
		defer refresh.Stop()
	}

	// 8. Build router with dependencies
	deps := api.Dependencies{
		Auth:      mw.NewAuth(pgStore),
		RateLimit: mw.NewRateLimit(sessions, cfg.RateLimit.RequestsPerMinute),

		HealthHandler: handler.NewHealthHandler(pgStore, sessions, engineClient),

		StartScrapeHandler:        handler.NewStartScrapeHandler(tracker),
		StartAdAnalysisHandler:    handler.NewStartAdAnalysisHandler(tracker),
		StartAdSetAnalysisHandler: handler.NewStartAdSetAnalysisHandler(tracker),
		StartVideoHandler:         handler.NewStartVideoHandler(tracker),
		TaskStatusHandler:         handler.NewTaskStatusHandler(tracker),
		CancelTaskHandler:         handler.NewCancelTaskHandler(tracker),

		HistoryHandler:       handler.NewHistoryHandler(tracker),
		RemoveHistoryHandler: handler.NewRemoveHistoryHandler(tracker),
		ClearHistoryHandler:  handler.NewClearHistoryHandler(tracker),

		ListAdsHandler:       handler.NewListAdsHandler(pgStore),
		GetAdAnalysisHandler: handler.NewGetAdAnalysisHandler(pgStore),

		CreateCompetitorHandler: handler.NewCreateCompetitorHandler(pgStore),
		ListCompetitorsHandler:  handler.NewListCompetitorsHandler(pgStore),
		GetCompetitorHandler:    handler.NewGetCompetitorHandler(pgStore),
		SetTrackedHandler:       handler.NewSetTrackedHandler(pgStore),
		LatestScrapeRunHandler:  handler.NewLatestScrapeRunHandler(pgStore),

		CreateKeyHandler: handler.NewCreateKeyHandler(pgStore),
		ListKeysHandler:  handler.NewListKeysHandler(pgStore),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 9. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout. Deferred tracker.Close() then stops
	// the remaining watches.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}
