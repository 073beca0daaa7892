// DevBridge - mediated action server for untrusted coding agents
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/ashureev/devbridge/internal/api"
	"github.com/ashureev/devbridge/internal/approval"
	"github.com/ashureev/devbridge/internal/config"
	"github.com/ashureev/devbridge/internal/dispatch"
	"github.com/ashureev/devbridge/internal/events"
	"github.com/ashureev/devbridge/internal/executor"
	"github.com/ashureev/devbridge/internal/identity"
	"github.com/ashureev/devbridge/internal/middleware"
	"github.com/ashureev/devbridge/internal/security"
	"github.com/ashureev/devbridge/internal/session"
	"github.com/ashureev/devbridge/internal/store"
	"github.com/ashureev/devbridge/web"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "executor", cfg.Executor)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize the audit store.
	repo, err := store.NewSQLite(cfg.DBPath)
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

	if removed, err := repo.CleanupSessions(context.Background(), cfg.SessionRetention); err != nil {
		slog.Error("Failed to cleanup expired sessions", "error", err)
	} else if removed > 0 {
		slog.Info("Expired session cleanup complete", "removed", removed)
	}
	store.StartRetentionWorker(ctx, repo, cfg.SessionRetention)

	// Initialize security collaborators.
	masker := security.NewMasker()
	limiter := security.NewLimiter(cfg.RateLimits)
	limiter.StartSweeper(ctx)

	sanitizerPolicy := security.SanitizerPolicy{
		AllowedCommands: cfg.AllowedCommands,
		BlockedCommands: cfg.BlockedCommands,
		AllowedPaths:    cfg.AllowedPaths,
		WorkspaceRoot:   cfg.WorkspaceRoot,
	}

	// Initialize the session registry.
	sessions := session.NewManager(session.Options{
		MaxSteps:      cfg.MaxStepsPerSession,
		WorkspaceRoot: cfg.WorkspaceRoot,
		ArtifactRoot:  cfg.ArtifactDir,
		Retention:     cfg.SessionRetention,
	})
	sessions.StartCleanupWorker(ctx)

	// Event hub and the operator approval queue. New prompts are pushed
	// to connected consoles.
	hub := events.NewHub()
	queue := approval.NewQueue(func(p approval.Prompt) {
		hub.Broadcast("approval.requested", p)
	})
	approvals := approval.NewManager(approval.Policy{
		AutoApprove:      cfg.AutoApprove,
		FileOperations:   cfg.Approval.FileOperations,
		CommandExecution: cfg.Approval.CommandExecution,
		NetworkAccess:    cfg.Approval.NetworkAccess,
		BlockedCommands:  cfg.BlockedCommands,
		AllowedPaths:     cfg.AllowedPaths,
	}, queue, masker)

	// Command runner: local shell or an exec into a running container.
	var runner executor.Runner
	if cfg.Executor == "docker" {
		containerRunner, err := executor.NewContainerRunner(ctx, cfg.DockerContainer, cfg.Shell)
		if err != nil {
			slog.Error("Failed to initialize container runner", "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := containerRunner.Close(); closeErr != nil {
				slog.Error("Failed to close container runner", "error", closeErr)
			}
		}()
		runner = containerRunner
		slog.Info("Container runner ready", "container", cfg.DockerContainer)
	} else {
		runner = &executor.ShellRunner{Shell: cfg.Shell}
	}

	commands := executor.NewCommandExecutor(runner, masker, sanitizerPolicy, cfg.CommandTimeout)
	executors := []executor.Executor{
		commands,
		executor.NewTestExecutor(commands),
		executor.NewEditExecutor(cfg.AllowedPaths),
		executor.NewPreviewExecutor(nil),
		executor.NewStatusExecutor(runner),
		executor.NewDiagnosticsExecutor(runner, cfg.DiagnosticsCommand),
		executor.NewResetExecutor(limiter),
	}

	dispatcher := dispatch.NewDispatcher(sessions, limiter, approvals, masker, repo, hub, executors)

	// Initialize handlers.
	handler := api.NewHandler(dispatcher, sessions, repo, queue, limiter, hub, cfg)
	wsHandler := events.NewWebSocketHandler(hub, dispatcher, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	corsOrigins := []string{"*"}
	if !cfg.IsDevelopment() && cfg.FrontendURL != "" {
		corsOrigins = []string{cfg.FrontendURL}
	}
	r.Use(middleware.CORS(corsOrigins))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	handler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/events", wsHandler.ServeHTTP)

	// Serve the embedded operator console.
	r.Handle("/*", web.ConsoleHandler())

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // long-running actions stream over WebSocket
		IdleTimeout:  120 * time.Second,
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server stopped")
}
