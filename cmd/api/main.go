// Package main is the entry point for the LearnHub API server.
//
// It loads configuration, connects the PostgreSQL repository registry, wires
// the vendor adapters (Clerk for identity and billing, Vapi for voice),
// builds the HTTP server with the core chassis, and starts listening.
//
// With IS_TEST_MODE=true the vendor adapters are swapped for logging stubs
// so the full API surface can run against just a database.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
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

	"learnhub/internal/api/handlers"
	"learnhub/internal/billing"
	"learnhub/internal/config"
	"learnhub/internal/core"
	"learnhub/internal/db"
	"learnhub/internal/external"
)

// startupTimeout bounds configuration loading and the initial database
// connection. A server that cannot reach its dependencies should fail
// within seconds, not hang until an orchestrator kills it.
const startupTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig(config.NewEnvVarProvider())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("learnhub API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
		"test_mode", cfg.IsTestMode,
	)

	startupCtx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	pool, err := db.NewPool(startupCtx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}
	repos := db.NewRegistry(pool, logger)

	srv, err := core.NewServer(cfg, repos, logger)
	if err != nil {
		pool.Close()
		return fmt.Errorf("creating server: %w", err)
	}

	// Vendor adapters. Test mode swaps the real Clerk and Vapi clients for
	// logging stubs; everything downstream sees the same interfaces.
	var (
		authenticator core.Authenticator
		billingVendor external.BillingProvider
		assistants    external.AssistantService
		verifier      external.WebhookVerifier
	)
	if cfg.IsTestMode {
		authenticator = external.NewStubAuthenticator(logger)
		billingVendor = external.NewStubBillingProvider(logger)
		assistants = external.NewStubAssistantService(logger)
		verifier = external.NewStubWebhookVerifier(logger)
	} else {
		httpClient := &http.Client{Timeout: 30 * time.Second}
		clerk := external.NewClerkClient(httpClient, external.ClerkClientConfig{
			SecretKey: cfg.Clerk.SecretKey.Unmask(),
			Logger:    logger,
		})
		authenticator = clerk
		billingVendor = clerk
		assistants = external.NewVapiClient(httpClient, external.VapiClientConfig{
			SecretKey: cfg.Vapi.SecretKey.Unmask(),
			BaseURL:   cfg.Vapi.BaseURL,
			Logger:    logger,
		})
		verifier = external.NewSvixVerifier()
	}

	srv.Authenticator = authenticator
	srv.Users = repos.Users
	srv.HealthProbes = append(srv.HealthProbes, &core.DatabaseProbe{Registry: repos})

	// Billing machinery: the plan catalog, the provider-id resolver, and the
	// limit evaluator shared by the companion, session, and usage surfaces.
	catalog := billing.NewStaticCatalog()
	resolver := billing.NewResolver(catalog, logger)
	evaluator := billing.NewEvaluator(repos.Subscriptions, repos.Usage, logger)

	meHandler := handlers.NewMeHandler(repos.Users, srv.Validator, logger)
	companionHandler := handlers.NewCompanionHandler(
		repos.Companions, evaluator, assistants, srv.Validator, logger)
	sessionHandler := handlers.NewSessionHandler(
		repos.Sessions, repos.Companions, evaluator, assistants, srv.Validator, logger)
	subscriptionHandler := handlers.NewSubscriptionHandler(
		repos.Subscriptions, catalog, resolver, evaluator, billingVendor, srv.Validator, logger)
	webhookHandler := handlers.NewClerkWebhookHandler(
		cfg.Clerk.WebhookSecret.Unmask(), verifier, repos.Users, repos.Subscriptions, resolver, logger)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		meHandler.RegisterRoutes,
		companionHandler.RegisterRoutes,
		sessionHandler.RegisterRoutes,
		subscriptionHandler.RegisterRoutes,
		webhookHandler.RegisterRoutes,
	)

	srv.MountRoutes()

	return runHTTPServer(srv, cfg, logger)
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Channel to capture server errors from ListenAndServe.
	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for shutdown signal or server error.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with a 10-second deadline.
	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	// Shutdown server resources (DB pool, etc.).
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
