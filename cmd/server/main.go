package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vnstockai/chat-gateway/internal/agent"
	"github.com/vnstockai/chat-gateway/internal/catalog"
	"github.com/vnstockai/chat-gateway/internal/chat"
	"github.com/vnstockai/chat-gateway/internal/config"
	"github.com/vnstockai/chat-gateway/internal/dispatch"
	"github.com/vnstockai/chat-gateway/internal/mcp"
	"github.com/vnstockai/chat-gateway/internal/observability"
	"github.com/vnstockai/chat-gateway/internal/resilience"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("mcp_server_url", cfg.MCPServerURL).
		Str("model", cfg.OpenAIModel).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Chat Gateway Service starting")

	// Wire the orchestration core
	toolClient := mcp.NewClient(cfg)
	toolCatalog := catalog.New(toolClient, cfg.CatalogTTL, &resilience.RetryConfig{
		MaxAttempts:       cfg.RetryMaxAttempts,
		InitialBackoff:    cfg.RetryInitialBackoff,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
	})
	dispatcher := dispatch.New(toolClient, cfg.DispatchWorkers, logger)
	planner := agent.NewOpenAIPlanner(cfg)
	orchestrator := agent.NewOrchestrator(planner, dispatcher, toolCatalog)
	service := chat.NewService(orchestrator, cfg.RequestTimeout)
	handler := chat.NewHandler(service)

	// Warm the catalog; a failure here is not fatal, the first chat request
	// retries the load.
	warmCtx, warmCancel := context.WithTimeout(context.Background(), cfg.MCPTimeout)
	if err := toolCatalog.Load(warmCtx); err != nil {
		logger.Warn().Err(err).Msg("initial catalog load failed, will retry on first request")
	}
	warmCancel()

	// Router
	r := chi.NewRouter()
	r.Mount("/api/v1", handler.Routes())
	r.Get("/health", observability.HealthCheckHandler())
	r.Get("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"mcp": toolClient.HealthCheck,
		"llm": planner.HealthCheck,
	}))
	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Create HTTP server with timeouts; the write timeout leaves headroom for
	// the whole-cycle deadline.
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("http://localhost:%s/api/v1/chat", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
