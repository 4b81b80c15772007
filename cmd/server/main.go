package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ghandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"metabolism-platform/internal/config"
	"metabolism-platform/internal/handlers"
	"metabolism-platform/internal/repository"
	"metabolism-platform/internal/sem"
	"metabolism-platform/internal/services"
	"metabolism-platform/pkg/logging"
	"metabolism-platform/pkg/metrics"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := logging.NewStructuredLogger("metabolism-api", "1.0.0", logging.ParseLevel(cfg.Logging.Level))

	ctx := context.Background()
	logger.Info(ctx, "[STARTUP] Starting metabolism platform API server", logging.Fields{
		"version":        "1.0.0",
		"server_host":    cfg.Server.Host,
		"server_port":    cfg.Server.Port,
		"storage_driver": cfg.Storage.Driver,
		"parallel_fits":  cfg.Analysis.Parallel,
	})

	// Initialize metrics collector
	metricsCollector := metrics.NewCollector("metabolism_platform")

	// Initialize storage backend
	repo, closeRepo, err := repository.Open(cfg, logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Failed to open storage backend", logging.Fields{
			"driver": cfg.Storage.Driver,
		}, err)
	}
	defer closeRepo()

	// Initialize services
	observationService := services.NewObservationService(repo, logger, metricsCollector)
	transformService := services.NewTransformService(repo, logger, metricsCollector)
	comparisonService := services.NewComparisonService(repo, transformService, sem.NewMLEstimator(), logger, metricsCollector, services.ComparisonOptions{
		Parallel:      cfg.Analysis.Parallel,
		MaxConcurrent: cfg.Analysis.MaxConcurrent,
	})

	// Initialize handlers
	analysisHandler := handlers.NewAnalysisHandler(observationService, transformService, comparisonService, logger, metricsCollector)

	// Setup router
	router := mux.NewRouter()

	// Register routes
	analysisHandler.RegisterRoutes(router)

	// API documentation
	router.HandleFunc("/api/docs", handlers.SwaggerUI).Methods("GET")
	router.HandleFunc("/api/docs/openapi.json", handlers.OpenAPISpec).Methods("GET")

	// Prometheus metrics endpoint
	router.Handle("/metrics", promhttp.Handler())

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      ghandlers.LoggingHandler(os.Stdout, router),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info(ctx, "[SERVER_START] HTTP server listening", logging.Fields{
			"address": server.Addr,
		})

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "[SERVER_ERROR] Server failed", logging.Fields{}, err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(ctx, "[SHUTDOWN] Shutting down server...", logging.Fields{})

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "[SHUTDOWN_ERROR] Server forced to shutdown", logging.Fields{}, err)
	}

	logger.Info(ctx, "[SHUTDOWN_COMPLETE] Server stopped", logging.Fields{})
}
