package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	cfgPkg "datasweep/config"
	"datasweep/internal/ai"
	"datasweep/internal/database"
	handlerPkg "datasweep/internal/handler"
	"datasweep/internal/match"
	metricsPkg "datasweep/internal/metrics"
	providerPkg "datasweep/internal/provider"
	"datasweep/internal/ratelimit"
	"datasweep/internal/repository"
	"datasweep/internal/router"
	"datasweep/internal/scan"
)

func main() {
	// Configure logging
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)

	logrus.Info("Starting Datasweep Service")

	// Load configuration
	cfg, err := cfgPkg.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("Configuration validation failed: %v", err)
	}

	// Initialize database
	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		logrus.Fatalf("Failed to initialize database: %v", err)
	}
	repo := repository.New(db)

	// Initialize metrics
	metrics := metricsPkg.NewMetrics()

	// Initialize mail provider
	var provider providerPkg.Provider
	if cfg.Gmail.UseIMAP {
		provider = providerPkg.NewIMAPProvider(&cfg.Gmail)
		logrus.Info("Using IMAP for mailbox access")
	} else {
		provider = providerPkg.NewGmailProvider(&cfg.Gmail)
		logrus.Info("Using Gmail API for mailbox access")
	}

	// Initialize AI reclassification when configured
	var classifier ai.ThreadClassifier
	if cfg.Gemini.APIKey != "" {
		classifier = ai.NewGeminiClassifier(&cfg.Gemini)
		logrus.WithField("model", cfg.Gemini.Model).Info("AI reclassification enabled")
	}

	// Initialize response matching and scan orchestration
	matcher := match.New(repo, classifier)
	limiter := ratelimit.New(&cfg.RateLimit)
	orchestrator := scan.New(cfg, repo, provider, limiter, matcher, metrics)

	// Initialize HTTP handlers
	handlers := handlerPkg.NewHandlers(repo, orchestrator, matcher)

	// Setup HTTP server
	r := router.SetupRouter(handlers)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start scan workers and periodic response scan
	orchestrator.Start(context.Background())

	// Start HTTP server in a goroutine
	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")

	// Create shutdown context with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop scan workers; running jobs finish their current batch
	orchestrator.Stop()

	// Shutdown HTTP server
	if err := server.Shutdown(ctx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	// Close provider connections
	if err := provider.Close(); err != nil {
		logrus.Errorf("Failed to close mail provider: %v", err)
	}

	logrus.Info("Server stopped gracefully")
}
