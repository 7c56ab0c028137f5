package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/lab-analysis-server/internal/analysis"
	"github.com/lab-analysis-server/internal/api"
	"github.com/lab-analysis-server/internal/config"
	"github.com/lab-analysis-server/internal/database"
	"github.com/lab-analysis-server/internal/domain"
	"github.com/lab-analysis-server/internal/extraction"
	"github.com/lab-analysis-server/internal/reference"
	"github.com/lab-analysis-server/internal/repository"
	"github.com/lab-analysis-server/internal/store"
	"github.com/lab-analysis-server/pkg/providers"
)

func main() {
	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	logger := newLogger(cfg.Logging)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Select the persistence backend
	resultStore, cleanup, err := newResultStore(ctx, configManager, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize result store")
	}
	defer cleanup()

	// Build the analysis providers with circuit breakers and optional
	// shared result cache
	var cache *providers.ResultCache
	if cfg.Cache.Enabled {
		cache, err = providers.NewResultCache(cfg.Cache)
		if err != nil {
			logger.WithError(err).Warn("Result cache unavailable, continuing without it")
			cache = nil
		} else {
			defer cache.Close()
		}
	}

	primary := providers.NewResilientProvider(
		providers.NewChatProvider("primary", cfg.Providers.Primary, logger), cache, logger)
	research1 := providers.NewResilientProvider(
		providers.NewGeminiProvider("research", cfg.Providers.Research1, logger), cache, logger)
	research2 := providers.NewResilientProvider(
		providers.NewChatProvider("research", cfg.Providers.Research2, logger), cache, logger)

	// Assemble the pipeline
	lookup := reference.NewLookup(logger)
	extractor := extraction.NewService(logger, lookup)
	tasks := analysis.NewTaskRegistry(logger)
	orchestrator := analysis.NewOrchestrator(
		logger,
		primary,
		[]domain.AnalysisProvider{research1, research2},
		resultStore,
		tasks,
	)

	breakers := []api.BreakerStatus{primary, research1, research2}
	server, err := api.NewServer(logger, cfg, extractor, orchestrator, resultStore, breakers, cache)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create server")
	}

	logger.WithFields(logrus.Fields{
		"host":    cfg.Server.Host,
		"port":    cfg.Server.Port,
		"backend": cfg.Store.Backend,
	}).Info("Starting lab analysis server")

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down")
		cancel()
	}()

	// Start server
	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}

	logger.Info("Server stopped")
}

// newLogger builds the process logger from configuration.
func newLogger(cfg domain.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	logger.SetOutput(os.Stdout)
	return logger
}

// newResultStore opens the configured persistence backend and returns it
// together with a cleanup function.
func newResultStore(ctx context.Context, configManager *config.Manager, logger *logrus.Logger) (domain.ResultStore, func(), error) {
	cfg := configManager.GetConfig()

	switch cfg.Store.Backend {
	case "postgres":
		db, err := database.NewConnection(ctx, cfg.Database, logger)
		if err != nil {
			return nil, nil, err
		}

		runner, err := database.NewMigrationRunner(
			configManager.GetDatabaseConnectionString(), cfg.Database.MigrationsPath, logger)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		if err := runner.Up(); err != nil {
			runner.Close()
			db.Close()
			return nil, nil, err
		}
		runner.Close()

		repo := repository.NewResultRepository(db.Pool, logger)
		return repo, func() { db.Close() }, nil

	default:
		s, err := store.NewSQLiteStore(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	}
}
