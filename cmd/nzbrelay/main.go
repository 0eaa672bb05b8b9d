package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/amaumene/nzbrelay/internal/api"
	"github.com/amaumene/nzbrelay/internal/archive"
	"github.com/amaumene/nzbrelay/internal/config"
	"github.com/amaumene/nzbrelay/internal/controllers"
	"github.com/amaumene/nzbrelay/internal/dialog"
	"github.com/amaumene/nzbrelay/internal/models"
	"github.com/amaumene/nzbrelay/internal/notify"
	"github.com/amaumene/nzbrelay/internal/scheduler"
	"github.com/amaumene/nzbrelay/internal/services/search"
	"github.com/amaumene/nzbrelay/internal/services/targets"
	"github.com/amaumene/nzbrelay/internal/utils"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// 2. Setup logger
	logger := utils.NewLogger(cfg.LogLevel)
	logger.Info("Starting nzbrelay")
	logger.WithFields(logrus.Fields{
		"engines": len(cfg.Engines),
		"targets": len(cfg.Targets),
	}).Info("Configuration loaded")

	// 3. Initialize activity log
	db, err := models.NewDatabase(cfg.DatabaseFile)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()
	logger.Info("Activity log initialized")

	// 4. Initialize collaborators
	notifier := notify.NewNotifier(notify.ParseLevel(cfg.NotificationLevel), logger)
	broker := dialog.NewBroker(logger)
	extractor := archive.NewExtractor(logger)

	// 5. Initialize search engines and targets
	fetchTimeout := time.Duration(cfg.Search.FetchTimeoutSeconds) * time.Second
	engines, err := search.NewAll(cfg.Engines, fetchTimeout, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize search engines: %w", err)
	}
	logger.WithField("count", len(engines)).Info("Search engines initialized")

	adapters, err := targets.NewAll(cfg.Targets, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize targets: %w", err)
	}
	logger.WithField("count", len(adapters)).Info("Targets initialized")

	// 6. Initialize the acquisition pipeline
	resolver := controllers.NewCategoryResolver(broker, logger)
	pipeline := controllers.NewPipeline(cfg, engines, adapters, extractor, resolver, broker, db, notifier, logger)
	logger.Info("Pipeline initialized")

	// 7. Initialize scheduler
	sched := scheduler.NewScheduler(pipeline, adapters, cfg.IncomingDir, logger)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	// 8. Initialize HTTP server
	server := api.NewServer(cfg, pipeline, adapters, broker, db, logger)
	notifier.AddSink(server.NotificationSink())

	// Reconfiguration needs a restart of engines/targets; log the change so
	// the operator knows a restart is pending.
	cfg.Watch(func(*config.Config) {
		logger.Warn("Configuration changed on disk, restart to apply")
	}, func(err error) {
		logger.WithError(err).Error("Ignoring invalid configuration change")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverErrChan := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil {
			serverErrChan <- err
		}
	}()

	// 9. Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("nzbrelay is running")

	select {
	case err := <-serverErrChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		logger.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
		if err := server.Shutdown(context.Background()); err != nil {
			logger.WithError(err).Error("Error during server shutdown")
		}
	}

	logger.Info("nzbrelay stopped")
	return nil
}
