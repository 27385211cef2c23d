// Package main provides the lightweight entry point for the triage review server.
// This version requires no external services: SQLite storage and an in-process event bus.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/triage-review-server/internal/api"
	"github.com/triage-review-server/internal/audit"
	"github.com/triage-review-server/internal/config"
	"github.com/triage-review-server/internal/domain"
	"github.com/triage-review-server/internal/events"
	"github.com/triage-review-server/internal/litestore"
	"github.com/triage-review-server/internal/logging"
	"github.com/triage-review-server/internal/notify"
	"github.com/triage-review-server/internal/service"
)

func main() {
	// Load lightweight configuration
	lite := config.LoadLiteConfig()
	if err := lite.EnsureDataDir(); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	cfg := lite.ToConfig()
	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	// Check for export subcommand
	if len(os.Args) > 1 && os.Args[1] == "export-audit" {
		path, err := exportAudit(context.Background(), lite)
		if err != nil {
			logger.WithError(err).Fatal("Audit export failed")
		}
		logger.WithField("path", path).Info("Audit trail exported")
		return
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	logger.WithFields(logrus.Fields{
		"data_dir": lite.DataDir,
		"port":     lite.HTTPPort,
	}).Info("Starting triage review server (lite)")

	if err := run(ctx, lite, cfg, logger); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}

	logger.Info("Triage review server (lite) stopped")
}

func run(ctx context.Context, lite *config.LiteConfig, cfg *domain.Config, logger *logrus.Logger) error {
	store, err := litestore.Open(lite.StorePath(), logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer store.Close()

	auditStore, err := audit.NewSQLiteStore(lite.AuditDBPath())
	if err != nil {
		return fmt.Errorf("opening audit store: %w", err)
	}
	defer auditStore.Close()

	topics := events.DefaultTopics()
	bus := events.NewMemoryBus(logger)

	hub := notify.NewHub(logger)
	defer hub.Close()

	directory, err := service.NewClinicianDirectory(store, cfg.Routing.DefaultClinician, cfg.Routing.ClinicianCacheSize, logger)
	if err != nil {
		return fmt.Errorf("creating clinician directory: %w", err)
	}
	intake := service.NewIntakeService(store, directory, bus, auditStore, cfg.Breaker, topics, logger)
	router := service.NewTaskRouter(store, nil, bus, auditStore, cfg.Routing, topics, logger)
	engine := service.NewVerdictEngine(store, store, auditStore, cfg.Review, logger,
		hub, events.NewSealedPublisher(bus, topics.ReviewSealed))
	defer engine.Wait()

	bus.Subscribe(topics.UrgentIntake, router.HandleUrgentIntake)
	bus.Subscribe(topics.TaskCompleted, engine.HandleTaskCompleted)

	server, err := api.NewServer(cfg, api.Dependencies{
		Intake:        intake,
		Router:        router,
		Engine:        engine,
		Clinicians:    store,
		Directory:     directory,
		Notifications: hub,
		Health:        map[string]api.HealthChecker{"sqlite": store},
	}, logger)
	if err != nil {
		return fmt.Errorf("creating HTTP server: %w", err)
	}

	return server.Start(ctx)
}

// exportAudit writes the whole audit trail to a timestamped JSON file in the export directory.
func exportAudit(ctx context.Context, lite *config.LiteConfig) (string, error) {
	auditStore, err := audit.NewSQLiteStore(lite.AuditDBPath())
	if err != nil {
		return "", fmt.Errorf("opening audit store: %w", err)
	}
	defer auditStore.Close()

	path := filepath.Join(lite.ExportDir(), fmt.Sprintf("audit-%s.json", time.Now().UTC().Format("20060102T150405Z")))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating export file: %w", err)
	}
	defer f.Close()

	if err := auditStore.ExportJSON(ctx, f); err != nil {
		return "", err
	}
	return path, f.Sync()
}
