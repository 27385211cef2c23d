package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/triage-review-server/internal/api"
	"github.com/triage-review-server/internal/archive"
	"github.com/triage-review-server/internal/audit"
	"github.com/triage-review-server/internal/cache"
	"github.com/triage-review-server/internal/config"
	"github.com/triage-review-server/internal/database"
	"github.com/triage-review-server/internal/domain"
	"github.com/triage-review-server/internal/events"
	"github.com/triage-review-server/internal/logging"
	"github.com/triage-review-server/internal/notify"
	"github.com/triage-review-server/internal/repository"
	"github.com/triage-review-server/internal/service"
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
	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
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
		"environment": cfg.Environment,
		"host":        cfg.Server.Host,
		"port":        cfg.Server.Port,
	}).Info("Starting triage review server")

	if err := run(ctx, configManager, logger); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}

	logger.Info("Server stopped")
}

func run(ctx context.Context, configManager *config.Manager, logger *logrus.Logger) error {
	cfg := configManager.GetConfig()
	databaseURL := configManager.GetDatabaseURL()

	// Database and schema
	db, err := database.NewConnection(ctx, database.ConfigFromDomain(cfg.Database), logger)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	if err := migrate(ctx, databaseURL, cfg.Database.MigrationsPath, logger); err != nil {
		return err
	}

	patients := repository.NewPatientRepository(db.Pool, logger)
	tasks := repository.NewTaskRepository(db.Pool, logger)
	reviews := repository.NewPeerReviewRepository(db.Pool, logger)

	auditStore, err := audit.NewPostgresStoreFromURL(databaseURL)
	if err != nil {
		return fmt.Errorf("opening audit store: %w", err)
	}
	defer auditStore.Close()

	health := map[string]api.HealthChecker{"postgres": db}

	// Task list cache
	var taskCache domain.TaskListCache
	if cfg.Cache.Enabled {
		redisCache, err := cache.NewTaskCache(ctx, cfg.Cache, logger)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer redisCache.Close()
		taskCache = redisCache
		health["redis"] = redisCache
	}

	// Event bus
	topics := events.TopicsFromConfig(cfg.Messaging.Topics)
	var (
		publisher  events.Publisher
		subscriber events.Subscriber
		consumer   *events.KafkaSubscriber
	)
	if cfg.Messaging.Enabled {
		kafkaPublisher := events.NewKafkaPublisher(cfg.Messaging.Brokers, logger)
		defer kafkaPublisher.Close()
		consumer = events.NewKafkaSubscriber(cfg.Messaging.Brokers, cfg.Messaging.GroupID, logger)
		publisher, subscriber = kafkaPublisher, consumer
	} else {
		bus := events.NewMemoryBus(logger)
		publisher, subscriber = bus, bus
	}

	// Sealed review observers
	hub := notify.NewHub(logger)
	defer hub.Close()

	observers := []domain.ReviewObserver{hub, events.NewSealedPublisher(publisher, topics.ReviewSealed)}
	if cfg.Archive.Enabled {
		client, err := archive.NewS3Client(ctx, cfg.Archive)
		if err != nil {
			return fmt.Errorf("creating S3 client: %w", err)
		}
		archiver, err := archive.NewS3Archiver(client, cfg.Archive, auditStore, logger)
		if err != nil {
			return fmt.Errorf("creating archiver: %w", err)
		}
		observers = append(observers, archiver)
	}

	// Services
	directory, err := service.NewClinicianDirectory(patients, cfg.Routing.DefaultClinician, cfg.Routing.ClinicianCacheSize, logger)
	if err != nil {
		return fmt.Errorf("creating clinician directory: %w", err)
	}
	intake := service.NewIntakeService(patients, directory, publisher, auditStore, cfg.Breaker, topics, logger)
	router := service.NewTaskRouter(tasks, taskCache, publisher, auditStore, cfg.Routing, topics, logger)
	engine := service.NewVerdictEngine(reviews, patients, auditStore, cfg.Review, logger, observers...)
	defer engine.Wait()

	subscriber.Subscribe(topics.UrgentIntake, router.HandleUrgentIntake)
	subscriber.Subscribe(topics.TaskCompleted, engine.HandleTaskCompleted)
	if consumer != nil {
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.WithError(err).Error("Kafka subscriber stopped")
			}
		}()
	}

	server, err := api.NewServer(cfg, api.Dependencies{
		Intake:        intake,
		Router:        router,
		Engine:        engine,
		Clinicians:    patients,
		Directory:     directory,
		Notifications: hub,
		Health:        health,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating HTTP server: %w", err)
	}

	return server.Start(ctx)
}

func migrate(ctx context.Context, databaseURL, migrationsPath string, logger *logrus.Logger) error {
	runner, err := database.NewMigrationRunner(databaseURL, migrationsPath, logger)
	if err != nil {
		return fmt.Errorf("creating migration runner: %w", err)
	}
	defer runner.Close()

	if err := runner.Up(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}
