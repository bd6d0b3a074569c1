package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/offsync/opqueue/internal/api/handler"
	"github.com/offsync/opqueue/internal/api/router"
	"github.com/offsync/opqueue/internal/config"
	"github.com/offsync/opqueue/internal/events"
	"github.com/offsync/opqueue/internal/manager"
	"github.com/offsync/opqueue/internal/transport"
	"github.com/offsync/opqueue/shared/badgerstore"
	"github.com/offsync/opqueue/shared/logger"
	"github.com/offsync/opqueue/shared/postgresql"
	"github.com/offsync/opqueue/shared/rabbitmq"
)

// connectivityPollInterval is how often the broker connection state is
// sampled for the dispatch gate.
const connectivityPollInterval = 5 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("QUEUE_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/queue-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting queue service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize the snapshot store
	store, closeStore, err := initStore(cfg, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}

	appLogger.Info("Snapshot store ready",
		slog.String("backend", cfg.Persistence.Backend),
	)

	// Initialize RabbitMQ client and the syncer on top of it
	rabbitClient, err := initRabbitMQ(&cfg.Sync.RabbitMQ, appLogger.Logger)
	if err != nil {
		closeStore()
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	syncer := transport.NewRabbitSyncer(rabbitClient, appLogger.Logger)

	appLogger.Info("RabbitMQ connection established")

	// Assemble the manager and the live event stream
	bus := events.NewBus(events.DefaultBuffer, appLogger.Logger)
	hub := events.NewHub(appLogger.Logger)
	hubEvents, unsubscribe := bus.Subscribe()
	go hub.Run(hubEvents)

	mgr, err := manager.New(cfg, store, syncer, bus, appLogger.Logger)
	if err != nil {
		closeStore()
		rabbitClient.Close()
		return fmt.Errorf("failed to create queue manager: %w", err)
	}

	rootCtx := context.Background()
	if err := mgr.Start(rootCtx); err != nil {
		closeStore()
		rabbitClient.Close()
		return fmt.Errorf("failed to start queue manager: %w", err)
	}

	// Follow broker connectivity so dispatch halts while the transport
	// is down.
	watchCtx, stopWatch := context.WithCancel(rootCtx)
	go transport.WatchConnectivity(watchCtx, connectivityPollInterval, syncer.Connected, mgr.SetOnline, appLogger.Logger)

	// Initialize router
	r := initRouter(cfg.App.Environment, appLogger.Logger, mgr, hub)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	// Start server in goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Server failed to start",
				slog.Any("error", err),
			)
			os.Exit(1)
		}
	}()

	appLogger.Info("Queue service is running",
		slog.String("address", addr),
	)

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
	}

	stopWatch()

	// Stop the manager after the HTTP surface so no request races the
	// teardown; in-flight operations drain here.
	if err := mgr.Stop(); err != nil {
		appLogger.Error("Queue manager shutdown error",
			slog.Any("error", err),
		)
	}
	unsubscribe()
	rabbitClient.Close()
	closeStore()

	appLogger.Info("Shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initStore opens the configured snapshot backend and returns the
// store with its close function.
func initStore(cfg *config.Config, logger *slog.Logger) (manager.Store, func(), error) {
	switch cfg.Persistence.Backend {
	case config.BackendPostgres:
		client, err := postgresql.NewClient(&postgresql.Config{
			Host:            cfg.Persistence.Postgres.Host,
			Port:            cfg.Persistence.Postgres.Port,
			User:            cfg.Persistence.Postgres.User,
			Password:        cfg.Persistence.Postgres.Password,
			Database:        cfg.Persistence.Postgres.Database,
			SSLMode:         cfg.Persistence.Postgres.SSLMode,
			MaxOpenConns:    cfg.Persistence.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Persistence.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Persistence.Postgres.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Persistence.Postgres.ConnMaxIdleTime,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		store, err := postgresql.NewKVStore(client)
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return store, func() { client.Close() }, nil

	default:
		store, err := badgerstore.New(badgerstore.Config{
			Path:       cfg.Persistence.Badger.Path,
			InMemory:   cfg.Persistence.Badger.InMemory,
			SyncWrites: cfg.Persistence.Badger.SyncWrites,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	}
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(environment string, logger *slog.Logger, mgr *manager.Manager, hub *events.Hub) *gin.Engine {
	// Set Gin mode based on environment
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	handlerDeps := &handler.Dependencies{
		Logger:  logger,
		Manager: mgr,
		Hub:     hub,
	}

	return router.SetupRouter(handlerDeps)
}
