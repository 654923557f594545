package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/akaeyuhi/SwiftE-commerce-sub000/internal/config"
	"github.com/akaeyuhi/SwiftE-commerce-sub000/internal/consumer"
	"github.com/akaeyuhi/SwiftE-commerce-sub000/internal/db"
	"github.com/akaeyuhi/SwiftE-commerce-sub000/internal/events"
	"github.com/akaeyuhi/SwiftE-commerce-sub000/internal/metrics"
	"github.com/akaeyuhi/SwiftE-commerce-sub000/internal/stock"
	"github.com/akaeyuhi/SwiftE-commerce-sub000/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log := logger.NewLogger(cfg.ServiceName, cfg.LogLevel)
	defer log.Sync()

	log.Info("Stock service starting")

	// Connect to database
	log.Info("Connecting to database...")
	database, err := db.Connect(cfg.PGDSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	// Run migrations
	log.Info("Running database migrations...")
	if err := db.RunMigrations(database); err != nil {
		log.Fatal("Failed to run migrations", zap.Error(err))
	}

	// Connect to RabbitMQ
	log.Info("Connecting to RabbitMQ")
	publisher, err := events.NewPublisher(cfg.RabbitMQURL, log)
	if err != nil {
		log.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}
	defer publisher.Close()

	// Build the reservation core
	m := metrics.New(cfg.ServiceName)
	watcher := stock.NewWatcher(database, publisher, m, log)
	ledger := stock.NewLedger(database, watcher, cfg.LockTimeout, log)
	coordinator := stock.NewCoordinator(database, ledger, watcher, m, log)
	restorer := stock.NewRestorer(database, ledger, watcher, m, log)

	// Start consuming order events
	orderConsumer, err := consumer.NewConsumer(cfg.RabbitMQURL, cfg.ServiceName, coordinator, restorer, publisher, m, log)
	if err != nil {
		log.Fatal("Failed to initialize event consumer", zap.Error(err))
	}
	defer orderConsumer.Close()

	go func() {
		if err := orderConsumer.Start(); err != nil {
			log.Error("Consumer error", zap.Error(err))
		}
	}()
	log.Info("Event consumer started")

	// Start HTTP server for health checks and metrics
	httpMux := http.NewServeMux()
	httpMux.HandleFunc("/healthz", healthHandler(database, publisher, log))
	httpMux.Handle("/metrics", m.Handler())

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.HTTPHealthPort),
		Handler:      httpMux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("Starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to serve HTTP", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	log.Info("Server stopped")
}

func healthHandler(database *db.DB, publisher *events.Publisher, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := database.Ping(); err != nil {
			log.Error("Database health check failed", zap.Error(err))
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("unhealthy: database connection failed"))
			return
		}

		if !publisher.IsHealthy() {
			log.Error("RabbitMQ health check failed")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("unhealthy: rabbitmq connection failed"))
			return
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	}
}
