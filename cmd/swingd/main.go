package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/mohamedkhairy/swing-detector/internal/api"
	"github.com/mohamedkhairy/swing-detector/internal/config"
	"github.com/mohamedkhairy/swing-detector/internal/detector"
	"github.com/mohamedkhairy/swing-detector/internal/models"
	"github.com/mohamedkhairy/swing-detector/internal/pubsub"
	"github.com/mohamedkhairy/swing-detector/internal/storage"
	"github.com/mohamedkhairy/swing-detector/internal/swing"
	"github.com/mohamedkhairy/swing-detector/pkg/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const serviceName = "swing-detector"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Init(cfg.LogLevel, cfg.Environment, serviceName); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	d := cfg.Detector
	logger.Info("Starting swing detector service",
		logger.String("worker_id", d.WorkerID),
		logger.Int("worker_index", d.WorkerIndex),
		logger.Int("worker_count", d.WorkerCount),
		logger.Int("reverse_bars", d.ReverseBarsCount),
		logger.String("bar_stream", d.BarStream),
		logger.String("context_store", d.ContextStore),
	)

	// Initialize Redis client
	redisClient, err := pubsub.NewRedisClient(cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to initialize Redis client", logger.ErrorField(err))
	}
	defer redisClient.Close()

	// Initialize Postgres store
	dbStore, err := storage.NewPostgresStore(cfg.Database, storage.WriteConfigFromConfig(cfg.SwingWrite))
	if err != nil {
		logger.Fatal("Failed to initialize Postgres store", logger.ErrorField(err))
	}
	defer dbStore.Close()

	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = dbStore.Migrate(migrateCtx)
	migrateCancel()
	if err != nil {
		logger.Fatal("Failed to apply schema", logger.ErrorField(err))
	}

	// Start swing write queue processor
	if err := dbStore.Start(); err != nil {
		logger.Fatal("Failed to start Postgres store", logger.ErrorField(err))
	}
	defer dbStore.Stop()

	contexts := contextStore(d, redisClient, dbStore)

	publisherConfig := pubsub.DefaultPublisherConfig(d.SwingStream)
	publisherConfig.Channel = d.SwingChannel
	publisher := pubsub.NewSwingPublisher(redisClient, publisherConfig)

	partitions, err := detector.NewPartitionManager(d.WorkerIndex, d.WorkerCount)
	if err != nil {
		logger.Fatal("Failed to create partition manager", logger.ErrorField(err))
	}

	managerConfig := detector.ManagerConfig{
		Worker: detector.WorkerConfig{
			Engine:          engineConfig(d),
			HistoryCapacity: d.HistoryCapacity,
			CheckpointEvery: d.CheckpointEvery,
			InboxSize:       d.InboxSize,
			RecordBars:      d.RecordBars,
		},
		Rehydrate:          d.RehydrateOnRun,
		SwingPreload:       d.SwingPreload,
		RehydrationTimeout: 30 * time.Second,
	}
	manager, err := detector.NewManager(managerConfig, detector.Deps{
		Contexts: contexts,
		Bars:     dbStore,
		Swings:   dbStore,
		Sink: detector.MultiSink{
			detector.StorageSink{Store: dbStore},
			detector.PublisherSink{Publisher: publisher},
		},
		OnError: func(key models.SeriesKey, err error) {
			logger.CountError(serviceName, "engine")
		},
	}, partitions)
	if err != nil {
		logger.Fatal("Failed to create worker manager", logger.ErrorField(err))
	}

	if keys := preloadKeys(d); len(keys) > 0 {
		started := manager.Preload(context.Background(), keys)
		logger.Info("Preloaded series workers",
			logger.Int("configured", len(keys)),
			logger.Int("started", started),
		)
	}

	// Initialize bar consumer
	consumerConfig := pubsub.DefaultBarConsumerConfig(
		d.BarStream,
		d.ConsumerGroup,
		fmt.Sprintf("%s-%d", d.WorkerID, os.Getpid()),
	)
	if d.WorkerCount > 1 {
		// each process reads only its own partition stream
		consumerConfig.StreamName = pubsub.PartitionStream(d.BarStream, d.WorkerIndex)
	}
	consumerConfig.BatchSize = d.BatchSize

	consumer := pubsub.NewBarConsumer(redisClient, manager, consumerConfig)
	if err := consumer.Start(); err != nil {
		logger.Fatal("Failed to start bar consumer", logger.ErrorField(err))
	}

	logger.Info("Swing detector service started",
		logger.String("stream", consumerConfig.StreamName),
		logger.String("consumer_group", consumerConfig.ConsumerGroup),
	)

	// Setup health, metrics and series API server
	var wg sync.WaitGroup
	router := setupHealthAndMetricsServer(consumer, manager, dbStore)
	api.NewSeriesHandler(manager, dbStore).RegisterRoutes(router)
	healthServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", d.HealthCheckPort),
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("Starting health and metrics server", logger.Int("port", d.HealthCheckPort))
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Health and metrics server failed", logger.ErrorField(err))
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutting down swing detector service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Health server shutdown failed", logger.ErrorField(err))
	}
	wg.Wait()

	// Stop reading before draining workers so every acked bar is processed
	// and checkpointed.
	consumer.Stop()
	manager.Stop()

	logger.Info("Swing detector service stopped")
}

func engineConfig(d config.DetectorConfig) swing.Config {
	return swing.Config{
		ReverseBarsCount: d.ReverseBarsCount,
		Variant: swing.Variant{
			DuplicateGuard: d.DuplicateGuard,
			PriceSource:    swing.PriceSource(d.PriceSource),
			RetroWindow:    d.RetroWindow,
		},
	}
}

func contextStore(d config.DetectorConfig, redisClient storage.RedisClient, db *storage.PostgresStore) storage.ContextStorage {
	switch d.ContextStore {
	case "postgres":
		return db
	case "memory":
		return storage.NewMemoryContextStore(d.MaxCheckpoints)
	default:
		return pubsub.NewRedisContextStore(redisClient, d.ContextTTL, d.MaxCheckpoints)
	}
}

// preloadKeys is the cross product of the configured instruments and
// timeframes. Invalid entries are logged and skipped.
func preloadKeys(d config.DetectorConfig) []models.SeriesKey {
	var keys []models.SeriesKey
	for _, tfCode := range d.Timeframes {
		tf, err := models.ParseTimeframe(tfCode)
		if err != nil {
			logger.Warn("Skipping invalid timeframe", logger.String("timeframe", tfCode))
			continue
		}
		for _, instrument := range d.Instruments {
			key, err := models.NewSeriesKey(instrument, tf)
			if err != nil {
				logger.Warn("Skipping invalid instrument", logger.String("instrument", instrument))
				continue
			}
			keys = append(keys, key)
		}
	}
	return keys
}

// setupHealthAndMetricsServer sets up HTTP endpoints for health checks and metrics
func setupHealthAndMetricsServer(
	consumer *pubsub.BarConsumer,
	manager *detector.Manager,
	dbStore *storage.PostgresStore,
) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		healthStatus := map[string]interface{}{
			"status":    "UP",
			"service":   serviceName,
			"timestamp": time.Now().UTC(),
			"checks": map[string]interface{}{
				"consumer": map[string]interface{}{
					"running": consumer.IsRunning(),
					"stats":   consumer.GetStats(),
				},
				"workers": map[string]interface{}{
					"count": manager.WorkerCount(),
				},
				"database": map[string]interface{}{
					"running": dbStore.IsRunning(),
				},
			},
		}

		if !consumer.IsRunning() || !dbStore.IsRunning() {
			status = http.StatusServiceUnavailable
			healthStatus["status"] = "DOWN"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(healthStatus)
	}).Methods("GET")

	// Readiness check
	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if consumer.IsRunning() && dbStore.IsRunning() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("READY"))
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("NOT READY"))
		}
	}).Methods("GET")

	// Liveness check
	router.HandleFunc("/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("LIVE"))
	}).Methods("GET")

	router.Handle("/metrics", promhttp.Handler())

	return router
}
