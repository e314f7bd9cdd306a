package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/mohamedkhairy/swing-detector/internal/config"
	"github.com/mohamedkhairy/swing-detector/internal/pubsub"
	"github.com/mohamedkhairy/swing-detector/internal/wsgateway"
	"github.com/mohamedkhairy/swing-detector/pkg/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const serviceName = "swing-gateway"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.LogLevel, cfg.Environment, serviceName); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	g := cfg.Gateway
	logger.Info("Starting swing gateway service",
		logger.Int("port", g.Port),
		logger.Int("max_connections", g.MaxConnections),
		logger.String("stream", cfg.Detector.SwingStream),
		logger.Bool("auth", g.JWTSecret != ""),
	)

	redisClient, err := pubsub.NewRedisClient(cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to initialize Redis client", logger.ErrorField(err))
	}
	defer redisClient.Close()

	hostname, _ := os.Hostname()
	consumerName := fmt.Sprintf("%s-%d", hostname, os.Getpid())

	hub := wsgateway.NewHub(g, redisClient, cfg.Detector.SwingStream, consumerName)
	if err := hub.Start(); err != nil {
		logger.Fatal("Failed to start WebSocket hub", logger.ErrorField(err))
	}

	router := mux.NewRouter()
	router.HandleFunc("/ws", hub.HandleWebSocket(wsgateway.NewAuthManager(g.JWTSecret)))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status, body := http.StatusOK, "UP"
		if !hub.IsRunning() {
			status, body = http.StatusServiceUnavailable, "DOWN"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":    body,
			"service":   serviceName,
			"timestamp": time.Now().UTC(),
		})
	}).Methods("GET")

	router.HandleFunc("/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("LIVE"))
	}).Methods("GET")

	router.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(hub.GetStats())
	}).Methods("GET")

	router.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", g.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", logger.ErrorField(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutting down swing gateway service")

	// hijacked WebSocket connections are not tracked by Shutdown; the hub
	// closes them
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Error shutting down HTTP server", logger.ErrorField(err))
	}
	hub.Stop()

	logger.Info("Swing gateway service stopped")
}
