package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the swing detector service
type Config struct {
	// Common
	Environment string
	LogLevel    string

	Database   DatabaseConfig
	Redis      RedisConfig
	Detector   DetectorConfig
	SwingWrite WriteConfig
	Gateway    GatewayConfig
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConnections  int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DSN returns the lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// DetectorConfig holds swing detector worker configuration
type DetectorConfig struct {
	HealthCheckPort int
	WorkerID        string
	// WorkerIndex selects the bar stream partition this process owns when
	// WorkerCount > 1.
	WorkerIndex int
	WorkerCount int

	ReverseBarsCount int
	DuplicateGuard   bool
	PriceSource      string // "anchor_bar" or "working_price"
	RetroWindow      int

	// HistoryCapacity is the bar window kept per series; raised to the
	// engine minimum when lower.
	HistoryCapacity int
	CheckpointEvery int
	InboxSize       int
	SwingPreload    int

	BarStream      string
	ConsumerGroup  string
	BatchSize      int
	SwingStream    string
	SwingChannel   string
	ContextStore   string // "redis", "postgres" or "memory"
	ContextTTL     time.Duration
	MaxCheckpoints int
	Instruments    []string
	Timeframes     []string
	RehydrateOnRun bool
	// RecordBars writes every consumed bar to Postgres so rehydration and
	// rollback can rebuild history.
	RecordBars bool
}

// WriteConfig holds the asynchronous swing write queue configuration
type WriteConfig struct {
	BatchSize  int
	Interval   time.Duration
	QueueSize  int
	MaxRetries int
	RetryDelay time.Duration
}

// GatewayConfig holds WebSocket gateway configuration
type GatewayConfig struct {
	Port           int
	JWTSecret      string // empty allows anonymous connections
	MaxConnections int
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	ConsumerGroup  string
	SendBuffer     int
}

// Load loads configuration from environment variables
// It automatically loads .env file if it exists in the current directory
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "postgres"),
			Database:        getEnv("DB_NAME", "swings"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxConnections:  getEnvAsInt("DB_MAX_CONNECTIONS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Host:         getEnv("REDIS_HOST", "localhost"),
			Port:         getEnvAsInt("REDIS_PORT", 6379),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getEnvAsInt("REDIS_DB", 0),
			PoolSize:     getEnvAsInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvAsInt("REDIS_MIN_IDLE_CONNS", 5),
		},
		Detector: DetectorConfig{
			HealthCheckPort:  getEnvAsInt("DETECTOR_HEALTH_PORT", 8095),
			WorkerID:         getEnv("DETECTOR_WORKER_ID", "worker-1"),
			WorkerIndex:      getEnvAsInt("DETECTOR_WORKER_INDEX", 0),
			WorkerCount:      getEnvAsInt("DETECTOR_WORKER_COUNT", 1),
			ReverseBarsCount: getEnvAsInt("DETECTOR_REVERSE_BARS", 3),
			DuplicateGuard:   getEnvAsBool("DETECTOR_DUPLICATE_GUARD", true),
			PriceSource:      getEnv("DETECTOR_PRICE_SOURCE", "anchor_bar"),
			RetroWindow:      getEnvAsInt("DETECTOR_RETRO_WINDOW", 0),
			HistoryCapacity:  getEnvAsInt("DETECTOR_HISTORY_CAPACITY", 500),
			CheckpointEvery:  getEnvAsInt("DETECTOR_CHECKPOINT_EVERY", 1),
			InboxSize:        getEnvAsInt("DETECTOR_INBOX_SIZE", 256),
			SwingPreload:     getEnvAsInt("DETECTOR_SWING_PRELOAD", 10),
			BarStream:        getEnv("DETECTOR_BAR_STREAM", "bars.finalized"),
			ConsumerGroup:    getEnv("DETECTOR_CONSUMER_GROUP", "swing-detector"),
			BatchSize:        getEnvAsInt("DETECTOR_BATCH_SIZE", 100),
			SwingStream:      getEnv("DETECTOR_SWING_STREAM", "swings.detected"),
			SwingChannel:     getEnv("DETECTOR_SWING_CHANNEL", "swings.updates"),
			ContextStore:     getEnv("DETECTOR_CONTEXT_STORE", "redis"),
			ContextTTL:       getEnvAsDuration("DETECTOR_CONTEXT_TTL", 7*24*time.Hour),
			MaxCheckpoints:   getEnvAsInt("DETECTOR_MAX_CHECKPOINTS", 100),
			Instruments:      getEnvAsStringSlice("DETECTOR_INSTRUMENTS", []string{}),
			Timeframes:       getEnvAsStringSlice("DETECTOR_TIMEFRAMES", []string{}),
			RehydrateOnRun:   getEnvAsBool("DETECTOR_REHYDRATE_ON_START", true),
			RecordBars:       getEnvAsBool("DETECTOR_RECORD_BARS", true),
		},
		SwingWrite: WriteConfig{
			BatchSize:  getEnvAsInt("SWING_DB_WRITE_BATCH_SIZE", 100),
			Interval:   getEnvAsDuration("SWING_DB_WRITE_INTERVAL", 1*time.Second),
			QueueSize:  getEnvAsInt("SWING_DB_WRITE_QUEUE_SIZE", 1000),
			MaxRetries: getEnvAsInt("SWING_DB_MAX_RETRIES", 3),
			RetryDelay: getEnvAsDuration("SWING_DB_RETRY_DELAY", 100*time.Millisecond),
		},
		Gateway: GatewayConfig{
			Port:           getEnvAsInt("GATEWAY_PORT", 8096),
			JWTSecret:      getEnv("GATEWAY_JWT_SECRET", ""),
			MaxConnections: getEnvAsInt("GATEWAY_MAX_CONNECTIONS", 1000),
			PingInterval:   getEnvAsDuration("GATEWAY_PING_INTERVAL", 30*time.Second),
			ReadTimeout:    getEnvAsDuration("GATEWAY_READ_TIMEOUT", 60*time.Second),
			WriteTimeout:   getEnvAsDuration("GATEWAY_WRITE_TIMEOUT", 10*time.Second),
			ConsumerGroup:  getEnv("GATEWAY_CONSUMER_GROUP", "swing-gateway"),
			SendBuffer:     getEnvAsInt("GATEWAY_SEND_BUFFER", 256),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("DB_HOST is required")
	}
	if c.Redis.Host == "" {
		return fmt.Errorf("REDIS_HOST is required")
	}
	d := c.Detector
	if d.ReverseBarsCount < 1 {
		return fmt.Errorf("DETECTOR_REVERSE_BARS must be at least 1")
	}
	if d.WorkerCount < 1 {
		return fmt.Errorf("DETECTOR_WORKER_COUNT must be at least 1")
	}
	if d.WorkerIndex < 0 || d.WorkerIndex >= d.WorkerCount {
		return fmt.Errorf("DETECTOR_WORKER_INDEX must be in [0, %d), got %d", d.WorkerCount, d.WorkerIndex)
	}
	if d.HistoryCapacity < 1 || d.InboxSize < 1 || d.CheckpointEvery < 1 {
		return fmt.Errorf("DETECTOR_HISTORY_CAPACITY, DETECTOR_INBOX_SIZE and DETECTOR_CHECKPOINT_EVERY must be positive")
	}
	switch d.PriceSource {
	case "anchor_bar", "working_price":
	default:
		return fmt.Errorf("DETECTOR_PRICE_SOURCE must be anchor_bar or working_price, got %q", d.PriceSource)
	}
	switch d.ContextStore {
	case "redis", "postgres", "memory":
	default:
		return fmt.Errorf("DETECTOR_CONTEXT_STORE must be redis, postgres or memory, got %q", d.ContextStore)
	}
	if c.SwingWrite.BatchSize < 1 || c.SwingWrite.QueueSize < 1 {
		return fmt.Errorf("SWING_DB_WRITE_BATCH_SIZE and SWING_DB_WRITE_QUEUE_SIZE must be positive")
	}
	g := c.Gateway
	if g.MaxConnections < 1 || g.SendBuffer < 1 {
		return fmt.Errorf("GATEWAY_MAX_CONNECTIONS and GATEWAY_SEND_BUFFER must be positive")
	}
	if g.PingInterval <= 0 || g.PingInterval >= g.ReadTimeout {
		return fmt.Errorf("GATEWAY_PING_INTERVAL must be positive and shorter than GATEWAY_READ_TIMEOUT")
	}
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return boolValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return duration
}

func getEnvAsStringSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
