package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 3, cfg.Detector.ReverseBarsCount)
	assert.True(t, cfg.Detector.DuplicateGuard)
	assert.Equal(t, "anchor_bar", cfg.Detector.PriceSource)
	assert.Equal(t, "bars.finalized", cfg.Detector.BarStream)
	assert.Equal(t, 100, cfg.SwingWrite.BatchSize)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
	assert.Equal(t, 8096, cfg.Gateway.Port)
	assert.Equal(t, "swing-gateway", cfg.Gateway.ConsumerGroup)
	assert.Empty(t, cfg.Gateway.JWTSecret)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("DETECTOR_REVERSE_BARS", "5")
	t.Setenv("DETECTOR_DUPLICATE_GUARD", "false")
	t.Setenv("DETECTOR_PRICE_SOURCE", "working_price")
	t.Setenv("DETECTOR_INSTRUMENTS", "EURUSD, GBPUSD ,,")
	t.Setenv("DETECTOR_CONTEXT_TTL", "2h")
	t.Setenv("SWING_DB_WRITE_INTERVAL", "250ms")
	t.Setenv("REDIS_PORT", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Detector.ReverseBarsCount)
	assert.False(t, cfg.Detector.DuplicateGuard)
	assert.Equal(t, "working_price", cfg.Detector.PriceSource)
	assert.Equal(t, []string{"EURUSD", "GBPUSD"}, cfg.Detector.Instruments)
	assert.Equal(t, 2*time.Hour, cfg.Detector.ContextTTL)
	assert.Equal(t, 250*time.Millisecond, cfg.SwingWrite.Interval)
	assert.Equal(t, 6379, cfg.Redis.Port, "invalid ints fall back to the default")
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("DETECTOR_REVERSE_BARS", "0")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load()
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing db host", func(c *Config) { c.Database.Host = "" }},
		{"missing redis host", func(c *Config) { c.Redis.Host = "" }},
		{"no workers", func(c *Config) { c.Detector.WorkerCount = 0 }},
		{"worker index out of range", func(c *Config) { c.Detector.WorkerIndex = c.Detector.WorkerCount }},
		{"zero inbox", func(c *Config) { c.Detector.InboxSize = 0 }},
		{"bad price source", func(c *Config) { c.Detector.PriceSource = "close" }},
		{"bad context store", func(c *Config) { c.Detector.ContextStore = "etcd" }},
		{"zero write batch", func(c *Config) { c.SwingWrite.BatchSize = 0 }},
		{"no gateway connections", func(c *Config) { c.Gateway.MaxConnections = 0 }},
		{"ping after read timeout", func(c *Config) { c.Gateway.PingInterval = c.Gateway.ReadTimeout }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDatabaseDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5433, User: "u", Password: "p", Database: "swings", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=swings sslmode=disable", d.DSN())
}
