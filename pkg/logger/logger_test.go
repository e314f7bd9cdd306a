package logger

import (
	"context"
	"errors"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type key string

func (k key) String() string { return string(k) }

func observe(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	prev := globalLogger
	Set(zap.New(core))
	t.Cleanup(func() { Set(prev) })
	return logs
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("info"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("verbose"))
}

func TestInit(t *testing.T) {
	prev := globalLogger
	t.Cleanup(func() { Set(prev) })

	require.NoError(t, Init("debug", "production", "swingd"))
	assert.True(t, Get().Core().Enabled(zapcore.DebugLevel))

	require.NoError(t, Init("warn", "development", ""))
	assert.False(t, Get().Core().Enabled(zapcore.InfoLevel))
}

func TestGetWithoutInit(t *testing.T) {
	prev := globalLogger
	globalLogger = nil
	t.Cleanup(func() { Set(prev) })

	assert.NotNil(t, Get())
	assert.NoError(t, Sync())
}

func TestHelpers(t *testing.T) {
	logs := observe(t)

	Info("swing confirmed",
		Series(key("EURUSD:H1")),
		Float64("price", 1.1),
		ErrorField(errors.New("boom")),
		JSON("payload", map[string]int{"a": 1}),
	)

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "EURUSD:H1", fields["series"])
	assert.Equal(t, 1.1, fields["price"])
	assert.Equal(t, "boom", fields["error"])
	assert.Equal(t, `{"a":1}`, fields["payload"])
}

func TestContextFields(t *testing.T) {
	logs := observe(t)

	ctx := NewContext(context.Background(), String("run_id", "r1"))
	ctx = NewContext(ctx, String("series", "EURUSD:H1"))
	FromContext(ctx).Warn("replay")
	FromContext(context.Background()).Warn("plain")

	require.Equal(t, 2, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "r1", fields["run_id"])
	assert.Equal(t, "EURUSD:H1", fields["series"])
	assert.Empty(t, logs.All()[1].ContextMap())
}

func counterValue(t *testing.T, service, errType string) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, ErrorsTotal.WithLabelValues(service, errType).Write(&m))
	return m.GetCounter().GetValue()
}

func TestCountError(t *testing.T) {
	before := counterValue(t, "test", "boom")
	CountError("test", "boom")
	assert.Equal(t, before+1, counterValue(t, "test", "boom"))
}
