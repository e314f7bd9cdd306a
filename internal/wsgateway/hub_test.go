package wsgateway

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mohamedkhairy/swing-detector/internal/config"
	"github.com/mohamedkhairy/swing-detector/internal/models"
	"github.com/mohamedkhairy/swing-detector/internal/pubsub"
	"github.com/mohamedkhairy/swing-detector/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const swingStream = "swings.detected"

func testConfig() config.GatewayConfig {
	return config.GatewayConfig{
		MaxConnections: 2,
		PingInterval:   time.Second,
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   time.Second,
		ConsumerGroup:  "swing-gateway",
		SendBuffer:     8,
	}
}

func swingEvent(key models.SeriesKey) pubsub.SwingEvent {
	sw := models.SwingPoint{
		Time:      time.Date(2024, 1, 1, 3, 0, 0, 0, time.UTC),
		Price:     1.0912,
		Direction: models.DirectionDown,
		Timeframe: key.Timeframe,
	}
	return pubsub.NewSwingEvent(key, sw, "waiting_bars")
}

func TestHub_Broadcast(t *testing.T) {
	hub := NewHub(testConfig(), storage.NewMockRedisClient(), swingStream, "gw-1")

	all := NewConnection("all", "user-1", nil, 8)
	eur := NewConnection("eur", "user-1", nil, 8)
	eur.Subscribe("EURUSD")
	gbp := NewConnection("gbp", "user-2", nil, 8)
	gbp.Subscribe("GBPUSD:H1")
	full := NewConnection("full", "user-3", nil, 1)
	full.Enqueue([]byte("backlog"))

	for _, c := range []*Connection{all, eur, gbp, full} {
		hub.Register(c)
	}

	assert.Equal(t, 2, hub.Broadcast(swingEvent(eurH1)))

	msg := next(t, eur)
	assert.Equal(t, MessageTypeSwing, msg.Type)
	data := msg.Data.(map[string]interface{})
	assert.Equal(t, "EURUSD", data["instrument"])
	assert.Equal(t, "H1", data["timeframe"])
	next(t, all)
	assert.Empty(t, gbp.out)

	stats := hub.GetStats()
	assert.Equal(t, int64(4), stats.ConnectionsTotal)
	assert.Equal(t, 4, stats.ConnectionsActive)
	assert.Equal(t, 3, stats.UsersConnected)
	assert.Equal(t, int64(1), stats.SwingsBroadcast)
	assert.Equal(t, int64(2), stats.MessagesSent)
	assert.Equal(t, int64(1), stats.MessagesDropped)

	hub.Unregister(full)
	hub.Unregister(full)
	assert.Equal(t, 3, hub.GetStats().ConnectionsActive)
}

func TestHub_ConsumesSwingStream(t *testing.T) {
	redis := storage.NewMockRedisClient()
	publisher := pubsub.NewSwingPublisher(redis, pubsub.DefaultPublisherConfig(swingStream))
	require.NoError(t, publisher.PublishSwing(context.Background(), swingEvent(eurH1)))
	require.NoError(t, publisher.PublishSwing(context.Background(), swingEvent(gbpH1)))
	require.NoError(t, redis.PublishToStream(context.Background(), swingStream, "bar", "{}"))

	hub := NewHub(testConfig(), redis, swingStream, "gw-1")
	conn := NewConnection("eur", "user-1", nil, 8)
	conn.Subscribe("EURUSD:H1")
	hub.Register(conn)

	require.NoError(t, hub.Start())
	defer hub.Stop()

	assert.Eventually(t, func() bool {
		return len(redis.AckedIDs()) == 3
	}, time.Second, 10*time.Millisecond)

	stats := hub.GetStats()
	assert.Equal(t, int64(2), stats.SwingsReceived)
	assert.Equal(t, int64(1), stats.DecodeErrors)
	assert.False(t, stats.LastSwingTime.IsZero())
	require.Len(t, conn.out, 1)
	assert.Equal(t, MessageTypeSwing, next(t, conn).Type)
}

func TestHub_WebSocketSession(t *testing.T) {
	hub := NewHub(testConfig(), storage.NewMockRedisClient(), swingStream, "gw-1")
	require.NoError(t, hub.Start())
	defer hub.Stop()

	server := httptest.NewServer(hub.HandleWebSocket(NewAuthManager("")))
	defer server.Close()
	url := "ws" + strings.TrimPrefix(server.URL, "http")

	client, _, err := websocket.DefaultDialer.Dial(url+"?topic=EURUSD:H1", nil)
	require.NoError(t, err)
	defer client.Close()
	require.Eventually(t, func() bool {
		return hub.GetStats().ConnectionsActive == 1
	}, time.Second, 10*time.Millisecond)

	read := func() ServerMessage {
		client.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := client.ReadMessage()
		require.NoError(t, err)
		var msg ServerMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	}

	assert.Equal(t, 0, hub.Broadcast(swingEvent(gbpH1)))
	assert.Equal(t, 1, hub.Broadcast(swingEvent(eurH1)))
	assert.Equal(t, MessageTypeSwing, read().Type)

	require.NoError(t, client.WriteJSON(ClientMessage{Type: MessageTypePing}))
	assert.Equal(t, MessageTypePong, read().Type)

	require.NoError(t, client.WriteJSON(ClientMessage{Type: MessageTypeSubscribe, Topic: "GBPUSD"}))
	assert.Equal(t, MessageTypeSuccess, read().Type)
	assert.Equal(t, 1, hub.Broadcast(swingEvent(gbpH1)))
	assert.Equal(t, MessageTypeSwing, read().Type)

	client.Close()
	assert.Eventually(t, func() bool {
		return hub.GetStats().ConnectionsActive == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHub_RejectsConnections(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConnections = 1
	hub := NewHub(cfg, storage.NewMockRedisClient(), swingStream, "gw-1")
	handler := hub.HandleWebSocket(NewAuthManager(testSecret))

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest("GET", "/ws", nil))
	assert.Equal(t, 401, w.Code)

	hub.Register(NewConnection("busy", "user-1", nil, 1))
	w = httptest.NewRecorder()
	handler(w, httptest.NewRequest("GET", "/ws", nil))
	assert.Equal(t, 503, w.Code)
}

func TestHub_StartFails(t *testing.T) {
	redis := storage.NewMockRedisClient()
	redis.ConsumeErr = assert.AnError
	hub := NewHub(testConfig(), redis, swingStream, "gw-1")

	assert.ErrorIs(t, hub.Start(), assert.AnError)
	assert.False(t, hub.IsRunning())
}
