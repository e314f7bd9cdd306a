// Package wsgateway fans confirmed swings out to WebSocket subscribers.
package wsgateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mohamedkhairy/swing-detector/internal/config"
	"github.com/mohamedkhairy/swing-detector/internal/pubsub"
	"github.com/mohamedkhairy/swing-detector/internal/storage"
	"github.com/mohamedkhairy/swing-detector/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_connections_active",
		Help: "Number of open subscriber connections",
	})

	swingsBroadcast = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_swings_broadcast_total",
		Help: "Total number of swing events fanned out",
	})

	messagesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_messages_dropped_total",
		Help: "Total number of frames dropped on full subscriber queues",
	})
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HubStats is a snapshot of hub counters
type HubStats struct {
	ConnectionsTotal  int64     `json:"connections_total"`
	ConnectionsActive int       `json:"connections_active"`
	UsersConnected    int       `json:"users_connected"`
	SwingsReceived    int64     `json:"swings_received"`
	SwingsBroadcast   int64     `json:"swings_broadcast"`
	MessagesSent      int64     `json:"messages_sent"`
	MessagesDropped   int64     `json:"messages_dropped"`
	DecodeErrors      int64     `json:"decode_errors"`
	LastSwingTime     time.Time `json:"last_swing_time"`
}

// Hub consumes the swing stream and broadcasts every event to the
// connections subscribed to its series. Each gateway replica needs its own
// consumer group to see every swing.
type Hub struct {
	config       config.GatewayConfig
	registry     *ConnectionRegistry
	redis        storage.RedisClient
	stream       string
	consumerName string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.RWMutex
	running       bool
	lastSwingTime time.Time

	connectionsTotal atomic.Int64
	swingsReceived   atomic.Int64
	swingsBroadcast  atomic.Int64
	messagesSent     atomic.Int64
	messagesDropped  atomic.Int64
	decodeErrors     atomic.Int64
}

// NewHub creates a hub reading stream as consumerName of the configured
// consumer group.
func NewHub(cfg config.GatewayConfig, redis storage.RedisClient, stream, consumerName string) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		config:       cfg,
		registry:     NewConnectionRegistry(),
		redis:        redis,
		stream:       stream,
		consumerName: consumerName,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start starts consuming swings and monitoring connections
func (h *Hub) Start() error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return nil
	}

	messages, err := h.redis.ConsumeFromStream(h.ctx, h.stream, h.config.ConsumerGroup, h.consumerName)
	if err != nil {
		h.mu.Unlock()
		return err
	}
	h.running = true
	h.mu.Unlock()

	logger.Info("Starting WebSocket hub",
		logger.String("stream", h.stream),
		logger.String("consumer_group", h.config.ConsumerGroup),
		logger.String("consumer", h.consumerName),
	)

	h.wg.Add(2)
	go h.consumeSwings(messages)
	go h.monitorConnections()
	return nil
}

// Stop closes every connection and waits for all goroutines
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	logger.Info("Stopping WebSocket hub")
	h.cancel()
	for _, conn := range h.registry.GetAll() {
		h.Unregister(conn)
	}
	h.wg.Wait()
	logger.Info("WebSocket hub stopped")
}

// IsRunning reports whether the hub is consuming
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// Register adds conn and starts its pumps when it has a socket
func (h *Hub) Register(conn *Connection) {
	h.registry.Add(conn)
	h.connectionsTotal.Add(1)
	connectionsActive.Inc()

	logger.Info("Connection registered",
		logger.String("connection_id", conn.ID),
		logger.String("user_id", conn.UserID),
		logger.Int("total_connections", h.registry.Count()),
	)

	if conn.ws != nil {
		h.wg.Add(2)
		go h.writePump(conn)
		go h.readPump(conn)
	}
}

// Unregister removes and closes conn. It is safe to call more than once.
func (h *Hub) Unregister(conn *Connection) {
	if h.registry.Remove(conn.ID) {
		connectionsActive.Dec()
		logger.Info("Connection unregistered",
			logger.String("connection_id", conn.ID),
			logger.String("user_id", conn.UserID),
			logger.Int("total_connections", h.registry.Count()),
		)
	}
	conn.Close()
}

// HandleWebSocket authenticates and upgrades subscriber requests
func (h *Hub) HandleWebSocket(auth *AuthManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.registry.Count() >= h.config.MaxConnections {
			logger.Warn("Max connections reached, rejecting new connection",
				logger.Int("max_connections", h.config.MaxConnections),
			)
			http.Error(w, "Max connections reached", http.StatusServiceUnavailable)
			return
		}

		userID, err := auth.Authenticate(r)
		if err != nil {
			logger.Warn("Rejecting unauthenticated connection",
				logger.ErrorField(err),
				logger.String("remote_addr", r.RemoteAddr),
			)
			http.Error(w, "Invalid authentication token", http.StatusUnauthorized)
			return
		}

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("Failed to upgrade connection", logger.ErrorField(err))
			return
		}

		conn := NewConnection(uuid.NewString(), userID, ws, h.config.SendBuffer)
		for _, raw := range r.URL.Query()["topic"] {
			if topic, err := ParseTopic(raw); err == nil {
				conn.Subscribe(topic)
			}
		}
		h.Register(conn)
	}
}

func (h *Hub) consumeSwings(messages <-chan storage.StreamMessage) {
	defer h.wg.Done()

	for {
		select {
		case <-h.ctx.Done():
			return

		case msg, ok := <-messages:
			if !ok {
				logger.Warn("Swing message channel closed")
				return
			}

			event, err := pubsub.DecodeSwingEvent(msg)
			if err != nil {
				h.decodeErrors.Add(1)
				logger.CountError("swing-gateway", "decode")
				logger.Error("Failed to decode swing event",
					logger.ErrorField(err),
					logger.String("message_id", msg.ID),
				)
			} else {
				h.swingsReceived.Add(1)
				h.mu.Lock()
				h.lastSwingTime = time.Now()
				h.mu.Unlock()
				h.Broadcast(event)
			}

			// undecodable messages are acked too, they would never succeed
			ackCtx, ackCancel := context.WithTimeout(context.Background(), 5*time.Second)
			err = h.redis.AcknowledgeMessage(ackCtx, h.stream, h.config.ConsumerGroup, msg.ID)
			ackCancel()
			if err != nil {
				logger.Warn("Failed to acknowledge swing message",
					logger.ErrorField(err),
					logger.String("message_id", msg.ID),
				)
			}
		}
	}
}

// Broadcast queues event on every interested connection and returns how
// many accepted it.
func (h *Hub) Broadcast(event pubsub.SwingEvent) int {
	data, err := json.Marshal(ServerMessage{Type: MessageTypeSwing, Data: event})
	if err != nil {
		logger.Error("Failed to marshal swing event", logger.ErrorField(err))
		return 0
	}

	key := event.Key()
	sent, dropped := 0, 0
	for _, conn := range h.registry.GetAll() {
		if !conn.Wants(key) {
			continue
		}
		if conn.Enqueue(data) {
			sent++
		} else {
			dropped++
		}
	}

	h.swingsBroadcast.Add(1)
	h.messagesSent.Add(int64(sent))
	swingsBroadcast.Inc()
	if dropped > 0 {
		h.messagesDropped.Add(int64(dropped))
		messagesDropped.Add(float64(dropped))
	}

	logger.Debug("Broadcast swing",
		logger.String("event_id", event.ID),
		logger.Series(key),
		logger.Int("sent", sent),
		logger.Int("dropped", dropped),
	)
	return sent
}

func (h *Hub) writePump(conn *Connection) {
	defer h.wg.Done()
	defer h.Unregister(conn)

	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			conn.ws.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			conn.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
			return

		case <-conn.Done():
			return

		case message := <-conn.out:
			conn.ws.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := conn.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			conn.ws.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := conn.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readPump(conn *Connection) {
	defer h.wg.Done()
	defer h.Unregister(conn)

	conn.ws.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	conn.ws.SetPongHandler(func(string) error {
		conn.UpdateLastPong()
		return conn.ws.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	})

	for {
		_, message, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("WebSocket error",
					logger.ErrorField(err),
					logger.String("connection_id", conn.ID),
				)
			}
			return
		}

		if err := conn.HandleClientMessage(message); err != nil {
			logger.Debug("Failed to handle client message",
				logger.ErrorField(err),
				logger.String("connection_id", conn.ID),
			)
		}
	}
}

// monitorConnections closes connections that stopped answering pings
func (h *Hub) monitorConnections() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return

		case <-ticker.C:
			now := time.Now()
			staleThreshold := h.config.ReadTimeout * 2
			for _, conn := range h.registry.GetAll() {
				if idle := now.Sub(conn.GetLastPong()); idle > staleThreshold {
					logger.Info("Removing stale connection",
						logger.String("connection_id", conn.ID),
						logger.Duration("idle_time", idle),
					)
					h.Unregister(conn)
				}
			}
		}
	}
}

// GetStats returns a snapshot of the hub counters
func (h *Hub) GetStats() HubStats {
	h.mu.RLock()
	last := h.lastSwingTime
	h.mu.RUnlock()

	return HubStats{
		ConnectionsTotal:  h.connectionsTotal.Load(),
		ConnectionsActive: h.registry.Count(),
		UsersConnected:    len(h.registry.Users()),
		SwingsReceived:    h.swingsReceived.Load(),
		SwingsBroadcast:   h.swingsBroadcast.Load(),
		MessagesSent:      h.messagesSent.Load(),
		MessagesDropped:   h.messagesDropped.Load(),
		DecodeErrors:      h.decodeErrors.Load(),
		LastSwingTime:     last,
	}
}
