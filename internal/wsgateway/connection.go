package wsgateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mohamedkhairy/swing-detector/internal/models"
)

// Connection is one subscriber. Every outbound frame goes through the send
// queue so the write pump is the only writer on the socket.
type Connection struct {
	ID     string
	UserID string

	ws   *websocket.Conn
	out  chan []byte
	done chan struct{}

	mu            sync.RWMutex
	subscriptions map[string]bool // topic -> subscribed
	lastPong      time.Time
	createdAt     time.Time
	dropped       int64

	closeOnce sync.Once
}

// NewConnection wraps ws. buffer bounds the outbound queue.
func NewConnection(id, userID string, ws *websocket.Conn, buffer int) *Connection {
	if buffer < 1 {
		buffer = 1
	}
	now := time.Now()
	return &Connection{
		ID:            id,
		UserID:        userID,
		ws:            ws,
		out:           make(chan []byte, buffer),
		done:          make(chan struct{}),
		subscriptions: make(map[string]bool),
		lastPong:      now,
		createdAt:     now,
	}
}

// Subscribe adds topics
func (c *Connection) Subscribe(topics ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		c.subscriptions[t] = true
	}
}

// Unsubscribe removes topics
func (c *Connection) Unsubscribe(topics ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		delete(c.subscriptions, t)
	}
}

// Subscriptions returns the current topics
func (c *Connection) Subscriptions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	topics := make([]string, 0, len(c.subscriptions))
	for t := range c.subscriptions {
		topics = append(topics, t)
	}
	return topics
}

// Wants reports whether swings of key should be delivered. A connection
// without subscriptions receives everything.
func (c *Connection) Wants(key models.SeriesKey) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.subscriptions) == 0 {
		return true
	}
	return c.subscriptions[key.String()] || c.subscriptions[key.Instrument]
}

// Enqueue queues a frame without blocking. It returns false when the queue
// is full or the connection is closed.
func (c *Connection) Enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- data:
		return true
	default:
		c.mu.Lock()
		c.dropped++
		c.mu.Unlock()
		return false
	}
}

// Dropped returns the number of frames dropped on a full queue
func (c *Connection) Dropped() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dropped
}

// UpdateLastPong records a pong from the client
func (c *Connection) UpdateLastPong() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastPong = time.Now()
}

// GetLastPong returns the last pong time
func (c *Connection) GetLastPong() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastPong
}

// Done is closed once the connection is closed
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Close closes the connection. It is safe to call more than once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.ws != nil {
			c.ws.Close()
		}
	})
}
