package wsgateway

import (
	"sort"
	"sync"
)

// ConnectionRegistry tracks open connections by id.
type ConnectionRegistry struct {
	mu          sync.RWMutex
	connections map[string]*Connection
}

func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{connections: make(map[string]*Connection)}
}

// Add registers conn, replacing any connection with the same id.
func (r *ConnectionRegistry) Add(conn *Connection) {
	r.mu.Lock()
	r.connections[conn.ID] = conn
	r.mu.Unlock()
}

// Remove drops a connection and reports whether it was registered.
func (r *ConnectionRegistry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.connections[id]; !ok {
		return false
	}
	delete(r.connections, id)
	return true
}

func (r *ConnectionRegistry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.connections[id]
	return conn, ok
}

// GetAll returns a snapshot ordered by id, so broadcasts visit connections
// in a stable order.
func (r *ConnectionRegistry) GetAll() []*Connection {
	r.mu.RLock()
	out := make([]*Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		out = append(out, conn)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// Users returns the number of open connections per user id.
func (r *ConnectionRegistry) Users() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users := make(map[string]int)
	for _, conn := range r.connections {
		users[conn.UserID]++
	}
	return users
}
