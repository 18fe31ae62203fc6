package websocket

import (
	"sync"

	"labsync/pkg/interfaces"
)

// Registry tracks live connections by participant ID
// TECHNICAL DISCOVERY: RWMutex, since every fan-out does one lookup per
// recipient while registration only happens on connect and disconnect
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection
}

// NewRegistry creates an empty connection registry
func NewRegistry() *Registry {
	return &Registry{connections: make(map[string]*Connection)}
}

// Register adds conn. A previous connection under the same ID is closed.
func (r *Registry) Register(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	existing, ok := r.connections[conn.ParticipantID()]
	r.connections[conn.ParticipantID()] = conn
	r.mu.Unlock()

	if ok && existing != conn {
		_ = existing.Close()
	}
	return nil
}

// Unregister removes conn if it is still the registered one
// RACE CONDITION FIX: an old connection's cleanup must not remove its
// replacement
func (r *Registry) Unregister(conn *Connection) {
	if conn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.connections[conn.ParticipantID()]; ok && current == conn {
		delete(r.connections, conn.ParticipantID())
	}
}

// Lookup implements interfaces.ConnectionLookup
func (r *Registry) Lookup(participantID string) (interfaces.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.connections[participantID]
	if !ok {
		return nil, false
	}
	return conn, true
}

// Len returns the number of live connections
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// CloseAll closes every connection, used on shutdown
func (r *Registry) CloseAll() {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.connections))
	for _, c := range r.connections {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	for _, c := range conns {
		_ = c.Close()
	}
}
