// Package chat provides the WebSocket chat transport.
package chat

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// ConnManager tracks active chat connections per learner.
type ConnManager struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewConnManager creates a new connection manager.
func NewConnManager() *ConnManager {
	return &ConnManager{
		active: make(map[string]map[string]*websocket.Conn),
	}
}

// Register adds a connection for a learner.
func (m *ConnManager) Register(learnerID, connID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[learnerID]; !exists {
		m.active[learnerID] = make(map[string]*websocket.Conn)
	}
	m.active[learnerID][connID] = conn
	slog.Info("Chat connection registered", "learner_id", learnerID, "conn_id", connID)
}

// Unregister removes a connection if it is still the registered one.
func (m *ConnManager) Unregister(learnerID, connID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conns, ok := m.active[learnerID]
	if !ok {
		return
	}
	if current, exists := conns[connID]; exists && current == conn {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(m.active, learnerID)
		}
		slog.Info("Chat connection unregistered", "learner_id", learnerID, "conn_id", connID)
	}
}

// Count returns the number of open connections for a learner.
func (m *ConnManager) Count(learnerID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active[learnerID])
}

// CloseLearner terminates all connections of a learner.
func (m *ConnManager) CloseLearner(learnerID, reason string) {
	m.mu.Lock()
	conns := m.active[learnerID]
	delete(m.active, learnerID)
	m.mu.Unlock()

	// Close outside the lock; the close handshake can block.
	for id, conn := range conns {
		_ = conn.Close(websocket.StatusNormalClosure, reason)
		slog.Info("Chat connection closed", "learner_id", learnerID, "conn_id", id, "reason", reason)
	}
}

// CloseAll terminates every connection, used at shutdown.
func (m *ConnManager) CloseAll() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.CloseLearner(id, "server shutting down")
	}
}
