package dispatch

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/delivery-dispatch/internal/models"
)

// ErrNoSession means the driver has no live WebSocket connection. Offers
// are best-effort; the engagement is already persisted when this happens.
var ErrNoSession = errors.New("driver has no active session")

// session is one connected driver app. Writes are serialized per
// connection; gorilla/websocket forbids concurrent writers.
type session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *session) send(offer models.Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(offer)
}

// WSRegistry tracks connected driver sessions and pushes engagement offers
// to them.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

func NewWSRegistry() *WSRegistry {
	return &WSRegistry{sessions: make(map[string]*session)}
}

// Add registers (or replaces) the session for a driver.
func (r *WSRegistry) Add(driverID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.sessions[driverID]; ok {
		_ = old.conn.Close()
	}
	r.sessions[driverID] = &session{conn: conn}
}

// Remove drops a driver's session, closing the underlying connection.
func (r *WSRegistry) Remove(driverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[driverID]; ok {
		_ = s.conn.Close()
		delete(r.sessions, driverID)
	}
}

// Offer delivers the engagement offer to the driver's session, if any.
func (r *WSRegistry) Offer(driverID string, offer models.Offer) error {
	r.mu.RLock()
	s, ok := r.sessions[driverID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	return s.send(offer)
}
