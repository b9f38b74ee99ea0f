package dispatch

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/courier-dispatch/internal/models"
)

// WSSession is one connected courier device.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(offer models.AssignmentOffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(offer)
}

// WSRegistry holds live courier sessions keyed by courier id.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
}

func NewWSRegistry() *WSRegistry { return &WSRegistry{sessions: make(map[string]*WSSession)} }

func (r *WSRegistry) Add(courierID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[courierID] = &WSSession{conn: conn}
}

func (r *WSRegistry) Remove(courierID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, courierID)
}

func (r *WSRegistry) Offer(courierID string, offer models.AssignmentOffer) error {
	r.mu.RLock()
	s, ok := r.sessions[courierID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.Send(offer); err != nil {
		slog.Warn("ws send failed", "courier_id", courierID, "error", err)
		return err
	}
	return nil
}

var ErrNoSession = &NoSessionError{}

type NoSessionError struct{}

func (n *NoSessionError) Error() string { return "no courier session" }
