package realtime

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrNoSession is returned when the rider has no open stream.
var ErrNoSession = errors.New("no websocket session")

const writeWait = 5 * time.Second

type session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *session) send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteJSON(v)
}

// Hub keeps one live offer stream per rider.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*session
	log      logrus.FieldLogger
}

// NewHub creates an empty Hub.
func NewHub(log logrus.FieldLogger) *Hub {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Hub{sessions: make(map[string]*session), log: log}
}

// Add registers conn for the rider, closing any stream it replaces.
func (h *Hub) Add(riderID string, conn *websocket.Conn) {
	h.mu.Lock()
	prev := h.sessions[riderID]
	h.sessions[riderID] = &session{conn: conn}
	h.mu.Unlock()

	if prev != nil {
		_ = prev.conn.Close()
	}
	h.log.WithField("rider_id", riderID).Debug("offer stream opened")
}

// Remove drops the rider's stream if conn is still the registered one.
func (h *Hub) Remove(riderID string, conn *websocket.Conn) {
	h.mu.Lock()
	s, ok := h.sessions[riderID]
	if ok && s.conn == conn {
		delete(h.sessions, riderID)
	}
	h.mu.Unlock()

	_ = conn.Close()
	h.log.WithField("rider_id", riderID).Debug("offer stream closed")
}

// Push writes v as JSON to the rider's stream.
func (h *Hub) Push(riderID string, v any) error {
	h.mu.RLock()
	s, ok := h.sessions[riderID]
	h.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}

	if err := s.send(v); err != nil {
		h.Remove(riderID, s.conn)
		return errors.Wrap(err, "push to rider")
	}
	return nil
}

// Connected reports whether the rider has an open stream.
func (h *Hub) Connected(riderID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.sessions[riderID]
	return ok
}
