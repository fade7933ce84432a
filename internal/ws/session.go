package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ecomstack/gateway-api/internal/models"
)

// conn abstracts the websocket connection for tests.
type conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Session is one client connection. The identity validated at handshake time
// is captured here; STOMP frames carry no credential of their own, so every
// frame evaluation re-attaches the session identity explicitly via Identity.
type Session struct {
	conn         conn
	claims       *models.JWTClaims
	writeTimeout time.Duration

	mu   sync.Mutex
	subs map[string]string // subscription id -> destination
}

// NewSession wraps a connection with its handshake identity. claims may be
// nil for an unauthenticated connection: the handshake always succeeds and
// enforcement happens per SUBSCRIBE frame.
func NewSession(c conn, claims *models.JWTClaims, writeTimeout time.Duration) *Session {
	return &Session{
		conn:         c,
		claims:       claims,
		writeTimeout: writeTimeout,
		subs:         make(map[string]string),
	}
}

// Identity restores the handshake identity for the current frame evaluation.
func (s *Session) Identity() *models.JWTClaims {
	return s.claims
}

// ReadFrame blocks for the next inbound STOMP frame.
func (s *Session) ReadFrame() (*Frame, error) {
	_, raw, err := s.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// WriteFrame serializes writes across goroutines and applies the write
// deadline.
func (s *Session) WriteFrame(f *Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return err
		}
	}
	return s.conn.WriteMessage(websocket.TextMessage, f.Marshal())
}

// Subscribe records an authorized subscription.
func (s *Session) Subscribe(id, destination string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[id] = destination
}

// Unsubscribe removes a subscription by id.
func (s *Session) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
}

// subscriptionIDs returns the ids subscribed to the given destination.
func (s *Session) subscriptionIDs(destination string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, dest := range s.subs {
		if dest == destination {
			ids = append(ids, id)
		}
	}
	return ids
}

// Deliver writes a MESSAGE frame for every subscription matching the
// destination and reports how many were written.
func (s *Session) Deliver(destination, messageID string, body []byte) (int, error) {
	delivered := 0
	for _, id := range s.subscriptionIDs(destination) {
		frame := NewFrame(CommandMessage, map[string]string{
			"destination":  destination,
			"subscription": id,
			"message-id":   messageID,
		})
		frame.Body = body
		if err := s.WriteFrame(frame); err != nil {
			return delivered, err
		}
		delivered++
	}
	return delivered, nil
}

// Close tears down the underlying connection.
func (s *Session) Close() error {
	return s.conn.Close()
}
