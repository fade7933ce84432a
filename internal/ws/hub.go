package ws

import (
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Hub tracks live sessions and fans messages out to their subscriptions.
type Hub struct {
	mu       sync.RWMutex
	sessions map[*Session]struct{}
	seq      atomic.Int64
	logger   *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		sessions: make(map[*Session]struct{}),
		logger:   logger,
	}
}

func (h *Hub) Register(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[s] = struct{}{}
}

func (h *Hub) Unregister(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, s)
}

// Len reports the number of connected sessions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Publish delivers the payload to every subscription on the destination and
// returns the number of MESSAGE frames written. Write failures are logged
// and skipped so one dead connection cannot stall a broadcast.
func (h *Hub) Publish(destination string, body []byte) int {
	messageID := "msg-" + strconv.FormatInt(h.seq.Add(1), 10)

	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	total := 0
	for _, s := range targets {
		n, err := s.Deliver(destination, messageID, body)
		total += n
		if err != nil {
			h.logger.Warn("broadcast write failed",
				zap.String("destination", destination),
				zap.Error(err),
			)
		}
	}
	return total
}
