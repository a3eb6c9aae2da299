package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/aretw0/gridsession/internal/logging"
	"github.com/aretw0/gridsession/pkg/domain"
	"github.com/aretw0/gridsession/pkg/ports"
)

// allSessions is the subscription key of clients watching every session.
const allSessions = ""

// StreamManager fans session events out to SSE clients.
// It is a ports.EventPublisher: register it with the repository to feed it.
type StreamManager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan<- string]struct{} // SessionID -> Set of Channels
	logger      *slog.Logger
}

var _ ports.EventPublisher = (*StreamManager)(nil)

// NewStreamManager creates a StreamManager. A nil logger discards its warnings.
func NewStreamManager(logger *slog.Logger) *StreamManager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &StreamManager{
		subscribers: make(map[string]map[chan<- string]struct{}),
		logger:      logger,
	}
}

// Subscribe registers a client for the events of sessionID, or of every
// session when sessionID is empty. The returned function unsubscribes.
func (sm *StreamManager) Subscribe(sessionID string) (chan string, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan string, 10)
	if _, ok := sm.subscribers[sessionID]; !ok {
		sm.subscribers[sessionID] = make(map[chan<- string]struct{})
	}
	sm.subscribers[sessionID][ch] = struct{}{}

	return ch, func() {
		sm.mu.Lock()
		defer sm.mu.Unlock()
		if subs, ok := sm.subscribers[sessionID]; ok {
			delete(subs, ch)
			close(ch)
			if len(subs) == 0 {
				delete(sm.subscribers, sessionID)
			}
		}
	}
}

// Publish broadcasts e as JSON to the session's subscribers and to those watching all sessions.
func (sm *StreamManager) Publish(_ context.Context, e *domain.SessionEvent) {
	msg, err := json.Marshal(e)
	if err != nil {
		sm.logger.Warn("SSE: Failed to encode event", "session_id", e.SessionID, "err", err)
		return
	}
	sm.Broadcast(e.SessionID, string(msg))
}

// Broadcast sends msg to the subscribers of sessionID and of all sessions.
func (sm *StreamManager) Broadcast(sessionID string, msg string) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	for _, key := range []string{sessionID, allSessions} {
		for ch := range sm.subscribers[key] {
			select {
			case ch <- msg:
			default:
				// Drop message if channel is full (slow client)
				sm.logger.Warn("SSE: Client buffer full, dropping message", "session_id", sessionID)
			}
		}
		if sessionID == allSessions {
			break
		}
	}
}
