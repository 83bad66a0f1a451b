package memory

import (
	"sync"
	"time"
)

// SessionStore holds per-conversation turn history in memory. Each
// conversation keeps at most maxTurns turns; older turns fall off the
// front. Contents do not survive a restart.
type SessionStore struct {
	mu       sync.RWMutex
	maxTurns int
	convos   map[string][]Turn
}

// NewSessionStore creates a session store bounded at maxTurns per
// conversation.
func NewSessionStore(maxTurns int) *SessionStore {
	if maxTurns <= 0 {
		maxTurns = 50
	}
	return &SessionStore{
		maxTurns: maxTurns,
		convos:   make(map[string][]Turn),
	}
}

// Append adds a turn to a conversation, evicting the oldest turn when
// the ring is full.
func (s *SessionStore) Append(conversationID, role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := append(s.convos[conversationID], Turn{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
	if len(turns) > s.maxTurns {
		turns = turns[len(turns)-s.maxTurns:]
	}
	s.convos[conversationID] = turns
}

// Recent returns the most recent k turns in chronological order.
func (s *SessionStore) Recent(conversationID string, k int) []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns := s.convos[conversationID]
	if k <= 0 || k > len(turns) {
		k = len(turns)
	}
	out := make([]Turn, k)
	copy(out, turns[len(turns)-k:])
	return out
}

// Turns returns all retained turns for a conversation.
func (s *SessionStore) Turns(conversationID string) []Turn {
	return s.Recent(conversationID, 0)
}

// Conversations returns the IDs of all conversations with retained
// turns.
func (s *SessionStore) Conversations() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.convos))
	for id := range s.convos {
		ids = append(ids, id)
	}
	return ids
}

// Clear discards a conversation's history.
func (s *SessionStore) Clear(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.convos, conversationID)
}

// Stats returns session store statistics.
func (s *SessionStore) Stats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, turns := range s.convos {
		total += len(turns)
	}
	return map[string]any{
		"conversations": len(s.convos),
		"total_turns":   total,
		"max_turns":     s.maxTurns,
	}
}
