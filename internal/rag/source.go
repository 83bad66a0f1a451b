package rag

import (
	"context"
	"fmt"

	"github.com/pentland/scribe/internal/memory"
)

// SessionSource feeds the indexer from the in-memory session store.
// Message IDs derive from the turn timestamp, which is fixed at append
// time, so re-offering the same turn across cycles dedupes in the
// store.
type SessionSource struct {
	session *memory.SessionStore
}

// NewSessionSource wraps a session store as an indexing source.
func NewSessionSource(session *memory.SessionStore) *SessionSource {
	return &SessionSource{session: session}
}

// RecentMessages returns the retained user and assistant turns of every
// conversation. Tool output is noise for retrieval and is skipped.
func (s *SessionSource) RecentMessages(ctx context.Context) ([]SourceMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []SourceMessage
	for _, id := range s.session.Conversations() {
		for _, t := range s.session.Turns(id) {
			if t.Role != "user" && t.Role != "assistant" {
				continue
			}
			out = append(out, SourceMessage{
				Channel:   id,
				MessageID: fmt.Sprintf("%s-%d", t.Role, t.Timestamp.UnixNano()),
				Author:    t.Role,
				Content:   t.Content,
				Timestamp: t.Timestamp,
			})
		}
	}
	return out, nil
}
