// Package memory implements the layered memory store: ephemeral session
// transcripts, per-conversation working notes, durable curated facts on
// disk, and profile documents, composed behind one write/read/recall
// facade.
package memory

import "time"

// Layer identifies one of the independently-lived memory layers.
type Layer string

const (
	// LayerSession is the in-memory per-conversation turn ring.
	LayerSession Layer = "session"
	// LayerWorking is the per-conversation key/value note store.
	LayerWorking Layer = "working"
	// LayerDurable is the curated long-term fact store on disk.
	LayerDurable Layer = "durable"
	// LayerProfile is the read-only profile document set.
	LayerProfile Layer = "profile"
)

// ConversationKind distinguishes private conversations from ones with
// multiple participants. Durable personal memory is only recalled for
// direct conversations.
type ConversationKind string

const (
	KindDirect     ConversationKind = "direct"
	KindMultiParty ConversationKind = "multi"
)

// Entry is a single unit of memory content.
type Entry struct {
	Layer     Layer     `json:"layer"`
	Category  string    `json:"category,omitempty"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp,omitempty"`
	Channel   string    `json:"channel,omitempty"`
}

// Turn is one conversation turn in a session.
type Turn struct {
	Role      string    `json:"role"` // user, assistant, tool
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// EstimateTokens approximates the token count of a string. The 4
// chars/token heuristic is coarse but stable, which is what budget
// accounting needs.
func EstimateTokens(s string) int {
	return (len(s) + 3) / 4
}
