package memory

import (
	"context"
	"fmt"
	"log/slog"
)

// Store is the memory facade. It composes the four layers behind a
// single write/read/recall contract so callers never deal with the
// layers' differing lifetimes and storage.
type Store struct {
	logger  *slog.Logger
	session *SessionStore
	working *WorkingStore
	durable *DurableStore
	profile *ProfileStore

	recentTurns   int
	defaultBudget int
}

// NewStore assembles the memory facade. recentTurns is the number of
// session turns recall always includes; defaultBudget is the token
// budget used when a recall query does not set one.
func NewStore(logger *slog.Logger, session *SessionStore, working *WorkingStore, durable *DurableStore, profile *ProfileStore, recentTurns, defaultBudget int) *Store {
	if recentTurns <= 0 {
		recentTurns = 10
	}
	if defaultBudget <= 0 {
		defaultBudget = 2000
	}
	return &Store{
		logger:        logger,
		session:       session,
		working:       working,
		durable:       durable,
		profile:       profile,
		recentTurns:   recentTurns,
		defaultBudget: defaultBudget,
	}
}

// Session exposes the session layer for transcript appends.
func (s *Store) Session() *SessionStore { return s.session }

// Working exposes the working note layer.
func (s *Store) Working() *WorkingStore { return s.working }

// Durable exposes the durable layer.
func (s *Store) Durable() *DurableStore { return s.durable }

// Profile exposes the profile layer.
func (s *Store) Profile() *ProfileStore { return s.profile }

// Write stores an entry in the given layer. For the session layer,
// Entry.Channel is the conversation and Entry.Category the role; for
// the working layer, Entry.Category is the note key. Write failures
// are returned to the caller, never swallowed: a requested persistence
// that did not happen must be visible.
func (s *Store) Write(layer Layer, e Entry) error {
	switch layer {
	case LayerSession:
		s.session.Append(e.Channel, e.Category, e.Text)
		return nil
	case LayerWorking:
		return s.working.Set(e.Channel, e.Category, e.Text)
	case LayerDurable:
		return s.durable.Remember(e.Category, e.Text)
	case LayerProfile:
		return fmt.Errorf("profile layer is read-only")
	default:
		return fmt.Errorf("unknown memory layer %q", layer)
	}
}

// Filter narrows a Read call.
type Filter struct {
	ConversationID string
	Query          string
	Limit          int
}

// Read returns entries from one layer.
func (s *Store) Read(layer Layer, f Filter) ([]Entry, error) {
	switch layer {
	case LayerSession:
		turns := s.session.Recent(f.ConversationID, f.Limit)
		entries := make([]Entry, len(turns))
		for i, t := range turns {
			entries[i] = Entry{Layer: LayerSession, Category: t.Role, Text: t.Content, Timestamp: t.Timestamp, Channel: f.ConversationID}
		}
		return entries, nil
	case LayerWorking:
		notes, err := s.working.List(f.ConversationID)
		if err != nil {
			return nil, err
		}
		entries := make([]Entry, len(notes))
		for i, n := range notes {
			entries[i] = Entry{Layer: LayerWorking, Category: n.Key, Text: n.Value, Timestamp: n.UpdatedAt, Channel: f.ConversationID}
		}
		return entries, nil
	case LayerDurable:
		if f.Query != "" {
			return s.durable.Search(f.Query, f.Limit)
		}
		return s.durable.Entries()
	case LayerProfile:
		return s.profile.Relevant(f.Query, KindDirect, f.Limit), nil
	default:
		return nil, fmt.Errorf("unknown memory layer %q", layer)
	}
}

// Clear discards a conversation's session turns and working notes.
// Durable and profile memory are unaffected.
func (s *Store) Clear(conversationID string) error {
	s.session.Clear(conversationID)
	return s.working.Clear(conversationID)
}

// RecallQuery describes one recall request.
type RecallQuery struct {
	ConversationID string
	Query          string
	Kind           ConversationKind
	// Budget is the token allowance for the assembled context.
	// Zero uses the store default.
	Budget int
}

// Context is the assembled recall output. Its Size never exceeds the
// query budget.
type Context struct {
	Turns    []Turn
	Notes    []Note
	LongTerm []Entry
	Daily    []Entry
	Persona  string
	Profile  []Entry

	// Truncated reports that at least one layer had content the
	// budget could not accommodate.
	Truncated bool

	tokens int
}

// Size returns the estimated token count of the assembled context.
func (c *Context) Size() int { return c.tokens }

// itemCost is the budget charge for one context item: its text plus a
// small fixed overhead for role/category framing.
func itemCost(text string) int { return EstimateTokens(text) + 2 }

// Recall assembles a bounded context for a query. Layers merge in
// priority order: session turns first, then working notes, then
// durable matches, then profile excerpts; when the budget runs out the
// lowest-priority tail is dropped first. A read failure in any one
// layer degrades that layer to an empty contribution; the call itself
// still succeeds.
//
// Durable personal memory and USER.md excerpts are only consulted when
// the conversation is direct. Multi-party conversations recall session
// turns, working notes, and persona only, whatever the query.
func (s *Store) Recall(ctx context.Context, q RecallQuery) (*Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	budget := q.Budget
	if budget <= 0 {
		budget = s.defaultBudget
	}

	out := &Context{}
	used := 0

	// Session turns: the most recent K, newest kept preferentially
	// when even those exceed the budget.
	recent := s.session.Recent(q.ConversationID, s.recentTurns)
	var kept []Turn
	for i := len(recent) - 1; i >= 0; i-- {
		cost := itemCost(recent[i].Content)
		if used+cost > budget {
			out.Truncated = true
			break
		}
		kept = append(kept, recent[i])
		used += cost
	}
	// Restore chronological order.
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	out.Turns = kept

	// Working notes.
	notes, err := s.working.List(q.ConversationID)
	if err != nil {
		s.logger.Warn("recall: working layer degraded", "error", err)
	}
	for _, n := range notes {
		cost := itemCost(n.Key + ": " + n.Value)
		if used+cost > budget {
			out.Truncated = true
			break
		}
		out.Notes = append(out.Notes, n)
		used += cost
	}

	// Durable layer, direct conversations only.
	if q.Kind == KindDirect {
		subBudget := used + (budget-used)*3/5

		matches, err := s.durable.Search(q.Query, 10)
		if err != nil {
			s.logger.Warn("recall: durable layer degraded", "error", err)
		}
		for _, e := range matches {
			cost := itemCost(e.Text)
			if used+cost > subBudget {
				out.Truncated = true
				break
			}
			out.LongTerm = append(out.LongTerm, e)
			used += cost
		}

		daily, err := s.durable.RecentDaily(5)
		if err != nil {
			s.logger.Warn("recall: daily log degraded", "error", err)
		}
		for _, e := range daily {
			cost := itemCost(e.Text)
			if used+cost > subBudget {
				out.Truncated = true
				break
			}
			out.Daily = append(out.Daily, e)
			used += cost
		}
	}

	// Profile layer: persona always eligible, user/tool sections by
	// keyword match. Lowest priority, so it absorbs whatever budget
	// remains.
	if persona := s.profile.Persona(); persona != "" {
		cost := itemCost(persona)
		if used+cost <= budget {
			out.Persona = persona
			used += cost
		} else {
			out.Truncated = true
		}
	}
	for _, e := range s.profile.Relevant(q.Query, q.Kind, 5) {
		cost := itemCost(e.Text)
		if used+cost > budget {
			out.Truncated = true
			break
		}
		out.Profile = append(out.Profile, e)
		used += cost
	}

	out.tokens = used
	return out, nil
}
