// Package agent runs the reasoning loop: assemble context, call the
// model, execute requested tools, repeat until a text answer or the
// round limit.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pentland/scribe/internal/memory"
	"github.com/pentland/scribe/internal/rag"
)

// Assembled is the gathered context for one request.
type Assembled struct {
	Memory    *memory.Context
	Retrieved []rag.Result

	// Partial reports that at least one source missed the assembly
	// deadline or failed; the request proceeds with what arrived.
	Partial bool
}

// Assembler gathers memory recall and retrieval hits for a request,
// concurrently and under a hard deadline. Assembly never fails the
// request: a slow or broken source degrades to an empty contribution.
type Assembler struct {
	logger   *slog.Logger
	memory   *memory.Store
	ragStore *rag.Store   // nil when retrieval is disabled
	embedder rag.Embedder // nil when retrieval is disabled

	budget  int
	topK    int
	timeout time.Duration
}

// NewAssembler creates an assembler. budget is the token allowance for
// the whole assembled context; timeout is the hard assembly deadline.
func NewAssembler(logger *slog.Logger, mem *memory.Store, ragStore *rag.Store, embedder rag.Embedder, budget, topK int, timeout time.Duration) *Assembler {
	if budget <= 0 {
		budget = 2000
	}
	if topK <= 0 {
		topK = 5
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Assembler{
		logger:   logger,
		memory:   mem,
		ragStore: ragStore,
		embedder: embedder,
		budget:   budget,
		topK:     topK,
		timeout:  timeout,
	}
}

// Assemble gathers context for one request. Memory recall always runs;
// the vector search runs only when retrieval is wired and the query
// looks like it references past conversation. The two run concurrently
// and whatever misses the deadline is dropped.
func (a *Assembler) Assemble(ctx context.Context, conversationID, query string, kind memory.ConversationKind) *Assembled {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	searchRAG := a.ragStore != nil && a.embedder != nil && rag.NeedsSearch(query)

	// Retrieval hits get a slice of the budget only when the search
	// actually runs; otherwise recall takes all of it.
	memBudget := a.budget
	if searchRAG {
		memBudget = a.budget * 3 / 4
	}

	memCh := make(chan *memory.Context, 1)
	go func() {
		mc, err := a.memory.Recall(ctx, memory.RecallQuery{
			ConversationID: conversationID,
			Query:          query,
			Kind:           kind,
			Budget:         memBudget,
		})
		if err != nil {
			a.logger.Warn("assemble: recall failed", "error", err)
			memCh <- nil
			return
		}
		memCh <- mc
	}()

	ragCh := make(chan []rag.Result, 1)
	if searchRAG {
		go func() {
			hits, err := a.ragStore.Search(ctx, a.embedder, query, a.topK, conversationID)
			if err != nil {
				a.logger.Warn("assemble: vector search failed", "error", err)
				ragCh <- nil
				return
			}
			ragCh <- hits
		}()
	} else {
		ragCh <- nil
	}

	out := &Assembled{}

	select {
	case mc := <-memCh:
		if mc == nil {
			out.Memory = &memory.Context{}
			out.Partial = true
		} else {
			out.Memory = mc
		}
	case <-ctx.Done():
		a.logger.Warn("assemble: recall missed deadline", "timeout", a.timeout)
		out.Memory = &memory.Context{}
		out.Partial = true
	}

	select {
	case hits := <-ragCh:
		if searchRAG && hits == nil {
			out.Partial = true
		}
		out.Retrieved = a.trimRetrieved(hits, out.Memory.Size())
	case <-ctx.Done():
		if searchRAG {
			a.logger.Warn("assemble: vector search missed deadline", "timeout", a.timeout)
			out.Partial = true
		}
	}

	if out.Memory.Truncated {
		a.logger.Debug("assemble: memory truncated to budget", "budget", a.budget, "used", out.Memory.Size())
	}
	return out
}

// trimRetrieved keeps retrieval hits while the combined context stays
// within the assembler budget.
func (a *Assembler) trimRetrieved(hits []rag.Result, used int) []rag.Result {
	var kept []rag.Result
	for _, h := range hits {
		cost := memory.EstimateTokens(h.Content) + 2
		if used+cost > a.budget {
			break
		}
		kept = append(kept, h)
		used += cost
	}
	return kept
}

// Render flattens the assembled context into the text block appended to
// the system message. Empty sections are omitted.
func (a *Assembled) Render() string {
	var b strings.Builder

	if len(a.Memory.Notes) > 0 {
		b.WriteString("## Working Notes\n")
		for _, n := range a.Memory.Notes {
			fmt.Fprintf(&b, "- %s: %s\n", n.Key, n.Value)
		}
		b.WriteString("\n")
	}

	if len(a.Memory.LongTerm) > 0 {
		b.WriteString("## Long-Term Memory\n")
		for _, e := range a.Memory.LongTerm {
			if e.Category != "" {
				fmt.Fprintf(&b, "- [%s] %s\n", e.Category, e.Text)
			} else {
				fmt.Fprintf(&b, "- %s\n", e.Text)
			}
		}
		b.WriteString("\n")
	}

	if len(a.Memory.Daily) > 0 {
		b.WriteString("## Recent Daily Log\n")
		for _, e := range a.Memory.Daily {
			fmt.Fprintf(&b, "- %s\n", e.Text)
		}
		b.WriteString("\n")
	}

	if len(a.Memory.Profile) > 0 {
		b.WriteString("## Profile\n")
		for _, e := range a.Memory.Profile {
			if e.Category != "" {
				fmt.Fprintf(&b, "### %s\n%s\n", e.Category, e.Text)
			} else {
				fmt.Fprintf(&b, "%s\n", e.Text)
			}
		}
		b.WriteString("\n")
	}

	if len(a.Retrieved) > 0 {
		b.WriteString("## Related Past Messages\n")
		for _, r := range a.Retrieved {
			if r.Author != "" {
				fmt.Fprintf(&b, "- %s (%s): %s\n", r.Timestamp.Format("2006-01-02"), r.Author, r.Content)
			} else {
				fmt.Fprintf(&b, "- %s: %s\n", r.Timestamp.Format("2006-01-02"), r.Content)
			}
		}
		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n")
}
