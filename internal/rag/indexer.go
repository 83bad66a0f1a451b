package rag

import (
	"context"
	"log/slog"
	"time"

	"github.com/pentland/scribe/internal/events"
)

// SourceMessage is one message offered for indexing.
type SourceMessage struct {
	Channel   string
	MessageID string
	Author    string
	Content   string
	Timestamp time.Time
}

// Source supplies recent message history to index. The transport
// collaborator implements it.
type Source interface {
	RecentMessages(ctx context.Context) ([]SourceMessage, error)
}

// Indexer embeds new messages on its own cadence, independent of and
// non-blocking toward live query handling. Embedding failures are
// logged and retried on the next cycle, never fatal.
type Indexer struct {
	logger   *slog.Logger
	store    *Store
	embedder Embedder
	source   Source
	bus      *events.Bus

	interval time.Duration
	minLen   int
}

// NewIndexer creates a background indexer. minLen skips messages too
// short to carry embedding signal (default 20 characters).
func NewIndexer(logger *slog.Logger, store *Store, embedder Embedder, source Source, bus *events.Bus, interval time.Duration, minLen int) *Indexer {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if minLen <= 0 {
		minLen = 20
	}
	return &Indexer{
		logger:   logger,
		store:    store,
		embedder: embedder,
		source:   source,
		bus:      bus,
		interval: interval,
		minLen:   minLen,
	}
}

// Run indexes on the configured interval until ctx is cancelled. An
// initial cycle runs immediately.
func (ix *Indexer) Run(ctx context.Context) {
	ix.logger.Debug("indexer started", "interval", ix.interval, "min_len", ix.minLen)

	ticker := time.NewTicker(ix.interval)
	defer ticker.Stop()

	ix.Cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			ix.logger.Debug("indexer stopped")
			return
		case <-ticker.C:
			ix.Cycle(ctx)
		}
	}
}

// Cycle runs one indexing pass: pull candidate messages, skip the ones
// already indexed or below the length floor, embed the rest, and store
// them.
func (ix *Indexer) Cycle(ctx context.Context) {
	msgs, err := ix.source.RecentMessages(ctx)
	if err != nil {
		ix.logger.Warn("indexer: source read failed", "error", err)
		return
	}

	var pending []SourceMessage
	skipped := 0
	for _, m := range msgs {
		if len(m.Content) < ix.minLen {
			skipped++
			continue
		}
		exists, err := ix.store.Has(m.Channel, m.MessageID)
		if err != nil {
			ix.logger.Warn("indexer: existence check failed", "error", err)
			continue
		}
		if exists {
			skipped++
			continue
		}
		pending = append(pending, m)
	}

	indexed, failed := 0, 0
	if len(pending) > 0 {
		texts := make([]string, len(pending))
		for i, m := range pending {
			texts[i] = m.Content
		}

		vecs, err := ix.embedder.GenerateBatch(ctx, texts)
		if err != nil {
			// Retry on the next cycle; nothing was stored.
			ix.logger.Warn("indexer: embedding failed", "count", len(pending), "error", err)
			failed = len(pending)
		} else {
			for i, m := range pending {
				err := ix.store.Upsert(&Record{
					Channel:   m.Channel,
					MessageID: m.MessageID,
					Author:    m.Author,
					Content:   m.Content,
					Embedding: vecs[i],
					Timestamp: m.Timestamp,
				})
				if err != nil {
					ix.logger.Warn("indexer: store failed", "channel", m.Channel, "error", err)
					failed++
					continue
				}
				indexed++
			}
		}
	}

	ix.logger.Debug("index cycle complete", "indexed", indexed, "skipped", skipped, "failed", failed)
	ix.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceIndexer,
		Kind:      events.KindIndexCycle,
		Data:      map[string]any{"indexed": indexed, "skipped": skipped, "failed": failed},
	})
}
