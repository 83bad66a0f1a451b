package rag

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

type fakeSource struct {
	msgs []SourceMessage
	err  error
}

func (f *fakeSource) RecentMessages(context.Context) ([]SourceMessage, error) {
	return f.msgs, f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestIndexerCycleSkipsShortAndIndexed(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	store, err := NewStore(db, 10)
	if err != nil {
		t.Fatal(err)
	}

	src := &fakeSource{msgs: []SourceMessage{
		{Channel: "general", MessageID: "1", Content: "short", Timestamp: time.Now()},
		{Channel: "general", MessageID: "2", Content: "a message long enough to index", Timestamp: time.Now()},
		{Channel: "general", MessageID: "3", Content: "another message long enough to index", Timestamp: time.Now()},
	}}
	emb := &fakeEmbedder{vectors: map[string][]float32{}}

	ix := NewIndexer(discardLogger(), store, emb, src, nil, time.Minute, 20)
	ix.Cycle(context.Background())

	n, err := store.Count("general")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("count = %d, want 2 (short message skipped)", n)
	}

	// A second cycle over the same source indexes nothing new.
	ix.Cycle(context.Background())
	n, _ = store.Count("general")
	if n != 2 {
		t.Errorf("count after re-cycle = %d, want 2", n)
	}
}

func TestIndexerEmbedFailureRetriedNextCycle(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	store, err := NewStore(db, 10)
	if err != nil {
		t.Fatal(err)
	}

	src := &fakeSource{msgs: []SourceMessage{
		{Channel: "general", MessageID: "1", Content: "a message long enough to index", Timestamp: time.Now()},
	}}
	emb := &fakeEmbedder{err: fmt.Errorf("provider down")}

	ix := NewIndexer(discardLogger(), store, emb, src, nil, time.Minute, 20)
	ix.Cycle(context.Background())

	n, _ := store.Count("general")
	if n != 0 {
		t.Fatalf("count = %d, want 0 after embed failure", n)
	}

	// Provider recovers; the next cycle picks the message up.
	emb.err = nil
	ix.Cycle(context.Background())
	n, _ = store.Count("general")
	if n != 1 {
		t.Errorf("count = %d, want 1 after retry", n)
	}
}

func TestNeedsSearch(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"what did we decide about the cache?", true},
		{"remember my birthday is in June", true},
		{"we discussed this last week", true},
		{"you mentioned a plumber", true},
		{"three days ago something happened", true},
		{"turn on the lights", false},
		{"hello there", false},
		{"the dragon hoards gold", false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := NeedsSearch(tt.text); got != tt.want {
				t.Errorf("NeedsSearch(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}
