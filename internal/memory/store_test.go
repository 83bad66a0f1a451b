package memory

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()

	dir := t.TempDir()
	db, err := sql.Open("sqlite", filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	working, err := NewWorkingStore(db)
	if err != nil {
		t.Fatalf("NewWorkingStore: %v", err)
	}
	durable, err := NewDurableStore(filepath.Join(dir, "memory"))
	if err != nil {
		t.Fatalf("NewDurableStore: %v", err)
	}
	profile, err := NewProfileStore(filepath.Join(dir, "profile"))
	if err != nil {
		t.Fatalf("NewProfileStore: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := NewStore(logger, NewSessionStore(50), working, durable, profile, 10, 2000)
	return store, dir
}

func TestRecallBudgetNeverExceeded(t *testing.T) {
	store, _ := newTestStore(t)
	for i := 0; i < 12; i++ {
		store.Session().Append("conv", "user", strings.Repeat("long conversation turn ", 10))
	}

	for _, budget := range []int{30, 100, 300, 1000} {
		got, err := store.Recall(context.Background(), RecallQuery{
			ConversationID: "conv",
			Query:          "anything",
			Kind:           KindDirect,
			Budget:         budget,
		})
		if err != nil {
			t.Fatalf("Recall(budget=%d): %v", budget, err)
		}
		if got.Size() > budget {
			t.Errorf("Size = %d exceeds budget %d", got.Size(), budget)
		}
	}
}

func TestRecallIncludesRecentTurns(t *testing.T) {
	store, _ := newTestStore(t)
	for i := 0; i < 15; i++ {
		store.Session().Append("conv", "user", fmt.Sprintf("turn number %02d", i))
	}

	got, err := store.Recall(context.Background(), RecallQuery{
		ConversationID: "conv",
		Kind:           KindDirect,
		Budget:         2000,
	})
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}

	if len(got.Turns) != 10 {
		t.Fatalf("turns = %d, want 10", len(got.Turns))
	}
	if got.Turns[0].Content != "turn number 05" {
		t.Errorf("oldest included = %q, want turn number 05", got.Turns[0].Content)
	}
	if got.Turns[9].Content != "turn number 14" {
		t.Errorf("newest = %q, want turn number 14", got.Turns[9].Content)
	}
}

// Twelve session turns plus one relevant durable fact: recall returns
// the ten most recent turns and the matching fact with room to spare.
func TestRecallTurnsPlusLongTermMatch(t *testing.T) {
	store, _ := newTestStore(t)
	for i := 0; i < 12; i++ {
		store.Session().Append("conv", "user", fmt.Sprintf("turn number %02d of this chat", i))
	}
	if err := store.Durable().Remember("Projects", "decided to use sqlite for the cache layer"); err != nil {
		t.Fatal(err)
	}
	if err := store.Durable().Remember("Preferences", "likes green tea"); err != nil {
		t.Fatal(err)
	}

	got, err := store.Recall(context.Background(), RecallQuery{
		ConversationID: "conv",
		Query:          "what did we decide about the cache layer",
		Kind:           KindDirect,
		Budget:         500,
	})
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}

	if len(got.Turns) != 10 {
		t.Errorf("turns = %d, want 10", len(got.Turns))
	}
	if got.Turns[0].Content != "turn number 02 of this chat" {
		t.Errorf("oldest included = %q", got.Turns[0].Content)
	}
	if len(got.LongTerm) != 1 {
		t.Fatalf("long-term matches = %d, want 1", len(got.LongTerm))
	}
	if !strings.Contains(got.LongTerm[0].Text, "cache layer") {
		t.Errorf("long-term match = %q", got.LongTerm[0].Text)
	}
	if got.Truncated {
		t.Error("Truncated = true, want false")
	}
	if got.Size() > 500 {
		t.Errorf("Size = %d exceeds budget", got.Size())
	}
}

func TestRecallMultiPartyExcludesPersonalMemory(t *testing.T) {
	store, dir := newTestStore(t)
	store.Session().Append("group", "user", "talking about the cache layer")
	if err := store.Durable().Remember("Projects", "decided to use sqlite for the cache layer"); err != nil {
		t.Fatal(err)
	}
	if err := store.Durable().AppendDaily("discussed the cache layer"); err != nil {
		t.Fatal(err)
	}

	profileDir := filepath.Join(dir, "profile")
	userDoc := "# User\n\n## Cache project\n\nleads the cache layer rewrite\n"
	toolsDoc := "# Tools\n\n## Cache queries\n\nprefer the cache inspection tool\n"
	if err := os.WriteFile(filepath.Join(profileDir, "USER.md"), []byte(userDoc), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(profileDir, "TOOLS.md"), []byte(toolsDoc), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := store.Recall(context.Background(), RecallQuery{
		ConversationID: "group",
		Query:          "cache layer status",
		Kind:           KindMultiParty,
		Budget:         2000,
	})
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}

	if len(got.LongTerm) != 0 {
		t.Errorf("durable entries leaked into multi-party recall: %+v", got.LongTerm)
	}
	if len(got.Daily) != 0 {
		t.Errorf("daily entries leaked into multi-party recall: %+v", got.Daily)
	}
	for _, e := range got.Profile {
		if strings.HasPrefix(e.Category, "USER/") {
			t.Errorf("user profile leaked into multi-party recall: %+v", e)
		}
	}

	// The same query in a direct conversation sees all of it.
	direct, err := store.Recall(context.Background(), RecallQuery{
		ConversationID: "group",
		Query:          "cache layer status",
		Kind:           KindDirect,
		Budget:         2000,
	})
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(direct.LongTerm) == 0 {
		t.Error("direct recall missing durable entry")
	}
	foundUser := false
	for _, e := range direct.Profile {
		if strings.HasPrefix(e.Category, "USER/") {
			foundUser = true
		}
	}
	if !foundUser {
		t.Error("direct recall missing user profile section")
	}
}

func TestRecallDegradesOnLayerFailure(t *testing.T) {
	dir := t.TempDir()
	db, err := sql.Open("sqlite", filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatal(err)
	}

	working, err := NewWorkingStore(db)
	if err != nil {
		t.Fatal(err)
	}
	durable, err := NewDurableStore(filepath.Join(dir, "memory"))
	if err != nil {
		t.Fatal(err)
	}
	profile, err := NewProfileStore(filepath.Join(dir, "profile"))
	if err != nil {
		t.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := NewStore(logger, NewSessionStore(50), working, durable, profile, 10, 2000)
	store.Session().Append("conv", "user", "hello there")

	// Closing the database fails the working layer; recall must still
	// return the session contribution.
	db.Close()

	got, err := store.Recall(context.Background(), RecallQuery{
		ConversationID: "conv",
		Kind:           KindDirect,
		Budget:         2000,
	})
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(got.Turns) != 1 {
		t.Errorf("turns = %d, want 1", len(got.Turns))
	}
	if len(got.Notes) != 0 {
		t.Errorf("notes = %d, want 0", len(got.Notes))
	}
}

func TestWriteFailureSurfaced(t *testing.T) {
	store, _ := newTestStore(t)
	if err := store.Write(LayerDurable, Entry{Category: "Notes", Text: ""}); err == nil {
		t.Error("expected error for empty durable write")
	}
	if err := store.Write(LayerProfile, Entry{Category: "x", Text: "y"}); err == nil {
		t.Error("expected error for profile write")
	}
}

func TestClearConversation(t *testing.T) {
	store, _ := newTestStore(t)
	store.Session().Append("conv", "user", "hello")
	if err := store.Working().Set("conv", "topic", "x"); err != nil {
		t.Fatal(err)
	}

	if err := store.Clear("conv"); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	got, err := store.Recall(context.Background(), RecallQuery{
		ConversationID: "conv",
		Kind:           KindDirect,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Turns) != 0 || len(got.Notes) != 0 {
		t.Errorf("conversation state survived Clear: %+v", got)
	}
}
