package rag

import (
	"context"
	"testing"

	"github.com/pentland/scribe/internal/memory"
)

func TestSessionSourceSkipsToolTurns(t *testing.T) {
	session := memory.NewSessionStore(10)
	session.Append("c1", "user", "let's plan the launch for early october")
	session.Append("c1", "assistant", "noted, I'll draft a checklist for the launch")
	session.Append("c1", "tool", "set_note: Note \"topic\" set.")
	session.Append("c2", "user", "unrelated conversation about gardening tips")

	src := NewSessionSource(session)
	msgs, err := src.RecentMessages(context.Background())
	if err != nil {
		t.Fatalf("recent messages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want 3 (tool turn skipped)", len(msgs))
	}

	channels := map[string]int{}
	for _, m := range msgs {
		if m.MessageID == "" {
			t.Error("empty message id")
		}
		if m.Author == "tool" {
			t.Error("tool turn leaked")
		}
		channels[m.Channel]++
	}
	if channels["c1"] != 2 || channels["c2"] != 1 {
		t.Errorf("channels = %v", channels)
	}
}

func TestSessionSourceStableIDs(t *testing.T) {
	session := memory.NewSessionStore(10)
	session.Append("c1", "user", "a message that is long enough to index")

	src := NewSessionSource(session)
	first, err := src.RecentMessages(context.Background())
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := src.RecentMessages(context.Background())
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first[0].MessageID != second[0].MessageID {
		t.Errorf("ids differ across cycles: %q vs %q", first[0].MessageID, second[0].MessageID)
	}
}
