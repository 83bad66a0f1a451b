package memory

import (
	"fmt"
	"testing"
)

func TestSessionRingBound(t *testing.T) {
	s := NewSessionStore(3)
	for i := 0; i < 5; i++ {
		s.Append("conv", "user", fmt.Sprintf("message %d", i))
	}

	turns := s.Turns("conv")
	if len(turns) != 3 {
		t.Fatalf("len = %d, want 3", len(turns))
	}
	if turns[0].Content != "message 2" {
		t.Errorf("oldest retained = %q, want message 2", turns[0].Content)
	}
	if turns[2].Content != "message 4" {
		t.Errorf("newest = %q, want message 4", turns[2].Content)
	}
}

func TestSessionRecentOrder(t *testing.T) {
	s := NewSessionStore(10)
	s.Append("conv", "user", "first")
	s.Append("conv", "assistant", "second")
	s.Append("conv", "user", "third")

	recent := s.Recent("conv", 2)
	if len(recent) != 2 {
		t.Fatalf("len = %d, want 2", len(recent))
	}
	if recent[0].Content != "second" || recent[1].Content != "third" {
		t.Errorf("recent = %q, %q; want second, third", recent[0].Content, recent[1].Content)
	}
}

func TestSessionRecentMoreThanAvailable(t *testing.T) {
	s := NewSessionStore(10)
	s.Append("conv", "user", "only")

	recent := s.Recent("conv", 5)
	if len(recent) != 1 {
		t.Fatalf("len = %d, want 1", len(recent))
	}
}

func TestSessionClear(t *testing.T) {
	s := NewSessionStore(10)
	s.Append("conv", "user", "hello")
	s.Clear("conv")

	if got := s.Turns("conv"); len(got) != 0 {
		t.Errorf("turns after clear = %d, want 0", len(got))
	}
}

func TestSessionConversationsIsolated(t *testing.T) {
	s := NewSessionStore(10)
	s.Append("a", "user", "for a")
	s.Append("b", "user", "for b")

	if got := s.Turns("a"); len(got) != 1 || got[0].Content != "for a" {
		t.Errorf("conversation a polluted: %+v", got)
	}
}
