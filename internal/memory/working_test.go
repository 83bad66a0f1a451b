package memory

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestWorkingSetGet(t *testing.T) {
	s, err := NewWorkingStore(newTestDB(t))
	if err != nil {
		t.Fatalf("NewWorkingStore: %v", err)
	}

	if err := s.Set("conv", "topic", "kitchen renovation"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := s.Get("conv", "topic")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "kitchen renovation" {
		t.Errorf("Get = %q, want kitchen renovation", got)
	}
}

func TestWorkingSetReplaces(t *testing.T) {
	s, err := NewWorkingStore(newTestDB(t))
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Set("conv", "topic", "old"); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("conv", "topic", "new"); err != nil {
		t.Fatal(err)
	}

	notes, err := s.List("conv")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(notes) != 1 {
		t.Fatalf("len = %d, want 1 (replace, not duplicate)", len(notes))
	}
	if notes[0].Value != "new" {
		t.Errorf("value = %q, want new", notes[0].Value)
	}
}

func TestWorkingGetMissing(t *testing.T) {
	s, err := NewWorkingStore(newTestDB(t))
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.Get("conv", "nothing")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "" {
		t.Errorf("Get = %q, want empty", got)
	}
}

func TestWorkingClear(t *testing.T) {
	s, err := NewWorkingStore(newTestDB(t))
	if err != nil {
		t.Fatal(err)
	}

	_ = s.Set("conv", "a", "1")
	_ = s.Set("conv", "b", "2")
	_ = s.Set("other", "a", "keep")

	if err := s.Clear("conv"); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	notes, _ := s.List("conv")
	if len(notes) != 0 {
		t.Errorf("cleared conversation has %d notes", len(notes))
	}
	other, _ := s.List("other")
	if len(other) != 1 {
		t.Errorf("other conversation lost notes")
	}
}
