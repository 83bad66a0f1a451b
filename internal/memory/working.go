package memory

import (
	"database/sql"
	"fmt"
	"time"
)

// WorkingStore persists keyed working notes per conversation. Notes
// capture in-flight context the session transcript alone loses track
// of: open threads, agreed terminology, short-lived decisions. The
// table shares the main SQLite database.
type WorkingStore struct {
	db *sql.DB
}

// Note is one working-memory entry.
type Note struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewWorkingStore creates a working note store using the given database
// connection. It creates the working_notes table if it does not
// already exist.
func NewWorkingStore(db *sql.DB) (*WorkingStore, error) {
	s := &WorkingStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("working notes migration: %w", err)
	}
	return s, nil
}

func (s *WorkingStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS working_notes (
			conversation_id TEXT NOT NULL,
			key             TEXT NOT NULL,
			value           TEXT NOT NULL,
			updated_at      TEXT NOT NULL,
			PRIMARY KEY (conversation_id, key)
		)
	`)
	return err
}

// Set writes or replaces a note for a conversation.
func (s *WorkingStore) Set(conversationID, key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO working_notes (conversation_id, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(conversation_id, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, conversationID, key, value, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("set working note: %w", err)
	}
	return nil
}

// Get returns a note's value. If no note exists, it returns an empty
// string with no error.
func (s *WorkingStore) Get(conversationID, key string) (string, error) {
	var value string
	err := s.db.QueryRow(`
		SELECT value FROM working_notes
		WHERE conversation_id = ? AND key = ?
	`, conversationID, key).Scan(&value)

	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get working note: %w", err)
	}
	return value, nil
}

// List returns all notes for a conversation, most recently updated first.
func (s *WorkingStore) List(conversationID string) ([]Note, error) {
	rows, err := s.db.Query(`
		SELECT key, value, updated_at FROM working_notes
		WHERE conversation_id = ?
		ORDER BY updated_at DESC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list working notes: %w", err)
	}
	defer rows.Close()

	var notes []Note
	for rows.Next() {
		var n Note
		var updatedAt string
		if err := rows.Scan(&n.Key, &n.Value, &updatedAt); err != nil {
			return nil, err
		}
		n.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// Delete removes a note.
func (s *WorkingStore) Delete(conversationID, key string) error {
	_, err := s.db.Exec(`
		DELETE FROM working_notes WHERE conversation_id = ? AND key = ?
	`, conversationID, key)
	if err != nil {
		return fmt.Errorf("delete working note: %w", err)
	}
	return nil
}

// Clear removes all notes for a conversation.
func (s *WorkingStore) Clear(conversationID string) error {
	_, err := s.db.Exec(`
		DELETE FROM working_notes WHERE conversation_id = ?
	`, conversationID)
	if err != nil {
		return fmt.Errorf("clear working notes: %w", err)
	}
	return nil
}
