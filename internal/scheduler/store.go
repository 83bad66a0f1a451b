package scheduler

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store persists tasks and their firing ledger in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore creates the task store and runs migrations.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate scheduler store: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tasks (
			id            TEXT PRIMARY KEY,
			name          TEXT NOT NULL,
			kind          TEXT NOT NULL,
			schedule      TEXT NOT NULL,
			payload       TEXT NOT NULL,
			enabled       INTEGER NOT NULL DEFAULT 1,
			last_fired_at TEXT,
			created_at    TEXT NOT NULL,
			created_by    TEXT NOT NULL DEFAULT '',
			updated_at    TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS firings (
			id           TEXT PRIMARY KEY,
			task_id      TEXT NOT NULL,
			due_at       TEXT NOT NULL,
			started_at   TEXT,
			completed_at TEXT,
			status       TEXT NOT NULL,
			result       TEXT NOT NULL DEFAULT '',
			UNIQUE(task_id, due_at)
		);
		CREATE INDEX IF NOT EXISTS idx_firings_task ON firings(task_id, due_at);
	`)
	return err
}

// NewID returns a UUIDv7 for new tasks and firings.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// CreateTask inserts a new task. Missing ID and timestamps are filled
// in.
func (s *Store) CreateTask(t *Task) error {
	if t.ID == "" {
		t.ID = NewID()
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	schedule, err := json.Marshal(t.Schedule)
	if err != nil {
		return fmt.Errorf("marshal schedule: %w", err)
	}
	payload, err := json.Marshal(t.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO tasks (id, name, kind, schedule, payload, enabled, last_fired_at, created_at, created_by, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, string(t.Kind), string(schedule), string(payload),
		boolToInt(t.Enabled), timePtrString(t.LastFiredAt),
		t.CreatedAt.Format(time.RFC3339Nano), t.CreatedBy,
		t.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetTask loads one task by ID.
func (s *Store) GetTask(id string) (*Task, error) {
	row := s.db.QueryRow(`
		SELECT id, name, kind, schedule, payload, enabled, last_fired_at, created_at, created_by, updated_at
		FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// ListTasks returns tasks, optionally restricted to enabled ones,
// oldest first.
func (s *Store) ListTasks(enabledOnly bool) ([]*Task, error) {
	query := `
		SELECT id, name, kind, schedule, payload, enabled, last_fired_at, created_at, created_by, updated_at
		FROM tasks`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// UpdateTask persists the mutable fields of a task.
func (s *Store) UpdateTask(t *Task) error {
	t.UpdatedAt = time.Now().UTC()

	schedule, err := json.Marshal(t.Schedule)
	if err != nil {
		return fmt.Errorf("marshal schedule: %w", err)
	}
	payload, err := json.Marshal(t.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	res, err := s.db.Exec(`
		UPDATE tasks SET name = ?, kind = ?, schedule = ?, payload = ?, enabled = ?, last_fired_at = ?, updated_at = ?
		WHERE id = ?`,
		t.Name, string(t.Kind), string(schedule), string(payload),
		boolToInt(t.Enabled), timePtrString(t.LastFiredAt),
		t.UpdatedAt.Format(time.RFC3339Nano), t.ID)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s not found", t.ID)
	}
	return nil
}

// DeleteTask removes a task and its firing history.
func (s *Store) DeleteTask(id string) error {
	res, err := s.db.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s not found", id)
	}
	if _, err := s.db.Exec(`DELETE FROM firings WHERE task_id = ?`, id); err != nil {
		return fmt.Errorf("delete firings: %w", err)
	}
	return nil
}

// HasFiring reports whether a firing exists for the exact (task, due
// instant) pair, regardless of status.
func (s *Store) HasFiring(taskID string, dueAt time.Time) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM firings WHERE task_id = ? AND due_at = ?`,
		taskID, dueAt.UTC().Format(time.RFC3339Nano)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check firing: %w", err)
	}
	return n > 0, nil
}

// CreateFiring inserts a firing claim. The unique (task_id, due_at)
// constraint makes the insert the race arbiter: whoever fails the
// insert does not execute.
func (s *Store) CreateFiring(f *Firing) error {
	if f.ID == "" {
		f.ID = NewID()
	}
	_, err := s.db.Exec(`
		INSERT INTO firings (id, task_id, due_at, started_at, completed_at, status, result)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.TaskID, f.DueAt.UTC().Format(time.RFC3339Nano),
		timePtrString(f.StartedAt), timePtrString(f.CompletedAt),
		string(f.Status), f.Result)
	if err != nil {
		return fmt.Errorf("insert firing: %w", err)
	}
	return nil
}

// UpdateFiring records the outcome of a claimed firing.
func (s *Store) UpdateFiring(f *Firing) error {
	_, err := s.db.Exec(`
		UPDATE firings SET started_at = ?, completed_at = ?, status = ?, result = ?
		WHERE id = ?`,
		timePtrString(f.StartedAt), timePtrString(f.CompletedAt),
		string(f.Status), f.Result, f.ID)
	if err != nil {
		return fmt.Errorf("update firing: %w", err)
	}
	return nil
}

// ListFirings returns the firing history for a task, newest first.
func (s *Store) ListFirings(taskID string, limit int) ([]*Firing, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, task_id, due_at, started_at, completed_at, status, result
		FROM firings WHERE task_id = ? ORDER BY due_at DESC LIMIT ?`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("list firings: %w", err)
	}
	defer rows.Close()

	var firings []*Firing
	for rows.Next() {
		f, err := scanFiring(rows)
		if err != nil {
			return nil, fmt.Errorf("scan firing: %w", err)
		}
		firings = append(firings, f)
	}
	return firings, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	var kind, schedule, payload string
	var enabled int
	var lastFired sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&t.ID, &t.Name, &kind, &schedule, &payload, &enabled, &lastFired, &createdAt, &t.CreatedBy, &updatedAt)
	if err != nil {
		return nil, err
	}

	t.Kind = TaskKind(kind)
	t.Enabled = enabled != 0
	if err := json.Unmarshal([]byte(schedule), &t.Schedule); err != nil {
		return nil, fmt.Errorf("unmarshal schedule: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), &t.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if t.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if lastFired.Valid && lastFired.String != "" {
		ts, err := time.Parse(time.RFC3339Nano, lastFired.String)
		if err != nil {
			return nil, fmt.Errorf("parse last_fired_at: %w", err)
		}
		t.LastFiredAt = &ts
	}
	return &t, nil
}

func scanFiring(row rowScanner) (*Firing, error) {
	var f Firing
	var dueAt, status string
	var started, completed sql.NullString

	err := row.Scan(&f.ID, &f.TaskID, &dueAt, &started, &completed, &status, &f.Result)
	if err != nil {
		return nil, err
	}

	f.Status = FiringStatus(status)
	if f.DueAt, err = time.Parse(time.RFC3339Nano, dueAt); err != nil {
		return nil, fmt.Errorf("parse due_at: %w", err)
	}
	if started.Valid && started.String != "" {
		ts, err := time.Parse(time.RFC3339Nano, started.String)
		if err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		f.StartedAt = &ts
	}
	if completed.Valid && completed.String != "" {
		ts, err := time.Parse(time.RFC3339Nano, completed.String)
		if err != nil {
			return nil, fmt.Errorf("parse completed_at: %w", err)
		}
		f.CompletedAt = &ts
	}
	return &f, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timePtrString(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
