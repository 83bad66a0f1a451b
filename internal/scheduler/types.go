// Package scheduler fires reminders and recurring actions from a
// durable task ledger. A periodic tick scans for due tasks; a firings
// table keyed by (task, due instant) makes delivery at-most-once even
// across restarts.
package scheduler

import "time"

// TaskKind distinguishes one-shot reminders from recurring tasks.
type TaskKind string

const (
	// KindReminder fires once at its scheduled time, then disables.
	KindReminder TaskKind = "reminder"
	// KindRecurring fires on an interval until cancelled.
	KindRecurring TaskKind = "recurring"
)

// Task is the definition of a scheduled action.
type Task struct {
	ID          string     `json:"id"` // UUIDv7
	Name        string     `json:"name"`
	Kind        TaskKind   `json:"kind"`
	Schedule    Schedule   `json:"schedule"`
	Payload     Payload    `json:"payload"`
	Enabled     bool       `json:"enabled"`
	LastFiredAt *time.Time `json:"last_fired_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CreatedBy   string     `json:"created_by"` // Conversation or user ID
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Schedule defines when a task should run.
type Schedule struct {
	Kind  ScheduleKind `json:"kind"`
	At    *time.Time   `json:"at,omitempty"`    // For "at" kind
	Every *Duration    `json:"every,omitempty"` // For "every" kind
}

// ScheduleKind identifies the schedule type.
type ScheduleKind string

const (
	ScheduleAt    ScheduleKind = "at"    // One-shot at specific time
	ScheduleEvery ScheduleKind = "every" // Recurring interval
)

// Duration wraps time.Duration for JSON serialization.
type Duration struct {
	time.Duration
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

// Payload defines what action to take when a task fires.
type Payload struct {
	Kind   PayloadKind    `json:"kind"`
	Target string         `json:"target,omitempty"` // Conversation ID
	Data   map[string]any `json:"data,omitempty"`   // Kind-specific data
}

// PayloadKind identifies the payload type.
type PayloadKind string

const (
	// PayloadWake re-enters the agent loop with a message.
	PayloadWake PayloadKind = "wake"
	// PayloadNotify delivers text straight to the transport sink.
	PayloadNotify PayloadKind = "notify"
)

// Firing records one delivery attempt for a (task, due instant) pair.
// The UNIQUE constraint on that pair is what enforces at-most-once: a
// pre-existing row, whatever its status, suppresses re-execution of
// the same instant.
type Firing struct {
	ID          string       `json:"id"` // UUIDv7
	TaskID      string       `json:"task_id"`
	DueAt       time.Time    `json:"due_at"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Status      FiringStatus `json:"status"`
	Result      string       `json:"result,omitempty"`
}

// FiringStatus indicates the state of a firing.
type FiringStatus string

const (
	// FiringPending is the claim written before execution. A pending
	// row surviving a crash means the instant is consumed: missed,
	// never duplicated.
	FiringPending   FiringStatus = "pending"
	FiringCompleted FiringStatus = "completed"
	FiringFailed    FiringStatus = "failed"
)

// DueAt returns the trigger instant the task owes a firing for, if its
// schedule has elapsed by now. For recurring tasks that missed several
// intervals, only the most recent elapsed instant is owed.
func (t *Task) DueAt(now time.Time) (time.Time, bool) {
	switch t.Schedule.Kind {
	case ScheduleAt:
		if t.Schedule.At == nil || t.LastFiredAt != nil {
			return time.Time{}, false
		}
		if t.Schedule.At.After(now) {
			return time.Time{}, false
		}
		return *t.Schedule.At, true

	case ScheduleEvery:
		if t.Schedule.Every == nil || t.Schedule.Every.Duration <= 0 {
			return time.Time{}, false
		}
		base := t.CreatedAt
		if t.LastFiredAt != nil {
			base = *t.LastFiredAt
		}
		interval := t.Schedule.Every.Duration
		elapsed := now.Sub(base)
		if elapsed < interval {
			return time.Time{}, false
		}
		intervals := int64(elapsed / interval)
		return base.Add(time.Duration(intervals) * interval), true

	default:
		return time.Time{}, false
	}
}
